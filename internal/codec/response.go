package codec

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"PodLedger/internal/types"
)

// Response table slots.
const (
	respKind = iota
	respOutcome
	respJar
	respDependencies
	respVersion
	respUpdates
	respEvents
	respGasCPU
	respGasRAM
	respGasStorage
	respPenalty
	respCauseClass
	respCauseMessage
	respCauseWhere
	respObject
	respResult
	respSlots
)

// EncodeResponse serializes a response.
func EncodeResponse(r types.Response) []byte {
	b := flatbuffers.NewBuilder(256)
	slots := map[int]flatbuffers.UOffsetT{}

	var outcome types.Outcome
	var version uint32

	if nr, ok := r.(types.NonInitialResponse); ok {
		outcome = nr.Result()
		gas := nr.GasConsumed()
		slots[respUpdates] = buildUpdates(b, nr.Updates())
		slots[respGasCPU] = b.CreateString(bigString(gas.CPU))
		slots[respGasRAM] = b.CreateString(bigString(gas.RAM))
		slots[respGasStorage] = b.CreateString(bigString(gas.Storage))
		slots[respPenalty] = b.CreateString(bigString(nr.PenaltyGas()))

		if cause := nr.FailureCause(); cause != nil {
			slots[respCauseClass] = b.CreateString(cause.Class)
			slots[respCauseMessage] = b.CreateString(cause.Message)
			slots[respCauseWhere] = b.CreateString(cause.Where)
		}
	}

	if events := types.EventsOf(r); len(events) > 0 {
		slots[respEvents] = b.CreateByteVector(joinStorages(events))
	}

	switch resp := r.(type) {
	case *types.JarStoreInitialResponse:
		slots[respJar] = b.CreateByteVector(resp.InstrumentedJar)
		slots[respDependencies] = b.CreateByteVector(joinTransactions(resp.Dependencies))
		version = resp.VerificationVersion
	case *types.JarStoreResponse:
		if resp.Outcome == types.Successful {
			slots[respJar] = b.CreateByteVector(resp.InstrumentedJar)
			slots[respDependencies] = b.CreateByteVector(joinTransactions(resp.Dependencies))
			version = resp.VerificationVersion
		}
	case *types.GameteCreationResponse:
		slots[respUpdates] = buildUpdates(b, resp.UpdateList)
		slots[respObject] = b.CreateByteVector(resp.Gamete.Bytes())
	case *types.ConstructorCallResponse:
		if resp.Outcome == types.Successful {
			slots[respObject] = b.CreateByteVector(resp.NewObject.Bytes())
		}
	case *types.MethodCallResponse:
		if resp.ReturnValue != nil {
			slots[respResult] = buildValue(b, resp.ReturnValue)
		}
	}

	b.StartObject(respSlots)
	b.PrependByteSlot(respKind, byte(r.Kind()), 0)
	b.PrependByteSlot(respOutcome, byte(outcome), 0)
	b.PrependUint32Slot(respVersion, version, 0)

	for slot := 0; slot < respSlots; slot++ {
		if off, ok := slots[slot]; ok {
			b.PrependUOffsetTSlot(slot, off, 0)
		}
	}

	b.Finish(b.EndObject())

	return b.FinishedBytes()
}

// DecodeResponse deserializes a response encoded by EncodeResponse.
func DecodeResponse(buf []byte) (r types.Response, err error) {
	defer recoverMalformed(&err)

	t, err := rootTable(buf)
	if err != nil {
		return nil, err
	}

	kind := types.ResponseKind(t.u8(respKind))

	switch kind {
	case types.KindJarStoreInitialResponse:
		deps, err := t.transactions(respDependencies)
		if err != nil {
			return nil, err
		}
		return &types.JarStoreInitialResponse{InstrumentedJar: t.bytes(respJar), Dependencies: deps, VerificationVersion: t.u32(respVersion)}, nil

	case types.KindInitializationResponse:
		return &types.InitializationResponse{}, nil

	case types.KindGameteCreationResponse:
		updates, err := readUpdates(t.subs(respUpdates))
		if err != nil {
			return nil, err
		}
		gamete, err := t.storage(respObject)
		if err != nil {
			return nil, err
		}
		return &types.GameteCreationResponse{UpdateList: updates, Gamete: gamete}, nil
	}

	outcome := types.Outcome(t.u8(respOutcome))

	updates, err := readUpdates(t.subs(respUpdates))
	if err != nil {
		return nil, err
	}

	events, err := t.storages(respEvents)
	if err != nil {
		return nil, err
	}

	gas := types.GasCost{CPU: t.bigint(respGasCPU), RAM: t.bigint(respGasRAM), Storage: t.bigint(respGasStorage)}
	penalty := t.bigint(respPenalty)

	var cause *types.Failure
	if t.has(respCauseClass) {
		cause = &types.Failure{Class: t.str(respCauseClass), Message: t.str(respCauseMessage), Where: t.str(respCauseWhere)}
	}

	switch kind {
	case types.KindJarStoreResponse:
		resp := types.NewJarStoreResponse(outcome, updates, gas, penalty, cause)
		if outcome == types.Successful {
			if resp.Dependencies, err = t.transactions(respDependencies); err != nil {
				return nil, err
			}
			resp.InstrumentedJar = t.bytes(respJar)
			resp.VerificationVersion = t.u32(respVersion)
		}
		return resp, nil

	case types.KindConstructorCallResponse:
		resp := types.NewConstructorCallResponse(outcome, updates, events, gas, penalty, cause)
		if outcome == types.Successful {
			if resp.NewObject, err = t.storage(respObject); err != nil {
				return nil, err
			}
		}
		return resp, nil

	case types.KindMethodCallResponse:
		resp := types.NewMethodCallResponse(outcome, updates, events, gas, penalty, cause)
		if rt, ok := t.sub(respResult); ok {
			if resp.ReturnValue, err = readValue(rt); err != nil {
				return nil, err
			}
		}
		return resp, nil

	default:
		return nil, fmt.Errorf("%w: response kind %d", ErrMalformed, kind)
	}
}
