package codec

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/zeebo/blake3"

	"PodLedger/internal/types"
)

// Request table slots.
const (
	reqKind = iota
	reqCaller
	reqGasLimit
	reqClasspath
	reqNonce
	reqChainID
	reqGasPrice
	reqSignature
	reqJar
	reqDependencies
	reqClass
	reqName
	reqFormals
	reqReturns
	reqReceiver
	reqActuals
	reqInitialAmount
	reqPublicKey
	reqManifest
	reqSlots
)

// EncodeRequest serializes a request.
func EncodeRequest(r types.Request) []byte {
	return encodeRequest(r, true)
}

// SignedBytes returns the bytes covered by the signature of a request: its
// encoding without the signature.
func SignedBytes(r types.Request) []byte {
	return encodeRequest(r, false)
}

// ReferenceOf returns the reference of the transaction executing r.
func ReferenceOf(r types.Request) types.TransactionReference {
	return types.TransactionReference(blake3.Sum256(EncodeRequest(r)))
}

// encodeRequest serializes r, with or without its signature.
func encodeRequest(r types.Request, withSignature bool) []byte {
	b := flatbuffers.NewBuilder(256)

	slots := map[int]flatbuffers.UOffsetT{}
	bytesSlot := func(slot int, v []byte) { slots[slot] = b.CreateByteVector(v) }
	stringSlot := func(slot int, v string) { slots[slot] = b.CreateString(v) }

	if nr, ok := r.(types.NonInitialRequest); ok {
		c := nr.Common()
		bytesSlot(reqCaller, c.Caller.Bytes())
		stringSlot(reqGasLimit, bigString(c.GasLimit))
		bytesSlot(reqClasspath, c.Classpath[:])
		stringSlot(reqNonce, bigString(c.Nonce))
		stringSlot(reqChainID, c.ChainID)
		stringSlot(reqGasPrice, bigString(c.GasPrice))

		if withSignature && len(c.Signature) > 0 {
			bytesSlot(reqSignature, c.Signature)
		}
	}

	method := func(m types.MethodSignature) {
		stringSlot(reqClass, m.Class)
		stringSlot(reqName, m.Name)
		slots[reqFormals] = createStrings(b, m.Formals)
		stringSlot(reqReturns, m.Returns)
	}

	switch req := r.(type) {
	case *types.JarStoreInitialRequest:
		bytesSlot(reqJar, req.Jar)
		bytesSlot(reqDependencies, joinTransactions(req.Dependencies))
	case *types.GameteCreationRequest:
		bytesSlot(reqClasspath, req.Classpath[:])
		stringSlot(reqInitialAmount, bigString(req.InitialAmount))
		stringSlot(reqPublicKey, req.PublicKey)
	case *types.InitializationRequest:
		bytesSlot(reqClasspath, req.Classpath[:])
		bytesSlot(reqManifest, req.Manifest.Bytes())
	case *types.JarStoreRequest:
		bytesSlot(reqJar, req.Jar)
		bytesSlot(reqDependencies, joinTransactions(req.Dependencies))
	case *types.ConstructorCallRequest:
		stringSlot(reqClass, req.Constructor.Class)
		slots[reqFormals] = createStrings(b, req.Constructor.Formals)
		slots[reqActuals] = buildValues(b, req.Actuals)
	case *types.InstanceMethodCallRequest:
		method(req.Method)
		bytesSlot(reqReceiver, req.Receiver.Bytes())
		slots[reqActuals] = buildValues(b, req.Actuals)
	case *types.StaticMethodCallRequest:
		method(req.Method)
		slots[reqActuals] = buildValues(b, req.Actuals)
	case *types.InstanceSystemMethodCallRequest:
		method(req.Method)
		bytesSlot(reqReceiver, req.Receiver.Bytes())
		slots[reqActuals] = buildValues(b, req.Actuals)
	}

	b.StartObject(reqSlots)
	b.PrependByteSlot(reqKind, byte(r.Kind()), 0)

	// slots are written in a fixed order so that equal requests encode equally
	for slot := 1; slot < reqSlots; slot++ {
		if off, ok := slots[slot]; ok {
			b.PrependUOffsetTSlot(slot, off, 0)
		}
	}

	b.Finish(b.EndObject())

	return b.FinishedBytes()
}

// DecodeRequest deserializes a request encoded by EncodeRequest.
func DecodeRequest(buf []byte) (r types.Request, err error) {
	defer recoverMalformed(&err)

	t, err := rootTable(buf)
	if err != nil {
		return nil, err
	}

	switch kind := types.RequestKind(t.u8(reqKind)); kind {
	case types.KindJarStoreInitialRequest:
		deps, err := t.transactions(reqDependencies)
		if err != nil {
			return nil, err
		}
		return &types.JarStoreInitialRequest{Jar: t.bytes(reqJar), Dependencies: deps}, nil

	case types.KindGameteCreationRequest:
		cp, err := t.transaction(reqClasspath)
		if err != nil {
			return nil, err
		}
		return &types.GameteCreationRequest{Classpath: cp, InitialAmount: t.bigint(reqInitialAmount), PublicKey: t.str(reqPublicKey)}, nil

	case types.KindInitializationRequest:
		cp, err := t.transaction(reqClasspath)
		if err != nil {
			return nil, err
		}
		manifest, err := t.storage(reqManifest)
		if err != nil {
			return nil, err
		}
		return &types.InitializationRequest{Classpath: cp, Manifest: manifest}, nil

	case types.KindJarStoreRequest:
		common, err := readCommon(t)
		if err != nil {
			return nil, err
		}
		deps, err := t.transactions(reqDependencies)
		if err != nil {
			return nil, err
		}
		return &types.JarStoreRequest{NonInitialFields: common, Jar: t.bytes(reqJar), Dependencies: deps}, nil

	case types.KindConstructorCallRequest:
		common, err := readCommon(t)
		if err != nil {
			return nil, err
		}
		actuals, err := readValues(t.subs(reqActuals))
		if err != nil {
			return nil, err
		}
		return &types.ConstructorCallRequest{
			NonInitialFields: common,
			Constructor:      types.ConstructorSignature{Class: t.str(reqClass), Formals: t.strs(reqFormals)},
			Actuals:          actuals,
		}, nil

	case types.KindInstanceMethodCallRequest, types.KindInstanceSystemMethodCallRequest, types.KindStaticMethodCallRequest:
		return readMethodCall(t, kind)

	default:
		return nil, fmt.Errorf("%w: request kind %d", ErrMalformed, kind)
	}
}

// readCommon decodes the fields shared by non-initial requests.
func readCommon(t table) (types.NonInitialFields, error) {
	caller, err := t.storage(reqCaller)
	if err != nil {
		return types.NonInitialFields{}, err
	}

	cp, err := t.transaction(reqClasspath)
	if err != nil {
		return types.NonInitialFields{}, err
	}

	return types.NonInitialFields{
		Caller:    caller,
		GasLimit:  t.bigint(reqGasLimit),
		Classpath: cp,
		Nonce:     t.bigint(reqNonce),
		ChainID:   t.str(reqChainID),
		GasPrice:  t.bigint(reqGasPrice),
		Signature: t.bytes(reqSignature),
	}, nil
}

// readMethodCall decodes the three kinds of method call requests.
func readMethodCall(t table, kind types.RequestKind) (types.Request, error) {
	common, err := readCommon(t)
	if err != nil {
		return nil, err
	}

	actuals, err := readValues(t.subs(reqActuals))
	if err != nil {
		return nil, err
	}

	method := types.MethodSignature{
		Class:   t.str(reqClass),
		Name:    t.str(reqName),
		Formals: t.strs(reqFormals),
		Returns: t.str(reqReturns),
	}

	if kind == types.KindStaticMethodCallRequest {
		return &types.StaticMethodCallRequest{NonInitialFields: common, Method: method, Actuals: actuals}, nil
	}

	receiver, err := t.storage(reqReceiver)
	if err != nil {
		return nil, err
	}

	if kind == types.KindInstanceSystemMethodCallRequest {
		return &types.InstanceSystemMethodCallRequest{NonInitialFields: common, Method: method, Receiver: receiver, Actuals: actuals}, nil
	}

	return &types.InstanceMethodCallRequest{NonInitialFields: common, Method: method, Receiver: receiver, Actuals: actuals}, nil
}
