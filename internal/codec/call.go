package codec

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"PodLedger/internal/types"
)

// NamedValue binds a field name to a value in the wasm call interface.
type NamedValue struct {
	Name  string      // Name is the field name
	Value types.Value // Value is the field value
}

// CallInput is passed to a wasm-backed method.
type CallInput struct {
	Method   string                  // Method is the exported function name
	Caller   types.StorageReference  // Caller is the account running the transaction
	Receiver *types.StorageReference // Receiver is nil for static methods
	Fields   []NamedValue            // Fields are the eager fields of the receiver
	Actuals  []types.Value           // Actuals are the actual arguments
}

// CallOutput is produced by a wasm-backed method.
type CallOutput struct {
	Result           types.Value  // Result is nil for void methods
	Writes           []NamedValue // Writes are the receiver fields to update
	ExceptionClass   string       // ExceptionClass is set if the code threw
	ExceptionMessage string       // ExceptionMessage describes the exception
}

const (
	namedName = iota
	namedValue
	namedSlots
)

const (
	inMethod = iota
	inCaller
	inReceiver
	inFields
	inActuals
	inSlots
)

const (
	outResult = iota
	outWrites
	outExceptionClass
	outExceptionMessage
	outSlots
)

// buildNamed serializes a vector of named values.
func buildNamed(b *flatbuffers.Builder, nvs []NamedValue) flatbuffers.UOffsetT {
	offs := make([]flatbuffers.UOffsetT, len(nvs))

	for i, nv := range nvs {
		name := b.CreateString(nv.Name)
		value := buildValue(b, nv.Value)

		b.StartObject(namedSlots)
		b.PrependUOffsetTSlot(namedName, name, 0)
		b.PrependUOffsetTSlot(namedValue, value, 0)
		offs[i] = b.EndObject()
	}

	return createOffsets(b, offs)
}

// readNamed decodes a vector of named values.
func readNamed(ts []table) ([]NamedValue, error) {
	out := make([]NamedValue, 0, len(ts))

	for _, t := range ts {
		vtab, ok := t.sub(namedValue)
		if !ok {
			return nil, fmt.Errorf("%w: field %q without value", ErrMalformed, t.str(namedName))
		}

		v, err := readValue(vtab)
		if err != nil {
			return nil, err
		}

		out = append(out, NamedValue{Name: t.str(namedName), Value: v})
	}

	return out, nil
}

// EncodeCallInput serializes the input of a wasm call.
func EncodeCallInput(in *CallInput) []byte {
	b := flatbuffers.NewBuilder(256)

	method := b.CreateString(in.Method)
	caller := b.CreateByteVector(in.Caller.Bytes())
	fields := buildNamed(b, in.Fields)
	actuals := buildValues(b, in.Actuals)

	var receiver flatbuffers.UOffsetT
	if in.Receiver != nil {
		receiver = b.CreateByteVector(in.Receiver.Bytes())
	}

	b.StartObject(inSlots)
	b.PrependUOffsetTSlot(inMethod, method, 0)
	b.PrependUOffsetTSlot(inCaller, caller, 0)
	if receiver != 0 {
		b.PrependUOffsetTSlot(inReceiver, receiver, 0)
	}
	b.PrependUOffsetTSlot(inFields, fields, 0)
	b.PrependUOffsetTSlot(inActuals, actuals, 0)
	b.Finish(b.EndObject())

	return b.FinishedBytes()
}

// DecodeCallInput deserializes the input of a wasm call.
func DecodeCallInput(buf []byte) (in *CallInput, err error) {
	defer recoverMalformed(&err)

	t, err := rootTable(buf)
	if err != nil {
		return nil, err
	}

	in = &CallInput{Method: t.str(inMethod)}

	if in.Caller, err = t.storage(inCaller); err != nil {
		return nil, err
	}

	if t.has(inReceiver) {
		receiver, err := t.storage(inReceiver)
		if err != nil {
			return nil, err
		}
		in.Receiver = &receiver
	}

	if in.Fields, err = readNamed(t.subs(inFields)); err != nil {
		return nil, err
	}

	if in.Actuals, err = readValues(t.subs(inActuals)); err != nil {
		return nil, err
	}

	return in, nil
}

// EncodeCallOutput serializes the output of a wasm call.
func EncodeCallOutput(out *CallOutput) []byte {
	b := flatbuffers.NewBuilder(128)

	writes := buildNamed(b, out.Writes)
	exClass := b.CreateString(out.ExceptionClass)
	exMessage := b.CreateString(out.ExceptionMessage)

	var result flatbuffers.UOffsetT
	if out.Result != nil {
		result = buildValue(b, out.Result)
	}

	b.StartObject(outSlots)
	if result != 0 {
		b.PrependUOffsetTSlot(outResult, result, 0)
	}
	b.PrependUOffsetTSlot(outWrites, writes, 0)
	b.PrependUOffsetTSlot(outExceptionClass, exClass, 0)
	b.PrependUOffsetTSlot(outExceptionMessage, exMessage, 0)
	b.Finish(b.EndObject())

	return b.FinishedBytes()
}

// DecodeCallOutput deserializes the output of a wasm call. An empty output
// stands for a void method that wrote nothing.
func DecodeCallOutput(buf []byte) (out *CallOutput, err error) {
	if len(buf) == 0 {
		return &CallOutput{}, nil
	}

	defer recoverMalformed(&err)

	t, err := rootTable(buf)
	if err != nil {
		return nil, err
	}

	out = &CallOutput{ExceptionClass: t.str(outExceptionClass), ExceptionMessage: t.str(outExceptionMessage)}

	if rt, ok := t.sub(outResult); ok {
		if out.Result, err = readValue(rt); err != nil {
			return nil, err
		}
	}

	if out.Writes, err = readNamed(t.subs(outWrites)); err != nil {
		return nil, err
	}

	return out, nil
}
