package codec

import (
	"fmt"
	"sync"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/klauspost/compress/zstd"

	"PodLedger/internal/types"
)

// Jar table slots.
const (
	jarLibrary = iota
	jarModule
	jarClasses
	jarSlots
)

// Class table slots.
const (
	className = iota
	classSuper
	classFields
	classConstructors
	classMethods
	classEnum
	classSlots
)

// Field and code table slots.
const (
	fieldName = iota
	fieldType
	fieldSlots
)

const (
	codeName = iota
	codeFormals
	codeReturns
	codeStatic
	codeView
	codeThrows
	codeSlots
)

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
	coderErr    error
)

// EncodeJar serializes a jar archive.
func EncodeJar(j *types.Jar) []byte {
	b := flatbuffers.NewBuilder(1024)

	classes := make([]flatbuffers.UOffsetT, len(j.Classes))
	for i := range j.Classes {
		classes[i] = buildClass(b, &j.Classes[i])
	}

	classVec := createOffsets(b, classes)
	library := b.CreateString(j.Library)
	module := b.CreateByteVector(j.Module)

	b.StartObject(jarSlots)
	b.PrependUOffsetTSlot(jarLibrary, library, 0)
	b.PrependUOffsetTSlot(jarModule, module, 0)
	b.PrependUOffsetTSlot(jarClasses, classVec, 0)
	b.Finish(b.EndObject())

	return b.FinishedBytes()
}

// buildClass serializes a class definition.
func buildClass(b *flatbuffers.Builder, c *types.ClassDef) flatbuffers.UOffsetT {
	fields := make([]flatbuffers.UOffsetT, len(c.Fields))
	for i, f := range c.Fields {
		name := b.CreateString(f.Name)
		typ := b.CreateString(f.Type)

		b.StartObject(fieldSlots)
		b.PrependUOffsetTSlot(fieldName, name, 0)
		b.PrependUOffsetTSlot(fieldType, typ, 0)
		fields[i] = b.EndObject()
	}

	fieldVec := createOffsets(b, fields)
	ctorVec := buildCodes(b, c.Constructors)
	methodVec := buildCodes(b, c.Methods)
	enumVec := createStrings(b, c.EnumConstants)
	name := b.CreateString(c.Name)
	super := b.CreateString(c.Superclass)

	b.StartObject(classSlots)
	b.PrependUOffsetTSlot(className, name, 0)
	b.PrependUOffsetTSlot(classSuper, super, 0)
	b.PrependUOffsetTSlot(classFields, fieldVec, 0)
	b.PrependUOffsetTSlot(classConstructors, ctorVec, 0)
	b.PrependUOffsetTSlot(classMethods, methodVec, 0)
	b.PrependUOffsetTSlot(classEnum, enumVec, 0)

	return b.EndObject()
}

// buildCodes serializes a vector of constructors or methods.
func buildCodes(b *flatbuffers.Builder, codes []types.CodeDef) flatbuffers.UOffsetT {
	offs := make([]flatbuffers.UOffsetT, len(codes))

	for i, c := range codes {
		name := b.CreateString(c.Name)
		formals := createStrings(b, c.Formals)
		returns := b.CreateString(c.Returns)

		b.StartObject(codeSlots)
		b.PrependUOffsetTSlot(codeName, name, 0)
		b.PrependUOffsetTSlot(codeFormals, formals, 0)
		b.PrependUOffsetTSlot(codeReturns, returns, 0)
		b.PrependBoolSlot(codeStatic, c.Static, false)
		b.PrependBoolSlot(codeView, c.View, false)
		b.PrependBoolSlot(codeThrows, c.Throws, false)
		offs[i] = b.EndObject()
	}

	return createOffsets(b, offs)
}

// DecodeJar deserializes a jar archive.
func DecodeJar(buf []byte) (j *types.Jar, err error) {
	defer recoverMalformed(&err)

	t, err := rootTable(buf)
	if err != nil {
		return nil, err
	}

	j = &types.Jar{Library: t.str(jarLibrary), Module: t.bytes(jarModule)}

	for _, ct := range t.subs(jarClasses) {
		c := types.ClassDef{
			Name:          ct.str(className),
			Superclass:    ct.str(classSuper),
			Constructors:  readCodes(ct.subs(classConstructors)),
			Methods:       readCodes(ct.subs(classMethods)),
			EnumConstants: ct.strs(classEnum),
		}

		for _, ft := range ct.subs(classFields) {
			c.Fields = append(c.Fields, types.FieldDef{Name: ft.str(fieldName), Type: ft.str(fieldType)})
		}

		if c.Name == "" {
			return nil, fmt.Errorf("%w: class without name", ErrMalformed)
		}

		j.Classes = append(j.Classes, c)
	}

	return j, nil
}

// readCodes decodes constructors or methods.
func readCodes(ts []table) []types.CodeDef {
	out := make([]types.CodeDef, len(ts))

	for i, t := range ts {
		out[i] = types.CodeDef{
			Name:    t.str(codeName),
			Formals: t.strs(codeFormals),
			Returns: t.str(codeReturns),
			Static:  t.boolean(codeStatic),
			View:    t.boolean(codeView),
			Throws:  t.boolean(codeThrows),
		}
	}

	return out
}

// coders returns the shared zstd encoder and decoder.
func coders() (*zstd.Encoder, *zstd.Decoder, error) {
	encoderOnce.Do(func() {
		encoder, coderErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if coderErr != nil {
			return
		}
		decoder, coderErr = zstd.NewReader(nil)
	})

	return encoder, decoder, coderErr
}

// CompressJar compresses an encoded jar with zstd.
func CompressJar(data []byte) ([]byte, error) {
	enc, _, err := coders()
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}

	return enc.EncodeAll(data, nil), nil
}

// DecompressJar reverses CompressJar.
func DecompressJar(data []byte) ([]byte, error) {
	_, dec, err := coders()
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}

	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress jar:\n%w", err)
	}

	return out, nil
}

// DecodeInstrumentedJar decompresses and decodes an instrumented jar.
func DecodeInstrumentedJar(data []byte) (*types.Jar, error) {
	raw, err := DecompressJar(data)
	if err != nil {
		return nil, err
	}

	return DecodeJar(raw)
}

// EncodeHistory serializes a history as concatenated transaction references.
func EncodeHistory(history []types.TransactionReference) []byte {
	return joinTransactions(history)
}

// DecodeHistory reverses EncodeHistory.
func DecodeHistory(data []byte) ([]types.TransactionReference, error) {
	return splitTransactions(data)
}
