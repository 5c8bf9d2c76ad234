package codec

import (
	"fmt"
	"math/big"

	flatbuffers "github.com/google/flatbuffers/go"

	"PodLedger/internal/types"
)

// Value table slots.
const (
	valueKind = iota
	valueBool
	valueLong
	valueText
	valueClass
	valueRef
	valueSlots
)

// Update table slots.
const (
	updateObject = iota
	updateIsTag
	updateClass
	updateJar
	updateName
	updateType
	updateValue
	updateSlots
)

// buildValue serializes a value table.
func buildValue(b *flatbuffers.Builder, v types.Value) flatbuffers.UOffsetT {
	if v == nil {
		v = types.NullValue{}
	}

	var text, class, ref flatbuffers.UOffsetT

	switch x := v.(type) {
	case types.StringValue:
		text = b.CreateString(string(x))
	case types.BigIntValue:
		text = b.CreateString(x.String())
	case types.EnumValue:
		text = b.CreateString(x.Name)
		class = b.CreateString(x.Class)
	case types.StorageReference:
		ref = b.CreateByteVector(x.Bytes())
	}

	b.StartObject(valueSlots)
	b.PrependByteSlot(valueKind, byte(v.Kind()), 0)

	switch x := v.(type) {
	case types.BoolValue:
		b.PrependBoolSlot(valueBool, bool(x), false)
	case types.IntValue:
		b.PrependInt64Slot(valueLong, int64(x), 0)
	case types.LongValue:
		b.PrependInt64Slot(valueLong, int64(x), 0)
	}

	if text != 0 {
		b.PrependUOffsetTSlot(valueText, text, 0)
	}
	if class != 0 {
		b.PrependUOffsetTSlot(valueClass, class, 0)
	}
	if ref != 0 {
		b.PrependUOffsetTSlot(valueRef, ref, 0)
	}

	return b.EndObject()
}

// readValue decodes a value table.
func readValue(t table) (types.Value, error) {
	switch kind := types.ValueKind(t.u8(valueKind)); kind {
	case types.KindNull:
		return types.NullValue{}, nil
	case types.KindBool:
		return types.BoolValue(t.boolean(valueBool)), nil
	case types.KindInt:
		return types.IntValue(int32(t.i64(valueLong))), nil
	case types.KindLong:
		return types.LongValue(t.i64(valueLong)), nil
	case types.KindString:
		return types.StringValue(t.str(valueText)), nil
	case types.KindBigInt:
		i, ok := new(big.Int).SetString(t.str(valueText), 10)
		if !ok {
			return nil, fmt.Errorf("%w: big integer %q", ErrMalformed, t.str(valueText))
		}
		return types.NewBigIntValue(i), nil
	case types.KindEnum:
		return types.EnumValue{Class: t.str(valueClass), Name: t.str(valueText)}, nil
	case types.KindReference:
		return t.storage(valueRef)
	default:
		return nil, fmt.Errorf("%w: value kind %d", ErrMalformed, kind)
	}
}

// buildValues serializes a vector of values.
func buildValues(b *flatbuffers.Builder, vs []types.Value) flatbuffers.UOffsetT {
	offs := make([]flatbuffers.UOffsetT, len(vs))
	for i, v := range vs {
		offs[i] = buildValue(b, v)
	}

	return createOffsets(b, offs)
}

// readValues decodes a vector of values.
func readValues(ts []table) ([]types.Value, error) {
	out := make([]types.Value, len(ts))
	for i, t := range ts {
		v, err := readValue(t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}

	return out, nil
}

// buildUpdate serializes an update table.
func buildUpdate(b *flatbuffers.Builder, u types.Update) flatbuffers.UOffsetT {
	object := b.CreateByteVector(u.Object.Bytes())

	var class, jar, name, typ, value flatbuffers.UOffsetT
	if u.IsClassTag() {
		class = b.CreateString(u.Tag.Class)
		jar = b.CreateByteVector(u.Tag.Jar[:])
	} else {
		class = b.CreateString(u.Field.Class)
		name = b.CreateString(u.Field.Name)
		typ = b.CreateString(u.Field.Type)
		value = buildValue(b, u.Value)
	}

	b.StartObject(updateSlots)
	b.PrependUOffsetTSlot(updateObject, object, 0)
	b.PrependBoolSlot(updateIsTag, u.IsClassTag(), false)
	b.PrependUOffsetTSlot(updateClass, class, 0)

	if u.IsClassTag() {
		b.PrependUOffsetTSlot(updateJar, jar, 0)
	} else {
		b.PrependUOffsetTSlot(updateName, name, 0)
		b.PrependUOffsetTSlot(updateType, typ, 0)
		b.PrependUOffsetTSlot(updateValue, value, 0)
	}

	return b.EndObject()
}

// readUpdate decodes an update table.
func readUpdate(t table) (types.Update, error) {
	object, err := t.storage(updateObject)
	if err != nil {
		return types.Update{}, err
	}

	if t.boolean(updateIsTag) {
		jar, err := t.transaction(updateJar)
		if err != nil {
			return types.Update{}, err
		}

		return types.NewClassTag(object, t.str(updateClass), jar), nil
	}

	field := types.FieldSignature{Class: t.str(updateClass), Name: t.str(updateName), Type: t.str(updateType)}

	vtab, ok := t.sub(updateValue)
	if !ok {
		return types.Update{}, fmt.Errorf("%w: update of %s without value", ErrMalformed, field)
	}

	value, err := readValue(vtab)
	if err != nil {
		return types.Update{}, err
	}

	return types.NewFieldUpdate(object, field, value), nil
}

// buildUpdates serializes a vector of updates.
func buildUpdates(b *flatbuffers.Builder, us []types.Update) flatbuffers.UOffsetT {
	offs := make([]flatbuffers.UOffsetT, len(us))
	for i, u := range us {
		offs[i] = buildUpdate(b, u)
	}

	return createOffsets(b, offs)
}

// readUpdates decodes a vector of updates.
func readUpdates(ts []table) ([]types.Update, error) {
	out := make([]types.Update, len(ts))
	for i, t := range ts {
		u, err := readUpdate(t)
		if err != nil {
			return nil, err
		}
		out[i] = u
	}

	return out, nil
}

// EncodeValue serializes a single value.
func EncodeValue(v types.Value) []byte {
	b := flatbuffers.NewBuilder(64)
	b.Finish(buildValue(b, v))

	return b.FinishedBytes()
}

// DecodeValue deserializes a value encoded by EncodeValue.
func DecodeValue(buf []byte) (v types.Value, err error) {
	defer recoverMalformed(&err)

	t, err := rootTable(buf)
	if err != nil {
		return nil, err
	}

	return readValue(t)
}
