package codec

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	flatbuffers "github.com/google/flatbuffers/go"

	"PodLedger/internal/types"
)

// ErrMalformed is returned when bytes cannot be decoded.
var ErrMalformed = errors.New("malformed encoding")

// table wraps a flatbuffers table with slot-indexed accessors.
type table struct {
	flatbuffers.Table
}

// rootTable returns the root table of a finished buffer.
func rootTable(buf []byte) (table, error) {
	if len(buf) < flatbuffers.SizeUOffsetT+flatbuffers.SizeVOffsetT {
		return table{}, fmt.Errorf("%w: buffer of %d bytes", ErrMalformed, len(buf))
	}

	n := flatbuffers.GetUOffsetT(buf)
	if int(n) >= len(buf) {
		return table{}, fmt.Errorf("%w: root offset out of range", ErrMalformed)
	}

	return table{flatbuffers.Table{Bytes: buf, Pos: n}}, nil
}

// recoverMalformed turns a panic raised by out-of-range reads into ErrMalformed.
func recoverMalformed(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %v", ErrMalformed, r)
	}
}

// vt returns the vtable offset of a slot.
func vt(slot int) flatbuffers.VOffsetT {
	return flatbuffers.VOffsetT(4 + 2*slot)
}

// field returns the absolute position of a slot, or 0 if absent.
func (t table) field(slot int) flatbuffers.UOffsetT {
	o := flatbuffers.UOffsetT(t.Offset(vt(slot)))
	if o == 0 {
		return 0
	}

	return o + t.Pos
}

func (t table) str(slot int) string {
	if o := t.field(slot); o != 0 {
		return strings.Clone(t.String(o))
	}

	return ""
}

// bytes returns a copy of a byte vector slot.
func (t table) bytes(slot int) []byte {
	o := t.field(slot)
	if o == 0 {
		return nil
	}

	src := t.ByteVector(o)
	out := make([]byte, len(src))
	copy(out, src)

	return out
}

func (t table) u8(slot int) byte      { return t.GetByteSlot(vt(slot), 0) }
func (t table) u32(slot int) uint32   { return t.GetUint32Slot(vt(slot), 0) }
func (t table) i64(slot int) int64    { return t.GetInt64Slot(vt(slot), 0) }
func (t table) boolean(slot int) bool { return t.GetBoolSlot(vt(slot), false) }
func (t table) has(slot int) bool     { return t.Offset(vt(slot)) != 0 }
func (t table) bigint(slot int) *big.Int {
	i, ok := new(big.Int).SetString(t.str(slot), 10)
	if !ok {
		return new(big.Int)
	}

	return i
}

// sub returns the table stored in a slot.
func (t table) sub(slot int) (table, bool) {
	o := t.field(slot)
	if o == 0 {
		return table{}, false
	}

	return table{flatbuffers.Table{Bytes: t.Bytes, Pos: t.Indirect(o)}}, true
}

// subs returns the tables of a vector slot. Vector and VectorLen take
// offsets relative to the table position.
func (t table) subs(slot int) []table {
	o := flatbuffers.UOffsetT(t.Offset(vt(slot)))
	if o == 0 {
		return nil
	}

	n := t.VectorLen(o)
	start := t.Vector(o)
	out := make([]table, n)

	for i := 0; i < n; i++ {
		elem := start + flatbuffers.UOffsetT(i)*flatbuffers.SizeUOffsetT
		out[i] = table{flatbuffers.Table{Bytes: t.Bytes, Pos: t.Indirect(elem)}}
	}

	return out
}

// strs returns the strings of a vector slot.
func (t table) strs(slot int) []string {
	o := flatbuffers.UOffsetT(t.Offset(vt(slot)))
	if o == 0 {
		return nil
	}

	n := t.VectorLen(o)
	start := t.Vector(o)
	out := make([]string, n)

	for i := 0; i < n; i++ {
		out[i] = strings.Clone(t.String(start + flatbuffers.UOffsetT(i)*flatbuffers.SizeUOffsetT))
	}

	return out
}

// transaction decodes a transaction reference slot.
func (t table) transaction(slot int) (types.TransactionReference, error) {
	return types.TransactionReferenceFromBytes(t.bytes(slot))
}

// storage decodes a storage reference slot.
func (t table) storage(slot int) (types.StorageReference, error) {
	return types.StorageReferenceFromBytes(t.bytes(slot))
}

// transactions decodes a slot holding concatenated transaction references.
func (t table) transactions(slot int) ([]types.TransactionReference, error) {
	return splitTransactions(t.bytes(slot))
}

// storages decodes a slot holding concatenated storage references.
func (t table) storages(slot int) ([]types.StorageReference, error) {
	raw := t.bytes(slot)
	if len(raw)%types.StorageReferenceSize != 0 {
		return nil, fmt.Errorf("%w: reference list of %d bytes", ErrMalformed, len(raw))
	}

	out := make([]types.StorageReference, 0, len(raw)/types.StorageReferenceSize)
	for i := 0; i < len(raw); i += types.StorageReferenceSize {
		ref, _ := types.StorageReferenceFromBytes(raw[i : i+types.StorageReferenceSize])
		out = append(out, ref)
	}

	return out, nil
}

// splitTransactions decodes concatenated 32-byte transaction references.
func splitTransactions(raw []byte) ([]types.TransactionReference, error) {
	if len(raw)%types.ReferenceSize != 0 {
		return nil, fmt.Errorf("%w: reference list of %d bytes", ErrMalformed, len(raw))
	}

	out := make([]types.TransactionReference, 0, len(raw)/types.ReferenceSize)
	for i := 0; i < len(raw); i += types.ReferenceSize {
		var ref types.TransactionReference
		copy(ref[:], raw[i:i+types.ReferenceSize])
		out = append(out, ref)
	}

	return out, nil
}

// joinTransactions concatenates transaction references.
func joinTransactions(refs []types.TransactionReference) []byte {
	out := make([]byte, 0, len(refs)*types.ReferenceSize)
	for _, ref := range refs {
		out = append(out, ref[:]...)
	}

	return out
}

// joinStorages concatenates storage references.
func joinStorages(refs []types.StorageReference) []byte {
	out := make([]byte, 0, len(refs)*types.StorageReferenceSize)
	for _, ref := range refs {
		out = append(out, ref.Bytes()...)
	}

	return out
}

// createStrings serializes a vector of strings.
func createStrings(b *flatbuffers.Builder, ss []string) flatbuffers.UOffsetT {
	offs := make([]flatbuffers.UOffsetT, len(ss))
	for i, s := range ss {
		offs[i] = b.CreateString(s)
	}

	return createOffsets(b, offs)
}

// createOffsets serializes a vector of already serialized objects.
func createOffsets(b *flatbuffers.Builder, offs []flatbuffers.UOffsetT) flatbuffers.UOffsetT {
	b.StartVector(flatbuffers.SizeUOffsetT, len(offs), flatbuffers.SizeUOffsetT)
	for i := len(offs) - 1; i >= 0; i-- {
		b.PrependUOffsetT(offs[i])
	}

	return b.EndVector(len(offs))
}

// bigString returns the decimal form of i, "0" for nil.
func bigString(i *big.Int) string {
	if i == nil {
		return "0"
	}

	return i.String()
}
