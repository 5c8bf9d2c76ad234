package types

import (
	"math/big"
	"strconv"
	"strings"
)

// ValueKind discriminates the concrete type of a Value.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindBool
	KindInt
	KindLong
	KindBigInt
	KindString
	KindReference
	KindEnum
)

// Names of the basic field types. Fields of these types, and of enum types,
// are eager: they are loaded with their object.
const (
	TypeBool   = "bool"
	TypeInt    = "int"
	TypeLong   = "long"
	TypeBigInt = "bigint"
	TypeString = "string"

	// EnumTypePrefix prefixes the type name of enum fields, as in "enum:core.Color".
	EnumTypePrefix = "enum:"
)

// IsEagerType reports whether fields of the given type are eager.
func IsEagerType(t string) bool {
	switch t {
	case TypeBool, TypeInt, TypeLong, TypeBigInt, TypeString:
		return true
	}

	return strings.HasPrefix(t, EnumTypePrefix)
}

// Value is a serialized value: an actual argument, a method result or the
// value of a field in an update.
type Value interface {
	Kind() ValueKind
	String() string
}

// NullValue is the null value.
type NullValue struct{}

func (NullValue) Kind() ValueKind { return KindNull }
func (NullValue) String() string  { return "null" }

// BoolValue is a boolean value.
type BoolValue bool

func (BoolValue) Kind() ValueKind  { return KindBool }
func (v BoolValue) String() string { return strconv.FormatBool(bool(v)) }

// IntValue is a 32-bit integer value.
type IntValue int32

func (IntValue) Kind() ValueKind  { return KindInt }
func (v IntValue) String() string { return strconv.FormatInt(int64(v), 10) }

// LongValue is a 64-bit integer value.
type LongValue int64

func (LongValue) Kind() ValueKind  { return KindLong }
func (v LongValue) String() string { return strconv.FormatInt(int64(v), 10) + "L" }

// StringValue is a string value.
type StringValue string

func (StringValue) Kind() ValueKind  { return KindString }
func (v StringValue) String() string { return strconv.Quote(string(v)) }

// BigIntValue is an arbitrary precision integer value. It owns its integer.
type BigIntValue struct {
	v *big.Int
}

// NewBigIntValue returns a value holding a copy of i.
func NewBigIntValue(i *big.Int) BigIntValue {
	if i == nil {
		return BigIntValue{v: new(big.Int)}
	}

	return BigIntValue{v: new(big.Int).Set(i)}
}

// BigIntOf returns a value holding n.
func BigIntOf(n int64) BigIntValue {
	return BigIntValue{v: big.NewInt(n)}
}

func (BigIntValue) Kind() ValueKind { return KindBigInt }

func (v BigIntValue) String() string {
	if v.v == nil {
		return "0"
	}

	return v.v.String()
}

// Int returns a copy of the integer.
func (v BigIntValue) Int() *big.Int {
	if v.v == nil {
		return new(big.Int)
	}

	return new(big.Int).Set(v.v)
}

// EnumValue is an element of an enumeration.
type EnumValue struct {
	Class string // Class is the enumeration class
	Name  string // Name is the constant name
}

func (EnumValue) Kind() ValueKind  { return KindEnum }
func (v EnumValue) String() string { return v.Class + "." + v.Name }

// ValuesEqual reports whether two values are equal.
func ValuesEqual(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if a.Kind() != b.Kind() {
		return false
	}

	if x, ok := a.(BigIntValue); ok {
		return x.Int().Cmp(b.(BigIntValue).Int()) == 0
	}

	return a == b
}
