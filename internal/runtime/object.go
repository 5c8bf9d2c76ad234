package runtime

import (
	"fmt"
	"math/big"

	"PodLedger/internal/types"
)

// FieldLoader fetches a lazy field of a stored object on first access.
type FieldLoader func(o *Object, f types.FieldSignature) (types.Value, error)

// Object is the runtime form of a storage object. Its reference fields hold
// *Object values; every other field holds a types.Value.
type Object struct {
	ref     types.StorageReference               // ref identifies the object
	class   *Class                               // class is the runtime class
	values  map[types.FieldSignature]types.Value // values are the current field values
	initial map[types.FieldSignature]types.Value // initial are the values read from the store
	fresh   bool                                 // fresh objects were created by the running transaction
	lazy    FieldLoader                          // lazy loads fields not yet in values
}

// NewObject creates an object in the running transaction, with default field values.
func NewObject(ref types.StorageReference, class *Class) *Object {
	o := &Object{
		ref:    ref,
		class:  class,
		values: make(map[types.FieldSignature]types.Value, len(class.Fields())),
		fresh:  true,
	}

	for _, f := range class.Fields() {
		o.values[f] = DefaultValue(f.Type)
	}

	return o
}

// RestoreObject rebuilds a stored object from its eager fields. Lazy fields
// are fetched through lazy when first read.
func RestoreObject(ref types.StorageReference, class *Class, eager map[types.FieldSignature]types.Value, lazy FieldLoader) *Object {
	o := &Object{
		ref:     ref,
		class:   class,
		values:  make(map[types.FieldSignature]types.Value, len(eager)),
		initial: make(map[types.FieldSignature]types.Value, len(eager)),
		lazy:    lazy,
	}

	for f, v := range eager {
		o.values[f] = v
		o.initial[f] = v
	}

	return o
}

// DefaultValue returns the value of a field of the given type in a new object.
func DefaultValue(typ string) types.Value {
	switch typ {
	case types.TypeBool:
		return types.BoolValue(false)
	case types.TypeInt:
		return types.IntValue(0)
	case types.TypeLong:
		return types.LongValue(0)
	default:
		return types.NullValue{}
	}
}

func (o *Object) Kind() types.ValueKind { return types.KindReference }
func (o *Object) String() string        { return o.ref.String() }

// Ref returns the storage reference of the object.
func (o *Object) Ref() types.StorageReference {
	return o.ref
}

// Class returns the runtime class of the object.
func (o *Object) Class() *Class {
	return o.class
}

// IsFresh reports whether the object was created by the running transaction.
func (o *Object) IsFresh() bool {
	return o.fresh
}

// Get returns the value of a field, loading it if lazy.
func (o *Object) Get(f types.FieldSignature) (types.Value, error) {
	if v, ok := o.values[f]; ok {
		return v, nil
	}

	if !o.class.HasField(f) {
		return nil, fmt.Errorf("%s has no field %s", o.class.Name(), f)
	}

	if o.lazy == nil {
		return nil, fmt.Errorf("field %s of %s is not loaded", f, o.ref)
	}

	v, err := o.lazy(o, f)
	if err != nil {
		return nil, fmt.Errorf("load %s of %s:\n%w", f.Name, o.ref, err)
	}

	o.values[f] = v
	o.initial[f] = v

	return v, nil
}

// Set assigns a field.
func (o *Object) Set(f types.FieldSignature, v types.Value) error {
	if !o.class.HasField(f) {
		return fmt.Errorf("%s has no field %s", o.class.Name(), f)
	}

	if v == nil {
		v = types.NullValue{}
	}

	o.values[f] = v

	return nil
}

// GetNamed returns the value of the field with the given name.
func (o *Object) GetNamed(name string) (types.Value, error) {
	f, ok := o.class.Field(name)
	if !ok {
		return nil, fmt.Errorf("%s has no field %s", o.class.Name(), name)
	}

	return o.Get(f)
}

// SetNamed assigns the field with the given name.
func (o *Object) SetNamed(name string, v types.Value) error {
	f, ok := o.class.Field(name)
	if !ok {
		return fmt.Errorf("%s has no field %s", o.class.Name(), name)
	}

	return o.Set(f, v)
}

// BigInt reads a bigint field. A null field reads as zero.
func (o *Object) BigInt(f types.FieldSignature) (*big.Int, error) {
	v, err := o.Get(f)
	if err != nil {
		return nil, err
	}

	switch n := v.(type) {
	case types.BigIntValue:
		return n.Int(), nil
	case types.NullValue:
		return new(big.Int), nil
	default:
		return nil, fmt.Errorf("field %s holds %s, not a bigint", f.Name, v)
	}
}

// Str reads a string field. A null field reads as the empty string.
func (o *Object) Str(f types.FieldSignature) (string, error) {
	v, err := o.Get(f)
	if err != nil {
		return "", err
	}

	switch s := v.(type) {
	case types.StringValue:
		return string(s), nil
	case types.NullValue:
		return "", nil
	default:
		return "", fmt.Errorf("field %s holds %s, not a string", f.Name, v)
	}
}

// Reference reads a reference field. It returns nil for null.
func (o *Object) Reference(f types.FieldSignature) (*Object, error) {
	v, err := o.Get(f)
	if err != nil {
		return nil, err
	}

	switch r := v.(type) {
	case *Object:
		return r, nil
	case types.NullValue:
		return nil, nil
	default:
		return nil, fmt.Errorf("field %s holds %s, not an object", f.Name, v)
	}
}

// Updates returns the changes of the object made by the running transaction:
// class tag and every field for fresh objects, modified fields otherwise.
func (o *Object) Updates() []types.Update {
	var updates []types.Update

	if o.fresh {
		updates = append(updates, types.NewClassTag(o.ref, o.class.Name(), o.class.Jar))

		for _, f := range o.class.Fields() {
			updates = append(updates, types.NewFieldUpdate(o.ref, f, Persist(o.values[f])))
		}

		return updates
	}

	for _, f := range o.class.Fields() {
		v, ok := o.values[f]
		if !ok {
			continue
		}

		before, loaded := o.initial[f]
		if loaded && ValuesEqual(before, v) {
			continue
		}

		updates = append(updates, types.NewFieldUpdate(o.ref, f, Persist(v)))
	}

	return updates
}

// Persist converts a runtime value into its stored form.
func Persist(v types.Value) types.Value {
	if o, ok := v.(*Object); ok {
		return o.ref
	}

	return v
}

// ValuesEqual compares runtime values, objects by reference.
func ValuesEqual(a, b types.Value) bool {
	return types.ValuesEqual(Persist(a), Persist(b))
}
