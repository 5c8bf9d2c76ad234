package types

import (
	"cmp"
	"fmt"
)

// FieldSignature identifies a field: its defining class, name and type.
type FieldSignature struct {
	Class string // Class is the class that defines the field
	Name  string // Name is the field name
	Type  string // Type is the field type name
}

// IsEager reports whether the field is loaded together with its object.
func (f FieldSignature) IsEager() bool {
	return IsEagerType(f.Type)
}

// String returns "Class.name:type".
func (f FieldSignature) String() string {
	return f.Class + "." + f.Name + ":" + f.Type
}

// ClassTag records the class of an object and the jar that installed it.
type ClassTag struct {
	Class string               // Class is the name of the object's class
	Jar   TransactionReference // Jar is the transaction that installed the class
}

// Update states that, as of a transaction, a property of an object had a value.
// The property is either a field or the class tag.
type Update struct {
	Object StorageReference // Object is the updated object
	Tag    *ClassTag        // Tag is non-nil for class tag updates
	Field  FieldSignature   // Field is the updated field, zero for class tags
	Value  Value            // Value is the new field value, nil for class tags
}

// NewClassTag creates the class tag update of an object.
func NewClassTag(object StorageReference, class string, jar TransactionReference) Update {
	return Update{Object: object, Tag: &ClassTag{Class: class, Jar: jar}}
}

// NewFieldUpdate creates the update of a field of an object.
func NewFieldUpdate(object StorageReference, field FieldSignature, value Value) Update {
	if value == nil {
		value = NullValue{}
	}

	return Update{Object: object, Field: field, Value: value}
}

// IsClassTag reports whether u is a class tag update.
func (u Update) IsClassTag() bool {
	return u.Tag != nil
}

// IsEager reports whether u updates an eager field.
func (u Update) IsEager() bool {
	return u.Tag == nil && u.Field.IsEager()
}

// SameProperty reports whether u and other update the same property of the same object.
func (u Update) SameProperty(other Update) bool {
	if u.Object != other.Object || u.IsClassTag() != other.IsClassTag() {
		return false
	}

	return u.IsClassTag() || u.Field == other.Field
}

// Equal reports whether two updates are identical.
func (u Update) Equal(other Update) bool {
	if !u.SameProperty(other) {
		return false
	}

	if u.IsClassTag() {
		return *u.Tag == *other.Tag
	}

	return ValuesEqual(u.Value, other.Value)
}

// String returns a readable form of the update.
func (u Update) String() string {
	if u.IsClassTag() {
		return fmt.Sprintf("<%s.class|%s|@%s>", u.Object, u.Tag.Class, u.Tag.Jar.Short())
	}

	return fmt.Sprintf("<%s|%s|%s>", u.Object, u.Field, u.Value)
}

// CompareUpdates orders updates by object, with the class tag before fields,
// and fields by defining class, name and type.
func CompareUpdates(a, b Update) int {
	if c := CompareStorageReferences(a.Object, b.Object); c != 0 {
		return c
	}

	switch {
	case a.IsClassTag() && !b.IsClassTag():
		return -1
	case !a.IsClassTag() && b.IsClassTag():
		return 1
	case a.IsClassTag():
		return 0
	}

	if c := cmp.Compare(a.Field.Class, b.Field.Class); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Field.Name, b.Field.Name); c != 0 {
		return c
	}

	return cmp.Compare(a.Field.Type, b.Field.Type)
}
