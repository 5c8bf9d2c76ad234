package runtime

import (
	"cmp"
	"slices"

	"PodLedger/internal/podvm"
	"PodLedger/internal/types"
)

// ConstructorName is the name of constructors, both in dispatch tables and
// as wasm export suffix.
const ConstructorName = "<init>"

// Class is a class of an installed jar, linked to its superclass.
type Class struct {
	Def    *types.ClassDef            // Def is the definition from the jar
	Jar    types.TransactionReference // Jar is the transaction that installed the class
	Super  *Class                     // Super is nil for the root class
	Native string                     // Native names the library of native jars
	Module podvm.ModuleID             // Module is the wasm module of wasm jars

	fields []types.FieldSignature // fields are all instance fields, in materialization order
}

// Name returns the fully qualified name of the class.
func (c *Class) Name() string {
	return c.Def.Name
}

// IsNative reports whether the code of the class is implemented natively.
func (c *Class) IsNative() bool {
	return c.Native != ""
}

// IsSubclassOf reports whether the class is name or inherits from it.
func (c *Class) IsSubclassOf(name string) bool {
	for k := c; k != nil; k = k.Super {
		if k.Def.Name == name {
			return true
		}
	}

	return false
}

// Fields returns the instance fields of the class and its superclasses:
// superclass fields first, then by name, then by type.
func (c *Class) Fields() []types.FieldSignature {
	return c.fields
}

// EagerFields returns the fields materialized when an object is loaded, in the same order as Fields.
func (c *Class) EagerFields() []types.FieldSignature {
	var eager []types.FieldSignature
	for _, f := range c.fields {
		if f.IsEager() {
			eager = append(eager, f)
		}
	}

	return eager
}

// Field looks up a field by name, starting from this class upwards.
func (c *Class) Field(name string) (types.FieldSignature, bool) {
	for k := c; k != nil; k = k.Super {
		for _, f := range k.Def.Fields {
			if f.Name == name {
				return types.FieldSignature{Class: k.Def.Name, Name: f.Name, Type: f.Type}, true
			}
		}
	}

	return types.FieldSignature{}, false
}

// HasField reports whether f is declared by this class or a superclass.
func (c *Class) HasField(f types.FieldSignature) bool {
	return slices.Contains(c.fields, f)
}

// Method looks up a method by name and formals, starting from this class
// upwards. It returns the class that declares it.
func (c *Class) Method(name string, formals []string) (*Class, *types.CodeDef, bool) {
	for k := c; k != nil; k = k.Super {
		for i := range k.Def.Methods {
			if k.Def.Methods[i].Matches(name, formals) {
				return k, &k.Def.Methods[i], true
			}
		}
	}

	return nil, nil, false
}

// Constructor looks up a constructor declared by this class.
func (c *Class) Constructor(formals []string) (*types.CodeDef, bool) {
	for i := range c.Def.Constructors {
		if c.Def.Constructors[i].Matches("", formals) {
			return &c.Def.Constructors[i], true
		}
	}

	return nil, false
}

// ExportName returns the wasm export implementing a method of the class.
func (c *Class) ExportName(method string) string {
	return c.Def.Name + "." + method
}

// link computes the field order of the class. The superclass must be linked.
func (c *Class) link() {
	own := make([]types.FieldSignature, 0, len(c.Def.Fields))
	for _, f := range c.Def.Fields {
		own = append(own, types.FieldSignature{Class: c.Def.Name, Name: f.Name, Type: f.Type})
	}

	slices.SortFunc(own, func(a, b types.FieldSignature) int {
		if n := cmp.Compare(a.Name, b.Name); n != 0 {
			return n
		}

		return cmp.Compare(a.Type, b.Type)
	})

	if c.Super != nil {
		c.fields = append(slices.Clone(c.Super.fields), own...)
	} else {
		c.fields = own
	}
}
