package types

import "strings"

// Jar is a code archive: class definitions, plus the wasm module implementing
// their code. The base library has no module and names the native library
// whose Go implementation is linked into the node.
type Jar struct {
	Library string     // Library names the native implementation, empty for wasm jars
	Module  []byte     // Module is the wasm binary, empty for native jars
	Classes []ClassDef // Classes are the classes defined by the jar
}

// IsNative reports whether the jar is implemented by a native library.
func (j *Jar) IsNative() bool {
	return j.Library != ""
}

// ClassDef describes a storage class.
type ClassDef struct {
	Name          string     // Name is the fully qualified class name
	Superclass    string     // Superclass is empty only for the root storage class
	Fields        []FieldDef // Fields are the instance fields declared by the class
	Constructors  []CodeDef  // Constructors are the declared constructors
	Methods       []CodeDef  // Methods are the declared instance and static methods
	EnumConstants []string   // EnumConstants is non-empty for enumerations
}

// IsEnum reports whether the class is an enumeration.
func (c *ClassDef) IsEnum() bool {
	return len(c.EnumConstants) > 0
}

// FieldDef declares an instance field.
type FieldDef struct {
	Name string // Name is the field name
	Type string // Type is the field type name
}

// CodeDef declares a constructor or a method.
type CodeDef struct {
	Name    string   // Name is the method name, empty for constructors
	Formals []string // Formals are the formal parameter types
	Returns string   // Returns is the return type, empty for void
	Static  bool     // Static methods have no receiver
	View    bool     // View methods must not modify the state
	Throws  bool     // Throws marks code that may throw checked exceptions
}

// Matches reports whether the code has the given name and formals.
func (c *CodeDef) Matches(name string, formals []string) bool {
	if c.Name != name || len(c.Formals) != len(formals) {
		return false
	}

	for i := range formals {
		if c.Formals[i] != formals[i] {
			return false
		}
	}

	return true
}

// MethodSignature identifies a method.
type MethodSignature struct {
	Class   string   // Class is the class where lookup starts
	Name    string   // Name is the method name
	Formals []string // Formals are the formal parameter types
	Returns string   // Returns is the return type, empty for void
}

// IsVoid reports whether the method returns nothing.
func (m MethodSignature) IsVoid() bool {
	return m.Returns == ""
}

// String returns "Class.name(formals)".
func (m MethodSignature) String() string {
	return m.Class + "." + m.Name + "(" + strings.Join(m.Formals, ",") + ")"
}

// ConstructorSignature identifies a constructor.
type ConstructorSignature struct {
	Class   string   // Class is the class being instantiated
	Formals []string // Formals are the formal parameter types
}

// String returns "Class(formals)".
func (c ConstructorSignature) String() string {
	return c.Class + "(" + strings.Join(c.Formals, ",") + ")"
}
