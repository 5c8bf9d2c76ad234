// Package verification checks jars before they are installed.
package verification

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"PodLedger/internal/codec"
	"PodLedger/internal/types"
)

// CurrentVersion is the newest verification version known to this node.
const CurrentVersion = 1

// ModuleValidator compiles a wasm module and returns its exported functions.
type ModuleValidator interface {
	Validate(ctx context.Context, wasm []byte) ([]string, error)
}

// Error describes why a jar failed verification.
type Error struct {
	Class   string // Class is the offending class, if any
	Message string // Message describes the problem
}

func (e *Error) Error() string {
	if e.Class == "" {
		return e.Message
	}

	return e.Class + ": " + e.Message
}

func fail(class, format string, args ...any) *Error {
	return &Error{Class: class, Message: fmt.Sprintf(format, args...)}
}

// Options tune a verification.
type Options struct {
	AllowNative bool // AllowNative accepts native jars, only during initialization
	SkipRules   bool // SkipRules only decodes and links the jar
}

// Result is a verified jar.
type Result struct {
	Jar          *types.Jar // Jar is the normalized jar
	Instrumented []byte     // Instrumented is the normalized jar, encoded and compressed
}

// Verifier verifies jars against their dependencies.
type Verifier struct {
	modules ModuleValidator // modules validates wasm modules
}

// New creates a verifier. Modules may be nil if only native jars are verified.
func New(modules ModuleValidator) *Verifier {
	return &Verifier{modules: modules}
}

// Verify checks an encoded jar against the jars it depends on, following the
// rules of the given verification version.
func (v *Verifier) Verify(ctx context.Context, jarBytes []byte, deps []*types.Jar, version uint32, opts Options) (*Result, error) {
	if version > CurrentVersion {
		return nil, fail("", "unknown verification version %d", version)
	}

	jar, err := codec.DecodeJar(jarBytes)
	if err != nil {
		return nil, fail("", "malformed jar: %v", err)
	}

	if jar.IsNative() && !opts.AllowNative {
		return nil, fail("", "native jars can only be installed by initial transactions")
	}

	known := make(map[string]*types.ClassDef)
	for _, dep := range deps {
		for i := range dep.Classes {
			known[dep.Classes[i].Name] = &dep.Classes[i]
		}
	}

	if err := addClasses(jar, known); err != nil {
		return nil, err
	}

	if err := checkHierarchy(jar, known); err != nil {
		return nil, err
	}

	if !opts.SkipRules {
		if err := checkSignatures(jar, known); err != nil {
			return nil, err
		}
	}

	if !jar.IsNative() {
		if err := v.checkModule(ctx, jar, version, opts); err != nil {
			return nil, err
		}
	}

	normalize(jar)

	instrumented, err := codec.CompressJar(codec.EncodeJar(jar))
	if err != nil {
		return nil, fmt.Errorf("compress jar:\n%w", err)
	}

	return &Result{Jar: jar, Instrumented: instrumented}, nil
}

// addClasses registers the classes of jar, which must be new.
func addClasses(jar *types.Jar, known map[string]*types.ClassDef) error {
	if len(jar.Classes) == 0 {
		return fail("", "the jar defines no classes")
	}

	for i := range jar.Classes {
		c := &jar.Classes[i]
		if c.Name == "" {
			return fail("", "class without a name")
		}

		if _, exists := known[c.Name]; exists {
			return fail(c.Name, "class already defined")
		}

		known[c.Name] = c
	}

	return nil
}

// checkHierarchy requires every superclass chain to reach a root without cycles.
// Only native jars define roots.
func checkHierarchy(jar *types.Jar, known map[string]*types.ClassDef) error {
	for _, c := range jar.Classes {
		if c.Superclass == "" && !jar.IsNative() {
			return fail(c.Name, "missing superclass")
		}

		seen := map[string]bool{c.Name: true}
		for super := c.Superclass; super != ""; {
			def, ok := known[super]
			if !ok {
				return fail(c.Name, "unknown superclass %s", super)
			}

			if seen[super] {
				return fail(c.Name, "cyclic inheritance through %s", super)
			}
			seen[super] = true

			if def.IsEnum() {
				return fail(c.Name, "cannot extend enumeration %s", super)
			}

			super = def.Superclass
		}
	}

	return nil
}

// checkSignatures requires field, formal and return types to be known.
func checkSignatures(jar *types.Jar, known map[string]*types.ClassDef) error {
	for _, c := range jar.Classes {
		names := make(map[string]bool)

		for _, f := range c.Fields {
			if names[f.Name] {
				return fail(c.Name, "field %s declared twice", f.Name)
			}
			names[f.Name] = true

			if err := checkType(f.Type, known); err != nil {
				return fail(c.Name, "field %s: %v", f.Name, err)
			}
		}

		for _, code := range append(slices.Clone(c.Constructors), c.Methods...) {
			for _, formal := range code.Formals {
				if err := checkType(formal, known); err != nil {
					return fail(c.Name, "%s: %v", describe(code), err)
				}
			}

			if code.Returns != "" {
				if err := checkType(code.Returns, known); err != nil {
					return fail(c.Name, "%s: %v", describe(code), err)
				}
			}
		}
	}

	return nil
}

// checkType accepts basic types, known enumerations and known classes.
func checkType(t string, known map[string]*types.ClassDef) error {
	switch t {
	case types.TypeBool, types.TypeInt, types.TypeLong, types.TypeBigInt, types.TypeString:
		return nil
	}

	if enum, ok := strings.CutPrefix(t, types.EnumTypePrefix); ok {
		if def, found := known[enum]; !found || !def.IsEnum() {
			return fmt.Errorf("unknown enumeration %s", enum)
		}

		return nil
	}

	if def, ok := known[t]; !ok || def.IsEnum() {
		return fmt.Errorf("unknown type %s", t)
	}

	return nil
}

// checkModule validates the wasm module. From version 1 on, every method and
// constructor must be exported by the module.
func (v *Verifier) checkModule(ctx context.Context, jar *types.Jar, version uint32, opts Options) error {
	if len(jar.Module) == 0 {
		return fail("", "missing wasm module")
	}

	if v.modules == nil {
		return fail("", "wasm jars are not supported")
	}

	exports, err := v.modules.Validate(ctx, jar.Module)
	if err != nil {
		return fail("", "invalid module: %v", err)
	}

	if version < 1 || opts.SkipRules {
		return nil
	}

	for _, c := range jar.Classes {
		for _, code := range append(slices.Clone(c.Constructors), c.Methods...) {
			export := c.Name + "." + exportSuffix(code)
			if _, found := slices.BinarySearch(exports, export); !found {
				return fail(c.Name, "%s is not exported by the module", describe(code))
			}

			if code.View && code.Returns == "" {
				return fail(c.Name, "view method %s returns nothing", code.Name)
			}
		}
	}

	return nil
}

// normalize sorts the classes of the jar by name.
func normalize(jar *types.Jar) {
	slices.SortFunc(jar.Classes, func(a, b types.ClassDef) int {
		return strings.Compare(a.Name, b.Name)
	})
}

func exportSuffix(code types.CodeDef) string {
	if code.Name == "" {
		return "<init>"
	}

	return code.Name
}

func describe(code types.CodeDef) string {
	if code.Name == "" {
		return "constructor(" + strings.Join(code.Formals, ",") + ")"
	}

	return code.Name + "(" + strings.Join(code.Formals, ",") + ")"
}
