package verification

import (
	"context"
	"errors"
	"testing"

	"PodLedger/internal/codec"
	"PodLedger/internal/podvm"
	"PodLedger/internal/podvm/podvmtest"
	"PodLedger/internal/types"
)

var base = &types.Jar{Library: "core", Classes: []types.ClassDef{
	{Name: "core.Storage"},
	{Name: "core.Color", Superclass: "core.Storage", EnumConstants: []string{"RED", "GREEN"}},
}}

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()

	pool := podvm.New()
	t.Cleanup(func() { pool.Close(context.Background()) })

	return New(pool)
}

// counterJar is a wasm jar whose module exports the given functions.
func counterJar(exports ...string) *types.Jar {
	funcs := make([]podvmtest.Func, len(exports))
	for i, e := range exports {
		funcs[i] = podvmtest.Func{Name: e}
	}

	return &types.Jar{
		Module: podvmtest.Module(funcs...),
		Classes: []types.ClassDef{{
			Name:         "Counter",
			Superclass:   "core.Storage",
			Fields:       []types.FieldDef{{Name: "count", Type: types.TypeLong}, {Name: "color", Type: "enum:core.Color"}},
			Constructors: []types.CodeDef{{}},
			Methods:      []types.CodeDef{{Name: "increment"}, {Name: "get", Returns: types.TypeLong, View: true}},
		}},
	}
}

func TestVerifyWasmJar(t *testing.T) {
	v := newTestVerifier(t)
	ctx := context.Background()

	jar := counterJar("Counter.<init>", "Counter.get", "Counter.increment")

	result, err := v.Verify(ctx, codec.EncodeJar(jar), []*types.Jar{base}, 1, Options{})
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	decoded, err := codec.DecodeInstrumentedJar(result.Instrumented)
	if err != nil {
		t.Fatalf("DecodeInstrumentedJar failed: %v", err)
	}

	if len(decoded.Classes) != 1 || decoded.Classes[0].Name != "Counter" {
		t.Errorf("instrumented classes = %v", decoded.Classes)
	}
}

func TestExportsRequiredFromVersionOne(t *testing.T) {
	v := newTestVerifier(t)
	ctx := context.Background()

	jar := codec.EncodeJar(counterJar("Counter.<init>", "Counter.get"))

	if _, err := v.Verify(ctx, jar, []*types.Jar{base}, 0, Options{}); err != nil {
		t.Errorf("version 0 rejected the jar: %v", err)
	}

	var verr *Error
	if _, err := v.Verify(ctx, jar, []*types.Jar{base}, 1, Options{}); !errors.As(err, &verr) {
		t.Errorf("version 1 accepted a missing export: %v", err)
	}

	if _, err := v.Verify(ctx, jar, []*types.Jar{base}, 1, Options{SkipRules: true}); err != nil {
		t.Errorf("skipped rules still rejected the jar: %v", err)
	}
}

func TestVerifyRejects(t *testing.T) {
	v := newTestVerifier(t)
	ctx := context.Background()

	withClass := func(c types.ClassDef) *types.Jar {
		j := counterJar("Counter.<init>", "Counter.get", "Counter.increment")
		j.Classes = append(j.Classes, c)
		return j
	}

	tests := []struct {
		name string
		jar  []byte
		opts Options
		ver  uint32
	}{
		{"garbage", []byte("garbage"), Options{}, 1},
		{"unknown version", codec.EncodeJar(counterJar()), Options{}, 7},
		{"native", codec.EncodeJar(&types.Jar{Library: "core", Classes: []types.ClassDef{{Name: "X"}}}), Options{}, 1},
		{"duplicate", codec.EncodeJar(withClass(types.ClassDef{Name: "core.Storage", Superclass: "core.Storage"})), Options{}, 1},
		{"no superclass", codec.EncodeJar(withClass(types.ClassDef{Name: "Root"})), Options{}, 1},
		{"unknown superclass", codec.EncodeJar(withClass(types.ClassDef{Name: "A", Superclass: "Missing"})), Options{}, 1},
		{"extends enum", codec.EncodeJar(withClass(types.ClassDef{Name: "A", Superclass: "core.Color"})), Options{}, 1},
		{"unknown field type", codec.EncodeJar(withClass(types.ClassDef{
			Name: "A", Superclass: "core.Storage", Fields: []types.FieldDef{{Name: "f", Type: "float"}},
		})), Options{}, 1},
		{"bad enum", codec.EncodeJar(withClass(types.ClassDef{
			Name: "A", Superclass: "core.Storage", Fields: []types.FieldDef{{Name: "f", Type: "enum:core.Storage"}},
		})), Options{}, 1},
		{"no module", codec.EncodeJar(&types.Jar{Classes: []types.ClassDef{{Name: "A", Superclass: "core.Storage"}}}), Options{}, 1},
	}

	for _, tt := range tests {
		if _, err := v.Verify(ctx, tt.jar, []*types.Jar{base}, tt.ver, tt.opts); err == nil {
			t.Errorf("%s: jar accepted", tt.name)
		}
	}
}

func TestCyclicHierarchy(t *testing.T) {
	v := newTestVerifier(t)

	jar := &types.Jar{Library: "test", Classes: []types.ClassDef{
		{Name: "A", Superclass: "B"},
		{Name: "B", Superclass: "A"},
	}}

	if _, err := v.Verify(context.Background(), codec.EncodeJar(jar), nil, 1, Options{AllowNative: true}); err == nil {
		t.Error("cyclic hierarchy accepted")
	}
}

func TestNativeBaseJar(t *testing.T) {
	v := New(nil)

	result, err := v.Verify(context.Background(), codec.EncodeJar(base), nil, 1, Options{AllowNative: true})
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if !result.Jar.IsNative() {
		t.Error("native library lost")
	}
}
