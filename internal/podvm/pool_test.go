package podvm

import (
	"context"
	"errors"
	"testing"

	"PodLedger/internal/podvm/podvmtest"
)

// illegalImport imports wasi.x, which is not a host function.
var illegalImport = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x04, 0x01, 0x60, 0x00, 0x00,
	0x02, 0x0a, 0x01, 0x04, 'w', 'a', 's', 'i', 0x01, 'x', 0x00, 0x00,
}

func newTestPool(t *testing.T) *Pool {
	t.Helper()

	p := New()
	t.Cleanup(func() { p.Close(context.Background()) })

	return p
}

func testModule() []byte {
	return podvmtest.Module(
		podvmtest.Func{Name: "Greeter.hello", Output: []byte("hi"), Gas: 5},
		podvmtest.Func{Name: "Greeter.burn", Gas: 100},
		podvmtest.Func{Name: "Greeter.quiet"},
	)
}

func TestValidate(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	exports, err := p.Validate(ctx, testModule())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	want := []string{"Greeter.burn", "Greeter.hello", "Greeter.quiet"}
	if len(exports) != len(want) {
		t.Fatalf("exports = %v, want %v", exports, want)
	}
	for i := range want {
		if exports[i] != want[i] {
			t.Errorf("exports[%d] = %s, want %s", i, exports[i], want[i])
		}
	}

	if _, err := p.Validate(ctx, illegalImport); err == nil {
		t.Error("module with illegal import accepted")
	}

	if _, err := p.Validate(ctx, []byte("not wasm")); err == nil {
		t.Error("garbage accepted")
	}
}

func TestLoadIdempotent(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	a, err := p.Load(ctx, testModule())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	b, err := p.Load(ctx, testModule())
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}

	if a != b {
		t.Error("same bytes produced different ids")
	}

	if !p.Loaded(a) {
		t.Error("module not loaded")
	}

	p.Unload(ctx, a)
	if p.Loaded(a) {
		t.Error("module still loaded after Unload")
	}
}

func TestCall(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	id, err := p.Load(ctx, testModule())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	out, used, err := p.Call(ctx, id, "Greeter.hello", nil, 10)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if string(out) != "hi" {
		t.Errorf("output = %q, want hi", out)
	}
	if used != 5 {
		t.Errorf("gas used = %d, want 5", used)
	}

	out, _, err = p.Call(ctx, id, "Greeter.quiet", []byte("ignored"), 10)
	if err != nil || len(out) != 0 {
		t.Errorf("quiet call = %q, %v", out, err)
	}
}

func TestCallErrors(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	if _, _, err := p.Call(ctx, ModuleID{1}, "Greeter.hello", nil, 10); !errors.Is(err, ErrModuleNotFound) {
		t.Errorf("unknown module: err = %v", err)
	}

	id, err := p.Load(ctx, testModule())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, _, err := p.Call(ctx, id, "Greeter.missing", nil, 10); !errors.Is(err, ErrFunctionNotExported) {
		t.Errorf("missing export: err = %v", err)
	}

	_, used, err := p.Call(ctx, id, "Greeter.burn", nil, 10)
	if !errors.Is(err, ErrGasExhausted) {
		t.Errorf("burn: err = %v, want ErrGasExhausted", err)
	}
	if used <= 10 {
		t.Errorf("gas used = %d, want more than the limit", used)
	}
}
