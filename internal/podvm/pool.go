package podvm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/zeebo/blake3"
)

var (
	// ErrModuleNotFound is returned when a module ID is not found in the pool.
	ErrModuleNotFound = errors.New("module not found")

	// ErrGasExhausted is returned when execution runs out of gas.
	ErrGasExhausted = errors.New("gas exhausted")

	// ErrFunctionNotExported is returned when the called function is not exported.
	ErrFunctionNotExported = errors.New("function not exported")
)

// hostImports are the only imports a module may declare, all from module "env".
var hostImports = map[string]bool{
	"gas":          true,
	"input_len":    true,
	"read_input":   true,
	"write_output": true,
}

// ModuleID identifies a compiled module: the blake3 hash of its bytes.
type ModuleID [32]byte

// Pool keeps compiled wasm modules of installed jars.
// Modules are compiled once and instantiated for every call.
type Pool struct {
	runtime wazero.Runtime                     // runtime is the wazero runtime instance
	modules map[ModuleID]wazero.CompiledModule // modules maps module ids to compiled modules
	mu      sync.RWMutex                       // mu protects modules
	execMu  sync.Mutex                         // execMu serializes instantiation of the "env" host module
}

// New creates a Pool with a fresh wazero runtime.
func New() *Pool {
	return &Pool{
		runtime: wazero.NewRuntime(context.Background()),
		modules: make(map[ModuleID]wazero.CompiledModule),
	}
}

// Validate compiles a module without keeping it and returns the sorted names
// of its exported functions. It fails if the module imports anything other
// than the host functions.
func (p *Pool) Validate(ctx context.Context, wasmBytes []byte) ([]string, error) {
	compiled, err := p.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compile module:\n%w", err)
	}
	defer compiled.Close(ctx)

	for _, def := range compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		if module != "env" || !hostImports[name] {
			return nil, fmt.Errorf("illegal import %s.%s", module, name)
		}
	}

	exports := make([]string, 0, len(compiled.ExportedFunctions()))
	for name := range compiled.ExportedFunctions() {
		exports = append(exports, name)
	}
	sort.Strings(exports)

	return exports, nil
}

// Load compiles and stores a module, returning its id. Loading the same bytes twice is a no-op.
func (p *Pool) Load(ctx context.Context, wasmBytes []byte) (ModuleID, error) {
	id := ModuleID(blake3.Sum256(wasmBytes))

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.modules[id]; exists {
		return id, nil
	}

	compiled, err := p.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return ModuleID{}, fmt.Errorf("compile module:\n%w", err)
	}

	p.modules[id] = compiled

	return id, nil
}

// Call runs an exported function of a loaded module with the given input and gas limit.
// Returns the output bytes written by the module and the gas consumed.
func (p *Pool) Call(ctx context.Context, id ModuleID, function string, input []byte, gasLimit uint64) ([]byte, uint64, error) {
	p.mu.RLock()
	compiled, exists := p.modules[id]
	p.mu.RUnlock()

	if !exists {
		return nil, 0, ErrModuleNotFound
	}

	p.execMu.Lock()
	defer p.execMu.Unlock()

	execCtx := &execContext{input: input, gasLimit: gasLimit}

	hostModule, err := p.buildHostModule(ctx, execCtx)
	if err != nil {
		return nil, 0, fmt.Errorf("build host module:\n%w", err)
	}
	defer hostModule.Close(ctx)

	instance, err := p.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, execCtx.gasUsed, fmt.Errorf("instantiate module:\n%w", err)
	}
	defer instance.Close(ctx)

	execCtx.memory = instance.Memory()

	return p.callExported(ctx, instance, function, execCtx)
}

// callExported calls a function exported by the instance.
func (p *Pool) callExported(ctx context.Context, instance api.Module, function string, execCtx *execContext) ([]byte, uint64, error) {
	fn := instance.ExportedFunction(function)
	if fn == nil {
		return nil, execCtx.gasUsed, fmt.Errorf("%w: %s", ErrFunctionNotExported, function)
	}

	if _, err := fn.Call(ctx); err != nil {
		if execCtx.gasExhausted {
			return nil, execCtx.gasUsed, ErrGasExhausted
		}

		return nil, execCtx.gasUsed, fmt.Errorf("call %s:\n%w", function, err)
	}

	return execCtx.output, execCtx.gasUsed, nil
}

// Loaded reports whether a module is in the pool.
func (p *Pool) Loaded(id ModuleID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	_, ok := p.modules[id]

	return ok
}

// Unload removes a module from the pool.
func (p *Pool) Unload(ctx context.Context, id ModuleID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if compiled, exists := p.modules[id]; exists {
		compiled.Close(ctx)
		delete(p.modules, id)
	}
}

// Close releases all resources held by the pool.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, compiled := range p.modules {
		compiled.Close(ctx)
		delete(p.modules, id)
	}

	return p.runtime.Close(ctx)
}
