package wasmmod

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"
	"go.uber.org/zap"

	"github.com/wippyai/carrica/errors"
)

// Config holds engine options.
type Config struct {
	// MemoryLimitPages caps linear memory (64KiB pages). Zero keeps the
	// wazero default.
	MemoryLimitPages uint32
}

// Engine compiles and instantiates core wasm modules on one wazero runtime.
type Engine struct {
	runtime wazero.Runtime
	mu      sync.Mutex
	closed  bool
}

// NewEngine creates an engine with default configuration.
func NewEngine(ctx context.Context) *Engine {
	return NewEngineWithConfig(ctx, nil)
}

// NewEngineWithConfig creates an engine with custom configuration.
func NewEngineWithConfig(ctx context.Context, cfg *Config) *Engine {
	rc := wazero.NewRuntimeConfig()
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	return &Engine{runtime: wazero.NewRuntimeWithConfig(ctx, rc)}
}

// Compile compiles wasm, checks every function of witText against the
// module's exports and instantiates it. The exports become static methods
// of class in the guest module name.
func (e *Engine) Compile(ctx context.Context, name, class string, wasm []byte, witText string) (*Module, error) {
	sigs, err := ParseSignatures(witText)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.Released(errors.PhaseWasm, "wasm engine")
	}

	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errors.Load("compile wasm module "+name, err)
	}
	inst, err := e.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		compiled.Close(ctx)
		return nil, errors.Load("instantiate wasm module "+name, err)
	}

	m := &Module{
		name:     name,
		class:    class,
		compiled: compiled,
		instance: inst,
		exports:  make(map[string]*export, len(sigs)),
	}
	for _, n := range sortedNames(sigs) {
		sig := sigs[n]
		fn := inst.ExportedFunction(n)
		if fn == nil {
			m.Close(ctx)
			return nil, errors.NotFound(errors.PhaseWasm, "export", n)
		}
		if err := checkTypes(sig, fn.Definition()); err != nil {
			m.Close(ctx)
			return nil, err
		}
		m.exports[sig.GuestSignature()] = &export{sig: sig, fn: fn}
		m.order = append(m.order, sig.GuestSignature())
	}

	Logger().Debug("wasm module compiled",
		zap.String("module", name), zap.String("class", class), zap.Int("exports", len(m.exports)))
	return m, nil
}

// Close releases the runtime and every module compiled by it.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.runtime.Close(ctx)
}

// coreType returns the core wasm type a WIT scalar is passed as.
func coreType(t any) api.ValueType {
	switch t.(type) {
	case wit.S64, wit.U64:
		return api.ValueTypeI64
	case wit.F32:
		return api.ValueTypeF32
	case wit.F64:
		return api.ValueTypeF64
	}
	return api.ValueTypeI32
}

func checkTypes(sig *Signature, def api.FunctionDefinition) error {
	mismatch := func(what string) error {
		return errors.New(errors.PhaseWasm, errors.KindTypeMismatch).
			Category(errors.CategoryConfiguration).
			Path(sig.Name).
			Detail("%s do not match the WIT signature", what).
			Build()
	}
	params := def.ParamTypes()
	if len(params) != len(sig.Params) {
		return mismatch("parameter counts")
	}
	for i, p := range sig.Params {
		if coreType(p) != params[i] {
			return mismatch("parameter types")
		}
	}
	results := def.ResultTypes()
	if len(results) != len(sig.Results) {
		return mismatch("result counts")
	}
	for i, r := range sig.Results {
		if coreType(r) != results[i] {
			return mismatch("result types")
		}
	}
	return nil
}
