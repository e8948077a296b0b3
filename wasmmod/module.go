package wasmmod

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"
	"go.uber.org/zap"

	"github.com/wippyai/carrica/errors"
	"github.com/wippyai/carrica/guest"
)

type export struct {
	sig *Signature
	fn  api.Function
}

// Module is an instantiated wasm module. It implements the binding and
// declaration interfaces of the module package, exposing each export as a
// foreign static method.
type Module struct {
	name     string
	class    string
	compiled wazero.CompiledModule
	instance api.Module
	exports  map[string]*export
	order    []string

	// mu serializes calls: the instance is shared by every VM.
	mu sync.Mutex
}

// Name returns the guest module name.
func (m *Module) Name() string { return m.name }

// Class returns the guest class name.
func (m *Module) Class() string { return m.class }

// Declarations returns the guest class declaring every export.
func (m *Module) Declarations() string {
	var b strings.Builder
	fmt.Fprintf(&b, "class %s {\n", m.class)
	for _, gs := range m.order {
		e := m.exports[gs]
		params := make([]string, len(e.sig.Params))
		for i := range params {
			params[i] = fmt.Sprintf("a%d", i)
		}
		fmt.Fprintf(&b, "  foreign static %s(%s)\n", e.sig.GuestName(), strings.Join(params, ", "))
	}
	b.WriteString("}\n")
	return b.String()
}

// BindMethod resolves a static method of the module's class.
func (m *Module) BindMethod(class string, isStatic bool, signature string) guest.ForeignMethod {
	if class != m.class || !isStatic {
		return nil
	}
	e, ok := m.exports[signature]
	if !ok {
		return nil
	}
	return func(vm guest.VM) {
		args := make([]any, len(e.sig.Params))
		for i := range args {
			switch vm.SlotType(i + 1) {
			case guest.TypeNum:
				args[i] = vm.SlotDouble(i + 1)
			case guest.TypeBool:
				args[i] = vm.SlotBool(i + 1)
			default:
				abort(vm, errors.New(errors.PhaseWasm, errors.KindTypeMismatch).
					Category(errors.CategoryGuest).
					Path(m.class, signature).
					GuestType(vm.SlotType(i+1).String()).
					Detail("argument %d must be a number or a bool", i+1).
					Build())
				return
			}
		}
		res, err := m.call(context.Background(), e, args)
		if err != nil {
			abort(vm, err)
			return
		}
		switch x := res.(type) {
		case nil:
			vm.SetSlotNull(0)
		case bool:
			vm.SetSlotBool(0, x)
		case float64:
			vm.SetSlotDouble(0, x)
		}
	}
}

// BindClass reports no foreign classes; the module class is a plain class
// with foreign statics.
func (m *Module) BindClass(string) (guest.ForeignClass, bool) {
	return guest.ForeignClass{}, false
}

func abort(vm guest.VM, err error) {
	vm.SetSlotString(0, err.Error())
	vm.AbortFiber(0)
}

// Call invokes an export by its WIT name. Arguments are Go numbers or
// bools; the result is a float64, a bool or nil.
func (m *Module) Call(ctx context.Context, name string, args ...any) (any, error) {
	for _, e := range m.exports {
		if e.sig.Name == name {
			return m.call(ctx, e, args)
		}
	}
	return nil, errors.NotFound(errors.PhaseWasm, "export", name)
}

func (m *Module) call(ctx context.Context, e *export, args []any) (any, error) {
	if len(args) != len(e.sig.Params) {
		return nil, errors.New(errors.PhaseWasm, errors.KindArity).
			Category(errors.CategoryGuest).
			Path(m.class, e.sig.Name).
			Detail("expected %d arguments, got %d", len(e.sig.Params), len(args)).
			Build()
	}
	raw := make([]uint64, len(args))
	for i, a := range args {
		v, err := lower(a, e.sig.Params[i])
		if err != nil {
			return nil, errors.New(errors.PhaseWasm, errors.KindTypeMismatch).
				Category(errors.CategoryGuest).
				Path(m.class, e.sig.Name).
				GoType(fmt.Sprintf("%T", a)).
				Detail("argument %d: %v", i, err).
				Build()
		}
		raw[i] = v
	}

	m.mu.Lock()
	out, err := e.fn.Call(ctx, raw...)
	m.mu.Unlock()
	if err != nil {
		Logger().Debug("wasm call failed", zap.String("export", e.sig.Name), zap.Error(err))
		return nil, errors.New(errors.PhaseWasm, errors.KindGuestRuntime).
			Category(errors.CategoryGuest).
			Path(m.class, e.sig.Name).
			Cause(err).
			Detail("wasm trap").
			Build()
	}
	if len(e.sig.Results) == 0 {
		return nil, nil
	}
	return lift(out[0], e.sig.Results[0]), nil
}

func toFloat(a any) (float64, bool) {
	switch x := a.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	}
	return 0, false
}

// lower converts a Go value to the core representation of t.
func lower(a any, t wit.Type) (uint64, error) {
	if _, ok := t.(wit.Bool); ok {
		b, ok := a.(bool)
		if !ok {
			return 0, fmt.Errorf("expected bool")
		}
		if b {
			return 1, nil
		}
		return 0, nil
	}
	n, ok := toFloat(a)
	if !ok {
		return 0, fmt.Errorf("expected a number")
	}
	switch t.(type) {
	case wit.F32:
		return api.EncodeF32(float32(n)), nil
	case wit.F64:
		return api.EncodeF64(n), nil
	}
	if n != math.Trunc(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("expected an integer, got %v", n)
	}
	switch t.(type) {
	case wit.S64:
		return api.EncodeI64(int64(n)), nil
	case wit.U64:
		return uint64(n), nil
	case wit.S8, wit.S16, wit.S32:
		return api.EncodeI32(int32(n)), nil
	}
	return api.EncodeU32(uint32(n)), nil
}

// lift converts a core result of type t to a guest value.
func lift(v uint64, t wit.Type) any {
	switch t.(type) {
	case wit.Bool:
		return uint32(v) != 0
	case wit.S8:
		return float64(int8(v))
	case wit.U8:
		return float64(uint8(v))
	case wit.S16:
		return float64(int16(v))
	case wit.U16:
		return float64(uint16(v))
	case wit.S32:
		return float64(int32(uint32(v)))
	case wit.U32:
		return float64(uint32(v))
	case wit.S64:
		return float64(int64(v))
	case wit.U64:
		return float64(v)
	case wit.F32:
		return float64(api.DecodeF32(v))
	case wit.F64:
		return api.DecodeF64(v)
	}
	return nil
}

// Close releases the module instance.
func (m *Module) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.instance.Close(ctx)
	if cerr := m.compiled.Close(ctx); err == nil {
		err = cerr
	}
	return err
}
