package runtime

import (
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/carrica/errors"
	"github.com/wippyai/carrica/guest"
	"github.com/wippyai/carrica/marshal"
)

// Method is a cached handle to a guest method: the class it is called on
// and the call handle for its signature. Methods are only called on the
// class itself, so they are static methods or constructors.
type Method struct {
	inst      *Instance
	key       string
	module    string
	class     string
	signature string
	arity     int

	classHandle guest.Handle
	callHandle  guest.Handle
	freed       bool
}

func methodKey(moduleName, class, signature string) string {
	return moduleName + ":" + class + "." + signature
}

// arity counts the parameters of a signature such as "call(_,_)" or
// "[_]=(_)".
func arity(signature string) int {
	start := strings.IndexAny(signature, "([")
	if start < 0 {
		return 0
	}
	return strings.Count(signature[start:], "_")
}

// Key returns the cache key, "module:class.signature".
func (m *Method) Key() string { return m.key }

// Arity returns the number of arguments Call expects.
func (m *Method) Arity() int { return m.arity }

// GetMethod returns the cached handle for a method of a top level class,
// creating it on first use. A module the guest has not loaded or a class it
// does not define is a recoverable not found error.
func (i *Instance) GetMethod(moduleName, class, signature string) (*Method, error) {
	if err := i.enter("GetMethod"); err != nil {
		return nil, err
	}
	defer i.leave()

	key := methodKey(moduleName, class, signature)
	if m, ok := i.methods[key]; ok {
		return m, nil
	}
	if !i.vm.HasModule(moduleName) {
		return nil, errors.NotFound(errors.PhaseCall, "module", moduleName)
	}
	if !i.vm.HasVariable(moduleName, class) {
		return nil, errors.NotFound(errors.PhaseCall, "class", moduleName+"."+class)
	}

	i.vm.EnsureSlots(1)
	i.vm.Variable(moduleName, class, 0)
	m := &Method{
		inst:        i,
		key:         key,
		module:      moduleName,
		class:       class,
		signature:   signature,
		arity:       arity(signature),
		classHandle: i.vm.SlotHandle(0),
		callHandle:  i.vm.MakeCallHandle(signature),
	}
	i.vm.SetSlotNull(0)
	i.methods[key] = m
	i.log.Debug("method cached", zap.String("method", key))
	return m, nil
}

// FreeMethod drops a cached method and releases its handles. Unknown keys
// are ignored.
func (i *Instance) FreeMethod(moduleName, class, signature string) error {
	if err := i.check("FreeMethod"); err != nil {
		return err
	}
	key := methodKey(moduleName, class, signature)
	if m, ok := i.methods[key]; ok {
		m.free()
		delete(i.methods, key)
	}
	return nil
}

func (m *Method) free() {
	if m.freed {
		return
	}
	m.freed = true
	if vm := m.inst.vm; vm != nil {
		vm.ReleaseHandle(m.classHandle)
		vm.ReleaseHandle(m.callHandle)
	}
}

// Call invokes the method with the class as receiver. Containers in args
// and in the result are shared, not copied: the guest receives a proxy and
// the host receives an *Array, *Table or *Entry holding its own reference.
func (m *Method) Call(args ...any) (any, error) {
	i := m.inst
	if err := i.enter("Method.Call"); err != nil {
		return nil, err
	}
	defer i.leave()

	if m.freed {
		return nil, errors.New(errors.PhaseCall, errors.KindReleased).
			Category(errors.CategoryConfiguration).
			Path(m.key).
			Detail("method handle has been freed").
			Build()
	}
	if len(args) != m.arity {
		return nil, errors.New(errors.PhaseCall, errors.KindArity).
			Category(errors.CategoryConfiguration).
			Path(m.key).
			Detail("expected %d arguments, got %d", m.arity, len(args)).
			Build()
	}

	vm := i.vm
	vm.EnsureSlots(m.arity + 1)
	vm.SetSlotHandle(0, m.classHandle)
	mc := i.marshalContext(m.arity + 1)
	for n, a := range args {
		v, err := toValue(a)
		if err != nil {
			return nil, err
		}
		if err := mc.PushValue(n+1, v); err != nil {
			return nil, err
		}
	}

	if err := i.result(m.module, vm.Call(m.callHandle)); err != nil {
		return nil, err
	}
	if !marshal.IsHostSafe(vm, 0) {
		return nil, errors.New(errors.PhaseCall, errors.KindUnsupported).
			Category(errors.CategoryMarshal).
			Path(m.key).
			GuestType(vm.SlotType(0).String()).
			Detail("result cannot be returned to the host").
			Build()
	}
	v, err := mc.Pull(0)
	if err != nil {
		return nil, err
	}
	out, err := fromValue(i.rt.arena, v)
	vm.SetSlotNull(0)
	return out, err
}
