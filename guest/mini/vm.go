package mini

import (
	"errors"
	"slices"
	"strings"

	"github.com/wippyai/carrica/guest"
)

// module is a named variable namespace. Lookups fall back to the core
// module.
type module struct {
	name string
	vars map[string]any
	core *module
}

func (m *module) define(name string, v any) { m.vars[name] = v }

func (m *module) lookup(name string) (any, bool) {
	if v, ok := m.vars[name]; ok {
		return v, true
	}
	if m.core != nil {
		v, ok := m.core.vars[name]
		return v, ok
	}
	return nil, false
}

// valueHandle pins a guest value for the embedder.
type valueHandle struct{ v any }

// callHandle invokes a signature on the receiver in slot 0.
type callHandle struct {
	sig   string
	arity int
}

// Engine creates mini VMs.
type Engine struct{}

// NewVM implements guest.Engine.
func (Engine) NewVM(cfg guest.Config) guest.VM { return New(cfg) }

// VM is a tree walking interpreter implementing guest.VM.
type VM struct {
	cfg     guest.Config
	core    coreClasses
	modules map[string]*module
	slots   []any
	frames  []*frame
	handles map[*valueHandle]struct{}

	// foreigns tracks every live foreign object for finalization.
	foreigns []*Foreign
	allocs   int

	// depth counts active Interpret and Call invocations.
	depth int

	aborted    bool
	abortValue any
	freed      bool
}

var _ guest.VM = (*VM)(nil)

// New creates a VM with the core classes loaded.
func New(cfg guest.Config) *VM {
	vm := &VM{
		cfg:     cfg,
		modules: make(map[string]*module),
		handles: make(map[*valueHandle]struct{}),
	}
	vm.loadCore()
	return vm
}

func (vm *VM) newModule(name string) *module {
	m := &module{name: name, vars: make(map[string]any), core: vm.core.mod}
	vm.modules[name] = m
	return m
}

func (vm *VM) UserData() any { return vm.cfg.UserData }

func (vm *VM) Interpret(moduleName, source string) guest.Result {
	if vm.freed {
		return guest.ResultRuntimeError
	}
	stmts, err := parse(source)
	if err != nil {
		vm.reportCompile(moduleName, err)
		return guest.ResultCompileError
	}
	mod, ok := vm.modules[moduleName]
	if !ok {
		mod = vm.newModule(moduleName)
	}
	vm.depth++
	frames := vm.frames
	err = vm.runModule(mod, stmts)
	vm.frames = frames
	vm.depth--
	if err != nil {
		vm.reportRuntime(err)
		return guest.ResultRuntimeError
	}
	vm.maybeCollect()
	return guest.ResultSuccess
}

func (vm *VM) reportCompile(moduleName string, err error) {
	if vm.cfg.Error == nil {
		return
	}
	line := 0
	var se *syntaxError
	if errors.As(err, &se) {
		line = se.line
		vm.cfg.Error(vm, guest.ErrorCompile, moduleName, line, se.msg)
		return
	}
	vm.cfg.Error(vm, guest.ErrorCompile, moduleName, line, err.Error())
}

func (vm *VM) reportRuntime(err error) {
	if vm.cfg.Error == nil {
		return
	}
	var re *runtimeError
	if !errors.As(err, &re) {
		vm.cfg.Error(vm, guest.ErrorRuntime, "", -1, err.Error())
		return
	}
	vm.cfg.Error(vm, guest.ErrorRuntime, "", -1, display(re.value))
	for _, f := range re.trace {
		vm.cfg.Error(vm, guest.ErrorStackTrace, f.module, f.line, f.name)
	}
}

// Slots

func (vm *VM) EnsureSlots(n int) {
	if n > len(vm.slots) {
		vm.slots = append(vm.slots, make([]any, n-len(vm.slots))...)
	}
}

func (vm *VM) SlotCount() int { return len(vm.slots) }

func (vm *VM) SlotType(slot int) guest.SlotType {
	switch vm.slots[slot].(type) {
	case nil:
		return guest.TypeNull
	case bool:
		return guest.TypeBool
	case float64:
		return guest.TypeNum
	case string:
		return guest.TypeString
	case *List:
		return guest.TypeList
	case *Map:
		return guest.TypeMap
	case *Foreign:
		return guest.TypeForeign
	}
	return guest.TypeUnknown
}

func (vm *VM) SlotBool(slot int) bool {
	b, _ := vm.slots[slot].(bool)
	return b
}

func (vm *VM) SlotDouble(slot int) float64 {
	n, _ := vm.slots[slot].(float64)
	return n
}

func (vm *VM) SlotString(slot int) string {
	s, _ := vm.slots[slot].(string)
	return s
}

func (vm *VM) SlotForeign(slot int) any {
	if f, ok := vm.slots[slot].(*Foreign); ok {
		return f.data
	}
	return nil
}

func (vm *VM) SlotHandle(slot int) guest.Handle {
	h := &valueHandle{v: vm.slots[slot]}
	vm.handles[h] = struct{}{}
	return h
}

func (vm *VM) SetSlotBool(slot int, v bool)      { vm.slots[slot] = v }
func (vm *VM) SetSlotDouble(slot int, v float64) { vm.slots[slot] = v }
func (vm *VM) SetSlotString(slot int, v string)  { vm.slots[slot] = v }
func (vm *VM) SetSlotNull(slot int)              { vm.slots[slot] = nil }
func (vm *VM) SetSlotNewList(slot int)           { vm.slots[slot] = &List{} }

func (vm *VM) SetSlotHandle(slot int, h guest.Handle) {
	if vh, ok := h.(*valueHandle); ok {
		vm.slots[slot] = vh.v
		return
	}
	vm.slots[slot] = nil
}

func (vm *VM) SetSlotNewForeign(slot, classSlot int, data any) {
	cls, ok := vm.slots[classSlot].(*Class)
	if !ok || !cls.foreign {
		panic("mini: SetSlotNewForeign: slot does not hold a foreign class")
	}
	f := &Foreign{class: cls, data: data}
	vm.foreigns = append(vm.foreigns, f)
	vm.allocs++
	vm.slots[slot] = f
}

func (vm *VM) ListCount(slot int) int {
	if l, ok := vm.slots[slot].(*List); ok {
		return len(l.elems)
	}
	return 0
}

func (vm *VM) ListElement(listSlot, index, elementSlot int) {
	l := vm.slots[listSlot].(*List)
	vm.slots[elementSlot] = l.elems[index]
}

func (vm *VM) InsertInList(listSlot, index, elementSlot int) {
	l := vm.slots[listSlot].(*List)
	v := vm.slots[elementSlot]
	if index < 0 {
		index += len(l.elems) + 1
	}
	l.elems = slices.Insert(l.elems, index, v)
}

// Lookups

func (vm *VM) HasModule(name string) bool {
	_, ok := vm.modules[name]
	return ok
}

func (vm *VM) HasVariable(moduleName, name string) bool {
	m, ok := vm.modules[moduleName]
	if !ok {
		return false
	}
	_, ok = m.vars[name]
	return ok
}

func (vm *VM) Variable(moduleName, name string, slot int) {
	var v any
	if m, ok := vm.modules[moduleName]; ok {
		v = m.vars[name]
	}
	vm.slots[slot] = v
}

// Calls

// MakeCallHandle takes the arity from the underscores in the parameter
// list of sig.
func (vm *VM) MakeCallHandle(sig string) guest.Handle {
	start := strings.IndexAny(sig, "([")
	arity := 0
	if start >= 0 {
		arity = strings.Count(sig[start:], "_")
	}
	return &callHandle{sig: sig, arity: arity}
}

func (vm *VM) Call(h guest.Handle) guest.Result {
	ch, ok := h.(*callHandle)
	if !ok || vm.freed {
		return guest.ResultRuntimeError
	}
	vm.EnsureSlots(ch.arity + 1)
	args := slices.Clone(vm.slots[1 : ch.arity+1])

	vm.depth++
	frames := vm.frames
	v, err := vm.invoke(vm.slots[0], ch.sig, args)
	vm.frames = frames
	vm.depth--
	if err != nil {
		vm.reportRuntime(err)
		return guest.ResultRuntimeError
	}
	vm.slots[0] = v
	vm.maybeCollect()
	return guest.ResultSuccess
}

func (vm *VM) ReleaseHandle(h guest.Handle) {
	if vh, ok := h.(*valueHandle); ok {
		delete(vm.handles, vh)
	}
}

func (vm *VM) AbortFiber(slot int) {
	vm.aborted = true
	vm.abortValue = vm.slots[slot]
}
