package runtime

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/carrica/container"
	"github.com/wippyai/carrica/errors"
	"github.com/wippyai/carrica/guest"
	"github.com/wippyai/carrica/internal/builtin"
	"github.com/wippyai/carrica/loader"
	"github.com/wippyai/carrica/marshal"
	"github.com/wippyai/carrica/module"
)

// WriteFunc receives System.print output.
type WriteFunc func(text string)

// ErrorFunc receives guest compile errors, runtime errors and stack frames.
type ErrorFunc func(kind guest.ErrorKind, module string, line int, message string)

// guestError is the first error the guest reported during a call.
type guestError struct {
	set    bool
	module string
	line   int
	msg    string
}

// Instance wraps one guest VM. An instance is single threaded: calls that
// overlap, including calls made from host functions the guest is running,
// fail with a reentrant error.
type Instance struct {
	rt    *Runtime
	id    int
	name  string
	uuid  uuid.UUID
	log   *zap.Logger
	valid atomic.Bool

	vm      guest.VM
	local   *module.Registry
	chain   *module.Chain
	methods map[string]*Method
	classes map[marshal.Tag]guest.Handle

	running  atomic.Bool
	pending  error
	guestErr guestError

	// Kept across Renew.
	load    loader.Func
	write   WriteFunc
	onError ErrorFunc
	hosts   *HostRegistry
	consts  map[string]any
	constMu sync.RWMutex
}

func (i *Instance) start(name string) error {
	i.id = i.rt.vms.acquire(i)
	if name == "" {
		name = strconv.Itoa(i.id)
	}
	i.name = name
	i.uuid = uuid.New()
	i.log = i.rt.log.With(zap.String("vm", name), zap.Int("slot", i.id))
	i.local = module.NewRegistry("local")
	i.chain = module.NewChain(i.rt.internal, i.rt.shared, i.local)
	i.methods = make(map[string]*Method)
	i.classes = make(map[marshal.Tag]guest.Handle)
	i.pending = nil
	i.guestErr = guestError{}

	e := &env{inst: i}
	i.vm = i.rt.engine.NewVM(guest.Config{
		UserData:          e,
		Write:             e.write,
		Error:             e.report,
		LoadModule:        e.loadModule,
		BindForeignMethod: e.bindMethod,
		BindForeignClass:  e.bindClass,
	})
	i.valid.Store(true)

	src, _ := i.rt.internal.Text()
	res := i.vm.Interpret(builtin.Name, src)
	if err := i.result(builtin.Name, res); err != nil {
		_ = i.Release()
		return errors.Wrap(errors.PhaseInstance, errors.KindCompile, err, "loading module "+builtin.Name)
	}

	i.log.Debug("instance created", zap.String("uuid", i.uuid.String()))
	i.rt.Debugf("vm %s created in slot %d", name, i.id)
	return nil
}

// ID returns the uuid assigned when the instance was last created.
func (i *Instance) ID() uuid.UUID { return i.uuid }

// Name returns the display name.
func (i *Instance) Name() string { return i.name }

// Slot returns the registry slot id. It is only meaningful while valid.
func (i *Instance) Slot() int { return i.id }

// Runtime returns the runtime that created the instance.
func (i *Instance) Runtime() *Runtime { return i.rt }

// IsValid reports whether the instance has a live guest VM.
func (i *Instance) IsValid() bool { return i.valid.Load() }

func (i *Instance) check(op string) error {
	if !i.valid.Load() {
		return errors.InvalidInstance(op)
	}
	return nil
}

// enter claims the VM for a host initiated call.
func (i *Instance) enter(op string) error {
	if err := i.check(op); err != nil {
		return err
	}
	if !i.running.CompareAndSwap(false, true) {
		return errors.Reentrant(op)
	}
	i.pending = nil
	i.guestErr = guestError{}
	return nil
}

func (i *Instance) leave() { i.running.Store(false) }

// fail records an error that takes precedence over the guest result of the
// call in progress. The first one wins.
func (i *Instance) fail(err error) {
	if i.pending == nil {
		i.pending = err
	}
}

// result turns a guest result into the error the host call returns.
func (i *Instance) result(moduleName string, res guest.Result) error {
	if err := i.pending; err != nil {
		i.pending = nil
		return err
	}
	if res == guest.ResultSuccess {
		return nil
	}
	kind := errors.KindGuestRuntime
	if res == guest.ResultCompileError {
		kind = errors.KindCompile
	}
	ge := i.guestErr
	i.guestErr = guestError{}
	if ge.module == "" {
		ge.module = moduleName
	}
	return errors.Guest(kind, ge.module, ge.line, ge.msg)
}

// Interpret runs source in a module, by default the configured one.
func (i *Instance) Interpret(source string, moduleName ...string) error {
	if err := i.enter("Interpret"); err != nil {
		return err
	}
	defer i.leave()

	name := i.rt.cfg.DefaultModule
	if len(moduleName) > 0 && moduleName[0] != "" {
		name = moduleName[0]
	}
	return i.result(name, i.vm.Interpret(name, source))
}

// HasModule reports whether the guest has loaded a module.
func (i *Instance) HasModule(name string) (bool, error) {
	if err := i.check("HasModule"); err != nil {
		return false, err
	}
	return i.vm.HasModule(name), nil
}

// HasVariable reports whether a loaded module defines a top level variable.
func (i *Instance) HasVariable(moduleName, name string) (bool, error) {
	if err := i.check("HasVariable"); err != nil {
		return false, err
	}
	return i.vm.HasVariable(moduleName, name), nil
}

// CollectGarbage runs guest finalizers of unreachable containers.
func (i *Instance) CollectGarbage() error {
	if err := i.enter("CollectGarbage"); err != nil {
		return err
	}
	defer i.leave()
	i.vm.CollectGarbage()
	return nil
}

// NewArray creates a shared array holding items.
func (i *Instance) NewArray(items ...any) (*Array, error) {
	if err := i.check("NewArray"); err != nil {
		return nil, err
	}
	vs, err := toValues(items)
	if err != nil {
		return nil, err
	}
	ref, err := i.rt.arena.NewArray(vs...)
	if err != nil {
		return nil, err
	}
	w, err := wrapOwned(i.rt.arena, ref)
	if err != nil {
		return nil, err
	}
	return w.(*Array), nil
}

// NewTable creates an empty shared table.
func (i *Instance) NewTable() (*Table, error) {
	if err := i.check("NewTable"); err != nil {
		return nil, err
	}
	ref, err := i.rt.arena.NewTable()
	if err != nil {
		return nil, err
	}
	w, err := wrapOwned(i.rt.arena, ref)
	if err != nil {
		return nil, err
	}
	return w.(*Table), nil
}

// SetLoadFunction sets the loader consulted for modules the resolution
// chain does not know. Nil clears it.
func (i *Instance) SetLoadFunction(fn loader.Func) error {
	if err := i.check("SetLoadFunction"); err != nil {
		return err
	}
	i.load = fn
	return nil
}

// SetLoadPreset sets the loader from a preset name: "os.filesystem",
// "io.fs" or "sql".
func (i *Instance) SetLoadPreset(name string) error {
	if err := i.check("SetLoadPreset"); err != nil {
		return err
	}
	fn, err := i.rt.preset(name)
	if err != nil {
		return err
	}
	i.load = fn
	return nil
}

// SetHandler sets the "write" handler (a WriteFunc) or the "error" handler
// (an ErrorFunc). Nil restores the default.
func (i *Instance) SetHandler(name string, fn any) error {
	if err := i.check("SetHandler"); err != nil {
		return err
	}
	return i.setHandler(name, fn)
}

// SetHandlers calls SetHandler for each entry.
func (i *Instance) SetHandlers(handlers map[string]any) error {
	if err := i.check("SetHandlers"); err != nil {
		return err
	}
	for name, fn := range handlers {
		if err := i.setHandler(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func (i *Instance) setHandler(name string, fn any) error {
	bad := func(want string) error {
		return errors.New(errors.PhaseConfig, errors.KindTypeMismatch).
			Category(errors.CategoryConfiguration).
			Path("handler", name).
			GoType(fmt.Sprintf("%T", fn)).
			Detail("handler must be %s", want).
			Build()
	}
	switch name {
	case "write":
		switch f := fn.(type) {
		case nil:
			i.write = nil
		case WriteFunc:
			i.write = f
		case func(string):
			i.write = f
		default:
			return bad("func(string)")
		}
	case "error":
		switch f := fn.(type) {
		case nil:
			i.onError = nil
		case ErrorFunc:
			i.onError = f
		case func(guest.ErrorKind, string, int, string):
			i.onError = f
		default:
			return bad("func(guest.ErrorKind, string, int, string)")
		}
	default:
		return errors.Config(errors.PhaseConfig, errors.KindInvalidInput, fmt.Sprintf("unknown handler %q", name))
	}
	return nil
}

// RegisterFunc makes fn callable from the guest through Host.ref(name).
func (i *Instance) RegisterFunc(name string, fn any) error {
	if err := i.check("RegisterFunc"); err != nil {
		return err
	}
	return i.hosts.RegisterFunc(name, fn)
}

// RegisterHost registers every exported method of h.
func (i *Instance) RegisterHost(h Host) error {
	if err := i.check("RegisterHost"); err != nil {
		return err
	}
	return i.hosts.RegisterHost(h)
}

// SetConst sets a constant the guest reads with Host.const(name). The
// value must be a scalar or a shared container; nil removes it.
func (i *Instance) SetConst(name string, v any) error {
	if err := i.check("SetConst"); err != nil {
		return err
	}
	if v != nil {
		if _, err := toValue(v); err != nil {
			return err
		}
	}
	i.constMu.Lock()
	defer i.constMu.Unlock()
	if v == nil {
		delete(i.consts, name)
		return nil
	}
	i.consts[name] = v
	return nil
}

// InstallModule adds a source module visible to this instance only.
func (i *Instance) InstallModule(name, source string) error {
	if err := i.check("InstallModule"); err != nil {
		return err
	}
	d, err := module.NewSource(name, source)
	if err != nil {
		return err
	}
	return i.install(d)
}

// InstallBinaryModule adds a native module visible to this instance only.
func (i *Instance) InstallBinaryModule(name string, b module.Binding) error {
	if err := i.check("InstallBinaryModule"); err != nil {
		return err
	}
	d, err := module.NewBinary(name, b)
	if err != nil {
		return err
	}
	return i.install(d)
}

func (i *Instance) install(d *module.Descriptor) error {
	if d.Name == builtin.Name {
		return errors.Config(errors.PhaseModule, errors.KindInvalidInput, "module name "+builtin.Name+" is reserved")
	}
	if i.local.Install(d) {
		i.log.Debug("local module installed", zap.String("module", d.Name))
	}
	return nil
}

// Modules returns the names the resolution chain serves, in lookup order.
func (i *Instance) Modules() ([]string, error) {
	if err := i.check("Modules"); err != nil {
		return nil, err
	}
	return i.chain.Names(), nil
}

// Release frees the guest VM, the method cache and the class handles, and
// gives the slot back. The instance stays inspectable. Releasing twice is a
// no-op.
func (i *Instance) Release() error {
	if i.running.Load() && i.valid.Load() {
		return errors.Reentrant("Release")
	}
	if !i.valid.CompareAndSwap(true, false) {
		return nil
	}
	for key, m := range i.methods {
		m.free()
		delete(i.methods, key)
	}
	for tag, h := range i.classes {
		i.vm.ReleaseHandle(h)
		delete(i.classes, tag)
	}
	i.vm.Free()
	i.vm = nil
	i.rt.vms.release(i.id, i)
	i.log.Debug("instance released")
	return nil
}

// Renew gives a released instance a new slot and a fresh guest VM. Host
// functions, constants, handlers and the loader are kept; local modules and
// cached methods are not.
func (i *Instance) Renew(name string) error {
	if i.valid.Load() {
		return errors.Config(errors.PhaseInstance, errors.KindInvalidInstance, "Renew called on a live instance")
	}
	if err := i.rt.checkOpen("Renew"); err != nil {
		return err
	}
	if name == "" {
		name = i.name
	}
	return i.start(name)
}

// classHandle returns the guest class for a container tag, resolving it
// from the carrica module on first use.
func (i *Instance) classHandle(tag marshal.Tag) (guest.Handle, error) {
	if h, ok := i.classes[tag]; ok {
		return h, nil
	}
	name := tag.String()
	if !i.vm.HasVariable(builtin.Name, name) {
		return nil, errors.NotFound(errors.PhaseMarshal, "class", builtin.Name+"."+name)
	}
	slot := i.vm.SlotCount()
	i.vm.EnsureSlots(slot + 1)
	i.vm.Variable(builtin.Name, name, slot)
	h := i.vm.SlotHandle(slot)
	i.vm.SetSlotNull(slot)
	i.classes[tag] = h
	return h, nil
}

func (i *Instance) marshalContext(base int) *marshal.Context {
	return &marshal.Context{
		VM:      i.vm,
		Arena:   i.rt.arena,
		Classes: classSource{i},
		Owner:   i,
		Base:    base,
	}
}

type classSource struct{ inst *Instance }

func (c classSource) ClassHandle(tag marshal.Tag) (guest.Handle, error) {
	return c.inst.classHandle(tag)
}

// env is the guest VM's user data. It connects guest callbacks and the
// built-in classes back to the instance.
type env struct {
	inst *Instance
}

var _ builtin.Env = (*env)(nil)

func (e *env) Marshal(vm guest.VM) *marshal.Context {
	c := e.inst.marshalContext(0)
	c.VM = vm
	return c
}

func (e *env) HostName() string { return e.inst.rt.cfg.HostName }

func (e *env) Const(name string) (any, bool) {
	e.inst.constMu.RLock()
	defer e.inst.constMu.RUnlock()
	v, ok := e.inst.consts[name]
	return v, ok
}

func (e *env) FuncRef(name string) int { return e.inst.hosts.Ref(name) }

// CallFunc runs a host function. Containers arrive as wrappers holding
// their own reference.
func (e *env) CallFunc(ref int, args []container.Value) (any, error) {
	hostArgs, err := fromValues(e.inst.rt.arena, args)
	if err != nil {
		return nil, err
	}
	return e.inst.hosts.Call(context.Background(), ref, hostArgs)
}

func (e *env) Fail(err error) { e.inst.fail(err) }

func (e *env) write(_ guest.VM, text string) {
	if w := e.inst.write; w != nil {
		w(text)
		return
	}
	fmt.Fprint(e.inst.rt.stdout, text)
}

func (e *env) report(_ guest.VM, kind guest.ErrorKind, moduleName string, line int, msg string) {
	i := e.inst
	switch kind {
	case guest.ErrorCompile, guest.ErrorRuntime:
		if !i.guestErr.set {
			i.guestErr = guestError{set: true, module: moduleName, line: line, msg: msg}
		}
	case guest.ErrorStackTrace:
		if i.guestErr.set && i.guestErr.line < 0 {
			i.guestErr.module = moduleName
			i.guestErr.line = line
		}
	}

	if h := i.onError; h != nil {
		h(kind, moduleName, line, msg)
		return
	}
	switch kind {
	case guest.ErrorCompile:
		i.log.Warn(fmt.Sprintf("[%s line %d] %s", moduleName, line, msg))
	case guest.ErrorRuntime:
		i.log.Warn(msg)
	case guest.ErrorStackTrace:
		i.log.Warn(fmt.Sprintf("[%s line %d] in %s", moduleName, line, msg))
	}
}

// loadModule serves imports from the resolution chain, then the loader.
func (e *env) loadModule(_ guest.VM, name string) (string, bool) {
	i := e.inst
	if src, ok := i.chain.Text(name); ok {
		return src, true
	}
	if i.load != nil {
		src, err := i.load(name)
		if err == nil {
			i.rt.Debugf("module %s loaded", name)
			return src, true
		}
		i.fail(errors.New(errors.PhaseLoad, errors.KindNotFound).
			Category(errors.CategoryConfiguration).
			Path(name).
			Cause(err).
			Detail("could not find module %s", name).
			Build())
		return "", false
	}
	i.fail(errors.Config(errors.PhaseLoad, errors.KindNotFound, "could not find module "+name))
	return "", false
}

func (e *env) bindMethod(_ guest.VM, moduleName, class string, isStatic bool, sig string) guest.ForeignMethod {
	fn, err := e.inst.chain.BindMethod(moduleName, class, isStatic, sig)
	if err != nil {
		e.inst.fail(err)
		return nil
	}
	return fn
}

func (e *env) bindClass(_ guest.VM, moduleName, class string) guest.ForeignClass {
	fc, err := e.inst.chain.BindClass(moduleName, class)
	if err != nil {
		e.inst.fail(err)
	}
	return fc
}
