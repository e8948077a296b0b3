package runtime

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/carrica"
	"github.com/wippyai/carrica/config"
	"github.com/wippyai/carrica/container"
	"github.com/wippyai/carrica/errors"
	"github.com/wippyai/carrica/guest"
	"github.com/wippyai/carrica/guest/mini"
	"github.com/wippyai/carrica/internal/builtin"
	"github.com/wippyai/carrica/loader"
	"github.com/wippyai/carrica/module"
	"github.com/wippyai/carrica/wasmmod"
)

// Runtime owns the VM registry, the shared module table and the container
// arena. Several runtimes may coexist; they share nothing.
type Runtime struct {
	cfg      *config.Config
	log      *zap.Logger
	engine   guest.Engine
	arena    *container.Arena
	internal *module.Descriptor
	shared   *module.Registry
	vms      *registry
	stdout   io.Writer
	moduleFS fs.FS
	store    *loader.SQLStore

	wasm     *wasmmod.Engine
	wasmMods []*wasmmod.Module
	wasmMu   sync.Mutex

	debug   *zap.Logger
	debugMu sync.RWMutex

	closed bool
	mu     sync.Mutex
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the runtime logger. Instances log through children of it.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runtime) { r.log = l }
}

// WithConfig replaces the default configuration.
func WithConfig(cfg *config.Config) Option {
	return func(r *Runtime) { r.cfg = cfg }
}

// WithModuleFS sets the file system the io.fs loader preset reads from.
func WithModuleFS(fsys fs.FS) Option {
	return func(r *Runtime) { r.moduleFS = fsys }
}

// WithEngine sets the guest VM implementation. The default is guest/mini.
func WithEngine(e guest.Engine) Option {
	return func(r *Runtime) { r.engine = e }
}

// WithStdout sets where the default write handler prints and where the
// console debug emitter writes.
func WithStdout(w io.Writer) Option {
	return func(r *Runtime) { r.stdout = w }
}

// New creates a runtime and installs the configured shared modules.
func New(ctx context.Context, opts ...Option) (*Runtime, error) {
	r := &Runtime{
		log:    zap.NewNop(),
		engine: mini.Engine{},
		arena:  container.NewArena(),
		shared: module.NewRegistry("shared"),
		stdout: os.Stdout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cfg == nil {
		r.cfg = config.Default()
	}
	if err := r.cfg.Validate(); err != nil {
		return nil, err
	}
	r.debug = consoleDebug(r.stdout)

	internal, err := builtin.Module()
	if err != nil {
		return nil, err
	}
	r.internal = internal
	r.vms = newRegistry(r.cfg.InitialSlots)

	for _, m := range r.cfg.Modules {
		if err := r.InstallModule(m.Name, m.Source); err != nil {
			return nil, err
		}
	}
	if r.cfg.ModuleStore != "" {
		store, err := loader.OpenStore(ctx, r.cfg.ModuleStore)
		if err != nil {
			return nil, err
		}
		r.store = store
	}

	r.log.Debug("runtime created",
		zap.String("version", r.Version()),
		zap.Int("initial_slots", r.cfg.InitialSlots))
	return r, nil
}

// Version returns the bridge version and codename.
func (r *Runtime) Version() string { return carrica.FullVersion() }

// HasDebug reports whether debug emission is enabled.
func (r *Runtime) HasDebug() bool { return r.cfg.Debug }

// Config returns the runtime configuration.
func (r *Runtime) Config() *config.Config { return r.cfg }

// Arena returns the container storage shared by every instance.
func (r *Runtime) Arena() *container.Arena { return r.arena }

// Store returns the sqlite module store, or nil when none is configured.
func (r *Runtime) Store() *loader.SQLStore { return r.store }

// SetDebugEmit routes debug output to fn. Nil restores the console.
func (r *Runtime) SetDebugEmit(fn DebugEmitFunc) {
	r.debugMu.Lock()
	defer r.debugMu.Unlock()
	if fn == nil {
		r.debug = consoleDebug(r.stdout)
		return
	}
	r.debug = callbackDebug(fn)
}

// Debugf emits a debug message when debugging is enabled.
func (r *Runtime) Debugf(format string, args ...any) {
	if !r.cfg.Debug {
		return
	}
	r.debugMu.RLock()
	d := r.debug
	r.debugMu.RUnlock()
	d.Debug(fmt.Sprintf(format, args...))
}

// NewVM creates a VM instance in the lowest free registry slot. An empty
// name defaults to the slot id.
func (r *Runtime) NewVM(name string) (*Instance, error) {
	if err := r.checkOpen("NewVM"); err != nil {
		return nil, err
	}
	inst := &Instance{
		rt:     r,
		hosts:  NewHostRegistry(),
		consts: make(map[string]any),
	}
	if r.cfg.LoaderPreset != "" {
		load, err := r.preset(r.cfg.LoaderPreset)
		if err != nil {
			return nil, err
		}
		inst.load = load
	}
	if err := inst.start(name); err != nil {
		return nil, err
	}
	return inst, nil
}

// Instance returns the live instance in slot id.
func (r *Runtime) Instance(id int) (*Instance, bool) {
	return r.vms.get(id)
}

// Instances returns every live instance in slot order.
func (r *Runtime) Instances() []*Instance {
	return r.vms.instances()
}

// InstallModule adds a source module to the shared table. Every live and
// future instance resolves it. Installing a taken name is a no-op.
func (r *Runtime) InstallModule(name, source string) error {
	d, err := module.NewSource(name, source)
	if err != nil {
		return err
	}
	return r.install(d)
}

// InstallBinaryModule adds a natively implemented module to the shared
// table.
func (r *Runtime) InstallBinaryModule(name string, b module.Binding) error {
	d, err := module.NewBinary(name, b)
	if err != nil {
		return err
	}
	return r.install(d)
}

func (r *Runtime) install(d *module.Descriptor) error {
	if d.Name == builtin.Name {
		return errors.Config(errors.PhaseModule, errors.KindInvalidInput, "module name "+builtin.Name+" is reserved")
	}
	if r.shared.Install(d) {
		r.Debugf("shared module %s installed", d.Name)
	}
	return nil
}

// InstallWASM compiles a core wasm module and installs it as a shared
// binary module. Each function in witText becomes a static method of class.
func (r *Runtime) InstallWASM(ctx context.Context, name, class string, wasm []byte, witText string) error {
	if err := r.checkOpen("InstallWASM"); err != nil {
		return err
	}
	r.wasmMu.Lock()
	if r.wasm == nil {
		r.wasm = wasmmod.NewEngine(ctx)
	}
	m, err := r.wasm.Compile(ctx, name, class, wasm, witText)
	if err == nil {
		r.wasmMods = append(r.wasmMods, m)
	}
	r.wasmMu.Unlock()
	if err != nil {
		return err
	}
	return r.InstallBinaryModule(name, m)
}

// preset builds a loader from a preset name.
func (r *Runtime) preset(name string) (loader.Func, error) {
	switch name {
	case config.PresetFilesystem:
		return loader.Filesystem(r.cfg.LoaderRoot, r.cfg.LoaderExt), nil
	case config.PresetFS:
		if r.moduleFS == nil {
			return nil, errors.Config(errors.PhaseLoad, errors.KindInvalidInput, "io.fs preset needs a module file system")
		}
		return loader.FS(r.moduleFS, r.cfg.LoaderExt), nil
	case config.PresetSQL:
		if r.store == nil {
			return nil, errors.Config(errors.PhaseLoad, errors.KindInvalidInput, "sql preset needs a module store")
		}
		return r.store.Func(), nil
	}
	return nil, errors.Config(errors.PhaseLoad, errors.KindInvalidInput, fmt.Sprintf("unknown loader preset %q", name))
}

// Restore decodes a container snapshot into new shared storage and returns
// an *Array or a *Table owning it.
func (r *Runtime) Restore(data []byte) (any, error) {
	ref, err := r.arena.Restore(data)
	if err != nil {
		return nil, err
	}
	return wrapOwned(r.arena, ref)
}

func (r *Runtime) checkOpen(op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.Config(errors.PhaseInstance, errors.KindReleased, "runtime closed before "+op)
	}
	return nil
}

// Close releases every live instance, then the wasm engine, the module
// store and the container arena. Calling it again is a no-op.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, inst := range r.vms.instances() {
		g.Go(inst.Release)
	}
	err := g.Wait()

	r.wasmMu.Lock()
	if r.wasm != nil {
		if cerr := r.wasm.Close(ctx); err == nil {
			err = cerr
		}
	}
	r.wasmMods = nil
	r.wasmMu.Unlock()

	if r.store != nil {
		if cerr := r.store.Close(); err == nil {
			err = cerr
		}
	}
	if cerr := r.arena.Close(); err == nil {
		err = cerr
	}
	r.log.Debug("runtime closed")
	return err
}
