package module

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/carrica/errors"
)

// Descriptor is an installed module: either guest source text or a native
// binding, never both.
type Descriptor struct {
	Binding Binding
	Name    string
	Source  string
}

// NewSource creates a descriptor for a module compiled from source.
func NewSource(name, source string) (*Descriptor, error) {
	if name == "" {
		return nil, errors.InvalidInput(errors.PhaseModule, "module name cannot be empty")
	}
	return &Descriptor{Name: name, Source: source}, nil
}

// NewBinary creates a descriptor for a natively implemented module.
// Table driven bindings are indexed here, so registration mistakes surface
// at install time.
func NewBinary(name string, b Binding) (*Descriptor, error) {
	if name == "" {
		return nil, errors.InvalidInput(errors.PhaseModule, "module name cannot be empty")
	}
	if b == nil {
		return nil, errors.InvalidInput(errors.PhaseModule, "binary module "+name+" has no binding")
	}
	if ix, ok := b.(indexer); ok {
		if err := ix.index(); err != nil {
			return nil, err
		}
	}
	return &Descriptor{Name: name, Binding: b}, nil
}

// IsBinary reports whether the module is natively implemented.
func (d *Descriptor) IsBinary() bool { return d.Binding != nil }

// Text returns the guest source served when the module is imported: the
// source of a source module, or the declarations of a binary module that
// provides them.
func (d *Descriptor) Text() (string, bool) {
	if d.Binding == nil {
		return d.Source, true
	}
	if decl, ok := d.Binding.(Declarer); ok {
		return decl.Declarations(), true
	}
	return "", false
}

// Registry is an ordered module table. Names are unique; the first install
// of a name wins and later installs of the same name are ignored.
//
// Registry is thread-safe.
type Registry struct {
	byName map[string]*Descriptor
	order  []*Descriptor
	scope  string
	mu     sync.RWMutex
}

// NewRegistry creates an empty registry. scope names it in logs.
func NewRegistry(scope string) *Registry {
	return &Registry{
		byName: make(map[string]*Descriptor),
		scope:  scope,
	}
}

// Install adds d and reports whether it was added. Installing a name that
// is already present is a no-op.
func (r *Registry) Install(d *Descriptor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[d.Name]; exists {
		Logger().Debug("module already installed",
			zap.String("scope", r.scope), zap.String("module", d.Name))
		return false
	}
	r.byName[d.Name] = d
	r.order = append(r.order, d)

	Logger().Debug("module installed",
		zap.String("scope", r.scope),
		zap.String("module", d.Name),
		zap.Bool("binary", d.IsBinary()))
	return true
}

// Lookup returns the module installed under name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// Modules returns the installed modules in install order.
func (r *Registry) Modules() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of installed modules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Clear removes every module.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName = make(map[string]*Descriptor)
	r.order = nil
}
