package module

import (
	"go.uber.org/zap"

	"github.com/wippyai/carrica/errors"
	"github.com/wippyai/carrica/guest"
)

// Chain is the module resolution path of one VM instance.
//
// Resolution order:
//  1. The internal module (always present)
//  2. Shared modules, in install order
//  3. Instance local modules, in install order
//
// The first module whose name matches wins. When that module cannot
// provide the requested member, resolution fails: it never falls through
// to a later module of the same name.
//
// The chain holds the shared registry itself, not a copy, so shared
// installs are visible to every chain at once.
type Chain struct {
	internal *Descriptor
	shared   *Registry
	local    *Registry
}

// NewChain creates a resolution chain. Any argument may be nil.
func NewChain(internal *Descriptor, shared, local *Registry) *Chain {
	return &Chain{internal: internal, shared: shared, local: local}
}

// Find returns the first module named name.
func (c *Chain) Find(name string) (*Descriptor, bool) {
	if c.internal != nil && c.internal.Name == name {
		return c.internal, true
	}
	if c.shared != nil {
		if d, ok := c.shared.Lookup(name); ok {
			return d, true
		}
	}
	if c.local != nil {
		if d, ok := c.local.Lookup(name); ok {
			return d, true
		}
	}
	return nil, false
}

// Text returns the guest source of the module named name.
func (c *Chain) Text(name string) (string, bool) {
	d, ok := c.Find(name)
	if !ok {
		return "", false
	}
	return d.Text()
}

// Names returns every reachable module name in resolution order, skipping
// names shadowed by an earlier module.
func (c *Chain) Names() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(d *Descriptor) {
		if !seen[d.Name] {
			seen[d.Name] = true
			out = append(out, d.Name)
		}
	}
	if c.internal != nil {
		add(c.internal)
	}
	if c.shared != nil {
		for _, d := range c.shared.Modules() {
			add(d)
		}
	}
	if c.local != nil {
		for _, d := range c.local.Modules() {
			add(d)
		}
	}
	return out
}

// BindMethod resolves a foreign method declared by the guest.
func (c *Chain) BindMethod(module, class string, isStatic bool, signature string) (guest.ForeignMethod, error) {
	member := signature
	if isStatic {
		member = "static " + signature
	}

	d, ok := c.Find(module)
	if !ok || d.Binding == nil {
		Logger().Debug("foreign method unresolved",
			zap.String("module", module), zap.String("class", class), zap.String("signature", member))
		return nil, errors.MissingBinding(module, class, member)
	}

	fn := d.Binding.BindMethod(class, isStatic, signature)
	if fn == nil {
		return nil, errors.MissingBinding(module, class, member)
	}
	Logger().Debug("foreign method bound",
		zap.String("module", module), zap.String("class", class), zap.String("signature", member))
	return fn, nil
}

// BindClass resolves a foreign class declared by the guest.
func (c *Chain) BindClass(module, class string) (guest.ForeignClass, error) {
	d, ok := c.Find(module)
	if !ok || d.Binding == nil {
		return guest.ForeignClass{}, errors.MissingBinding(module, class, "")
	}

	fc, ok := d.Binding.BindClass(class)
	if !ok || fc.Allocate == nil {
		return guest.ForeignClass{}, errors.MissingBinding(module, class, "")
	}
	return fc, nil
}
