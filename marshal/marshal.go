package marshal

import (
	"fmt"
	"reflect"

	"github.com/wippyai/carrica/container"
	"github.com/wippyai/carrica/errors"
	"github.com/wippyai/carrica/guest"
)

// Shared is implemented by host values wrapping a shared container.
type Shared interface {
	SharedRef() container.Ref
}

// ClassSource resolves the guest class standing for a container tag.
type ClassSource interface {
	ClassHandle(tag Tag) (guest.Handle, error)
}

// Context converts values between the host and one guest VM.
type Context struct {
	VM      guest.VM
	Arena   *container.Arena
	Classes ClassSource
	Owner   any

	// Base is the first slot free for temporaries. Zero means after the
	// slots in use when the first temporary is taken.
	Base int
	top  int
}

// scratch reserves n temporary slots and returns the first one together
// with a function giving them back.
func (c *Context) scratch(n int) (int, func()) {
	if c.top == 0 {
		c.top = c.Base
		if c.top == 0 {
			c.top = c.VM.SlotCount()
		}
	}
	base := c.top
	c.top += n
	c.VM.EnsureSlots(c.top)
	return base, func() { c.top = base }
}

// Push stores a host value in slot. Numbers of any Go kind become guest
// numbers; Shared values and container refs become a new proxy holding
// one reference. Other composite values are rejected.
func (c *Context) Push(slot int, v any) error {
	if s, ok := v.(Shared); ok {
		if isNilShared(s) {
			c.VM.SetSlotNull(slot)
			return nil
		}
		return c.PushRef(slot, s.SharedRef())
	}
	val, err := container.Canonical(v)
	if err != nil {
		return err
	}
	return c.PushValue(slot, val)
}

func isNilShared(s Shared) bool {
	rv := reflect.ValueOf(s)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

// PushValue stores a canonical container value in slot.
func (c *Context) PushValue(slot int, v container.Value) error {
	switch x := v.(type) {
	case nil:
		c.VM.SetSlotNull(slot)
	case float64:
		c.VM.SetSlotDouble(slot, x)
	case bool:
		c.VM.SetSlotBool(slot, x)
	case string:
		c.VM.SetSlotString(slot, x)
	case container.Ref:
		return c.PushRef(slot, x)
	default:
		return errors.New(errors.PhaseMarshal, errors.KindUnsupported).
			Category(errors.CategoryMarshal).
			GoType(fmt.Sprintf("%T", v)).
			Detail("value cannot cross into the guest").
			Build()
	}
	return nil
}

// PushRef stores a new proxy for ref in slot. The proxy takes its own
// reference.
func (c *Context) PushRef(slot int, ref container.Ref) error {
	if err := c.Arena.Hold(ref); err != nil {
		return err
	}
	if err := c.PushOwned(slot, ref); err != nil {
		c.Arena.Release(ref)
		return err
	}
	return nil
}

// PushOwned stores a new proxy for ref in slot, handing it a reference the
// caller already owns.
func (c *Context) PushOwned(slot int, ref container.Ref) error {
	kind, ok := c.Arena.Kind(ref)
	if !ok {
		return errors.Released(errors.PhaseMarshal, "container "+ref.String())
	}
	tag := TagOf(kind)
	h, err := c.Classes.ClassHandle(tag)
	if err != nil {
		return err
	}
	classSlot, done := c.scratch(1)
	defer done()
	c.VM.SetSlotHandle(classSlot, h)
	c.VM.SetSlotNewForeign(slot, classSlot, NewProxy(c.Arena, tag, ref, c.Owner))
	c.VM.SetSlotNull(classSlot)
	return nil
}

// PushList stores a new guest list holding vs in slot.
func (c *Context) PushList(slot int, vs []container.Value) error {
	elem, done := c.scratch(1)
	defer done()
	c.VM.SetSlotNewList(slot)
	for _, v := range vs {
		if err := c.PushValue(elem, v); err != nil {
			return err
		}
		c.VM.InsertInList(slot, -1, elem)
	}
	return nil
}

// Pull reads the guest value in slot. Proxies become their container
// reference without changing its count.
func (c *Context) Pull(slot int) (container.Value, error) {
	switch t := c.VM.SlotType(slot); t {
	case guest.TypeNull:
		return nil, nil
	case guest.TypeBool:
		return c.VM.SlotBool(slot), nil
	case guest.TypeNum:
		return c.VM.SlotDouble(slot), nil
	case guest.TypeString:
		return c.VM.SlotString(slot), nil
	case guest.TypeForeign:
		p, ok := c.VM.SlotForeign(slot).(*Proxy)
		if !ok {
			return nil, UnknownForeign(c.VM.SlotForeign(slot))
		}
		return p.Ref, nil
	default:
		return nil, errors.New(errors.PhaseMarshal, errors.KindUnsupported).
			Category(errors.CategoryGuest).
			GuestType(t.String()).
			Detail("guest %ss are not converted, wrap them in an Array or Table", t).
			Build()
	}
}

// PullList reads every element of the guest list in slot.
func (c *Context) PullList(slot int) ([]container.Value, error) {
	if t := c.VM.SlotType(slot); t != guest.TypeList {
		return nil, errors.New(errors.PhaseMarshal, errors.KindTypeMismatch).
			Category(errors.CategoryGuest).
			GuestType(t.String()).
			Detail("expected a list").
			Build()
	}
	n := c.VM.ListCount(slot)
	elem, done := c.scratch(1)
	defer done()
	out := make([]container.Value, 0, n)
	for i := range n {
		c.VM.ListElement(slot, i, elem)
		v, err := c.Pull(elem)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// UnknownForeign reports a foreign object the bridge did not create.
func UnknownForeign(data any) error {
	return errors.New(errors.PhaseMarshal, errors.KindUnsupported).
		Category(errors.CategoryMarshal).
		GoType(fmt.Sprintf("%T", data)).
		GuestType(guest.TypeForeign.String()).
		Detail("unrecognized foreign object").
		Build()
}

// ProxyAt returns the proxy stored in slot.
func ProxyAt(vm guest.VM, slot int) (*Proxy, bool) {
	if vm.SlotType(slot) != guest.TypeForeign {
		return nil, false
	}
	p, ok := vm.SlotForeign(slot).(*Proxy)
	return p, ok
}

// IsHostSafe reports whether the guest value in slot can be converted for
// the host.
func IsHostSafe(vm guest.VM, slot int) bool {
	switch vm.SlotType(slot) {
	case guest.TypeNull, guest.TypeBool, guest.TypeNum, guest.TypeString:
		return true
	case guest.TypeForeign:
		_, ok := vm.SlotForeign(slot).(*Proxy)
		return ok
	}
	return false
}
