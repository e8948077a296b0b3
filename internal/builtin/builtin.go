// Package builtin implements the internal carrica module: the guest
// classes Array, Table and TableEntry backed by shared containers, and the
// Host class reaching host constants and functions.
package builtin

import (
	"fmt"
	"math"

	"github.com/wippyai/carrica/container"
	"github.com/wippyai/carrica/errors"
	"github.com/wippyai/carrica/guest"
	"github.com/wippyai/carrica/marshal"
	"github.com/wippyai/carrica/module"
)

// Name is the module name guest code imports the built-in classes from.
const Name = "carrica"

// Env is what the built-in classes need from the VM instance owning them.
// The guest VM's user data must implement it.
type Env interface {
	// Marshal returns a conversion context for vm.
	Marshal(vm guest.VM) *marshal.Context

	// HostName is returned by Host.name.
	HostName() string

	// Const returns a host constant.
	Const(name string) (any, bool)

	// FuncRef returns the reference of a host function, or -1.
	FuncRef(name string) int

	// CallFunc calls a host function by reference.
	CallFunc(ref int, args []container.Value) (any, error)

	// Fail records an error that must fail the host call in progress.
	Fail(err error)
}

const declarations = `
foreign class Array {
  construct new() {}
  foreign static filled(count, value)
  foreign static fromList(list)
  foreign [index]
  foreign [index]=(value)
  foreign count
  foreign add(value)
  foreign addAll(other)
  foreign +(other)
  foreign *(count)
  foreign times(count)
  foreign clear()
  foreign indexOf(value)
  foreign insert(index, value)
  foreign remove(value)
  foreign removeAt(index)
  foreign swap(a, b)
  foreign sort()
  foreign list
  foreign hold()
  foreign release()
  foreign iterate(iterator)
  foreign iteratorValue(iterator)
  toString { list.toString }
}

foreign class Table {
  construct new() {}
  foreign [key]
  foreign [key]=(value)
  foreign containsKey(key)
  foreign clear()
  foreign count
  foreign keys
  foreign values
  foreign insertAll(source)
  foreign array
  foreign list
  foreign hold()
  foreign release()
  foreign iterate(iterator)
  foreign iteratorValue(iterator)
  toString { list.toString }
}

foreign class TableEntry {
  foreign key
  foreign value
  toString { "%(key):%(value)" }
}

class Host {
  foreign static name
  foreign static const(name)
  foreign static ref(name)
  foreign static call(ref)
  foreign static call(ref, a)
  foreign static call(ref, a, b)
  foreign static call(ref, a, b, c)
  foreign static call(ref, a, b, c, d)
  foreign static call(ref, a, b, c, d, e)
  foreign static call(ref, a, b, c, d, e, f)
  foreign static call(ref, a, b, c, d, e, f, g)
  foreign static call(ref, a, b, c, d, e, f, g, h)
}
`

// Module returns a descriptor for the built-in module. Each call returns a
// new descriptor with its own binding tables.
func Module() (*module.Descriptor, error) {
	n := &module.Native{Decls: declarations}
	n.Classes = []module.Class{
		{Name: "Array", Allocate: wrap("Array", "new()", allocArray), Finalize: finalize},
		{Name: "Table", Allocate: wrap("Table", "new()", allocTable), Finalize: finalize},
		{Name: "TableEntry", Allocate: wrap("TableEntry", "new()", allocEntry), Finalize: finalize},
	}
	add := func(class string, static bool, sig string, fn method) {
		n.Methods = append(n.Methods, module.Method{Class: class, Static: static, Signature: sig, Fn: wrap(class, sig, fn)})
	}
	for _, m := range arrayMethods {
		add("Array", m.static, m.sig, m.fn)
	}
	for _, m := range tableMethods {
		add("Table", m.static, m.sig, m.fn)
	}
	for _, m := range entryMethods {
		add("TableEntry", m.static, m.sig, m.fn)
	}
	for _, m := range hostMethods() {
		add("Host", m.static, m.sig, m.fn)
	}
	return module.NewBinary(Name, n)
}

type entry struct {
	sig    string
	fn     method
	static bool
}

type method func(c *call) error

// call is the context of one foreign method invocation. Slot 0 holds the
// receiver; arguments follow.
type call struct {
	vm    guest.VM
	env   Env
	m     *marshal.Context
	class string
	sig   string
}

func wrap(class, sig string, fn method) guest.ForeignMethod {
	return func(vm guest.VM) {
		env, ok := vm.UserData().(Env)
		if !ok {
			vm.SetSlotString(0, fmt.Sprintf("%s.%s: VM has no carrica instance", class, sig))
			vm.AbortFiber(0)
			return
		}
		c := &call{vm: vm, env: env, m: env.Marshal(vm), class: class, sig: sig}
		if err := fn(c); err != nil {
			if errors.IsFatal(err) {
				env.Fail(err)
			}
			vm.SetSlotString(0, err.Error())
			vm.AbortFiber(0)
		}
	}
}

func finalize(data any) {
	if p, ok := data.(*marshal.Proxy); ok {
		p.Finalize()
	}
}

func (c *call) argError(slot int, want string) error {
	return errors.New(errors.PhaseContainer, errors.KindTypeMismatch).
		Category(errors.CategoryGuest).
		Path(c.class, c.sig).
		GuestType(c.vm.SlotType(slot).String()).
		Detail("argument %d must be %s", slot, want).
		Build()
}

// proxy returns the receiver's proxy, checking its tag.
func (c *call) proxy(tag marshal.Tag) (*marshal.Proxy, error) {
	p, ok := marshal.ProxyAt(c.vm, 0)
	if !ok || p.Tag != tag {
		return nil, c.argError(0, "a "+tag.String())
	}
	return p, nil
}

func (c *call) array() (*container.Array, error) {
	p, err := c.proxy(marshal.TagArray)
	if err != nil {
		return nil, err
	}
	return c.m.Arena.Array(p.Ref)
}

func (c *call) table() (*container.Table, error) {
	p, err := c.proxy(marshal.TagTable)
	if err != nil {
		return nil, err
	}
	return c.m.Arena.Table(p.Ref)
}

func (c *call) num(slot int) (float64, error) {
	if c.vm.SlotType(slot) != guest.TypeNum {
		return 0, c.argError(slot, "a number")
	}
	return c.vm.SlotDouble(slot), nil
}

func (c *call) integer(slot int) (int, error) {
	n, err := c.num(slot)
	if err != nil {
		return 0, err
	}
	if n != math.Trunc(n) || math.IsInf(n, 0) {
		return 0, c.argError(slot, "an integer")
	}
	if math.Abs(n) > 1<<53 {
		return 0, c.argError(slot, "an integer between -2^53 and 2^53")
	}
	return int(n), nil
}

func (c *call) str(slot int) (string, error) {
	if c.vm.SlotType(slot) != guest.TypeString {
		return "", c.argError(slot, "a string")
	}
	return c.vm.SlotString(slot), nil
}

func (c *call) key(slot int) (container.Value, error) {
	k, err := c.m.Pull(slot)
	if err != nil {
		return nil, err
	}
	if !container.ValidKey(k) {
		return nil, c.argError(slot, "a string or a number")
	}
	return k, nil
}

// retOwned returns a container whose reference the caller already owns.
func (c *call) retOwned(ref container.Ref) error {
	if err := c.m.PushOwned(0, ref); err != nil {
		c.m.Arena.Release(ref)
		return err
	}
	return nil
}

// retTaken returns a value removed from a container. A Ref carries the
// reference the container held.
func (c *call) retTaken(v container.Value) error {
	if ref, ok := v.(container.Ref); ok {
		return c.retOwned(ref)
	}
	return c.m.PushValue(0, v)
}
