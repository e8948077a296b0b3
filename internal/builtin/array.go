package builtin

import (
	"github.com/wippyai/carrica/container"
	"github.com/wippyai/carrica/errors"
	"github.com/wippyai/carrica/guest"
	"github.com/wippyai/carrica/marshal"
)

func allocArray(c *call) error {
	ref, err := c.m.Arena.NewArray()
	if err != nil {
		return err
	}
	c.vm.SetSlotNewForeign(0, 0, marshal.NewProxy(c.m.Arena, marshal.TagArray, ref, c.m.Owner))
	return nil
}

var arrayMethods = []entry{
	{sig: "filled(_,_)", static: true, fn: arrayFilled},
	{sig: "fromList(_)", static: true, fn: arrayFromList},
	{sig: "[_]", fn: arrayGet},
	{sig: "[_]=(_)", fn: arraySet},
	{sig: "count", fn: arrayCount},
	{sig: "add(_)", fn: arrayAdd},
	{sig: "addAll(_)", fn: arrayAddAll},
	{sig: "+(_)", fn: arrayAddAll},
	{sig: "*(_)", fn: arrayTimes},
	{sig: "times(_)", fn: arrayTimes},
	{sig: "clear()", fn: arrayClear},
	{sig: "indexOf(_)", fn: arrayIndexOf},
	{sig: "insert(_,_)", fn: arrayInsert},
	{sig: "remove(_)", fn: arrayRemove},
	{sig: "removeAt(_)", fn: arrayRemoveAt},
	{sig: "swap(_,_)", fn: arraySwap},
	{sig: "sort()", fn: arraySort},
	{sig: "list", fn: arrayList},
	{sig: "hold()", fn: hold(marshal.TagArray)},
	{sig: "release()", fn: release(marshal.TagArray)},
	{sig: "iterate(_)", fn: arrayIterate},
	{sig: "iteratorValue(_)", fn: arrayIteratorValue},
}

func arrayFilled(c *call) error {
	n, err := c.integer(1)
	if err != nil {
		return err
	}
	if n < 0 {
		return c.argError(1, "a non-negative integer")
	}
	if err := container.CheckLen(c.sig, n); err != nil {
		return err
	}
	v, err := c.m.Pull(2)
	if err != nil {
		return err
	}
	items := make([]container.Value, n)
	for i := range items {
		items[i] = v
	}
	ref, err := c.m.Arena.NewArray(items...)
	if err != nil {
		return err
	}
	return c.retOwned(ref)
}

func arrayFromList(c *call) error {
	vals, err := c.m.PullList(1)
	if err != nil {
		return err
	}
	ref, err := c.m.Arena.NewArray(vals...)
	if err != nil {
		return err
	}
	return c.retOwned(ref)
}

func arrayGet(c *call) error {
	a, err := c.array()
	if err != nil {
		return err
	}
	i, err := c.integer(1)
	if err != nil {
		return err
	}
	v, err := a.Get(i)
	if err != nil {
		return err
	}
	return c.m.PushValue(0, v)
}

func arraySet(c *call) error {
	a, err := c.array()
	if err != nil {
		return err
	}
	i, err := c.integer(1)
	if err != nil {
		return err
	}
	v, err := c.m.Pull(2)
	if err != nil {
		return err
	}
	if err := a.Set(i, v); err != nil {
		return err
	}
	return c.m.PushValue(0, v)
}

func arrayCount(c *call) error {
	a, err := c.array()
	if err != nil {
		return err
	}
	n, err := a.Len()
	if err != nil {
		return err
	}
	c.vm.SetSlotDouble(0, float64(n))
	return nil
}

func arrayAdd(c *call) error {
	a, err := c.array()
	if err != nil {
		return err
	}
	v, err := c.m.Pull(1)
	if err != nil {
		return err
	}
	if err := a.Add(v); err != nil {
		return err
	}
	return c.m.PushValue(0, v)
}

// arrayAddAll appends a guest list or the elements of another Array and
// leaves the receiver in slot 0.
func arrayAddAll(c *call) error {
	a, err := c.array()
	if err != nil {
		return err
	}
	var vals []container.Value
	switch c.vm.SlotType(1) {
	case guest.TypeList:
		if vals, err = c.m.PullList(1); err != nil {
			return err
		}
	case guest.TypeForeign:
		p, ok := marshal.ProxyAt(c.vm, 1)
		if !ok || p.Tag != marshal.TagArray {
			return c.argError(1, "a list or an Array")
		}
		other, err := c.m.Arena.Array(p.Ref)
		if err != nil {
			return err
		}
		if vals, err = other.Values(); err != nil {
			return err
		}
	default:
		return c.argError(1, "a list or an Array")
	}
	return a.AddAll(vals)
}

func arrayTimes(c *call) error {
	a, err := c.array()
	if err != nil {
		return err
	}
	n, err := c.integer(1)
	if err != nil {
		return err
	}
	ref, err := a.Times(n)
	if err != nil {
		return err
	}
	return c.retOwned(ref)
}

func arrayClear(c *call) error {
	a, err := c.array()
	if err != nil {
		return err
	}
	if err := a.Clear(); err != nil {
		return err
	}
	c.vm.SetSlotNull(0)
	return nil
}

func arrayIndexOf(c *call) error {
	a, err := c.array()
	if err != nil {
		return err
	}
	v, err := c.m.Pull(1)
	if err != nil {
		return err
	}
	i, err := a.IndexOf(v)
	if err != nil {
		return err
	}
	c.vm.SetSlotDouble(0, float64(i))
	return nil
}

func arrayInsert(c *call) error {
	a, err := c.array()
	if err != nil {
		return err
	}
	i, err := c.integer(1)
	if err != nil {
		return err
	}
	v, err := c.m.Pull(2)
	if err != nil {
		return err
	}
	if err := a.Insert(i, v); err != nil {
		return err
	}
	return c.m.PushValue(0, v)
}

// arrayRemove returns the removed value, or null when it was absent.
func arrayRemove(c *call) error {
	a, err := c.array()
	if err != nil {
		return err
	}
	v, err := c.m.Pull(1)
	if err != nil {
		return err
	}
	// Push before removing: the array may hold the last reference to v.
	if err := c.m.PushValue(0, v); err != nil {
		return err
	}
	removed, err := a.Remove(v)
	if err != nil {
		return err
	}
	if !removed {
		c.vm.SetSlotNull(0)
	}
	return nil
}

func arrayRemoveAt(c *call) error {
	a, err := c.array()
	if err != nil {
		return err
	}
	i, err := c.integer(1)
	if err != nil {
		return err
	}
	v, err := a.RemoveAt(i)
	if err != nil {
		return err
	}
	return c.retTaken(v)
}

func arraySwap(c *call) error {
	a, err := c.array()
	if err != nil {
		return err
	}
	i, err := c.integer(1)
	if err != nil {
		return err
	}
	j, err := c.integer(2)
	if err != nil {
		return err
	}
	if err := a.Swap(i, j); err != nil {
		return err
	}
	c.vm.SetSlotNull(0)
	return nil
}

// arraySort leaves the receiver in slot 0.
func arraySort(c *call) error {
	a, err := c.array()
	if err != nil {
		return err
	}
	return a.Sort()
}

func arrayList(c *call) error {
	a, err := c.array()
	if err != nil {
		return err
	}
	vals, err := a.Values()
	if err != nil {
		return err
	}
	return c.m.PushList(0, vals)
}

// arrayIterate yields 1-based positions. The iteration state lives in the
// guest, so independent loops over one Array do not interfere.
func arrayIterate(c *call) error {
	a, err := c.array()
	if err != nil {
		return err
	}
	n, err := a.Len()
	if err != nil {
		return err
	}
	pos := 0
	if c.vm.SlotType(1) != guest.TypeNull {
		if pos, err = c.integer(1); err != nil {
			return err
		}
	}
	if pos < 0 || pos >= n {
		c.vm.SetSlotBool(0, false)
		return nil
	}
	c.vm.SetSlotDouble(0, float64(pos+1))
	return nil
}

func arrayIteratorValue(c *call) error {
	a, err := c.array()
	if err != nil {
		return err
	}
	pos, err := c.integer(1)
	if err != nil {
		return err
	}
	if pos < 1 {
		n, _ := a.Len()
		return errors.OutOfBounds(errors.PhaseContainer, []string{"Array", c.sig}, pos-1, n)
	}
	v, err := a.Get(pos - 1)
	if err != nil {
		return err
	}
	return c.m.PushValue(0, v)
}

// hold takes a reference for the receiver's proxy and leaves the receiver
// in slot 0.
func hold(tag marshal.Tag) method {
	return func(c *call) error {
		p, err := c.proxy(tag)
		if err != nil {
			return err
		}
		return p.Hold()
	}
}

func release(tag marshal.Tag) method {
	return func(c *call) error {
		p, err := c.proxy(tag)
		if err != nil {
			return err
		}
		p.Release()
		c.vm.SetSlotNull(0)
		return nil
	}
}
