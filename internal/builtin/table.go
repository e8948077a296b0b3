package builtin

import (
	"github.com/wippyai/carrica/container"
	"github.com/wippyai/carrica/errors"
	"github.com/wippyai/carrica/guest"
	"github.com/wippyai/carrica/marshal"
)

func allocTable(c *call) error {
	ref, err := c.m.Arena.NewTable()
	if err != nil {
		return err
	}
	c.vm.SetSlotNewForeign(0, 0, marshal.NewProxy(c.m.Arena, marshal.TagTable, ref, c.m.Owner))
	return nil
}

func allocEntry(c *call) error {
	return errors.New(errors.PhaseContainer, errors.KindUnsupported).
		Category(errors.CategoryGuest).
		Path("TableEntry", "new()").
		Detail("entries are only created by iterating a Table").
		Build()
}

var tableMethods = []entry{
	{sig: "[_]", fn: tableGet},
	{sig: "[_]=(_)", fn: tableSet},
	{sig: "containsKey(_)", fn: tableContainsKey},
	{sig: "clear()", fn: tableClear},
	{sig: "count", fn: tableCount},
	{sig: "keys", fn: tableKeys},
	{sig: "values", fn: tableValues},
	{sig: "insertAll(_)", fn: tableInsertAll},
	{sig: "array", fn: tableArray},
	{sig: "list", fn: tableList},
	{sig: "hold()", fn: hold(marshal.TagTable)},
	{sig: "release()", fn: release(marshal.TagTable)},
	{sig: "iterate(_)", fn: tableIterate},
	{sig: "iteratorValue(_)", fn: tableIteratorValue},
}

var entryMethods = []entry{
	{sig: "key", fn: entryKey},
	{sig: "value", fn: entryValue},
}

func tableGet(c *call) error {
	t, err := c.table()
	if err != nil {
		return err
	}
	k, err := c.key(1)
	if err != nil {
		return err
	}
	v, _, err := t.Get(k)
	if err != nil {
		return err
	}
	return c.m.PushValue(0, v)
}

// tableSet stores a value; null deletes the key.
func tableSet(c *call) error {
	t, err := c.table()
	if err != nil {
		return err
	}
	k, err := c.key(1)
	if err != nil {
		return err
	}
	v, err := c.m.Pull(2)
	if err != nil {
		return err
	}
	if err := t.Set(k, v); err != nil {
		return err
	}
	return c.m.PushValue(0, v)
}

func tableContainsKey(c *call) error {
	t, err := c.table()
	if err != nil {
		return err
	}
	k, err := c.key(1)
	if err != nil {
		return err
	}
	ok, err := t.ContainsKey(k)
	if err != nil {
		return err
	}
	c.vm.SetSlotBool(0, ok)
	return nil
}

func tableClear(c *call) error {
	t, err := c.table()
	if err != nil {
		return err
	}
	if err := t.Clear(); err != nil {
		return err
	}
	c.vm.SetSlotNull(0)
	return nil
}

func tableCount(c *call) error {
	t, err := c.table()
	if err != nil {
		return err
	}
	n, err := t.Len()
	if err != nil {
		return err
	}
	c.vm.SetSlotDouble(0, float64(n))
	return nil
}

func tableKeys(c *call) error {
	t, err := c.table()
	if err != nil {
		return err
	}
	keys, err := t.Keys()
	if err != nil {
		return err
	}
	return c.m.PushList(0, keys)
}

func tableValues(c *call) error {
	t, err := c.table()
	if err != nil {
		return err
	}
	vals, err := t.Values()
	if err != nil {
		return err
	}
	return c.m.PushList(0, vals)
}

// tableInsertAll accepts a flat key/value list, another Table or an Array
// of pairs, and leaves the receiver in slot 0.
func tableInsertAll(c *call) error {
	t, err := c.table()
	if err != nil {
		return err
	}
	switch c.vm.SlotType(1) {
	case guest.TypeList:
		pairs, err := c.m.PullList(1)
		if err != nil {
			return err
		}
		return t.InsertAll(pairs)
	case guest.TypeForeign:
		p, ok := marshal.ProxyAt(c.vm, 1)
		if !ok {
			break
		}
		switch p.Tag {
		case marshal.TagTable:
			other, err := c.m.Arena.Table(p.Ref)
			if err != nil {
				return err
			}
			return t.Merge(other)
		case marshal.TagArray:
			a, err := c.m.Arena.Array(p.Ref)
			if err != nil {
				return err
			}
			pairs, err := a.Values()
			if err != nil {
				return err
			}
			return t.InsertAll(pairs)
		}
	}
	return c.argError(1, "a list, an Array or a Table")
}

// tableArray returns a new Array of the flattened entries.
func tableArray(c *call) error {
	t, err := c.table()
	if err != nil {
		return err
	}
	pairs, err := t.Pairs()
	if err != nil {
		return err
	}
	ref, err := c.m.Arena.NewArray(pairs...)
	if err != nil {
		return err
	}
	return c.retOwned(ref)
}

func tableList(c *call) error {
	t, err := c.table()
	if err != nil {
		return err
	}
	pairs, err := t.Pairs()
	if err != nil {
		return err
	}
	return c.m.PushList(0, pairs)
}

// tableIterate drives the table's own cursor: a null iterator restarts it.
// Nested loops over the same Table therefore share one position.
func tableIterate(c *call) error {
	t, err := c.table()
	if err != nil {
		return err
	}
	ok, err := t.Iterate(c.vm.SlotType(1) == guest.TypeNull)
	if err != nil {
		return err
	}
	c.vm.SetSlotBool(0, ok)
	return nil
}

func tableIteratorValue(c *call) error {
	p, err := c.proxy(marshal.TagTable)
	if err != nil {
		return err
	}
	t, err := c.m.Arena.Table(p.Ref)
	if err != nil {
		return err
	}
	k, v, ok, err := t.Current()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New(errors.PhaseContainer, errors.KindOutOfBounds).
			Category(errors.CategoryGuest).
			Path("Table", c.sig).
			Detail("table iteration has finished").
			Build()
	}
	ref, err := c.m.Arena.NewEntry(p.Ref, k, v)
	if err != nil {
		return err
	}
	return c.retOwned(ref)
}

func entryValues(c *call) (key, value container.Value, err error) {
	p, err := c.proxy(marshal.TagEntry)
	if err != nil {
		return nil, nil, err
	}
	return c.m.Arena.Entry(p.Ref)
}

func entryKey(c *call) error {
	k, _, err := entryValues(c)
	if err != nil {
		return err
	}
	return c.m.PushValue(0, k)
}

func entryValue(c *call) error {
	_, v, err := entryValues(c)
	if err != nil {
		return err
	}
	return c.m.PushValue(0, v)
}
