package runtime

import (
	"github.com/wippyai/carrica/container"
)

func (t *Table) view() (*container.Table, error) {
	if err := t.check("Table"); err != nil {
		return nil, err
	}
	return t.cell.arena.Table(t.cell.ref)
}

func (t *Table) Len() (int, error) {
	x, err := t.view()
	if err != nil {
		return 0, err
	}
	return x.Len()
}

// Get returns the value stored under k.
func (t *Table) Get(k any) (any, bool, error) {
	x, err := t.view()
	if err != nil {
		return nil, false, err
	}
	ck, err := toValue(k)
	if err != nil {
		return nil, false, err
	}
	v, ok, err := x.Get(ck)
	if err != nil || !ok {
		return nil, ok, err
	}
	hv, err := fromValue(t.cell.arena, v)
	return hv, err == nil, err
}

// Set stores v under k. A nil value deletes the key.
func (t *Table) Set(k, v any) error {
	x, err := t.view()
	if err != nil {
		return err
	}
	ck, err := toValue(k)
	if err != nil {
		return err
	}
	cv, err := toValue(v)
	if err != nil {
		return err
	}
	return x.Set(ck, cv)
}

func (t *Table) Delete(k any) error {
	return t.Set(k, nil)
}

func (t *Table) ContainsKey(k any) (bool, error) {
	x, err := t.view()
	if err != nil {
		return false, err
	}
	ck, err := toValue(k)
	if err != nil {
		return false, err
	}
	return x.ContainsKey(ck)
}

func (t *Table) Clear() error {
	x, err := t.view()
	if err != nil {
		return err
	}
	return x.Clear()
}

// Keys returns the keys in insertion order.
func (t *Table) Keys() ([]any, error) {
	x, err := t.view()
	if err != nil {
		return nil, err
	}
	ks, err := x.Keys()
	if err != nil {
		return nil, err
	}
	return fromValues(t.cell.arena, ks)
}

// Values returns the values in insertion order.
func (t *Table) Values() ([]any, error) {
	x, err := t.view()
	if err != nil {
		return nil, err
	}
	vs, err := x.Values()
	if err != nil {
		return nil, err
	}
	return fromValues(t.cell.arena, vs)
}

// InsertAll stores a flat k, v, k, v, ... sequence.
func (t *Table) InsertAll(pairs ...any) error {
	x, err := t.view()
	if err != nil {
		return err
	}
	cps, err := toValues(pairs)
	if err != nil {
		return err
	}
	return x.InsertAll(cps)
}

// Merge copies every entry of other into t.
func (t *Table) Merge(other *Table) error {
	x, err := t.view()
	if err != nil {
		return err
	}
	o, err := other.view()
	if err != nil {
		return err
	}
	return x.Merge(o)
}

// Range calls fn for each entry of a snapshot taken in insertion order,
// until fn returns false. It does not touch the table cursor the guest
// iterates with.
func (t *Table) Range(fn func(k, v any) bool) error {
	x, err := t.view()
	if err != nil {
		return err
	}
	pairs, err := x.Pairs()
	if err != nil {
		return err
	}
	for i := 0; i < len(pairs); i += 2 {
		v, err := fromValue(t.cell.arena, pairs[i+1])
		if err != nil {
			return err
		}
		if !fn(pairs[i], v) {
			return nil
		}
	}
	return nil
}

// Key returns the entry's key.
func (e *Entry) Key() (any, error) {
	k, _, err := e.pair()
	return k, err
}

// Value returns the entry's value.
func (e *Entry) Value() (any, error) {
	_, v, err := e.pair()
	if err != nil {
		return nil, err
	}
	return fromValue(e.cell.arena, v)
}

func (e *Entry) pair() (container.Value, container.Value, error) {
	if err := e.check("TableEntry"); err != nil {
		return nil, nil, err
	}
	return e.cell.arena.Entry(e.cell.ref)
}
