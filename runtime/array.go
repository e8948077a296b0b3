package runtime

import (
	"github.com/wippyai/carrica/container"
)

func (a *Array) view() (*container.Array, error) {
	if err := a.check("Array"); err != nil {
		return nil, err
	}
	return a.cell.arena.Array(a.cell.ref)
}

func (a *Array) Len() (int, error) {
	x, err := a.view()
	if err != nil {
		return 0, err
	}
	return x.Len()
}

// Get returns the element at i. A negative index counts from the end.
// Nested containers come back as new handles.
func (a *Array) Get(i int) (any, error) {
	x, err := a.view()
	if err != nil {
		return nil, err
	}
	v, err := x.Get(i)
	if err != nil {
		return nil, err
	}
	return fromValue(a.cell.arena, v)
}

func (a *Array) Set(i int, v any) error {
	x, err := a.view()
	if err != nil {
		return err
	}
	cv, err := toValue(v)
	if err != nil {
		return err
	}
	return x.Set(i, cv)
}

func (a *Array) Add(v any) error {
	x, err := a.view()
	if err != nil {
		return err
	}
	cv, err := toValue(v)
	if err != nil {
		return err
	}
	return x.Add(cv)
}

func (a *Array) AddAll(vs ...any) error {
	x, err := a.view()
	if err != nil {
		return err
	}
	cvs, err := toValues(vs)
	if err != nil {
		return err
	}
	return x.AddAll(cvs)
}

func (a *Array) Insert(i int, v any) error {
	x, err := a.view()
	if err != nil {
		return err
	}
	cv, err := toValue(v)
	if err != nil {
		return err
	}
	return x.Insert(i, cv)
}

// IndexOf returns the index of the first element equal to v, or -1.
func (a *Array) IndexOf(v any) (int, error) {
	x, err := a.view()
	if err != nil {
		return -1, err
	}
	cv, err := toValue(v)
	if err != nil {
		return -1, err
	}
	return x.IndexOf(cv)
}

// Remove deletes the first element equal to v and reports whether one was
// found.
func (a *Array) Remove(v any) (bool, error) {
	x, err := a.view()
	if err != nil {
		return false, err
	}
	cv, err := toValue(v)
	if err != nil {
		return false, err
	}
	return x.Remove(cv)
}

// RemoveAt deletes and returns the element at i.
func (a *Array) RemoveAt(i int) (any, error) {
	x, err := a.view()
	if err != nil {
		return nil, err
	}
	v, err := x.RemoveAt(i)
	if err != nil {
		return nil, err
	}
	return taken(a.cell.arena, v)
}

func (a *Array) Swap(i, j int) error {
	x, err := a.view()
	if err != nil {
		return err
	}
	return x.Swap(i, j)
}

func (a *Array) Sort() error {
	x, err := a.view()
	if err != nil {
		return err
	}
	return x.Sort()
}

func (a *Array) Clear() error {
	x, err := a.view()
	if err != nil {
		return err
	}
	return x.Clear()
}

// Times returns a new array holding the elements repeated n times.
func (a *Array) Times(n int) (*Array, error) {
	x, err := a.view()
	if err != nil {
		return nil, err
	}
	ref, err := x.Times(n)
	if err != nil {
		return nil, err
	}
	w, err := wrapOwned(a.cell.arena, ref)
	if err != nil {
		return nil, err
	}
	return w.(*Array), nil
}

// Values returns a snapshot of the elements.
func (a *Array) Values() ([]any, error) {
	x, err := a.view()
	if err != nil {
		return nil, err
	}
	vs, err := x.Values()
	if err != nil {
		return nil, err
	}
	return fromValues(a.cell.arena, vs)
}
