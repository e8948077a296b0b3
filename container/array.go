package container

import (
	"slices"
	"sync"

	"github.com/wippyai/carrica/errors"
)

// MaxArrayLen bounds the length of arrays built in one step from a guest
// supplied count.
const MaxArrayLen = 1 << 24

// CheckLen fails when an array of n elements may not be built in one step.
func CheckLen(op string, n int) error {
	if n < 0 || n > MaxArrayLen {
		return errors.New(errors.PhaseContainer, errors.KindInvalidInput).
			Category(errors.CategoryGuest).
			Path("Array", op).
			Detail("array of %d elements exceeds the limit of %d", n, MaxArrayLen).
			Build()
	}
	return nil
}

type arrayStore struct {
	items []Value
	mu    sync.Mutex
	dead  bool
}

func (s *arrayStore) kill() []Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	children := refsOf(s.items...)
	s.items = nil
	s.dead = true
	return children
}

// Array is a view of an array cell. Views stay usable after the cell is
// destroyed but every operation then fails.
type Array struct {
	arena *Arena
	s     *arrayStore
	ref   Ref
}

// Ref returns the cell reference of the array.
func (x *Array) Ref() Ref { return x.ref }

func (x *Array) released() error {
	return errors.Released(errors.PhaseContainer, "Array "+x.ref.String())
}

// normalize maps a possibly negative index onto [0, n).
func normalize(i, n int) (int, bool) {
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, false
	}
	return i, true
}

func (x *Array) outOfBounds(i, n int) error {
	return errors.OutOfBounds(errors.PhaseContainer, []string{"Array"}, i, n)
}

// Len returns the current length.
func (x *Array) Len() (int, error) {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	if x.s.dead {
		return 0, x.released()
	}
	return len(x.s.items), nil
}

// Get returns the element at i. Negative indices count from the end.
func (x *Array) Get(i int) (Value, error) {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	if x.s.dead {
		return nil, x.released()
	}
	n := len(x.s.items)
	j, ok := normalize(i, n)
	if !ok {
		return nil, x.outOfBounds(i, n)
	}
	return x.s.items[j], nil
}

// Set replaces the element at i.
func (x *Array) Set(i int, v Value) error {
	if err := x.arena.holdAll(refsOf(v)); err != nil {
		return err
	}

	x.s.mu.Lock()
	if x.s.dead {
		x.s.mu.Unlock()
		x.arena.releaseAll(refsOf(v))
		return x.released()
	}
	n := len(x.s.items)
	j, ok := normalize(i, n)
	if !ok {
		x.s.mu.Unlock()
		x.arena.releaseAll(refsOf(v))
		return x.outOfBounds(i, n)
	}
	old := x.s.items[j]
	x.s.items[j] = v
	x.s.mu.Unlock()

	x.arena.releaseAll(refsOf(old))
	return nil
}

// Add appends v.
func (x *Array) Add(v Value) error {
	return x.AddAll([]Value{v})
}

// AddAll appends every value of vs in order.
func (x *Array) AddAll(vs []Value) error {
	held := refsOf(vs...)
	if err := x.arena.holdAll(held); err != nil {
		return err
	}

	x.s.mu.Lock()
	if x.s.dead {
		x.s.mu.Unlock()
		x.arena.releaseAll(held)
		return x.released()
	}
	x.s.items = append(x.s.items, vs...)
	x.s.mu.Unlock()
	return nil
}

// Clear removes every element.
func (x *Array) Clear() error {
	x.s.mu.Lock()
	if x.s.dead {
		x.s.mu.Unlock()
		return x.released()
	}
	old := refsOf(x.s.items...)
	x.s.items = x.s.items[:0]
	x.s.mu.Unlock()

	x.arena.releaseAll(old)
	return nil
}

// IndexOf returns the index of the first element equal to v, or -1.
func (x *Array) IndexOf(v Value) (int, error) {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	if x.s.dead {
		return -1, x.released()
	}
	for i, item := range x.s.items {
		if Equal(item, v) {
			return i, nil
		}
	}
	return -1, nil
}

// Insert places v at i, shifting the element at i and every later one up
// by one. i must address an existing element.
func (x *Array) Insert(i int, v Value) error {
	if err := x.arena.holdAll(refsOf(v)); err != nil {
		return err
	}

	x.s.mu.Lock()
	if x.s.dead {
		x.s.mu.Unlock()
		x.arena.releaseAll(refsOf(v))
		return x.released()
	}
	n := len(x.s.items)
	j, ok := normalize(i, n)
	if !ok {
		x.s.mu.Unlock()
		x.arena.releaseAll(refsOf(v))
		return x.outOfBounds(i, n)
	}
	x.s.items = slices.Insert(x.s.items, j, v)
	x.s.mu.Unlock()
	return nil
}

// Remove deletes the first element equal to v. It reports whether an
// element was removed; a missing value is not an error.
func (x *Array) Remove(v Value) (bool, error) {
	x.s.mu.Lock()
	if x.s.dead {
		x.s.mu.Unlock()
		return false, x.released()
	}
	j := -1
	for i, item := range x.s.items {
		if Equal(item, v) {
			j = i
			break
		}
	}
	if j < 0 {
		x.s.mu.Unlock()
		return false, nil
	}
	old := x.s.items[j]
	x.s.items = slices.Delete(x.s.items, j, j+1)
	x.s.mu.Unlock()

	x.arena.releaseAll(refsOf(old))
	return true, nil
}

// RemoveAt deletes and returns the element at i. When the element is a
// Ref, the array's reference passes to the caller, who must release it.
func (x *Array) RemoveAt(i int) (Value, error) {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	if x.s.dead {
		return nil, x.released()
	}
	n := len(x.s.items)
	j, ok := normalize(i, n)
	if !ok {
		return nil, x.outOfBounds(i, n)
	}
	old := x.s.items[j]
	x.s.items = slices.Delete(x.s.items, j, j+1)
	return old, nil
}

// Swap exchanges the elements at i and j.
func (x *Array) Swap(i, j int) error {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	if x.s.dead {
		return x.released()
	}
	n := len(x.s.items)
	a, ok := normalize(i, n)
	if !ok {
		return x.outOfBounds(i, n)
	}
	b, ok := normalize(j, n)
	if !ok {
		return x.outOfBounds(j, n)
	}
	x.s.items[a], x.s.items[b] = x.s.items[b], x.s.items[a]
	return nil
}

// Times returns a new array holding the elements repeated n times. The new
// array is owned by the caller.
func (x *Array) Times(n int) (Ref, error) {
	if n < 1 {
		return Ref{}, errors.New(errors.PhaseContainer, errors.KindInvalidInput).
			Category(errors.CategoryGuest).
			Path("Array", "*").
			Detail("count must be at least 1, got %d", n).
			Build()
	}
	items, err := x.Values()
	if err != nil {
		return Ref{}, err
	}
	if len(items) == 0 {
		return x.arena.NewArray()
	}
	if n > MaxArrayLen/len(items) {
		return Ref{}, errors.New(errors.PhaseContainer, errors.KindInvalidInput).
			Category(errors.CategoryGuest).
			Path("Array", "*").
			Detail("%d elements repeated %d times exceeds the limit of %d", len(items), n, MaxArrayLen).
			Build()
	}
	out := make([]Value, 0, len(items)*n)
	for range n {
		out = append(out, items...)
	}
	return x.arena.NewArray(out...)
}

// Sort orders the elements with a stable sort: numbers ascending, then
// strings ascending. Any other element type fails the sort and leaves the
// array unchanged.
func (x *Array) Sort() error {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	if x.s.dead {
		return x.released()
	}
	for _, item := range x.s.items {
		switch item.(type) {
		case float64, string:
		default:
			return errors.New(errors.PhaseContainer, errors.KindTypeMismatch).
				Category(errors.CategoryGuest).
				Path("Array", "sort()").
				Detail("only numbers and strings can be sorted").
				Build()
		}
	}
	slices.SortStableFunc(x.s.items, func(a, b Value) int {
		c, _ := compare(a, b)
		return c
	})
	return nil
}

// Values returns a snapshot of the elements.
func (x *Array) Values() ([]Value, error) {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	if x.s.dead {
		return nil, x.released()
	}
	return slices.Clone(x.s.items), nil
}
