package container

import (
	"fmt"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/wippyai/carrica/errors"
)

type tableStore struct {
	m *orderedmap.OrderedMap[any, Value]
	// cursor is the single iteration position of the table. Starting a
	// second iteration moves it for every iteration in flight.
	cursor *orderedmap.Pair[any, Value]
	// advanced is set when the entry under the cursor was deleted and the
	// cursor moved on to its successor, which the next Iterate must not skip.
	advanced bool
	mu       sync.Mutex
	dead     bool
}

// remove deletes k, moving the cursor off the deleted entry first.
func (s *tableStore) remove(k Value) Value {
	if s.cursor != nil {
		if p := s.m.GetPair(k); p == s.cursor {
			s.cursor = p.Next()
			s.advanced = true
		}
	}
	old, _ := s.m.Delete(k)
	return old
}

func (s *tableStore) kill() []Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	var children []Ref
	for p := s.m.Oldest(); p != nil; p = p.Next() {
		children = append(children, refsOf(p.Value)...)
	}
	s.m = orderedmap.New[any, Value]()
	s.cursor = nil
	s.advanced = false
	s.dead = true
	return children
}

// Table is a view of a table cell. Keys are strings or numbers; entries keep
// insertion order.
type Table struct {
	arena *Arena
	s     *tableStore
	ref   Ref
}

// Ref returns the cell reference of the table.
func (t *Table) Ref() Ref { return t.ref }

func (t *Table) released() error {
	return errors.Released(errors.PhaseContainer, "Table "+t.ref.String())
}

func badKey(k Value) error {
	return errors.New(errors.PhaseContainer, errors.KindTypeMismatch).
		Category(errors.CategoryGuest).
		Path("Table").
		GoType(fmt.Sprintf("%T", k)).
		Detail("table keys must be strings or numbers").
		Build()
}

// Len counts the entries.
func (t *Table) Len() (int, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.dead {
		return 0, t.released()
	}
	n := 0
	for p := t.s.m.Oldest(); p != nil; p = p.Next() {
		n++
	}
	return n, nil
}

// Get returns the value stored under k.
func (t *Table) Get(k Value) (Value, bool, error) {
	if !ValidKey(k) {
		return nil, false, badKey(k)
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.dead {
		return nil, false, t.released()
	}
	v, ok := t.s.m.Get(k)
	return v, ok, nil
}

// ContainsKey reports whether k has a value.
func (t *Table) ContainsKey(k Value) (bool, error) {
	_, ok, err := t.Get(k)
	return ok, err
}

// Set stores v under k. A nil v deletes the key.
func (t *Table) Set(k, v Value) error {
	if !ValidKey(k) {
		return badKey(k)
	}
	if err := t.arena.holdAll(refsOf(v)); err != nil {
		return err
	}

	t.s.mu.Lock()
	if t.s.dead {
		t.s.mu.Unlock()
		t.arena.releaseAll(refsOf(v))
		return t.released()
	}
	var old Value
	if v == nil {
		old = t.s.remove(k)
	} else {
		old, _ = t.s.m.Set(k, v)
	}
	t.s.mu.Unlock()

	t.arena.releaseAll(refsOf(old))
	return nil
}

// Clear deletes every entry and resets the cursor.
func (t *Table) Clear() error {
	t.s.mu.Lock()
	if t.s.dead {
		t.s.mu.Unlock()
		return t.released()
	}
	var old []Ref
	for p := t.s.m.Oldest(); p != nil; p = p.Next() {
		old = append(old, refsOf(p.Value)...)
	}
	t.s.m = orderedmap.New[any, Value]()
	t.s.cursor = nil
	t.s.advanced = false
	t.s.mu.Unlock()

	t.arena.releaseAll(old)
	return nil
}

// Keys returns the keys in insertion order.
func (t *Table) Keys() ([]Value, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.dead {
		return nil, t.released()
	}
	keys := make([]Value, 0, t.s.m.Len())
	for p := t.s.m.Oldest(); p != nil; p = p.Next() {
		keys = append(keys, p.Key)
	}
	return keys, nil
}

// Values returns the values in insertion order.
func (t *Table) Values() ([]Value, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.dead {
		return nil, t.released()
	}
	vals := make([]Value, 0, t.s.m.Len())
	for p := t.s.m.Oldest(); p != nil; p = p.Next() {
		vals = append(vals, p.Value)
	}
	return vals, nil
}

// Pairs returns the entries flattened as k, v, k, v, ...
func (t *Table) Pairs() ([]Value, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.dead {
		return nil, t.released()
	}
	out := make([]Value, 0, 2*t.s.m.Len())
	for p := t.s.m.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Key, p.Value)
	}
	return out, nil
}

// InsertAll stores every pair of a flat k, v, k, v, ... sequence. An odd
// length or an invalid key fails before anything is stored.
func (t *Table) InsertAll(pairs []Value) error {
	if len(pairs)%2 != 0 {
		return errors.New(errors.PhaseContainer, errors.KindInvalidInput).
			Category(errors.CategoryGuest).
			Path("Table", "insertAll(_)").
			Detail("expected key/value pairs, got %d values", len(pairs)).
			Build()
	}
	for i := 0; i < len(pairs); i += 2 {
		if !ValidKey(pairs[i]) {
			return badKey(pairs[i])
		}
	}
	for i := 0; i < len(pairs); i += 2 {
		if err := t.Set(pairs[i], pairs[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// Merge copies every entry of other into t.
func (t *Table) Merge(other *Table) error {
	pairs, err := other.Pairs()
	if err != nil {
		return err
	}
	return t.InsertAll(pairs)
}

// Iterate moves the table cursor. With restart it moves to the first entry,
// otherwise to the entry after the current one. Deleting the current entry
// during iteration does not end it. It reports whether the cursor addresses
// an entry afterwards.
func (t *Table) Iterate(restart bool) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.dead {
		return false, t.released()
	}
	switch {
	case restart:
		t.s.cursor = t.s.m.Oldest()
		t.s.advanced = false
	case t.s.advanced:
		t.s.advanced = false
	case t.s.cursor != nil:
		t.s.cursor = t.s.cursor.Next()
	}
	return t.s.cursor != nil, nil
}

// Current returns the entry under the cursor.
func (t *Table) Current() (key, value Value, ok bool, err error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.dead {
		return nil, nil, false, t.released()
	}
	if t.s.cursor == nil || t.s.advanced {
		return nil, nil, false, nil
	}
	return t.s.cursor.Key, t.s.cursor.Value, true, nil
}
