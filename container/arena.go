package container

import (
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/wippyai/carrica/errors"
)

// Arena owns the storage of every shared container created by a runtime.
// Cells are reference counted; storage is destroyed at the decrement that
// brings the count to zero, whichever owner performs it.
type Arena struct {
	cells     []cell
	freeList  []uint32
	observers map[int]Observer
	nextObs   int
	mu        sync.Mutex
	obsMu     sync.RWMutex
	closed    bool
}

type cell struct {
	array *arrayStore
	table *tableStore
	entry *entryStore
	kind  Kind
	gen   uint32
	refs  int32
	live  bool
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{
		cells:     make([]cell, 0, 64),
		freeList:  make([]uint32, 0, 16),
		observers: make(map[int]Observer),
	}
}

// NewArray creates an array holding a copy of items. The returned reference
// carries the initial count of 1, owned by the caller. Refs among items are
// held by the new array.
func (a *Arena) NewArray(items ...Value) (Ref, error) {
	store := &arrayStore{items: append([]Value(nil), items...)}
	if err := a.holdAll(refsOf(items...)); err != nil {
		return Ref{}, err
	}
	ref, err := a.insert(cell{kind: KindArray, array: store})
	if err != nil {
		a.releaseAll(refsOf(items...))
	}
	return ref, err
}

// NewTable creates an empty table owned by the caller.
func (a *Arena) NewTable() (Ref, error) {
	return a.insert(cell{kind: KindTable, table: &tableStore{m: orderedmap.New[any, Value]()}})
}

// NewEntry creates a key/value record. The entry holds a reference on the
// table it was read from and on a container value.
func (a *Arena) NewEntry(table Ref, key, value Value) (Ref, error) {
	held := refsOf(table, value)
	if err := a.holdAll(held); err != nil {
		return Ref{}, err
	}
	ref, err := a.insert(cell{kind: KindEntry, entry: &entryStore{table: table, key: key, value: value}})
	if err != nil {
		a.releaseAll(held)
	}
	return ref, err
}

func (a *Arena) insert(c cell) (Ref, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return Ref{}, errors.Released(errors.PhaseContainer, "container arena")
	}

	c.refs = 1
	c.live = true

	var idx uint32
	if n := len(a.freeList); n > 0 {
		idx = a.freeList[n-1]
		a.freeList = a.freeList[:n-1]
		c.gen = a.cells[idx-1].gen
		a.cells[idx-1] = c
	} else {
		c.gen = 1
		a.cells = append(a.cells, c)
		idx = uint32(len(a.cells))
	}
	ref := Ref{Index: idx, Gen: c.gen}
	a.mu.Unlock()

	a.notify(Event{Ref: ref, Kind: c.kind, Type: EventCreated, Refs: 1})
	return ref, nil
}

// lookup returns the live cell for ref. Caller must hold a.mu.
func (a *Arena) lookup(ref Ref) *cell {
	if ref.Index == 0 || int(ref.Index) > len(a.cells) {
		return nil
	}
	c := &a.cells[ref.Index-1]
	if !c.live || c.gen != ref.Gen {
		return nil
	}
	return c
}

// Kind returns the kind of a live cell.
func (a *Arena) Kind(ref Ref) (Kind, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.lookup(ref)
	if c == nil {
		return 0, false
	}
	return c.kind, true
}

// Alive reports whether ref addresses a live cell.
func (a *Arena) Alive(ref Ref) bool {
	_, ok := a.Kind(ref)
	return ok
}

// Refs returns the current reference count of a live cell.
func (a *Arena) Refs(ref Ref) (int32, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.lookup(ref)
	if c == nil {
		return 0, false
	}
	return c.refs, true
}

// Hold increments the reference count of a live cell.
func (a *Arena) Hold(ref Ref) error {
	a.mu.Lock()
	c := a.lookup(ref)
	if c == nil {
		a.mu.Unlock()
		return errors.Released(errors.PhaseContainer, "container "+ref.String())
	}
	c.refs++
	ev := Event{Ref: ref, Kind: c.kind, Type: EventHeld, Refs: c.refs}
	a.mu.Unlock()

	a.notify(ev)
	return nil
}

// Release decrements the reference count and destroys the storage when it
// reaches zero. Containers referenced only by the destroyed one are
// released in turn. Releasing a stale reference is a no-op. The result
// reports whether ref itself was destroyed by this call.
func (a *Arena) Release(ref Ref) bool {
	destroyed := false
	pending := []Ref{ref}
	for len(pending) > 0 {
		r := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		children, gone := a.drop(r)
		if r == ref && gone {
			destroyed = true
		}
		pending = append(pending, children...)
	}
	return destroyed
}

func (a *Arena) drop(ref Ref) ([]Ref, bool) {
	a.mu.Lock()
	c := a.lookup(ref)
	if c == nil {
		a.mu.Unlock()
		return nil, false
	}

	c.refs--
	if c.refs > 0 {
		ev := Event{Ref: ref, Kind: c.kind, Type: EventReleased, Refs: c.refs}
		a.mu.Unlock()
		a.notify(ev)
		return nil, false
	}

	children := a.destroyLocked(ref.Index)
	kind := c.kind
	a.mu.Unlock()

	a.notify(Event{Ref: ref, Kind: kind, Type: EventDestroyed})
	return children, true
}

// destroyLocked kills the cell at idx and returns the references its
// storage was holding. Caller must hold a.mu.
func (a *Arena) destroyLocked(idx uint32) []Ref {
	c := &a.cells[idx-1]
	var children []Ref
	switch c.kind {
	case KindArray:
		children = c.array.kill()
	case KindTable:
		children = c.table.kill()
	case KindEntry:
		children = refsOf(c.entry.table, c.entry.value)
	}

	c.live = false
	c.refs = 0
	c.gen++
	c.array, c.table, c.entry = nil, nil, nil
	a.freeList = append(a.freeList, idx)
	return children
}

func (a *Arena) holdAll(refs []Ref) error {
	for i, r := range refs {
		if err := a.Hold(r); err != nil {
			a.releaseAll(refs[:i])
			return err
		}
	}
	return nil
}

func (a *Arena) releaseAll(refs []Ref) {
	for _, r := range refs {
		a.Release(r)
	}
}

// Len returns the number of live cells.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	count := 0
	for i := range a.cells {
		if a.cells[i].live {
			count++
		}
	}
	return count
}

// Subscribe adds an observer and returns a function removing it.
func (a *Arena) Subscribe(o Observer) func() {
	a.obsMu.Lock()
	id := a.nextObs
	a.nextObs++
	a.observers[id] = o
	a.obsMu.Unlock()

	return func() {
		a.obsMu.Lock()
		delete(a.observers, id)
		a.obsMu.Unlock()
	}
}

func (a *Arena) notify(e Event) {
	a.obsMu.RLock()
	defer a.obsMu.RUnlock()
	for _, o := range a.observers {
		o.OnContainerEvent(e)
	}
}

// Close destroys every live cell regardless of its count and stops
// accepting new containers.
func (a *Arena) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true

	var destroyed []Event
	for i := range a.cells {
		c := &a.cells[i]
		if !c.live {
			continue
		}
		ref := Ref{Index: uint32(i + 1), Gen: c.gen}
		kind := c.kind
		a.destroyLocked(ref.Index)
		destroyed = append(destroyed, Event{Ref: ref, Kind: kind, Type: EventDestroyed})
	}
	a.cells = nil
	a.freeList = nil
	a.mu.Unlock()

	for _, e := range destroyed {
		a.notify(e)
	}
	return nil
}

// Array returns a view of a live array cell.
func (a *Arena) Array(ref Ref) (*Array, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.lookup(ref)
	if c == nil {
		return nil, errors.Released(errors.PhaseContainer, "Array "+ref.String())
	}
	if c.kind != KindArray {
		return nil, kindMismatch(ref, KindArray, c.kind)
	}
	return &Array{arena: a, ref: ref, s: c.array}, nil
}

// Table returns a view of a live table cell.
func (a *Arena) Table(ref Ref) (*Table, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.lookup(ref)
	if c == nil {
		return nil, errors.Released(errors.PhaseContainer, "Table "+ref.String())
	}
	if c.kind != KindTable {
		return nil, kindMismatch(ref, KindTable, c.kind)
	}
	return &Table{arena: a, ref: ref, s: c.table}, nil
}

// Entry returns the key and value of a live entry cell.
func (a *Arena) Entry(ref Ref) (key, value Value, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.lookup(ref)
	if c == nil {
		return nil, nil, errors.Released(errors.PhaseContainer, "TableEntry "+ref.String())
	}
	if c.kind != KindEntry {
		return nil, nil, kindMismatch(ref, KindEntry, c.kind)
	}
	return c.entry.key, c.entry.value, nil
}

func kindMismatch(ref Ref, want, got Kind) error {
	return errors.New(errors.PhaseContainer, errors.KindTypeMismatch).
		Category(errors.CategoryGuest).
		Path(ref.String()).
		Detail("expected %s, found %s", want, got).
		Build()
}

type entryStore struct {
	key   Value
	value Value
	table Ref
}
