package runtime

import (
	goruntime "runtime"
	"sync/atomic"

	"github.com/wippyai/carrica/container"
	"github.com/wippyai/carrica/errors"
)

type cellRef struct {
	arena *container.Arena
	ref   container.Ref
}

func (c cellRef) drop() { c.arena.Release(c.ref) }

// shared is the part every host wrapper has in common: it owns one
// reference to a cell and drops it on Release, or when the wrapper becomes
// unreachable.
type shared struct {
	cell     cellRef
	cleanup  goruntime.Cleanup
	released atomic.Bool
}

// SharedRef returns the container reference.
func (s *shared) SharedRef() container.Ref { return s.cell.ref }

// Release drops the wrapper's reference. Further calls are no-ops.
func (s *shared) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.cleanup.Stop()
		s.cell.drop()
	}
}

// Released reports whether Release was called.
func (s *shared) Released() bool { return s.released.Load() }

// Refs returns the current reference count of the cell.
func (s *shared) Refs() int32 {
	n, _ := s.cell.arena.Refs(s.cell.ref)
	return n
}

func (s *shared) check(what string) error {
	if s.released.Load() {
		return errors.Released(errors.PhaseContainer, what+" handle")
	}
	return nil
}

// Array is a host handle to a shared array.
type Array struct{ shared }

// Table is a host handle to a shared table.
type Table struct{ shared }

// Entry is a host handle to a key/value pair produced by table iteration.
type Entry struct{ shared }

// wrapOwned wraps a reference the caller owns. The wrapper takes it over.
func wrapOwned(arena *container.Arena, ref container.Ref) (any, error) {
	kind, ok := arena.Kind(ref)
	if !ok {
		return nil, errors.Released(errors.PhaseContainer, "container "+ref.String())
	}
	cell := cellRef{arena: arena, ref: ref}
	switch kind {
	case container.KindArray:
		a := &Array{shared{cell: cell}}
		a.cleanup = goruntime.AddCleanup(a, cellRef.drop, cell)
		return a, nil
	case container.KindTable:
		t := &Table{shared{cell: cell}}
		t.cleanup = goruntime.AddCleanup(t, cellRef.drop, cell)
		return t, nil
	default:
		e := &Entry{shared{cell: cell}}
		e.cleanup = goruntime.AddCleanup(e, cellRef.drop, cell)
		return e, nil
	}
}

// wrapHeld wraps a reference held elsewhere, taking a new one.
func wrapHeld(arena *container.Arena, ref container.Ref) (any, error) {
	if err := arena.Hold(ref); err != nil {
		return nil, err
	}
	w, err := wrapOwned(arena, ref)
	if err != nil {
		arena.Release(ref)
	}
	return w, err
}

// fromValue converts a stored value for the host.
func fromValue(arena *container.Arena, v container.Value) (any, error) {
	if ref, ok := v.(container.Ref); ok {
		return wrapHeld(arena, ref)
	}
	return v, nil
}

// taken converts a value removed from a container; a reference is handed
// over to the wrapper.
func taken(arena *container.Arena, v container.Value) (any, error) {
	if ref, ok := v.(container.Ref); ok {
		return wrapOwned(arena, ref)
	}
	return v, nil
}

type sharedValue interface {
	SharedRef() container.Ref
	Released() bool
}

// toValue converts a host value for storage.
func toValue(v any) (container.Value, error) {
	if s, ok := v.(sharedValue); ok {
		if s.Released() {
			return nil, errors.Released(errors.PhaseMarshal, "container handle")
		}
		return s.SharedRef(), nil
	}
	return container.Canonical(v)
}

func toValues(vs []any) ([]container.Value, error) {
	out := make([]container.Value, len(vs))
	for i, v := range vs {
		cv, err := toValue(v)
		if err != nil {
			return nil, err
		}
		out[i] = cv
	}
	return out, nil
}

func fromValues(arena *container.Arena, vs []container.Value) ([]any, error) {
	out := make([]any, len(vs))
	for i, v := range vs {
		hv, err := fromValue(arena, v)
		if err != nil {
			return nil, err
		}
		out[i] = hv
	}
	return out, nil
}

// Snapshot encodes the array and everything it contains as CBOR.
func (a *Array) Snapshot() ([]byte, error) { return snapshot(&a.shared, "Array") }

// Snapshot encodes the table and everything it contains as CBOR.
func (t *Table) Snapshot() ([]byte, error) { return snapshot(&t.shared, "Table") }

func snapshot(s *shared, what string) ([]byte, error) {
	if err := s.check(what); err != nil {
		return nil, err
	}
	return s.cell.arena.Snapshot(s.cell.ref)
}
