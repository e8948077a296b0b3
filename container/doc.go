// Package container implements the host side storage of shared containers.
//
// Arrays, tables and table entries live in an Arena and are addressed by a
// generation checked Ref rather than by pointer. Each cell carries a
// reference count that starts at 1 for its creator:
//
//	arena := container.NewArena()
//	ref, _ := arena.NewArray(1.0, 2.0)
//
//	arena.Hold(ref)    // 2
//	arena.Release(ref) // 1
//	arena.Release(ref) // 0: storage destroyed now
//	arena.Release(ref) // stale: no-op
//
// Several owners may drop references independently (guest finalizers,
// explicit release calls, host wrappers); the decrement and the zero check
// happen under one lock, so storage is destroyed exactly once. Containers
// stored inside other containers are held by their parent and released when
// the parent drops them.
//
// Tables keep insertion order and carry a single iteration cursor. Starting
// a new iteration over a table moves the cursor for any iteration already
// in flight over the same table.
//
// Snapshot and Restore encode container trees as canonical CBOR.
package container
