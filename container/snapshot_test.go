package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_Tree(t *testing.T) {
	a := NewArena()
	inner, _ := a.NewTable()
	tbl, _ := a.Table(inner)
	require.NoError(t, tbl.InsertAll([]Value{"name", "x", 1.0, true}))

	outer, err := a.NewArray(1.5, nil, "s", inner)
	require.NoError(t, err)

	data, err := a.Snapshot(outer)
	require.NoError(t, err)

	b := NewArena()
	restored, err := b.Restore(data)
	require.NoError(t, err)

	arr, err := b.Array(restored)
	require.NoError(t, err)
	items, err := arr.Values()
	require.NoError(t, err)
	require.Len(t, items, 4)
	assert.Equal(t, 1.5, items[0])
	assert.Nil(t, items[1])
	assert.Equal(t, "s", items[2])

	childRef, ok := items[3].(Ref)
	require.True(t, ok)
	child, err := b.Table(childRef)
	require.NoError(t, err)
	pairs, err := child.Pairs()
	require.NoError(t, err)
	assert.Equal(t, []Value{"name", "x", 1.0, true}, pairs)

	refs, _ := b.Refs(childRef)
	assert.Equal(t, int32(1), refs, "child owned only by its parent")

	b.Release(restored)
	assert.Equal(t, 0, b.Len())
}

func TestSnapshot_Deterministic(t *testing.T) {
	a := NewArena()
	r1, _ := a.NewArray(1.0, "a")
	r2, _ := a.NewArray(1.0, "a")

	d1, err := a.Snapshot(r1)
	require.NoError(t, err)
	d2, err := a.Snapshot(r2)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
}

func TestSnapshot_Cycle(t *testing.T) {
	a := NewArena()
	ref, _ := a.NewArray()
	arr, _ := a.Array(ref)
	require.NoError(t, arr.Add(ref))

	_, err := a.Snapshot(ref)
	assert.Error(t, err)
}

func TestRestore_Garbage(t *testing.T) {
	_, err := NewArena().Restore([]byte{0xff, 0x00})
	assert.Error(t, err)
}
