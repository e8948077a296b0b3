package marshal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/carrica/container"
	"github.com/wippyai/carrica/errors"
	"github.com/wippyai/carrica/guest"
	"github.com/wippyai/carrica/guest/mini"
)

type classes map[Tag]guest.Handle

func (c classes) ClassHandle(tag Tag) (guest.Handle, error) {
	h, ok := c[tag]
	if !ok {
		return nil, errors.NotFound(errors.PhaseMarshal, "class", tag.String())
	}
	return h, nil
}

// setup returns a marshal context over a mini VM declaring one foreign class
// per tag. Collected proxies release their references.
func setup(t *testing.T) (*Context, *mini.VM) {
	t.Helper()
	arena := container.NewArena()
	vm := mini.New(guest.Config{
		BindForeignClass: func(guest.VM, string, string) guest.ForeignClass {
			return guest.ForeignClass{
				Allocate: func(vm guest.VM) { vm.SetSlotNewForeign(0, 0, nil) },
				Finalize: func(data any) {
					if p, ok := data.(*Proxy); ok {
						p.Finalize()
					}
				},
			}
		},
	})
	t.Cleanup(vm.Free)
	require.Equal(t, guest.ResultSuccess, vm.Interpret("main", `
foreign class Array {}
foreign class Table {}
foreign class TableEntry {}
class Other {
  construct new() {}
}
`))

	cs := classes{}
	vm.EnsureSlots(1)
	for tag, name := range map[Tag]string{TagArray: "Array", TagTable: "Table", TagEntry: "TableEntry"} {
		vm.Variable("main", name, 0)
		cs[tag] = vm.SlotHandle(0)
	}
	return &Context{VM: vm, Arena: arena, Classes: cs, Owner: "test"}, vm
}

type wrapper struct{ ref container.Ref }

func (w *wrapper) SharedRef() container.Ref { return w.ref }

func TestPushPull_Primitives(t *testing.T) {
	c, vm := setup(t)
	vm.EnsureSlots(4)

	tests := []struct {
		in   any
		want container.Value
		typ  guest.SlotType
	}{
		{nil, nil, guest.TypeNull},
		{true, true, guest.TypeBool},
		{int8(-3), -3.0, guest.TypeNum},
		{uint64(7), 7.0, guest.TypeNum},
		{float32(1.5), 1.5, guest.TypeNum},
		{"héllo", "héllo", guest.TypeString},
	}
	for _, tt := range tests {
		require.NoError(t, c.Push(1, tt.in))
		assert.Equal(t, tt.typ, vm.SlotType(1))
		got, err := c.Pull(1)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
		assert.True(t, IsHostSafe(vm, 1))
	}
}

func TestPush_HostCompositeIsFatal(t *testing.T) {
	c, vm := setup(t)
	vm.EnsureSlots(2)

	for _, v := range []any{map[string]int{"a": 1}, []int{1}, struct{}{}, func() {}} {
		err := c.Push(1, v)
		require.Error(t, err)
		assert.True(t, errors.IsFatal(err), "%T", v)
	}

	var nilWrapper *wrapper
	require.NoError(t, c.Push(1, nilWrapper))
	assert.Equal(t, guest.TypeNull, vm.SlotType(1))
}

func TestPushRef_CreatesOwningProxy(t *testing.T) {
	c, vm := setup(t)
	vm.EnsureSlots(2)

	ref, err := c.Arena.NewArray(1.0, "two")
	require.NoError(t, err)

	require.NoError(t, c.Push(1, &wrapper{ref}))
	refs, _ := c.Arena.Refs(ref)
	assert.Equal(t, int32(2), refs)

	p, ok := ProxyAt(vm, 1)
	require.True(t, ok)
	assert.Equal(t, TagArray, p.Tag)
	assert.Equal(t, "test", p.Owner)
	assert.Equal(t, int32(1), p.Owned())

	got, err := c.Pull(1)
	require.NoError(t, err)
	assert.Equal(t, ref, got)

	// Pulling does not change the count.
	refs, _ = c.Arena.Refs(ref)
	assert.Equal(t, int32(2), refs)
}

func TestProxy_ReleaseAndFinalizeDropOnlyOwnedRefs(t *testing.T) {
	arena := container.NewArena()
	ref, err := arena.NewTable()
	require.NoError(t, err)
	require.NoError(t, arena.Hold(ref)) // reference handed to the proxy

	p := NewProxy(arena, TagTable, ref, nil)
	require.NoError(t, p.Hold())
	assert.Equal(t, int32(2), p.Owned())

	p.Release()
	p.Release()
	p.Release() // nothing left to drop
	refs, ok := arena.Refs(ref)
	require.True(t, ok)
	assert.Equal(t, int32(1), refs)

	p.Finalize()
	assert.True(t, p.Alive())

	arena.Release(ref)
	assert.False(t, p.Alive())
}

func TestProxy_FinalizeAfterPartialRelease(t *testing.T) {
	arena := container.NewArena()
	ref, err := arena.NewArray()
	require.NoError(t, err)

	p := NewProxy(arena, TagArray, ref, nil)
	require.NoError(t, p.Hold())
	require.NoError(t, p.Hold())
	p.Release()
	p.Finalize()
	assert.False(t, arena.Alive(ref))

	// Stale drops are harmless.
	p.Release()
	p.Finalize()
}

func TestCollectedProxyReleasesReference(t *testing.T) {
	c, vm := setup(t)
	vm.EnsureSlots(2)

	ref, err := c.Arena.NewArray()
	require.NoError(t, err)
	require.NoError(t, c.PushOwned(1, ref))
	assert.True(t, c.Arena.Alive(ref))

	vm.SetSlotNull(1)
	vm.CollectGarbage()
	assert.False(t, c.Arena.Alive(ref))
}

func TestPull_GuestComposites(t *testing.T) {
	c, vm := setup(t)
	require.Equal(t, guest.ResultSuccess, vm.Interpret("main", `
var list = [1, 2]
var map = {}
var other = Other.new()
`))
	vm.EnsureSlots(2)

	vm.Variable("main", "list", 1)
	_, err := c.Pull(1)
	require.Error(t, err)
	assert.False(t, errors.IsFatal(err))
	assert.False(t, IsHostSafe(vm, 1))

	vals, err := c.PullList(1)
	require.NoError(t, err)
	assert.Equal(t, []container.Value{1.0, 2.0}, vals)

	vm.Variable("main", "map", 1)
	assert.False(t, IsHostSafe(vm, 1))
	_, err = c.PullList(1)
	assert.True(t, errors.IsKind(err, errors.KindTypeMismatch))

	vm.Variable("main", "other", 1)
	assert.False(t, IsHostSafe(vm, 1))
}

func TestPull_UnknownForeignIsFatal(t *testing.T) {
	c, vm := setup(t)
	vm.EnsureSlots(2)
	h, err := c.Classes.ClassHandle(TagArray)
	require.NoError(t, err)
	vm.SetSlotHandle(0, h)
	vm.SetSlotNewForeign(1, 0, "not a proxy")

	assert.False(t, IsHostSafe(vm, 1))
	_, err = c.Pull(1)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestPushList(t *testing.T) {
	c, vm := setup(t)
	vm.EnsureSlots(2)

	ref, err := c.Arena.NewTable()
	require.NoError(t, err)
	require.NoError(t, c.PushList(1, []container.Value{1.0, "x", ref}))
	require.Equal(t, guest.TypeList, vm.SlotType(1))
	assert.Equal(t, 3, vm.ListCount(1))

	refs, _ := c.Arena.Refs(ref)
	assert.Equal(t, int32(2), refs)
}
