package builtin

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/carrica/container"
	"github.com/wippyai/carrica/errors"
	"github.com/wippyai/carrica/guest"
	"github.com/wippyai/carrica/guest/mini"
	"github.com/wippyai/carrica/marshal"
	"github.com/wippyai/carrica/module"
)

// testEnv is a minimal Env backed by a mini VM.
type testEnv struct {
	arena   *container.Arena
	classes map[marshal.Tag]guest.Handle
	consts  map[string]any
	funcs   []func(args []container.Value) (any, error)
	names   map[string]int
	failed  []error
}

func (e *testEnv) Marshal(vm guest.VM) *marshal.Context {
	return &marshal.Context{VM: vm, Arena: e.arena, Classes: e, Owner: e}
}

func (e *testEnv) ClassHandle(tag marshal.Tag) (guest.Handle, error) {
	h, ok := e.classes[tag]
	if !ok {
		return nil, errors.NotFound(errors.PhaseMarshal, "class", tag.String())
	}
	return h, nil
}

func (e *testEnv) HostName() string { return "test" }

func (e *testEnv) Const(name string) (any, bool) {
	v, ok := e.consts[name]
	return v, ok
}

func (e *testEnv) FuncRef(name string) int {
	if i, ok := e.names[name]; ok {
		return i
	}
	return -1
}

func (e *testEnv) CallFunc(ref int, args []container.Value) (any, error) {
	if ref >= len(e.funcs) {
		return nil, errors.NotFound(errors.PhaseHost, "function", fmt.Sprint(ref))
	}
	return e.funcs[ref](args)
}

func (e *testEnv) Fail(err error) { e.failed = append(e.failed, err) }

func (e *testEnv) register(name string, fn func(args []container.Value) (any, error)) {
	e.names[name] = len(e.funcs)
	e.funcs = append(e.funcs, fn)
}

type harness struct {
	env  *testEnv
	vm   *mini.VM
	out  strings.Builder
	errs []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	d, err := Module()
	require.NoError(t, err)
	chain := module.NewChain(d, nil, nil)

	h := &harness{env: &testEnv{
		arena:   container.NewArena(),
		classes: make(map[marshal.Tag]guest.Handle),
		consts:  make(map[string]any),
		names:   make(map[string]int),
	}}
	h.vm = mini.New(guest.Config{
		UserData: h.env,
		Write:    func(_ guest.VM, text string) { h.out.WriteString(text) },
		Error: func(_ guest.VM, kind guest.ErrorKind, _ string, _ int, msg string) {
			if kind != guest.ErrorStackTrace {
				h.errs = append(h.errs, msg)
			}
		},
		LoadModule: func(_ guest.VM, name string) (string, bool) { return chain.Text(name) },
		BindForeignMethod: func(_ guest.VM, mod, class string, isStatic bool, sig string) guest.ForeignMethod {
			fn, _ := chain.BindMethod(mod, class, isStatic, sig)
			return fn
		},
		BindForeignClass: func(_ guest.VM, mod, class string) guest.ForeignClass {
			fc, _ := chain.BindClass(mod, class)
			return fc
		},
	})

	require.Equal(t, guest.ResultSuccess, h.vm.Interpret("main", `import "carrica" for Array, Table, TableEntry, Host`), h.errs)
	h.vm.EnsureSlots(1)
	for tag, name := range map[marshal.Tag]string{marshal.TagArray: "Array", marshal.TagTable: "Table", marshal.TagEntry: "TableEntry"} {
		h.vm.Variable(Name, name, 0)
		h.env.classes[tag] = h.vm.SlotHandle(0)
	}
	return h
}

func (h *harness) run(t *testing.T, src string) guest.Result {
	t.Helper()
	h.out.Reset()
	h.errs = nil
	return h.vm.Interpret("main", src)
}

func TestArray_Swap(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, guest.ResultSuccess, h.run(t, `
var a = Array.fromList([1, 2, 3])
a.swap(0, 2)
System.print(a)
`), h.errs)
	assert.Equal(t, "[3, 2, 1]\n", h.out.String())
}

func TestArray_Operations(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, guest.ResultSuccess, h.run(t, `
var a = Array.new()
a.add(5)
a.add("x")
a.addAll([1, 2])
System.print(a.count)
System.print(a.indexOf("x"))
System.print(a.removeAt(1))
System.print(a)
a.sort()
System.print(a)
System.print((a * 2).count)
var sum = 0
for (x in a) {
  sum = sum + x
}
System.print(sum)
System.print(a.remove(9))
System.print(a.remove(1))
System.print(a[-1])
a[0] = "first"
a.insert(1, true)
System.print(a)
System.print(Array.filled(2, "z"))
`), h.errs)
	assert.Equal(t, "4\n1\nx\n[5, 1, 2]\n[1, 2, 5]\n6\n8\nnull\n1\n5\n[first, true, 5]\n[z, z]\n", h.out.String())
}

func TestArray_Nested(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, guest.ResultSuccess, h.run(t, `
var outer = Array.new()
var inner = Array.fromList([1, 2])
outer.add(inner)
inner.add(3)
System.print(outer[0].count)
System.print(outer.removeAt(0).count)
`), h.errs)
	assert.Equal(t, "3\n3\n", h.out.String())
}

func TestArray_Errors(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, guest.ResultRuntimeError, h.run(t, `Array.new()[3]`))
	require.Len(t, h.errs, 1)
	assert.Contains(t, h.errs[0], "out of bounds")

	assert.Equal(t, guest.ResultRuntimeError, h.run(t, `Array.new()["a"]`))
	require.Len(t, h.errs, 1)
	assert.Contains(t, h.errs[0], "must be a number")

	assert.Equal(t, guest.ResultRuntimeError, h.run(t, `Array.fromList([1, Array.new()]).sort()`))
	assert.Empty(t, h.env.failed)
}

func TestArray_SizeLimits(t *testing.T) {
	h := newHarness(t)

	for _, src := range []string{
		`Array.filled(2, 0) * 4611686018427387904`,
		`Array.fromList([1, 2]) * 9007199254740992`,
		`Array.filled(1000000000000000, 0)`,
	} {
		assert.Equal(t, guest.ResultRuntimeError, h.run(t, src), src)
		require.Len(t, h.errs, 1, src)
	}
	assert.Contains(t, h.errs[0], "exceeds the limit")
	assert.Empty(t, h.env.failed)

	require.Equal(t, guest.ResultSuccess, h.run(t, `System.print((Array.new() * 1000000000000000).count)`), h.errs)
	assert.Equal(t, "0\n", h.out.String())
}

func TestArray_HoldRelease(t *testing.T) {
	h := newHarness(t)
	var ref container.Ref
	h.env.register("keep", func(args []container.Value) (any, error) {
		ref = args[0].(container.Ref)
		return nil, nil
	})
	refs := func() int32 {
		n, _ := h.env.arena.Refs(ref)
		return n
	}

	require.Equal(t, guest.ResultSuccess, h.run(t, `
var a = Array.fromList([1])
Host.call(Host.ref("keep"), a)
a.hold()
a.hold()
`), h.errs)
	assert.Equal(t, int32(3), refs())

	require.Equal(t, guest.ResultSuccess, h.run(t, `a.release()`), h.errs)
	assert.Equal(t, int32(2), refs())

	require.Equal(t, guest.ResultSuccess, h.run(t, `
a.release()
a.release()
a.release()
`), h.errs)
	assert.False(t, h.env.arena.Alive(ref))

	assert.Equal(t, guest.ResultRuntimeError, h.run(t, `a.count`))
	require.Len(t, h.errs, 1)
	assert.Empty(t, h.env.failed)
}

func TestFree_DropsUnreleasedHolds(t *testing.T) {
	h := newHarness(t)
	var ref container.Ref
	h.env.register("keep", func(args []container.Value) (any, error) {
		ref = args[0].(container.Ref)
		return nil, nil
	})

	require.Equal(t, guest.ResultSuccess, h.run(t, `
var a = Array.new()
Host.call(Host.ref("keep"), a)
a.hold()
a.hold()
`), h.errs)
	require.True(t, h.env.arena.Alive(ref))

	h.vm.Free()
	assert.False(t, h.env.arena.Alive(ref))
}

func TestTable_HoldRelease(t *testing.T) {
	h := newHarness(t)
	var ref container.Ref
	h.env.register("keep", func(args []container.Value) (any, error) {
		ref = args[0].(container.Ref)
		return nil, nil
	})

	require.Equal(t, guest.ResultSuccess, h.run(t, `
var t = Table.new()
t["k"] = 1
Host.call(Host.ref("keep"), t)
t.hold()
`), h.errs)
	n, _ := h.env.arena.Refs(ref)
	assert.Equal(t, int32(2), n)

	require.Equal(t, guest.ResultSuccess, h.run(t, `
t.release()
System.print(t["k"])
`), h.errs)
	assert.Equal(t, "1\n", h.out.String())
	n, _ = h.env.arena.Refs(ref)
	assert.Equal(t, int32(1), n)

	require.Equal(t, guest.ResultSuccess, h.run(t, `t.release()`), h.errs)
	assert.False(t, h.env.arena.Alive(ref))
}

func TestTable_Operations(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, guest.ResultSuccess, h.run(t, `
var t = Table.new()
t["a"] = 1
t[2] = "two"
System.print(t.count)
System.print(t["a"])
System.print(t["missing"])
System.print(t.containsKey(2))
t["a"] = null
System.print(t.containsKey("a"))
t.insertAll(["x", 10, "y", 20])
System.print(t.keys)
System.print(t.values)
for (e in t) {
  System.print(e)
}
System.print(t.array.count)
var u = Table.new()
u.insertAll(t)
System.print(u.list)
`), h.errs)
	assert.Equal(t, "2\n1\nnull\ntrue\nfalse\n[2, x, y]\n[two, 10, 20]\n2:two\nx:10\ny:20\n6\n[2, two, x, 10, y, 20]\n", h.out.String())
}

func TestTable_InsertAllOddLength(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, guest.ResultRuntimeError, h.run(t, `
var t = Table.new()
t.insertAll(["a", 1, "b"])
`))
	require.Len(t, h.errs, 1)
	assert.Contains(t, h.errs[0], "key/value pairs")
	assert.Empty(t, h.env.failed)
}

// A nested loop restarts the shared cursor and exhausts it, so the outer
// loop ends after its first entry.
func TestTable_NestedIterationSharesCursor(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, guest.ResultSuccess, h.run(t, `
var t = Table.new()
t.insertAll(["a", 1, "b", 2])
var outer = 0
var inner = 0
for (e in t) {
  outer = outer + 1
  for (f in t) {
    inner = inner + 1
  }
}
System.print("%(outer) %(inner)")
`), h.errs)
	assert.Equal(t, "1 2\n", h.out.String())
}

func TestTable_DeleteWhileIterating(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, guest.ResultSuccess, h.run(t, `
var t = Table.new()
t.insertAll(["a", 1, "b", 2, "c", 3])
var n = 0
for (e in t) {
  n = n + 1
  t[e.key] = null
}
System.print("n=%(n) count=%(t.count)")
`), h.errs)
	assert.Equal(t, "n=3 count=0\n", h.out.String())
}

func TestTableEntry(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, guest.ResultSuccess, h.run(t, `
var t = Table.new()
t["k"] = Array.fromList([1])
var entry = null
for (e in t) {
  entry = e
}
t.clear()
System.print(entry.key)
System.print(entry.value.count)
`), h.errs)
	assert.Equal(t, "k\n1\n", h.out.String())

	assert.Equal(t, guest.ResultRuntimeError, h.run(t, `TableEntry.new()`))
}

func TestHost(t *testing.T) {
	h := newHarness(t)
	h.env.consts["answer"] = 42
	h.env.register("add", func(args []container.Value) (any, error) {
		return args[0].(float64) + args[1].(float64), nil
	})
	h.env.register("boom", func([]container.Value) (any, error) {
		return nil, errors.InvalidInput(errors.PhaseHost, "boom")
	})

	require.Equal(t, guest.ResultSuccess, h.run(t, `
System.print(Host.name)
System.print(Host.const("answer"))
System.print(Host.const("missing"))
var r = Host.ref("add")
System.print(Host.call(r, 2, 3))
System.print(Host.ref("nope"))
`), h.errs)
	assert.Equal(t, "test\n42\nnull\n5\n-1\n", h.out.String())

	assert.Equal(t, guest.ResultRuntimeError, h.run(t, `Host.call(Host.ref("boom"))`))
	require.Len(t, h.errs, 1)
	assert.Contains(t, h.errs[0], "boom")

	assert.Equal(t, guest.ResultRuntimeError, h.run(t, `Host.call(-1, 1)`))
	assert.Empty(t, h.env.failed)
}

func TestHost_UnmarshalableConstIsFatal(t *testing.T) {
	h := newHarness(t)
	h.env.consts["bad"] = map[string]int{"a": 1}

	assert.Equal(t, guest.ResultRuntimeError, h.run(t, `Host.const("bad")`))
	require.Len(t, h.env.failed, 1)
	assert.True(t, errors.IsFatal(h.env.failed[0]))
}

func TestFree_ReleasesContainers(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, guest.ResultSuccess, h.run(t, `
var a = Array.fromList([1, 2])
var t = Table.new()
t["a"] = a
a.add(Table.new())
for (e in t) {}
`), h.errs)
	assert.Positive(t, h.env.arena.Len())

	h.vm.Free()
	assert.Equal(t, 0, h.env.arena.Len())
}

func TestCallSignature(t *testing.T) {
	assert.Equal(t, "call(_)", callSignature(0))
	assert.Equal(t, "call(_,_,_)", callSignature(2))
	assert.Len(t, hostMethods(), 3+maxCallArgs+1)
}
