package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/carrica/config"
	"github.com/wippyai/carrica/errors"
	"github.com/wippyai/carrica/loader"
)

func TestHost_FunctionsAndConsts(t *testing.T) {
	rt, out := newRuntime(t)
	vm := newVM(t, rt, "")

	require.NoError(t, vm.RegisterFunc("add", func(a, b int) int { return a + b }))
	require.NoError(t, vm.RegisterFunc("greet", func(ctx context.Context, name string) (string, error) {
		require.NotNil(t, ctx)
		return "hi " + name, nil
	}))
	require.NoError(t, vm.SetConst("limit", 10))
	require.NoError(t, vm.SetConst("label", "x"))

	require.NoError(t, vm.Interpret(`import "carrica" for Host
System.print(Host.name)
System.print(Host.call(Host.ref("add"), 1, 2))
System.print(Host.call(Host.ref("greet"), "bob"))
System.print(Host.const("limit"))
System.print(Host.const("label"))
System.print(Host.const("nope"))
System.print(Host.ref("nope"))`))
	assert.Equal(t, "carrica\n3\nhi bob\n10\nx\nnull\n-1\n", out.String())

	assert.True(t, errors.IsFatal(vm.SetConst("bad", []int{1})))
	require.NoError(t, vm.SetConst("limit", nil))
	out.Reset()
	require.NoError(t, vm.Interpret(`System.print(Host.const("limit"))`))
	assert.Equal(t, "null\n", out.String())
}

type mathHost struct{}

func (mathHost) Namespace() string        { return "math" }
func (mathHost) Double(n float64) float64 { return n * 2 }

func TestHost_RegisterHost(t *testing.T) {
	rt, out := newRuntime(t)
	vm := newVM(t, rt, "")

	require.NoError(t, vm.RegisterHost(mathHost{}))
	require.NoError(t, vm.Interpret(`import "carrica" for Host
System.print(Host.call(Host.ref("math.double"), 21))`))
	assert.Equal(t, "42\n", out.String())
}

func TestHost_ErrorsAbortTheFiber(t *testing.T) {
	rt, _ := newRuntime(t)
	vm := newVM(t, rt, "")

	require.NoError(t, vm.RegisterFunc("fail", func() error { return fmt.Errorf("disk full") }))
	require.NoError(t, vm.RegisterFunc("half", func(n int) int { return n / 2 }))

	err := vm.Interpret(`import "carrica" for Host
Host.call(Host.ref("fail"))`)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindGuestRuntime))
	assert.Contains(t, err.Error(), "disk full")

	err = vm.Interpret(`Host.call(-1)`)
	require.Error(t, err)
	assert.False(t, errors.IsFatal(err))

	err = vm.Interpret(`Host.call(Host.ref("half"), 1.5)`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an integer")

	err = vm.Interpret(`Host.call(Host.ref("half"))`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 1 arguments")
}

func TestHost_ReentrantCallFails(t *testing.T) {
	rt, _ := newRuntime(t)
	vm := newVM(t, rt, "")

	require.NoError(t, vm.RegisterFunc("again", func() error { return vm.Interpret("1") }))
	err := vm.Interpret(`import "carrica" for Host
Host.call(Host.ref("again"))`)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindReentrant))
	assert.True(t, errors.IsFatal(err))

	require.NoError(t, vm.Interpret("1"))
}

func TestContainers_SharedBetweenHostAndGuest(t *testing.T) {
	rt, out := newRuntime(t)
	vm := newVM(t, rt, "")

	arr, err := vm.NewArray(1, "two")
	require.NoError(t, err)
	require.NoError(t, vm.RegisterFunc("get", func() *Array { return arr }))
	require.NoError(t, vm.RegisterFunc("size", func(a *Array) (int, error) { return a.Len() }))

	require.NoError(t, vm.Interpret(`import "carrica" for Host, Array
var a = Host.call(Host.ref("get"))
a.add(3)
System.print(a)
System.print(Host.call(Host.ref("size"), Array.fromList([1, 2, 3, 4])))`))
	assert.Equal(t, "[1, two, 3]\n4\n", out.String())

	vals, err := arr.Values()
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, "two", 3.0}, vals)
}

func TestContainers_SharedAcrossInstances(t *testing.T) {
	rt, _ := newRuntime(t)
	a := newVM(t, rt, "a")
	b := newVM(t, rt, "b")

	tbl, err := a.NewTable()
	require.NoError(t, err)
	require.NoError(t, a.SetConst("t", tbl))
	require.NoError(t, b.SetConst("t", tbl))

	require.NoError(t, a.Interpret(`import "carrica" for Host
Host.const("t")["k"] = "from a"`))

	var got string
	require.NoError(t, b.SetHandler("write", func(s string) { got += s }))
	require.NoError(t, b.Interpret(`import "carrica" for Host
System.print(Host.const("t")["k"])`))
	assert.Equal(t, "from a\n", got)

	require.NoError(t, a.Release())
	v, ok, err := tbl.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "from a", v)
}

func TestContainers_MethodArgumentsAreShared(t *testing.T) {
	rt, _ := newRuntime(t)
	vm := newVM(t, rt, "")
	require.NoError(t, vm.Interpret(`class T {
  static put(t) {
    t["k"] = 1
    return t
  }
}`))

	tbl, err := vm.NewTable()
	require.NoError(t, err)
	put, err := vm.GetMethod("main", "T", "put(_)")
	require.NoError(t, err)

	res, err := put.Call(tbl)
	require.NoError(t, err)
	back, ok := res.(*Table)
	require.True(t, ok)
	assert.Equal(t, tbl.SharedRef(), back.SharedRef())

	v, ok, err := tbl.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	back.Release()
	tbl.Release()
	_, err = put.Call(tbl)
	assert.True(t, errors.IsKind(err, errors.KindReleased))
}

func TestContainers_ReleasedWhenLastHolderDrops(t *testing.T) {
	rt, _ := newRuntime(t)
	vm := newVM(t, rt, "")

	arr, err := vm.NewArray(1)
	require.NoError(t, err)
	require.NoError(t, vm.SetConst("a", arr))
	require.NoError(t, vm.Interpret(`import "carrica" for Host
var keep = Host.const("a")`))
	require.NoError(t, vm.SetConst("a", nil))

	arr.Release()
	assert.Equal(t, 1, rt.Arena().Len())

	require.NoError(t, vm.Release())
	assert.Equal(t, 0, rt.Arena().Len())
}

func TestRuntime_Restore(t *testing.T) {
	rt, _ := newRuntime(t)
	vm := newVM(t, rt, "")

	tbl, err := vm.NewTable()
	require.NoError(t, err)
	inner, err := vm.NewArray(1, 2)
	require.NoError(t, err)
	require.NoError(t, tbl.Set("list", inner))
	require.NoError(t, tbl.Set("name", "x"))

	data, err := tbl.Snapshot()
	require.NoError(t, err)

	got, err := rt.Restore(data)
	require.NoError(t, err)
	copied, ok := got.(*Table)
	require.True(t, ok)
	assert.NotEqual(t, tbl.SharedRef(), copied.SharedRef())

	keys, err := copied.Keys()
	require.NoError(t, err)
	assert.Equal(t, []any{"list", "name"}, keys)
}

func TestLoader_Function(t *testing.T) {
	rt, out := newRuntime(t)
	vm := newVM(t, rt, "")

	require.NoError(t, vm.SetLoadFunction(loader.Map(map[string]string{
		"util": `var Answer = 42`,
	})))
	require.NoError(t, vm.Interpret(`import "util" for Answer
System.print(Answer)`))
	assert.Equal(t, "42\n", out.String())

	err := vm.Interpret(`import "missing" for X`)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
	assert.True(t, errors.IsFatal(err))
	assert.Contains(t, err.Error(), "could not find module missing")

	require.NoError(t, vm.SetLoadFunction(nil))
	assert.Error(t, vm.Interpret(`import "other" for X`))
}

func TestLoader_Presets(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib", "disk.wren"), []byte(`var From = "disk"`), 0o644))

	cfg := config.Default()
	cfg.LoaderRoot = dir
	cfg.ModuleStore = filepath.Join(t.TempDir(), "modules.db")
	rt, out := newRuntime(t, WithConfig(cfg), WithModuleFS(fstest.MapFS{
		"lib/mem.wren": {Data: []byte(`var From = "fs"`)},
	}))
	require.NoError(t, rt.Store().Put(ctx, "lib.db", `var From = "sql"`))

	vm := newVM(t, rt, "")
	require.NoError(t, vm.SetLoadPreset(config.PresetFilesystem))
	require.NoError(t, vm.Interpret("import \"lib.disk\" for From\nSystem.print(From)"))
	require.NoError(t, vm.SetLoadPreset(config.PresetFS))
	require.NoError(t, vm.Interpret("import \"lib.mem\" for From as F2\nSystem.print(F2)"))
	require.NoError(t, vm.SetLoadPreset(config.PresetSQL))
	require.NoError(t, vm.Interpret("import \"lib.db\" for From as F3\nSystem.print(F3)"))
	assert.Equal(t, "disk\nfs\nsql\n", out.String())

	assert.True(t, errors.IsFatal(vm.SetLoadPreset("ftp")))
}

func TestLoader_PresetsNeedSources(t *testing.T) {
	rt, _ := newRuntime(t)
	vm := newVM(t, rt, "")

	assert.True(t, errors.IsFatal(vm.SetLoadPreset(config.PresetFS)))
	assert.True(t, errors.IsFatal(vm.SetLoadPreset(config.PresetSQL)))
}

// calcWasm exports add(i32, i32) -> i32 and is-pos(f64) -> i32.
var calcWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x0c, 0x02,
	0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x60, 0x01, 0x7c, 0x01, 0x7f,
	0x03, 0x03, 0x02, 0x00, 0x01,
	0x07, 0x10, 0x02,
	0x03, 'a', 'd', 'd', 0x00, 0x00,
	0x06, 'i', 's', '-', 'p', 'o', 's', 0x00, 0x01,
	0x0a, 0x18, 0x02,
	0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b,
	0x0e, 0x00, 0x20, 0x00, 0x44, 0, 0, 0, 0, 0, 0, 0, 0, 0x64, 0x0b,
}

func TestRuntime_InstallWASM(t *testing.T) {
	ctx := context.Background()
	rt, out := newRuntime(t)

	require.NoError(t, rt.InstallWASM(ctx, "calc", "Calc", calcWasm, `
add: func(a: s32, b: s32) -> s32;
is-pos: func(x: f64) -> bool;
`))
	vm := newVM(t, rt, "")
	require.NoError(t, vm.Interpret(`import "calc" for Calc
System.print(Calc.add(40, 2))
System.print(Calc.isPos(-1))`))
	assert.Equal(t, "42\nfalse\n", out.String())

	assert.Error(t, rt.InstallWASM(ctx, "bad", "Bad", []byte("nope"), "f: func();"))
}
