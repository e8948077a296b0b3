package runtime

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/carrica/config"
	"github.com/wippyai/carrica/errors"
	"github.com/wippyai/carrica/guest"
	"github.com/wippyai/carrica/module"
)

func newRuntime(t *testing.T, opts ...Option) (*Runtime, *bytes.Buffer) {
	t.Helper()
	ctx := context.Background()
	out := &bytes.Buffer{}
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithStdout(out)}, opts...)
	rt, err := New(ctx, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, rt.Close(ctx)) })
	return rt, out
}

func newVM(t *testing.T, rt *Runtime, name string) *Instance {
	t.Helper()
	vm, err := rt.NewVM(name)
	require.NoError(t, err)
	return vm
}

func TestRuntime_Version(t *testing.T) {
	rt, _ := newRuntime(t)
	assert.Equal(t, "0.1.0 Tenma", rt.Version())
	assert.False(t, rt.HasDebug())
}

func TestRuntime_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.LoaderPreset = "ftp"
	_, err := New(context.Background(), WithConfig(cfg))
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestNewVM_SlotReuseAndGrowth(t *testing.T) {
	cfg := config.Default()
	cfg.InitialSlots = 2
	rt, _ := newRuntime(t, WithConfig(cfg))

	a := newVM(t, rt, "")
	b := newVM(t, rt, "b")
	c := newVM(t, rt, "c")
	assert.Equal(t, 0, a.Slot())
	assert.Equal(t, "0", a.Name())
	assert.Equal(t, 1, b.Slot())
	assert.Equal(t, 2, c.Slot())
	assert.Equal(t, 4, rt.vms.capacity())

	require.NoError(t, b.Release())
	d := newVM(t, rt, "d")
	assert.Equal(t, 1, d.Slot())
	assert.Equal(t, 2, c.Slot())

	got, ok := rt.Instance(1)
	require.True(t, ok)
	assert.Same(t, d, got)
	assert.Len(t, rt.Instances(), 3)
}

func TestInstance_Release(t *testing.T) {
	rt, _ := newRuntime(t)
	vm := newVM(t, rt, "vm")

	require.NoError(t, vm.Release())
	require.NoError(t, vm.Release())
	assert.False(t, vm.IsValid())
	assert.Equal(t, "vm", vm.Name())

	err := vm.Interpret("1")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidInstance))
	assert.True(t, errors.IsFatal(err))
	assert.Equal(t, "[instance] invalid_instance at Interpret: called on an invalid VM instance", err.Error())

	_, err = vm.GetMethod("main", "C", "foo()")
	assert.True(t, errors.IsKind(err, errors.KindInvalidInstance))
	_, err = vm.HasModule("main")
	assert.True(t, errors.IsKind(err, errors.KindInvalidInstance))
	_, err = vm.NewArray()
	assert.True(t, errors.IsKind(err, errors.KindInvalidInstance))
	assert.Empty(t, rt.Instances())
}

func TestInstance_Renew(t *testing.T) {
	rt, out := newRuntime(t)
	vm := newVM(t, rt, "vm")
	first := vm.ID()

	require.Error(t, vm.Renew(""))

	require.NoError(t, vm.SetConst("answer", 42))
	require.NoError(t, vm.InstallModule("local", "var X = 1"))
	require.NoError(t, vm.Release())
	require.NoError(t, vm.Renew("again"))

	assert.True(t, vm.IsValid())
	assert.Equal(t, "again", vm.Name())
	assert.NotEqual(t, first, vm.ID())

	require.NoError(t, vm.Interpret(`import "carrica" for Host
System.print(Host.const("answer"))`))
	assert.Equal(t, "42\n", out.String())

	err := vm.Interpret(`import "local" for X`)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestInstance_Interpret(t *testing.T) {
	rt, out := newRuntime(t)
	vm := newVM(t, rt, "")

	require.NoError(t, vm.Interpret(`System.print("hello")`))
	assert.Equal(t, "hello\n", out.String())

	ok, err := vm.HasModule("main")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, vm.Interpret("var Counter = 3", "other"))
	ok, err = vm.HasVariable("other", "Counter")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = vm.HasVariable("main", "Counter")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInstance_GuestErrorsAreRecoverable(t *testing.T) {
	rt, _ := newRuntime(t)
	vm := newVM(t, rt, "")

	type report struct {
		module string
		line   int
		msg    string
	}
	var reports []report
	require.NoError(t, vm.SetHandler("error", ErrorFunc(func(_ guest.ErrorKind, mod string, line int, msg string) {
		reports = append(reports, report{mod, line, msg})
	})))

	err := vm.Interpret(`class A {
  static boom() {
    Fiber.abort("bad thing")
  }
}
A.boom()`)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindGuestRuntime))
	assert.False(t, errors.IsFatal(err))
	assert.Contains(t, err.Error(), "line 3: bad thing")
	require.NotEmpty(t, reports)
	assert.Equal(t, "bad thing", reports[0].msg)

	err = vm.Interpret("class {")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindCompile))
	assert.False(t, errors.IsFatal(err))

	require.NoError(t, vm.Interpret("System.print(1)"))
}

func TestInstance_MissingBindingIsFatal(t *testing.T) {
	rt, _ := newRuntime(t)
	vm := newVM(t, rt, "")

	err := vm.Interpret(`class Q {
  foreign static y
}`)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindMissingBinding))
	assert.True(t, errors.IsFatal(err))

	err = vm.Interpret(`foreign class P {
  construct new() {}
}`)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindMissingBinding))

	require.NoError(t, vm.Interpret("System.print(1)"))
}

func TestModules_SharedPropagation(t *testing.T) {
	rt, out := newRuntime(t)
	vm := newVM(t, rt, "")

	err := vm.Interpret(`import "m" for C`)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Contains(t, err.Error(), "could not find module m")

	require.NoError(t, rt.InstallModule("m", "class C {\n  static foo() { 42 }\n}"))
	require.NoError(t, rt.InstallModule("m", "class C {\n  static foo() { 0 }\n}"))

	require.NoError(t, vm.Interpret("import \"m\" for C\nSystem.print(C.foo())"))
	later := newVM(t, rt, "")
	require.NoError(t, later.Interpret("import \"m\" for C\nSystem.print(C.foo())"))
	assert.Equal(t, "42\n42\n", out.String())
}

func TestModules_SharedBeforeLocal(t *testing.T) {
	rt, out := newRuntime(t)
	vm := newVM(t, rt, "")

	require.NoError(t, rt.InstallModule("m", "var Who = \"shared\""))
	require.NoError(t, vm.InstallModule("m", "var Who = \"local\""))
	require.NoError(t, vm.InstallModule("own", "var Who = \"own\""))

	require.NoError(t, vm.Interpret(`import "m" for Who
import "own" for Who as Mine
System.print(Who)
System.print(Mine)`))
	assert.Equal(t, "shared\nown\n", out.String())

	names, err := vm.Modules()
	require.NoError(t, err)
	assert.Equal(t, []string{"carrica", "m", "own"}, names)
}

func TestModules_ReservedName(t *testing.T) {
	rt, _ := newRuntime(t)
	vm := newVM(t, rt, "")

	assert.True(t, errors.IsFatal(rt.InstallModule("carrica", "")))
	assert.True(t, errors.IsFatal(vm.InstallModule("carrica", "")))
}

func TestModules_FromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Modules = []config.ModuleSpec{{Name: "greet", Source: `var Hi = "hi"`}}
	rt, out := newRuntime(t, WithConfig(cfg))
	vm := newVM(t, rt, "")

	require.NoError(t, vm.Interpret("import \"greet\" for Hi\nSystem.print(Hi)"))
	assert.Equal(t, "hi\n", out.String())
}

func TestModules_Binary(t *testing.T) {
	rt, out := newRuntime(t)
	require.NoError(t, rt.InstallBinaryModule("clock", &module.Native{
		Decls: "class Clock {\n  foreign static now\n}\n",
		Methods: []module.Method{{
			Class: "Clock", Static: true, Signature: "now",
			Fn: func(vm guest.VM) { vm.SetSlotDouble(0, 7) },
		}},
	}))
	vm := newVM(t, rt, "")
	require.NoError(t, vm.Interpret("import \"clock\" for Clock\nSystem.print(Clock.now)"))
	assert.Equal(t, "7\n", out.String())
}

func TestMethod_GetCallFree(t *testing.T) {
	rt, _ := newRuntime(t)
	vm := newVM(t, rt, "")

	_, err := vm.GetMethod("nope", "M", "add(_,_)")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
	assert.False(t, errors.IsFatal(err))

	require.NoError(t, vm.Interpret(`class M {
  static add(a, b) { a + b }
  static greet(n) { "hi %(n)" }
  static list() { [1] }
}`))

	_, err = vm.GetMethod("main", "Nope", "add(_,_)")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))

	add, err := vm.GetMethod("main", "M", "add(_,_)")
	require.NoError(t, err)
	assert.Equal(t, "main:M.add(_,_)", add.Key())
	assert.Equal(t, 2, add.Arity())

	again, err := vm.GetMethod("main", "M", "add(_,_)")
	require.NoError(t, err)
	assert.Same(t, add, again)

	for range 20 {
		res, err := add.Call(40, 2)
		require.NoError(t, err)
		assert.Equal(t, 42.0, res)
	}

	greet, err := vm.GetMethod("main", "M", "greet(_)")
	require.NoError(t, err)
	res, err := greet.Call("bob")
	require.NoError(t, err)
	assert.Equal(t, "hi bob", res)

	_, err = add.Call(1)
	assert.True(t, errors.IsKind(err, errors.KindArity))

	list, err := vm.GetMethod("main", "M", "list()")
	require.NoError(t, err)
	_, err = list.Call()
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))

	require.NoError(t, vm.FreeMethod("main", "M", "add(_,_)"))
	require.NoError(t, vm.FreeMethod("main", "M", "unknown()"))
	_, err = add.Call(1, 2)
	assert.True(t, errors.IsKind(err, errors.KindReleased))

	fresh, err := vm.GetMethod("main", "M", "add(_,_)")
	require.NoError(t, err)
	assert.NotSame(t, add, fresh)

	require.NoError(t, vm.Release())
	_, err = fresh.Call(1, 2)
	assert.True(t, errors.IsKind(err, errors.KindInvalidInstance))
}

func TestMethod_GuestErrorDuringCall(t *testing.T) {
	rt, _ := newRuntime(t)
	vm := newVM(t, rt, "")
	require.NoError(t, vm.Interpret(`class M {
  static boom() { Fiber.abort("boom") }
}`))
	boom, err := vm.GetMethod("main", "M", "boom()")
	require.NoError(t, err)
	_, err = boom.Call()
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindGuestRuntime))
	assert.Contains(t, err.Error(), "boom")
}

func TestHandlers(t *testing.T) {
	rt, out := newRuntime(t)
	vm := newVM(t, rt, "")

	var got strings.Builder
	require.NoError(t, vm.SetHandlers(map[string]any{
		"write": func(s string) { got.WriteString(s) },
	}))
	require.NoError(t, vm.Interpret(`System.print("captured")`))
	assert.Equal(t, "captured\n", got.String())
	assert.Empty(t, out.String())

	require.NoError(t, vm.SetHandler("write", nil))
	require.NoError(t, vm.Interpret(`System.print("default")`))
	assert.Equal(t, "default\n", out.String())

	assert.True(t, errors.IsFatal(vm.SetHandler("bogus", func(string) {})))
	assert.True(t, errors.IsFatal(vm.SetHandler("write", 5)))
	assert.True(t, errors.IsFatal(vm.SetHandler("error", func(string) {})))
}

func TestDebugEmit(t *testing.T) {
	cfg := config.Default()
	cfg.Debug = true
	rt, out := newRuntime(t, WithConfig(cfg))
	assert.True(t, rt.HasDebug())

	var mu sync.Mutex
	var lines []string
	rt.SetDebugEmit(func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, fmt.Sprintf(format, args...))
	})
	newVM(t, rt, "dbg")
	require.NoError(t, rt.InstallModule("extra", "var X = 1"))
	assert.Contains(t, lines, "vm dbg created in slot 0")
	assert.Contains(t, lines, "shared module extra installed")

	rt.SetDebugEmit(nil)
	rt.Debugf("to %s", "console")
	assert.Contains(t, out.String(), "to console")
}

func TestRuntime_ConcurrentInstances(t *testing.T) {
	rt, _ := newRuntime(t)
	require.NoError(t, rt.InstallModule("math2", "class Sq {\n  static of(n) { n * n }\n}"))

	g, _ := errgroup.WithContext(context.Background())
	for n := range 8 {
		g.Go(func() error {
			vm, err := rt.NewVM(fmt.Sprintf("w%d", n))
			if err != nil {
				return err
			}
			var out strings.Builder
			if err := vm.SetHandler("write", func(s string) { out.WriteString(s) }); err != nil {
				return err
			}
			arr, err := vm.NewArray()
			if err != nil {
				return err
			}
			if err := vm.SetConst("acc", arr); err != nil {
				return err
			}
			for i := range 10 {
				if err := vm.Interpret(fmt.Sprintf(`import "math2" for Sq
import "carrica" for Host
Host.const("acc").add(Sq.of(%d))`, i)); err != nil {
					return err
				}
			}
			if n, err := arr.Len(); err != nil || n != 10 {
				return fmt.Errorf("array has %d elements: %v", n, err)
			}
			return vm.Release()
		})
	}
	require.NoError(t, g.Wait())
	assert.Empty(t, rt.Instances())
}

func TestRuntime_Close(t *testing.T) {
	ctx := context.Background()
	rt, err := New(ctx, WithLogger(zaptest.NewLogger(t)), WithStdout(&bytes.Buffer{}))
	require.NoError(t, err)

	a, err := rt.NewVM("a")
	require.NoError(t, err)
	b, err := rt.NewVM("b")
	require.NoError(t, err)

	require.NoError(t, rt.Close(ctx))
	require.NoError(t, rt.Close(ctx))
	assert.False(t, a.IsValid())
	assert.False(t, b.IsValid())

	_, err = rt.NewVM("c")
	assert.True(t, errors.IsFatal(err))
	assert.Error(t, a.Renew(""))
}
