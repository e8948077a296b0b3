package module

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/carrica/errors"
	"github.com/wippyai/carrica/guest"
)

func noop(guest.VM) {}

func mustBinary(t *testing.T, name string, b Binding) *Descriptor {
	t.Helper()
	d, err := NewBinary(name, b)
	require.NoError(t, err)
	return d
}

func mustSource(t *testing.T, name, src string) *Descriptor {
	t.Helper()
	d, err := NewSource(name, src)
	require.NoError(t, err)
	return d
}

func TestRegistry_InstallIdempotent(t *testing.T) {
	r := NewRegistry("shared")

	first := mustSource(t, "m", "class C { static foo() { return 42 } }")
	second := mustSource(t, "m", "class C { static foo() { return 0 } }")

	assert.True(t, r.Install(first))
	assert.False(t, r.Install(second))

	d, ok := r.Lookup("m")
	require.True(t, ok)
	assert.Same(t, first, d)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Order(t *testing.T) {
	r := NewRegistry("local")
	for _, n := range []string{"c", "a", "b"} {
		r.Install(mustSource(t, n, ""))
	}
	var names []string
	for _, d := range r.Modules() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"c", "a", "b"}, names)

	r.Clear()
	assert.Equal(t, 0, r.Len())
}

func TestDescriptor_Validation(t *testing.T) {
	_, err := NewSource("", "x")
	assert.Error(t, err)
	_, err = NewBinary("m", nil)
	assert.Error(t, err)
}

func TestDescriptor_Text(t *testing.T) {
	src := mustSource(t, "s", "var x = 1")
	text, ok := src.Text()
	assert.True(t, ok)
	assert.Equal(t, "var x = 1", text)

	bin := mustBinary(t, "b", &Native{Decls: "foreign class A {}"})
	text, ok = bin.Text()
	assert.True(t, ok)
	assert.Equal(t, "foreign class A {}", text)

	plain := mustBinary(t, "p", plainBinding{})
	_, ok = plain.Text()
	assert.False(t, ok)
}

type plainBinding struct{}

func (plainBinding) BindMethod(string, bool, string) guest.ForeignMethod { return nil }
func (plainBinding) BindClass(string) (guest.ForeignClass, bool)         { return guest.ForeignClass{}, false }

func TestNative_EagerIndex(t *testing.T) {
	_, err := NewBinary("m", &Native{Methods: []Method{
		{Class: "A", Signature: "f()", Fn: noop},
		{Class: "A", Signature: "f()", Fn: noop},
	}})
	assert.True(t, errors.IsKind(err, errors.KindRegistration))

	_, err = NewBinary("m", &Native{Methods: []Method{{Class: "A", Signature: "f()"}}})
	assert.Error(t, err)

	_, err = NewBinary("m", &Native{Classes: []Class{{Name: "A", Allocate: noop}, {Name: "A", Allocate: noop}}})
	assert.Error(t, err)
}

func TestNative_StaticAndInstanceDistinct(t *testing.T) {
	var hit string
	n := &Native{Methods: []Method{
		{Class: "A", Signature: "f()", Fn: func(guest.VM) { hit = "instance" }},
		{Class: "A", Signature: "f()", Static: true, Fn: func(guest.VM) { hit = "static" }},
	}}
	mustBinary(t, "m", n)

	n.BindMethod("A", true, "f()")(nil)
	assert.Equal(t, "static", hit)
	n.BindMethod("A", false, "f()")(nil)
	assert.Equal(t, "instance", hit)
	assert.Nil(t, n.BindMethod("A", false, "g()"))
	assert.Nil(t, n.BindMethod("B", false, "f()"))
}

func TestChain_Order(t *testing.T) {
	internal := mustBinary(t, "carrica", &Native{Classes: []Class{{Name: "Array", Allocate: noop}}})
	shared := NewRegistry("shared")
	local := NewRegistry("local")

	shared.Install(mustSource(t, "m", "shared"))
	local.Install(mustSource(t, "m", "local"))
	local.Install(mustSource(t, "carrica", "shadowed"))
	local.Install(mustSource(t, "only", "local only"))

	c := NewChain(internal, shared, local)

	text, ok := c.Text("m")
	require.True(t, ok)
	assert.Equal(t, "shared", text)

	d, ok := c.Find("carrica")
	require.True(t, ok)
	assert.Same(t, internal, d)

	text, ok = c.Text("only")
	require.True(t, ok)
	assert.Equal(t, "local only", text)

	_, ok = c.Find("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"carrica", "m", "only"}, c.Names())
}

func TestChain_SharedInstallVisibleImmediately(t *testing.T) {
	shared := NewRegistry("shared")
	a := NewChain(nil, shared, NewRegistry("a"))
	b := NewChain(nil, shared, NewRegistry("b"))

	_, ok := a.Find("late")
	assert.False(t, ok)

	shared.Install(mustSource(t, "late", "x"))

	_, ok = a.Find("late")
	assert.True(t, ok)
	_, ok = b.Find("late")
	assert.True(t, ok)
}

func TestChain_FirstMatchNoFallthrough(t *testing.T) {
	shared := NewRegistry("shared")
	local := NewRegistry("local")

	shared.Install(mustBinary(t, "game", &Native{}))
	local.Install(mustBinary(t, "game", &Native{Methods: []Method{
		{Class: "P", Signature: "jump()", Fn: noop},
	}}))

	c := NewChain(nil, shared, local)
	fn, err := c.BindMethod("game", "P", false, "jump()")
	assert.Nil(t, fn)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.True(t, errors.IsKind(err, errors.KindMissingBinding))
}

func TestChain_BindMissingModule(t *testing.T) {
	c := NewChain(nil, NewRegistry("shared"), NewRegistry("local"))

	_, err := c.BindMethod("nope", "A", true, "f()")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope.A.static f()")

	_, err = c.BindClass("nope", "A")
	assert.True(t, errors.IsKind(err, errors.KindMissingBinding))
}

func TestChain_SourceModuleHasNoBindings(t *testing.T) {
	local := NewRegistry("local")
	local.Install(mustSource(t, "main", "foreign class A {}"))
	c := NewChain(nil, nil, local)

	_, err := c.BindClass("main", "A")
	assert.Error(t, err)
}

func TestChain_DeterministicAcrossInstances(t *testing.T) {
	shared := NewRegistry("shared")
	calls := 0
	shared.Install(mustBinary(t, "m", &Native{Methods: []Method{
		{Class: "C", Signature: "f()", Static: true, Fn: func(guest.VM) { calls++ }},
	}}))

	a := NewChain(nil, shared, NewRegistry("a"))
	b := NewChain(nil, shared, NewRegistry("b"))

	fa, err := a.BindMethod("m", "C", true, "f()")
	require.NoError(t, err)
	fb, err := b.BindMethod("m", "C", true, "f()")
	require.NoError(t, err)

	fa(nil)
	fb(nil)
	assert.Equal(t, 2, calls)
}

func TestFuncs_Lazy(t *testing.T) {
	resolved := 0
	f := Funcs{
		Method: func(class string, isStatic bool, sig string) guest.ForeignMethod {
			resolved++
			if class == "Dyn" {
				return noop
			}
			return nil
		},
		Class: func(class string) (guest.ForeignClass, bool) {
			return guest.ForeignClass{Allocate: noop}, class == "Dyn"
		},
	}
	local := NewRegistry("local")
	local.Install(mustBinary(t, "dyn", f))
	assert.Equal(t, 0, resolved)

	c := NewChain(nil, nil, local)
	_, err := c.BindMethod("dyn", "Dyn", false, "x")
	require.NoError(t, err)
	_, err = c.BindMethod("dyn", "Other", false, "x")
	assert.Error(t, err)
	assert.Equal(t, 2, resolved)

	_, err = c.BindClass("dyn", "Dyn")
	assert.NoError(t, err)
	_, err = c.BindClass("dyn", "Other")
	assert.Error(t, err)
}

func TestRegistry_ConcurrentInstallAndRead(t *testing.T) {
	r := NewRegistry("shared")
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			d, _ := NewSource("m", string(rune('a'+i)))
			r.Install(d)
		}()
		go func() {
			defer wg.Done()
			if d, ok := r.Lookup("m"); ok {
				assert.NotEmpty(t, d.Source)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, r.Len())
}
