package runtime

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/wippyai/carrica/errors"
)

// Host is the interface for struct-based host function groups.
// All exported methods (except Namespace) are registered as host functions
// named "<namespace>.<method-in-kebab-case>".
type Host interface {
	Namespace() string
}

// ExplicitRegistrar allows hosts to provide exact function names when the
// automatic PascalCase-to-kebab-case conversion doesn't apply.
type ExplicitRegistrar interface {
	Register() map[string]any
}

// HostFunc is a registered host function.
type HostFunc struct {
	Handler any
	Name    string
	fn      reflect.Value
}

// HostRegistry maps host function names to the numeric references the
// guest's Host.ref returns. A reference stays valid for the lifetime of the
// registry; registering a name again replaces the handler in place.
type HostRegistry struct {
	refs  map[string]int
	funcs []*HostFunc
	mu    sync.RWMutex
}

func NewHostRegistry() *HostRegistry {
	return &HostRegistry{refs: make(map[string]int)}
}

var (
	errorType   = reflect.TypeFor[error]()
	contextType = reflect.TypeFor[context.Context]()
)

func (r *HostRegistry) RegisterHost(h Host) error {
	ns := h.Namespace()
	if ns == "" {
		return errors.InvalidInput(errors.PhaseHost, "namespace cannot be empty")
	}

	if er, ok := h.(ExplicitRegistrar); ok {
		for name, handler := range er.Register() {
			if err := r.RegisterFunc(ns+"."+name, handler); err != nil {
				return err
			}
		}
		return nil
	}

	rv := reflect.ValueOf(h)
	rt := rv.Type()
	for i := 0; i < rt.NumMethod(); i++ {
		method := rt.Method(i)
		if !method.IsExported() || method.Name == "Namespace" {
			continue
		}
		if err := r.RegisterFunc(ns+"."+toKebabCase(method.Name), rv.Method(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}

// RegisterFunc registers fn under name. fn may take a context.Context
// first, and may return a value, an error, or a value and an error.
func (r *HostRegistry) RegisterFunc(name string, fn any) error {
	if name == "" {
		return errors.InvalidInput(errors.PhaseHost, "function name cannot be empty")
	}

	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func {
		return errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			Category(errors.CategoryConfiguration).
			GoType(fmt.Sprintf("%T", fn)).
			Detail("handler must be a function").
			Build()
	}
	ft := rv.Type()
	switch {
	case ft.NumOut() > 2,
		ft.NumOut() == 2 && ft.Out(1) != errorType:
		return errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			Category(errors.CategoryConfiguration).
			GoType(ft.String()).
			Detail("handler must return at most a value and an error").
			Build()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	hf := &HostFunc{Handler: fn, Name: name, fn: rv}
	if ref, ok := r.refs[name]; ok {
		r.funcs[ref] = hf
		return nil
	}
	r.refs[name] = len(r.funcs)
	r.funcs = append(r.funcs, hf)
	return nil
}

// Ref returns the reference of name, or -1.
func (r *HostRegistry) Ref(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ref, ok := r.refs[name]; ok {
		return ref
	}
	return -1
}

// Names returns the registered names in sorted order.
func (r *HostRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.refs))
	for n := range r.refs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Call invokes the function behind ref. Arguments are converted to the
// handler's parameter types: numbers convert between Go numeric kinds when
// no precision is lost, nil becomes the zero value.
func (r *HostRegistry) Call(ctx context.Context, ref int, args []any) (any, error) {
	r.mu.RLock()
	var hf *HostFunc
	if ref >= 0 && ref < len(r.funcs) {
		hf = r.funcs[ref]
	}
	r.mu.RUnlock()
	if hf == nil {
		return nil, errors.New(errors.PhaseHost, errors.KindNotFound).
			Category(errors.CategoryGuest).
			Detail("invalid function reference %d", ref).
			Build()
	}

	ft := hf.fn.Type()
	in := make([]reflect.Value, 0, ft.NumIn())
	first := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		in = append(in, reflect.ValueOf(ctx))
		first = 1
	}

	fixed := ft.NumIn() - first
	if ft.IsVariadic() {
		fixed--
	}
	if len(args) < fixed || (!ft.IsVariadic() && len(args) > fixed) {
		return nil, errors.New(errors.PhaseHost, errors.KindArity).
			Category(errors.CategoryGuest).
			Path(hf.Name).
			Detail("expected %d arguments, got %d", fixed, len(args)).
			Build()
	}
	for i, a := range args {
		var pt reflect.Type
		if i < fixed {
			pt = ft.In(first + i)
		} else {
			pt = ft.In(ft.NumIn() - 1).Elem()
		}
		v, err := convertArg(a, pt)
		if err != nil {
			return nil, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
				Category(errors.CategoryGuest).
				Path(hf.Name).
				GoType(pt.String()).
				Detail("argument %d: %v", i+1, err).
				Build()
		}
		in = append(in, v)
	}

	out := hf.fn.Call(in)
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if ft.Out(0) == errorType {
			err, _ := out[0].Interface().(error)
			return nil, err
		}
		return out[0].Interface(), nil
	default:
		err, _ := out[1].Interface().(error)
		return out[0].Interface(), err
	}
}

func convertArg(a any, t reflect.Type) (reflect.Value, error) {
	if a == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(a)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}
	if n, ok := a.(float64); ok {
		switch t.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if n != math.Trunc(n) || math.IsInf(n, 0) {
				return reflect.Value{}, fmt.Errorf("%v is not an integer", n)
			}
			v := reflect.New(t).Elem()
			if t.Kind() >= reflect.Uint {
				if n < 0 || v.OverflowUint(uint64(n)) {
					return reflect.Value{}, fmt.Errorf("%v overflows %s", n, t)
				}
				v.SetUint(uint64(n))
			} else {
				if v.OverflowInt(int64(n)) {
					return reflect.Value{}, fmt.Errorf("%v overflows %s", n, t)
				}
				v.SetInt(int64(n))
			}
			return v, nil
		case reflect.Float32, reflect.Float64:
			return rv.Convert(t), nil
		}
	}
	if rv.Kind() == t.Kind() && rv.Type().ConvertibleTo(t) {
		return rv.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T", a)
}

// toKebabCase converts PascalCase to kebab-case.
// Handles acronyms: GetHTTPURL -> get-http-url
func toKebabCase(s string) string {
	if len(s) == 0 {
		return ""
	}

	runes := []rune(s)
	var result strings.Builder

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if unicode.IsUpper(r) {
			acronymEnd := i + 1
			for acronymEnd < len(runes) && unicode.IsUpper(runes[acronymEnd]) {
				acronymEnd++
			}

			if acronymEnd > i+1 {
				// Last uppercase before lowercase starts next word, not part of acronym
				if acronymEnd < len(runes) && unicode.IsLower(runes[acronymEnd]) {
					acronymEnd--
				}
			}

			if i > 0 {
				result.WriteByte('-')
			}

			for j := i; j < acronymEnd; j++ {
				result.WriteRune(unicode.ToLower(runes[j]))
			}
			i = acronymEnd - 1
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}
