package mini

import (
	"math"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/wippyai/carrica/guest"
)

// Guest values are represented as:
//
//	null     nil
//	Num      float64
//	Bool     bool
//	String   string
//	List     *List
//	Map      *Map
//	Range    *Range
//	MapEntry *MapEntry
//	objects  *Instance, *Foreign
//	classes  *Class

// List is a guest list.
type List struct {
	elems []any
}

// Map is a guest map. Keys keep insertion order.
type Map struct {
	m *orderedmap.OrderedMap[any, any]
}

func newMap() *Map { return &Map{m: orderedmap.New[any, any]()} }

// MapEntry is the loop value when iterating a Map.
type MapEntry struct {
	key, value any
}

// Range is a numeric range created with .. or ....
type Range struct {
	from, to  float64
	inclusive bool
}

// Instance is an object of a guest defined class.
type Instance struct {
	class  *Class
	fields map[string]any
}

// Foreign is an object of a foreign class. Data is owned by the embedder.
type Foreign struct {
	class     *Class
	data      any
	finalized bool
}

// method is one entry of a class method table.
type method struct {
	decl    *methodDecl
	owner   *Class
	prim    func(vm *VM, recv any, args []any) (any, error)
	foreign guest.ForeignMethod
}

// Class is a guest class. Static methods live in statics.
type Class struct {
	name         string
	module       *module
	super        *Class
	methods      map[string]*method
	statics      map[string]*method
	staticFields map[string]any
	foreign      bool
	binding      guest.ForeignClass
}

func newClass(name string, super *Class) *Class {
	return &Class{
		name:         name,
		super:        super,
		methods:      make(map[string]*method),
		statics:      make(map[string]*method),
		staticFields: make(map[string]any),
	}
}

func (c *Class) find(sig string) *method {
	for k := c; k != nil; k = k.super {
		if m, ok := k.methods[sig]; ok {
			return m
		}
	}
	return nil
}

func (c *Class) isSubclassOf(other *Class) bool {
	for k := c; k != nil; k = k.super {
		if k == other {
			return true
		}
	}
	return false
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	}
	return true
}

// validKey reports whether v may key a Map.
func validKey(v any) bool {
	switch x := v.(type) {
	case nil, bool, string, *Class:
		return true
	case float64:
		return !math.IsNaN(x)
	}
	return false
}

func formatNum(n float64) string {
	switch {
	case math.IsNaN(n):
		return "nan"
	case math.IsInf(n, 1):
		return "infinity"
	case math.IsInf(n, -1):
		return "-infinity"
	}
	return strconv.FormatFloat(n, 'g', 14, 64)
}

// display renders v without dispatching to guest toString methods.
func display(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return formatNum(x)
	case string:
		return x
	case *List:
		parts := make([]string, len(x.elems))
		for i, e := range x.elems {
			parts[i] = display(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *Map:
		var parts []string
		for p := x.m.Oldest(); p != nil; p = p.Next() {
			parts = append(parts, display(p.Key)+": "+display(p.Value))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *MapEntry:
		return display(x.key) + ":" + display(x.value)
	case *Range:
		op := "..."
		if x.inclusive {
			op = ".."
		}
		return formatNum(x.from) + op + formatNum(x.to)
	case *Class:
		return x.name
	case *Instance:
		return "instance of " + x.class.name
	case *Foreign:
		return "instance of " + x.class.name
	}
	return "?"
}
