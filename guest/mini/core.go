package mini

import (
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

type prim = func(vm *VM, recv any, args []any) (any, error)

type coreClasses struct {
	mod *module

	object, class, null, boolean, num, str *Class
	list, mapc, entry, rangec              *Class
}

func (vm *VM) defineCore(name string, super *Class) *Class {
	c := newClass(name, super)
	c.module = vm.core.mod
	vm.core.mod.vars[name] = c
	return c
}

func def(c *Class, sig string, fn prim) {
	c.methods[sig] = &method{owner: c, prim: fn}
}

func defStatic(c *Class, sig string, fn prim) {
	c.statics[sig] = &method{owner: c, prim: fn}
}

var clockStart = time.Now()

func (vm *VM) loadCore() {
	vm.core.mod = &module{name: "core", vars: make(map[string]any)}
	c := &vm.core

	c.object = vm.defineCore("Object", nil)
	c.class = vm.defineCore("Class", c.object)
	c.null = vm.defineCore("Null", c.object)
	c.boolean = vm.defineCore("Bool", c.object)
	c.num = vm.defineCore("Num", c.object)
	c.str = vm.defineCore("String", c.object)
	c.list = vm.defineCore("List", c.object)
	c.mapc = vm.defineCore("Map", c.object)
	c.entry = vm.defineCore("MapEntry", c.object)
	c.rangec = vm.defineCore("Range", c.object)
	system := vm.defineCore("System", c.object)
	fiber := vm.defineCore("Fiber", c.object)

	vm.objectMethods()
	vm.numMethods()
	vm.stringMethods()
	vm.listMethods()
	vm.mapMethods()
	vm.rangeMethods()

	def(c.class, "name", func(_ *VM, recv any, _ []any) (any, error) { return recv.(*Class).name, nil })
	def(c.class, "supertype", func(_ *VM, recv any, _ []any) (any, error) {
		if s := recv.(*Class).super; s != nil {
			return s, nil
		}
		return nil, nil
	})
	def(c.class, "toString", func(_ *VM, recv any, _ []any) (any, error) { return recv.(*Class).name, nil })

	def(c.null, "!", func(*VM, any, []any) (any, error) { return true, nil })
	def(c.null, "toString", func(*VM, any, []any) (any, error) { return "null", nil })
	def(c.boolean, "!", func(_ *VM, recv any, _ []any) (any, error) { return !recv.(bool), nil })
	def(c.boolean, "toString", func(_ *VM, recv any, _ []any) (any, error) { return display(recv), nil })

	def(c.entry, "key", func(_ *VM, recv any, _ []any) (any, error) { return recv.(*MapEntry).key, nil })
	def(c.entry, "value", func(_ *VM, recv any, _ []any) (any, error) { return recv.(*MapEntry).value, nil })

	defStatic(system, "print()", func(vm *VM, _ any, _ []any) (any, error) {
		vm.write("\n")
		return nil, nil
	})
	defStatic(system, "print(_)", func(vm *VM, _ any, args []any) (any, error) {
		s, err := vm.stringify(args[0])
		if err != nil {
			return nil, err
		}
		vm.write(s)
		vm.write("\n")
		return args[0], nil
	})
	defStatic(system, "write(_)", func(vm *VM, _ any, args []any) (any, error) {
		s, err := vm.stringify(args[0])
		if err != nil {
			return nil, err
		}
		vm.write(s)
		return args[0], nil
	})
	defStatic(system, "clock", func(*VM, any, []any) (any, error) {
		return time.Since(clockStart).Seconds(), nil
	})
	defStatic(system, "gc()", func(*VM, any, []any) (any, error) {
		// Collection runs once the current Interpret or Call returns.
		return nil, nil
	})

	defStatic(fiber, "abort(_)", func(vm *VM, _ any, args []any) (any, error) {
		if args[0] == nil {
			return nil, nil
		}
		return nil, vm.abortWith(args[0])
	})
}

func (vm *VM) write(s string) {
	if vm.cfg.Write != nil {
		vm.cfg.Write(vm, s)
	}
}

func (vm *VM) objectMethods() {
	o := vm.core.object
	def(o, "==(_)", func(_ *VM, recv any, args []any) (any, error) { return recv == args[0], nil })
	def(o, "!=(_)", func(_ *VM, recv any, args []any) (any, error) { return recv != args[0], nil })
	def(o, "!", func(*VM, any, []any) (any, error) { return false, nil })
	def(o, "is(_)", func(vm *VM, recv any, args []any) (any, error) {
		c, ok := args[0].(*Class)
		if !ok {
			return nil, vm.errorf("Right operand must be a class.")
		}
		return vm.classOf(recv).isSubclassOf(c), nil
	})
	def(o, "toString", func(_ *VM, recv any, _ []any) (any, error) { return display(recv), nil })
	def(o, "type", func(vm *VM, recv any, _ []any) (any, error) { return vm.classOf(recv), nil })
}

func numOp(op func(a, b float64) any) prim {
	return func(vm *VM, recv any, args []any) (any, error) {
		b, err := checkNum(vm, args[0], "Right operand")
		if err != nil {
			return nil, err
		}
		return op(recv.(float64), b), nil
	}
}

func numFn(fn func(float64) any) prim {
	return func(_ *VM, recv any, _ []any) (any, error) { return fn(recv.(float64)), nil }
}

func (vm *VM) numMethods() {
	n := vm.core.num
	def(n, "+(_)", numOp(func(a, b float64) any { return a + b }))
	def(n, "-(_)", numOp(func(a, b float64) any { return a - b }))
	def(n, "*(_)", numOp(func(a, b float64) any { return a * b }))
	def(n, "/(_)", numOp(func(a, b float64) any { return a / b }))
	def(n, "%(_)", numOp(func(a, b float64) any { return math.Mod(a, b) }))
	def(n, "<(_)", numOp(func(a, b float64) any { return a < b }))
	def(n, ">(_)", numOp(func(a, b float64) any { return a > b }))
	def(n, "<=(_)", numOp(func(a, b float64) any { return a <= b }))
	def(n, ">=(_)", numOp(func(a, b float64) any { return a >= b }))
	def(n, "&(_)", numOp(func(a, b float64) any { return float64(uint32(a) & uint32(b)) }))
	def(n, "|(_)", numOp(func(a, b float64) any { return float64(uint32(a) | uint32(b)) }))
	def(n, "^(_)", numOp(func(a, b float64) any { return float64(uint32(a) ^ uint32(b)) }))
	def(n, "<<(_)", numOp(func(a, b float64) any { return float64(uint32(a) << uint32(b)) }))
	def(n, ">>(_)", numOp(func(a, b float64) any { return float64(uint32(a) >> uint32(b)) }))
	def(n, "..(_)", numOp(func(a, b float64) any { return &Range{from: a, to: b, inclusive: true} }))
	def(n, "...(_)", numOp(func(a, b float64) any { return &Range{from: a, to: b} }))
	def(n, "min(_)", numOp(func(a, b float64) any { return math.Min(a, b) }))
	def(n, "max(_)", numOp(func(a, b float64) any { return math.Max(a, b) }))
	def(n, "pow(_)", numOp(func(a, b float64) any { return math.Pow(a, b) }))
	def(n, "atan(_)", numOp(func(a, b float64) any { return math.Atan2(a, b) }))

	def(n, "-", numFn(func(a float64) any { return -a }))
	def(n, "~", numFn(func(a float64) any { return float64(^uint32(a)) }))
	def(n, "abs", numFn(func(a float64) any { return math.Abs(a) }))
	def(n, "ceil", numFn(func(a float64) any { return math.Ceil(a) }))
	def(n, "floor", numFn(func(a float64) any { return math.Floor(a) }))
	def(n, "round", numFn(func(a float64) any { return math.Round(a) }))
	def(n, "truncate", numFn(func(a float64) any { return math.Trunc(a) }))
	def(n, "fraction", numFn(func(a float64) any {
		_, f := math.Modf(a)
		return f
	}))
	def(n, "sqrt", numFn(func(a float64) any { return math.Sqrt(a) }))
	def(n, "sin", numFn(func(a float64) any { return math.Sin(a) }))
	def(n, "cos", numFn(func(a float64) any { return math.Cos(a) }))
	def(n, "sign", numFn(func(a float64) any {
		switch {
		case a > 0:
			return 1.0
		case a < 0:
			return -1.0
		}
		return 0.0
	}))
	def(n, "isInteger", numFn(func(a float64) any {
		return !math.IsNaN(a) && !math.IsInf(a, 0) && a == math.Trunc(a)
	}))
	def(n, "isNan", numFn(func(a float64) any { return math.IsNaN(a) }))
	def(n, "isInfinity", numFn(func(a float64) any { return math.IsInf(a, 0) }))
	def(n, "toString", numFn(func(a float64) any { return formatNum(a) }))

	defStatic(n, "fromString(_)", func(vm *VM, _ any, args []any) (any, error) {
		s, ok := args[0].(string)
		if !ok {
			return nil, vm.errorf("Argument must be a string.")
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, nil
		}
		return f, nil
	})
	defStatic(n, "pi", func(*VM, any, []any) (any, error) { return math.Pi, nil })
	defStatic(n, "nan", func(*VM, any, []any) (any, error) { return math.NaN(), nil })
	defStatic(n, "infinity", func(*VM, any, []any) (any, error) { return math.Inf(1), nil })
}

func strArg(vm *VM, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", vm.errorf("Argument must be a string.")
	}
	return s, nil
}

func (vm *VM) stringMethods() {
	s := vm.core.str
	def(s, "+(_)", func(vm *VM, recv any, args []any) (any, error) {
		r, ok := args[0].(string)
		if !ok {
			return nil, vm.errorf("Right operand must be a string.")
		}
		return recv.(string) + r, nil
	})
	def(s, "*(_)", func(vm *VM, recv any, args []any) (any, error) {
		n, err := checkInt(vm, args[0], "Count")
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, vm.errorf("Count must be a non-negative integer.")
		}
		return strings.Repeat(recv.(string), n), nil
	})
	def(s, "count", func(_ *VM, recv any, _ []any) (any, error) {
		return float64(len([]rune(recv.(string)))), nil
	})
	def(s, "isEmpty", func(_ *VM, recv any, _ []any) (any, error) { return recv.(string) == "", nil })
	def(s, "toString", func(_ *VM, recv any, _ []any) (any, error) { return recv, nil })
	def(s, "[_]", func(vm *VM, recv any, args []any) (any, error) {
		r := []rune(recv.(string))
		i, err := checkIndex(vm, args[0], len(r), "Subscript")
		if err != nil {
			return nil, err
		}
		return string(r[i]), nil
	})
	def(s, "contains(_)", func(vm *VM, recv any, args []any) (any, error) {
		a, err := strArg(vm, args[0])
		if err != nil {
			return nil, err
		}
		return strings.Contains(recv.(string), a), nil
	})
	def(s, "startsWith(_)", func(vm *VM, recv any, args []any) (any, error) {
		a, err := strArg(vm, args[0])
		if err != nil {
			return nil, err
		}
		return strings.HasPrefix(recv.(string), a), nil
	})
	def(s, "endsWith(_)", func(vm *VM, recv any, args []any) (any, error) {
		a, err := strArg(vm, args[0])
		if err != nil {
			return nil, err
		}
		return strings.HasSuffix(recv.(string), a), nil
	})
	def(s, "indexOf(_)", func(vm *VM, recv any, args []any) (any, error) {
		a, err := strArg(vm, args[0])
		if err != nil {
			return nil, err
		}
		return float64(strings.Index(recv.(string), a)), nil
	})
	def(s, "split(_)", func(vm *VM, recv any, args []any) (any, error) {
		a, err := strArg(vm, args[0])
		if err != nil {
			return nil, err
		}
		if a == "" {
			return nil, vm.errorf("Delimiter cannot be empty.")
		}
		parts := strings.Split(recv.(string), a)
		l := &List{elems: make([]any, len(parts))}
		for i, p := range parts {
			l.elems[i] = p
		}
		return l, nil
	})
	def(s, "replace(_,_)", func(vm *VM, recv any, args []any) (any, error) {
		from, err := strArg(vm, args[0])
		if err != nil {
			return nil, err
		}
		to, err := strArg(vm, args[1])
		if err != nil {
			return nil, err
		}
		return strings.ReplaceAll(recv.(string), from, to), nil
	})
	def(s, "trim()", func(_ *VM, recv any, _ []any) (any, error) { return strings.TrimSpace(recv.(string)), nil })
	def(s, "iterate(_)", func(vm *VM, recv any, args []any) (any, error) {
		return iterateIndex(vm, args[0], len([]rune(recv.(string))))
	})
	def(s, "iteratorValue(_)", func(vm *VM, recv any, args []any) (any, error) {
		r := []rune(recv.(string))
		i, err := checkIndex(vm, args[0], len(r), "Iterator")
		if err != nil {
			return nil, err
		}
		return string(r[i]), nil
	})
}

// iterateIndex implements the 0-based iterator protocol of sequences.
func iterateIndex(vm *VM, prev any, count int) (any, error) {
	if prev == nil {
		if count == 0 {
			return false, nil
		}
		return 0.0, nil
	}
	i, err := checkInt(vm, prev, "Iterator")
	if err != nil {
		return nil, err
	}
	if i < 0 || i+1 >= count {
		return false, nil
	}
	return float64(i + 1), nil
}

func (vm *VM) listMethods() {
	l := vm.core.list
	defStatic(l, "new()", func(*VM, any, []any) (any, error) { return &List{}, nil })
	defStatic(l, "filled(_,_)", func(vm *VM, _ any, args []any) (any, error) {
		n, err := checkInt(vm, args[0], "Size")
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, vm.errorf("Size cannot be negative.")
		}
		out := &List{elems: make([]any, n)}
		for i := range out.elems {
			out.elems[i] = args[1]
		}
		return out, nil
	})

	def(l, "count", func(_ *VM, recv any, _ []any) (any, error) { return float64(len(recv.(*List).elems)), nil })
	def(l, "isEmpty", func(_ *VM, recv any, _ []any) (any, error) { return len(recv.(*List).elems) == 0, nil })
	def(l, "add(_)", func(_ *VM, recv any, args []any) (any, error) {
		x := recv.(*List)
		x.elems = append(x.elems, args[0])
		return args[0], nil
	})
	def(l, "addAll(_)", func(vm *VM, recv any, args []any) (any, error) {
		x := recv.(*List)
		other, ok := args[0].(*List)
		if !ok {
			return nil, vm.errorf("Argument must be a list.")
		}
		x.elems = append(x.elems, other.elems...)
		return args[0], nil
	})
	def(l, "clear()", func(_ *VM, recv any, _ []any) (any, error) {
		recv.(*List).elems = nil
		return nil, nil
	})
	def(l, "insert(_,_)", func(vm *VM, recv any, args []any) (any, error) {
		x := recv.(*List)
		i, err := checkInt(vm, args[0], "Index")
		if err != nil {
			return nil, err
		}
		if i < 0 {
			i += len(x.elems) + 1
		}
		if i < 0 || i > len(x.elems) {
			return nil, vm.errorf("Index out of bounds.")
		}
		x.elems = slices.Insert(x.elems, i, args[1])
		return args[1], nil
	})
	def(l, "removeAt(_)", func(vm *VM, recv any, args []any) (any, error) {
		x := recv.(*List)
		i, err := checkIndex(vm, args[0], len(x.elems), "Index")
		if err != nil {
			return nil, err
		}
		v := x.elems[i]
		x.elems = slices.Delete(x.elems, i, i+1)
		return v, nil
	})
	def(l, "remove(_)", func(_ *VM, recv any, args []any) (any, error) {
		x := recv.(*List)
		if i := slices.Index(x.elems, args[0]); i >= 0 {
			x.elems = slices.Delete(x.elems, i, i+1)
			return args[0], nil
		}
		return nil, nil
	})
	def(l, "indexOf(_)", func(_ *VM, recv any, args []any) (any, error) {
		return float64(slices.Index(recv.(*List).elems, args[0])), nil
	})
	def(l, "contains(_)", func(_ *VM, recv any, args []any) (any, error) {
		return slices.Contains(recv.(*List).elems, args[0]), nil
	})
	def(l, "swap(_,_)", func(vm *VM, recv any, args []any) (any, error) {
		x := recv.(*List)
		i, err := checkIndex(vm, args[0], len(x.elems), "Index 0")
		if err != nil {
			return nil, err
		}
		j, err := checkIndex(vm, args[1], len(x.elems), "Index 1")
		if err != nil {
			return nil, err
		}
		x.elems[i], x.elems[j] = x.elems[j], x.elems[i]
		return nil, nil
	})
	def(l, "[_]", func(vm *VM, recv any, args []any) (any, error) {
		x := recv.(*List)
		i, err := checkIndex(vm, args[0], len(x.elems), "Subscript")
		if err != nil {
			return nil, err
		}
		return x.elems[i], nil
	})
	def(l, "[_]=(_)", func(vm *VM, recv any, args []any) (any, error) {
		x := recv.(*List)
		i, err := checkIndex(vm, args[0], len(x.elems), "Subscript")
		if err != nil {
			return nil, err
		}
		x.elems[i] = args[1]
		return args[1], nil
	})
	def(l, "+(_)", func(vm *VM, recv any, args []any) (any, error) {
		other, ok := args[0].(*List)
		if !ok {
			return nil, vm.errorf("Right operand must be a list.")
		}
		return &List{elems: slices.Concat(recv.(*List).elems, other.elems)}, nil
	})
	def(l, "iterate(_)", func(vm *VM, recv any, args []any) (any, error) {
		return iterateIndex(vm, args[0], len(recv.(*List).elems))
	})
	def(l, "iteratorValue(_)", func(vm *VM, recv any, args []any) (any, error) {
		x := recv.(*List)
		i, err := checkIndex(vm, args[0], len(x.elems), "Iterator")
		if err != nil {
			return nil, err
		}
		return x.elems[i], nil
	})
	join := func(vm *VM, recv any, sep string) (any, error) {
		x := recv.(*List)
		parts := make([]string, len(x.elems))
		for i, e := range x.elems {
			s, err := vm.stringify(e)
			if err != nil {
				return nil, err
			}
			parts[i] = s
		}
		return strings.Join(parts, sep), nil
	}
	def(l, "join()", func(vm *VM, recv any, _ []any) (any, error) { return join(vm, recv, "") })
	def(l, "join(_)", func(vm *VM, recv any, args []any) (any, error) {
		sep, err := strArg(vm, args[0])
		if err != nil {
			return nil, err
		}
		return join(vm, recv, sep)
	})
	def(l, "toString", func(vm *VM, recv any, _ []any) (any, error) {
		s, err := join(vm, recv, ", ")
		if err != nil {
			return nil, err
		}
		return "[" + s.(string) + "]", nil
	})
}

func (vm *VM) mapMethods() {
	m := vm.core.mapc
	defStatic(m, "new()", func(*VM, any, []any) (any, error) { return newMap(), nil })

	key := func(vm *VM, v any) error {
		if !validKey(v) {
			return vm.errorf("Key must be a value type.")
		}
		return nil
	}
	def(m, "[_]", func(vm *VM, recv any, args []any) (any, error) {
		if err := key(vm, args[0]); err != nil {
			return nil, err
		}
		v, _ := recv.(*Map).m.Get(args[0])
		return v, nil
	})
	def(m, "[_]=(_)", func(vm *VM, recv any, args []any) (any, error) {
		if err := key(vm, args[0]); err != nil {
			return nil, err
		}
		recv.(*Map).m.Set(args[0], args[1])
		return args[1], nil
	})
	def(m, "containsKey(_)", func(vm *VM, recv any, args []any) (any, error) {
		if err := key(vm, args[0]); err != nil {
			return nil, err
		}
		_, ok := recv.(*Map).m.Get(args[0])
		return ok, nil
	})
	def(m, "remove(_)", func(vm *VM, recv any, args []any) (any, error) {
		if err := key(vm, args[0]); err != nil {
			return nil, err
		}
		v, _ := recv.(*Map).m.Delete(args[0])
		return v, nil
	})
	def(m, "clear()", func(_ *VM, recv any, _ []any) (any, error) {
		recv.(*Map).m = newMap().m
		return nil, nil
	})
	def(m, "count", func(_ *VM, recv any, _ []any) (any, error) { return float64(recv.(*Map).m.Len()), nil })
	def(m, "isEmpty", func(_ *VM, recv any, _ []any) (any, error) { return recv.(*Map).m.Len() == 0, nil })
	def(m, "keys", func(_ *VM, recv any, _ []any) (any, error) {
		out := &List{}
		for p := recv.(*Map).m.Oldest(); p != nil; p = p.Next() {
			out.elems = append(out.elems, p.Key)
		}
		return out, nil
	})
	def(m, "values", func(_ *VM, recv any, _ []any) (any, error) {
		out := &List{}
		for p := recv.(*Map).m.Oldest(); p != nil; p = p.Next() {
			out.elems = append(out.elems, p.Value)
		}
		return out, nil
	})
	// Map iterators are positions in insertion order.
	def(m, "iterate(_)", func(vm *VM, recv any, args []any) (any, error) {
		return iterateIndex(vm, args[0], recv.(*Map).m.Len())
	})
	def(m, "iteratorValue(_)", func(vm *VM, recv any, args []any) (any, error) {
		x := recv.(*Map)
		i, err := checkIndex(vm, args[0], x.m.Len(), "Iterator")
		if err != nil {
			return nil, err
		}
		p := x.m.Oldest()
		for ; i > 0; i-- {
			p = p.Next()
		}
		return &MapEntry{key: p.Key, value: p.Value}, nil
	})
	def(m, "toString", func(vm *VM, recv any, _ []any) (any, error) {
		var parts []string
		for p := recv.(*Map).m.Oldest(); p != nil; p = p.Next() {
			k, err := vm.stringify(p.Key)
			if err != nil {
				return nil, err
			}
			v, err := vm.stringify(p.Value)
			if err != nil {
				return nil, err
			}
			parts = append(parts, k+": "+v)
		}
		return "{" + strings.Join(parts, ", ") + "}", nil
	})
}

func (vm *VM) rangeMethods() {
	r := vm.core.rangec
	get := func(fn func(*Range) any) prim {
		return func(_ *VM, recv any, _ []any) (any, error) { return fn(recv.(*Range)), nil }
	}
	def(r, "from", get(func(x *Range) any { return x.from }))
	def(r, "to", get(func(x *Range) any { return x.to }))
	def(r, "min", get(func(x *Range) any { return math.Min(x.from, x.to) }))
	def(r, "max", get(func(x *Range) any { return math.Max(x.from, x.to) }))
	def(r, "isInclusive", get(func(x *Range) any { return x.inclusive }))
	def(r, "toString", get(func(x *Range) any { return display(x) }))
	def(r, "iterate(_)", func(vm *VM, recv any, args []any) (any, error) {
		x := recv.(*Range)
		if x.from == x.to && !x.inclusive {
			return false, nil
		}
		if args[0] == nil {
			return x.from, nil
		}
		n, err := checkNum(vm, args[0], "Iterator")
		if err != nil {
			return nil, err
		}
		if x.from < x.to {
			n++
			if n > x.to || (!x.inclusive && n == x.to) {
				return false, nil
			}
		} else {
			n--
			if n < x.to || (!x.inclusive && n == x.to) {
				return false, nil
			}
		}
		return n, nil
	})
	def(r, "iteratorValue(_)", func(_ *VM, _ any, args []any) (any, error) { return args[0], nil })
}
