package mini

import (
	"fmt"
	"math"

	"github.com/wippyai/carrica/guest"
)

// maxFrames bounds guest call depth.
const maxFrames = 1024

type control uint8

const (
	flowNormal control = iota
	flowBreak
	flowContinue
	flowReturn
)

// frame is one activation of module code or a method.
type frame struct {
	mod     *module
	this    any
	hasThis bool
	class   *Class
	name    string
	line    int
}

// env is a lexical scope. The outermost env of a frame has a nil parent;
// names not found there resolve against the module.
type env struct {
	vars   map[string]any
	parent *env
}

func newEnv(parent *env) *env {
	return &env{parent: parent}
}

func (e *env) lookup(name string) (*env, bool) {
	for s := e; s != nil; s = s.parent {
		if _, ok := s.vars[name]; ok {
			return s, true
		}
	}
	return nil, false
}

func (e *env) define(name string, v any) {
	if e.vars == nil {
		e.vars = make(map[string]any)
	}
	e.vars[name] = v
}

// runtimeError aborts the running fiber. value is the abort value.
type runtimeError struct {
	value any
	trace []traceFrame
}

type traceFrame struct {
	module string
	line   int
	name   string
}

func (e *runtimeError) Error() string { return display(e.value) }

func (vm *VM) errorf(format string, args ...any) error {
	return vm.abortWith(fmt.Sprintf(format, args...))
}

func (vm *VM) abortWith(v any) error {
	trace := make([]traceFrame, 0, len(vm.frames))
	for i := len(vm.frames) - 1; i >= 0; i-- {
		f := vm.frames[i]
		trace = append(trace, traceFrame{module: f.mod.name, line: f.line, name: f.name})
	}
	return &runtimeError{value: v, trace: trace}
}

func (vm *VM) pushFrame(f *frame) error {
	if len(vm.frames) >= maxFrames {
		return vm.errorf("Stack overflow.")
	}
	vm.frames = append(vm.frames, f)
	return nil
}

func (vm *VM) popFrame() { vm.frames = vm.frames[:len(vm.frames)-1] }

// runModule executes top level statements in mod.
func (vm *VM) runModule(mod *module, stmts []stmt) error {
	fr := &frame{mod: mod, name: "(script)"}
	if err := vm.pushFrame(fr); err != nil {
		return err
	}
	defer vm.popFrame()
	for _, s := range stmts {
		if _, _, err := vm.exec(s, nil, fr); err != nil {
			return err
		}
	}
	return nil
}

// exec runs s. A nil scope means module level, where var defines module
// variables.
func (vm *VM) exec(s stmt, sc *env, fr *frame) (control, any, error) {
	fr.line = s.lineNo()
	switch s := s.(type) {
	case *exprStmt:
		_, err := vm.eval(s.x, sc, fr)
		return flowNormal, nil, err

	case *varStmt:
		var v any
		if s.init != nil {
			var err error
			if v, err = vm.eval(s.init, sc, fr); err != nil {
				return flowNormal, nil, err
			}
		}
		if sc == nil {
			fr.mod.define(s.name, v)
		} else {
			sc.define(s.name, v)
		}
		return flowNormal, nil, nil

	case *blockStmt:
		inner := newEnv(sc)
		for _, st := range s.stmts {
			c, v, err := vm.exec(st, inner, fr)
			if err != nil || c != flowNormal {
				return c, v, err
			}
		}
		return flowNormal, nil, nil

	case *ifStmt:
		cond, err := vm.eval(s.cond, sc, fr)
		if err != nil {
			return flowNormal, nil, err
		}
		if truthy(cond) {
			return vm.exec(s.then, newEnv(sc), fr)
		}
		if s.els != nil {
			return vm.exec(s.els, newEnv(sc), fr)
		}
		return flowNormal, nil, nil

	case *whileStmt:
		for {
			cond, err := vm.eval(s.cond, sc, fr)
			if err != nil {
				return flowNormal, nil, err
			}
			if !truthy(cond) {
				return flowNormal, nil, nil
			}
			c, v, err := vm.exec(s.body, newEnv(sc), fr)
			if err != nil || c == flowReturn {
				return c, v, err
			}
			if c == flowBreak {
				return flowNormal, nil, nil
			}
		}

	case *forStmt:
		return vm.execFor(s, sc, fr)

	case *returnStmt:
		if s.x == nil {
			return flowReturn, nil, nil
		}
		v, err := vm.eval(s.x, sc, fr)
		return flowReturn, v, err

	case *breakStmt:
		return flowBreak, nil, nil

	case *continueStmt:
		return flowContinue, nil, nil

	case *classStmt:
		return flowNormal, nil, vm.defineClass(s, sc, fr)

	case *importStmt:
		return flowNormal, nil, vm.importNames(s, sc, fr)
	}
	return flowNormal, nil, vm.errorf("unknown statement %T", s)
}

func (vm *VM) execFor(s *forStmt, sc *env, fr *frame) (control, any, error) {
	seq, err := vm.eval(s.seq, sc, fr)
	if err != nil {
		return flowNormal, nil, err
	}
	var iter any
	for {
		fr.line = s.lineNo()
		if iter, err = vm.invoke(seq, "iterate(_)", []any{iter}); err != nil {
			return flowNormal, nil, err
		}
		if !truthy(iter) {
			return flowNormal, nil, nil
		}
		v, err := vm.invoke(seq, "iteratorValue(_)", []any{iter})
		if err != nil {
			return flowNormal, nil, err
		}
		body := newEnv(sc)
		body.define(s.name, v)
		c, rv, err := vm.exec(s.body, body, fr)
		if err != nil || c == flowReturn {
			return c, rv, err
		}
		if c == flowBreak {
			return flowNormal, nil, nil
		}
	}
}

func (vm *VM) eval(x expr, sc *env, fr *frame) (any, error) {
	switch x := x.(type) {
	case *numLit:
		return x.v, nil
	case *strLit:
		return x.v, nil
	case *boolLit:
		return x.v, nil
	case *nullLit:
		return nil, nil
	case *thisExpr:
		if !fr.hasThis {
			return nil, vm.errorf("Cannot use 'this' outside of a method.")
		}
		return fr.this, nil

	case *interpLit:
		var out []byte
		for _, p := range x.parts {
			v, err := vm.eval(p, sc, fr)
			if err != nil {
				return nil, err
			}
			s, err := vm.stringify(v)
			if err != nil {
				return nil, err
			}
			out = append(out, s...)
		}
		return string(out), nil

	case *listLit:
		l := &List{elems: make([]any, 0, len(x.elems))}
		for _, e := range x.elems {
			v, err := vm.eval(e, sc, fr)
			if err != nil {
				return nil, err
			}
			l.elems = append(l.elems, v)
		}
		return l, nil

	case *mapLit:
		m := newMap()
		for i := range x.keys {
			k, err := vm.eval(x.keys[i], sc, fr)
			if err != nil {
				return nil, err
			}
			if !validKey(k) {
				return nil, vm.errorf("Key must be a value type.")
			}
			v, err := vm.eval(x.vals[i], sc, fr)
			if err != nil {
				return nil, err
			}
			m.m.Set(k, v)
		}
		return m, nil

	case *nameExpr:
		if s, ok := sc.lookup(x.name); ok {
			return s.vars[x.name], nil
		}
		if v, ok := fr.mod.lookup(x.name); ok {
			return v, nil
		}
		if fr.hasThis {
			return vm.invoke(fr.this, x.name, nil)
		}
		return nil, vm.errorf("Variable '%s' is not defined.", x.name)

	case *fieldExpr:
		return vm.readField(x, fr)

	case *callExpr:
		recv, err := vm.receiver(x.recv, sc, fr)
		if err != nil {
			return nil, err
		}
		args, err := vm.evalArgs(x.args, sc, fr)
		if err != nil {
			return nil, err
		}
		fr.line = x.lineNo()
		return vm.invoke(recv, x.sig, args)

	case *subscriptExpr:
		recv, err := vm.eval(x.recv, sc, fr)
		if err != nil {
			return nil, err
		}
		args, err := vm.evalArgs(x.args, sc, fr)
		if err != nil {
			return nil, err
		}
		return vm.invoke(recv, signature("", len(args), sigSubscript), args)

	case *assignExpr:
		return vm.assign(x, sc, fr)

	case *binaryExpr:
		l, err := vm.eval(x.l, sc, fr)
		if err != nil {
			return nil, err
		}
		r, err := vm.eval(x.r, sc, fr)
		if err != nil {
			return nil, err
		}
		fr.line = x.lineNo()
		return vm.invoke(l, x.op+"(_)", []any{r})

	case *logicalExpr:
		l, err := vm.eval(x.l, sc, fr)
		if err != nil {
			return nil, err
		}
		if x.op == "&&" && !truthy(l) || x.op == "||" && truthy(l) {
			return l, nil
		}
		return vm.eval(x.r, sc, fr)

	case *unaryExpr:
		v, err := vm.eval(x.x, sc, fr)
		if err != nil {
			return nil, err
		}
		return vm.invoke(v, x.op, nil)

	case *condExpr:
		c, err := vm.eval(x.cond, sc, fr)
		if err != nil {
			return nil, err
		}
		if truthy(c) {
			return vm.eval(x.then, sc, fr)
		}
		return vm.eval(x.els, sc, fr)

	case *isExpr:
		v, err := vm.eval(x.x, sc, fr)
		if err != nil {
			return nil, err
		}
		c, err := vm.eval(x.cls, sc, fr)
		if err != nil {
			return nil, err
		}
		cls, ok := c.(*Class)
		if !ok {
			return nil, vm.errorf("Right operand must be a class.")
		}
		return vm.classOf(v).isSubclassOf(cls), nil
	}
	return nil, vm.errorf("unknown expression %T", x)
}

func (vm *VM) receiver(x expr, sc *env, fr *frame) (any, error) {
	if x != nil {
		return vm.eval(x, sc, fr)
	}
	if !fr.hasThis {
		return nil, vm.errorf("Cannot call a method outside of a class.")
	}
	return fr.this, nil
}

func (vm *VM) evalArgs(xs []expr, sc *env, fr *frame) ([]any, error) {
	if len(xs) == 0 {
		return nil, nil
	}
	out := make([]any, len(xs))
	for i, a := range xs {
		v, err := vm.eval(a, sc, fr)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (vm *VM) readField(x *fieldExpr, fr *frame) (any, error) {
	if x.static {
		if fr.class == nil {
			return nil, vm.errorf("Cannot use a static field outside of a class definition.")
		}
		return fr.class.staticFields[x.name], nil
	}
	inst, ok := fr.this.(*Instance)
	if !ok {
		return nil, vm.errorf("Cannot use field '%s' here.", x.name)
	}
	return inst.fields[x.name], nil
}

func (vm *VM) assign(x *assignExpr, sc *env, fr *frame) (any, error) {
	switch t := x.target.(type) {
	case *nameExpr:
		v, err := vm.eval(x.value, sc, fr)
		if err != nil {
			return nil, err
		}
		if s, ok := sc.lookup(t.name); ok {
			s.vars[t.name] = v
			return v, nil
		}
		if _, ok := fr.mod.vars[t.name]; ok {
			fr.mod.vars[t.name] = v
			return v, nil
		}
		if fr.hasThis {
			return vm.invoke(fr.this, t.name+"=(_)", []any{v})
		}
		return nil, vm.errorf("Variable '%s' is not defined.", t.name)

	case *fieldExpr:
		v, err := vm.eval(x.value, sc, fr)
		if err != nil {
			return nil, err
		}
		if t.static {
			if fr.class == nil {
				return nil, vm.errorf("Cannot use a static field outside of a class definition.")
			}
			fr.class.staticFields[t.name] = v
			return v, nil
		}
		inst, ok := fr.this.(*Instance)
		if !ok {
			return nil, vm.errorf("Cannot use field '%s' here.", t.name)
		}
		inst.fields[t.name] = v
		return v, nil

	case *callExpr:
		recv, err := vm.receiver(t.recv, sc, fr)
		if err != nil {
			return nil, err
		}
		v, err := vm.eval(x.value, sc, fr)
		if err != nil {
			return nil, err
		}
		if _, err := vm.invoke(recv, t.name+"=(_)", []any{v}); err != nil {
			return nil, err
		}
		return v, nil

	case *subscriptExpr:
		recv, err := vm.eval(t.recv, sc, fr)
		if err != nil {
			return nil, err
		}
		args, err := vm.evalArgs(t.args, sc, fr)
		if err != nil {
			return nil, err
		}
		v, err := vm.eval(x.value, sc, fr)
		if err != nil {
			return nil, err
		}
		if _, err := vm.invoke(recv, signature("", len(args), sigSubscriptSetter), append(args, v)); err != nil {
			return nil, err
		}
		return v, nil
	}
	return nil, vm.errorf("Invalid assignment target.")
}

// classOf returns the class used for method dispatch on v. Classes
// themselves dispatch through their statics before reaching Class.
func (vm *VM) classOf(v any) *Class {
	switch x := v.(type) {
	case nil:
		return vm.core.null
	case bool:
		return vm.core.boolean
	case float64:
		return vm.core.num
	case string:
		return vm.core.str
	case *List:
		return vm.core.list
	case *Map:
		return vm.core.mapc
	case *MapEntry:
		return vm.core.entry
	case *Range:
		return vm.core.rangec
	case *Instance:
		return x.class
	case *Foreign:
		return x.class
	case *Class:
		return vm.core.class
	}
	return vm.core.object
}

func (vm *VM) invoke(recv any, sig string, args []any) (any, error) {
	var m *method
	if c, ok := recv.(*Class); ok {
		m = c.statics[sig]
		if m == nil {
			m = vm.core.class.find(sig)
		}
		if m == nil {
			return nil, vm.errorf("%s metaclass does not implement '%s'.", c.name, sig)
		}
	} else {
		cls := vm.classOf(recv)
		if m = cls.find(sig); m == nil {
			return nil, vm.errorf("%s does not implement '%s'.", cls.name, sig)
		}
	}
	return vm.call(m, recv, sig, args)
}

func (vm *VM) call(m *method, recv any, sig string, args []any) (any, error) {
	switch {
	case m.prim != nil:
		return m.prim(vm, recv, args)
	case m.foreign != nil:
		return vm.callForeign(m.foreign, recv, args)
	}

	d := m.decl
	name := m.owner.name + "." + sig
	if d.static {
		name = "static " + name
	}
	fr := &frame{mod: m.owner.module, this: recv, hasThis: true, class: m.owner, name: name, line: d.lineNo()}
	if err := vm.pushFrame(fr); err != nil {
		return nil, err
	}
	defer vm.popFrame()

	sc := newEnv(nil)
	for i, p := range d.params {
		sc.define(p, args[i])
	}
	if d.exprBody != nil {
		return vm.eval(d.exprBody, sc, fr)
	}
	for _, s := range d.body.stmts {
		c, v, err := vm.exec(s, sc, fr)
		if err != nil {
			return nil, err
		}
		if c == flowReturn {
			return v, nil
		}
	}
	return nil, nil
}

// callForeign runs fn with a fresh slot frame holding the receiver and the
// arguments. The value left in slot 0 is the result.
func (vm *VM) callForeign(fn guest.ForeignMethod, recv any, args []any) (any, error) {
	saved := vm.slots
	vm.slots = make([]any, 1+len(args))
	vm.slots[0] = recv
	copy(vm.slots[1:], args)
	vm.aborted, vm.abortValue = false, nil

	fn(vm)

	result := vm.slots[0]
	aborted, value := vm.aborted, vm.abortValue
	vm.slots = saved
	vm.aborted, vm.abortValue = false, nil
	if aborted {
		return nil, vm.abortWith(value)
	}
	return result, nil
}

// stringify converts v with its toString method.
func (vm *VM) stringify(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case float64, nil, bool:
		return display(x), nil
	}
	s, err := vm.invoke(v, "toString", nil)
	if err != nil {
		return "", err
	}
	str, ok := s.(string)
	if !ok {
		return "", vm.errorf("toString must return a string.")
	}
	return str, nil
}

// defineClass creates a class and binds its foreign members eagerly.
func (vm *VM) defineClass(s *classStmt, sc *env, fr *frame) error {
	super := vm.core.object
	if s.super != nil {
		v, err := vm.eval(s.super, sc, fr)
		if err != nil {
			return err
		}
		c, ok := v.(*Class)
		if !ok {
			return vm.errorf("Class '%s' cannot inherit from a non-class object.", s.name)
		}
		if c.foreign {
			return vm.errorf("Class '%s' cannot inherit from foreign class '%s'.", s.name, c.name)
		}
		if c.module == vm.core.mod && c != vm.core.object {
			return vm.errorf("Class '%s' cannot inherit from built-in class '%s'.", s.name, c.name)
		}
		super = c
	}

	cls := newClass(s.name, super)
	cls.module = fr.mod
	cls.foreign = s.foreign
	fr.mod.define(s.name, cls)

	if s.foreign {
		if vm.cfg.BindForeignClass != nil {
			cls.binding = vm.cfg.BindForeignClass(vm, fr.mod.name, s.name)
		}
		if cls.binding.Allocate == nil {
			return vm.errorf("Could not find foreign class '%s' in module '%s'.", s.name, fr.mod.name)
		}
	}

	for _, d := range s.methods {
		m := &method{decl: d, owner: cls}
		if d.foreign {
			var fn guest.ForeignMethod
			if vm.cfg.BindForeignMethod != nil {
				fn = vm.cfg.BindForeignMethod(vm, fr.mod.name, s.name, d.static, d.sig)
			}
			if fn == nil {
				return vm.errorf("Could not find foreign method '%s' for class %s in module '%s'.", d.sig, s.name, fr.mod.name)
			}
			m.foreign = fn
		}
		switch {
		case d.construct:
			cls.statics[d.sig] = vm.constructor(cls, m)
		case d.static:
			cls.statics[d.sig] = m
		default:
			cls.methods[d.sig] = m
		}
	}
	return nil
}

// constructor wraps an initializer: it allocates the object, runs the body
// with this bound to it, and returns the object.
func (vm *VM) constructor(cls *Class, init *method) *method {
	return &method{owner: cls, prim: func(vm *VM, recv any, args []any) (any, error) {
		var obj any
		if cls.foreign {
			v, err := vm.callForeign(cls.binding.Allocate, cls, args)
			if err != nil {
				return nil, err
			}
			f, ok := v.(*Foreign)
			if !ok || f.class != cls {
				return nil, vm.errorf("Foreign class '%s' allocator did not create an object.", cls.name)
			}
			obj = f
		} else {
			obj = &Instance{class: cls, fields: make(map[string]any)}
		}
		if _, err := vm.call(init, obj, init.decl.sig, args); err != nil {
			return nil, err
		}
		return obj, nil
	}}
}

func (vm *VM) importNames(s *importStmt, sc *env, fr *frame) error {
	mod, err := vm.importModule(s.module)
	if err != nil {
		return err
	}
	for _, n := range s.names {
		v, ok := mod.vars[n.name]
		if !ok {
			return vm.errorf("Could not find a variable named '%s' in module '%s'.", n.name, s.module)
		}
		if sc == nil {
			fr.mod.define(n.alias, v)
		} else {
			sc.define(n.alias, v)
		}
	}
	return nil
}

func (vm *VM) importModule(name string) (*module, error) {
	if m, ok := vm.modules[name]; ok {
		return m, nil
	}
	var src string
	ok := false
	if vm.cfg.LoadModule != nil {
		src, ok = vm.cfg.LoadModule(vm, name)
	}
	if !ok {
		return nil, vm.errorf("Could not load module '%s'.", name)
	}
	stmts, err := parse(src)
	if err != nil {
		vm.reportCompile(name, err)
		return nil, vm.errorf("Could not compile module '%s'.", name)
	}
	mod := vm.newModule(name)
	if err := vm.runModule(mod, stmts); err != nil {
		return nil, err
	}
	return mod, nil
}

func checkNum(vm *VM, v any, what string) (float64, error) {
	n, ok := v.(float64)
	if !ok {
		return 0, vm.errorf("%s must be a number.", what)
	}
	return n, nil
}

func checkInt(vm *VM, v any, what string) (int, error) {
	n, err := checkNum(vm, v, what)
	if err != nil {
		return 0, err
	}
	if n != math.Trunc(n) {
		return 0, vm.errorf("%s must be an integer.", what)
	}
	return int(n), nil
}

// checkIndex validates a list or string index, counting negative values
// from the end.
func checkIndex(vm *VM, v any, count int, what string) (int, error) {
	i, err := checkInt(vm, v, what)
	if err != nil {
		return 0, err
	}
	if i < 0 {
		i += count
	}
	if i < 0 || i >= count {
		return 0, vm.errorf("%s out of bounds.", what)
	}
	return i, nil
}
