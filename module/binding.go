package module

import (
	"github.com/wippyai/carrica/errors"
	"github.com/wippyai/carrica/guest"
)

// Binding resolves the natively implemented classes and methods of a
// binary module. A nil method or an absent class means the module does not
// implement the member.
type Binding interface {
	BindMethod(class string, isStatic bool, signature string) guest.ForeignMethod
	BindClass(class string) (guest.ForeignClass, bool)
}

// Declarer is implemented by bindings that ship the guest declarations of
// their classes. The text is served to the guest when the module is
// imported.
type Declarer interface {
	Declarations() string
}

type indexer interface {
	index() error
}

// Method is one entry of a table driven binding.
type Method struct {
	Fn        guest.ForeignMethod
	Class     string
	Signature string
	Static    bool
}

// Class is one foreign class of a table driven binding.
type Class struct {
	Allocate guest.ForeignMethod
	Finalize func(data any)
	Name     string
}

// Native is a table driven binding. Its tables are indexed once, when the
// module is installed; lookups afterwards are map reads.
type Native struct {
	methods map[methodKey]guest.ForeignMethod
	classes map[string]guest.ForeignClass
	Decls   string
	Methods []Method
	Classes []Class
}

type methodKey struct {
	class     string
	signature string
	static    bool
}

func (n *Native) index() error {
	if n.methods != nil {
		return nil
	}
	methods := make(map[methodKey]guest.ForeignMethod, len(n.Methods))
	for _, m := range n.Methods {
		k := methodKey{class: m.Class, signature: m.Signature, static: m.Static}
		if _, dup := methods[k]; dup {
			return errors.New(errors.PhaseModule, errors.KindRegistration).
				Category(errors.CategoryConfiguration).
				Path(m.Class, m.Signature).
				Detail("duplicate foreign method").
				Build()
		}
		if m.Fn == nil {
			return errors.New(errors.PhaseModule, errors.KindRegistration).
				Category(errors.CategoryConfiguration).
				Path(m.Class, m.Signature).
				Detail("foreign method has no implementation").
				Build()
		}
		methods[k] = m.Fn
	}
	classes := make(map[string]guest.ForeignClass, len(n.Classes))
	for _, c := range n.Classes {
		if _, dup := classes[c.Name]; dup {
			return errors.New(errors.PhaseModule, errors.KindRegistration).
				Category(errors.CategoryConfiguration).
				Path(c.Name).
				Detail("duplicate foreign class").
				Build()
		}
		classes[c.Name] = guest.ForeignClass{Allocate: c.Allocate, Finalize: c.Finalize}
	}
	n.methods = methods
	n.classes = classes
	return nil
}

// BindMethod implements Binding.
func (n *Native) BindMethod(class string, isStatic bool, signature string) guest.ForeignMethod {
	if n.methods == nil {
		if err := n.index(); err != nil {
			return nil
		}
	}
	return n.methods[methodKey{class: class, signature: signature, static: isStatic}]
}

// BindClass implements Binding.
func (n *Native) BindClass(class string) (guest.ForeignClass, bool) {
	if n.classes == nil {
		if err := n.index(); err != nil {
			return guest.ForeignClass{}, false
		}
	}
	c, ok := n.classes[class]
	return c, ok
}

// Declarations implements Declarer.
func (n *Native) Declarations() string { return n.Decls }

// Funcs is a binding backed by resolver functions, for modules whose class
// names are only known at run time. Resolution stays lazy.
type Funcs struct {
	Method func(class string, isStatic bool, signature string) guest.ForeignMethod
	Class  func(class string) (guest.ForeignClass, bool)
	Decls  string
}

// BindMethod implements Binding.
func (f Funcs) BindMethod(class string, isStatic bool, signature string) guest.ForeignMethod {
	if f.Method == nil {
		return nil
	}
	return f.Method(class, isStatic, signature)
}

// BindClass implements Binding.
func (f Funcs) BindClass(class string) (guest.ForeignClass, bool) {
	if f.Class == nil {
		return guest.ForeignClass{}, false
	}
	return f.Class(class)
}

// Declarations implements Declarer.
func (f Funcs) Declarations() string { return f.Decls }
