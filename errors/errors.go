package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in the bridge the error occurred
type Phase string

const (
	PhaseInstance  Phase = "instance"  // VM instance lifecycle
	PhaseRegistry  Phase = "registry"  // VM slot registry
	PhaseModule    Phase = "module"    // module installation
	PhaseBind      Phase = "bind"      // foreign binding resolution
	PhaseLoad      Phase = "load"      // module source loading
	PhaseMarshal   Phase = "marshal"   // host <-> guest value conversion
	PhaseContainer Phase = "container" // shared container storage
	PhaseCall      Phase = "call"      // host initiated guest calls
	PhaseInterpret Phase = "interpret" // guest code execution
	PhaseHost      Phase = "host"      // host function registration and calls
	PhaseConfig    Phase = "config"    // configuration loading
	PhaseParse     Phase = "parse"     // WIT signature parsing
	PhaseWasm      Phase = "wasm"      // wasm backed modules
)

// Kind categorizes the error
type Kind string

const (
	KindTypeMismatch    Kind = "type_mismatch"
	KindOutOfBounds     Kind = "out_of_bounds"
	KindInvalidData     Kind = "invalid_data"
	KindUnsupported     Kind = "unsupported"
	KindNotFound        Kind = "not_found"
	KindInvalidInput    Kind = "invalid_input"
	KindInvalidInstance Kind = "invalid_instance"
	KindMissingBinding  Kind = "missing_binding"
	KindReleased        Kind = "released"
	KindReentrant       Kind = "reentrant"
	KindCompile         Kind = "compile"
	KindGuestRuntime    Kind = "guest_runtime"
	KindRegistration    Kind = "registration"
	KindArity           Kind = "arity"
)

// Category groups errors by how the caller is expected to react.
type Category uint8

const (
	// CategoryConfiguration marks setup or programming mistakes: missing
	// bindings, missing modules, released instances, bad presets.
	CategoryConfiguration Category = iota + 1
	// CategoryGuest marks errors that aborted a guest fiber only.
	CategoryGuest
	// CategoryMarshal marks values the bridge cannot carry across.
	CategoryMarshal
)

func (c Category) String() string {
	switch c {
	case CategoryConfiguration:
		return "configuration"
	case CategoryGuest:
		return "guest"
	case CategoryMarshal:
		return "marshal"
	default:
		return "unknown"
	}
}

// Error is the structured error type used throughout the bridge
type Error struct {
	Value     any
	Cause     error
	Phase     Phase
	Kind      Kind
	Category  Category
	GoType    string
	GuestType string
	Detail    string
	Path      []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" || e.GuestType != "" {
		b.WriteString(": ")
		if e.GoType != "" && e.GuestType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", guest type ")
			b.WriteString(e.GuestType)
		} else if e.GoType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		} else {
			b.WriteString("guest type ")
			b.WriteString(e.GuestType)
		}
	}

	if e.Detail != "" {
		if e.GoType != "" || e.GuestType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Fatal reports whether the error signals a setup mistake or a violation
// of the bridge's type coverage rather than a guest logic failure.
func (e *Error) Fatal() bool {
	return e.Category == CategoryConfiguration || e.Category == CategoryMarshal
}

// IsFatal reports whether any *Error in err's chain is fatal.
func IsFatal(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Fatal()
	}
	return false
}

// IsKind reports whether err's chain holds an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the path (module, class, member)
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// GuestType sets the guest slot type name
func (b *Builder) GuestType(t string) *Builder {
	b.err.GuestType = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Category sets the error category
func (b *Builder) Category(c Category) *Builder {
	b.err.Category = c
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// InvalidInstance creates the configuration error raised by every instance
// operation attempted after release.
func InvalidInstance(op string) *Error {
	return &Error{
		Phase:    PhaseInstance,
		Kind:     KindInvalidInstance,
		Category: CategoryConfiguration,
		Path:     []string{op},
		Detail:   "called on an invalid VM instance",
	}
}

// MissingBinding creates the configuration error for a foreign member no
// installed module could provide.
func MissingBinding(module, class, member string) *Error {
	path := []string{module, class}
	if member != "" {
		path = append(path, member)
	}
	what := "foreign class"
	if member != "" {
		what = "foreign method"
	}
	return &Error{
		Phase:    PhaseBind,
		Kind:     KindMissingBinding,
		Category: CategoryConfiguration,
		Path:     path,
		Detail:   fmt.Sprintf("could not find %s binding", what),
	}
}

// TypeMismatch creates a marshaling type mismatch error
func TypeMismatch(phase Phase, path []string, goType, guestType string) *Error {
	return &Error{
		Phase:     phase,
		Kind:      KindTypeMismatch,
		Category:  CategoryMarshal,
		Path:      path,
		GoType:    goType,
		GuestType: guestType,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindUnsupported,
		Category: CategoryMarshal,
		Detail:   what,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindOutOfBounds,
		Category: CategoryGuest,
		Path:     path,
		Detail:   fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:    index,
	}
}

// Released creates an error for access to destroyed container storage
func Released(phase Phase, what string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindReleased,
		Category: CategoryGuest,
		Detail:   fmt.Sprintf("%s has been released", what),
	}
}

// Reentrant creates the error for a call into a VM instance that is already running
func Reentrant(op string) *Error {
	return &Error{
		Phase:    PhaseCall,
		Kind:     KindReentrant,
		Category: CategoryConfiguration,
		Path:     []string{op},
		Detail:   "VM instance is already executing",
	}
}

// Guest creates a guest runtime error reported through the error handler
func Guest(kind Kind, module string, line int, msg string) *Error {
	return &Error{
		Phase:    PhaseInterpret,
		Kind:     kind,
		Category: CategoryGuest,
		Path:     []string{module},
		Detail:   fmt.Sprintf("line %d: %s", line, msg),
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Config creates a configuration category error
func Config(phase Phase, kind Kind, detail string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     kind,
		Category: CategoryConfiguration,
		Detail:   detail,
	}
}

// Registration creates a registration error
func Registration(phase Phase, namespace, name string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("register %s.%s", namespace, name),
		Cause:  cause,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// ParseFailed creates a parsing error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindInvalidData,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}
