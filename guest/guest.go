package guest

// SlotType is the type of the value stored in an API slot.
type SlotType uint8

const (
	TypeBool SlotType = iota
	TypeNum
	TypeForeign
	TypeList
	TypeMap
	TypeNull
	TypeString
	TypeUnknown
)

func (t SlotType) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeNum:
		return "num"
	case TypeForeign:
		return "foreign"
	case TypeList:
		return "list"
	case TypeMap:
		return "map"
	case TypeNull:
		return "null"
	case TypeString:
		return "string"
	default:
		return "unknown"
	}
}

// Result is the outcome of Interpret or Call.
type Result uint8

const (
	ResultSuccess Result = iota
	ResultCompileError
	ResultRuntimeError
)

// ErrorKind classifies an error callback.
type ErrorKind uint8

const (
	// ErrorCompile reports a syntax or resolution error with its line.
	ErrorCompile ErrorKind = iota
	// ErrorRuntime reports the message of an aborted fiber.
	ErrorRuntime
	// ErrorStackTrace reports one frame of the aborted fiber.
	ErrorStackTrace
)

// Handle is an opaque, engine specific reference to a guest value or a call
// signature. Handles keep their value alive until released.
type Handle any

// ForeignMethod is a natively implemented guest method. Slot 0 holds the
// receiver on entry and the return value on exit; arguments start at slot 1.
type ForeignMethod func(vm VM)

// ForeignClass binds the allocation and finalization of a foreign class.
// Allocate receives the class in slot 0 and constructor arguments after it
// and must call SetSlotNewForeign(0, 0, data). Finalize receives the data
// when the guest collects the object or the VM is freed.
type ForeignClass struct {
	Allocate ForeignMethod
	Finalize func(data any)
}

// Config carries the callbacks a VM uses to reach its embedder.
type Config struct {
	// Write receives System.print output.
	Write func(vm VM, text string)

	// Error receives compile errors, runtime errors and stack frames.
	Error func(vm VM, kind ErrorKind, module string, line int, message string)

	// LoadModule returns the source of an imported module.
	LoadModule func(vm VM, name string) (string, bool)

	// BindForeignMethod is called once per foreign method declaration.
	// Returning nil makes the class definition fail.
	BindForeignMethod func(vm VM, module, class string, isStatic bool, signature string) ForeignMethod

	// BindForeignClass is called once per foreign class declaration.
	BindForeignClass func(vm VM, module, class string) ForeignClass

	// UserData is returned by VM.UserData.
	UserData any
}

// Engine creates guest VMs.
type Engine interface {
	NewVM(cfg Config) VM
}

// VM is the slot based embedding API of a guest virtual machine. A VM is
// single threaded: none of its methods may be called concurrently.
type VM interface {
	UserData() any

	// Interpret compiles and runs source in the named module.
	Interpret(module, source string) Result

	EnsureSlots(n int)
	SlotCount() int
	SlotType(slot int) SlotType

	SlotBool(slot int) bool
	SlotDouble(slot int) float64
	SlotString(slot int) string
	// SlotForeign returns the data of the foreign object in slot, or nil.
	SlotForeign(slot int) any
	SlotHandle(slot int) Handle

	SetSlotBool(slot int, v bool)
	SetSlotDouble(slot int, v float64)
	SetSlotString(slot int, v string)
	SetSlotNull(slot int)
	SetSlotNewList(slot int)
	SetSlotHandle(slot int, h Handle)
	// SetSlotNewForeign creates an instance of the foreign class stored in
	// classSlot carrying data. It does not call the class allocator.
	SetSlotNewForeign(slot, classSlot int, data any)

	ListCount(slot int) int
	ListElement(listSlot, index, elementSlot int)
	// InsertInList inserts at index; -1 appends.
	InsertInList(listSlot, index, elementSlot int)

	HasModule(module string) bool
	HasVariable(module, name string) bool
	Variable(module, name string, slot int)

	// MakeCallHandle creates a handle that invokes signature on the receiver
	// in slot 0 with arguments in the following slots.
	MakeCallHandle(signature string) Handle
	Call(method Handle) Result
	ReleaseHandle(h Handle)

	// AbortFiber aborts the running fiber with the value in slot as error.
	AbortFiber(slot int)

	// CollectGarbage runs finalizers of unreachable foreign objects.
	CollectGarbage()

	// Free runs every pending finalizer and invalidates the VM.
	Free()
}
