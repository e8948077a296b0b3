package container

import "fmt"

// Ref is a generation checked reference to a container cell. The zero Ref is
// reserved and always invalid. A Ref whose generation no longer matches its
// cell is stale: reads fail and refcount operations are no-ops.
type Ref struct {
	Index uint32
	Gen   uint32
}

// IsZero reports whether r is the reserved invalid reference.
func (r Ref) IsZero() bool { return r.Index == 0 }

func (r Ref) String() string {
	return fmt.Sprintf("#%d.%d", r.Index, r.Gen)
}

// Kind identifies the storage held by a cell.
type Kind uint8

const (
	KindArray Kind = iota + 1
	KindTable
	KindEntry
)

func (k Kind) String() string {
	switch k {
	case KindArray:
		return "Array"
	case KindTable:
		return "Table"
	case KindEntry:
		return "TableEntry"
	default:
		return "unknown"
	}
}

// Value is an element stored in a container: nil, float64, bool, string or
// Ref. Use Canonical to convert arbitrary host values.
type Value = any

// EventType for container lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventHeld
	EventReleased
	EventDestroyed
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventHeld:
		return "held"
	case EventReleased:
		return "released"
	case EventDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Event represents a container lifecycle event.
type Event struct {
	Ref  Ref
	Kind Kind
	Type EventType
	// Refs is the reference count after the event.
	Refs int32
}

// Observer receives notifications about container lifecycle events.
// Observers are called without arena locks held.
type Observer interface {
	OnContainerEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnContainerEvent(e Event) { f(e) }
