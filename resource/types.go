package resource

import "github.com/wippyai/dynffi/value"

// Handle is the address native code sees for a pointer-obj value.
// Handle 0 is reserved and is the null pointer.
type Handle uint32

// Event types for object lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventDropped
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventDropped:
		return "dropped"
	}
	return "unknown"
}

// Event represents an object lifecycle event.
type Event struct {
	Value  *value.Value
	Handle Handle
	Type   EventType
}

// Observer receives notifications about object lifecycle events.
type Observer interface {
	OnObjectEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// OnObjectEvent calls f(e).
func (f ObserverFunc) OnObjectEvent(e Event) {
	f(e)
}
