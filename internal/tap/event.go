// Package tap is the interception service: it owns the system input hook and
// threads every qualifying event through an ordered chain of handlers.
package tap

import (
	"fmt"
	"time"

	"mousebrainz/internal/input"
)

// EventType discriminates the events a hook delivers.
type EventType uint8

const (
	// EventOther is any event the hook saw but does not interpret.
	EventOther EventType = iota
	EventButtonDown
	EventScroll
	// EventTapDisabledByTimeout is delivered when the OS disabled the hook
	// because the delivery path fell behind.
	EventTapDisabledByTimeout
	// EventTapDisabledByUserInput is delivered when the hook was disabled by a
	// user or security action.
	EventTapDisabledByUserInput
)

func (t EventType) String() string {
	switch t {
	case EventButtonDown:
		return "button_down"
	case EventScroll:
		return "scroll"
	case EventTapDisabledByTimeout:
		return "tap_disabled_timeout"
	case EventTapDisabledByUserInput:
		return "tap_disabled_user_input"
	default:
		return "other"
	}
}

// Disabled reports whether the event is a hook-disabled notification.
func (t EventType) Disabled() bool {
	return t == EventTapDisabledByTimeout || t == EventTapDisabledByUserInput
}

// Event is one delivered input event. Handlers receive it by value and may
// return a modified copy.
type Event struct {
	Type EventType

	// Button is the OS button index for EventButtonDown.
	Button int

	// DeltaY (axis 1, vertical) and DeltaX (axis 2, horizontal) for EventScroll.
	DeltaY float64
	DeltaX float64

	// Modifiers held when the event was captured.
	Modifiers input.Modifiers

	// UserData is the source identifier. Engine-generated events carry the
	// synthetic marker here.
	UserData int64

	// Device names the node the event came from, if known.
	Device string
	At     time.Time
}

func (e Event) String() string {
	switch e.Type {
	case EventButtonDown:
		return fmt.Sprintf("button_down(%d, %s)", e.Button, e.Modifiers)
	case EventScroll:
		return fmt.Sprintf("scroll(dy=%g, dx=%g, %s)", e.DeltaY, e.DeltaX, e.Modifiers)
	default:
		return e.Type.String()
	}
}

// Result is what a handler decides about an event: continue the chain with a
// (possibly modified) event, or consume it.
type Result struct {
	consumed bool
	ev       Event
}

// Continue passes ev on to the next handler.
func Continue(ev Event) Result { return Result{ev: ev} }

// Consume stops the chain and withholds the event from the OS.
func Consume() Result { return Result{consumed: true} }

func (r Result) Consumed() bool { return r.consumed }

// Event returns the continuing event. It is the zero Event when consumed.
func (r Result) Event() Event { return r.ev }

// Handler processes one event. Handle runs on the delivery path and must not
// block.
type Handler interface {
	Handle(ev Event) Result
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(Event) Result

func (f HandlerFunc) Handle(ev Event) Result { return f(ev) }

// Detacher is implemented by handlers that hold resources (timers, goroutines)
// which must be released when they leave the chain.
type Detacher interface {
	Detach()
}
