// Package event holds named hook points and the Go-side runtime that
// dispatches them.
//
// Events are declared in a Registry during the load phase, referenced by
// the injection transformer, and sealed before the host starts. At run
// time injected call-outs reach a Bus, which fans out to listeners through
// multicast handler lists selected by event name or packet index.
package event

import (
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("modhook.event")

// State is the lifecycle of an event.
type State int32

const (
	Declared State = iota
	Injected       // at least one call-out was emitted
	Active         // dispatched at run time
)

func (s State) String() string {
	switch s {
	case Declared:
		return "declared"
	case Injected:
		return "injected"
	case Active:
		return "active"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// CallbackRef names a static JVM method called by injected code. Owner is
// an internal class name; Desc must take the context object first.
type CallbackRef struct {
	Owner    string
	Name     string
	Desc     string
	Priority int
}

func (c CallbackRef) String() string {
	return c.Owner + "." + c.Name + c.Desc
}

// ---------------------------------------------------------------------------
// Event
// ---------------------------------------------------------------------------

// Event is a named hook point. Its callback list is fixed once the event
// is injected; listeners added later are kept as late and never emitted.
type Event struct {
	Name        string
	Cancellable bool
	Priority    int
	PacketIndex int // -1 for plain events

	callbacks []CallbackRef
	late      []CallbackRef
	state     atomic.Int32
}

func newEvent(name string, cancellable bool, priority, packet int) *Event {
	return &Event{Name: name, Cancellable: cancellable, Priority: priority, PacketIndex: packet}
}

// IsPacket reports whether the event carries a packet index.
func (e *Event) IsPacket() bool {
	return e.PacketIndex >= 0
}

// AddListener appends a callback and returns e.
func (e *Event) AddListener(cb CallbackRef) *Event {
	if e.State() != Declared {
		log.Warningf("event %s: listener %s added after injection has no effect on emitted sites", e.Name, cb)
		e.late = append(e.late, cb)
		return e
	}
	e.callbacks = append(e.callbacks, cb)
	return e
}

// Callbacks returns the callbacks in call order: ascending priority,
// registration order for equal priorities.
func (e *Event) Callbacks() []CallbackRef {
	out := slices.Clone(e.callbacks)
	slices.SortStableFunc(out, func(a, b CallbackRef) int { return a.Priority - b.Priority })
	return out
}

// Late returns the listeners added after the event was injected.
func (e *Event) Late() []CallbackRef {
	return e.late
}

// State returns the lifecycle state.
func (e *Event) State() State {
	return State(e.state.Load())
}

// MarkInjected moves a declared event to Injected. It reports whether the
// state changed.
func (e *Event) MarkInjected() bool {
	return e.state.CompareAndSwap(int32(Declared), int32(Injected))
}

// markActive moves an event to Active on its first dispatch.
func (e *Event) markActive() {
	if e.State() == Active {
		return
	}
	if e.state.CompareAndSwap(int32(Injected), int32(Active)) || e.state.CompareAndSwap(int32(Declared), int32(Active)) {
		log.Debugf("event %s active", e.Name)
	}
}

func (e *Event) String() string {
	if e.IsPacket() {
		return fmt.Sprintf("%s (packet %d, %s)", e.Name, e.PacketIndex, e.State())
	}
	return fmt.Sprintf("%s (%s)", e.Name, e.State())
}
