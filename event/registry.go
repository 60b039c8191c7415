package event

import (
	"errors"
	"fmt"

	"github.com/chazu/modhook/diag"
)

var (
	// ErrDuplicateEvent is returned when a name is declared twice.
	ErrDuplicateEvent = errors.New("duplicate event")
	// ErrSealed is returned when declaring after the load phase.
	ErrSealed = errors.New("event registry is sealed")
	// ErrUnknownEvent is returned for lookups of undeclared names.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrNameExhausted is returned, wrapped as fatal, when every suffix of a
	// packet name is taken.
	ErrNameExhausted = errors.New("packet event name suffixes exhausted")
)

// MaxNameSuffix is the last "#n" suffix tried for a colliding packet name.
const MaxNameSuffix = 32

// Registry owns the events of one engine. It is written by the loading
// goroutine until Seal; afterwards it is only read.
type Registry struct {
	byName  map[string]*Event
	order   []*Event
	packets []*Event // by packet index
	sealed  bool
	sink    *diag.Sink
}

// NewRegistry creates an empty registry reporting to sink. A nil sink gets
// a private one.
func NewRegistry(sink *diag.Sink) *Registry {
	if sink == nil {
		sink = diag.NewSink("event")
	}
	return &Registry{byName: make(map[string]*Event), sink: sink}
}

// Declare creates a plain event.
func (r *Registry) Declare(name string, cancellable bool, priority int) (*Event, error) {
	if r.sealed {
		return nil, fmt.Errorf("%w: declare %s", ErrSealed, name)
	}
	if _, ok := r.byName[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateEvent, name)
	}
	return r.add(newEvent(name, cancellable, priority, -1)), nil
}

// MustDeclare is Declare for static event tables; it panics on error.
func (r *Registry) MustDeclare(name string, cancellable bool, priority int) *Event {
	ev, err := r.Declare(name, cancellable, priority)
	if err != nil {
		panic(err)
	}
	return ev
}

// Packet creates the event of one message type. The first request for a
// base name takes it unchanged; later ones try base#1 through base#32.
// Packet events are not cancellable.
func (r *Registry) Packet(base string) (*Event, error) {
	if r.sealed {
		return nil, fmt.Errorf("%w: packet %s", ErrSealed, base)
	}
	name := base
	for n := 1; r.byName[name] != nil; n++ {
		if n > MaxNameSuffix {
			return nil, r.sink.Fatal(base, fmt.Errorf("%w: %d events named %q", ErrNameExhausted, MaxNameSuffix+1, base))
		}
		name = fmt.Sprintf("%s#%d", base, n)
	}
	ev := r.add(newEvent(name, false, 0, len(r.packets)))
	r.packets = append(r.packets, ev)
	if name != base {
		r.sink.Debugf(base, "packet event renamed to %s", name)
	}
	return ev, nil
}

func (r *Registry) add(ev *Event) *Event {
	r.byName[ev.Name] = ev
	r.order = append(r.order, ev)
	return ev
}

// Lookup returns the event with the given name.
func (r *Registry) Lookup(name string) (*Event, bool) {
	ev, ok := r.byName[name]
	return ev, ok
}

// Resolve is Lookup with an error for unknown names.
func (r *Registry) Resolve(name string) (*Event, error) {
	if ev, ok := r.byName[name]; ok {
		return ev, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, name)
}

// ByPacketIndex returns the packet event with index i.
func (r *Registry) ByPacketIndex(i int) (*Event, bool) {
	if i < 0 || i >= len(r.packets) {
		return nil, false
	}
	return r.packets[i], true
}

// Events returns every event in declaration order.
func (r *Registry) Events() []*Event {
	return r.order
}

// Packets returns the number of packet events.
func (r *Registry) Packets() int {
	return len(r.packets)
}

// Seal ends the load phase.
func (r *Registry) Seal() {
	if r.sealed {
		return
	}
	r.sealed = true
	for _, ev := range r.order {
		if ev.State() == Declared {
			r.sink.Infof(ev.Name, "event sealed without any injected site")
		}
	}
}

// Sealed reports whether Seal was called.
func (r *Registry) Sealed() bool {
	return r.sealed
}
