package event

import (
	"fmt"

	"github.com/chazu/modhook/multicast"
	"github.com/sasha-s/go-deadlock"
)

// ---------------------------------------------------------------------------
// Listeners
// ---------------------------------------------------------------------------

// Listener receives dispatched contexts.
type Listener interface {
	Handle(ctx *Context)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx *Context)

func (f ListenerFunc) Handle(ctx *Context) { f(ctx) }

func bakeListeners(ls []Listener) Listener {
	return ListenerFunc(multicast.Fan1(multicast.Bind(ls, func(l Listener) func(*Context) { return l.Handle })))
}

// ---------------------------------------------------------------------------
// Bus
// ---------------------------------------------------------------------------

// Bus is the run-time side of the registry: it maps events to handler
// lists. Listening may happen on any goroutine at any time.
type Bus struct {
	reg *Registry

	mu       deadlock.RWMutex
	byName   map[string]*multicast.HandlerList[Listener]
	byPacket []*multicast.HandlerList[Listener]
}

// NewBus creates a bus over reg.
func NewBus(reg *Registry) *Bus {
	return &Bus{reg: reg, byName: make(map[string]*multicast.HandlerList[Listener])}
}

// Registry returns the registry the bus dispatches for.
func (b *Bus) Registry() *Registry {
	return b.reg
}

// Listen registers l for the named event. Registering the same listener
// twice has no effect; function listeners are always added.
func (b *Bus) Listen(name string, l Listener) error {
	ev, err := b.reg.Resolve(name)
	if err != nil {
		return err
	}
	b.list(ev, true).Add(l)
	return nil
}

// ListenFunc is Listen for a plain function. Every call adds a new
// listener.
func (b *Bus) ListenFunc(name string, fn func(*Context)) error {
	return b.Listen(name, &funcListener{fn: fn})
}

type funcListener struct{ fn func(*Context) }

func (f *funcListener) Handle(ctx *Context) { f.fn(ctx) }

// list returns the handler list of ev, creating it when create is set.
func (b *Bus) list(ev *Event, create bool) *multicast.HandlerList[Listener] {
	b.mu.RLock()
	h := b.lookup(ev)
	b.mu.RUnlock()
	if h != nil || !create {
		return h
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if h := b.lookup(ev); h != nil {
		return h
	}
	h = multicast.MustNew[Listener](bakeListeners)
	if ev.IsPacket() {
		for len(b.byPacket) <= ev.PacketIndex {
			b.byPacket = append(b.byPacket, nil)
		}
		b.byPacket[ev.PacketIndex] = h
	} else {
		b.byName[ev.Name] = h
	}
	return h
}

func (b *Bus) lookup(ev *Event) *multicast.HandlerList[Listener] {
	if ev.IsPacket() {
		if ev.PacketIndex < len(b.byPacket) {
			return b.byPacket[ev.PacketIndex]
		}
		return nil
	}
	return b.byName[ev.Name]
}

// Dispatch delivers ctx to the listeners of its event. Contexts with a
// packet index are routed by index, others by name.
func (b *Bus) Dispatch(ctx *Context) error {
	var ev *Event
	if ctx.PacketIndex >= 0 {
		var ok bool
		if ev, ok = b.reg.ByPacketIndex(ctx.PacketIndex); !ok {
			return fmt.Errorf("%w: packet index %d", ErrUnknownEvent, ctx.PacketIndex)
		}
	} else {
		var err error
		if ev, err = b.reg.Resolve(ctx.Event); err != nil {
			return err
		}
	}
	ev.markActive()
	if h := b.list(ev, false); h != nil {
		h.All().Handle(ctx)
	}
	return nil
}

// Fire builds a context for the named event and dispatches it.
func (b *Bus) Fire(name string, this any, args ...any) (*Context, error) {
	ev, err := b.reg.Resolve(name)
	if err != nil {
		return nil, err
	}
	ctx := NewContext(ev, this, args...)
	return ctx, b.Dispatch(ctx)
}

// Listeners returns the number of listeners of the named event.
func (b *Bus) Listeners(name string) int {
	ev, ok := b.reg.Lookup(name)
	if !ok {
		return 0
	}
	if h := b.list(ev, false); h != nil {
		return h.Len()
	}
	return 0
}

// Bakes returns the dispatchers built across all events.
func (b *Bus) Bakes() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var n int64
	for _, h := range b.byName {
		n += h.Bakes()
	}
	for _, h := range b.byPacket {
		if h != nil {
			n += h.Bakes()
		}
	}
	return n
}
