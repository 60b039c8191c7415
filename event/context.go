package event

import (
	"errors"
	"fmt"
)

// ErrNotCancellable is returned when cancelling a context whose event
// cannot be cancelled.
var ErrNotCancellable = errors.New("event is not cancellable")

// Context is the Go-side view of one injected call-out: the event, the
// values captured at the site and the listeners' verdict.
type Context struct {
	Event       string
	PacketIndex int
	Cancellable bool
	This        any   // captured receiver, nil when not captured
	Args        []any // captured locals in capture order

	cancelled bool
	ret       any
	hasRet    bool
}

// NewContext creates a context for ev.
func NewContext(ev *Event, this any, args ...any) *Context {
	return &Context{
		Event:       ev.Name,
		PacketIndex: ev.PacketIndex,
		Cancellable: ev.Cancellable,
		This:        this,
		Args:        args,
	}
}

// Cancel asks the injected code to leave the host method.
func (c *Context) Cancel() error {
	if !c.Cancellable {
		return fmt.Errorf("%w: %s", ErrNotCancellable, c.Event)
	}
	c.cancelled = true
	return nil
}

// IsCancelled reports whether a listener cancelled the event.
func (c *Context) IsCancelled() bool {
	return c.cancelled
}

// SetReturn cancels the event and sets the value the host method returns.
func (c *Context) SetReturn(v any) error {
	if err := c.Cancel(); err != nil {
		return err
	}
	c.ret, c.hasRet = v, true
	return nil
}

// ReturnValue returns the value set by SetReturn.
func (c *Context) ReturnValue() (any, bool) {
	return c.ret, c.hasRet
}
