package inject

import (
	"fmt"
	"strings"

	"github.com/chazu/modhook/classfile"
	"github.com/chazu/modhook/event"
	"github.com/chazu/modhook/point"
	"github.com/chazu/modhook/symbol"
)

// Capture is a local variable copied into the call-out.
type Capture struct {
	Slot int
	Desc string // physical field descriptor of the local
}

// Target identifies the method a hook rewrites.
type Target struct {
	Class  *symbol.Symbol
	Method *symbol.Symbol
	Desc   string // logical method descriptor; empty matches any overload

	CaptureThis bool
	Locals      []Capture
}

func (t Target) String() string {
	name := "?"
	if t.Method != nil {
		name = t.Method.Logical
	}
	owner := "?"
	if t.Class != nil {
		owner = t.Class.Logical
	}
	return owner + "." + name + t.Desc
}

// Hook is one event injected into one target method.
type Hook struct {
	Event    *event.Event
	Target   Target
	Strategy point.Strategy

	// PacketIndexLocal, when not negative, is an int local holding the
	// packet index at the site. Otherwise packet events pass their own
	// index as a constant.
	PacketIndexLocal int
	// Required hooks abort loading when their method or sites are missing.
	Required bool

	sites   int
	skipped string
}

// Capture adds a captured local and returns h.
func (h *Hook) Capture(slot int, desc string) *Hook {
	h.Target.Locals = append(h.Target.Locals, Capture{Slot: slot, Desc: desc})
	return h
}

// CaptureThis passes the receiver to callbacks and returns h.
func (h *Hook) CaptureThis() *Hook {
	h.Target.CaptureThis = true
	return h
}

// PacketFrom reads the packet index from an int local and returns h.
func (h *Hook) PacketFrom(slot int) *Hook {
	h.PacketIndexLocal = slot
	return h
}

// Require makes a missing method or site fatal and returns h.
func (h *Hook) Require() *Hook {
	h.Required = true
	return h
}

// Sites returns the number of call-outs emitted so far.
func (h *Hook) Sites() int {
	return h.sites
}

// Skipped returns why the hook was last skipped, or "".
func (h *Hook) Skipped() string {
	return h.skipped
}

func (h *Hook) String() string {
	return fmt.Sprintf("%s @ %s %s", h.Event.Name, h.Target, h.Strategy)
}

// markerKey identifies an emitted hook inside a class.
func markerKey(m *classfile.Method, ev *event.Event) string {
	return m.Name + m.Desc + " " + ev.Name
}

// fullDesc is the callback descriptor taking the context and every
// captured value.
func (h *Hook) fullDesc(l Layout, owner string) string {
	var b strings.Builder
	b.WriteString("(")
	b.WriteString(l.ContextDesc())
	if h.Target.CaptureThis {
		b.WriteString(classfile.ObjectDesc(owner))
	}
	for _, c := range h.Target.Locals {
		b.WriteString(c.Desc)
	}
	b.WriteString(")V")
	return b.String()
}

func (h *Hook) captures() bool {
	return h.Target.CaptureThis || len(h.Target.Locals) > 0
}
