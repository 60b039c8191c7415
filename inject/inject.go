// Package inject rewrites host methods so that chosen instructions are
// preceded by a call-out: build an event context, call the event's
// callbacks, and leave the method when a cancellable event was cancelled.
//
// A Transformer holds hooks (event, target method, injection point) and is
// applied to one class at a time by the loading goroutine.
package inject

import (
	"errors"
	"fmt"
	"slices"

	"github.com/chazu/modhook/classfile"
	"github.com/chazu/modhook/diag"
	"github.com/chazu/modhook/event"
	"github.com/chazu/modhook/point"
	"github.com/chazu/modhook/symbol"
)

// MarkerAttr is the class attribute listing the hooks already emitted into
// a class, one "name+desc event" key per entry.
const MarkerAttr = "ModhookInjected"

var (
	// ErrUnsafeRewrite is wrapped, as a fatal error, when a located site
	// cannot be rewritten safely.
	ErrUnsafeRewrite = errors.New("unsafe rewrite")
	// ErrHookMissing is wrapped, as a fatal error, when a required hook
	// finds no method or no site.
	ErrHookMissing = errors.New("required hook not found")
)

// Transformer injects event call-outs.
type Transformer struct {
	table  *symbol.Table
	layout Layout
	sink   *diag.Sink
	hooks  []*Hook
}

// NewTransformer creates a transformer resolving names through table. A
// nil sink gets a private one.
func NewTransformer(table *symbol.Table, layout Layout, sink *diag.Sink) *Transformer {
	if table == nil {
		table = symbol.NewTable()
	}
	if sink == nil {
		sink = diag.NewSink("inject")
	}
	return &Transformer{table: table, layout: layout.withDefaults(), sink: sink}
}

// Layout returns the runtime layout in use.
func (t *Transformer) Layout() Layout {
	return t.layout
}

// AddEvent registers a hook of ev into the target method at the sites
// strategy finds.
func (t *Transformer) AddEvent(ev *event.Event, target Target, strategy point.Strategy) *Hook {
	h := &Hook{Event: ev, Target: target, Strategy: strategy, PacketIndexLocal: -1}
	t.hooks = append(t.hooks, h)
	return h
}

// Hooks returns every hook in registration order.
func (t *Transformer) Hooks() []*Hook {
	return t.hooks
}

// Targets reports whether any hook targets the physical class name.
func (t *Transformer) Targets(name string) bool {
	for _, h := range t.hooks {
		if h.Target.Class.Matches(name) {
			return true
		}
	}
	return false
}

// Transform applies every hook targeting cls. Missing methods and sites
// are reported and skipped unless the hook is required; unsafe rewrites
// return a fatal error. Hooks already recorded in the class marker are
// silently skipped.
func (t *Transformer) Transform(cls *classfile.Class) (bool, error) {
	var hooks []*Hook
	for _, h := range t.hooks {
		if h.Target.Class.Matches(cls.Name) {
			hooks = append(hooks, h)
		}
	}
	if len(hooks) == 0 {
		return false, nil
	}
	slices.SortStableFunc(hooks, func(a, b *Hook) int { return a.Event.Priority - b.Event.Priority })

	markers, err := cls.Strings(MarkerAttr)
	if err != nil {
		return false, fmt.Errorf("%s: %w", cls.Name, err)
	}
	done := make(map[string]bool, len(markers))
	for _, k := range markers {
		done[k] = true
	}

	ctxSlots := make(map[*classfile.Method]int)
	// last call-out behind each after-site instruction, so later hooks
	// follow earlier ones
	tails := make(map[*classfile.Insn]*classfile.Insn)
	changed := false
	for _, h := range hooks {
		h.skipped = ""
		m := t.findMethod(cls, h.Target)
		if m == nil || m.Code == nil {
			if err := t.missing(h, "method %s not found in %s", h.Target, cls.Name); err != nil {
				return changed, err
			}
			continue
		}
		key := markerKey(m, h.Event)
		if done[key] {
			t.sink.Debugf(h.Event.Name, "%s.%s already injected", cls.Name, m.Key())
			continue
		}
		sites, ok := point.Locate(h.Strategy, m)
		if !ok {
			if err := t.missing(h, "no %s site in %s.%s", h.Strategy, cls.Name, m.Key()); err != nil {
				return changed, err
			}
			continue
		}
		heights, err := t.check(cls, m, h, sites)
		if err != nil {
			return changed, err
		}

		slot, ok := ctxSlots[m]
		if !ok {
			slot = m.Code.MaxLocals
			m.Code.MaxLocals++
			ctxSlots[m] = slot
		}
		for i, s := range sites {
			seq, depth := t.callout(m, h, slot)
			if s.After {
				at := s.Insn
				if tail, ok := tails[s.Insn]; ok {
					at = tail
				}
				err = m.Code.InsertAfter(at, seq...)
				tails[s.Insn] = seq[len(seq)-1]
			} else {
				err = m.Code.InsertBefore(s.Insn, seq...)
			}
			if err != nil {
				return changed, t.sink.Fatal(h.Event.Name, fmt.Errorf("%w: %s: %v", ErrUnsafeRewrite, s, err))
			}
			if need := heights[i] + depth; need > m.Code.MaxStack {
				m.Code.MaxStack = need
			}
		}
		h.sites += len(sites)
		if h.Event.MarkInjected() {
			t.sink.Debugf(h.Event.Name, "injected")
		}
		t.sink.Infof(h.Event.Name, "%d call-out(s) in %s.%s", len(sites), cls.Name, m.Key())
		done[key] = true
		markers = append(markers, key)
		changed = true
	}
	if changed {
		cls.SetAttr(MarkerAttr, classfile.EncodeStrings(cls.Pool, markers))
	}
	return changed, nil
}

func (t *Transformer) findMethod(cls *classfile.Class, target Target) *classfile.Method {
	for _, m := range cls.Methods {
		if target.Method.Matches(m.Name) && t.table.DescMatches(target.Desc, m.Desc) {
			return m
		}
	}
	return nil
}

func (t *Transformer) missing(h *Hook, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	h.skipped = msg
	if h.Required {
		return t.sink.Fatal(h.Event.Name, fmt.Errorf("%w: %s", ErrHookMissing, msg))
	}
	t.sink.Warningf(h.Event.Name, "%s, hook skipped", msg)
	return nil
}

// check rejects rewrites that would produce an invalid method and returns
// the stack height in front of every site.
func (t *Transformer) check(cls *classfile.Class, m *classfile.Method, h *Hook, sites []point.Site) ([]int, error) {
	unsafe := func(format string, args ...any) error {
		msg := fmt.Sprintf(format, args...)
		return t.sink.Fatal(h.Event.Name, fmt.Errorf("%w: %s.%s: %s", ErrUnsafeRewrite, cls.Name, m.Key(), msg))
	}

	if cls.Major > classfile.FramesFreeMajor {
		return nil, unsafe("class version %d requires stack map frames", cls.Major)
	}
	if h.Target.CaptureThis && m.IsStatic() {
		return nil, unsafe("cannot capture this in a static method")
	}
	if m.Name == "<init>" && (h.Target.CaptureThis || h.Event.Cancellable) {
		// neither this nor an early return is legal before super() or this()
		ready := superInit(cls, m)
		for _, s := range sites {
			if ready >= 0 && s.Pos() > ready {
				continue
			}
			if h.Target.CaptureThis {
				return nil, unsafe("site %s captures uninitialized this", s)
			}
			return nil, unsafe("site %s may return before this is initialized", s)
		}
	}
	for _, c := range h.Target.Locals {
		if c.Slot < 0 || c.Slot+classfile.TypeSize(c.Desc) > m.Code.MaxLocals {
			return nil, unsafe("captured local %d:%s outside max locals %d", c.Slot, c.Desc, m.Code.MaxLocals)
		}
	}
	if h.PacketIndexLocal >= m.Code.MaxLocals {
		return nil, unsafe("packet index local %d outside max locals %d", h.PacketIndexLocal, m.Code.MaxLocals)
	}
	full := h.fullDesc(t.layout, cls.Name)
	short := "(" + t.layout.ContextDesc() + ")V"
	for _, cb := range h.Event.Callbacks() {
		if cb.Desc != short && !compatible(cb.Desc, full) {
			return nil, unsafe("callback %s does not accept %s", cb, full)
		}
	}

	heights, err := classfile.Analyze(m)
	if err != nil {
		return nil, unsafe("stack analysis: %v", err)
	}
	out := make([]int, len(sites))
	for i, s := range sites {
		height, ok := heights.At(s.Pos())
		if !ok {
			return nil, unsafe("no stack height at unreachable site %s", s)
		}
		out[i] = height
	}
	return out, nil
}

// superInit returns the index of the constructor call that initializes
// this, or -1.
func superInit(cls *classfile.Class, m *classfile.Method) int {
	for i, in := range m.Code.Insns {
		if in.Op == classfile.OpInvokespecial && in.Name == "<init>" && (in.Owner == cls.Super || in.Owner == cls.Name) {
			return i
		}
	}
	return -1
}

// compatible reports whether a callback descriptor accepts the arguments
// of want: same count, same computational types, void return.
func compatible(have, want string) bool {
	if have == want {
		return true
	}
	h, err := classfile.ParseMethodDesc(have)
	if err != nil || h.Return != "V" {
		return false
	}
	w, err := classfile.ParseMethodDesc(want)
	if err != nil || len(h.Args) != len(w.Args) || len(h.Args) == 0 || h.Args[0] != w.Args[0] {
		return false
	}
	for i := range h.Args {
		if classfile.LoadOp(h.Args[i]) != classfile.LoadOp(w.Args[i]) {
			return false
		}
	}
	return true
}
