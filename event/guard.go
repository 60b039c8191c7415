package event

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/petermattis/goid"
)

// ---------------------------------------------------------------------------
// ThreadGuard
// ---------------------------------------------------------------------------

// ThreadViolation is the panic value raised when guarded state is touched
// from a goroutine other than the host's.
type ThreadViolation struct {
	Op     string
	Host   int64
	Caller int64
}

func (v *ThreadViolation) Error() string {
	return fmt.Sprintf("%s called from goroutine %d, host goroutine is %d", v.Op, v.Caller, v.Host)
}

// ThreadGuard remembers the host goroutine.
type ThreadGuard struct {
	host atomic.Int64
}

// Bind makes the calling goroutine the host.
func (g *ThreadGuard) Bind() {
	g.host.Store(goid.Get())
}

// Bound reports whether Bind was called.
func (g *ThreadGuard) Bound() bool {
	return g.host.Load() != 0
}

// Check panics with a *ThreadViolation unless called on the host
// goroutine. An unbound guard binds to its first caller.
func (g *ThreadGuard) Check(op string) {
	id := goid.Get()
	if g.host.CompareAndSwap(0, id) {
		return
	}
	if host := g.host.Load(); host != id {
		panic(&ThreadViolation{Op: op, Host: host, Caller: id})
	}
}

// ---------------------------------------------------------------------------
// Profiler
// ---------------------------------------------------------------------------

// Profiler times nested sections reported by the host's profiler hooks.
// It is owned by the host goroutine; every entry point checks the guard.
type Profiler struct {
	Guard *ThreadGuard

	stack  []section
	totals map[string]time.Duration
	counts map[string]int
	now    func() time.Time
}

type section struct {
	name  string
	start time.Time
}

// NewProfiler creates a profiler guarded by g.
func NewProfiler(g *ThreadGuard) *Profiler {
	return &Profiler{
		Guard:  g,
		totals: make(map[string]time.Duration),
		counts: make(map[string]int),
		now:    time.Now,
	}
}

// Start opens a section nested in the current one.
func (p *Profiler) Start(name string) {
	p.Guard.Check("profiler start " + name)
	if len(p.stack) > 0 {
		name = p.stack[len(p.stack)-1].name + "." + name
	}
	p.stack = append(p.stack, section{name: name, start: p.now()})
}

// End closes the current section.
func (p *Profiler) End() {
	p.Guard.Check("profiler end")
	if len(p.stack) == 0 {
		log.Warning("profiler end without start")
		return
	}
	s := p.stack[len(p.stack)-1]
	p.stack = p.stack[:len(p.stack)-1]
	p.totals[s.name] += p.now().Sub(s.start)
	p.counts[s.name]++
}

// Swap ends the current section and starts a sibling.
func (p *Profiler) Swap(name string) {
	p.End()
	p.Start(name)
}

// Depth returns the number of open sections.
func (p *Profiler) Depth() int {
	return len(p.stack)
}

// Total returns the accumulated time and entry count of a section path
// such as "tick.world".
func (p *Profiler) Total(path string) (time.Duration, int) {
	return p.totals[path], p.counts[path]
}

// Sections returns every section path seen so far.
func (p *Profiler) Sections() []string {
	out := make([]string, 0, len(p.totals))
	for k := range p.totals {
		out = append(out, k)
	}
	return out
}

// Listener returns a bus listener that drives the profiler from the
// "profiler.start" and "profiler.end" events: Args[0] is the section name.
func (p *Profiler) Listener() Listener {
	return ListenerFunc(func(ctx *Context) {
		switch ctx.Event {
		case ProfilerStartEvent:
			if len(ctx.Args) > 0 {
				p.Start(fmt.Sprint(ctx.Args[0]))
			}
		case ProfilerEndEvent:
			p.End()
		}
	})
}

// Profiler event names.
const (
	ProfilerStartEvent = "profiler.start"
	ProfilerEndEvent   = "profiler.end"
)
