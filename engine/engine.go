// Package engine ties the symbol table, event registry, runtime bus and
// both class transformers together. An Engine is configured during load
// (events, hooks, accessors), applied to every class the host loads, then
// sealed.
//
// Each class is transformed in isolation: a malformed class, a non-fatal
// transformer error or a panic inside the class model leaves the original
// bytes in place and the next class is processed normally. Fatal errors
// (unsafe rewrites, exhausted names, required hooks that found nothing)
// are returned to the caller, which is expected to abort loading.
package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tliron/commonlog"

	"github.com/chazu/modhook/accessor"
	"github.com/chazu/modhook/classfile"
	"github.com/chazu/modhook/diag"
	"github.com/chazu/modhook/event"
	"github.com/chazu/modhook/inject"
	"github.com/chazu/modhook/point"
	"github.com/chazu/modhook/symbol"
)

var log = commonlog.GetLogger("modhook.engine")

// ErrSealed is returned when configuring an engine after Seal.
var ErrSealed = errors.New("engine is sealed")

// Options configures New. Zero values are usable.
type Options struct {
	Project string
	Profile symbol.Profile
	Table   *symbol.Table
	Layout  inject.Layout
	Sink    *diag.Sink
	// Registerer receives the engine metrics. Nil keeps them unregistered.
	Registerer prometheus.Registerer
}

// Engine is the per-process transformation context.
type Engine struct {
	id      uuid.UUID
	project string
	profile symbol.Profile

	table     *symbol.Table
	registry  *event.Registry
	bus       *event.Bus
	injector  *inject.Transformer
	accessors *accessor.Transformer
	sink      *diag.Sink
	metrics   *Metrics

	classes     []ClassReport
	transformed int
	sealed      bool
}

// New creates an engine.
func New(opts Options) (*Engine, error) {
	if opts.Table == nil {
		opts.Table = symbol.NewTable()
	}
	if opts.Sink == nil {
		opts.Sink = diag.NewSink("engine")
	}
	reg := event.NewRegistry(opts.Sink)
	e := &Engine{
		id:        uuid.New(),
		project:   opts.Project,
		profile:   opts.Profile,
		table:     opts.Table,
		registry:  reg,
		bus:       event.NewBus(reg),
		injector:  inject.NewTransformer(opts.Table, opts.Layout, opts.Sink),
		accessors: accessor.NewTransformer(opts.Table, opts.Sink),
		sink:      opts.Sink,
		metrics:   NewMetrics(opts.Registerer),
	}
	if err := e.metrics.Register(); err != nil {
		return nil, fmt.Errorf("engine metrics: %w", err)
	}
	log.Debugf("engine %s created (profile %s)", e.id, e.profile)
	return e, nil
}

// ID returns the session id stamped on reports.
func (e *Engine) ID() uuid.UUID { return e.id }

func (e *Engine) Table() *symbol.Table { return e.table }
func (e *Engine) Registry() *event.Registry { return e.registry }
func (e *Engine) Bus() *event.Bus { return e.bus }
func (e *Engine) Sink() *diag.Sink { return e.sink }
func (e *Engine) Injector() *inject.Transformer { return e.injector }
func (e *Engine) Accessors() *accessor.Transformer { return e.accessors }
func (e *Engine) Metrics() *Metrics { return e.metrics }
func (e *Engine) Profile() symbol.Profile { return e.profile }
func (e *Engine) Layout() inject.Layout { return e.injector.Layout() }

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Declare declares a plain event.
func (e *Engine) Declare(name string, cancellable bool, priority int) (*event.Event, error) {
	if e.sealed {
		return nil, fmt.Errorf("%w: declare %s", ErrSealed, name)
	}
	return e.registry.Declare(name, cancellable, priority)
}

// Bridge routes the event's call-outs to the runtime bus.
func (e *Engine) Bridge(name string) error {
	ev, err := e.registry.Resolve(name)
	if err != nil {
		return err
	}
	ev.AddListener(e.injector.Layout().Bridge())
	return nil
}

// HookSpec declares one hook. Class is a class symbol key and Method a
// method name inside it; names missing from the table are used verbatim.
type HookSpec struct {
	Event  string
	Class  string
	Method string
	Desc   string // logical descriptor; empty matches any overload
	Point  point.Strategy

	CaptureThis bool
	Locals      []inject.Capture

	// PacketFromLocal makes the call-out read the packet index from the
	// int local PacketLocal.
	PacketFromLocal bool
	PacketLocal     int
	Required        bool
}

// Hook adds a hook.
func (e *Engine) Hook(spec HookSpec) (*inject.Hook, error) {
	if e.sealed {
		return nil, fmt.Errorf("%w: hook %s", ErrSealed, spec.Event)
	}
	ev, err := e.registry.Resolve(spec.Event)
	if err != nil {
		return nil, err
	}
	owner, err := e.classSymbol(spec.Class)
	if err != nil {
		return nil, err
	}
	method, err := e.memberSymbol(owner, spec.Method, symbol.Method, spec.Desc)
	if err != nil {
		return nil, err
	}
	strategy := spec.Point
	if strategy == nil {
		strategy = point.MethodHead{}
	}
	h := e.injector.AddEvent(ev, inject.Target{
		Class:       owner,
		Method:      method,
		Desc:        spec.Desc,
		CaptureThis: spec.CaptureThis,
		Locals:      spec.Locals,
	}, strategy)
	if spec.PacketFromLocal {
		h.PacketFrom(spec.PacketLocal)
	}
	if spec.Required {
		h.Require()
	}
	return h, nil
}

// AddAccessor registers an accessor interface. Duplicates are ignored.
func (e *Engine) AddAccessor(i *accessor.Interface) bool {
	return e.accessors.AddAccessor(i)
}

// LoadAccessor parses an annotated accessor interface class and registers
// it.
func (e *Engine) LoadAccessor(data []byte) (*accessor.Interface, error) {
	i, err := accessor.ParseInterface(data, e.table)
	if err != nil {
		return nil, err
	}
	if !e.accessors.AddAccessor(i) {
		e.sink.Debugf(i.Name, "accessor interface already registered")
	}
	return i, nil
}

// classSymbol resolves a class key, registering the key itself as the only
// spelling when the table does not know it. An empty key is fatal.
func (e *Engine) classSymbol(key string) (*symbol.Symbol, error) {
	if s, ok := e.table.Lookup(key); ok {
		return s, nil
	}
	s, err := e.table.Register(key, symbol.Class, key)
	if err != nil {
		return nil, e.sink.Fatal(key, fmt.Errorf("class %q: %w", key, err))
	}
	e.sink.Debugf(key, "class not in symbol table, matched verbatim")
	return s, nil
}

func (e *Engine) memberSymbol(owner *symbol.Symbol, name string, kind symbol.Kind, desc string) (*symbol.Symbol, error) {
	key := symbol.MemberKey(owner.Logical, name)
	if s, ok := e.table.Lookup(key); ok {
		return s, nil
	}
	s, err := e.table.RegisterMember(owner, name, kind, desc, name)
	if err != nil {
		return nil, e.sink.Fatal(key, fmt.Errorf("%s %q: %w", kind, key, err))
	}
	e.sink.Debugf(key, "%s not in symbol table, matched verbatim", kind)
	return s, nil
}

// memberRef resolves "Owner.name" keys.
func (e *Engine) memberRef(key string, kind symbol.Kind) (*symbol.Symbol, error) {
	if s, ok := e.table.Lookup(key); ok {
		return s, nil
	}
	i := strings.LastIndexByte(key, '.')
	if i <= 0 || i == len(key)-1 {
		return nil, fmt.Errorf("%w: %s is not an Owner.name key", symbol.ErrUnknownSymbol, key)
	}
	owner, err := e.classSymbol(key[:i])
	if err != nil {
		return nil, err
	}
	return e.memberSymbol(owner, key[i+1:], kind, "")
}

// ---------------------------------------------------------------------------
// Transformation
// ---------------------------------------------------------------------------

// Result of transforming one class.
const (
	ResultUnchanged   = "unchanged"
	ResultTransformed = "transformed"
	ResultFailed      = "failed"
)

// Targets reports whether any hook or accessor applies to the class.
func (e *Engine) Targets(name string) bool {
	name = internalName(name)
	return e.injector.Targets(name) || e.accessors.Targets(name)
}

// Transform rewrites one class. name is the internal or binary class name,
// optionally with a .class suffix. The original bytes are returned when
// nothing applies or a non-fatal failure occurred; only fatal errors are
// returned.
func (e *Engine) Transform(name string, data []byte) (out []byte, err error) {
	name = internalName(name)
	if !e.Targets(name) {
		return data, nil
	}
	rep := ClassReport{Name: name, Result: ResultUnchanged}
	defer func() {
		if r := recover(); r != nil {
			if tv, ok := r.(*event.ThreadViolation); ok {
				panic(tv)
			}
			e.sink.Errorf(name, "class model panic: %v", r)
			rep.Result, rep.Error = ResultFailed, fmt.Sprint(r)
			out, err = data, nil
		}
		e.record(rep)
	}()

	cls, perr := classfile.Parse(data)
	if perr != nil {
		e.sink.Errorf(name, "cannot parse: %v", perr)
		rep.Result, rep.Error = ResultFailed, perr.Error()
		return data, nil
	}

	before := e.callouts()
	changed, aerr := e.accessors.Apply(cls)
	if aerr != nil {
		return e.fail(&rep, data, aerr)
	}
	rep.Accessors = changed
	injected, ierr := e.injector.Transform(cls)
	e.countSkipped(cls.Name)
	if ierr != nil {
		return e.fail(&rep, data, ierr)
	}
	rep.Callouts = e.callouts() - before
	if !changed && !injected {
		return data, nil
	}

	out, berr := cls.Bytes()
	if berr != nil {
		return e.fail(&rep, data, berr)
	}
	e.metrics.callouts.Add(float64(rep.Callouts))
	rep.Result = ResultTransformed
	return out, nil
}

func (e *Engine) fail(rep *ClassReport, data []byte, err error) ([]byte, error) {
	rep.Result, rep.Error = ResultFailed, err.Error()
	if diag.IsFatal(err) {
		e.metrics.fatal.Inc()
		return data, err
	}
	e.sink.Errorf(rep.Name, "%v, class left unchanged", err)
	return data, nil
}

func (e *Engine) record(rep ClassReport) {
	e.metrics.classes.WithLabelValues(rep.Result).Inc()
	e.classes = append(e.classes, rep)
	if rep.Result == ResultTransformed {
		e.transformed++
	}
}

// callouts sums the call-outs emitted by every hook.
func (e *Engine) callouts() int {
	n := 0
	for _, h := range e.injector.Hooks() {
		n += h.Sites()
	}
	return n
}

func (e *Engine) countSkipped(name string) {
	for _, h := range e.injector.Hooks() {
		if h.Target.Class.Matches(name) && h.Skipped() != "" {
			e.metrics.skipped.Inc()
		}
	}
}

// Seal ends the load phase. Later configuration calls fail.
func (e *Engine) Seal() {
	if e.sealed {
		return
	}
	e.sealed = true
	e.registry.Seal()
	log.Infof("engine %s sealed: %d classes, %d events", e.id, len(e.classes), len(e.registry.Events()))
}

// Sealed reports whether Seal was called.
func (e *Engine) Sealed() bool { return e.sealed }

// internalName turns "a.b.C" or "a/b/C.class" into "a/b/C".
func internalName(name string) string {
	name = strings.TrimSuffix(name, ".class")
	return strings.ReplaceAll(name, ".", "/")
}
