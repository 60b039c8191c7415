package multicast

import (
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
)

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

type lifecycle interface {
	Start()
	Stop(code int)
	Name() string
}

type recorder struct {
	name string
	log  *[]string
}

func (r *recorder) Start()        { *r.log = append(*r.log, r.name+".start") }
func (r *recorder) Stop(code int) { *r.log = append(*r.log, r.name+".stop") }
func (r *recorder) Name() string  { return r.name }

type lifecycleFan struct {
	start func()
	stop  func(int)
}

func (f lifecycleFan) Start()        { f.start() }
func (f lifecycleFan) Stop(code int) { f.stop(code) }
func (f lifecycleFan) Name() string  { return "fan" }

func bakeLifecycle(ls []lifecycle) lifecycle {
	return lifecycleFan{
		start: Fan0(Bind(ls, func(l lifecycle) func() { return l.Start })),
		stop:  Fan1(Bind(ls, func(l lifecycle) func(int) { return l.Stop })),
	}
}

func newList(t *testing.T) *HandlerList[lifecycle] {
	t.Helper()
	h, err := New[lifecycle](bakeLifecycle)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestFanOutInOrder(t *testing.T) {
	var log []string
	h := newList(t)
	for _, n := range []string{"a", "b", "c"} {
		h.Add(&recorder{name: n, log: &log})
	}
	h.All().Start()
	want := []string{"a.start", "b.start", "c.start"}
	if !reflect.DeepEqual(log, want) {
		t.Fatalf("dispatch = %v, want %v", log, want)
	}
}

func TestAddDeduplicates(t *testing.T) {
	var log []string
	h := newList(t)
	x := &recorder{name: "x", log: &log}
	if !h.Add(x) {
		t.Fatal("first Add returned false")
	}
	if h.Add(x) {
		t.Fatal("second Add of the same listener returned true")
	}
	h.Add(&recorder{name: "y", log: &log})
	h.All().Stop(0)
	want := []string{"x.stop", "y.stop"}
	if !reflect.DeepEqual(log, want) {
		t.Fatalf("dispatch = %v, want %v", log, want)
	}
	if h.Len() != 2 {
		t.Errorf("Len = %d, want 2", h.Len())
	}
}

func TestAllCachesDispatcher(t *testing.T) {
	var log []string
	h := newList(t)
	h.Add(&recorder{name: "a", log: &log})
	h.Add(&recorder{name: "b", log: &log})

	h.All().Start()
	h.All().Start()
	if h.Bakes() != 1 {
		t.Fatalf("Bakes = %d after two All calls, want 1", h.Bakes())
	}
	if len(log) != 4 {
		t.Fatalf("dispatch log %v", log)
	}

	before := Generations()
	h.Add(&recorder{name: "c", log: &log})
	if Generations() != before+1 {
		t.Errorf("Generations = %d, want %d", Generations(), before+1)
	}
	log = nil
	h.All().Start()
	if h.Bakes() != 2 {
		t.Errorf("Bakes = %d after Add, want 2", h.Bakes())
	}
	if len(log) != 3 {
		t.Errorf("rebaked dispatch log %v", log)
	}
}

func TestDegenerateSizes(t *testing.T) {
	var log []string
	h := newList(t)
	h.All().Start()
	if len(log) != 0 {
		t.Fatalf("empty dispatcher called something: %v", log)
	}

	one := &recorder{name: "one", log: &log}
	h.Add(one)
	if got := h.All(); got != lifecycle(one) {
		t.Fatalf("single listener dispatcher = %v, want the listener itself", got)
	}
}

func TestAddBeforeFirstBakeDoesNotCountGeneration(t *testing.T) {
	var log []string
	h := newList(t)
	before := Generations()
	h.Add(&recorder{name: "a", log: &log})
	h.Add(&recorder{name: "b", log: &log})
	if Generations() != before {
		t.Errorf("Generations moved without a discarded dispatcher")
	}
}

func TestRemovalUnsupported(t *testing.T) {
	h := newList(t)
	var log []string
	r := &recorder{name: "a", log: &log}
	h.Add(r)
	for name, err := range map[string]error{
		"Remove":      h.Remove(r),
		"RemoveFirst": h.RemoveFirst(),
		"RemoveLast":  h.RemoveLast(),
	} {
		if !errors.Is(err, ErrRemovalUnsupported) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
	if h.Len() != 1 {
		t.Errorf("Len = %d after removal attempts", h.Len())
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New[int](func([]int) int { return 0 }); !errors.Is(err, ErrNotInterface) {
		t.Errorf("non-interface: err = %v", err)
	}
	if _, err := New[lifecycle](nil); !errors.Is(err, ErrNoBaker) {
		t.Errorf("nil baker: err = %v", err)
	}
	h := newList(t)
	if !reflect.DeepEqual(h.Skipped(), []string{"Name"}) {
		t.Errorf("Skipped = %v", h.Skipped())
	}
	if !strings.HasSuffix(h.Name(), "lifecycle") {
		t.Errorf("Name = %q", h.Name())
	}
}

func TestGenerationThresholdForcesCollection(t *testing.T) {
	calls := 0
	saved := collect
	collect = func() { calls++ }
	defer func() { collect = saved }()

	generations.Store(GCThreshold - 1)
	discard()
	if calls != 0 {
		t.Fatalf("collected at the threshold")
	}
	discard()
	if calls != 1 {
		t.Fatalf("collect calls = %d, want 1", calls)
	}
	if Generations() != 0 {
		t.Errorf("Generations = %d after collection, want 0", Generations())
	}
}

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) Start() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}
func (c *counter) Stop(int)     {}
func (c *counter) Name() string { return "counter" }

func TestConcurrentAddAndDispatch(t *testing.T) {
	h := newList(t)
	counters := make([]*counter, 16)
	var wg sync.WaitGroup
	for i := range counters {
		counters[i] = &counter{}
		wg.Add(2)
		go func(c *counter) {
			defer wg.Done()
			h.Add(c)
		}(counters[i])
		go func() {
			defer wg.Done()
			h.All().Start()
		}()
	}
	wg.Wait()
	if h.Len() != len(counters) {
		t.Fatalf("Len = %d, want %d", h.Len(), len(counters))
	}
	for _, c := range counters {
		c.n = 0
	}
	h.All().Start()
	for i, c := range counters {
		if c.n != 1 {
			t.Errorf("listener %d called %d times", i, c.n)
		}
	}
}

func TestFanSizes(t *testing.T) {
	for n := 0; n <= 5; n++ {
		var got []int
		fns := make([]func(int), n)
		for i := range fns {
			i := i
			fns[i] = func(x int) { got = append(got, i*10+x) }
		}
		Fan1(fns)(1)
		if len(got) != n {
			t.Fatalf("n=%d: %d calls", n, len(got))
		}
		for i, v := range got {
			if v != i*10+1 {
				t.Errorf("n=%d: call %d = %d", n, i, v)
			}
		}
	}
}

type startFunc func()

func (f startFunc) Start() { f() }

type starter interface{ Start() }

func bakeStarter(ls []starter) starter {
	return startFunc(Fan0(Bind(ls, func(l starter) func() { return l.Start })))
}

func TestSameComparesByIdentity(t *testing.T) {
	f := startFunc(func() {})
	g := startFunc(func() {})
	a, b := &recorder{name: "a"}, &recorder{name: "a"}
	m := map[string]int{}
	tests := []struct {
		name string
		x, y any
		want bool
	}{
		{"same pointer", a, a, true},
		{"equal contents", a, b, false},
		{"same func value", f, f, false},
		{"different func", f, g, false},
		{"same map", m, m, true},
		{"different map", m, map[string]int{}, false},
		{"different types", a, f, false},
		{"nil", nil, nil, true},
	}
	for _, tt := range tests {
		if got := same(tt.x, tt.y); got != tt.want {
			t.Errorf("%s: same = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestClosuresFromOneLiteralAreDistinct(t *testing.T) {
	h, err := New[starter](bakeStarter)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	hits := make([]int, 3)
	for i := range hits {
		if !h.Add(startFunc(func() { hits[i]++ })) {
			t.Errorf("Add closure %d = false, want true", i)
		}
	}
	if h.Len() != 3 {
		t.Fatalf("Len = %d, want 3", h.Len())
	}
	h.All().Start()
	for i, n := range hits {
		if n != 1 {
			t.Errorf("closure %d ran %d times, want 1", i, n)
		}
	}
}
