// Package multicast implements handler lists: ordered, de-duplicating
// listener collections that fan one call out to every listener through a
// dispatcher baked for the current listener count.
//
// A dispatcher is built by a caller-supplied Baker, usually a closure over
// a table of method values obtained with Bind. It is cached until the next
// Add and read without locking while it is valid.
package multicast

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sync/atomic"

	"github.com/sasha-s/go-deadlock"
	"github.com/tliron/commonlog"
)

var (
	// ErrRemovalUnsupported is returned by every removal operation. Lists
	// only grow.
	ErrRemovalUnsupported = errors.New("handler list does not support removal")
	// ErrNotInterface is returned when the capability type is not an
	// interface.
	ErrNotInterface = errors.New("capability type is not an interface")
	// ErrNoBaker is returned when New gets a nil Baker.
	ErrNoBaker = errors.New("no baker")
)

// GCThreshold is the number of discarded dispatchers after which a full
// collection is forced.
const GCThreshold = 5000

var log = commonlog.GetLogger("modhook.multicast")

// Baker builds a dispatcher of capability type T that calls every listener
// in order. With a nil slice it must return a no-op dispatcher. It is only
// called with zero or at least two listeners; a single listener is used
// directly.
type Baker[T any] func(listeners []T) T

// ---------------------------------------------------------------------------
// Generations
// ---------------------------------------------------------------------------

var (
	generations atomic.Int64
	totalBakes  atomic.Int64

	// collect is swapped out by tests.
	collect = runtime.GC
)

// Generations returns the number of dispatchers discarded since the last
// forced collection.
func Generations() int64 {
	return generations.Load()
}

// TotalBakes returns the number of dispatchers built by all lists.
func TotalBakes() int64 {
	return totalBakes.Load()
}

func discard() {
	if generations.Add(1) <= GCThreshold {
		return
	}
	generations.Store(0)
	log.Debugf("%d dispatcher generations discarded, forcing collection", GCThreshold)
	collect()
}

// ---------------------------------------------------------------------------
// HandlerList
// ---------------------------------------------------------------------------

type dispatcher[T any] struct {
	fn T
}

// HandlerList holds the listeners of one capability type.
type HandlerList[T any] struct {
	mu        deadlock.Mutex
	listeners []T
	baked     atomic.Pointer[dispatcher[T]] // nil whenever listeners changed since the last bake
	bake      Baker[T]
	bakes     atomic.Int64
	skipped   []string
	name      string
}

// New creates an empty list. Methods of T that return values cannot be
// multicast; their names are recorded and reported by Skipped.
func New[T any](bake Baker[T]) (*HandlerList[T], error) {
	typ := reflect.TypeFor[T]()
	if typ.Kind() != reflect.Interface {
		return nil, fmt.Errorf("%w: %s", ErrNotInterface, typ)
	}
	if bake == nil {
		return nil, fmt.Errorf("%w for %s", ErrNoBaker, typ)
	}
	h := &HandlerList[T]{bake: bake, name: typ.String()}
	for i := 0; i < typ.NumMethod(); i++ {
		m := typ.Method(i)
		if m.Type.NumOut() > 0 {
			h.skipped = append(h.skipped, m.Name)
		}
	}
	if len(h.skipped) > 0 {
		log.Debugf("%s: not multicastable: %v", h.name, h.skipped)
	}
	return h, nil
}

// MustNew is New for package-level lists; it panics on error.
func MustNew[T any](bake Baker[T]) *HandlerList[T] {
	h, err := New(bake)
	if err != nil {
		panic(err)
	}
	return h
}

// Name returns the capability type name.
func (h *HandlerList[T]) Name() string {
	return h.name
}

// Skipped returns the methods of T that return values.
func (h *HandlerList[T]) Skipped() []string {
	return h.skipped
}

// Add appends l unless the same listener is already present. It reports
// whether l was added.
func (h *HandlerList[T]) Add(l T) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, x := range h.listeners {
		if same(x, l) {
			return false
		}
	}
	h.listeners = append(h.listeners, l)
	if h.baked.Swap(nil) != nil {
		discard()
	}
	return true
}

// All returns the dispatcher for the current listeners, baking a new one
// when the list changed.
func (h *HandlerList[T]) All() T {
	if d := h.baked.Load(); d != nil {
		return d.fn
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if d := h.baked.Load(); d != nil {
		return d.fn
	}
	d := &dispatcher[T]{}
	switch len(h.listeners) {
	case 0:
		d.fn = h.bake(nil)
	case 1:
		d.fn = h.listeners[0]
	default:
		d.fn = h.bake(append([]T(nil), h.listeners...))
	}
	h.bakes.Add(1)
	totalBakes.Add(1)
	h.baked.Store(d)
	return d.fn
}

// Listeners returns a copy of the listeners in insertion order.
func (h *HandlerList[T]) Listeners() []T {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]T(nil), h.listeners...)
}

// Len returns the number of listeners.
func (h *HandlerList[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

// Bakes returns how many dispatchers this list has built.
func (h *HandlerList[T]) Bakes() int64 {
	return h.bakes.Load()
}

// Remove is not supported.
func (h *HandlerList[T]) Remove(T) error {
	return fmt.Errorf("%s: Remove: %w", h.name, ErrRemovalUnsupported)
}

// RemoveFirst is not supported.
func (h *HandlerList[T]) RemoveFirst() error {
	return fmt.Errorf("%s: RemoveFirst: %w", h.name, ErrRemovalUnsupported)
}

// RemoveLast is not supported.
func (h *HandlerList[T]) RemoveLast() error {
	return fmt.Errorf("%s: RemoveLast: %w", h.name, ErrRemovalUnsupported)
}

// same compares listeners by identity. Map listeners compare by pointer.
// Function and slice listeners have no identity and are never the same.
func same(a, b any) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta == nil {
		return true
	}
	if ta.Comparable() {
		return a == b
	}
	if ta.Kind() == reflect.Map {
		return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
	}
	return false
}
