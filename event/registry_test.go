package event

import (
	"errors"
	"fmt"
	"testing"

	"github.com/chazu/modhook/diag"
)

func TestDeclare(t *testing.T) {
	r := NewRegistry(nil)
	ev, err := r.Declare("tick", true, 5)
	if err != nil {
		t.Fatalf("Declare: %v", err)
	}
	if ev.PacketIndex != -1 || ev.IsPacket() || !ev.Cancellable || ev.Priority != 5 {
		t.Errorf("event = %+v", ev)
	}
	if _, err := r.Declare("tick", false, 0); !errors.Is(err, ErrDuplicateEvent) {
		t.Errorf("duplicate: err = %v", err)
	}
	if got, ok := r.Lookup("tick"); !ok || got != ev {
		t.Errorf("Lookup = %v, %v", got, ok)
	}
	if _, err := r.Resolve("render"); !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("Resolve unknown: err = %v", err)
	}

	r.Seal()
	if !r.Sealed() {
		t.Fatal("not sealed")
	}
	if _, err := r.Declare("late", false, 0); !errors.Is(err, ErrSealed) {
		t.Errorf("declare after seal: err = %v", err)
	}
	if _, err := r.Packet("late"); !errors.Is(err, ErrSealed) {
		t.Errorf("packet after seal: err = %v", err)
	}
}

func TestPacketNaming(t *testing.T) {
	r := NewRegistry(nil)
	first, err := r.Packet("Foo")
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Packet("Foo")
	if err != nil {
		t.Fatal(err)
	}
	if first == second || first.Name != "Foo" || second.Name != "Foo#1" {
		t.Fatalf("names %q, %q", first.Name, second.Name)
	}
	if first.PacketIndex != 0 || second.PacketIndex != 1 {
		t.Errorf("indices %d, %d", first.PacketIndex, second.PacketIndex)
	}
	other, _ := r.Packet("Bar")
	if other.PacketIndex != 2 || other.Name != "Bar" {
		t.Errorf("Bar = %+v", other)
	}
	if got, ok := r.ByPacketIndex(1); !ok || got != second {
		t.Errorf("ByPacketIndex(1) = %v, %v", got, ok)
	}
	if _, ok := r.ByPacketIndex(3); ok {
		t.Error("ByPacketIndex past end found an event")
	}
	if _, ok := r.ByPacketIndex(-1); ok {
		t.Error("ByPacketIndex(-1) found an event")
	}
}

func TestPacketNameExhaustion(t *testing.T) {
	sink := diag.NewSink("test")
	r := NewRegistry(sink)
	for i := 0; i < MaxNameSuffix+1; i++ {
		ev, err := r.Packet("Foo")
		if err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
		want := "Foo"
		if i > 0 {
			want = fmt.Sprintf("Foo#%d", i)
		}
		if ev.Name != want {
			t.Fatalf("request %d named %q, want %q", i+1, ev.Name, want)
		}
	}
	_, err := r.Packet("Foo")
	if !errors.Is(err, ErrNameExhausted) || !diag.IsFatal(err) {
		t.Fatalf("34th request: err = %v", err)
	}
	if sink.Count(diag.Critical) != 1 {
		t.Errorf("critical diagnostics = %d", sink.Count(diag.Critical))
	}
	if r.Packets() != MaxNameSuffix+1 {
		t.Errorf("Packets = %d", r.Packets())
	}
}

func TestCallbackOrderAndLateListeners(t *testing.T) {
	r := NewRegistry(nil)
	ev := r.MustDeclare("tick", false, 0)
	ev.AddListener(CallbackRef{Owner: "a/A", Name: "one", Desc: "()V", Priority: 10}).
		AddListener(CallbackRef{Owner: "a/A", Name: "two", Desc: "()V", Priority: 0}).
		AddListener(CallbackRef{Owner: "a/A", Name: "three", Desc: "()V", Priority: 10})

	var names []string
	for _, cb := range ev.Callbacks() {
		names = append(names, cb.Name)
	}
	if fmt.Sprint(names) != "[two one three]" {
		t.Fatalf("callback order %v", names)
	}

	if !ev.MarkInjected() {
		t.Fatal("MarkInjected on a declared event returned false")
	}
	if ev.MarkInjected() {
		t.Error("second MarkInjected returned true")
	}
	ev.AddListener(CallbackRef{Owner: "a/A", Name: "late", Desc: "()V"})
	if len(ev.Callbacks()) != 3 || len(ev.Late()) != 1 {
		t.Errorf("callbacks %d, late %d", len(ev.Callbacks()), len(ev.Late()))
	}
	if ev.State() != Injected {
		t.Errorf("state = %s", ev.State())
	}
}

func TestBridgeCallback(t *testing.T) {
	cb := BridgeCallback("", "")
	if cb.Owner != DefaultBridgeOwner || cb.Desc != "(Lmodhook/runtime/EventContext;)V" || !cb.IsBridge() {
		t.Errorf("default bridge = %+v", cb)
	}
	custom := BridgeCallback("x/Bridge", "x/Ctx")
	if custom.Desc != "(Lx/Ctx;)V" {
		t.Errorf("custom bridge desc %q", custom.Desc)
	}
	if (CallbackRef{Owner: "a/A", Name: "dispatch", Desc: "()V"}).IsBridge() {
		t.Error("ordinary callback reported as bridge")
	}
}
