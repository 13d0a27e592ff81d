package resource

import (
	"testing"

	"github.com/wippyai/dynffi/value"
)

type testObserver struct {
	events []Event
}

func (o *testObserver) OnObjectEvent(e Event) {
	o.events = append(o.events, e)
}

func TestTable_Basic(t *testing.T) {
	table := NewTable()
	v := value.NewString("payload")

	h, err := table.Insert(v)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if h == 0 {
		t.Fatal("Expected non-zero handle")
	}
	if v.RefCount() != 1 {
		t.Fatalf("Expected table to hold one reference, got %d", v.RefCount())
	}

	got, ok := table.Get(h)
	if !ok {
		t.Fatal("Get failed")
	}
	if got != v {
		t.Fatal("Get returned a different value")
	}

	if _, ok := table.Get(0); ok {
		t.Fatal("Handle 0 should be invalid")
	}

	removed, ok := table.Remove(h)
	if !ok || removed != v {
		t.Fatal("Remove failed")
	}
	if v.RefCount() != 0 {
		t.Fatalf("Expected reference released, got %d", v.RefCount())
	}
	if table.Len() != 0 {
		t.Fatal("Expected Len() == 0 after Remove")
	}
	if _, ok := table.Remove(h); ok {
		t.Fatal("Double remove should fail")
	}
}

func TestTable_SameValueSameHandle(t *testing.T) {
	table := NewTable()
	v := value.NewInt(7)

	h1, _ := table.Insert(v)
	h2, _ := table.Insert(v)
	if h1 != h2 {
		t.Fatalf("Expected stable handle, got %d and %d", h1, h2)
	}
	if v.RefCount() != 1 {
		t.Fatalf("Reinsert should not add a reference, got %d", v.RefCount())
	}

	other, _ := table.Insert(value.NewInt(7))
	if other == h1 {
		t.Fatal("Distinct values must get distinct handles")
	}
	if table.Len() != 2 {
		t.Fatalf("Expected 2 live handles, got %d", table.Len())
	}
}

func TestTable_HandleReuse(t *testing.T) {
	table := NewTable()

	h1, _ := table.Insert(value.NewString("a"))
	table.Remove(h1)
	h2, _ := table.Insert(value.NewString("b"))

	if h1 != h2 {
		t.Fatalf("Expected freed handle %d to be reused, got %d", h1, h2)
	}
}

func TestTable_Observer(t *testing.T) {
	table := NewTable()
	obs := &testObserver{}
	table.Subscribe(obs)

	h, _ := table.Insert(value.NewString("x"))
	table.Remove(h)

	if len(obs.events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(obs.events))
	}
	if obs.events[0].Type != EventCreated || obs.events[1].Type != EventDropped {
		t.Fatalf("Unexpected event order: %v, %v", obs.events[0].Type, obs.events[1].Type)
	}
	if obs.events[0].Handle != h {
		t.Fatalf("Event handle: got %d, want %d", obs.events[0].Handle, h)
	}
}

func TestTable_Close(t *testing.T) {
	table := NewTable()
	values := []*value.Value{value.NewString("a"), value.NewString("b"), value.NewString("c")}
	for _, v := range values {
		if _, err := table.Insert(v); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	if err := table.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if table.Len() != 0 {
		t.Fatalf("Expected empty table after Close, got %d", table.Len())
	}
	for i, v := range values {
		if v.RefCount() != 0 {
			t.Errorf("value %d still referenced: %d", i, v.RefCount())
		}
	}
	if _, err := table.Insert(value.NewString("d")); err != ErrClosed {
		t.Fatalf("Expected ErrClosed, got %v", err)
	}
}

func TestTable_AcquireRelease(t *testing.T) {
	table := NewTable()
	v := value.NewString("arg")

	h1, err := table.Acquire(v)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	h2, _ := table.Acquire(v)
	if h1 != h2 {
		t.Fatalf("Expected stable handle, got %d and %d", h1, h2)
	}

	if !table.Release(h1) {
		t.Fatal("Release of a pinned handle failed")
	}
	if _, ok := table.Get(h1); !ok {
		t.Fatal("Handle dropped while still pinned")
	}
	table.Release(h1)
	if _, ok := table.Get(h1); ok {
		t.Fatal("Handle kept after last pin")
	}
	if v.RefCount() != 0 {
		t.Fatalf("Expected reference released, got %d", v.RefCount())
	}
	if table.Release(h1) {
		t.Fatal("Release of an unpinned handle succeeded")
	}
}

func TestTable_ReleaseKeepsInserted(t *testing.T) {
	table := NewTable()
	v := value.NewString("kept")

	h, _ := table.Insert(v)
	if table.Release(h) {
		t.Fatal("Inserted handle is not pinned")
	}
	table.Acquire(v)
	table.Release(h)
	if _, ok := table.Get(h); !ok {
		t.Fatal("Release dropped an inserted handle")
	}
	if table.Len() != 1 {
		t.Fatalf("Expected 1 live handle, got %d", table.Len())
	}
}

func TestTable_ReleaseEvents(t *testing.T) {
	table := NewTable()
	obs := &testObserver{}
	table.Subscribe(ObserverFunc(obs.OnObjectEvent))

	v := value.NewString("x")
	h, _ := table.Acquire(v)
	table.Acquire(v)
	table.Release(h)
	table.Release(h)

	if len(obs.events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(obs.events))
	}
	if obs.events[1].Type != EventDropped || obs.events[1].Value != v {
		t.Fatalf("Unexpected drop event: %+v", obs.events[1])
	}
	if got := obs.events[1].Type.String(); got != "dropped" {
		t.Fatalf("EventType.String: got %q", got)
	}
}
