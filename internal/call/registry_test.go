package call

import "testing"

func TestRegistryUpsertReplacesAndClosesPrior(t *testing.T) {
	r := NewRegistry()
	first := &fakeStream{id: "s1"}
	second := &fakeStream{id: "s2"}

	r.Upsert("bob", "Bob", first)
	r.Upsert("bob", "Bob", second)

	if r.Len() != 1 {
		t.Fatalf("duplicate join must replace, got %d entries", r.Len())
	}
	if !first.closed {
		t.Fatalf("replaced stream must be closed")
	}
	if second.closed {
		t.Fatalf("live stream closed prematurely")
	}
	if got := r.Snapshot()[0].Stream.ID(); got != "s2" {
		t.Fatalf("expected replacement stream, got %s", got)
	}
}

func TestRegistryRemoveClosesStream(t *testing.T) {
	r := NewRegistry()
	s := &fakeStream{id: "s1"}
	r.Upsert("bob", "Bob", s)
	r.Remove("bob")

	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
	if !s.closed {
		t.Fatalf("removed participant's stream must be closed")
	}
	// Removing an unknown participant is a no-op.
	r.Remove("carol")
}

func TestRegistryClearReleasesEverything(t *testing.T) {
	r := NewRegistry()
	a := &fakeStream{id: "a"}
	b := &fakeStream{id: "b"}
	r.Upsert("bob", "Bob", a)
	r.Upsert("carol", "Carol", b)

	r.Clear()
	if r.Len() != 0 {
		t.Fatalf("expected empty registry after Clear, got %d", r.Len())
	}
	if !a.closed || !b.closed {
		t.Fatalf("Clear must close every stream")
	}
}
