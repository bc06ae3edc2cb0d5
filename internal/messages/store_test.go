package messages

import (
	"testing"
	"time"

	"parley/internal/event"
)

func newTestStore(identity string) *Store {
	return NewStore(func() string { return identity })
}

func TestOwnEchoIsDropped(t *testing.T) {
	store := newTestStore("alice")
	local := store.AppendLocal("hello", "general", "")
	if local == nil {
		t.Fatalf("expected optimistic append")
	}

	echo := &event.Message{ID: "srv-1", User: "alice", Text: "hello", ChatID: "general", Timestamp: time.Now().UnixMilli()}
	if store.ApplyRemote(echo, time.Now()) {
		t.Fatalf("server echo of own message must be dropped")
	}
	if store.Len() != 1 {
		t.Fatalf("expected exactly one visible message, got %d", store.Len())
	}
}

func TestLiveIdentityGovernsEchoDrop(t *testing.T) {
	identity := "alice"
	store := NewStore(func() string { return identity })

	// The identity changed after the handler was registered; the store must
	// read the current value, not the one captured at construction time.
	identity = "bob"
	ev := &event.Message{ID: "srv-1", User: "alice", Text: "hi", Timestamp: time.Now().UnixMilli()}
	if !store.ApplyRemote(ev, time.Now()) {
		t.Fatalf("message from alice should be appended once identity is bob")
	}
}

func TestRemoteDuplicateWithinWindow(t *testing.T) {
	store := newTestStore("alice")
	now := time.Now()

	first := &event.Message{ID: "srv-1", User: "bob", Text: "hey", Timestamp: now.UnixMilli()}
	if !store.ApplyRemote(first, now) {
		t.Fatalf("first delivery should be appended")
	}
	dupe := &event.Message{ID: "srv-2", User: "bob", Text: "hey", Timestamp: now.Add(2 * time.Second).UnixMilli()}
	if store.ApplyRemote(dupe, now.Add(2*time.Second)) {
		t.Fatalf("identical (text, sender) within window must be discarded")
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 message, got %d", store.Len())
	}
}

func TestRemoteDuplicateOutsideWindowRetained(t *testing.T) {
	store := newTestStore("alice")
	base := time.Now().Add(-time.Minute)

	first := &event.Message{ID: "srv-1", User: "bob", Text: "hey", Timestamp: base.UnixMilli()}
	if !store.ApplyRemote(first, base) {
		t.Fatalf("first delivery should be appended")
	}
	later := base.Add(30 * time.Second)
	second := &event.Message{ID: "srv-2", User: "bob", Text: "hey", Timestamp: later.UnixMilli()}
	if !store.ApplyRemote(second, later) {
		t.Fatalf("repeat outside the window is a genuine new message")
	}
	if store.Len() != 2 {
		t.Fatalf("expected 2 messages, got %d", store.Len())
	}
}

func TestEditAndDeleteKeepPositionAndID(t *testing.T) {
	store := newTestStore("alice")
	now := time.Now()
	for i, text := range []string{"one", "two", "three"} {
		ev := &event.Message{ID: string(rune('a' + i)), User: "bob", Text: text, Timestamp: now.UnixMilli()}
		store.ApplyRemote(ev, now)
	}

	if !store.ApplyEdit("b", "two (edited)", now.UnixMilli()) {
		t.Fatalf("edit should find target")
	}
	if !store.ApplyDelete("b") {
		t.Fatalf("delete should find target")
	}

	snapshot := store.Snapshot()
	if len(snapshot) != 3 {
		t.Fatalf("soft delete must not remove records, got %d", len(snapshot))
	}
	target := snapshot[1]
	if target.ID != "b" || !target.IsDeleted || target.Text != "two (edited)" {
		t.Fatalf("unexpected record at original index: %+v", target)
	}
}

func TestEditUnknownIDTolerated(t *testing.T) {
	store := newTestStore("alice")
	if store.ApplyEdit("ghost", "boo", 1) {
		t.Fatalf("edit of unknown id should report false")
	}
	if store.ApplyDelete("ghost") {
		t.Fatalf("delete of unknown id should report false")
	}
}

func TestReactionMappingReplaced(t *testing.T) {
	store := newTestStore("alice")
	now := time.Now()
	store.ApplyRemote(&event.Message{ID: "m1", User: "bob", Text: "hi", Timestamp: now.UnixMilli()}, now)

	store.ApplyReactions("m1", map[string][]string{"👍": {"alice"}, "🎉": {"carol"}})
	store.ApplyReactions("m1", map[string][]string{"👍": {"alice", "dave"}})

	msg, _ := store.Get("m1")
	if len(msg.Reactions) != 1 {
		t.Fatalf("reaction update must replace the whole mapping: %+v", msg.Reactions)
	}
	if users := msg.Reactions["👍"]; len(users) != 2 {
		t.Fatalf("unexpected users for 👍: %v", users)
	}
}

func TestReplaceHistoryChronological(t *testing.T) {
	store := newTestStore("alice")
	store.AppendSystem("stale view")

	// The history API returns newest-first; the connection layer reverses it
	// before calling ReplaceHistory, so here we hand over oldest-first.
	epoch := store.BeginHistory()
	history := []*Message{
		{ID: "m1", Text: "M1", Sender: "bob", Timestamp: 1},
		{ID: "m2", Text: "M2", Sender: "alice", Timestamp: 2},
		{ID: "m3", Text: "M3", Sender: "bob", Timestamp: 3},
	}
	if !store.ReplaceHistory(history, epoch) {
		t.Fatalf("fresh history should apply")
	}

	snapshot := store.Snapshot()
	if len(snapshot) != 3 {
		t.Fatalf("expected replaced view, got %d messages", len(snapshot))
	}
	for i, want := range []string{"M1", "M2", "M3"} {
		if snapshot[i].Text != want {
			t.Fatalf("index %d: expected %s, got %s", i, want, snapshot[i].Text)
		}
	}
	if !snapshot[1].IsMe {
		t.Fatalf("history rows from the local identity should be marked IsMe")
	}
}

func TestStaleHistoryIgnored(t *testing.T) {
	store := newTestStore("alice")

	older := store.BeginHistory()
	newer := store.BeginHistory()

	if !store.ReplaceHistory([]*Message{{ID: "n1", Text: "fresh", Sender: "bob"}}, newer) {
		t.Fatalf("newer fetch should apply")
	}
	if store.ReplaceHistory([]*Message{{ID: "o1", Text: "stale", Sender: "bob"}}, older) {
		t.Fatalf("stale fetch completing late must be ignored")
	}

	snapshot := store.Snapshot()
	if len(snapshot) != 1 || snapshot[0].Text != "fresh" {
		t.Fatalf("stale history clobbered the view: %+v", snapshot)
	}
}

func TestResolveReplyPlaceholder(t *testing.T) {
	store := newTestStore("alice")
	now := time.Now()
	store.ApplyRemote(&event.Message{ID: "m1", User: "bob", Text: "original", Timestamp: now.UnixMilli()}, now)

	if got := store.ResolveReply("m1"); got.Text != "original" {
		t.Fatalf("expected original text, got %q", got.Text)
	}
	if got := store.ResolveReply("pre-history"); got.Text != ReplyPlaceholder {
		t.Fatalf("expected placeholder, got %q", got.Text)
	}
}

func TestAppendLocalValidation(t *testing.T) {
	store := newTestStore("alice")
	if msg := store.AppendLocal("   ", "general", ""); msg != nil {
		t.Fatalf("blank text must be suppressed")
	}
	anonymous := newTestStore("")
	if msg := anonymous.AppendLocal("hello", "general", ""); msg != nil {
		t.Fatalf("missing identity must suppress the send")
	}
}

func TestSubscribeNotifies(t *testing.T) {
	store := newTestStore("alice")
	ch := store.Subscribe()
	store.AppendLocal("hello", "general", "")
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("no change notification after append")
	}
}
