package connection

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"parley/internal/channel"
	"parley/internal/event"
	"parley/internal/messages"
)

type fakeChannel struct {
	mu      sync.Mutex
	h       channel.Handlers
	emitted []event.Envelope
	closed  bool
}

func (f *fakeChannel) Emit(env event.Envelope) error {
	f.mu.Lock()
	f.emitted = append(f.emitted, env)
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Close() {
	f.mu.Lock()
	f.closed = true
	f.h = channel.Handlers{}
	f.mu.Unlock()
}

func (f *fakeChannel) kinds() []event.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]event.Kind, len(f.emitted))
	for i, env := range f.emitted {
		out[i] = env.Kind
	}
	return out
}

type harness struct {
	session  *Session
	store    *messages.Store
	mgr      *Manager
	channels []*fakeChannel
}

func newHarness(api *Client) *harness {
	h := &harness{}
	h.session = NewSession("alice", "Alice")
	h.store = messages.NewStore(h.session.User)
	h.mgr = NewManager(h.session, h.store, api)
	h.mgr.open = func(_ Settings, handlers channel.Handlers) channel.EventChannel {
		fc := &fakeChannel{h: handlers}
		h.channels = append(h.channels, fc)
		return fc
	}
	return h
}

func (h *harness) current() *fakeChannel {
	return h.channels[len(h.channels)-1]
}

func TestConnectRitual(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/messages" {
			http.NotFound(w, r)
			return
		}
		// Newest first, the way the endpoint serves it.
		json.NewEncoder(w).Encode([]event.Message{
			{ID: "m3", User: "bob", Text: "third", Timestamp: 3000},
			{ID: "m2", User: "alice", Text: "second", Timestamp: 2000},
			{ID: "m1", User: "bob", Text: "first", Timestamp: 1000},
		})
	}))
	defer srv.Close()

	h := newHarness(NewClient(srv.URL))
	h.mgr.Connect(Settings{ServerURL: "ws://ignored"})
	if h.mgr.State() != StateConnecting {
		t.Fatalf("expected connecting, got %s", h.mgr.State())
	}

	h.current().h.OnConnect()
	if h.mgr.State() != StateConnected {
		t.Fatalf("expected connected, got %s", h.mgr.State())
	}

	snap := h.store.Snapshot()
	if len(snap) != 4 {
		t.Fatalf("expected 3 history messages plus a notice, got %d", len(snap))
	}
	if snap[0].ID != "m1" || snap[1].ID != "m2" || snap[2].ID != "m3" {
		t.Fatalf("history not chronological: %s %s %s", snap[0].ID, snap[1].ID, snap[2].ID)
	}
	if !snap[1].IsMe {
		t.Fatalf("own history message not marked as mine")
	}
	if !snap[3].IsSystem {
		t.Fatalf("expected trailing system notice")
	}

	kinds := h.current().kinds()
	if len(kinds) != 1 || kinds[0] != event.KindJoin {
		t.Fatalf("expected a single join after connect, got %v", kinds)
	}
}

func TestHistoryPreservesMessageState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]event.Message{
			{ID: "m2", User: "bob", Text: "revised", Timestamp: 2000,
				UpdatedAt: 2500, Reactions: map[string][]string{"👍": {"alice", "carol"}}},
			{ID: "m1", User: "bob", Timestamp: 1000, IsDeleted: true},
		})
	}))
	defer srv.Close()

	h := newHarness(NewClient(srv.URL))
	h.mgr.Connect(Settings{ServerURL: "ws://ignored"})
	h.current().h.OnConnect()

	deleted, ok := h.store.Get("m1")
	if !ok || !deleted.IsDeleted {
		t.Fatalf("soft-delete lost across the history round-trip: %+v", deleted)
	}
	edited, _ := h.store.Get("m2")
	if edited.UpdatedAt != 2500 {
		t.Fatalf("edit marker lost across the history round-trip: %+v", edited)
	}
	if len(edited.Reactions["👍"]) != 2 {
		t.Fatalf("reactions lost across the history round-trip: %v", edited.Reactions)
	}
}

func TestHistoryFailureIsBestEffort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := newHarness(NewClient(srv.URL))
	h.mgr.Connect(Settings{ServerURL: "ws://ignored"})
	h.current().h.OnConnect()

	if h.mgr.State() != StateConnected {
		t.Fatalf("history failure must not break the connection, got %s", h.mgr.State())
	}
	kinds := h.current().kinds()
	if len(kinds) != 1 || kinds[0] != event.KindJoin {
		t.Fatalf("join must still be emitted, got %v", kinds)
	}
}

func TestSettingsChangeReplacesChannelOnce(t *testing.T) {
	h := newHarness(nil)
	s := Settings{ServerURL: "ws://a"}
	h.mgr.Connect(s)
	if len(h.channels) != 1 {
		t.Fatalf("expected one channel, got %d", len(h.channels))
	}

	h.mgr.ApplySettings(s)
	if len(h.channels) != 1 {
		t.Fatalf("identical settings must not reconnect")
	}

	h.mgr.ApplySettings(Settings{ServerURL: "ws://b"})
	if len(h.channels) != 2 {
		t.Fatalf("changed settings must replace the channel exactly once, got %d", len(h.channels))
	}
	if !h.channels[0].closed {
		t.Fatalf("previous channel must be closed on replacement")
	}
}

func TestInboundRouting(t *testing.T) {
	h := newHarness(nil)
	h.mgr.Connect(Settings{ServerURL: "ws://ignored"})
	fc := h.current()

	fc.h.OnEvent(event.New(event.KindMessage, &event.Message{
		ID: "m1", User: "bob", Text: "hello", Timestamp: time.Now().UnixMilli(),
	}))
	if h.store.Len() != 1 {
		t.Fatalf("message not applied")
	}

	fc.h.OnEvent(event.New(event.KindMessageUpdated, &event.MessageUpdated{
		ID: "m1", Text: "hello!", UpdatedAt: time.Now().UnixMilli(),
	}))
	msg, _ := h.store.Get("m1")
	if msg.Text != "hello!" {
		t.Fatalf("edit not applied: %q", msg.Text)
	}

	fc.h.OnEvent(event.New(event.KindReactionUpdated, &event.ReactionUpdated{
		ID: "m1", Reactions: map[string][]string{"👍": {"bob"}},
	}))
	msg, _ = h.store.Get("m1")
	if len(msg.Reactions["👍"]) != 1 {
		t.Fatalf("reactions not applied")
	}

	fc.h.OnEvent(event.New(event.KindMessageDeleted, &event.MessageDeleted{ID: "m1"}))
	msg, _ = h.store.Get("m1")
	if !msg.IsDeleted {
		t.Fatalf("delete not applied")
	}

	fc.h.OnEvent(event.New(event.KindChatCreated, &event.Chat{ID: "c1", Name: "general"}))
	if len(h.store.Chats()) != 1 {
		t.Fatalf("chat not cached")
	}

	// A malformed kind is skipped, not fatal.
	fc.h.OnEvent(event.Envelope{Kind: "mystery"})
}

func TestJoinFromOtherUserBecomesNotice(t *testing.T) {
	h := newHarness(nil)
	h.mgr.Connect(Settings{ServerURL: "ws://ignored"})
	fc := h.current()

	fc.h.OnEvent(event.New(event.KindJoin, &event.Join{User: "bob", DisplayName: "Bob"}))
	fc.h.OnEvent(event.New(event.KindJoin, &event.Join{User: "alice"}))

	snap := h.store.Snapshot()
	if len(snap) != 1 || !snap[0].IsSystem {
		t.Fatalf("expected one system notice for the other user's join, got %d messages", len(snap))
	}
}

func TestSendMessageOptimisticAndEmitted(t *testing.T) {
	h := newHarness(nil)
	h.mgr.Connect(Settings{ServerURL: "ws://ignored"})

	if err := h.mgr.SendMessage("hello there", ""); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if h.store.Len() != 1 {
		t.Fatalf("optimistic append missing")
	}
	kinds := h.current().kinds()
	if len(kinds) != 1 || kinds[0] != event.KindMessage {
		t.Fatalf("expected one emitted message, got %v", kinds)
	}

	// Blank text is suppressed entirely.
	if err := h.mgr.SendMessage("   ", ""); err != nil {
		t.Fatalf("blank send must be a silent no-op, got %v", err)
	}
	if h.store.Len() != 1 || len(h.current().kinds()) != 1 {
		t.Fatalf("blank send must neither append nor emit")
	}
}

func TestToggleReaction(t *testing.T) {
	h := newHarness(nil)
	h.mgr.Connect(Settings{ServerURL: "ws://ignored"})
	fc := h.current()
	fc.h.OnEvent(event.New(event.KindMessage, &event.Message{
		ID: "m1", User: "bob", Text: "hi", Timestamp: time.Now().UnixMilli(),
	}))

	if err := h.mgr.ToggleReaction("m1", "🔥"); err != nil {
		t.Fatalf("ToggleReaction: %v", err)
	}
	msg, _ := h.store.Get("m1")
	if len(msg.Reactions["🔥"]) != 1 || msg.Reactions["🔥"][0] != "alice" {
		t.Fatalf("reaction not recorded: %v", msg.Reactions)
	}

	if err := h.mgr.ToggleReaction("m1", "🔥"); err != nil {
		t.Fatalf("ToggleReaction: %v", err)
	}
	msg, _ = h.store.Get("m1")
	if len(msg.Reactions["🔥"]) != 0 {
		t.Fatalf("second toggle must remove the reaction: %v", msg.Reactions)
	}
}

func TestCloseLeavesDisconnected(t *testing.T) {
	h := newHarness(nil)
	h.mgr.Connect(Settings{ServerURL: "ws://ignored"})
	h.mgr.Close()

	if h.mgr.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", h.mgr.State())
	}
	if !h.current().closed {
		t.Fatalf("channel must be closed")
	}
	if err := h.mgr.Emit(event.New(event.KindJoin, &event.Join{User: "alice"})); err == nil {
		t.Fatalf("emit after close must fail")
	}
}
