// Package messages owns the ordered, deduplicated local message view: the
// merge point between optimistic local writes and server-confirmed events.
package messages

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"parley/internal/event"
)

// dedupWindow is the trailing window in which an identical (text, sender)
// pair from another sender is treated as a redundant delivery.
const dedupWindow = 10 * time.Second

// ReplyPlaceholder renders in place of a reply target that predates the
// locally held history.
const ReplyPlaceholder = "Original message not found"

// Store holds the ordered collection. All mutation paths funnel through it;
// edit/delete/reaction events mutate records in place so positions and ids
// stay stable for reply references and scroll anchors.
type Store struct {
	// identity is read at the moment of use, never captured, so that a
	// login/settings change mid-flight is honored by later events.
	identity func() string

	mu           sync.RWMutex
	msgs         []*Message
	byID         map[string]*Message
	chats        map[string]*Chat
	historyEpoch uint64
	appliedEpoch uint64

	listenerMu sync.RWMutex
	listeners  []chan struct{}
}

// NewStore creates an empty store. identity supplies the current local
// username and must be safe to call from event handlers.
func NewStore(identity func() string) *Store {
	if identity == nil {
		identity = func() string { return "" }
	}
	return &Store{
		identity: identity,
		byID:     make(map[string]*Message),
		chats:    make(map[string]*Chat),
	}
}

// AppendLocal inserts an optimistic message for the local sender and returns
// it. Blank text or a missing identity suppresses the send entirely.
func (s *Store) AppendLocal(text, chatID, replyToID string) *Message {
	trimmed := strings.TrimSpace(text)
	sender := s.identity()
	if trimmed == "" || sender == "" {
		return nil
	}
	msg := &Message{
		ID:          uuid.NewString(),
		Text:        trimmed,
		Sender:      sender,
		Timestamp:   time.Now().UnixMilli(),
		ChatID:      chatID,
		MessageType: TypeText,
		ReplyToID:   replyToID,
		IsMe:        true,
	}
	s.append(msg)
	return msg
}

// AppendLocalMedia inserts an optimistic media message built from an upload
// descriptor. Same suppression rules as AppendLocal.
func (s *Store) AppendLocalMedia(msg *Message) *Message {
	sender := s.identity()
	if msg == nil || sender == "" {
		return nil
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	msg.Sender = sender
	msg.IsMe = true
	s.append(msg)
	return msg
}

// ApplyRemote merges one server-delivered message. The local echo is
// authoritative for our own sends, so broadcasts from the current identity are
// dropped outright. For other senders a duplicate inside the trailing window
// is discarded. Returns true when the message was appended.
func (s *Store) ApplyRemote(ev *event.Message, arrival time.Time) bool {
	if ev.User == s.identity() {
		return false
	}
	s.mu.Lock()
	if s.isDuplicateLocked(ev, arrival) {
		s.mu.Unlock()
		return false
	}
	msg := FromEvent(ev)
	s.appendLocked(msg)
	s.mu.Unlock()
	s.notify()
	return true
}

// isDuplicateLocked applies the redundant-delivery guard: identical text and
// sender on a non-system message whose timestamp falls inside the window.
func (s *Store) isDuplicateLocked(ev *event.Message, arrival time.Time) bool {
	cutoff := arrival.Add(-dedupWindow).UnixMilli()
	for i := len(s.msgs) - 1; i >= 0; i-- {
		existing := s.msgs[i]
		if existing.Timestamp < cutoff || existing.IsSystem {
			continue
		}
		if existing.Sender == ev.User && existing.Text == ev.Text {
			return true
		}
	}
	return false
}

// ApplyEdit mutates the target in place. Unknown ids are tolerated, the
// message may predate the held history.
func (s *Store) ApplyEdit(id, text string, updatedAt int64) bool {
	s.mu.Lock()
	msg, ok := s.byID[id]
	if ok {
		msg.Text = text
		msg.UpdatedAt = updatedAt
	}
	s.mu.Unlock()
	if ok {
		s.notify()
	}
	return ok
}

// ApplyDelete soft-deletes in place; the record never leaves the collection.
func (s *Store) ApplyDelete(id string) bool {
	s.mu.Lock()
	msg, ok := s.byID[id]
	if ok {
		msg.IsDeleted = true
	}
	s.mu.Unlock()
	if ok {
		s.notify()
	}
	return ok
}

// ApplyReactions replaces the target's full reaction mapping, last writer
// wins at the mapping level.
func (s *Store) ApplyReactions(id string, reactions map[string][]string) bool {
	s.mu.Lock()
	msg, ok := s.byID[id]
	if ok {
		msg.Reactions = reactions
	}
	s.mu.Unlock()
	if ok {
		s.notify()
	}
	return ok
}

// AppendSystem adds a local system notice.
func (s *Store) AppendSystem(text string) *Message {
	msg := System(text)
	s.append(msg)
	return msg
}

// BeginHistory reserves an epoch for an in-flight history fetch. The matching
// ReplaceHistory call only applies if no newer fetch completed in between.
func (s *Store) BeginHistory() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historyEpoch++
	return s.historyEpoch
}

// ReplaceHistory swaps in a freshly fetched history, oldest first. A stale
// fetch (an epoch older than the last applied one) is ignored so a slow
// response cannot clobber the view after a faster reconnect.
func (s *Store) ReplaceHistory(msgs []*Message, epoch uint64) bool {
	s.mu.Lock()
	if epoch <= s.appliedEpoch {
		s.mu.Unlock()
		return false
	}
	s.appliedEpoch = epoch
	s.msgs = make([]*Message, 0, len(msgs))
	s.byID = make(map[string]*Message, len(msgs))
	me := s.identity()
	for _, msg := range msgs {
		if msg.Sender == me {
			msg.IsMe = true
		}
		s.appendLocked(msg)
	}
	s.mu.Unlock()
	s.notify()
	return true
}

// ResolveReply looks up the reply target, falling back to a placeholder
// record when the target predates the held history.
func (s *Store) ResolveReply(id string) *Message {
	s.mu.RLock()
	msg, ok := s.byID[id]
	s.mu.RUnlock()
	if ok {
		return msg
	}
	return &Message{ID: id, Text: ReplyPlaceholder, IsSystem: true}
}

// Get returns the message with the given id, if held.
func (s *Store) Get(id string) (*Message, bool) {
	s.mu.RLock()
	msg, ok := s.byID[id]
	s.mu.RUnlock()
	return msg, ok
}

// Snapshot copies the current view in insertion order.
func (s *Store) Snapshot() []*Message {
	s.mu.RLock()
	out := make([]*Message, len(s.msgs))
	copy(out, s.msgs)
	s.mu.RUnlock()
	return out
}

// Len returns the number of held messages, soft-deleted ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

// UpsertChat refreshes the chat cache from a chatCreated/chatUpdated event.
func (s *Store) UpsertChat(c *Chat) {
	s.mu.Lock()
	s.chats[c.ID] = c
	s.mu.Unlock()
	s.notify()
}

// Chats snapshots the chat cache.
func (s *Store) Chats() []*Chat {
	s.mu.RLock()
	out := make([]*Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, c)
	}
	s.mu.RUnlock()
	return out
}

// Subscribe returns a coalescing change-notification channel for the UI.
func (s *Store) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.listenerMu.Lock()
	s.listeners = append(s.listeners, ch)
	s.listenerMu.Unlock()
	return ch
}

func (s *Store) append(msg *Message) {
	s.mu.Lock()
	s.appendLocked(msg)
	s.mu.Unlock()
	s.notify()
}

func (s *Store) appendLocked(msg *Message) {
	s.msgs = append(s.msgs, msg)
	if msg.ID != "" {
		s.byID[msg.ID] = msg
	}
}

func (s *Store) notify() {
	s.listenerMu.RLock()
	for _, ch := range s.listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.listenerMu.RUnlock()
}
