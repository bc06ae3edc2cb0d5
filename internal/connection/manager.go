// Package connection owns the client-side lifecycle: one live event channel
// at a time, the reconnect ritual (history, join, notice), and the routing of
// inbound events to the message store and the call manager.
package connection

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"parley/internal/call"
	"parley/internal/channel"
	"parley/internal/event"
	"parley/internal/messages"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Settings is the part of the client configuration that decides which channel
// to run. Changing it while connected replaces the channel.
type Settings struct {
	ServerURL string
	Demo      bool
}

var errNoChannel = errors.New("not connected")

// Manager runs exactly one EventChannel and funnels its events into the store
// and the call manager. It also implements call.Signaler so call signals ride
// the same channel.
type Manager struct {
	session *Session
	store   *messages.Store
	api     *Client

	// open is swapped out by tests to inject a scripted channel.
	open func(Settings, channel.Handlers) channel.EventChannel

	mu       sync.Mutex
	settings Settings
	ch       channel.EventChannel
	state    State
	lastErr  error
	calls    *call.Manager

	listenerMu sync.RWMutex
	listeners  []chan struct{}
}

// NewManager builds a disconnected manager. api may be nil in demo mode, in
// which case history fetch and uploads are skipped.
func NewManager(session *Session, store *messages.Store, api *Client) *Manager {
	return &Manager{
		session: session,
		store:   store,
		api:     api,
		open:    defaultOpen,
		state:   StateDisconnected,
	}
}

// defaultOpen is where demo mode substitutes the transport. Everything above
// this point talks to the EventChannel interface and cannot tell the
// difference.
func defaultOpen(s Settings, h channel.Handlers) channel.EventChannel {
	if s.Demo {
		return channel.NewDemo(h)
	}
	return channel.Dial(s.ServerURL, h)
}

// AttachCalls wires the call manager in after construction; the call manager
// needs this manager as its signaler, so the two are linked in two steps.
func (m *Manager) AttachCalls(cm *call.Manager) {
	m.mu.Lock()
	m.calls = cm
	m.mu.Unlock()
}

// Connect tears down any previous channel and opens a new one for the given
// settings. It returns immediately; progress is observable via State and the
// subscription channel.
func (m *Manager) Connect(s Settings) {
	m.mu.Lock()
	old := m.ch
	m.ch = nil
	m.settings = s
	m.state = StateConnecting
	m.mu.Unlock()
	if old != nil {
		old.Close()
	}
	m.notify()

	h := channel.Handlers{
		OnConnect:    m.handleConnect,
		OnDisconnect: m.handleDisconnect,
		OnError:      m.handleError,
		OnEvent:      m.handleEvent,
	}
	// The channel is assigned under the same lock the handlers take first, so
	// a connect callback racing this assignment waits for it.
	m.mu.Lock()
	m.ch = m.open(s, h)
	m.mu.Unlock()
}

// ApplySettings reconnects only when the transport-relevant settings actually
// changed, so a settings-file rewrite with identical content is a no-op.
func (m *Manager) ApplySettings(s Settings) {
	m.mu.Lock()
	same := m.ch != nil && s == m.settings
	m.mu.Unlock()
	if same {
		return
	}
	log.Printf("CONN: settings changed, replacing channel (demo=%v)", s.Demo)
	m.Connect(s)
}

// Close tears the channel down and leaves the manager disconnected.
func (m *Manager) Close() {
	m.mu.Lock()
	ch := m.ch
	m.ch = nil
	m.state = StateDisconnected
	m.mu.Unlock()
	if ch != nil {
		ch.Close()
	}
	m.notify()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the most recent transport error, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Emit sends one event over the live channel. Implements call.Signaler.
func (m *Manager) Emit(env event.Envelope) error {
	m.mu.Lock()
	ch := m.ch
	m.mu.Unlock()
	if ch == nil {
		return errNoChannel
	}
	return ch.Emit(env)
}

// SendMessage appends an optimistic record and emits it. Blank text or a
// missing identity suppresses the send and returns nil.
func (m *Manager) SendMessage(text, replyToID string) error {
	msg := m.store.AppendLocal(text, m.session.ActiveChat(), replyToID)
	if msg == nil {
		return nil
	}
	return m.Emit(event.New(event.KindMessage, &event.Message{
		ID:          msg.ID,
		User:        msg.Sender,
		DisplayName: m.session.DisplayName(),
		Text:        msg.Text,
		ChatID:      msg.ChatID,
		Timestamp:   msg.Timestamp,
		MessageType: string(msg.MessageType),
		ReplyToID:   msg.ReplyToID,
	}))
}

// SendMediaMessage uploads the file, appends the optimistic media record, and
// emits it.
func (m *Manager) SendMediaMessage(path string) error {
	if m.api == nil {
		return errors.New("uploads are not available in demo mode")
	}
	media, err := m.api.Upload(path)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	msg := m.store.AppendLocalMedia(&messages.Message{
		ChatID:        m.session.ActiveChat(),
		MessageType:   messageTypeFor(media),
		MediaURL:      media.URL,
		MediaType:     media.MediaType,
		MediaDuration: media.Duration,
		FileName:      media.FileName,
		FileSize:      media.FileSize,
	})
	if msg == nil {
		return nil
	}
	return m.Emit(event.New(event.KindMessage, &event.Message{
		ID:            msg.ID,
		User:          msg.Sender,
		DisplayName:   m.session.DisplayName(),
		ChatID:        msg.ChatID,
		Timestamp:     msg.Timestamp,
		MessageType:   string(msg.MessageType),
		MediaURL:      msg.MediaURL,
		MediaType:     msg.MediaType,
		MediaDuration: msg.MediaDuration,
		FileName:      msg.FileName,
		FileSize:      msg.FileSize,
	}))
}

// EditMessage rewrites a previously sent message in place and broadcasts the
// edit.
func (m *Manager) EditMessage(id, text string) error {
	now := time.Now().UnixMilli()
	m.store.ApplyEdit(id, text, now)
	return m.Emit(event.New(event.KindMessageUpdated, &event.MessageUpdated{
		ID: id, User: m.session.User(), Text: text, UpdatedAt: now,
	}))
}

// DeleteMessage soft-deletes locally and broadcasts the deletion.
func (m *Manager) DeleteMessage(id string) error {
	m.store.ApplyDelete(id)
	return m.Emit(event.New(event.KindMessageDeleted, &event.MessageDeleted{
		ID: id, User: m.session.User(),
	}))
}

// ToggleReaction flips the local user's reaction on a message and broadcasts
// the resulting full mapping.
func (m *Manager) ToggleReaction(id, emoji string) error {
	msg, ok := m.store.Get(id)
	if !ok {
		return fmt.Errorf("unknown message %s", id)
	}
	user := m.session.User()
	updated := toggleReaction(msg.Reactions, emoji, user)
	m.store.ApplyReactions(id, updated)
	return m.Emit(event.New(event.KindReactionUpdated, &event.ReactionUpdated{
		ID: id, Reactions: updated,
	}))
}

// Subscribe returns a coalescing notification channel for state changes.
func (m *Manager) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	m.listenerMu.Lock()
	m.listeners = append(m.listeners, ch)
	m.listenerMu.Unlock()
	return ch
}

func (m *Manager) handleConnect() {
	m.mu.Lock()
	m.state = StateConnected
	m.lastErr = nil
	m.mu.Unlock()
	m.notify()
	log.Printf("CONN: connected")

	// Reconnect ritual, in order: history, presence, notice. The history
	// fetch is best-effort; a failure only skips the refresh.
	m.refreshHistory()
	if err := m.Emit(event.New(event.KindJoin, &event.Join{
		User:        m.session.User(),
		DisplayName: m.session.DisplayName(),
		ChatID:      m.session.ActiveChat(),
	})); err != nil {
		log.Printf("CONN: join emit failed: %v", err)
	}
	m.store.AppendSystem("connected")
}

func (m *Manager) handleDisconnect(reason string) {
	m.mu.Lock()
	m.state = StateConnecting
	m.mu.Unlock()
	m.notify()
	log.Printf("CONN: disconnected (%s), reconnecting", reason)
	m.store.AppendSystem("connection lost, reconnecting")
}

func (m *Manager) handleError(err error) {
	m.mu.Lock()
	m.lastErr = err
	if m.state != StateConnected {
		m.state = StateError
	}
	m.mu.Unlock()
	m.notify()
	log.Printf("CONN: channel error: %v", err)
}

func (m *Manager) handleEvent(env event.Envelope) {
	payload, err := env.Decode()
	if err != nil {
		log.Printf("CONN: skipping event: %v", err)
		return
	}
	switch p := payload.(type) {
	case *event.Join:
		if p.User != m.session.User() {
			m.store.AppendSystem(displayOrUser(p.DisplayName, p.User) + " joined")
		}
	case *event.Message:
		m.store.ApplyRemote(p, time.Now())
	case *event.MessageUpdated:
		m.store.ApplyEdit(p.ID, p.Text, p.UpdatedAt)
	case *event.MessageDeleted:
		m.store.ApplyDelete(p.ID)
	case *event.ReactionUpdated:
		m.store.ApplyReactions(p.ID, p.Reactions)
	case *event.Chat:
		m.store.UpsertChat(&messages.Chat{
			ID:            p.ID,
			Name:          p.Name,
			Description:   p.Description,
			ImageURL:      p.ImageURL,
			LastMessageAt: p.LastMessageAt,
			CreatedAt:     p.CreatedAt,
		})
	case *event.CallSignal, *event.Participant:
		m.mu.Lock()
		cm := m.calls
		m.mu.Unlock()
		if cm != nil {
			cm.HandleEvent(env.Kind, payload)
		}
	}
}

// refreshHistory swaps in the server's view of the active chat. The endpoint
// returns newest first; the store wants chronological order.
func (m *Manager) refreshHistory() {
	if m.api == nil {
		return
	}
	epoch := m.store.BeginHistory()
	wire, err := m.api.Messages(m.session.ActiveChat())
	if err != nil {
		log.Printf("CONN: history fetch failed: %v", err)
		return
	}
	msgs := make([]*messages.Message, 0, len(wire))
	for i := len(wire) - 1; i >= 0; i-- {
		msgs = append(msgs, messages.FromEvent(&wire[i]))
	}
	m.store.ReplaceHistory(msgs, epoch)
}

func (m *Manager) notify() {
	m.listenerMu.RLock()
	for _, ch := range m.listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	m.listenerMu.RUnlock()
}

// toggleReaction returns a fresh mapping with the user's reaction under emoji
// added, or removed if already present. Inputs are never mutated.
func toggleReaction(current map[string][]string, emoji, user string) map[string][]string {
	updated := make(map[string][]string, len(current)+1)
	for k, users := range current {
		updated[k] = append([]string(nil), users...)
	}
	users := updated[emoji]
	for i, u := range users {
		if u == user {
			users = append(users[:i], users[i+1:]...)
			if len(users) == 0 {
				delete(updated, emoji)
			} else {
				updated[emoji] = users
			}
			return updated
		}
	}
	updated[emoji] = append(users, user)
	return updated
}

func messageTypeFor(media *Media) messages.Type {
	if media.MessageType != "" {
		return messages.Type(media.MessageType)
	}
	switch {
	case strings.HasPrefix(media.MediaType, "image/"):
		return messages.TypeImage
	case strings.HasPrefix(media.MediaType, "audio/"):
		return messages.TypeAudio
	case strings.HasPrefix(media.MediaType, "video/"):
		return messages.TypeVideo
	default:
		return messages.TypeFile
	}
}

func displayOrUser(display, user string) string {
	if display != "" {
		return display
	}
	return user
}
