package call

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"parley/internal/event"
)

// Manager is the call session state machine. At most one session exists at a
// time; every path back to idle releases the local stream and all participant
// streams. Inbound signaling is fed through HandleEvent from the same
// dispatch goroutine that drives message events.
type Manager struct {
	sig      Signaler
	capturer Capturer
	// identity is read at the moment of use so a settings change mid-call
	// does not sign outbound signals with a stale name.
	identity func() Identity

	mu          sync.Mutex
	status      Status
	mode        Mode
	callID      string
	peerName    string
	incoming    *IncomingCall
	localStream Stream
	registry    *Registry
	callErr     error

	listenerMu sync.RWMutex
	listeners  []chan struct{}
}

// NewManager creates an idle call manager.
func NewManager(sig Signaler, capturer Capturer, identity func() Identity) *Manager {
	if identity == nil {
		identity = func() Identity { return Identity{} }
	}
	return &Manager{
		sig:      sig,
		capturer: capturer,
		identity: identity,
		registry: NewRegistry(),
	}
}

// PlaceCall starts an outbound call in the given mode. The local stream is
// captured first so the caller sees their own preview while ringing. A second
// attempt while any session is active is rejected, never merged.
func (m *Manager) PlaceCall(ctx context.Context, mode Mode) error {
	m.mu.Lock()
	if m.status != StatusIdle {
		m.mu.Unlock()
		return ErrCallInProgress
	}
	m.mu.Unlock()

	stream, err := m.capturer.Capture(ctx, mode)
	if err != nil {
		m.fail(fmt.Errorf("media capture: %w", err))
		return err
	}

	id := uuid.NewString()
	me := m.identity()

	m.mu.Lock()
	if m.status != StatusIdle {
		// An invite slipped in while we were acquiring the device.
		m.mu.Unlock()
		_ = stream.Close()
		return ErrCallInProgress
	}
	m.status = StatusCalling
	m.mode = mode
	m.callID = id
	m.localStream = stream
	m.callErr = nil
	m.mu.Unlock()

	signal := event.CallSignal{CallID: id, From: me.User, DisplayName: me.DisplayName, Mode: string(mode)}
	if err := m.sig.Emit(event.New(event.KindCallInvite, &signal)); err != nil {
		m.fail(fmt.Errorf("send invite: %w", err))
		return err
	}
	log.Printf("CALL [%s]: placed (%s)", id, mode)
	m.notify()
	return nil
}

// AcceptCall answers the ringing invite: capture media for the requested
// mode, then emit acceptance. Capture failure aborts the transition with no
// partial state; a captured stream is released if the accept signal fails.
func (m *Manager) AcceptCall(ctx context.Context) error {
	m.mu.Lock()
	if m.status != StatusIncoming || m.incoming == nil {
		m.mu.Unlock()
		return ErrNoIncomingCall
	}
	inc := *m.incoming
	m.mu.Unlock()

	stream, err := m.capturer.Capture(ctx, inc.Mode)
	if err != nil {
		m.fail(fmt.Errorf("media capture: %w", err))
		return err
	}

	me := m.identity()
	signal := event.CallSignal{CallID: inc.CallID, From: me.User, DisplayName: me.DisplayName, Mode: string(inc.Mode)}
	if err := m.sig.Emit(event.New(event.KindCallAccept, &signal)); err != nil {
		_ = stream.Close()
		m.fail(fmt.Errorf("send accept: %w", err))
		return err
	}

	m.mu.Lock()
	m.status = StatusConnecting
	m.mode = inc.Mode
	m.callID = inc.CallID
	m.peerName = displayOrUser(inc.DisplayName, inc.From)
	m.localStream = stream
	m.incoming = nil
	m.callErr = nil
	m.mu.Unlock()

	m.announceStream(inc.CallID, stream)
	log.Printf("CALL [%s]: accepted (%s)", inc.CallID, inc.Mode)
	m.notify()
	return nil
}

// announceStream tells the other call members our media is available. The
// session contract only carries the stream handle id; the negotiation bytes
// travel on their own plane.
func (m *Manager) announceStream(callID string, stream Stream) {
	me := m.identity()
	joined := event.Participant{CallID: callID, UserID: me.User, DisplayName: me.DisplayName}
	if stream != nil {
		joined.StreamID = stream.ID()
	}
	if err := m.sig.Emit(event.New(event.KindParticipantJoin, &joined)); err != nil {
		log.Printf("CALL [%s]: stream announce failed: %v", callID, err)
	}
}

// DeclineCall refuses the ringing invite. No media is ever captured.
func (m *Manager) DeclineCall() error {
	m.mu.Lock()
	if m.status != StatusIncoming || m.incoming == nil {
		m.mu.Unlock()
		return ErrNoIncomingCall
	}
	inc := *m.incoming
	m.incoming = nil
	m.status = StatusIdle
	m.mu.Unlock()

	me := m.identity()
	signal := event.CallSignal{CallID: inc.CallID, From: me.User, DisplayName: me.DisplayName}
	_ = m.sig.Emit(event.New(event.KindCallDecline, &signal))
	log.Printf("CALL [%s]: declined", inc.CallID)
	m.notify()
	return nil
}

// EndCall is the only transition out of in-call. It releases the local stream
// and every participant stream, then emits the termination signal.
func (m *Manager) EndCall() error {
	m.mu.Lock()
	switch m.status {
	case StatusCalling, StatusConnecting, StatusInCall:
	default:
		m.mu.Unlock()
		return ErrNotInCall
	}
	id := m.callID
	m.resetLocked()
	m.mu.Unlock()

	me := m.identity()
	// Leave first so remaining members in a multi-party room can drop our
	// stream even if they keep the call running.
	left := event.Participant{CallID: id, UserID: me.User, DisplayName: me.DisplayName}
	_ = m.sig.Emit(event.New(event.KindParticipantLeft, &left))
	signal := event.CallSignal{CallID: id, From: me.User, DisplayName: me.DisplayName}
	_ = m.sig.Emit(event.New(event.KindCallEnd, &signal))
	log.Printf("CALL [%s]: ended", id)
	m.notify()
	return nil
}

// HandleEvent routes one inbound signaling event. It is called from the
// connection manager's dispatch path; payloads for other kinds are ignored.
func (m *Manager) HandleEvent(kind event.Kind, payload any) {
	switch kind {
	case event.KindCallInvite:
		if sig, ok := payload.(*event.CallSignal); ok {
			m.handleInvite(sig)
		}
	case event.KindCallAccept:
		if sig, ok := payload.(*event.CallSignal); ok {
			m.handleAccept(sig)
		}
	case event.KindCallDecline:
		if sig, ok := payload.(*event.CallSignal); ok {
			m.handleRemoteEnd(sig, "declined")
		}
	case event.KindCallEnd:
		if sig, ok := payload.(*event.CallSignal); ok {
			m.handleRemoteEnd(sig, "ended")
		}
	case event.KindParticipantJoin:
		if p, ok := payload.(*event.Participant); ok {
			m.handleParticipantJoined(p)
		}
	case event.KindParticipantLeft:
		if p, ok := payload.(*event.Participant); ok {
			m.handleParticipantLeft(p)
		}
	}
}

func (m *Manager) handleInvite(sig *event.CallSignal) {
	me := m.identity()
	if sig.From == me.User {
		return
	}
	mode := Mode(sig.Mode)
	if mode != ModeVideo {
		mode = ModeAudio
	}

	m.mu.Lock()
	if m.status != StatusIdle {
		m.mu.Unlock()
		// Busy: refuse without disturbing the active session.
		busy := event.CallSignal{CallID: sig.CallID, From: me.User, Reason: "busy"}
		_ = m.sig.Emit(event.New(event.KindCallDecline, &busy))
		log.Printf("CALL [%s]: busy, auto-declined invite from %s", sig.CallID, sig.From)
		return
	}
	m.status = StatusIncoming
	m.incoming = &IncomingCall{
		CallID:      sig.CallID,
		From:        sig.From,
		DisplayName: sig.DisplayName,
		Mode:        mode,
	}
	m.peerName = displayOrUser(sig.DisplayName, sig.From)
	m.callErr = nil
	m.mu.Unlock()

	log.Printf("CALL [%s]: incoming from %s (%s)", sig.CallID, sig.From, mode)
	m.notify()
}

// handleAccept records the accepting peer and announces the caller's own
// stream in return, so both sides learn of each other's media.
func (m *Manager) handleAccept(sig *event.CallSignal) {
	m.mu.Lock()
	if m.status != StatusCalling || sig.CallID != m.callID {
		m.mu.Unlock()
		return
	}
	m.peerName = displayOrUser(sig.DisplayName, sig.From)
	stream := m.localStream
	m.mu.Unlock()

	m.announceStream(sig.CallID, stream)
	log.Printf("CALL [%s]: %s accepted, waiting for media", sig.CallID, sig.From)
	m.notify()
}

func (m *Manager) handleRemoteEnd(sig *event.CallSignal, what string) {
	m.mu.Lock()
	if m.status == StatusIdle {
		m.mu.Unlock()
		return
	}
	activeID := m.callID
	if m.incoming != nil {
		activeID = m.incoming.CallID
	}
	if sig.CallID != activeID {
		m.mu.Unlock()
		return
	}
	m.resetLocked()
	m.mu.Unlock()
	log.Printf("CALL [%s]: remote %s", sig.CallID, what)
	m.notify()
}

func (m *Manager) handleParticipantJoined(p *event.Participant) {
	me := m.identity()
	if p.UserID == me.User {
		return
	}
	m.mu.Lock()
	switch m.status {
	case StatusCalling, StatusConnecting, StatusInCall:
	default:
		m.mu.Unlock()
		return
	}
	if p.CallID != m.callID {
		m.mu.Unlock()
		return
	}
	m.registry.Upsert(p.UserID, displayOrUser(p.DisplayName, p.UserID), &remoteStream{id: p.StreamID})
	became := false
	if m.status != StatusInCall {
		m.status = StatusInCall
		became = true
	}
	m.mu.Unlock()

	if became {
		log.Printf("CALL [%s]: first participant media, in call", p.CallID)
	}
	m.notify()
}

// handleParticipantLeft removes the peer's stream. The last participant
// leaving does not end the call; only EndCall leaves in-call.
func (m *Manager) handleParticipantLeft(p *event.Participant) {
	m.mu.Lock()
	if m.status != StatusInCall || p.CallID != m.callID {
		m.mu.Unlock()
		return
	}
	m.registry.Remove(p.UserID)
	m.mu.Unlock()
	log.Printf("CALL [%s]: participant %s left", p.CallID, p.UserID)
	m.notify()
}

// fail resolves any unrecoverable error back to idle, releasing all media.
func (m *Manager) fail(err error) {
	m.mu.Lock()
	m.resetLocked()
	m.callErr = err
	m.mu.Unlock()
	log.Printf("CALL: error: %v", err)
	m.notify()
}

// resetLocked releases the local stream and the whole registry and returns
// the session to idle. Callers hold m.mu.
func (m *Manager) resetLocked() {
	if m.localStream != nil {
		_ = m.localStream.Close()
		m.localStream = nil
	}
	m.registry.Clear()
	m.status = StatusIdle
	m.callID = ""
	m.peerName = ""
	m.incoming = nil
}

// Status returns the current session state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Mode returns the media mode of the active session.
func (m *Manager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// PeerName returns the display name of the remote party, when known.
func (m *Manager) PeerName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peerName
}

// Incoming returns the ringing invite while status is incoming.
func (m *Manager) Incoming() *IncomingCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.incoming == nil {
		return nil
	}
	inc := *m.incoming
	return &inc
}

// LocalStream returns the live capture handle, nil outside a session.
func (m *Manager) LocalStream() Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localStream
}

// Participants exposes the registry for the UI.
func (m *Manager) Participants() *Registry {
	return m.registry
}

// CallError returns the last terminal call error, cleared on the next
// successful transition.
func (m *Manager) CallError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callErr
}

// Subscribe returns a coalescing change-notification channel for the UI.
func (m *Manager) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	m.listenerMu.Lock()
	m.listeners = append(m.listeners, ch)
	m.listenerMu.Unlock()
	return ch
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

// remoteStream is the handle for a participant's media. The negotiation layer
// owns the actual tracks; closing the handle releases our reference.
type remoteStream struct{ id string }

func (r *remoteStream) ID() string   { return r.id }
func (r *remoteStream) Close() error { return nil }

func displayOrUser(display, user string) string {
	if display != "" {
		return display
	}
	return user
}
