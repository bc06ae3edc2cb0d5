package call

import (
	"context"
	"errors"
	"testing"

	"parley/internal/event"
)

type fakeStream struct {
	id     string
	closed bool
}

func (f *fakeStream) ID() string { return f.id }
func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

type fakeCapturer struct {
	err      error
	captured []*fakeStream
}

func (f *fakeCapturer) Capture(_ context.Context, mode Mode) (Stream, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := &fakeStream{id: "local-" + string(mode)}
	f.captured = append(f.captured, s)
	return s, nil
}

type fakeSignaler struct {
	err     error
	emitted []event.Envelope
}

func (f *fakeSignaler) Emit(env event.Envelope) error {
	if f.err != nil {
		return f.err
	}
	f.emitted = append(f.emitted, env)
	return nil
}

func (f *fakeSignaler) kinds() []event.Kind {
	out := make([]event.Kind, len(f.emitted))
	for i, env := range f.emitted {
		out[i] = env.Kind
	}
	return out
}

func newTestManager(sig *fakeSignaler, cap *fakeCapturer) *Manager {
	return NewManager(sig, cap, func() Identity {
		return Identity{User: "alice", DisplayName: "Alice"}
	})
}

func TestPlaceAndEndCall(t *testing.T) {
	sig := &fakeSignaler{}
	cap := &fakeCapturer{}
	m := newTestManager(sig, cap)

	if err := m.PlaceCall(context.Background(), ModeVideo); err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	if m.Status() != StatusCalling {
		t.Fatalf("expected calling, got %s", m.Status())
	}
	if m.LocalStream() == nil {
		t.Fatalf("expected a live local stream while calling")
	}

	if err := m.EndCall(); err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	if m.Status() != StatusIdle {
		t.Fatalf("expected idle after EndCall, got %s", m.Status())
	}
	if m.LocalStream() != nil {
		t.Fatalf("local stream must be released on EndCall")
	}
	if m.Participants().Len() != 0 {
		t.Fatalf("registry must be empty after EndCall")
	}
	if !cap.captured[0].closed {
		t.Fatalf("capture device left open after EndCall")
	}
	kinds := sig.kinds()
	want := []event.Kind{event.KindCallInvite, event.KindParticipantLeft, event.KindCallEnd}
	if len(kinds) != len(want) {
		t.Fatalf("unexpected signals: %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("unexpected signals: %v", kinds)
		}
	}
}

func TestSecondCallRejected(t *testing.T) {
	m := newTestManager(&fakeSignaler{}, &fakeCapturer{})
	if err := m.PlaceCall(context.Background(), ModeAudio); err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	if err := m.PlaceCall(context.Background(), ModeVideo); !errors.Is(err, ErrCallInProgress) {
		t.Fatalf("expected ErrCallInProgress, got %v", err)
	}
	if m.Mode() != ModeAudio {
		t.Fatalf("second attempt must not overwrite the active session")
	}
}

func TestIncomingDeclineNeverCaptures(t *testing.T) {
	sig := &fakeSignaler{}
	cap := &fakeCapturer{}
	m := newTestManager(sig, cap)

	m.HandleEvent(event.KindCallInvite, &event.CallSignal{CallID: "c1", From: "bob", DisplayName: "Bob", Mode: "video"})
	if m.Status() != StatusIncoming {
		t.Fatalf("expected incoming, got %s", m.Status())
	}
	inc := m.Incoming()
	if inc == nil || inc.From != "bob" || inc.Mode != ModeVideo {
		t.Fatalf("unexpected incoming record: %+v", inc)
	}

	if err := m.DeclineCall(); err != nil {
		t.Fatalf("DeclineCall: %v", err)
	}
	if m.Status() != StatusIdle {
		t.Fatalf("expected idle after decline, got %s", m.Status())
	}
	if len(cap.captured) != 0 {
		t.Fatalf("decline must never touch the capture device")
	}
	kinds := sig.kinds()
	if len(kinds) != 1 || kinds[0] != event.KindCallDecline {
		t.Fatalf("unexpected signals: %v", kinds)
	}
}

func TestAcceptFlowToInCall(t *testing.T) {
	sig := &fakeSignaler{}
	cap := &fakeCapturer{}
	m := newTestManager(sig, cap)

	m.HandleEvent(event.KindCallInvite, &event.CallSignal{CallID: "c1", From: "bob", Mode: "audio"})
	if err := m.AcceptCall(context.Background()); err != nil {
		t.Fatalf("AcceptCall: %v", err)
	}
	if m.Status() != StatusConnecting {
		t.Fatalf("expected connecting after accept, got %s", m.Status())
	}

	m.HandleEvent(event.KindParticipantJoin, &event.Participant{CallID: "c1", UserID: "bob", DisplayName: "Bob", StreamID: "s1"})
	if m.Status() != StatusInCall {
		t.Fatalf("expected in-call once a participant stream arrives, got %s", m.Status())
	}
	if m.Participants().Len() != 1 {
		t.Fatalf("expected one participant, got %d", m.Participants().Len())
	}
}

// joinAnnounce digs the last participantJoined envelope out of the emitted
// signals.
func joinAnnounce(t *testing.T, sig *fakeSignaler) *event.Participant {
	t.Helper()
	for i := len(sig.emitted) - 1; i >= 0; i-- {
		if sig.emitted[i].Kind != event.KindParticipantJoin {
			continue
		}
		payload, err := sig.emitted[i].Decode()
		if err != nil {
			t.Fatalf("decode announce: %v", err)
		}
		return payload.(*event.Participant)
	}
	t.Fatalf("no participantJoined was emitted: %v", sig.kinds())
	return nil
}

func TestAcceptAnnouncesLocalStream(t *testing.T) {
	sig := &fakeSignaler{}
	cap := &fakeCapturer{}
	m := newTestManager(sig, cap)

	m.HandleEvent(event.KindCallInvite, &event.CallSignal{CallID: "c1", From: "bob", Mode: "audio"})
	if err := m.AcceptCall(context.Background()); err != nil {
		t.Fatalf("AcceptCall: %v", err)
	}

	joined := joinAnnounce(t, sig)
	if joined.CallID != "c1" || joined.UserID != "alice" {
		t.Fatalf("unexpected announce: %+v", joined)
	}
	if joined.StreamID != cap.captured[0].ID() {
		t.Fatalf("announce must carry the captured stream id, got %q", joined.StreamID)
	}
}

func TestCallerReachesInCallAfterAccept(t *testing.T) {
	sig := &fakeSignaler{}
	cap := &fakeCapturer{}
	m := newTestManager(sig, cap)

	if err := m.PlaceCall(context.Background(), ModeVideo); err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	callID := joinCallID(t, sig)

	// The accepting peer's signal makes the caller announce its own stream.
	m.HandleEvent(event.KindCallAccept, &event.CallSignal{CallID: callID, From: "bob", DisplayName: "Bob"})
	joined := joinAnnounce(t, sig)
	if joined.UserID != "alice" || joined.StreamID != cap.captured[0].ID() {
		t.Fatalf("caller must announce its stream on accept, got %+v", joined)
	}
	if m.Status() != StatusCalling {
		t.Fatalf("still waiting for remote media, got %s", m.Status())
	}

	m.HandleEvent(event.KindParticipantJoin, &event.Participant{CallID: callID, UserID: "bob", DisplayName: "Bob", StreamID: "s-bob"})
	if m.Status() != StatusInCall {
		t.Fatalf("expected in-call once the peer's media arrives, got %s", m.Status())
	}
	if m.PeerName() != "Bob" {
		t.Fatalf("expected peer name Bob, got %q", m.PeerName())
	}
}

// joinCallID reads the call id from the emitted invite.
func joinCallID(t *testing.T, sig *fakeSignaler) string {
	t.Helper()
	for _, env := range sig.emitted {
		if env.Kind != event.KindCallInvite {
			continue
		}
		payload, err := env.Decode()
		if err != nil {
			t.Fatalf("decode invite: %v", err)
		}
		return payload.(*event.CallSignal).CallID
	}
	t.Fatalf("no invite was emitted")
	return ""
}

func TestLastParticipantLeavingDoesNotEndCall(t *testing.T) {
	m := newTestManager(&fakeSignaler{}, &fakeCapturer{})
	m.HandleEvent(event.KindCallInvite, &event.CallSignal{CallID: "c1", From: "bob", Mode: "audio"})
	if err := m.AcceptCall(context.Background()); err != nil {
		t.Fatalf("AcceptCall: %v", err)
	}
	m.HandleEvent(event.KindParticipantJoin, &event.Participant{CallID: "c1", UserID: "bob", StreamID: "s1"})
	m.HandleEvent(event.KindParticipantLeft, &event.Participant{CallID: "c1", UserID: "bob"})

	if m.Status() != StatusInCall {
		t.Fatalf("call must stay in-call when the last participant leaves, got %s", m.Status())
	}
	if m.Participants().Len() != 0 {
		t.Fatalf("registry should be empty, got %d", m.Participants().Len())
	}
}

func TestRemoteEndReleasesEverything(t *testing.T) {
	cap := &fakeCapturer{}
	m := newTestManager(&fakeSignaler{}, cap)
	m.HandleEvent(event.KindCallInvite, &event.CallSignal{CallID: "c1", From: "bob", Mode: "audio"})
	if err := m.AcceptCall(context.Background()); err != nil {
		t.Fatalf("AcceptCall: %v", err)
	}
	m.HandleEvent(event.KindParticipantJoin, &event.Participant{CallID: "c1", UserID: "bob", StreamID: "s1"})

	m.HandleEvent(event.KindCallEnd, &event.CallSignal{CallID: "c1", From: "bob"})
	if m.Status() != StatusIdle {
		t.Fatalf("expected idle after remote end, got %s", m.Status())
	}
	if !cap.captured[0].closed {
		t.Fatalf("local stream must be released on remote end")
	}
	if m.Participants().Len() != 0 {
		t.Fatalf("registry must be cleared on remote end")
	}
}

func TestCaptureFailureSurfacesAsCallError(t *testing.T) {
	cap := &fakeCapturer{err: errors.New("device denied")}
	m := newTestManager(&fakeSignaler{}, cap)

	m.HandleEvent(event.KindCallInvite, &event.CallSignal{CallID: "c1", From: "bob", Mode: "video"})
	if err := m.AcceptCall(context.Background()); err == nil {
		t.Fatalf("expected capture failure")
	}
	if m.Status() != StatusIdle {
		t.Fatalf("capture failure must resolve to idle, got %s", m.Status())
	}
	if m.CallError() == nil {
		t.Fatalf("expected callError to be surfaced")
	}
	if m.LocalStream() != nil {
		t.Fatalf("no stream may survive a failed accept")
	}
}

func TestAcceptSignalFailureReleasesCapturedStream(t *testing.T) {
	sig := &fakeSignaler{err: errors.New("transport down")}
	cap := &fakeCapturer{}
	m := newTestManager(sig, cap)

	m.HandleEvent(event.KindCallInvite, &event.CallSignal{CallID: "c1", From: "bob", Mode: "audio"})
	if err := m.AcceptCall(context.Background()); err == nil {
		t.Fatalf("expected accept to fail")
	}
	if len(cap.captured) != 1 || !cap.captured[0].closed {
		t.Fatalf("captured device must be released when the accept signal fails")
	}
	if m.Status() != StatusIdle {
		t.Fatalf("expected idle, got %s", m.Status())
	}
}

func TestBusyInviteAutoDeclined(t *testing.T) {
	sig := &fakeSignaler{}
	m := newTestManager(sig, &fakeCapturer{})
	if err := m.PlaceCall(context.Background(), ModeAudio); err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}

	m.HandleEvent(event.KindCallInvite, &event.CallSignal{CallID: "c2", From: "carol", Mode: "audio"})
	if m.Status() != StatusCalling {
		t.Fatalf("busy invite must not disturb the active session, got %s", m.Status())
	}
	kinds := sig.kinds()
	last := kinds[len(kinds)-1]
	if last != event.KindCallDecline {
		t.Fatalf("expected auto-decline for busy invite, got %v", kinds)
	}
}
