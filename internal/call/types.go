// Package call owns the client's call session: a single active audio/video
// call, its participants and their media streams, and the session-level
// signaling contract. Coupling to the transport is via the Signaler interface
// only; media negotiation internals stay behind the Capturer.
package call

import (
	"context"
	"errors"

	"parley/internal/event"
)

// Status is the call session lifecycle state.
type Status int

const (
	StatusIdle Status = iota
	StatusCalling
	StatusIncoming
	StatusConnecting
	StatusInCall
)

func (s Status) String() string {
	switch s {
	case StatusCalling:
		return "calling"
	case StatusIncoming:
		return "incoming"
	case StatusConnecting:
		return "connecting"
	case StatusInCall:
		return "in-call"
	default:
		return "idle"
	}
}

// Mode selects the media requested for a call.
type Mode string

const (
	ModeAudio Mode = "audio"
	ModeVideo Mode = "video"
)

// Stream is a live media handle. Close must stop the underlying capture
// device or remote track; it is required on every path out of a call.
type Stream interface {
	ID() string
	Close() error
}

// Capturer acquires local media for a call mode. Capture is a cancellable
// scoped acquisition: the returned stream must be closed by the caller even
// when the surrounding transition later fails.
type Capturer interface {
	Capture(ctx context.Context, mode Mode) (Stream, error)
}

// Signaler is the only surface the call package needs from the realtime
// layer. The connection manager satisfies it with the live event channel.
type Signaler interface {
	Emit(env event.Envelope) error
}

// Identity names the local party for outbound signals.
type Identity struct {
	User        string
	DisplayName string
}

var (
	// ErrCallInProgress rejects a second call attempt while a session is
	// active. Sessions are never silently overwritten.
	ErrCallInProgress = errors.New("a call is already in progress")

	// ErrNoIncomingCall means accept/decline was invoked with nothing ringing.
	ErrNoIncomingCall = errors.New("no incoming call")

	// ErrNotInCall means EndCall was invoked from idle.
	ErrNotInCall = errors.New("no active call")

	// ErrMediaUnsupported is returned by the device capturer on platforms
	// without camera/microphone driver support.
	ErrMediaUnsupported = errors.New("media capture not supported on this platform")
)

// IncomingCall records a ringing invite before any media is touched.
type IncomingCall struct {
	CallID      string
	From        string
	DisplayName string
	Mode        Mode
}
