// Package event defines the closed set of events that flow between the client
// and the server over an EventChannel. Every event is an envelope carrying a
// kind tag and one typed payload; dispatch switches on the kind so an unknown
// or malformed event is a recoverable decode error, never a silent no-op on a
// mistyped string.
package event

import (
	"encoding/json"
	"fmt"
)

// Kind tags an event envelope.
type Kind string

const (
	KindJoin            Kind = "join"
	KindMessage         Kind = "message"
	KindMessageUpdated  Kind = "messageUpdated"
	KindMessageDeleted  Kind = "messageDeleted"
	KindReactionUpdated Kind = "reactionUpdated"
	KindChatCreated     Kind = "chatCreated"
	KindChatUpdated     Kind = "chatUpdated"
	KindCallInvite      Kind = "callInvite"
	KindCallAccept      Kind = "callAccept"
	KindCallDecline     Kind = "callDecline"
	KindCallEnd         Kind = "callEnd"
	KindParticipantJoin Kind = "participantJoined"
	KindParticipantLeft Kind = "participantLeft"
)

// Envelope is the wire form shared by every event.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrUnknownKind is returned by Decode for kinds outside the closed set.
var ErrUnknownKind = fmt.Errorf("unknown event kind")

// Join announces presence after a (re)connect.
type Join struct {
	User        string `json:"user"`
	DisplayName string `json:"displayName,omitempty"`
	ChatID      string `json:"chatId,omitempty"`
}

// Message is both the client send shape and the server broadcast shape.
// The server fills ID and Timestamp before fanning out.
type Message struct {
	ID            string `json:"id,omitempty"`
	User          string `json:"user"`
	DisplayName   string `json:"displayName,omitempty"`
	Text          string `json:"text"`
	ChatID        string `json:"chatId,omitempty"`
	Timestamp     int64  `json:"timestamp,omitempty"`
	MessageType   string `json:"messageType,omitempty"`
	MediaURL      string `json:"mediaUrl,omitempty"`
	MediaType     string `json:"mediaType,omitempty"`
	MediaDuration int64  `json:"mediaDuration,omitempty"`
	FileName      string `json:"fileName,omitempty"`
	FileSize      int64  `json:"fileSize,omitempty"`
	StickerID     string `json:"stickerId,omitempty"`
	ReplyToID     string `json:"replyToId,omitempty"`
	IsForwarded   bool   `json:"isForwarded,omitempty"`
	ForwardedFrom string `json:"forwardedFrom,omitempty"`

	// Post-delivery state, carried by history rows so a reconnect does not
	// lose edits, reactions, or the soft-delete marker.
	Reactions map[string][]string `json:"reactions,omitempty"`
	UpdatedAt int64               `json:"updatedAt,omitempty"`
	IsDeleted bool                `json:"isDeleted,omitempty"`
}

// MessageUpdated carries an edit of a previously delivered message.
type MessageUpdated struct {
	ID        string `json:"id"`
	User      string `json:"user,omitempty"`
	Text      string `json:"text"`
	UpdatedAt int64  `json:"updatedAt"`
}

// MessageDeleted soft-deletes a message by id.
type MessageDeleted struct {
	ID   string `json:"id"`
	User string `json:"user,omitempty"`
}

// ReactionUpdated replaces the full reaction mapping of one message.
type ReactionUpdated struct {
	ID        string              `json:"id"`
	Reactions map[string][]string `json:"reactions"`
}

// Chat is the payload of chatCreated/chatUpdated.
type Chat struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	ImageURL      string `json:"imageUrl,omitempty"`
	LastMessageAt int64  `json:"lastMessageAt,omitempty"`
	CreatedAt     int64  `json:"createdAt,omitempty"`
}

// CallSignal covers invite/accept/decline/end. Mode is "audio" or "video" and
// only meaningful on invite and accept.
type CallSignal struct {
	CallID      string `json:"callId"`
	From        string `json:"from"`
	DisplayName string `json:"displayName,omitempty"`
	Mode        string `json:"mode,omitempty"`
	ChatID      string `json:"chatId,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Participant announces that a peer's media became available (joined) or that
// the peer left the call. The negotiation bytes themselves never appear here;
// StreamID is the opaque handle the media layer resolved.
type Participant struct {
	CallID      string `json:"callId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	StreamID    string `json:"streamId,omitempty"`
}

// New wraps a typed payload in an envelope. It panics only on payloads that
// cannot be marshalled, which does not happen for the types in this package.
func New(kind Kind, payload any) Envelope {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("event: marshal %s payload: %v", kind, err))
	}
	return Envelope{Kind: kind, Payload: raw}
}

// Decode unmarshals the payload into the struct matching the envelope's kind
// and returns it as any. Callers type-switch on the result.
func (e Envelope) Decode() (any, error) {
	var out any
	switch e.Kind {
	case KindJoin:
		out = &Join{}
	case KindMessage:
		out = &Message{}
	case KindMessageUpdated:
		out = &MessageUpdated{}
	case KindMessageDeleted:
		out = &MessageDeleted{}
	case KindReactionUpdated:
		out = &ReactionUpdated{}
	case KindChatCreated, KindChatUpdated:
		out = &Chat{}
	case KindCallInvite, KindCallAccept, KindCallDecline, KindCallEnd:
		out = &CallSignal{}
	case KindParticipantJoin, KindParticipantLeft:
		out = &Participant{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, out); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", e.Kind, err)
		}
	}
	return out, nil
}

// Marshal renders the envelope for the wire.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal parses a wire frame into an envelope without touching the payload.
func Unmarshal(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	if env.Kind == "" {
		return Envelope{}, fmt.Errorf("event frame missing kind")
	}
	return env, nil
}
