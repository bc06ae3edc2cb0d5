package messages

import (
	"time"

	"github.com/google/uuid"

	"parley/internal/event"
)

// Type classifies the renderable content of a message.
type Type string

const (
	TypeText    Type = "text"
	TypeImage   Type = "image"
	TypeAudio   Type = "audio"
	TypeVideo   Type = "video"
	TypeFile    Type = "file"
	TypeSticker Type = "sticker"
)

// Message is one record in the local view. Ids are generated locally for
// optimistic entries; server-delivered records keep the server id. A deleted
// message keeps its id and position, only its content is suppressed.
type Message struct {
	ID            string
	Text          string
	Sender        string
	DisplayName   string
	Timestamp     int64 // epoch millis
	ChatID        string
	MessageType   Type
	MediaURL      string
	MediaType     string
	MediaDuration int64
	FileName      string
	FileSize      int64
	StickerID     string
	ReplyToID     string
	Reactions     map[string][]string
	IsSystem      bool
	IsMe          bool
	UpdatedAt     int64
	IsDeleted     bool
	IsForwarded   bool
	ForwardedFrom string
}

// Chat is the read-mostly server-owned chat descriptor.
type Chat struct {
	ID            string
	Name          string
	Description   string
	ImageURL      string
	LastMessageAt int64
	CreatedAt     int64
}

// FromEvent converts a wire message into a local record.
func FromEvent(ev *event.Message) *Message {
	msgType := Type(ev.MessageType)
	if msgType == "" {
		msgType = TypeText
	}
	ts := ev.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	id := ev.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &Message{
		ID:            id,
		Text:          ev.Text,
		Sender:        ev.User,
		IsSystem:      ev.User == "system",
		DisplayName:   ev.DisplayName,
		Timestamp:     ts,
		ChatID:        ev.ChatID,
		MessageType:   msgType,
		MediaURL:      ev.MediaURL,
		MediaType:     ev.MediaType,
		MediaDuration: ev.MediaDuration,
		FileName:      ev.FileName,
		FileSize:      ev.FileSize,
		StickerID:     ev.StickerID,
		ReplyToID:     ev.ReplyToID,
		IsForwarded:   ev.IsForwarded,
		ForwardedFrom: ev.ForwardedFrom,
		Reactions:     ev.Reactions,
		UpdatedAt:     ev.UpdatedAt,
		IsDeleted:     ev.IsDeleted,
	}
}

// System builds a local-only system notice (disconnect reasons, join banners).
func System(text string) *Message {
	return &Message{
		ID:          uuid.NewString(),
		Text:        text,
		Sender:      "system",
		Timestamp:   time.Now().UnixMilli(),
		MessageType: TypeText,
		IsSystem:    true,
	}
}
