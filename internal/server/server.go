// Package server is the authoritative side of the event protocol: it assigns
// message ids and timestamps, persists them, and fans events out to every
// client in the chat's room. Call signals pass through without interpretation.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"parley/internal/event"
	"parley/internal/storage"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// all origins allowed in development; tighten before exposing this
		// server publicly
		return true
	},
}

// Server ties the hub, the storage layer, and the ambient trackers together.
type Server struct {
	hub      *Hub
	store    *storage.Store
	metrics  *Metrics
	presence *PresenceTracker

	uploadDir     string
	maxUploadSize int64
	uploadLimiter *RateLimiter
}

// New builds a server around an opened store. uploadDir is created lazily on
// the first upload.
func New(store *storage.Store, uploadDir string, maxUploadSize int64) *Server {
	if maxUploadSize <= 0 {
		maxUploadSize = 32 << 20
	}
	return &Server{
		hub:           NewHub(),
		store:         store,
		metrics:       NewMetrics(),
		presence:      NewPresenceTracker(),
		uploadDir:     uploadDir,
		maxUploadSize: maxUploadSize,
		uploadLimiter: NewRateLimiter(30, time.Minute),
	}
}

// Metrics exposes the counters, mostly for tests.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// ServeWS upgrades the request and joins the client to the chat's room. The
// chat and identity come from query parameters; a later join event can refresh
// the identity.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	chatID := r.URL.Query().Get("chat")
	if chatID == "" {
		chatID = storage.DefaultChatID
	}
	username := r.URL.Query().Get("user")
	if username == "" {
		http.Error(w, "missing user query param", http.StatusBadRequest)
		return
	}
	displayName := r.URL.Query().Get("name")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logf("upgrade error: %v", err)
		return
	}

	room := s.hub.getOrCreateRoom(chatID)
	client := newClient(room, conn, username, displayName)
	room.register <- client
	s.metrics.IncConn()

	go client.writePump()
	go client.readPump(s)
}

// handleInbound dispatches one decoded frame from a client.
func (s *Server) handleInbound(client *Client, env event.Envelope) {
	s.metrics.IncEvent()
	payload, err := env.Decode()
	if err != nil {
		s.logf("skipping event from %s: %v", client.username, err)
		return
	}
	switch p := payload.(type) {
	case *event.Join:
		s.handleJoin(client, p)
	case *event.Message:
		s.handleMessage(client, p)
	case *event.MessageUpdated:
		s.handleEdit(client, p)
	case *event.MessageDeleted:
		s.handleDelete(client, p)
	case *event.ReactionUpdated:
		s.handleReactions(client, env, p)
	case *event.CallSignal, *event.Participant:
		s.relayCallSignal(client, env, payload)
	}
}

func (s *Server) handleJoin(client *Client, p *event.Join) {
	client.setIdentity(p.User, p.DisplayName)
	username, displayName := client.identity()
	if s.presence.Increment(username) == 1 {
		// first connection for this user, announce to the room
		frame, err := event.New(event.KindJoin, &event.Join{
			User:        username,
			DisplayName: displayName,
			ChatID:      client.room.chatID,
		}).Marshal()
		if err == nil {
			client.room.send(frame)
		}
	}
}

// handleDisconnect runs after a client's read pump exits. The last connection
// of a user going away produces a leave notice.
func (s *Server) handleDisconnect(client *Client) {
	s.metrics.DecConn()
	username, displayName := client.identity()
	if username == "" {
		return
	}
	if s.presence.Decrement(username) == 0 {
		name := displayName
		if name == "" {
			name = username
		}
		frame, err := event.New(event.KindMessage, &event.Message{
			ID:        uuid.NewString(),
			User:      "system",
			Text:      name + " left",
			ChatID:    client.room.chatID,
			Timestamp: time.Now().UnixMilli(),
		}).Marshal()
		if err == nil {
			client.room.send(frame)
		}
	}
}

// handleMessage assigns id and timestamp, persists, and broadcasts to the
// whole room. The sender gets the echo too; its reconciler drops it.
func (s *Server) handleMessage(client *Client, p *event.Message) {
	now := time.Now()
	if !client.allowMessage(now) {
		s.metrics.IncRateLimited()
		s.notifyRateLimit(client, now)
		return
	}
	username, displayName := client.identity()
	p.User = username
	if p.DisplayName == "" {
		p.DisplayName = displayName
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Timestamp == 0 {
		p.Timestamp = now.UnixMilli()
	}
	if p.ChatID == "" {
		p.ChatID = client.room.chatID
	}

	record := &storage.Message{
		ID:            p.ID,
		ChatID:        p.ChatID,
		User:          p.User,
		DisplayName:   p.DisplayName,
		Text:          p.Text,
		Timestamp:     p.Timestamp,
		MessageType:   p.MessageType,
		MediaURL:      p.MediaURL,
		MediaType:     p.MediaType,
		MediaDuration: p.MediaDuration,
		FileName:      p.FileName,
		FileSize:      p.FileSize,
		StickerID:     p.StickerID,
		ReplyToID:     p.ReplyToID,
		IsForwarded:   p.IsForwarded,
		ForwardedFrom: p.ForwardedFrom,
	}
	if err := s.store.InsertMessage(context.Background(), record); err != nil {
		if !errors.Is(err, storage.ErrMessageExists) {
			s.logf("persist message %s: %v", p.ID, err)
			return
		}
		// duplicate delivery of a known id, fall through and refan
	}
	s.metrics.IncMessage()
	frame, err := event.New(event.KindMessage, p).Marshal()
	if err != nil {
		s.logf("encode message %s: %v", p.ID, err)
		return
	}
	client.room.send(frame)
}

// handleEdit validates ownership before persisting and fanning out.
func (s *Server) handleEdit(client *Client, p *event.MessageUpdated) {
	username, _ := client.identity()
	p.User = username
	if p.UpdatedAt == 0 {
		p.UpdatedAt = time.Now().UnixMilli()
	}
	if err := s.store.UpdateMessageText(context.Background(), p.ID, username, p.Text, p.UpdatedAt); err != nil {
		s.logf("edit %s by %s rejected: %v", p.ID, username, err)
		return
	}
	frame, err := event.New(event.KindMessageUpdated, p).Marshal()
	if err != nil {
		return
	}
	client.room.send(frame)
}

func (s *Server) handleDelete(client *Client, p *event.MessageDeleted) {
	username, _ := client.identity()
	p.User = username
	if err := s.store.MarkDeleted(context.Background(), p.ID, username); err != nil {
		s.logf("delete %s by %s rejected: %v", p.ID, username, err)
		return
	}
	frame, err := event.New(event.KindMessageDeleted, p).Marshal()
	if err != nil {
		return
	}
	client.room.send(frame)
}

func (s *Server) handleReactions(client *Client, env event.Envelope, p *event.ReactionUpdated) {
	if err := s.store.SetReactions(context.Background(), p.ID, p.Reactions); err != nil {
		s.logf("reactions for %s rejected: %v", p.ID, err)
		return
	}
	frame, err := env.Marshal()
	if err != nil {
		return
	}
	client.room.send(frame)
}

// relayCallSignal passes signaling to the other room members without
// interpretation. The sender is excluded; its call manager already moved.
func (s *Server) relayCallSignal(client *Client, env event.Envelope, payload any) {
	username, displayName := client.identity()
	switch p := payload.(type) {
	case *event.CallSignal:
		if p.From == "" {
			p.From = username
		}
		if p.DisplayName == "" {
			p.DisplayName = displayName
		}
		env = event.New(env.Kind, p)
	case *event.Participant:
		if p.UserID == "" {
			p.UserID = username
		}
		if p.DisplayName == "" {
			p.DisplayName = displayName
		}
		env = event.New(env.Kind, p)
	}
	frame, err := env.Marshal()
	if err != nil {
		return
	}
	client.room.sendExcept(frame, client)
}

func (s *Server) notifyRateLimit(client *Client, now time.Time) {
	frame, err := event.New(event.KindMessage, &event.Message{
		ID:        uuid.NewString(),
		User:      "system",
		Text:      "You're sending messages too quickly. Please wait a moment and try again.",
		ChatID:    client.room.chatID,
		Timestamp: now.UnixMilli(),
	}).Marshal()
	if err != nil {
		return
	}
	client.deliver(frame)
}

func (s *Server) logf(format string, args ...any) {
	log.Printf("HUB: "+format, args...)
}
