package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"parley/internal/event"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMsgSize      = 64 * 1024
	rateLimitWindow = 3 * time.Second
	rateLimitBurst  = 8
)

// Client wraps a single websocket connection and a buffered send queue.
type Client struct {
	room *Room
	conn *websocket.Conn
	send chan []byte

	mu           sync.Mutex
	username     string
	displayName  string
	messageTimes []time.Time
}

func newClient(room *Room, conn *websocket.Conn, username, displayName string) *Client {
	if displayName == "" {
		displayName = username
	}
	return &Client{
		room:         room,
		conn:         conn,
		send:         make(chan []byte, 256),
		username:     username,
		displayName:  displayName,
		messageTimes: make([]time.Time, 0, rateLimitBurst),
	}
}

func (client *Client) identity() (string, string) {
	client.mu.Lock()
	defer client.mu.Unlock()
	return client.username, client.displayName
}

func (client *Client) setIdentity(username, displayName string) {
	client.mu.Lock()
	if username != "" {
		client.username = username
	}
	if displayName != "" {
		client.displayName = displayName
	}
	client.mu.Unlock()
}

func (client *Client) readPump(s *Server) {
	defer func() {
		client.room.unregister <- client
		client.conn.Close()
		s.hub.deleteRoomIfEmpty(client.room.chatID)
		s.handleDisconnect(client)
	}()
	client.conn.SetReadLimit(maxMsgSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			// normal close or read error, the deferred cleanup takes over
			break
		}
		env, err := event.Unmarshal(payload)
		if err != nil {
			s.logf("dropping malformed frame from %s: %v", client.username, err)
			continue
		}
		s.handleInbound(client, env)
	}
}

func (client *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case message, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// allowMessage applies a sliding-window rate limit to content messages.
func (client *Client) allowMessage(now time.Time) bool {
	client.mu.Lock()
	defer client.mu.Unlock()
	cutoff := now.Add(-rateLimitWindow)
	idx := 0
	for _, ts := range client.messageTimes {
		if ts.After(cutoff) {
			client.messageTimes[idx] = ts
			idx++
		}
	}
	client.messageTimes = client.messageTimes[:idx]
	if len(client.messageTimes) >= rateLimitBurst {
		return false
	}
	client.messageTimes = append(client.messageTimes, now)
	return true
}

// deliver queues a frame for this client only, dropping it if the client is
// too slow.
func (client *Client) deliver(payload []byte) {
	select {
	case client.send <- payload:
	default:
	}
}
