// Package channel provides the EventChannel: a duplex, auto-reconnecting
// event stream to a single server endpoint. The websocket transport owns its
// own retry loop; callers never dial twice on top of it. All callbacks fire
// from one dispatch goroutine so handlers never race each other.
package channel

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"parley/internal/event"
)

const (
	baseRetryDelay = 1 * time.Second
	maxRetryDelay  = 5 * time.Second
	connectTimeout = 20 * time.Second
	writeWait      = 10 * time.Second
)

// Handlers are the callbacks an EventChannel fires. Any of them may be nil.
type Handlers struct {
	OnConnect    func()
	OnDisconnect func(reason string)
	OnError      func(err error)
	OnEvent      func(env event.Envelope)
}

// EventChannel is the transport surface the rest of the client builds on.
// The websocket implementation and the demo simulator both satisfy it.
type EventChannel interface {
	// Emit sends one event. Transport-level failures are reported through
	// OnError and the retry loop; Emit itself only fails on encode errors or
	// after Close.
	Emit(env event.Envelope) error
	// Close detaches all handlers and tears the transport down. No callback
	// fires after Close returns.
	Close()
}

// WebSocket is the production EventChannel over a gorilla websocket.
type WebSocket struct {
	url string

	mu       sync.Mutex
	handlers Handlers
	conn     *websocket.Conn
	closed   bool

	done    chan struct{}
	stopped chan struct{}
}

// Dial starts the connect/retry loop against url and returns immediately.
// The first successful transport connect fires OnConnect.
func Dial(url string, h Handlers) *WebSocket {
	ws := &WebSocket{
		url:      url,
		handlers: h,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go ws.run()
	return ws
}

// run is the single dispatch goroutine: it dials, reads, fires callbacks, and
// sleeps out the backoff between attempts. It exits only on Close.
func (ws *WebSocket) run() {
	defer close(ws.stopped)
	attempt := 0
	for {
		if ws.isClosed() {
			return
		}
		dialer := websocket.Dialer{HandshakeTimeout: connectTimeout}
		conn, _, err := dialer.Dial(ws.url, http.Header{})
		if err != nil {
			ws.callError(err)
			attempt++
			if !ws.sleep(retryDelay(attempt)) {
				return
			}
			continue
		}

		attempt = 0
		ws.setConn(conn)
		ws.callConnect()

		reason := ws.readLoop(conn)
		ws.setConn(nil)
		_ = conn.Close()
		if ws.isClosed() {
			return
		}
		ws.callDisconnect(reason)
		if !ws.sleep(retryDelay(1)) {
			return
		}
	}
}

// readLoop reads frames until the connection drops and returns the close
// reason. Undecodable frames are logged and skipped so one bad event cannot
// take the channel down.
func (ws *WebSocket) readLoop(conn *websocket.Conn) string {
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return err.Error()
		}
		if msgType != websocket.TextMessage {
			continue
		}
		env, err := event.Unmarshal(payload)
		if err != nil {
			log.Printf("CHANNEL: dropping malformed frame: %v", err)
			continue
		}
		ws.callEvent(env)
	}
}

// Emit encodes the envelope and writes it to the live connection.
func (ws *WebSocket) Emit(env event.Envelope) error {
	frame, err := env.Marshal()
	if err != nil {
		return err
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return errChannelClosed
	}
	if ws.conn == nil {
		return errNotConnected
	}
	_ = ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.conn.WriteMessage(websocket.TextMessage, frame)
}

// Close detaches handlers, closes the transport, and waits for the dispatch
// goroutine to finish so no stale callback can fire afterwards.
func (ws *WebSocket) Close() {
	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		return
	}
	ws.closed = true
	ws.handlers = Handlers{}
	conn := ws.conn
	ws.mu.Unlock()

	close(ws.done)
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}
	<-ws.stopped
}

// sleep waits out a backoff delay, returning false if the channel closed.
func (ws *WebSocket) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ws.done:
		return false
	case <-timer.C:
		return true
	}
}

// retryDelay doubles from the base up to the cap: 1s, 2s, 4s, 5s, 5s, ...
func retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := baseRetryDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

func (ws *WebSocket) isClosed() bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.closed
}

func (ws *WebSocket) setConn(conn *websocket.Conn) {
	ws.mu.Lock()
	ws.conn = conn
	ws.mu.Unlock()
}

func (ws *WebSocket) callConnect() {
	ws.mu.Lock()
	fn := ws.handlers.OnConnect
	ws.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (ws *WebSocket) callDisconnect(reason string) {
	ws.mu.Lock()
	fn := ws.handlers.OnDisconnect
	ws.mu.Unlock()
	if fn != nil {
		fn(reason)
	}
}

func (ws *WebSocket) callError(err error) {
	ws.mu.Lock()
	fn := ws.handlers.OnError
	ws.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (ws *WebSocket) callEvent(env event.Envelope) {
	ws.mu.Lock()
	fn := ws.handlers.OnEvent
	ws.mu.Unlock()
	if fn != nil {
		fn(env)
	}
}
