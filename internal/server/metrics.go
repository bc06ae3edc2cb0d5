package server

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// Metrics holds the server's counters and serves them as JSON on /metrics.
type Metrics struct {
	messages    atomic.Uint64
	events      atomic.Uint64
	uploads     atomic.Uint64
	rateLimited atomic.Uint64
	activeConns atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncMessage() {
	m.messages.Add(1)
}

func (m *Metrics) IncEvent() {
	m.events.Add(1)
}

func (m *Metrics) IncUpload() {
	m.uploads.Add(1)
}

func (m *Metrics) IncRateLimited() {
	m.rateLimited.Add(1)
}

func (m *Metrics) IncConn() {
	m.activeConns.Add(1)
}

func (m *Metrics) DecConn() {
	m.activeConns.Add(-1)
}

// ActiveConns returns the current connection gauge.
func (m *Metrics) ActiveConns() int64 {
	return m.activeConns.Load()
}

// MessagesTotal returns the persisted-message counter.
func (m *Metrics) MessagesTotal() uint64 {
	return m.messages.Load()
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"messages_total":     m.messages.Load(),
		"events_total":       m.events.Load(),
		"uploads_total":      m.uploads.Load(),
		"rate_limited_total": m.rateLimited.Load(),
		"active_connections": m.activeConns.Load(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
