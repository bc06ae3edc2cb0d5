package call

import "sync"

// Participant is a remote party in the call, keyed by user id.
type Participant struct {
	UserID      string
	DisplayName string
	Stream      Stream
}

// Registry maps participant identity to a live stream handle. It is a map,
// not a list: a duplicate join replaces the stream instead of accumulating,
// and the replaced stream is closed so no capture handle dangles.
type Registry struct {
	mu    sync.RWMutex
	parts map[string]*Participant
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{parts: make(map[string]*Participant)}
}

// Upsert adds or replaces a participant. Replacing closes the prior stream.
func (r *Registry) Upsert(userID, displayName string, stream Stream) {
	r.mu.Lock()
	if existing, ok := r.parts[userID]; ok && existing.Stream != nil && existing.Stream != stream {
		_ = existing.Stream.Close()
	}
	r.parts[userID] = &Participant{UserID: userID, DisplayName: displayName, Stream: stream}
	r.mu.Unlock()
}

// Remove closes the participant's stream and deletes the entry.
func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	if p, ok := r.parts[userID]; ok {
		if p.Stream != nil {
			_ = p.Stream.Close()
		}
		delete(r.parts, userID)
	}
	r.mu.Unlock()
}

// Clear releases every stream and empties the registry. Called on every path
// back to idle.
func (r *Registry) Clear() {
	r.mu.Lock()
	for id, p := range r.parts {
		if p.Stream != nil {
			_ = p.Stream.Close()
		}
		delete(r.parts, id)
	}
	r.mu.Unlock()
}

// Snapshot returns the participants in no particular order; the UI derives
// its tile layout from cardinality alone.
func (r *Registry) Snapshot() []*Participant {
	r.mu.RLock()
	out := make([]*Participant, 0, len(r.parts))
	for _, p := range r.parts {
		out = append(out, p)
	}
	r.mu.RUnlock()
	return out
}

// Len returns the participant count.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.parts)
}
