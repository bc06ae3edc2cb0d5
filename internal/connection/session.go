package connection

import "sync"

// Session is the live local identity. Everything that needs the current user
// reads it through these accessors at the moment of use, so an identity change
// mid-flight is honored by later events instead of a stale captured copy.
type Session struct {
	mu          sync.RWMutex
	user        string
	displayName string
	chatID      string
}

// NewSession creates a session for the given identity.
func NewSession(user, displayName string) *Session {
	if displayName == "" {
		displayName = user
	}
	return &Session{user: user, displayName: displayName}
}

// User returns the current username.
func (s *Session) User() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// DisplayName returns the current display name.
func (s *Session) DisplayName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.displayName
}

// SetIdentity replaces the local identity.
func (s *Session) SetIdentity(user, displayName string) {
	s.mu.Lock()
	s.user = user
	if displayName == "" {
		displayName = user
	}
	s.displayName = displayName
	s.mu.Unlock()
}

// ActiveChat returns the chat the client is currently focused on.
func (s *Session) ActiveChat() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chatID
}

// SetActiveChat switches the focused chat.
func (s *Session) SetActiveChat(chatID string) {
	s.mu.Lock()
	s.chatID = chatID
	s.mu.Unlock()
}
