package server

import "sync"

// PresenceTracker keeps counts of active websocket connections per user, so
// a second terminal does not produce a second join notice and closing one of
// two terminals does not produce a leave notice.
type PresenceTracker struct {
	mu     sync.Mutex
	online map[string]int
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: make(map[string]int)}
}

func (p *PresenceTracker) Increment(user string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[user]++
	return p.online[user]
}

func (p *PresenceTracker) Decrement(user string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if count, ok := p.online[user]; ok {
		if count <= 1 {
			delete(p.online, user)
			return 0
		}
		p.online[user] = count - 1
		return p.online[user]
	}
	return 0
}

func (p *PresenceTracker) Online(user string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[user] > 0
}

func (p *PresenceTracker) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.online)
}
