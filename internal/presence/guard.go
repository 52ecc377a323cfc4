package presence

import (
	"strings"
	"sync"
	"time"
)

// Guard gates noisy event types per connection: an event is allowed only
// if at least the given interval has passed since the last accepted one
// of the same type on the same connection.
type Guard struct {
	mu   sync.Mutex
	last map[string]time.Time
}

// NewGuard creates an empty Guard.
func NewGuard() *Guard {
	return &Guard{last: make(map[string]time.Time)}
}

// Allow reports whether the event clears the minimum interval, recording
// the acceptance time when it does. Rejections leave the window untouched.
func (g *Guard) Allow(connID, event string, min time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := connID + ":" + event
	now := time.Now()
	if at, ok := g.last[key]; ok && now.Sub(at) < min {
		return false
	}
	g.last[key] = now
	return true
}

// Forget drops all windows tracked for a connection.
func (g *Guard) Forget(connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	prefix := connID + ":"
	for key := range g.last {
		if strings.HasPrefix(key, prefix) {
			delete(g.last, key)
		}
	}
}
