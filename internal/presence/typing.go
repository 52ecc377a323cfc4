package presence

import (
	"sync"
	"time"
)

// Typing debounces per-participant typing flags. A typing-start sets the
// flag and arms an inactivity timer; repeated starts within the window
// re-arm the same logical timer so only the final one fires.
type Typing struct {
	registry *Registry
	gw       Gateway
	timeout  time.Duration

	mu     sync.Mutex
	timers map[string]*typingTimer
	seq    uint64
}

// typingTimer pairs a timer with a sequence number so a fire that raced
// its own cancellation can detect it lost.
type typingTimer struct {
	timer *time.Timer
	seq   uint64
}

// NewTyping creates the typing state machine.
func NewTyping(registry *Registry, gw Gateway, opts Options) *Typing {
	return &Typing{
		registry: registry,
		gw:       gw,
		timeout:  opts.Normalized().TypingTimeout,
		timers:   make(map[string]*typingTimer),
	}
}

// MarkTyping flags the participant as typing, broadcasts the change and
// (re)starts the inactivity timer. Unknown connections are a no-op.
func (t *Typing) MarkTyping(connID string) {
	payload, members, ok := t.registry.setTyping(connID, true)
	if !ok {
		return
	}

	t.mu.Lock()
	if existing, ok := t.timers[connID]; ok {
		existing.timer.Stop()
	}
	t.seq++
	seq := t.seq
	tt := &typingTimer{seq: seq}
	tt.timer = time.AfterFunc(t.timeout, func() { t.expire(connID, seq) })
	t.timers[connID] = tt
	t.mu.Unlock()

	t.gw.EmitTo(members, EventTyping, payload)
}

// MarkStopped cancels any pending timer, clears the flag and broadcasts
// typing(false). It is idempotent.
func (t *Typing) MarkStopped(connID string) {
	t.cancel(connID)

	payload, members, ok := t.registry.setTyping(connID, false)
	if !ok {
		return
	}
	t.gw.EmitTo(members, EventTyping, payload)
}

// Disconnect cancels any pending timer without broadcasting.
func (t *Typing) Disconnect(connID string) {
	t.cancel(connID)
}

func (t *Typing) cancel(connID string) {
	t.mu.Lock()
	if existing, ok := t.timers[connID]; ok {
		existing.timer.Stop()
		delete(t.timers, connID)
	}
	t.mu.Unlock()
}

// expire is the timer callback. A stale sequence means the timer was
// superseded or canceled after the fire was already in flight.
func (t *Typing) expire(connID string, seq uint64) {
	t.mu.Lock()
	current, ok := t.timers[connID]
	if !ok || current.seq != seq {
		t.mu.Unlock()
		return
	}
	delete(t.timers, connID)
	t.mu.Unlock()

	payload, members, ok := t.registry.setTyping(connID, false)
	if !ok {
		return
	}
	t.gw.EmitTo(members, EventTyping, payload)
}
