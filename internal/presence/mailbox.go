package presence

import (
	"sync"

	"github.com/presence-relay/backend/internal/buffer"
	"github.com/presence-relay/backend/internal/model"
)

const (
	// mailboxCapacity is the hard cap per absent participant.
	mailboxCapacity = 100
	// mailboxKeep is how many of the newest messages survive an overflow.
	mailboxKeep = 50
)

// Mailbox queues messages addressed to session members who are currently
// absent from the registry, keyed by their connection id. Entries exist
// only for absent connections; a join drains and removes the entry.
type Mailbox struct {
	mu     sync.Mutex
	queues map[string]*buffer.Queue[model.ChatMessage]
}

// NewMailbox creates an empty Mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{queues: make(map[string]*buffer.Queue[model.ChatMessage])}
}

// Enqueue buffers a message for an absent connection.
func (m *Mailbox) Enqueue(connID string, msg model.ChatMessage) {
	m.mu.Lock()
	q, ok := m.queues[connID]
	if !ok {
		q = buffer.NewQueue[model.ChatMessage](mailboxCapacity, mailboxKeep)
		m.queues[connID] = q
	}
	m.mu.Unlock()

	q.Push(msg)
}

// Drain returns and clears the buffered messages for a connection,
// oldest first. It returns nil when nothing is buffered.
func (m *Mailbox) Drain(connID string) []model.ChatMessage {
	m.mu.Lock()
	q, ok := m.queues[connID]
	if ok {
		delete(m.queues, connID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return q.Drain()
}

// Clear discards any buffered messages for a connection.
func (m *Mailbox) Clear(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queues, connID)
}

// Pending returns the number of buffered messages for a connection.
func (m *Mailbox) Pending(connID string) int {
	m.mu.Lock()
	q, ok := m.queues[connID]
	m.mu.Unlock()

	if !ok {
		return 0
	}
	return q.Len()
}
