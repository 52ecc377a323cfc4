package ws

import (
	"log"
	"time"

	"github.com/presence-relay/backend/internal/presence"
)

// Service wires the presence core to the WebSocket transport and owns the
// cross-cutting lifecycle work: connection accept/teardown and the
// periodic stale sweep.
type Service struct {
	hub         *Hub
	registry    *presence.Registry
	typing      *presence.Typing
	relay       *presence.Relay
	health      *presence.Monitor
	mailbox     *presence.Mailbox
	coordinator *presence.Coordinator
	handler     *Handler

	opts      presence.Options
	sweepStop chan struct{}
}

// NewService builds the full presence stack around a connection hub.
func NewService(opts presence.Options) *Service {
	opts = opts.Normalized()
	hub := NewHub()
	mailbox := presence.NewMailbox()
	guard := presence.NewGuard()
	registry := presence.NewRegistry(hub, mailbox, guard, opts)
	typing := presence.NewTyping(registry, hub, opts)
	relay := presence.NewRelay(registry, typing, mailbox, guard, hub, opts)
	health := presence.NewMonitor(hub, opts)
	registry.SetHealthMonitor(health)
	coordinator := presence.NewCoordinator(registry, hub, opts)

	s := &Service{
		hub:         hub,
		registry:    registry,
		typing:      typing,
		relay:       relay,
		health:      health,
		mailbox:     mailbox,
		coordinator: coordinator,
		opts:        opts,
		sweepStop:   make(chan struct{}),
	}
	s.handler = NewHandler(s)
	return s
}

// Handler returns the connection handler.
func (s *Service) Handler() *Handler {
	return s.handler
}

// Hub returns the connection table.
func (s *Service) Hub() *Hub {
	return s.hub
}

// Registry returns the participant registry.
func (s *Service) Registry() *presence.Registry {
	return s.registry
}

// Health returns the connection health monitor.
func (s *Service) Health() *presence.Monitor {
	return s.health
}

// Coordinator returns the shutdown coordinator.
func (s *Service) Coordinator() *presence.Coordinator {
	return s.coordinator
}

// Accept registers a newly upgraded connection: hub entry plus heartbeat
// tracking. The participant itself appears only on a join event.
func (s *Service) Accept(c *Client) {
	s.hub.Register(c)
	s.health.Track(c.ID())
	log.Printf("connection %s accepted from %s", c.ID(), c.RemoteAddr())
}

// Disconnect tears down all per-connection state in the required order:
// timers first, then registry departure (which starts the grace period),
// then the hub entry.
func (s *Service) Disconnect(c *Client, reason string) {
	s.typing.Disconnect(c.ID())
	s.health.Untrack(c.ID())
	s.registry.Leave(c.ID(), reason)
	s.hub.Unregister(c.ID())
}

// StartSweeper runs the stale-registry sweep on the given cadence until
// Close is called.
func (s *Service) StartSweeper(every time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-s.sweepStop:
				return
			case <-ticker.C:
				for _, connID := range s.registry.SweepStale(time.Now(), s.opts.StaleThreshold) {
					s.typing.Disconnect(connID)
					s.health.Untrack(connID)
					s.hub.Unregister(connID)
				}
			}
		}
	}()
}

// Close stops the sweeper and closes every connection.
func (s *Service) Close() {
	select {
	case <-s.sweepStop:
	default:
		close(s.sweepStop)
	}
	s.hub.CloseAll()
}
