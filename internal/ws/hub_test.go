package ws

import (
	"encoding/json"
	"testing"
	"time"
)

func receiveFrame(t *testing.T, c *Client, timeout time.Duration) *Envelope {
	t.Helper()
	select {
	case data, ok := <-c.SendChan():
		if !ok {
			return nil
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("failed to unmarshal frame: %v", err)
		}
		return &env
	case <-time.After(timeout):
		return nil
	}
}

func TestHubEmit(t *testing.T) {
	hub := NewHub()
	c1 := NewClient(nil, "10.0.0.1:1")
	c2 := NewClient(nil, "10.0.0.2:2")
	hub.Register(c1)
	hub.Register(c2)

	hub.Emit(c1.ID(), "status-changed", map[string]string{"status": "away"})

	env := receiveFrame(t, c1, 100*time.Millisecond)
	if env == nil || env.Event != "status-changed" {
		t.Fatalf("c1 should receive the event, got %+v", env)
	}
	if got := receiveFrame(t, c2, 50*time.Millisecond); got != nil {
		t.Errorf("c2 should not receive a targeted emit, got %+v", got)
	}
}

func TestHubEmitTo(t *testing.T) {
	hub := NewHub()
	c1 := NewClient(nil, "10.0.0.1:1")
	c2 := NewClient(nil, "10.0.0.2:2")
	c3 := NewClient(nil, "10.0.0.3:3")
	hub.Register(c1)
	hub.Register(c2)
	hub.Register(c3)

	hub.EmitTo([]string{c1.ID(), c3.ID(), "ghost"}, "member-count", map[string]int{"count": 3})

	for _, c := range []*Client{c1, c3} {
		if env := receiveFrame(t, c, 100*time.Millisecond); env == nil || env.Event != "member-count" {
			t.Errorf("client %s should receive the event", c.ID())
		}
	}
	if got := receiveFrame(t, c2, 50*time.Millisecond); got != nil {
		t.Errorf("excluded client received the event: %+v", got)
	}
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	clients := make([]*Client, 3)
	for i := range clients {
		clients[i] = NewClient(nil, "10.0.0.1:1")
		hub.Register(clients[i])
	}

	hub.Broadcast("shutdown-notice", map[string]any{"expectedDowntimeMs": 1000})

	for i, c := range clients {
		if env := receiveFrame(t, c, 100*time.Millisecond); env == nil || env.Event != "shutdown-notice" {
			t.Errorf("client %d missed the broadcast", i)
		}
	}
}

func TestHubUnregister(t *testing.T) {
	hub := NewHub()
	c := NewClient(nil, "10.0.0.1:1")
	hub.Register(c)

	if hub.Count() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.Count())
	}

	hub.Unregister(c.ID())

	if hub.Count() != 0 {
		t.Errorf("expected 0 clients after unregister, got %d", hub.Count())
	}
	if !c.IsClosed() {
		t.Error("unregistered client must be closed")
	}

	// Emitting to a gone connection is a no-op.
	hub.Emit(c.ID(), "whatever", nil)
}

func TestHubCloseAll(t *testing.T) {
	hub := NewHub()
	c1 := NewClient(nil, "10.0.0.1:1")
	c2 := NewClient(nil, "10.0.0.2:2")
	hub.Register(c1)
	hub.Register(c2)

	hub.CloseAll()

	if hub.Count() != 0 {
		t.Errorf("expected empty hub, got %d", hub.Count())
	}
	if !c1.IsClosed() || !c2.IsClosed() {
		t.Error("all clients must be closed")
	}
}

func TestClientSendAfterClose(t *testing.T) {
	c := NewClient(nil, "10.0.0.1:1")
	c.Close()

	// Must not panic on the closed channel.
	c.Send([]byte("late"))

	if !c.IsClosed() {
		t.Error("client should report closed")
	}
}

func TestClientSendDropsWhenFull(t *testing.T) {
	c := NewClient(nil, "10.0.0.1:1")
	for i := 0; i < 300; i++ {
		c.Send([]byte("x"))
	}
	if !c.IsClosed() {
		t.Error("a client that cannot drain must be closed, not blocked on")
	}
}
