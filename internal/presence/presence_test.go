package presence

import (
	"sync"
	"time"
)

// fakeGateway records emissions so tests can assert on fan-out without a
// real transport.
type fakeGateway struct {
	mu     sync.Mutex
	events []emitted
	closed []string
	allGon bool
}

type emitted struct {
	To        []string
	Event     string
	Payload   any
	Broadcast bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{}
}

func (g *fakeGateway) Emit(connID, event string, payload any) {
	g.record(emitted{To: []string{connID}, Event: event, Payload: payload})
}

func (g *fakeGateway) EmitTo(connIDs []string, event string, payload any) {
	to := make([]string, len(connIDs))
	copy(to, connIDs)
	g.record(emitted{To: to, Event: event, Payload: payload})
}

func (g *fakeGateway) Broadcast(event string, payload any) {
	g.record(emitted{Event: event, Payload: payload, Broadcast: true})
}

func (g *fakeGateway) CloseConn(connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = append(g.closed, connID)
}

func (g *fakeGateway) CloseAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allGon = true
}

func (g *fakeGateway) record(e emitted) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, e)
}

func (g *fakeGateway) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = nil
}

func (g *fakeGateway) closedAll() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.allGon
}

// named returns all recorded emissions of one event type.
func (g *fakeGateway) named(event string) []emitted {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []emitted
	for _, e := range g.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// namedFor returns emissions of one event type addressed to a connection.
func (g *fakeGateway) namedFor(connID, event string) []emitted {
	var out []emitted
	for _, e := range g.named(event) {
		for _, to := range e.To {
			if to == connID {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// waitFor polls until at least n emissions of the event exist or the
// timeout passes.
func (g *fakeGateway) waitFor(event string, n int, timeout time.Duration) []emitted {
	deadline := time.Now().Add(timeout)
	for {
		if got := g.named(event); len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			return g.named(event)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// testOptions shrinks every window so timer paths run in milliseconds.
func testOptions() Options {
	return Options{
		DefaultSession:      "default",
		TypingTimeout:       40 * time.Millisecond,
		MessageMinInterval:  50 * time.Millisecond,
		LocationMinInterval: 50 * time.Millisecond,
		GracePeriod:         60 * time.Millisecond,
		PongTimeout:         40 * time.Millisecond,
		PingIntervalInitial: 25 * time.Millisecond,
		PingIntervalMin:     15 * time.Millisecond,
		PingIntervalMax:     60 * time.Millisecond,
		PingIntervalStepUp:  5 * time.Millisecond,
		PingIntervalStepDn:  2 * time.Millisecond,
		FastLatency:         100 * time.Millisecond,
		SlowLatency:         time.Second,
		StaleThreshold:      100 * time.Millisecond,
		ForceCloseAfter:     20 * time.Millisecond,
		WatchdogAfter:       300 * time.Millisecond,
		ExpectedDowntime:    time.Second,
	}
}

// newTestStack builds a registry with its collaborators on test windows.
func newTestStack(opts Options) (*Registry, *Typing, *Relay, *Mailbox, *Guard, *fakeGateway) {
	gw := newFakeGateway()
	mailbox := NewMailbox()
	guard := NewGuard()
	registry := NewRegistry(gw, mailbox, guard, opts)
	typing := NewTyping(registry, gw, opts)
	relay := NewRelay(registry, typing, mailbox, guard, gw, opts)
	return registry, typing, relay, mailbox, guard, gw
}
