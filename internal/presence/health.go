package presence

import (
	"log"
	"sync"
	"time"

	"github.com/presence-relay/backend/internal/model"
)

// Monitor runs one adaptive heartbeat loop per connection. Each round it
// emits a ping and waits for the answering pong: a fast answer widens the
// ping interval, a slow answer or a timeout narrows it, so healthy idle
// links are probed less and struggling links more.
type Monitor struct {
	gw   Gateway
	opts Options

	mu    sync.Mutex
	conns map[string]*healthState
}

type healthState struct {
	rec        model.HealthRecord
	lastPingAt time.Time

	pong chan time.Time
	stop chan struct{}
	once sync.Once
}

// NewMonitor creates the health monitor.
func NewMonitor(gw Gateway, opts Options) *Monitor {
	return &Monitor{
		gw:    gw,
		opts:  opts.Normalized(),
		conns: make(map[string]*healthState),
	}
}

// Track initializes a health record for the connection and starts its
// heartbeat loop. Tracking an already tracked connection is a no-op.
func (m *Monitor) Track(connID string) {
	now := time.Now()
	st := &healthState{
		rec: model.HealthRecord{
			ConnectedAt:  now,
			LastPong:     now,
			Healthy:      true,
			PingInterval: m.opts.PingIntervalInitial,
		},
		pong: make(chan time.Time, 1),
		stop: make(chan struct{}),
	}

	m.mu.Lock()
	if _, ok := m.conns[connID]; ok {
		m.mu.Unlock()
		return
	}
	m.conns[connID] = st
	m.mu.Unlock()

	go m.loop(connID, st)
}

// Untrack cancels the heartbeat loop and deletes the record. Idempotent.
func (m *Monitor) Untrack(connID string) {
	m.mu.Lock()
	st, ok := m.conns[connID]
	if ok {
		delete(m.conns, connID)
	}
	m.mu.Unlock()

	if ok {
		st.once.Do(func() { close(st.stop) })
	}
}

// HandlePong resolves the outstanding ping for the connection and returns
// the refreshed record for the pong reply. Inbound client pings double as
// pongs: any of them proves the link is alive.
func (m *Monitor) HandlePong(connID string) *model.HealthRecord {
	m.mu.Lock()
	st, ok := m.conns[connID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	now := time.Now()
	st.rec.LastPong = now
	rec := st.rec
	m.mu.Unlock()

	select {
	case st.pong <- now:
	default:
	}
	return &rec
}

// Snapshot returns a copy of the connection's health record, or nil.
func (m *Monitor) Snapshot(connID string) *model.HealthRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.conns[connID]
	if !ok {
		return nil
	}
	rec := st.rec
	return &rec
}

// Count returns the number of tracked connections.
func (m *Monitor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

func (m *Monitor) loop(connID string, st *healthState) {
	for {
		m.mu.Lock()
		interval := st.rec.PingInterval
		m.mu.Unlock()

		idle := time.NewTimer(interval)
		select {
		case <-st.stop:
			idle.Stop()
			return
		case <-idle.C:
		}

		// Drop any pong left over from a round that timed out.
		select {
		case <-st.pong:
		default:
		}

		now := time.Now()
		m.mu.Lock()
		st.lastPingAt = now
		st.rec.PingCount++
		m.mu.Unlock()
		m.gw.Emit(connID, EventPing, PingPayload{Timestamp: now.UnixMilli()})

		deadline := time.NewTimer(m.opts.PongTimeout)
		select {
		case <-st.stop:
			deadline.Stop()
			return
		case at := <-st.pong:
			deadline.Stop()
			m.record(st, at)
		case <-deadline.C:
			m.timeout(connID, st)
		}
	}
}

// record applies a successful pong: latency measurement and interval
// adaptation.
func (m *Monitor) record(st *healthState, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	latency := at.Sub(st.lastPingAt)
	if latency < 0 {
		latency = 0
	}
	st.rec.LatencyMS = latency.Milliseconds()
	st.rec.LastPong = at
	st.rec.Healthy = true

	switch {
	case latency < m.opts.FastLatency:
		st.rec.PingInterval = min(st.rec.PingInterval+m.opts.PingIntervalStepUp, m.opts.PingIntervalMax)
	case latency > m.opts.SlowLatency:
		st.rec.PingInterval = max(st.rec.PingInterval-m.opts.PingIntervalStepDn, m.opts.PingIntervalMin)
	}
}

// timeout applies a missed pong: mark unhealthy and probe harder.
func (m *Monitor) timeout(connID string, st *healthState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st.rec.Healthy = false
	st.rec.Reconnects++
	st.rec.PingInterval = max(st.rec.PingInterval-m.opts.PingIntervalStepUp, m.opts.PingIntervalMin)

	log.Printf("connection %s missed pong (reconnects=%d, interval=%s)",
		connID, st.rec.Reconnects, st.rec.PingInterval)
}
