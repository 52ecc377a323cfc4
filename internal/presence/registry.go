package presence

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/presence-relay/backend/internal/buffer"
	"github.com/presence-relay/backend/internal/model"
)

// Registry is the authoritative map of connection id to participant state,
// together with the session directory. All mutation goes through its
// methods under a single mutex; emissions happen after the lock is
// released, on snapshot copies.
type Registry struct {
	opts    Options
	gw      Gateway
	mailbox *Mailbox
	guard   *Guard

	// health is consulted for read-only record copies attached to
	// participant snapshots. May be nil in tests.
	health *Monitor

	mu           sync.Mutex
	participants map[string]*model.Participant
	sessions     map[string]map[string]struct{}
	trails       map[string]*buffer.Queue[model.Location]
	departed     map[string]*departedRecord
}

// departedRecord retains a participant through the reconnection grace
// period after leave.
type departedRecord struct {
	participant *model.Participant
	sessionID   string
	expiresAt   time.Time
	purge       *time.Timer
}

// NewRegistry creates an empty Registry emitting through gw.
func NewRegistry(gw Gateway, mailbox *Mailbox, guard *Guard, opts Options) *Registry {
	return &Registry{
		opts:         opts.Normalized(),
		gw:           gw,
		mailbox:      mailbox,
		guard:        guard,
		participants: make(map[string]*model.Participant),
		sessions:     make(map[string]map[string]struct{}),
		trails:       make(map[string]*buffer.Queue[model.Location]),
		departed:     make(map[string]*departedRecord),
	}
}

// SetHealthMonitor attaches the health monitor used for snapshot records.
func (r *Registry) SetHealthMonitor(m *Monitor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.health = m
}

// Join registers a participant on a connection and links it into the
// session, creating the session if needed. It notifies the rest of the
// session, sends the joiner a roster snapshot and any buffered messages,
// and updates the member count.
func (r *Registry) Join(connID, name, role, sessionID string, initial *model.Location) (*model.Participant, error) {
	name = model.NormalizeName(name)
	if name == "" {
		return nil, model.ErrInvalidName
	}
	rl := model.Role(role)
	if !rl.Valid() {
		return nil, model.ErrInvalidRole
	}
	if sessionID == "" {
		sessionID = r.opts.DefaultSession
	}

	now := time.Now()

	r.mu.Lock()
	for id := range r.sessions[sessionID] {
		if id == connID {
			continue
		}
		if other, ok := r.participants[id]; ok && other.Name == name {
			r.mu.Unlock()
			return nil, model.ErrDuplicateJoin
		}
	}

	// A join on a connection id with retained grace-period state
	// supersedes it; the purge timer is canceled and the buffered
	// messages are delivered below.
	if rec, ok := r.departed[connID]; ok {
		rec.purge.Stop()
		delete(r.departed, connID)
	}
	// At most one participant per connection id: a re-join on a live
	// connection detaches the previous registration first.
	if _, ok := r.participants[connID]; ok {
		r.detachLocked(connID)
	}

	p := &model.Participant{
		ConnectionID: connID,
		Name:         name,
		Role:         rl,
		SessionID:    sessionID,
		JoinedAt:     now,
		LastSeen:     now,
		Status:       model.StatusOnline,
	}
	if initial != nil && initial.Valid() {
		loc := *initial
		if loc.Timestamp.IsZero() {
			loc.Timestamp = now
		}
		p.Location = &loc
	}
	r.participants[connID] = p
	r.trails[connID] = buffer.NewQueue[model.Location](model.TrailCapacity, model.TrailCapacity)
	if r.sessions[sessionID] == nil {
		r.sessions[sessionID] = make(map[string]struct{})
	}
	r.sessions[sessionID][connID] = struct{}{}

	joined := r.snapshotLocked(p)
	roster := r.rosterLocked(sessionID)
	members, others := r.membersLocked(sessionID, connID)
	r.mu.Unlock()

	r.gw.EmitTo(others, EventParticipantJoined, joined)
	r.gw.Emit(connID, EventRosterSnapshot, RosterPayload{SessionID: sessionID, Participants: roster})
	if buffered := r.mailbox.Drain(connID); len(buffered) > 0 {
		r.gw.Emit(connID, EventBufferedMessages, buffered)
	}
	r.gw.EmitTo(members, EventMemberCount, MemberCountPayload{SessionID: sessionID, Count: len(members)})

	log.Printf("participant %s (%s) joined session %s", name, connID, sessionID)
	return &joined, nil
}

// UpdateLocation appends a trail sample and broadcasts the delta. Updates
// arriving inside the throttle window are dropped without error or
// broadcast.
func (r *Registry) UpdateLocation(connID string, loc model.Location) error {
	if !loc.Valid() {
		return model.ErrInvalidLocation
	}

	r.mu.Lock()
	p, ok := r.participants[connID]
	if !ok {
		r.mu.Unlock()
		return model.ErrUnknownParticipant
	}
	if !r.guard.Allow(connID, "location", r.opts.LocationMinInterval) {
		r.mu.Unlock()
		return nil
	}

	now := time.Now()
	if loc.Timestamp.IsZero() {
		loc.Timestamp = now
	}
	r.trails[connID].Push(loc)
	p.Location = &loc
	p.LastSeen = now

	delta := LocationDeltaPayload{ConnectionID: connID, Name: p.Name, Location: loc}
	updated := r.snapshotLocked(p)
	members, others := r.membersLocked(p.SessionID, connID)
	r.mu.Unlock()

	r.gw.EmitTo(others, EventLocationUpdate, delta)
	r.gw.EmitTo(members, EventParticipantUpdated, updated)
	return nil
}

// SetStatus validates and applies a status change, then broadcasts it.
func (r *Registry) SetStatus(connID string, status model.Status) error {
	if !status.Valid() {
		return model.ErrInvalidStatus
	}

	r.mu.Lock()
	p, ok := r.participants[connID]
	if !ok {
		r.mu.Unlock()
		return model.ErrUnknownParticipant
	}
	p.Status = status
	p.LastSeen = time.Now()
	payload := StatusChangedPayload{ConnectionID: connID, Status: status, LastSeen: p.LastSeen}
	members, _ := r.membersLocked(p.SessionID, "")
	r.mu.Unlock()

	r.gw.EmitTo(members, EventStatusChanged, payload)
	return nil
}

// SetPresence applies an activity flag: active participants read as
// online, inactive ones as away.
func (r *Registry) SetPresence(connID string, isActive bool, lastActivity *time.Time) error {
	r.mu.Lock()
	p, ok := r.participants[connID]
	if !ok {
		r.mu.Unlock()
		return model.ErrUnknownParticipant
	}
	if isActive {
		p.Status = model.StatusOnline
	} else {
		p.Status = model.StatusAway
	}
	if lastActivity != nil {
		p.LastSeen = *lastActivity
	} else {
		p.LastSeen = time.Now()
	}
	payload := PresenceChangedPayload{
		ConnectionID: connID,
		IsActive:     isActive,
		Status:       p.Status,
		LastActivity: p.LastSeen,
	}
	members, _ := r.membersLocked(p.SessionID, "")
	r.mu.Unlock()

	r.gw.EmitTo(members, EventPresenceChanged, payload)
	return nil
}

// Leave removes the connection from its session and announces the
// departure. The participant record is retained for the grace period so a
// reconnecting client can recover state and buffered messages; after the
// period both are purged. Unknown connections are a no-op.
func (r *Registry) Leave(connID, reason string) {
	r.mu.Lock()
	p, ok := r.participants[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	sessionID := p.SessionID
	r.detachLocked(connID)

	retained := r.snapshotLocked(p)
	rec := &departedRecord{
		participant: &retained,
		sessionID:   sessionID,
		expiresAt:   time.Now().Add(r.opts.GracePeriod),
	}
	rec.purge = time.AfterFunc(r.opts.GracePeriod, func() { r.purgeDeparted(connID) })
	r.departed[connID] = rec

	left := ParticipantLeftPayload{ConnectionID: connID, Name: p.Name, Reason: reason}
	members, _ := r.membersLocked(sessionID, "")
	r.mu.Unlock()

	r.guard.Forget(connID)
	r.gw.EmitTo(members, EventParticipantLeft, left)
	r.gw.EmitTo(members, EventMemberCount, MemberCountPayload{SessionID: sessionID, Count: len(members)})

	log.Printf("participant %s (%s) left session %s: %s", p.Name, connID, sessionID, reason)
}

// detachLocked unlinks a participant from the registry and its session,
// deleting the session when its member set becomes empty. Callers hold
// the mutex.
func (r *Registry) detachLocked(connID string) {
	p, ok := r.participants[connID]
	if !ok {
		return
	}
	delete(r.participants, connID)
	delete(r.trails, connID)
	if set, ok := r.sessions[p.SessionID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.sessions, p.SessionID)
		}
	}
}

// purgeDeparted drops grace-period state once the period elapses. Firing
// after a rejoin already canceled the record is a no-op.
func (r *Registry) purgeDeparted(connID string) {
	r.mu.Lock()
	rec, ok := r.departed[connID]
	if ok {
		delete(r.departed, connID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	r.mailbox.Clear(connID)
	log.Printf("purged retained state for %s (%s)", rec.participant.Name, connID)
}

// SweepStale evicts participants whose health record has been silent for
// longer than the threshold. It returns the evicted connection ids so the
// caller can tear down their timers and health loops.
func (r *Registry) SweepStale(now time.Time, threshold time.Duration) []string {
	if r.health == nil {
		return nil
	}

	r.mu.Lock()
	var stale []string
	for connID := range r.participants {
		rec := r.health.Snapshot(connID)
		if rec == nil {
			continue
		}
		last := rec.LastPong
		if last.IsZero() {
			last = rec.ConnectedAt
		}
		if now.Sub(last) > threshold {
			stale = append(stale, connID)
		}
	}
	r.mu.Unlock()

	for _, connID := range stale {
		log.Printf("sweeping stale connection %s", connID)
		r.Leave(connID, "stale")
		r.mailbox.Clear(connID)
	}
	return stale
}

// Get returns a snapshot of the registered participant, or nil.
func (r *Registry) Get(connID string) *model.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[connID]
	if !ok {
		return nil
	}
	snap := r.snapshotLocked(p)
	return &snap
}

// Resolve returns the live participant snapshot, the retained
// grace-period snapshot, or nil.
func (r *Registry) Resolve(connID string) *model.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.participants[connID]; ok {
		snap := r.snapshotLocked(p)
		return &snap
	}
	if rec, ok := r.departed[connID]; ok {
		snap := *rec.participant
		return &snap
	}
	return nil
}

// MembersOf returns the connection ids currently present in a session.
func (r *Registry) MembersOf(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, _ := r.membersLocked(sessionID, "")
	return members
}

// AbsentMembers returns the connection ids of grace-period participants
// of a session, the ones messages are buffered for.
func (r *Registry) AbsentMembers(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var absent []string
	for connID, rec := range r.departed {
		if rec.sessionID == sessionID {
			absent = append(absent, connID)
		}
	}
	sort.Strings(absent)
	return absent
}

// Sessions returns session ids mapped to their sorted member ids.
func (r *Registry) Sessions() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionsLocked()
}

// Roster returns snapshots of a session's members.
func (r *Registry) Roster(sessionID string) []model.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rosterLocked(sessionID)
}

// Snapshot copies all participants and the session directory.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		Sessions: r.sessionsLocked(),
		TakenAt:  time.Now(),
	}
	for _, p := range r.participants {
		snap.Participants = append(snap.Participants, r.snapshotLocked(p))
	}
	sort.Slice(snap.Participants, func(i, j int) bool {
		return snap.Participants[i].ConnectionID < snap.Participants[j].ConnectionID
	})
	return snap
}

// sessionsLocked copies the session directory with sorted member ids.
// Callers hold the mutex.
func (r *Registry) sessionsLocked() map[string][]string {
	out := make(map[string][]string, len(r.sessions))
	for sessionID := range r.sessions {
		members, _ := r.membersLocked(sessionID, "")
		out[sessionID] = members
	}
	return out
}

// setTyping flips the typing flag and returns the broadcast payload and
// session members. Used by the typing state machine.
func (r *Registry) setTyping(connID string, typing bool) (TypingPayload, []string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[connID]
	if !ok {
		return TypingPayload{}, nil, false
	}
	p.Typing = typing
	members, _ := r.membersLocked(p.SessionID, "")
	return TypingPayload{ConnectionID: connID, Name: p.Name, IsTyping: typing}, members, true
}

// snapshotLocked copies a participant, its trail and its current health
// record. Callers hold the mutex.
func (r *Registry) snapshotLocked(p *model.Participant) model.Participant {
	snap := *p
	if p.Location != nil {
		loc := *p.Location
		snap.Location = &loc
	}
	if q, ok := r.trails[p.ConnectionID]; ok {
		snap.Trail = q.Items()
	}
	if r.health != nil {
		snap.Health = r.health.Snapshot(p.ConnectionID)
	}
	return snap
}

func (r *Registry) rosterLocked(sessionID string) []model.Participant {
	set := r.sessions[sessionID]
	roster := make([]model.Participant, 0, len(set))
	for connID := range set {
		if p, ok := r.participants[connID]; ok {
			roster = append(roster, r.snapshotLocked(p))
		}
	}
	sort.Slice(roster, func(i, j int) bool {
		return roster[i].JoinedAt.Before(roster[j].JoinedAt)
	})
	return roster
}

// membersLocked returns all member ids of a session and the subset
// excluding one connection. Callers hold the mutex.
func (r *Registry) membersLocked(sessionID, exclude string) (members, others []string) {
	set := r.sessions[sessionID]
	members = make([]string, 0, len(set))
	for connID := range set {
		members = append(members, connID)
		if connID != exclude {
			others = append(others, connID)
		}
	}
	sort.Strings(members)
	sort.Strings(others)
	return members, others
}
