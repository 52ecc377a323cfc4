package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Role is the role a participant declares when joining a session.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSupervisor Role = "supervisor"
	RoleWorker     Role = "worker"
)

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleSupervisor, RoleWorker:
		return true
	}
	return false
}

// Status represents a participant's presence status.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// Valid reports whether the status is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusOffline:
		return true
	}
	return false
}

// TrailCapacity bounds the number of location samples kept per participant.
const TrailCapacity = 30

// Location is a single geographic sample reported by a participant.
type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Valid reports whether the coordinates are inside the lat/long ranges.
func (l Location) Valid() bool {
	return l.Latitude >= -90 && l.Latitude <= 90 &&
		l.Longitude >= -180 && l.Longitude <= 180
}

// Participant is one session member bound to a live connection.
// It is owned by the presence registry and mutated only through it.
type Participant struct {
	ConnectionID string     `json:"connectionId"`
	Name         string     `json:"name"`
	Role         Role       `json:"role"`
	SessionID    string     `json:"sessionId"`
	JoinedAt     time.Time  `json:"joinedAt"`
	LastSeen     time.Time  `json:"lastSeen"`
	Status       Status     `json:"status"`
	Location     *Location  `json:"location,omitempty"`
	Trail        []Location `json:"trail,omitempty"`
	Typing       bool       `json:"typing"`

	// Health is a read-only copy of the connection's health record,
	// refreshed when the participant record is snapshotted.
	Health *HealthRecord `json:"health,omitempty"`
}

// NormalizeName trims a display name for comparison and storage.
func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}

// HealthRecord is the per-connection heartbeat bookkeeping kept by the
// health monitor. Copies of it travel on Participant snapshots and pongs.
type HealthRecord struct {
	ConnectedAt  time.Time     `json:"connectedAt"`
	LastPong     time.Time     `json:"lastPong"`
	PingCount    int           `json:"pingCount"`
	Reconnects   int           `json:"reconnects"`
	Healthy      bool          `json:"healthy"`
	LatencyMS    int64         `json:"latencyMs"`
	PingInterval time.Duration `json:"-"`
}

// MarshalJSON emits the ping interval in milliseconds for clients.
func (h HealthRecord) MarshalJSON() ([]byte, error) {
	type alias HealthRecord
	return json.Marshal(struct {
		alias
		PingIntervalMS int64 `json:"pingIntervalMs"`
	}{alias(h), h.PingInterval.Milliseconds()})
}
