// Package presence implements the in-memory session, presence and
// messaging state machine: the participant registry, typing debounce,
// message relay, reconnection mailbox, connection health monitor and
// shutdown coordinator.
package presence

import (
	"time"

	"github.com/presence-relay/backend/internal/model"
)

// Inbound event names delivered by the transport.
const (
	EventJoin             = "join"
	EventLocationUpdate   = "location-update"
	EventTypingStart      = "typing-start"
	EventTypingStop       = "typing-stop"
	EventSendMessage      = "send-message"
	EventMessageReaction  = "message-reaction"
	EventStatusUpdate     = "status-update"
	EventPresenceUpdate   = "presence-update"
	EventSendAlert        = "send-alert"
	EventPing             = "ping"
	EventReconnectRequest = "reconnect-request"
)

// Outbound event names emitted to connections.
const (
	EventParticipantJoined  = "participant-joined"
	EventRosterSnapshot     = "roster-snapshot"
	EventMemberCount        = "member-count"
	EventParticipantUpdated = "participant-updated"
	EventTyping             = "typing"
	EventNewMessage         = "new-message"
	EventReactionUpdate     = "reaction-update"
	EventStatusChanged      = "status-changed"
	EventPresenceChanged    = "presence-changed"
	EventPong               = "pong"
	EventBufferedMessages   = "buffered-messages"
	EventParticipantLeft    = "participant-left"
	EventAlert              = "alert"
	EventError              = "error"
	EventShutdownNotice     = "shutdown-notice"
	EventReconnectResponse  = "reconnect-response"
)

// Gateway is the slice of the transport the core emits through. All
// emissions are fire-and-forget; a slow or closed connection never blocks
// a state mutation.
type Gateway interface {
	// Emit sends a named event to one connection.
	Emit(connID, event string, payload any)
	// EmitTo sends a named event to each listed connection.
	EmitTo(connIDs []string, event string, payload any)
	// Broadcast sends a named event to every connection.
	Broadcast(event string, payload any)
	// CloseConn closes one connection.
	CloseConn(connID string)
	// CloseAll closes every connection.
	CloseAll()
}

// ErrorPayload is the body of the error event.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// RosterPayload is sent to a joining connection with the current session
// membership, including the joiner itself.
type RosterPayload struct {
	SessionID    string              `json:"sessionId"`
	Participants []model.Participant `json:"participants"`
}

// MemberCountPayload carries the live member count of a session.
type MemberCountPayload struct {
	SessionID string `json:"sessionId"`
	Count     int    `json:"count"`
}

// TypingPayload carries a typing flag change.
type TypingPayload struct {
	ConnectionID string `json:"connectionId"`
	Name         string `json:"name"`
	IsTyping     bool   `json:"isTyping"`
}

// LocationDeltaPayload is the location broadcast sent to other session
// members on an accepted location update.
type LocationDeltaPayload struct {
	ConnectionID string         `json:"connectionId"`
	Name         string         `json:"name"`
	Location     model.Location `json:"location"`
}

// StatusChangedPayload carries a status enumeration change.
type StatusChangedPayload struct {
	ConnectionID string       `json:"connectionId"`
	Status       model.Status `json:"status"`
	LastSeen     time.Time    `json:"lastSeen"`
}

// PresenceChangedPayload carries an activity flag change.
type PresenceChangedPayload struct {
	ConnectionID string       `json:"connectionId"`
	IsActive     bool         `json:"isActive"`
	Status       model.Status `json:"status"`
	LastActivity time.Time    `json:"lastActivity"`
}

// ReactionUpdatePayload relays a reaction add/remove to the session.
type ReactionUpdatePayload struct {
	MessageID    string `json:"messageId"`
	Emoji        string `json:"emoji"`
	Action       string `json:"action"`
	ConnectionID string `json:"connectionId"`
	Name         string `json:"name"`
}

// ParticipantLeftPayload announces a departure to the remaining members.
type ParticipantLeftPayload struct {
	ConnectionID string `json:"connectionId"`
	Name         string `json:"name"`
	Reason       string `json:"reason"`
}

// PingPayload is the server heartbeat probe.
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// PongPayload answers an inbound ping.
type PongPayload struct {
	ServerTime int64               `json:"serverTime"`
	ClientTime *int64              `json:"clientTime,omitempty"`
	Health     *model.HealthRecord `json:"health,omitempty"`
}

// Snapshot is a point-in-time copy of all registry state, broadcast on
// shutdown and served by the observability endpoints.
type Snapshot struct {
	Participants []model.Participant `json:"participants"`
	Sessions     map[string][]string `json:"sessions"`
	TakenAt      time.Time           `json:"takenAt"`
}

// ShutdownNoticePayload warns all connections that the process is going
// away and for roughly how long.
type ShutdownNoticePayload struct {
	Snapshot           Snapshot `json:"snapshot"`
	ExpectedDowntimeMS int64    `json:"expectedDowntimeMs"`
	Reason             string   `json:"reason"`
}

// ReconnectResponsePayload answers a reconnect-request with whatever
// retained state exists for the connection.
type ReconnectResponsePayload struct {
	UserData         *model.Participant  `json:"userData,omitempty"`
	Health           *model.HealthRecord `json:"health,omitempty"`
	BufferedMessages []model.ChatMessage `json:"bufferedMessages"`
}
