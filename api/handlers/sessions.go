package handlers

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/presence-relay/backend/internal/presence"
	"github.com/presence-relay/backend/internal/ws"
)

// SessionHandler serves read-only observability endpoints over the live
// registry. All reads are memory snapshots; nothing here mutates state.
type SessionHandler struct {
	registry *presence.Registry
	hub      *ws.Hub
	health   *presence.Monitor
	started  time.Time
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(registry *presence.Registry, hub *ws.Hub, health *presence.Monitor) *SessionHandler {
	return &SessionHandler{
		registry: registry,
		hub:      hub,
		health:   health,
		started:  time.Now(),
	}
}

// SessionSummary describes one session in list responses.
type SessionSummary struct {
	SessionID   string `json:"sessionId"`
	MemberCount int    `json:"memberCount"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// List handles GET /api/sessions - all sessions with member counts.
func (h *SessionHandler) List(c *gin.Context) {
	sessions := h.registry.Sessions()

	summaries := make([]SessionSummary, 0, len(sessions))
	for id, members := range sessions {
		summaries = append(summaries, SessionSummary{SessionID: id, MemberCount: len(members)})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].SessionID < summaries[j].SessionID
	})

	c.JSON(http.StatusOK, gin.H{"sessions": summaries})
}

// Get handles GET /api/sessions/:id - the full roster of one session.
func (h *SessionHandler) Get(c *gin.Context) {
	sessionID := c.Param("id")

	roster := h.registry.Roster(sessionID)
	if len(roster) == 0 {
		sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+sessionID+" not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionId":    sessionID,
		"memberCount":  len(roster),
		"participants": roster,
	})
}

// Stats handles GET /api/stats - hub-wide counters.
func (h *SessionHandler) Stats(c *gin.Context) {
	snap := h.registry.Snapshot()

	c.JSON(http.StatusOK, gin.H{
		"connections":  h.hub.Count(),
		"participants": len(snap.Participants),
		"sessions":     len(snap.Sessions),
		"tracked":      h.health.Count(),
		"uptime":       time.Since(h.started).Round(time.Second).String(),
	})
}

// RegisterRoutes registers the observability routes on a Gin router group.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/sessions", h.List)
	rg.GET("/sessions/:id", h.Get)
	rg.GET("/stats", h.Stats)
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}
