package ws

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/presence-relay/backend/internal/model"
	"github.com/presence-relay/backend/internal/presence"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next protocol-level pong from the peer.
	pongWait = 60 * time.Second

	// Send protocol-level pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking in production
		return true
	},
}

// Handler accepts WebSocket connections and dispatches their events into
// the presence core, one connection at a time so per-connection ordering
// is preserved.
type Handler struct {
	svc *Service
}

// NewHandler creates a connection handler bound to a service.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// HandleConnection upgrades the HTTP request and runs the connection
// until it closes.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(conn, r.RemoteAddr)
	h.svc.Accept(client)

	go h.writePump(client)
	go h.readPump(client)

	return nil
}

// readPump pumps frames from the connection into the dispatcher. Events
// are handled inline, so a connection's events run in arrival order.
func (h *Handler) readPump(client *Client) {
	reason := "client-disconnect"
	defer func() {
		h.svc.Disconnect(client, reason)
		client.Conn().Close()
	}()

	client.Conn().SetReadLimit(maxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error on %s: %v", client.ID(), err)
				reason = "transport-error"
			}
			break
		}
		h.dispatch(client, raw)
	}
}

// writePump pumps queued frames to the connection and keeps the
// transport alive with protocol-level pings.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case frame, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Each frame goes in its own WebSocket message so the
			// client can JSON-parse them independently.
			if err := client.Conn().WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

			n := len(client.SendChan())
			for i := 0; i < n; i++ {
				queued := <-client.SendChan()
				client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.Conn().WriteMessage(websocket.TextMessage, queued); err != nil {
					return
				}
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Inbound payload shapes.

type coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type joinRequest struct {
	Name      string       `json:"name"`
	Role      string       `json:"role"`
	SessionID string       `json:"sessionId"`
	Location  *coordinates `json:"location"`
	Accuracy  *float64     `json:"accuracy"`
	Speed     *float64     `json:"speed"`
	Heading   *float64     `json:"heading"`
}

type locationRequest struct {
	Location coordinates `json:"location"`
	Accuracy *float64    `json:"accuracy"`
	Speed    *float64    `json:"speed"`
	Heading  *float64    `json:"heading"`
}

type sendMessageRequest struct {
	Text        string `json:"text"`
	MessageType string `json:"messageType"`
}

type reactionRequest struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	Action    string `json:"action"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type presenceRequest struct {
	IsActive     bool   `json:"isActive"`
	LastActivity *int64 `json:"lastActivity"`
}

type pingRequest struct {
	Timestamp *int64 `json:"timestamp"`
}

// dispatch decodes one inbound frame and applies it to the core. A
// handler fault is treated as a process-level error and hands control to
// the shutdown coordinator instead of crashing silently.
func (h *Handler) dispatch(client *Client, raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("panic handling event from %s: %v", client.ID(), rec)
			h.svc.Coordinator().Shutdown(fmt.Sprintf("unrecoverable fault: %v", rec))
		}
	}()

	event := gjson.GetBytes(raw, "event").String()
	if event == "" {
		h.sendError(client, "malformed frame: missing event", "malformed-frame")
		return
	}
	payload := []byte(gjson.GetBytes(raw, "payload").Raw)

	switch event {
	case presence.EventJoin:
		h.handleJoin(client, payload)
	case presence.EventLocationUpdate:
		h.handleLocationUpdate(client, payload)
	case presence.EventTypingStart:
		h.svc.typing.MarkTyping(client.ID())
	case presence.EventTypingStop:
		h.svc.typing.MarkStopped(client.ID())
	case presence.EventSendMessage:
		h.handleSendMessage(client, payload)
	case presence.EventMessageReaction:
		h.handleReaction(client, payload)
	case presence.EventStatusUpdate:
		h.handleStatusUpdate(client, payload)
	case presence.EventPresenceUpdate:
		h.handlePresenceUpdate(client, payload)
	case presence.EventSendAlert:
		h.handleSendAlert(client, payload)
	case presence.EventPing:
		h.handlePing(client, payload)
	case presence.EventReconnectRequest:
		h.handleReconnectRequest(client)
	default:
		h.sendError(client, "unknown event: "+event, "unknown-event")
	}
}

func (h *Handler) handleJoin(client *Client, payload []byte) {
	var req joinRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(client, "malformed join payload", "malformed-frame")
		return
	}

	var initial *model.Location
	if req.Location != nil {
		initial = &model.Location{
			Latitude:  req.Location.Latitude,
			Longitude: req.Location.Longitude,
			Accuracy:  req.Accuracy,
			Speed:     req.Speed,
			Heading:   req.Heading,
		}
	}

	if _, err := h.svc.registry.Join(client.ID(), req.Name, req.Role, req.SessionID, initial); err != nil {
		h.reportError(client, err)
	}
}

func (h *Handler) handleLocationUpdate(client *Client, payload []byte) {
	var req locationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(client, "malformed location payload", "malformed-frame")
		return
	}

	loc := model.Location{
		Latitude:  req.Location.Latitude,
		Longitude: req.Location.Longitude,
		Accuracy:  req.Accuracy,
		Speed:     req.Speed,
		Heading:   req.Heading,
	}
	if err := h.svc.registry.UpdateLocation(client.ID(), loc); err != nil {
		h.reportError(client, err)
	}
}

func (h *Handler) handleSendMessage(client *Client, payload []byte) {
	var req sendMessageRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(client, "malformed message payload", "malformed-frame")
		return
	}

	if _, err := h.svc.relay.SendMessage(client.ID(), req.Text, model.MessageType(req.MessageType)); err != nil {
		h.reportError(client, err)
	}
}

func (h *Handler) handleReaction(client *Client, payload []byte) {
	var req reactionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(client, "malformed reaction payload", "malformed-frame")
		return
	}

	if err := h.svc.relay.React(client.ID(), req.MessageID, req.Emoji, req.Action); err != nil {
		h.reportError(client, err)
	}
}

func (h *Handler) handleStatusUpdate(client *Client, payload []byte) {
	var req statusRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(client, "malformed status payload", "malformed-frame")
		return
	}

	if err := h.svc.registry.SetStatus(client.ID(), model.Status(req.Status)); err != nil {
		h.reportError(client, err)
	}
}

func (h *Handler) handlePresenceUpdate(client *Client, payload []byte) {
	var req presenceRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(client, "malformed presence payload", "malformed-frame")
		return
	}

	var lastActivity *time.Time
	if req.LastActivity != nil {
		at := time.UnixMilli(*req.LastActivity)
		lastActivity = &at
	}
	if err := h.svc.registry.SetPresence(client.ID(), req.IsActive, lastActivity); err != nil {
		h.reportError(client, err)
	}
}

func (h *Handler) handleSendAlert(client *Client, payload []byte) {
	var body map[string]any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &body); err != nil {
			h.sendError(client, "malformed alert payload", "malformed-frame")
			return
		}
	}

	if _, err := h.svc.relay.Alert(client.ID(), body); err != nil {
		h.reportError(client, err)
	}
}

// handlePing answers a client ping and resolves the health monitor's
// outstanding heartbeat for the connection.
func (h *Handler) handlePing(client *Client, payload []byte) {
	var req pingRequest
	if len(payload) > 0 {
		// A malformed ping still proves the link is alive; ignore it.
		_ = json.Unmarshal(payload, &req)
	}

	rec := h.svc.health.HandlePong(client.ID())
	h.svc.hub.Emit(client.ID(), presence.EventPong, presence.PongPayload{
		ServerTime: time.Now().UnixMilli(),
		ClientTime: req.Timestamp,
		Health:     rec,
	})
}

// handleReconnectRequest returns whatever retained state exists for the
// connection id: live or grace-period participant data, the health
// record, and any buffered messages (which are consumed by delivery).
func (h *Handler) handleReconnectRequest(client *Client) {
	buffered := h.svc.mailbox.Drain(client.ID())
	if buffered == nil {
		buffered = []model.ChatMessage{}
	}
	h.svc.hub.Emit(client.ID(), presence.EventReconnectResponse, presence.ReconnectResponsePayload{
		UserData:         h.svc.registry.Resolve(client.ID()),
		Health:           h.svc.health.Snapshot(client.ID()),
		BufferedMessages: buffered,
	})
}

// reportError maps a core rejection onto the error event.
func (h *Handler) reportError(client *Client, err error) {
	h.sendError(client, err.Error(), model.ErrorCode(err))
}

func (h *Handler) sendError(client *Client, message, code string) {
	h.svc.hub.Emit(client.ID(), presence.EventError, presence.ErrorPayload{
		Message: message,
		Code:    code,
	})
}

// SetCheckOrigin sets a custom origin checker for the WebSocket upgrader.
func SetCheckOrigin(fn func(r *http.Request) bool) {
	upgrader.CheckOrigin = fn
}
