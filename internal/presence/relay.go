package presence

import (
	"time"

	"github.com/google/uuid"

	"github.com/presence-relay/backend/internal/model"
)

// Relay validates, stamps and fans out chat messages, reactions and
// alerts. Messages addressed to grace-period absentees are queued in the
// mailbox for delivery on rejoin.
type Relay struct {
	registry *Registry
	typing   *Typing
	mailbox  *Mailbox
	guard    *Guard
	gw       Gateway
	opts     Options
}

// NewRelay creates the message relay.
func NewRelay(registry *Registry, typing *Typing, mailbox *Mailbox, guard *Guard, gw Gateway, opts Options) *Relay {
	return &Relay{
		registry: registry,
		typing:   typing,
		mailbox:  mailbox,
		guard:    guard,
		gw:       gw,
		opts:     opts.Normalized(),
	}
}

// SendMessage accepts a chat message from a connection and broadcasts it
// to every present session member, sender included. Unlike the silent
// location throttle, exceeding the message rate is a reported error.
func (r *Relay) SendMessage(connID, text string, msgType model.MessageType) (*model.ChatMessage, error) {
	sender := r.registry.Get(connID)
	if sender == nil {
		return nil, model.ErrUnknownParticipant
	}
	trimmed, ok := model.ValidateMessageText(text)
	if !ok {
		return nil, model.ErrInvalidMessage
	}
	if !r.guard.Allow(connID, "message", r.opts.MessageMinInterval) {
		return nil, model.ErrRateLimited
	}

	// Sending implies the sender stopped typing.
	r.typing.MarkStopped(connID)

	if msgType == "" {
		msgType = model.MessageTypeChat
	}
	msg := model.ChatMessage{
		ID:         uuid.New().String(),
		SenderID:   connID,
		SenderName: sender.Name,
		SenderRole: sender.Role,
		Text:       trimmed,
		Timestamp:  time.Now(),
		Location:   sender.Location,
		Type:       msgType,
		Reactions:  make(map[string][]model.Reaction),
	}

	for _, absentID := range r.registry.AbsentMembers(sender.SessionID) {
		r.mailbox.Enqueue(absentID, msg)
	}
	r.gw.EmitTo(r.registry.MembersOf(sender.SessionID), EventNewMessage, msg)

	return &msg, nil
}

// React relays a reaction add/remove to the whole session. Reaction state
// is broadcast only; nothing is recorded against the stored message.
func (r *Relay) React(connID, messageID, emoji, action string) error {
	sender := r.registry.Get(connID)
	if sender == nil {
		return model.ErrUnknownParticipant
	}
	if messageID == "" || emoji == "" || (action != "add" && action != "remove") {
		return model.ErrInvalidReaction
	}

	payload := ReactionUpdatePayload{
		MessageID:    messageID,
		Emoji:        emoji,
		Action:       action,
		ConnectionID: connID,
		Name:         sender.Name,
	}
	r.gw.EmitTo(r.registry.MembersOf(sender.SessionID), EventReactionUpdate, payload)
	return nil
}

// Alert stamps an alert with id, time and sender and broadcasts it to the
// whole session. Priority defaults to medium.
func (r *Relay) Alert(connID string, payload map[string]any) (*model.Alert, error) {
	sender := r.registry.Get(connID)
	if sender == nil {
		return nil, model.ErrUnknownParticipant
	}

	priority := model.AlertPriorityMedium
	if raw, ok := payload["priority"].(string); ok {
		switch p := model.AlertPriority(raw); p {
		case model.AlertPriorityLow, model.AlertPriorityMedium, model.AlertPriorityHigh:
			priority = p
		}
	}

	alert := model.Alert{
		ID:         uuid.New().String(),
		SenderID:   connID,
		SenderName: sender.Name,
		SenderRole: sender.Role,
		Priority:   priority,
		Payload:    payload,
		Timestamp:  time.Now(),
	}
	r.gw.EmitTo(r.registry.MembersOf(sender.SessionID), EventAlert, alert)
	return &alert, nil
}
