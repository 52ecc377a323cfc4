package model

import (
	"strings"
	"time"
)

// MaxMessageLength bounds chat message text after trimming.
const MaxMessageLength = 1000

// MessageType classifies a chat message.
type MessageType string

const (
	MessageTypeChat     MessageType = "chat"
	MessageTypeSystem   MessageType = "system"
	MessageTypeLocation MessageType = "location"
)

// Reaction is a single emoji reaction attached by a connection.
type Reaction struct {
	Emoji        string `json:"emoji"`
	ConnectionID string `json:"connectionId"`
}

// ChatMessage is immutable once created by the relay.
type ChatMessage struct {
	ID         string                `json:"id"`
	SenderID   string                `json:"senderId"`
	SenderName string                `json:"senderName"`
	SenderRole Role                  `json:"senderRole"`
	Text       string                `json:"text"`
	Timestamp  time.Time             `json:"timestamp"`
	Location   *Location             `json:"location,omitempty"`
	Type       MessageType           `json:"type"`
	Edited     bool                  `json:"edited"`
	Reactions  map[string][]Reaction `json:"reactions"`
}

// ValidateMessageText trims the text and reports whether it is sendable.
func ValidateMessageText(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || len(trimmed) > MaxMessageLength {
		return "", false
	}
	return trimmed, true
}

// AlertPriority ranks an alert.
type AlertPriority string

const (
	AlertPriorityLow    AlertPriority = "low"
	AlertPriorityMedium AlertPriority = "medium"
	AlertPriorityHigh   AlertPriority = "high"
)

// Alert is a broadcast notice stamped by the relay, shaped like a message.
type Alert struct {
	ID         string         `json:"id"`
	SenderID   string         `json:"senderId"`
	SenderName string         `json:"senderName"`
	SenderRole Role           `json:"senderRole"`
	Priority   AlertPriority  `json:"priority"`
	Payload    map[string]any `json:"payload,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}
