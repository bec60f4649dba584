package model

import (
	"time"
)

// EventType represents the type of conversation event.
type EventType string

const (
	EventTypeCreated  EventType = "created"
	EventTypeFallback EventType = "fallback"
)

// MessageEvent is published to the event stream whenever a message is appended.
type MessageEvent struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"userId"`
	ConversationID string    `json:"chatId"`
	Message        Message   `json:"message"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ConversationEvent records a lifecycle event of a conversation.
type ConversationEvent struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"userId"`
	ConversationID string    `json:"chatId"`
	Type           EventType `json:"type"`
	Reason         string    `json:"reason,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}
