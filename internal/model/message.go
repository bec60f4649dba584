package model

import (
	"time"
)

// Role represents the author of a message.
type Role string

const (
	RoleUser Role = "user"
	RoleAI   Role = "ai"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAI
}

// Kind distinguishes chat text from document placeholders.
type Kind string

const (
	KindText     Kind = "text"
	KindDocument Kind = "document"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindText || k == KindDocument
}

// MetaTextPreview is the meta key holding a document message's preview text.
const MetaTextPreview = "textPreview"

// Message is an immutable entry in a conversation.
type Message struct {
	Role      Role           `json:"role" bson:"role"`
	Kind      Kind           `json:"type" bson:"type"`
	Body      string         `json:"text" bson:"text"`
	Meta      map[string]any `json:"meta,omitempty" bson:"meta,omitempty"`
	Timestamp time.Time      `json:"timestamp" bson:"timestamp"`
}

// NewTextMessage creates a text message for the given role.
func NewTextMessage(role Role, body string, ts time.Time) Message {
	return Message{
		Role:      role,
		Kind:      KindText,
		Body:      body,
		Timestamp: ts,
	}
}

// TextPreview returns the document preview stored in meta, if any.
func (m *Message) TextPreview() string {
	if m.Meta == nil {
		return ""
	}
	if s, ok := m.Meta[MetaTextPreview].(string); ok {
		return s
	}
	return ""
}
