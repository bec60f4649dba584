// Package model defines data structures for the chat server.
package model

import (
	"time"
)

// Conversation is an ordered exchange of messages owned by one user.
// (OwnerID, ConversationID) is unique.
type Conversation struct {
	ID             string    `json:"id,omitempty"`
	OwnerID        string    `json:"userId"`
	ConversationID string    `json:"chatId"`
	Messages       []Message `json:"messages"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// LastMessage returns the most recent message, or nil for an empty conversation.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	ChatID   string `json:"chatId"`
	Question string `json:"question"`
	Language string `json:"language,omitempty"`
	PDFText  string `json:"pdfText,omitempty"`
}

// ChatResponse is the reply to POST /chat.
type ChatResponse struct {
	Text string `json:"text"`
}
