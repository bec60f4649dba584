// Package service provides business logic for the chat server.
package service

import (
	"context"

	"github.com/mercybot/mercybot/internal/model"
)

// UserRepo is the credential store.
type UserRepo interface {
	// Create inserts a user. Returns model.ErrAlreadyExists for a taken email.
	Create(ctx context.Context, u *model.User) error
	// GetByID returns model.ErrNotFound when absent.
	GetByID(ctx context.Context, id string) (*model.User, error)
	// GetByEmail matches the email exactly and returns model.ErrNotFound when absent.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
}

// ConversationRepo is the conversation store. Messages are always returned
// ordered by timestamp ascending.
type ConversationRepo interface {
	// Get returns model.ErrNotFound when no conversation has the key.
	Get(ctx context.Context, ownerID, conversationID string) (*model.Conversation, error)
	// Create inserts a conversation with its seed messages. Returns
	// model.ErrAlreadyExists when the key is taken.
	Create(ctx context.Context, c *model.Conversation) error
	// Append adds a message. Returns model.ErrNotFound when the key is absent.
	Append(ctx context.Context, ownerID, conversationID string, msg model.Message) error
	// List returns all conversations of the owner with their messages.
	List(ctx context.Context, ownerID string) ([]model.Conversation, error)
}

// EventPublisher receives appended messages and conversation lifecycle
// events. Implementations may be remote; failures never affect the request.
type EventPublisher interface {
	PublishMessage(ctx context.Context, ev *model.MessageEvent) (uint64, error)
	PublishEvent(ctx context.Context, ev *model.ConversationEvent) (uint64, error)
}
