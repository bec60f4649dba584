// Package memstore keeps users and conversations in process memory.
// Used for development and tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mercybot/mercybot/internal/model"
)

// UserStore is an in-memory credential store.
type UserStore struct {
	mu      sync.RWMutex
	byID    map[string]*model.User
	byEmail map[string]string
}

// NewUserStore creates an empty user store.
func NewUserStore() *UserStore {
	return &UserStore{
		byID:    make(map[string]*model.User),
		byEmail: make(map[string]string),
	}
}

// Create inserts a user.
func (s *UserStore) Create(ctx context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[u.Email]; exists {
		return fmt.Errorf("user %s: %w", u.Email, model.ErrAlreadyExists)
	}
	if _, exists := s.byID[u.ID]; exists {
		return fmt.Errorf("user %s: %w", u.ID, model.ErrAlreadyExists)
	}

	cp := *u
	s.byID[u.ID] = &cp
	s.byEmail[u.Email] = u.ID
	return nil
}

// GetByID returns a user by id.
func (s *UserStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, model.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

// GetByEmail returns a user by exact email.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", email, model.ErrNotFound)
	}
	cp := *s.byID[id]
	return &cp, nil
}

// ConversationStore is an in-memory conversation store.
type ConversationStore struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
}

// NewConversationStore creates an empty conversation store.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		conversations: make(map[string]*model.Conversation),
	}
}

func storeKey(ownerID, conversationID string) string {
	return ownerID + "\x00" + conversationID
}

// Get returns a copy of the conversation.
func (s *ConversationStore) Get(ctx context.Context, ownerID, conversationID string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[storeKey(ownerID, conversationID)]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, model.ErrNotFound)
	}
	return clone(conv), nil
}

// Create inserts a conversation.
func (s *ConversationStore) Create(ctx context.Context, c *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey(c.OwnerID, c.ConversationID)
	if _, exists := s.conversations[key]; exists {
		return fmt.Errorf("conversation %s: %w", c.ConversationID, model.ErrAlreadyExists)
	}
	s.conversations[key] = clone(c)
	return nil
}

// Append adds a message to an existing conversation.
func (s *ConversationStore) Append(ctx context.Context, ownerID, conversationID string, msg model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[storeKey(ownerID, conversationID)]
	if !ok {
		return fmt.Errorf("conversation %s: %w", conversationID, model.ErrNotFound)
	}
	conv.Messages = append(conv.Messages, cloneMessage(msg))
	sortMessages(conv.Messages)
	if msg.Timestamp.After(conv.UpdatedAt) {
		conv.UpdatedAt = msg.Timestamp
	}
	return nil
}

// List returns the owner's conversations ordered by creation time.
func (s *ConversationStore) List(ctx context.Context, ownerID string) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	convs := []model.Conversation{}
	for _, conv := range s.conversations {
		if conv.OwnerID == ownerID {
			convs = append(convs, *clone(conv))
		}
	}
	sort.SliceStable(convs, func(i, j int) bool {
		if convs[i].CreatedAt.Equal(convs[j].CreatedAt) {
			return convs[i].ConversationID < convs[j].ConversationID
		}
		return convs[i].CreatedAt.Before(convs[j].CreatedAt)
	})
	return convs, nil
}

// Ping always succeeds.
func (s *ConversationStore) Ping(ctx context.Context) error {
	return nil
}

func clone(c *model.Conversation) *model.Conversation {
	cp := *c
	cp.Messages = make([]model.Message, len(c.Messages))
	for i, m := range c.Messages {
		cp.Messages[i] = cloneMessage(m)
	}
	sortMessages(cp.Messages)
	return &cp
}

func cloneMessage(m model.Message) model.Message {
	if m.Meta != nil {
		meta := make(map[string]any, len(m.Meta))
		for k, v := range m.Meta {
			meta[k] = v
		}
		m.Meta = meta
	}
	return m
}

func sortMessages(msgs []model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}
