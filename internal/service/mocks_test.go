package service

import (
	"context"
	"sync"

	"github.com/mercybot/mercybot/internal/llm"
	"github.com/mercybot/mercybot/internal/model"
)

// llmClientMock is a moq-style mock of llm.Client.
type llmClientMock struct {
	CompleteFunc func(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error)

	mu    sync.RWMutex
	calls struct {
		Complete []struct {
			Ctx context.Context
			Req *llm.CompletionRequest
		}
	}
}

func (m *llmClientMock) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if m.CompleteFunc == nil {
		panic("llmClientMock.CompleteFunc: method is nil but Client.Complete was just called")
	}
	m.mu.Lock()
	m.calls.Complete = append(m.calls.Complete, struct {
		Ctx context.Context
		Req *llm.CompletionRequest
	}{Ctx: ctx, Req: req})
	m.mu.Unlock()
	return m.CompleteFunc(ctx, req)
}

func (m *llmClientMock) Name() string {
	return "mock"
}

// CompleteCalls returns the recorded calls.
func (m *llmClientMock) CompleteCalls() []struct {
	Ctx context.Context
	Req *llm.CompletionRequest
} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls.Complete
}

// lastPrompt returns the prompt of the most recent call.
func (m *llmClientMock) lastPrompt() string {
	calls := m.CompleteCalls()
	if len(calls) == 0 {
		return ""
	}
	return calls[len(calls)-1].Req.Messages[0].Content
}

// eventPublisherMock is a moq-style mock of EventPublisher.
type eventPublisherMock struct {
	PublishMessageFunc func(ctx context.Context, ev *model.MessageEvent) (uint64, error)
	PublishEventFunc   func(ctx context.Context, ev *model.ConversationEvent) (uint64, error)

	mu    sync.RWMutex
	calls struct {
		PublishMessage []*model.MessageEvent
		PublishEvent   []*model.ConversationEvent
	}
}

func (m *eventPublisherMock) PublishMessage(ctx context.Context, ev *model.MessageEvent) (uint64, error) {
	m.mu.Lock()
	m.calls.PublishMessage = append(m.calls.PublishMessage, ev)
	m.mu.Unlock()
	if m.PublishMessageFunc == nil {
		return 0, nil
	}
	return m.PublishMessageFunc(ctx, ev)
}

func (m *eventPublisherMock) PublishMessageCalls() []*model.MessageEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls.PublishMessage
}

func (m *eventPublisherMock) PublishEvent(ctx context.Context, ev *model.ConversationEvent) (uint64, error) {
	m.mu.Lock()
	m.calls.PublishEvent = append(m.calls.PublishEvent, ev)
	m.mu.Unlock()
	if m.PublishEventFunc == nil {
		return 0, nil
	}
	return m.PublishEventFunc(ctx, ev)
}

func (m *eventPublisherMock) PublishEventCalls() []*model.ConversationEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls.PublishEvent
}

// conversationRepoMock delegates to Base unless a hook is set.
type conversationRepoMock struct {
	Base ConversationRepo

	GetFunc    func(ctx context.Context, ownerID, conversationID string) (*model.Conversation, error)
	CreateFunc func(ctx context.Context, c *model.Conversation) error
	AppendFunc func(ctx context.Context, ownerID, conversationID string, msg model.Message) error
}

func (m *conversationRepoMock) Get(ctx context.Context, ownerID, conversationID string) (*model.Conversation, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, ownerID, conversationID)
	}
	return m.Base.Get(ctx, ownerID, conversationID)
}

func (m *conversationRepoMock) Create(ctx context.Context, c *model.Conversation) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, c)
	}
	return m.Base.Create(ctx, c)
}

func (m *conversationRepoMock) Append(ctx context.Context, ownerID, conversationID string, msg model.Message) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, ownerID, conversationID, msg)
	}
	return m.Base.Append(ctx, ownerID, conversationID, msg)
}

func (m *conversationRepoMock) List(ctx context.Context, ownerID string) ([]model.Conversation, error) {
	return m.Base.List(ctx, ownerID)
}

// tokenIssuerMock is a moq-style mock of tokenIssuer.
type tokenIssuerMock struct {
	IssueFunc func(userID string) (string, error)

	mu    sync.RWMutex
	calls []string
}

func (m *tokenIssuerMock) Issue(userID string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, userID)
	m.mu.Unlock()
	return m.IssueFunc(userID)
}

func (m *tokenIssuerMock) IssueCalls() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}
