package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mercybot/mercybot/internal/llm"
	"github.com/mercybot/mercybot/internal/model"
	"github.com/mercybot/mercybot/pkg/logger"
	"github.com/mercybot/mercybot/pkg/metrics"
	"github.com/mercybot/mercybot/pkg/tracing"
)

const (
	maxConversationIDLength = 128
	maxQuestionBytes        = 100000

	defaultCompletionTimeout = 60 * time.Second
)

// PostMessageInput is a user turn addressed to a conversation.
type PostMessageInput struct {
	OwnerID        string
	ConversationID string
	Question       string
	Language       string
	// DocumentText is included in the prompt only. It is never stored.
	DocumentText string
}

// Validate checks the input before any store access.
func (in PostMessageInput) Validate() error {
	verr := &model.ValidationError{}

	switch {
	case strings.TrimSpace(in.ConversationID) == "":
		verr.Add("chatId", "required")
	case utf8.RuneCountInString(in.ConversationID) > maxConversationIDLength:
		verr.Add("chatId", "too long")
	case !utf8.ValidString(in.ConversationID):
		verr.Add("chatId", "must be valid UTF-8")
	case strings.ContainsRune(in.ConversationID, 0):
		verr.Add("chatId", "must not contain NUL bytes")
	}

	switch {
	case strings.TrimSpace(in.Question) == "":
		verr.Add("question", "required")
	case len(in.Question) > maxQuestionBytes:
		verr.Add("question", "exceeds maximum length")
	case !utf8.ValidString(in.Question):
		verr.Add("question", "must be valid UTF-8")
	case strings.ContainsRune(in.Question, 0):
		verr.Add("question", "must not contain NUL bytes")
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}

// ConversationManager runs the question → completion → reply cycle.
type ConversationManager struct {
	conversations ConversationRepo
	llmClient     llm.Client
	publisher     EventPublisher
	logger        *logger.Logger
	tracer        trace.Tracer

	completionTimeout time.Duration
	now               func() time.Time
	locks             *keyedMutex
}

// ManagerOption configures a ConversationManager.
type ManagerOption func(*ConversationManager)

// WithPublisher publishes every appended message.
func WithPublisher(p EventPublisher) ManagerOption {
	return func(m *ConversationManager) {
		m.publisher = p
	}
}

// WithCompletionTimeout bounds each completion call.
func WithCompletionTimeout(d time.Duration) ManagerOption {
	return func(m *ConversationManager) {
		if d > 0 {
			m.completionTimeout = d
		}
	}
}

// WithNow overrides the clock used for message timestamps.
func WithNow(now func() time.Time) ManagerOption {
	return func(m *ConversationManager) {
		m.now = now
	}
}

// NewConversationManager creates a manager. A nil llmClient makes every
// reply the fallback text.
func NewConversationManager(repo ConversationRepo, llmClient llm.Client, log *logger.Logger, opts ...ManagerOption) *ConversationManager {
	m := &ConversationManager{
		conversations:     repo,
		llmClient:         llmClient,
		logger:            log.Component("conversation"),
		tracer:            tracing.Tracer("mercybot/service"),
		completionTimeout: defaultCompletionTimeout,
		now:               time.Now,
		locks:             newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PostMessage records the question, asks the completion client and records
// the reply. Completion failures yield FallbackReply; store failures are
// returned.
func (m *ConversationManager) PostMessage(ctx context.Context, in PostMessageInput) (string, error) {
	if err := in.Validate(); err != nil {
		return "", err
	}

	ctx, span := m.tracer.Start(ctx, "ConversationManager.PostMessage",
		trace.WithAttributes(attribute.String("chat.id", in.ConversationID)))
	defer span.End()

	unlock, err := m.locks.Lock(ctx, conversationKey(in.OwnerID, in.ConversationID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "wait for conversation")
		return "", fmt.Errorf("wait for conversation: %w", err)
	}
	defer unlock()

	// Step 1: find-or-create with the user message.
	if err := m.recordQuestion(ctx, in); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record question")
		return "", err
	}

	// Step 2: reload the full history.
	conv, err := m.conversations.Get(ctx, in.OwnerID, in.ConversationID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reload conversation")
		return "", fmt.Errorf("reload conversation: %w", err)
	}

	// Step 3: compose and complete.
	prompt := ComposePrompt(in.Language, conv.Messages, in.DocumentText, in.Question)
	reply, fallbackReason := m.complete(ctx, prompt)

	// Step 4: record the reply.
	aiMsg := model.NewTextMessage(model.RoleAI, reply, m.nextTimestamp(conv.LastMessage()))
	if err := m.conversations.Append(ctx, in.OwnerID, in.ConversationID, aiMsg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append reply")
		return "", fmt.Errorf("append reply: %w", err)
	}
	m.messageAppended(ctx, in.OwnerID, in.ConversationID, aiMsg)
	if fallbackReason != "" {
		m.lifecycleEvent(ctx, in.OwnerID, in.ConversationID, model.EventTypeFallback, fallbackReason)
	}

	return reply, nil
}

func (m *ConversationManager) recordQuestion(ctx context.Context, in PostMessageInput) error {
	existing, err := m.conversations.Get(ctx, in.OwnerID, in.ConversationID)
	switch {
	case err == nil:
		return m.appendQuestion(ctx, in, existing.LastMessage())
	case !errors.Is(err, model.ErrNotFound):
		return fmt.Errorf("find conversation: %w", err)
	}

	now := m.nextTimestamp(nil)
	userMsg := model.NewTextMessage(model.RoleUser, in.Question, now)
	conv := &model.Conversation{
		ID:             uuid.NewString(),
		OwnerID:        in.OwnerID,
		ConversationID: in.ConversationID,
		Messages:       []model.Message{userMsg},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = m.conversations.Create(ctx, conv)
	switch {
	case err == nil:
		metrics.ConversationsTotal.Inc()
		m.logger.Debug("conversation created",
			zap.String("user_id", in.OwnerID),
			zap.String("chat_id", in.ConversationID),
		)
		m.lifecycleEvent(ctx, in.OwnerID, in.ConversationID, model.EventTypeCreated, "")
		m.messageAppended(ctx, in.OwnerID, in.ConversationID, userMsg)
		return nil
	case errors.Is(err, model.ErrAlreadyExists):
		// Another process created it first.
		existing, err = m.conversations.Get(ctx, in.OwnerID, in.ConversationID)
		if err != nil {
			return fmt.Errorf("find conversation after create race: %w", err)
		}
		return m.appendQuestion(ctx, in, existing.LastMessage())
	default:
		return fmt.Errorf("create conversation: %w", err)
	}
}

func (m *ConversationManager) appendQuestion(ctx context.Context, in PostMessageInput, last *model.Message) error {
	userMsg := model.NewTextMessage(model.RoleUser, in.Question, m.nextTimestamp(last))
	if err := m.conversations.Append(ctx, in.OwnerID, in.ConversationID, userMsg); err != nil {
		return fmt.Errorf("append question: %w", err)
	}
	m.messageAppended(ctx, in.OwnerID, in.ConversationID, userMsg)
	return nil
}

// complete never fails: errors, timeouts and empty answers become
// FallbackReply. The second result names the fallback reason, if any.
func (m *ConversationManager) complete(ctx context.Context, prompt string) (string, string) {
	if m.llmClient == nil {
		metrics.FallbackRepliesTotal.WithLabelValues("disabled").Inc()
		return FallbackReply, "disabled"
	}

	provider := m.llmClient.Name()
	ctx, span := m.tracer.Start(ctx, "llm.Complete", trace.WithAttributes(attribute.String("llm.provider", provider)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, m.completionTimeout)
	defer cancel()

	start := time.Now()
	resp, err := m.llmClient.Complete(ctx, llm.PromptRequest(prompt))
	elapsed := time.Since(start).Seconds()

	// Text columns reject NUL, so it never reaches the store.
	if err == nil && resp != nil {
		resp.Content = strings.ReplaceAll(resp.Content, "\x00", "")
	}
	if err == nil && (resp == nil || strings.TrimSpace(resp.Content) == "") {
		err = llm.ErrEmptyCompletion
	}
	if err != nil {
		reason := "error"
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			reason = "timeout"
		case errors.Is(err, llm.ErrEmptyCompletion):
			reason = "empty"
		}
		metrics.RecordCompletion(provider, reason, elapsed, 0, 0)
		metrics.FallbackRepliesTotal.WithLabelValues(reason).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		m.logger.Warn("completion failed, using fallback reply",
			zap.String("provider", provider),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return FallbackReply, reason
	}

	metrics.RecordCompletion(provider, "ok", elapsed, resp.TokensIn, resp.TokensOut)
	return resp.Content, ""
}

// nextTimestamp returns the current time at storage precision, strictly
// after last.
func (m *ConversationManager) nextTimestamp(last *model.Message) time.Time {
	ts := m.now().UTC().Truncate(time.Millisecond)
	if last != nil && !ts.After(last.Timestamp) {
		ts = last.Timestamp.UTC().Truncate(time.Millisecond).Add(time.Millisecond)
	}
	return ts
}

func (m *ConversationManager) messageAppended(ctx context.Context, ownerID, conversationID string, msg model.Message) {
	metrics.MessagesTotal.WithLabelValues(string(msg.Role)).Inc()

	if m.publisher == nil {
		return
	}
	ev := &model.MessageEvent{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		ConversationID: conversationID,
		Message:        msg,
		CreatedAt:      m.now().UTC(),
	}
	if _, err := m.publisher.PublishMessage(ctx, ev); err != nil {
		metrics.EventsPublishFailures.Inc()
		m.logger.Warn("failed to publish message event",
			zap.String("chat_id", conversationID),
			zap.Error(err),
		)
	}
}

func (m *ConversationManager) lifecycleEvent(ctx context.Context, ownerID, conversationID string, typ model.EventType, reason string) {
	if m.publisher == nil {
		return
	}
	ev := &model.ConversationEvent{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		ConversationID: conversationID,
		Type:           typ,
		Reason:         reason,
		CreatedAt:      m.now().UTC(),
	}
	if _, err := m.publisher.PublishEvent(ctx, ev); err != nil {
		metrics.EventsPublishFailures.Inc()
		m.logger.Warn("failed to publish conversation event",
			zap.String("chat_id", conversationID),
			zap.String("type", string(typ)),
			zap.Error(err),
		)
	}
}

// GetConversation returns one conversation with its ordered messages.
func (m *ConversationManager) GetConversation(ctx context.Context, ownerID, conversationID string) (*model.Conversation, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, model.NewValidationError("chatId", "required")
	}
	conv, err := m.conversations.Get(ctx, ownerID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns every conversation of the owner.
func (m *ConversationManager) ListConversations(ctx context.Context, ownerID string) ([]model.Conversation, error) {
	convs, err := m.conversations.List(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if convs == nil {
		convs = []model.Conversation{}
	}
	return convs, nil
}
