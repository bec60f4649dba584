package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/mercybot/mercybot/internal/model"
)

const (
	// StreamName is the name of the chat activity stream.
	StreamName = "MERCYBOT"

	// SubjectPrefix is the prefix for all chat subjects.
	SubjectPrefix = "chat"
)

// StreamManager publishes chat activity to JetStream.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream creates the chat stream if it does not exist.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Duplicates:  2 * time.Minute,
		Description: "Chat messages and conversation events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// subjectToken makes an arbitrary id usable as a single subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

// MessageSubject returns the subject for a message.
func MessageSubject(ownerID, conversationID string, role model.Role) string {
	return fmt.Sprintf("%s.%s.%s.msg.%s", SubjectPrefix, subjectToken(ownerID), subjectToken(conversationID), role)
}

// EventSubject returns the subject for a lifecycle event.
func EventSubject(ownerID, conversationID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.%s.event.%s", SubjectPrefix, subjectToken(ownerID), subjectToken(conversationID), eventType)
}

// PublishMessage publishes an appended message. The event id doubles as the
// JetStream message id so retries are deduplicated.
func (m *StreamManager) PublishMessage(ctx context.Context, ev *model.MessageEvent) (uint64, error) {
	return m.publish(ctx, MessageSubject(ev.OwnerID, ev.ConversationID, ev.Message.Role), ev.ID, ev)
}

// PublishEvent publishes a conversation lifecycle event.
func (m *StreamManager) PublishEvent(ctx context.Context, ev *model.ConversationEvent) (uint64, error) {
	return m.publish(ctx, EventSubject(ev.OwnerID, ev.ConversationID, ev.Type), ev.ID, ev)
}

func (m *StreamManager) publish(ctx context.Context, subject, id string, v any) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal %s: %w", subject, err)
	}

	if m.client.publishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.client.publishTimeout)
		defer cancel()
	}

	ack, err := m.client.JetStream().Publish(ctx, subject, data, jetstream.WithMsgID(id))
	if err != nil {
		return 0, fmt.Errorf("failed to publish %s: %w", subject, err)
	}

	return ack.Sequence, nil
}
