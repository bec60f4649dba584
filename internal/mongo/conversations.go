// Package mongo stores conversations as MongoDB documents, one per chat
// with its messages embedded.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/mercybot/mercybot/internal/model"
)

const collectionName = "chats"

type conversationDoc struct {
	ID        string          `bson:"_id"`
	OwnerID   string          `bson:"userId"`
	ChatID    string          `bson:"chatId"`
	Messages  []model.Message `bson:"messages"`
	CreatedAt time.Time       `bson:"createdAt"`
	UpdatedAt time.Time       `bson:"updatedAt"`
}

func (d *conversationDoc) toModel() model.Conversation {
	msgs := make([]model.Message, len(d.Messages))
	for i, m := range d.Messages {
		m.Timestamp = m.Timestamp.UTC()
		msgs[i] = m
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	return model.Conversation{
		ID:             d.ID,
		OwnerID:        d.OwnerID,
		ConversationID: d.ChatID,
		Messages:       msgs,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
}

// ConversationStore implements conversation persistence on MongoDB.
type ConversationStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// Connect opens a client, verifies it and ensures the chat indexes.
func Connect(ctx context.Context, uri, database string) (*ConversationStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	s := &ConversationStore{
		client: client,
		coll:   client.Database(database).Collection(collectionName),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *ConversationStore) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "chatId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("unique_chat_per_user"),
		},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("mongo ensure indexes: %w", err)
	}
	return nil
}

func keyFilter(ownerID, conversationID string) bson.M {
	return bson.M{"userId": ownerID, "chatId": conversationID}
}

// Get returns the conversation or model.ErrNotFound.
func (s *ConversationStore) Get(ctx context.Context, ownerID, conversationID string) (*model.Conversation, error) {
	var doc conversationDoc
	err := s.coll.FindOne(ctx, keyFilter(ownerID, conversationID)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("conversation %s/%s: %w", ownerID, conversationID, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	c := doc.toModel()
	return &c, nil
}

// Create inserts the conversation document. The unique index turns a
// concurrent create into model.ErrAlreadyExists.
func (s *ConversationStore) Create(ctx context.Context, c *model.Conversation) error {
	msgs := c.Messages
	if msgs == nil {
		msgs = []model.Message{}
	}
	_, err := s.coll.InsertOne(ctx, conversationDoc{
		ID:        c.ID,
		OwnerID:   c.OwnerID,
		ChatID:    c.ConversationID,
		Messages:  msgs,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("conversation %s/%s: %w", c.OwnerID, c.ConversationID, model.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// Append pushes a message onto the conversation.
func (s *ConversationStore) Append(ctx context.Context, ownerID, conversationID string, msg model.Message) error {
	res, err := s.coll.UpdateOne(ctx, keyFilter(ownerID, conversationID), bson.M{
		"$push": bson.M{"messages": msg},
		"$max":  bson.M{"updatedAt": msg.Timestamp},
	})
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("conversation %s/%s: %w", ownerID, conversationID, model.ErrNotFound)
	}
	return nil
}

// List returns all conversations of the owner, oldest first.
func (s *ConversationStore) List(ctx context.Context, ownerID string) ([]model.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "chatId", Value: 1}})
	cursor, err := s.coll.Find(ctx, bson.M{"userId": ownerID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	var docs []conversationDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}

	out := make([]model.Conversation, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].toModel())
	}
	return out, nil
}

// Ping checks connectivity.
func (s *ConversationStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *ConversationStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
