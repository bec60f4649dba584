package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mercybot/mercybot/internal/model"
)

// ConversationRepo stores conversations in the chats and messages tables.
type ConversationRepo struct {
	pool *pgxpool.Pool
	tx   *TxManager
}

// NewConversationRepo creates a new conversation repository.
func NewConversationRepo(pool *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{
		pool: pool,
		tx:   NewTxManager(pool),
	}
}

func chatKey(ownerID, conversationID string) string {
	return ownerID + "/" + conversationID
}

// Get returns the conversation with its messages ordered by timestamp.
func (r *ConversationRepo) Get(ctx context.Context, ownerID, conversationID string) (*model.Conversation, error) {
	q := QuerierFromCtx(ctx, r.pool)

	var c model.Conversation
	err := q.QueryRow(ctx,
		`SELECT id, owner_id, chat_id, created_at, updated_at
		   FROM chats WHERE owner_id = $1 AND chat_id = $2`,
		ownerID, conversationID,
	).Scan(&c.ID, &c.OwnerID, &c.ConversationID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, mapError(err, "conversation", chatKey(ownerID, conversationID))
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()

	byChat, err := r.messages(ctx, q, []string{c.ID})
	if err != nil {
		return nil, mapError(err, "conversation", chatKey(ownerID, conversationID))
	}
	c.Messages = byChat[c.ID]
	if c.Messages == nil {
		c.Messages = []model.Message{}
	}
	return &c, nil
}

// Create inserts the conversation and its seed messages in one transaction.
func (r *ConversationRepo) Create(ctx context.Context, c *model.Conversation) error {
	key := chatKey(c.OwnerID, c.ConversationID)

	return r.tx.RunInTx(ctx, func(ctx context.Context) error {
		q := QuerierFromCtx(ctx, r.pool)

		_, err := q.Exec(ctx,
			`INSERT INTO chats (id, owner_id, chat_id, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			c.ID, c.OwnerID, c.ConversationID, c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			return mapError(err, "conversation", key)
		}

		for _, msg := range c.Messages {
			if err := insertMessage(ctx, q, c.ID, msg); err != nil {
				return mapError(err, "conversation", key)
			}
		}
		return nil
	})
}

// Append adds a message and bumps updated_at. A missing conversation maps
// to model.ErrNotFound.
func (r *ConversationRepo) Append(ctx context.Context, ownerID, conversationID string, msg model.Message) error {
	key := chatKey(ownerID, conversationID)

	return r.tx.RunInTx(ctx, func(ctx context.Context) error {
		q := QuerierFromCtx(ctx, r.pool)

		var id string
		err := q.QueryRow(ctx,
			`UPDATE chats SET updated_at = GREATEST(updated_at, $3)
			  WHERE owner_id = $1 AND chat_id = $2
			  RETURNING id`,
			ownerID, conversationID, msg.Timestamp,
		).Scan(&id)
		if err != nil {
			return mapError(err, "conversation", key)
		}

		if err := insertMessage(ctx, q, id, msg); err != nil {
			return mapError(err, "conversation", key)
		}
		return nil
	})
}

// List returns every conversation of the owner, oldest first.
func (r *ConversationRepo) List(ctx context.Context, ownerID string) ([]model.Conversation, error) {
	q := QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx,
		`SELECT id, owner_id, chat_id, created_at, updated_at
		   FROM chats WHERE owner_id = $1
		  ORDER BY created_at, chat_id`,
		ownerID,
	)
	if err != nil {
		return nil, mapError(err, "conversations of", ownerID)
	}
	defer rows.Close()

	convs := []model.Conversation{}
	var ids []string
	for rows.Next() {
		var c model.Conversation
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.ConversationID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.CreatedAt = c.CreatedAt.UTC()
		c.UpdatedAt = c.UpdatedAt.UTC()
		convs = append(convs, c)
		ids = append(ids, c.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "conversations of", ownerID)
	}
	if len(ids) == 0 {
		return convs, nil
	}

	byChat, err := r.messages(ctx, q, ids)
	if err != nil {
		return nil, mapError(err, "conversations of", ownerID)
	}
	for i := range convs {
		convs[i].Messages = byChat[convs[i].ID]
		if convs[i].Messages == nil {
			convs[i].Messages = []model.Message{}
		}
	}
	return convs, nil
}

// Ping checks database connectivity.
func (r *ConversationRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *ConversationRepo) messages(ctx context.Context, q Querier, chatIDs []string) (map[string][]model.Message, error) {
	rows, err := q.Query(ctx,
		`SELECT chat_pk, role, type, body, meta, ts
		   FROM messages WHERE chat_pk = ANY($1)
		  ORDER BY chat_pk, ts, id`,
		chatIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]model.Message, len(chatIDs))
	for rows.Next() {
		var (
			chatPK string
			msg    model.Message
		)
		if err := rows.Scan(&chatPK, &msg.Role, &msg.Kind, &msg.Body, &msg.Meta, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Timestamp = msg.Timestamp.UTC()
		out[chatPK] = append(out[chatPK], msg)
	}
	return out, rows.Err()
}

func insertMessage(ctx context.Context, q Querier, chatPK string, msg model.Message) error {
	var meta any
	if len(msg.Meta) > 0 {
		meta = msg.Meta
	}
	_, err := q.Exec(ctx,
		`INSERT INTO messages (chat_pk, role, type, body, meta, ts)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		chatPK, string(msg.Role), string(msg.Kind), msg.Body, meta, msg.Timestamp,
	)
	return err
}
