package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainchat "storefront/internal/domain/chat"
	domainuser "storefront/internal/domain/user"
)

type ChatStore struct {
	pool *pgxpool.Pool
}

func NewChatStore(pool *pgxpool.Pool) *ChatStore {
	return &ChatStore{pool: pool}
}

// EnsureConversation inserts on the unique pair_key; when another writer got there first
// the existing row is read back.
func (s *ChatStore) EnsureConversation(ctx context.Context, conv *domainchat.Conversation) (*domainchat.Conversation, bool, error) {
	created := false
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO chat_conversations (id, pair_key, created_at, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (pair_key) DO NOTHING
		`, string(conv.ID), string(conv.PairKey), conv.CreatedAt, conv.UpdatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		for _, p := range conv.Participants {
			if _, err := tx.Exec(ctx, `
				INSERT INTO chat_participants (conversation_id, user_id, role, joined_at)
				VALUES ($1, $2, $3, $4)
			`, string(conv.ID), string(p.UserID), string(p.Role), p.JoinedAt); err != nil {
				return err
			}
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("postgres: ensure conversation: %w", err)
	}
	if created {
		return conv.Clone(), true, nil
	}
	existing, err := s.ConversationByPair(ctx, conv.PairKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *ChatStore) ConversationByID(ctx context.Context, id domainchat.ConversationID) (*domainchat.Conversation, error) {
	return s.conversationWhere(ctx, "id = $1", string(id))
}

func (s *ChatStore) ConversationByPair(ctx context.Context, key domainchat.PairKey) (*domainchat.Conversation, error) {
	return s.conversationWhere(ctx, "pair_key = $1", string(key))
}

func (s *ChatStore) conversationWhere(ctx context.Context, where string, arg string) (*domainchat.Conversation, error) {
	var (
		conv    domainchat.Conversation
		id, key string
	)
	err := s.pool.QueryRow(ctx,
		"SELECT id, pair_key, created_at, updated_at FROM chat_conversations WHERE "+where, arg,
	).Scan(&id, &key, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainchat.ErrConversationNotFound
		}
		return nil, err
	}
	conv.ID = domainchat.ConversationID(id)
	conv.PairKey = domainchat.PairKey(key)
	normalizeConversation(&conv)
	list := []*domainchat.Conversation{&conv}
	if err := s.attachParticipants(ctx, list); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *ChatStore) ConversationsForUser(ctx context.Context, userID domainuser.ID) ([]*domainchat.Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.pair_key, c.created_at, c.updated_at
		FROM chat_conversations c
		JOIN chat_participants p ON p.conversation_id = c.id
		WHERE p.user_id = $1
		ORDER BY c.updated_at DESC, c.id ASC
	`, string(userID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domainchat.Conversation
	for rows.Next() {
		var (
			conv    domainchat.Conversation
			id, key string
		)
		if err := rows.Scan(&id, &key, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, err
		}
		conv.ID = domainchat.ConversationID(id)
		conv.PairKey = domainchat.PairKey(key)
		normalizeConversation(&conv)
		out = append(out, &conv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachParticipants(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ChatStore) attachParticipants(ctx context.Context, convs []*domainchat.Conversation) error {
	if len(convs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(convs))
	byID := make(map[domainchat.ConversationID]*domainchat.Conversation, len(convs))
	for _, c := range convs {
		ids = append(ids, string(c.ID))
		byID[c.ID] = c
	}
	rows, err := s.pool.Query(ctx, `
		SELECT conversation_id, user_id, role, joined_at
		FROM chat_participants
		WHERE conversation_id = ANY($1)
		ORDER BY conversation_id, user_id
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			convID, userID, role string
			joined               time.Time
		)
		if err := rows.Scan(&convID, &userID, &role, &joined); err != nil {
			return err
		}
		if c, ok := byID[domainchat.ConversationID(convID)]; ok {
			c.Participants = append(c.Participants, domainchat.Participant{
				UserID:   domainuser.ID(userID),
				Role:     domainuser.Role(role),
				JoinedAt: joined.UTC(),
			})
		}
	}
	return rows.Err()
}

func (s *ChatStore) TouchConversation(ctx context.Context, id domainchat.ConversationID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE chat_conversations SET updated_at = GREATEST(updated_at, $2) WHERE id = $1
	`, string(id), at.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domainchat.ErrConversationNotFound
	}
	return nil
}

func (s *ChatStore) AppendMessage(ctx context.Context, msg *domainchat.Message) error {
	var attachment *string
	if msg.AttachmentURL != "" {
		attachment = &msg.AttachmentURL
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_messages (id, conversation_id, sender_id, body, attachment_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, string(msg.ID), string(msg.ConversationID), string(msg.SenderID), msg.Text, attachment, msg.CreatedAt)
	return err
}

const messageColumns = "id, conversation_id, sender_id, body, attachment_url, created_at"

func (s *ChatStore) MessagesByConversation(ctx context.Context, id domainchat.ConversationID) ([]*domainchat.Message, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+messageColumns+" FROM chat_messages WHERE conversation_id = $1 ORDER BY created_at ASC, id ASC",
		string(id),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domainchat.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *ChatStore) LatestMessage(ctx context.Context, id domainchat.ConversationID) (*domainchat.Message, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+messageColumns+" FROM chat_messages WHERE conversation_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1",
		string(id),
	)
	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domainchat.ErrNoMessages
	}
	return msg, err
}

func (s *ChatStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanMessage(row pgx.Row) (*domainchat.Message, error) {
	var (
		id, convID, sender, body string
		attachment               *string
		createdAt                time.Time
	)
	if err := row.Scan(&id, &convID, &sender, &body, &attachment, &createdAt); err != nil {
		return nil, err
	}
	msg := &domainchat.Message{
		ID:             domainchat.MessageID(id),
		ConversationID: domainchat.ConversationID(convID),
		SenderID:       domainuser.ID(sender),
		Text:           body,
		CreatedAt:      createdAt.UTC(),
	}
	if attachment != nil {
		msg.AttachmentURL = *attachment
	}
	return msg, nil
}

func normalizeConversation(c *domainchat.Conversation) {
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
}

var _ domainchat.Store = (*ChatStore)(nil)
