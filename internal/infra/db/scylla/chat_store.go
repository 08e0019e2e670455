package scylla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gocql/gocql"

	domainchat "storefront/internal/domain/chat"
	domainuser "storefront/internal/domain/user"
)

// ChatStore keeps conversations in Scylla. Pair uniqueness comes from a lightweight
// transaction on conversation_pairs.
type ChatStore struct {
	session *gocql.Session
	logger  *slog.Logger
}

func NewChatStore(session *gocql.Session, logger *slog.Logger) *ChatStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatStore{session: session, logger: logger}
}

// EnsureConversation writes the conversation row and both inbox entries before claiming
// the pair. Whoever wins the claim is therefore fully indexed, and a loser can always read
// the winner's row. Loser rows are removed best effort; inbox reads skip any leftovers.
func (s *ChatStore) EnsureConversation(ctx context.Context, conv *domainchat.Conversation) (*domainchat.Conversation, bool, error) {
	if err := s.insertConversation(ctx, conv); err != nil {
		return nil, false, err
	}
	if err := s.indexConversation(ctx, conv); err != nil {
		s.discard(ctx, conv)
		return nil, false, err
	}

	existing := map[string]any{}
	applied, err := s.session.
		Query(`INSERT INTO conversation_pairs (pair_key, conversation_id) VALUES (?, ?) IF NOT EXISTS`,
			string(conv.PairKey), string(conv.ID)).
		WithContext(ctx).
		MapScanCAS(existing)
	if err != nil {
		// the claim may still have applied, so the rows stay
		return nil, false, fmt.Errorf("scylla: claim pair: %w", err)
	}
	if applied {
		return conv.Clone(), true, nil
	}

	s.discard(ctx, conv)
	winner, _ := existing["conversation_id"].(string)
	if winner == "" {
		return nil, false, fmt.Errorf("scylla: pair %s claimed without conversation id", conv.PairKey)
	}
	found, err := s.ConversationByID(ctx, domainchat.ConversationID(winner))
	if err != nil {
		return nil, false, err
	}
	return found, false, nil
}

func (s *ChatStore) indexConversation(ctx context.Context, conv *domainchat.Conversation) error {
	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	for _, p := range conv.Participants {
		batch.Query(`INSERT INTO conversations_by_user (user_id, conversation_id) VALUES (?, ?)`, string(p.UserID), string(conv.ID))
	}
	if err := s.session.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("scylla: index conversation: %w", err)
	}
	return nil
}

// discard removes the rows of a conversation that lost (or never reached) the pair claim.
func (s *ChatStore) discard(ctx context.Context, conv *domainchat.Conversation) {
	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	for _, p := range conv.Participants {
		batch.Query(`DELETE FROM conversations_by_user WHERE user_id = ? AND conversation_id = ?`, string(p.UserID), string(conv.ID))
	}
	batch.Query(`DELETE FROM conversations WHERE id = ?`, string(conv.ID))
	if err := s.session.ExecuteBatch(batch); err != nil {
		s.logger.WarnContext(ctx, "orphan conversation rows not removed", "conversation_id", conv.ID, "error", err)
	}
}

func (s *ChatStore) insertConversation(ctx context.Context, conv *domainchat.Conversation) error {
	participants := make([]string, 0, len(conv.Participants))
	roles := make(map[string]string, len(conv.Participants))
	for _, p := range conv.Participants {
		participants = append(participants, string(p.UserID))
		roles[string(p.UserID)] = string(p.Role)
	}
	err := s.session.
		Query(`INSERT INTO conversations (id, pair_key, participants, roles, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			string(conv.ID), string(conv.PairKey), participants, roles, conv.CreatedAt, conv.UpdatedAt).
		WithContext(ctx).
		Exec()
	if err != nil {
		return fmt.Errorf("scylla: insert conversation: %w", err)
	}
	return nil
}

func (s *ChatStore) ConversationByID(ctx context.Context, id domainchat.ConversationID) (*domainchat.Conversation, error) {
	var (
		convID, pairKey      string
		participants         []string
		roles                map[string]string
		createdAt, updatedAt time.Time
	)
	err := s.session.
		Query(`SELECT id, pair_key, participants, roles, created_at, updated_at FROM conversations WHERE id = ?`, string(id)).
		WithContext(ctx).
		Scan(&convID, &pairKey, &participants, &roles, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, domainchat.ErrConversationNotFound
		}
		return nil, err
	}
	conv := &domainchat.Conversation{
		ID:        domainchat.ConversationID(convID),
		PairKey:   domainchat.PairKey(pairKey),
		CreatedAt: createdAt.UTC(),
		UpdatedAt: updatedAt.UTC(),
	}
	for _, uid := range participants {
		conv.Participants = append(conv.Participants, domainchat.Participant{
			UserID:   domainuser.ID(uid),
			Role:     domainuser.Role(roles[uid]),
			JoinedAt: conv.CreatedAt,
		})
	}
	return conv, nil
}

func (s *ChatStore) ConversationByPair(ctx context.Context, key domainchat.PairKey) (*domainchat.Conversation, error) {
	var convID string
	err := s.session.
		Query(`SELECT conversation_id FROM conversation_pairs WHERE pair_key = ?`, string(key)).
		WithContext(ctx).
		Consistency(gocql.Consistency(gocql.LocalSerial)).
		Scan(&convID)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, domainchat.ErrConversationNotFound
		}
		return nil, err
	}
	return s.ConversationByID(ctx, domainchat.ConversationID(convID))
}

func (s *ChatStore) ConversationsForUser(ctx context.Context, userID domainuser.ID) ([]*domainchat.Conversation, error) {
	iter := s.session.
		Query(`SELECT conversation_id FROM conversations_by_user WHERE user_id = ?`, string(userID)).
		WithContext(ctx).
		Iter()
	var (
		id  string
		ids []string
	)
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	byPair := make(map[domainchat.PairKey]*domainchat.Conversation, len(ids))
	for _, convID := range ids {
		conv, err := s.ConversationByID(ctx, domainchat.ConversationID(convID))
		if errors.Is(err, domainchat.ErrConversationNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if _, dup := byPair[conv.PairKey]; dup {
			// a claim loser whose cleanup failed; the pair row names the real one
			winner, err := s.ConversationByPair(ctx, conv.PairKey)
			if err != nil {
				return nil, err
			}
			conv = winner
		}
		byPair[conv.PairKey] = conv
	}
	out := make([]*domainchat.Conversation, 0, len(byPair))
	for _, conv := range byPair {
		out = append(out, conv)
	}
	domainchat.SortByActivity(out)
	return out, nil
}

func (s *ChatStore) TouchConversation(ctx context.Context, id domainchat.ConversationID, at time.Time) error {
	if _, err := s.ConversationByID(ctx, id); err != nil {
		return err
	}
	prev := map[string]any{}
	_, err := s.session.
		Query(`UPDATE conversations SET updated_at = ? WHERE id = ? IF updated_at < ?`, at.UTC(), string(id), at.UTC()).
		WithContext(ctx).
		MapScanCAS(prev)
	return err
}

func (s *ChatStore) AppendMessage(ctx context.Context, msg *domainchat.Message) error {
	return s.session.
		Query(`INSERT INTO messages (conversation_id, created_at, id, sender_id, body, attachment_url) VALUES (?, ?, ?, ?, ?, ?)`,
			string(msg.ConversationID), msg.CreatedAt, string(msg.ID), string(msg.SenderID), msg.Text, msg.AttachmentURL).
		WithContext(ctx).
		Exec()
}

func (s *ChatStore) MessagesByConversation(ctx context.Context, id domainchat.ConversationID) ([]*domainchat.Message, error) {
	iter := s.session.
		Query(`SELECT conversation_id, created_at, id, sender_id, body, attachment_url FROM messages WHERE conversation_id = ?`, string(id)).
		WithContext(ctx).
		Iter()
	var out []*domainchat.Message
	for {
		msg, ok := scanMessage(iter)
		if !ok {
			break
		}
		out = append(out, msg)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	// timestamps are stored at millisecond precision
	domainchat.SortChronologically(out)
	return out, nil
}

func (s *ChatStore) LatestMessage(ctx context.Context, id domainchat.ConversationID) (*domainchat.Message, error) {
	iter := s.session.
		Query(`SELECT conversation_id, created_at, id, sender_id, body, attachment_url FROM messages WHERE conversation_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, string(id)).
		WithContext(ctx).
		Iter()
	msg, ok := scanMessage(iter)
	if err := iter.Close(); err != nil {
		return nil, err
	}
	if !ok {
		return nil, domainchat.ErrNoMessages
	}
	return msg, nil
}

func (s *ChatStore) Ping(ctx context.Context) error {
	return s.session.Query(`SELECT now() FROM system.local`).WithContext(ctx).Exec()
}

func scanMessage(iter *gocql.Iter) (*domainchat.Message, bool) {
	var (
		convID, id, sender, body, attachment string
		createdAt                            time.Time
	)
	if !iter.Scan(&convID, &createdAt, &id, &sender, &body, &attachment) {
		return nil, false
	}
	return &domainchat.Message{
		ID:             domainchat.MessageID(id),
		ConversationID: domainchat.ConversationID(convID),
		SenderID:       domainuser.ID(sender),
		Text:           body,
		AttachmentURL:  attachment,
		CreatedAt:      createdAt.UTC(),
	}, true
}

var _ domainchat.Store = (*ChatStore)(nil)
