package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainchat "storefront/internal/domain/chat"
	domainuser "storefront/internal/domain/user"
)

const (
	conversationsCollection = "chat_conversations"
	messagesCollection      = "chat_messages"
)

type ChatStore struct {
	client        *Client
	conversations *mongo.Collection
	messages      *mongo.Collection
}

func NewChatStore(client *Client) *ChatStore {
	return &ChatStore{
		client:        client,
		conversations: client.DB.Collection(conversationsCollection),
		messages:      client.DB.Collection(messagesCollection),
	}
}

// EnsureConversation relies on the unique pair_key index: a losing concurrent insert
// reads back the winner.
func (s *ChatStore) EnsureConversation(ctx context.Context, conv *domainchat.Conversation) (*domainchat.Conversation, bool, error) {
	doc := newConversationDocument(conv)
	if _, err := s.conversations.InsertOne(ctx, doc); err != nil {
		if !mongo.IsDuplicateKeyError(err) {
			return nil, false, err
		}
		existing, findErr := s.ConversationByPair(ctx, conv.PairKey)
		if findErr != nil {
			return nil, false, fmt.Errorf("mongo: read back conversation: %w", findErr)
		}
		return existing, false, nil
	}
	return conv.Clone(), true, nil
}

func (s *ChatStore) ConversationByID(ctx context.Context, id domainchat.ConversationID) (*domainchat.Conversation, error) {
	return s.findConversation(ctx, bson.M{"_id": string(id)})
}

func (s *ChatStore) ConversationByPair(ctx context.Context, key domainchat.PairKey) (*domainchat.Conversation, error) {
	return s.findConversation(ctx, bson.M{"pair_key": string(key)})
}

func (s *ChatStore) findConversation(ctx context.Context, filter bson.M) (*domainchat.Conversation, error) {
	var doc conversationDocument
	if err := s.conversations.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainchat.ErrConversationNotFound
		}
		return nil, err
	}
	return doc.toDomain(), nil
}

func (s *ChatStore) ConversationsForUser(ctx context.Context, userID domainuser.ID) ([]*domainchat.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}})
	cur, err := s.conversations.Find(ctx, bson.M{"participant_ids": string(userID)}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var docs []conversationDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*domainchat.Conversation, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out, nil
}

// TouchConversation only moves updated_at forward.
func (s *ChatStore) TouchConversation(ctx context.Context, id domainchat.ConversationID, at time.Time) error {
	ms := millis(at)
	res, err := s.conversations.UpdateOne(ctx,
		bson.M{"_id": string(id), "updated_at": bson.M{"$lt": ms}},
		bson.M{"$set": bson.M{"updated_at": ms}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := s.conversations.CountDocuments(ctx, bson.M{"_id": string(id)})
	if err != nil {
		return err
	}
	if n == 0 {
		return domainchat.ErrConversationNotFound
	}
	return nil
}

func (s *ChatStore) AppendMessage(ctx context.Context, msg *domainchat.Message) error {
	_, err := s.messages.InsertOne(ctx, newMessageDocument(msg))
	return err
}

func (s *ChatStore) MessagesByConversation(ctx context.Context, id domainchat.ConversationID) ([]*domainchat.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.messages.Find(ctx, bson.M{"conversation_id": string(id)}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var docs []messageDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*domainchat.Message, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out, nil
}

func (s *ChatStore) LatestMessage(ctx context.Context, id domainchat.ConversationID) (*domainchat.Message, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	var doc messageDocument
	if err := s.messages.FindOne(ctx, bson.M{"conversation_id": string(id)}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainchat.ErrNoMessages
		}
		return nil, err
	}
	return doc.toDomain(), nil
}

func (s *ChatStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

type participantDocument struct {
	UserID   string `bson:"user_id"`
	Role     string `bson:"role"`
	JoinedAt int64  `bson:"joined_at"`
}

type conversationDocument struct {
	ID             string                `bson:"_id"`
	PairKey        string                `bson:"pair_key"`
	Participants   []participantDocument `bson:"participants"`
	ParticipantIDs []string              `bson:"participant_ids"`
	CreatedAt      int64                 `bson:"created_at"`
	UpdatedAt      int64                 `bson:"updated_at"`
}

func newConversationDocument(c *domainchat.Conversation) conversationDocument {
	doc := conversationDocument{
		ID:        string(c.ID),
		PairKey:   string(c.PairKey),
		CreatedAt: millis(c.CreatedAt),
		UpdatedAt: millis(c.UpdatedAt),
	}
	for _, p := range c.Participants {
		doc.Participants = append(doc.Participants, participantDocument{
			UserID:   string(p.UserID),
			Role:     string(p.Role),
			JoinedAt: millis(p.JoinedAt),
		})
		doc.ParticipantIDs = append(doc.ParticipantIDs, string(p.UserID))
	}
	return doc
}

func (d conversationDocument) toDomain() *domainchat.Conversation {
	conv := &domainchat.Conversation{
		ID:        domainchat.ConversationID(d.ID),
		PairKey:   domainchat.PairKey(d.PairKey),
		CreatedAt: fromMillis(d.CreatedAt),
		UpdatedAt: fromMillis(d.UpdatedAt),
	}
	for _, p := range d.Participants {
		conv.Participants = append(conv.Participants, domainchat.Participant{
			UserID:   domainuser.ID(p.UserID),
			Role:     domainuser.Role(p.Role),
			JoinedAt: fromMillis(p.JoinedAt),
		})
	}
	return conv
}

type messageDocument struct {
	ID             string `bson:"_id"`
	ConversationID string `bson:"conversation_id"`
	SenderID       string `bson:"sender_id"`
	Text           string `bson:"text"`
	AttachmentURL  string `bson:"attachment_url,omitempty"`
	CreatedAt      int64  `bson:"created_at"`
}

func newMessageDocument(m *domainchat.Message) messageDocument {
	return messageDocument{
		ID:             string(m.ID),
		ConversationID: string(m.ConversationID),
		SenderID:       string(m.SenderID),
		Text:           m.Text,
		AttachmentURL:  m.AttachmentURL,
		CreatedAt:      millis(m.CreatedAt),
	}
}

func (d messageDocument) toDomain() *domainchat.Message {
	return &domainchat.Message{
		ID:             domainchat.MessageID(d.ID),
		ConversationID: domainchat.ConversationID(d.ConversationID),
		SenderID:       domainuser.ID(d.SenderID),
		Text:           d.Text,
		AttachmentURL:  d.AttachmentURL,
		CreatedAt:      fromMillis(d.CreatedAt),
	}
}

var _ domainchat.Store = (*ChatStore)(nil)
