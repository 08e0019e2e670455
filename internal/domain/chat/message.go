package chat

import (
	"errors"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"storefront/internal/domain/user"
)

const MaxMessageRunes = 4000

var (
	ErrMessageIDRequired = errors.New("chat: message id is required")
	ErrSenderRequired    = errors.New("chat: sender is required")
	ErrEmptyText         = errors.New("chat: message text is required")
	ErrTextTooLong       = errors.New("chat: message text is too long")
	ErrInvalidAttachment = errors.New("chat: attachment url must be an absolute http(s) url")
	ErrNoMessages        = errors.New("chat: conversation has no messages")
)

type MessageID string

// Message is immutable once stored.
type Message struct {
	ID             MessageID
	ConversationID ConversationID
	SenderID       user.ID
	Text           string
	AttachmentURL  string
	CreatedAt      time.Time
}

type NewMessageParams struct {
	ID             MessageID
	ConversationID ConversationID
	SenderID       user.ID
	Text           string
	AttachmentURL  string
	CreatedAt      time.Time
}

func NewMessage(params NewMessageParams) (*Message, error) {
	if strings.TrimSpace(string(params.ID)) == "" {
		return nil, ErrMessageIDRequired
	}
	if strings.TrimSpace(string(params.ConversationID)) == "" {
		return nil, ErrConversationIDRequired
	}
	if strings.TrimSpace(string(params.SenderID)) == "" {
		return nil, ErrSenderRequired
	}
	text, err := NormalizeText(params.Text)
	if err != nil {
		return nil, err
	}
	attachment := strings.TrimSpace(params.AttachmentURL)
	if attachment != "" && !validAttachmentURL(attachment) {
		return nil, ErrInvalidAttachment
	}
	at := params.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	return &Message{
		ID:             params.ID,
		ConversationID: params.ConversationID,
		SenderID:       params.SenderID,
		Text:           text,
		AttachmentURL:  attachment,
		CreatedAt:      at.UTC(),
	}, nil
}

// NormalizeText trims the body and enforces the length limits.
func NormalizeText(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", ErrEmptyText
	}
	if utf8.RuneCountInString(text) > MaxMessageRunes {
		return "", ErrTextTooLong
	}
	return text, nil
}

// Preview returns at most max runes of the text for inbox listings.
func (m *Message) Preview(max int) string {
	if m == nil || max <= 0 {
		return ""
	}
	runes := []rune(m.Text)
	if len(runes) <= max {
		return m.Text
	}
	return string(runes[:max])
}

// SortChronologically orders messages by creation time ascending, ties broken by ID.
func SortChronologically(messages []*Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		a, b := messages[i], messages[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func validAttachmentURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return false
	}
	return parsed.Scheme == "http" || parsed.Scheme == "https"
}
