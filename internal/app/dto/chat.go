package dto

import "time"

// Participant is a conversation member with resolved display fields.
type Participant struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

// Message is a stored chat message with the sender resolved.
type Message struct {
	ID             string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName"`
	SenderRole     string    `json:"senderRole"`
	Content        string    `json:"content"`
	AttachmentURL  string    `json:"attachmentUrl,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Conversation is one inbox entry. UnreadCount is not tracked and is always zero.
type Conversation struct {
	ID           string        `json:"conversationId"`
	Participants []Participant `json:"participants"`
	LastMessage  *Message      `json:"lastMessage"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	UnreadCount  int           `json:"unreadCount"`
}

// OpenedConversation is returned by the get-or-create endpoints.
type OpenedConversation struct {
	Conversation
	Created bool `json:"created"`
}

type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}
