package chat

import (
	"storefront/internal/app/commands"
	"storefront/internal/app/dto"
	"storefront/internal/app/queries"
)

// Handlers groups every chat handler for registration on the buses.
type Handlers struct {
	OpenSupport       *OpenSupportConversationHandler
	OpenDirect        *OpenDirectConversationHandler
	PostMessage       *PostMessageHandler
	UploadAttachment  *UploadAttachmentHandler
	ListMessages      *ListMessagesHandler
	ListConversations *ListConversationsHandler
}

func (h Handlers) Register(cmds *commands.Registry, qs *queries.Registry) {
	if h.OpenSupport != nil {
		commands.Register[OpenSupportConversationCommand, *dto.OpenedConversation](cmds, openSupportKey, h.OpenSupport)
	}
	if h.OpenDirect != nil {
		commands.Register[OpenDirectConversationCommand, *dto.OpenedConversation](cmds, openDirectKey, h.OpenDirect)
	}
	if h.PostMessage != nil {
		commands.Register[PostMessageCommand, *dto.Message](cmds, postMessageKey, h.PostMessage)
	}
	if h.UploadAttachment != nil {
		commands.Register[UploadAttachmentCommand, *dto.Attachment](cmds, uploadAttachmentKey, h.UploadAttachment)
	}
	if h.ListMessages != nil {
		queries.Register[ListMessagesQuery, []dto.Message](qs, listMessagesKey, h.ListMessages)
	}
	if h.ListConversations != nil {
		queries.Register[ListConversationsQuery, []dto.Conversation](qs, listConversationsKey, h.ListConversations)
	}
}
