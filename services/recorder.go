package services

import (
	"chat-hub/contract"
	"chat-hub/domain/event"
	"chat-hub/repositories"
)

// MessageRecorder maps broadcast chat events onto durable chat records.
// It satisfies contract.IMessageRecorder for the coordinator.
type MessageRecorder struct {
	messages repositories.IMessageRepository
}

func NewMessageRecorder(messages repositories.IMessageRepository) *MessageRecorder {
	return &MessageRecorder{messages: messages}
}

var _ contract.IMessageRecorder = (*MessageRecorder)(nil)

func (r *MessageRecorder) SaveUserMessage(m event.UserMessage) error {
	return r.messages.StoreMessage(repositories.ChatRecord{
		ID:         m.ID,
		AuthorID:   m.User.Key,
		AuthorName: m.User.Name,
		Content:    m.Text,
		At:         m.At,
	})
}

func (r *MessageRecorder) SaveBotMessage(m event.BotMessage) error {
	return r.messages.StoreMessage(repositories.ChatRecord{
		ID:      m.ID,
		Content: m.Text,
		Bot:     true,
		At:      m.At,
	})
}
