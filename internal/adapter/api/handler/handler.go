package handler

import (
	"classifieds/internal/usecase"
)

var (
	conversationHandler *ConversationHandler
	messageHandler      *MessageHandler
	notificationHandler *NotificationHandler
)

func Setup(chatUseCase *usecase.ChatUseCase) {
	conversationHandler = NewConversationHandler(chatUseCase)
	messageHandler = NewMessageHandler(chatUseCase)
	notificationHandler = NewNotificationHandler(chatUseCase.Hub())
}

func GetConversationHandler() *ConversationHandler {
	return conversationHandler
}

func GetMessageHandler() *MessageHandler {
	return messageHandler
}

func GetNotificationHandler() *NotificationHandler {
	return notificationHandler
}
