package router

import (
	"github.com/labstack/echo/v4"

	"classifieds/internal/adapter/api/handler"
	"classifieds/internal/adapter/api/middleware"
)

// SetupChatRouter registers the conversation and message routes.
func SetupChatRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware) {
	conversationHandler := handler.GetConversationHandler()
	messageHandler := handler.GetMessageHandler()

	conversationGroup := e.Group("/v1/conversations")
	conversationGroup.Use(authMiddleware.Authenticate)

	conversationGroup.GET("", conversationHandler.ListConversations)
	conversationGroup.POST("", conversationHandler.CreateConversation)
	conversationGroup.GET("/:id", conversationHandler.GetConversation)

	conversationGroup.GET("/:id/messages", messageHandler.GetMessages)
	conversationGroup.POST("/:id/messages", messageHandler.SendMessage)
	conversationGroup.PUT("/:id/read", messageHandler.MarkRead)
}
