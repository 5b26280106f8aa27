package handler

import (
	"github.com/labstack/echo/v4"

	"classifieds/internal/adapter/api/middleware"
	"classifieds/internal/usecase"
	"classifieds/pkg/errors"
	"classifieds/pkg/response"
)

type MessageHandler struct {
	chatUseCase *usecase.ChatUseCase
}

func NewMessageHandler(chatUseCase *usecase.ChatUseCase) *MessageHandler {
	return &MessageHandler{
		chatUseCase: chatUseCase,
	}
}

type sendMessageRequest struct {
	Content   string `json:"content" validate:"required"`
	ProductID string `json:"product_id"`
}

// GetMessages returns the conversation history, oldest first.
func (h *MessageHandler) GetMessages(c echo.Context) error {
	ctx := c.Request().Context()
	conversation, err := h.chatUseCase.Conversations().GetConversation(ctx, c.Param("id"), middleware.UserID(c))
	if err != nil {
		return response.Error(c, err)
	}

	messages := h.chatUseCase.Messages().LoadHistory(ctx, conversation.ID)
	return response.Success(c, messages)
}

// SendMessage sends to the other participant of the conversation.
func (h *MessageHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, errors.BadRequest("Invalid request body", err))
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	ctx := c.Request().Context()
	userID := middleware.UserID(c)
	conversation, err := h.chatUseCase.Conversations().GetConversation(ctx, c.Param("id"), userID)
	if err != nil {
		return response.Error(c, err)
	}

	message, err := h.chatUseCase.SendMessage(ctx, conversation, userID, req.Content, req.ProductID)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Created(c, message)
}

// MarkRead marks every message addressed to the caller in the conversation read.
func (h *MessageHandler) MarkRead(c echo.Context) error {
	ctx := c.Request().Context()
	userID := middleware.UserID(c)
	conversation, err := h.chatUseCase.Conversations().GetConversation(ctx, c.Param("id"), userID)
	if err != nil {
		return response.Error(c, err)
	}

	marked, err := h.chatUseCase.MarkRead(ctx, conversation.ID, userID)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]int64{"marked": marked})
}
