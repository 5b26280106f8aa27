package handler

import (
	"github.com/labstack/echo/v4"

	"classifieds/internal/adapter/api/middleware"
	"classifieds/internal/usecase"
	"classifieds/pkg/errors"
	"classifieds/pkg/response"
)

type ConversationHandler struct {
	chatUseCase *usecase.ChatUseCase
}

func NewConversationHandler(chatUseCase *usecase.ChatUseCase) *ConversationHandler {
	return &ConversationHandler{
		chatUseCase: chatUseCase,
	}
}

type createConversationRequest struct {
	SellerID  string `json:"seller_id" validate:"required"`
	ProductID string `json:"product_id" validate:"required"`
}

// ListConversations returns the caller's conversations, most recent first.
func (h *ConversationHandler) ListConversations(c echo.Context) error {
	userID := middleware.UserID(c)
	conversations := h.chatUseCase.Conversations().ListConversations(c.Request().Context(), userID)
	return response.Success(c, conversations)
}

// CreateConversation opens the conversation with a seller about a product,
// reusing an existing one.
func (h *ConversationHandler) CreateConversation(c echo.Context) error {
	var req createConversationRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, errors.BadRequest("Invalid request body", err))
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	conversation, created, err := h.chatUseCase.Conversations().GetOrCreateConversation(c.Request().Context(), usecase.CreateConversationInput{
		BuyerID:   middleware.UserID(c),
		SellerID:  req.SellerID,
		ProductID: req.ProductID,
	})
	if err != nil {
		return response.Error(c, err)
	}

	if created {
		return response.Created(c, conversation)
	}
	return response.Success(c, conversation)
}

func (h *ConversationHandler) GetConversation(c echo.Context) error {
	conversation, err := h.chatUseCase.Conversations().GetConversation(c.Request().Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, conversation)
}
