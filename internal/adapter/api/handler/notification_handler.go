package handler

import (
	"github.com/labstack/echo/v4"

	"classifieds/internal/adapter/api/middleware"
	"classifieds/internal/usecase"
	"classifieds/pkg/response"
)

type NotificationHandler struct {
	hub *usecase.NotificationHub
}

func NewNotificationHandler(hub *usecase.NotificationHub) *NotificationHandler {
	return &NotificationHandler{
		hub: hub,
	}
}

// GetCounts returns the caller's badge counts. Inside the debounce window the
// last snapshot is served.
func (h *NotificationHandler) GetCounts(c echo.Context) error {
	ctx := c.Request().Context()
	userID := middleware.UserID(c)

	counts, ran := h.hub.Refresh(ctx, userID)
	if !ran {
		snapshot, ok := h.hub.Snapshot(userID)
		if !ok {
			snapshot = h.hub.ForceRefresh(ctx, userID)
		}
		counts = snapshot
	}
	return response.Success(c, counts)
}

func (h *NotificationHandler) Refresh(c echo.Context) error {
	counts := h.hub.ForceRefresh(c.Request().Context(), middleware.UserID(c))
	return response.Success(c, counts)
}
