package router

import (
	"github.com/labstack/echo/v4"

	"classifieds/internal/adapter/api/handler"
)

// SetupDevRouter registers the token and seeding helpers in development only.
func SetupDevRouter(e *echo.Echo, environment string) {
	devTokenHandler := handler.GetDevTokenHandler()
	if environment != "development" || devTokenHandler == nil {
		return
	}

	e.POST("/v1/dev/token", devTokenHandler.GenerateToken)
	e.POST("/v1/dev/seed", devTokenHandler.Seed)
}
