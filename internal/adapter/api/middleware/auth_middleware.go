package middleware

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"classifieds/internal/domain/entity"
	"classifieds/internal/infrastructure/auth"
	"classifieds/pkg/logger"
)

const (
	ContextUserID   = "uid"
	ContextUserName = "name"
)

// TokenVerifier turns a bearer token into the caller's identity.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*entity.Identity, error)
}

type AuthMiddleware struct {
	verifier TokenVerifier
}

func NewAuthMiddleware(verifier TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
	}
}

func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, err := auth.ParseBearerToken(c.Request().Header.Get("Authorization"))
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header is required")
		}
		return m.authenticate(c, token, next)
	}
}

// AuthenticateQuery also accepts the token as ?token=, since browsers cannot
// set headers on a websocket handshake.
func (m *AuthMiddleware) AuthenticateQuery(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if token := c.QueryParam("token"); token != "" {
			return m.authenticate(c, token, next)
		}
		return m.Authenticate(next)(c)
	}
}

func (m *AuthMiddleware) authenticate(c echo.Context, token string, next echo.HandlerFunc) error {
	identity, err := m.verifier.VerifyToken(c.Request().Context(), token)
	if err != nil {
		logger.Debug("Auth: token rejected for %s: %v", c.Path(), err)
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
	}

	c.Set(ContextUserID, identity.UserID)
	c.Set(ContextUserName, identity.Name)
	return next(c)
}

// UserID returns the authenticated caller, or "" outside authenticated routes.
func UserID(c echo.Context) string {
	uid, _ := c.Get(ContextUserID).(string)
	return uid
}

func Identity(c echo.Context) entity.Identity {
	name, _ := c.Get(ContextUserName).(string)
	return entity.Identity{UserID: UserID(c), Name: name}
}
