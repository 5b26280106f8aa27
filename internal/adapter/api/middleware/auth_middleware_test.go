package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classifieds/internal/domain/entity"
)

type staticVerifier map[string]entity.Identity

func (v staticVerifier) VerifyToken(ctx context.Context, token string) (*entity.Identity, error) {
	identity, ok := v[token]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return &identity, nil
}

func run(t *testing.T, handler echo.MiddlewareFunc, req *http.Request) (echo.Context, error) {
	t.Helper()
	e := echo.New()
	c := e.NewContext(req, httptest.NewRecorder())
	err := handler(func(c echo.Context) error { return nil })(c)
	return c, err
}

func TestAuthenticate(t *testing.T) {
	m := NewAuthMiddleware(staticVerifier{"good": {UserID: "u1", Name: "Alice"}})

	req := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
	req.Header.Set("Authorization", "Bearer good")
	c, err := run(t, m.Authenticate, req)
	require.NoError(t, err)
	assert.Equal(t, "u1", UserID(c))
	assert.Equal(t, entity.Identity{UserID: "u1", Name: "Alice"}, Identity(c))

	for _, header := range []string{"", "Bearer bad", "Basic good"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		c, err := run(t, m.Authenticate, req)
		var httpErr *echo.HTTPError
		require.ErrorAs(t, err, &httpErr, header)
		assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
		assert.Empty(t, UserID(c))
	}
}

func TestAuthenticateQuery(t *testing.T) {
	m := NewAuthMiddleware(staticVerifier{"good": {UserID: "u1"}})

	c, err := run(t, m.AuthenticateQuery, httptest.NewRequest(http.MethodGet, "/ws?token=good", nil))
	require.NoError(t, err)
	assert.Equal(t, "u1", UserID(c))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer good")
	c, err = run(t, m.AuthenticateQuery, req)
	require.NoError(t, err)
	assert.Equal(t, "u1", UserID(c))

	_, err = run(t, m.AuthenticateQuery, httptest.NewRequest(http.MethodGet, "/ws?token=bad", nil))
	assert.Error(t, err)
}
