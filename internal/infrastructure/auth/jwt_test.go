package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	token, err := m.IssueToken(context.Background(), "u1", "Alice")
	require.NoError(t, err)

	identity, err := m.VerifyToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.UserID)
	assert.Equal(t, "Alice", identity.Name)
}

func TestVerifyRejects(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	token, err := m.IssueToken(context.Background(), "u1", "")
	require.NoError(t, err)

	_, err = NewJWTManager("other", time.Hour).VerifyToken(context.Background(), token)
	assert.Error(t, err, "wrong secret")

	_, err = m.VerifyToken(context.Background(), "not-a-token")
	assert.Error(t, err)

	expired := NewJWTManager("secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, err := expired.IssueToken(context.Background(), "u1", "")
	require.NoError(t, err)
	_, err = m.VerifyToken(context.Background(), old)
	assert.Error(t, err, "expired")

	_, err = m.IssueToken(context.Background(), "", "")
	assert.Error(t, err)
}

func TestParseBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc", "abc", false},
		{"bearer abc", "abc", false},
		{"", "", true},
		{"Token abc", "", true},
		{"Bearer ", "", true},
		{"abc", "", true},
	}
	for _, tt := range tests {
		got, err := ParseBearerToken(tt.header)
		if tt.wantErr {
			assert.Error(t, err, tt.header)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
