package api

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-chatrelay/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestUserId(t *testing.T) {
	tcases := []struct {
		name     string
		ctx      context.Context
		userId   string
		expected bool
	}{
		{
			name:     "no user ID",
			ctx:      context.Background(),
			expected: false,
		},
		{
			name:     "empty user ID",
			ctx:      WithUserId(context.Background(), ""),
			expected: false,
		},
		{
			name:     "user ID set",
			ctx:      WithUserId(context.Background(), "8d7c1b0e"),
			userId:   "8d7c1b0e",
			expected: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			userId, ok := UserId(tc.ctx)
			assert.Equal(t, tc.expected, ok, "expected UserId to return %v", tc.expected)
			assert.Equal(t, tc.userId, userId, "expected UserId to return %q", tc.userId)
		})
	}
}

func Test_extractUserIdFromToken(t *testing.T) {
	app := &RelayApp{signingKey: []byte("test-signing-key")}

	t.Run("round trip", func(t *testing.T) {
		token, err := app.createJwtForSession(types.User{Id: "u1", Username: "alice"}, time.Minute)
		assert.NoError(t, err)

		userId, err := app.extractUserIdFromToken(token)
		assert.NoError(t, err)
		assert.Equal(t, "u1", userId)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := app.createJwtForSession(types.User{Id: "u1"}, -time.Minute)
		assert.NoError(t, err)

		_, err = app.extractUserIdFromToken(token)
		assert.Error(t, err)
	})

	t.Run("signed with another key", func(t *testing.T) {
		other := &RelayApp{signingKey: []byte("other-key")}
		token, err := other.createJwtForSession(types.User{Id: "u1"}, time.Minute)
		assert.NoError(t, err)

		_, err = app.extractUserIdFromToken(token)
		assert.Error(t, err)
	})

	t.Run("missing user id claim", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			expClaim: time.Now().Add(time.Minute).Unix(),
		}).SignedString(app.signingKey)
		assert.NoError(t, err)

		_, err = app.extractUserIdFromToken(token)
		assert.Error(t, err)
	})
}

func Test_passwordHashing(t *testing.T) {
	hash, err := hashPassword("hunter2")
	assert.NoError(t, err)
	assert.NotEqual(t, "hunter2", hash)
	assert.True(t, verifyPassword(hash, "hunter2"))
	assert.False(t, verifyPassword(hash, "hunter3"))
}
