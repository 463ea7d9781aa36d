package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	m := NewJWTManager("secret", "z-novel")

	token, err := m.GenerateToken("u-1", time.Hour)
	require.NoError(t, err)

	claims, err := m.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, TokenTypeAccess, claims.Type)
}

func TestJWTRejects(t *testing.T) {
	m := NewJWTManager("secret", "z-novel")

	expired, err := m.GenerateToken("u-1", -time.Minute)
	require.NoError(t, err)
	_, err = m.ParseToken(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)

	foreign, err := NewJWTManager("other", "z-novel").GenerateToken("u-1", time.Hour)
	require.NoError(t, err)
	_, err = m.ParseToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer, err := NewJWTManager("secret", "someone-else").GenerateToken("u-1", time.Hour)
	require.NoError(t, err)
	_, err = m.ParseToken(wrongIssuer)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.ParseToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
