package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lorawan-device-simulator/internal/config"
	"github.com/lorawan-server/lorawan-device-simulator/pkg/crypto"
)

func newTestManager(t *testing.T, accessTTL time.Duration) *JWTManager {
	hash, err := crypto.HashPassword("admin")
	require.NoError(t, err)
	return NewJWTManager(config.APIConfig{
		Username:     "admin",
		PasswordHash: hash,
		JWT: config.JWTConfig{
			Secret:          "test-secret",
			AccessTokenTTL:  accessTTL,
			RefreshTokenTTL: time.Hour,
		},
	})
}

func TestLogin(t *testing.T) {
	m := newTestManager(t, time.Minute)
	assert.True(t, m.Enabled())

	pair, err := m.Login("admin", "admin")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, 60, pair.ExpiresIn)

	claims, err := m.ValidateToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)
	assert.Equal(t, AccessToken, claims.Type)
	assert.NotEmpty(t, claims.ID)

	_, err = m.Login("admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = m.Login("root", "admin")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestTokenTypesAreNotInterchangeable(t *testing.T) {
	m := newTestManager(t, time.Minute)
	pair, err := m.GenerateTokenPair("admin")
	require.NoError(t, err)

	_, err = m.ValidateToken(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = m.RefreshToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	next, err := m.RefreshToken(pair.RefreshToken)
	require.NoError(t, err)
	_, err = m.ValidateToken(next.AccessToken)
	assert.NoError(t, err)
}

func TestRejectedTokens(t *testing.T) {
	m := newTestManager(t, -time.Minute)
	pair, err := m.GenerateTokenPair("admin")
	require.NoError(t, err)

	_, err = m.ValidateToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")

	other := NewJWTManager(config.APIConfig{JWT: config.JWTConfig{Secret: "other", AccessTokenTTL: time.Minute}})
	otherPair, err := other.GenerateTokenPair("admin")
	require.NoError(t, err)
	_, err = m.ValidateToken(otherPair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong secret")

	_, err = m.ValidateToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	disabled := NewJWTManager(config.APIConfig{})
	assert.False(t, disabled.Enabled())
	_, err = disabled.Login("", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
