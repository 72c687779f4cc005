// Package auth issues and checks the bearer tokens of the control API
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lorawan-server/lorawan-device-simulator/internal/config"
	"github.com/lorawan-server/lorawan-device-simulator/pkg/crypto"
)

const issuer = "lorawan-device-simulator"

// Token types carried in the typ claim
const (
	AccessToken  = "access"
	RefreshToken = "refresh"
)

var (
	// ErrInvalidToken is returned for any token that does not verify
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidCredentials is returned by Login on a bad username or password
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// JWTManager manages JWT tokens
type JWTManager struct {
	config       config.JWTConfig
	username     string
	passwordHash string
}

// NewJWTManager creates a new JWT manager for the single API operator
func NewJWTManager(cfg config.APIConfig) *JWTManager {
	return &JWTManager{
		config:       cfg.JWT,
		username:     cfg.Username,
		passwordHash: cfg.PasswordHash,
	}
}

// Enabled reports whether protected routes require a token
func (m *JWTManager) Enabled() bool {
	return m.config.Secret != ""
}

// Claims represents JWT claims
type Claims struct {
	jwt.RegisteredClaims
	Type string `json:"typ"`
}

// TokenPair is returned by Login and Refresh
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// Login checks the configured credentials and issues a token pair
func (m *JWTManager) Login(username, password string) (*TokenPair, error) {
	if m.username == "" || username != m.username {
		return nil, ErrInvalidCredentials
	}
	if !crypto.VerifyPassword(password, m.passwordHash) {
		return nil, ErrInvalidCredentials
	}
	return m.GenerateTokenPair(username)
}

// GenerateTokenPair generates access and refresh tokens
func (m *JWTManager) GenerateTokenPair(subject string) (*TokenPair, error) {
	access, err := m.sign(subject, AccessToken, m.config.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := m.sign(subject, RefreshToken, m.config.RefreshTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(m.config.AccessTokenTTL.Seconds()),
		TokenType:    "Bearer",
	}, nil
}

func (m *JWTManager) sign(subject, typ string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			ID:        uuid.New().String(),
		},
		Type: typ,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.config.Secret))
}

// ValidateToken validates an access token
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	return m.parse(tokenString, AccessToken)
}

// RefreshToken exchanges a refresh token for a new pair
func (m *JWTManager) RefreshToken(refreshTokenString string) (*TokenPair, error) {
	claims, err := m.parse(refreshTokenString, RefreshToken)
	if err != nil {
		return nil, err
	}
	if claims.Subject != m.username {
		return nil, ErrInvalidToken
	}
	return m.GenerateTokenPair(claims.Subject)
}

func (m *JWTManager) parse(tokenString, typ string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.config.Secret), nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Type != typ {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
