package auth

import (
	"errors"
	"time"
)

var (
	ErrTokenExpired = errors.New("auth: token expired")
	ErrTokenInvalid = errors.New("auth: token invalid")
)

type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Claims is the verified content of a bearer token. SessionID is not part of
// the token; the middleware fills it in from the session lookup.
type Claims struct {
	DeviceID  string    `json:"sub"`
	Type      TokenType `json:"typ"`
	TokenID   string    `json:"jti"`
	IssuedAt  int64     `json:"iat"`
	ExpiresAt int64     `json:"exp"`
	SessionID string    `json:"-"`
}

// TokenPair is what a client receives on session creation or refresh.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
}
