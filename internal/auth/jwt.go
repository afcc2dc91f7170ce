package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer mints and verifies EdDSA-signed device tokens.
type TokenIssuer struct {
	priv       ed25519.PrivateKey
	pub        ed25519.PublicKey
	iss        string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewTokenIssuer(priv ed25519.PrivateKey, iss string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		priv:       priv,
		pub:        priv.Public().(ed25519.PublicKey),
		iss:        iss,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// SetClock replaces the time source, for tests.
func (t *TokenIssuer) SetClock(now func() time.Time) { t.now = now }

func (t *TokenIssuer) AccessTTL() time.Duration  { return t.accessTTL }
func (t *TokenIssuer) RefreshTTL() time.Duration { return t.refreshTTL }

// IssuePair signs a fresh access and refresh token for deviceID.
func (t *TokenIssuer) IssuePair(deviceID string) (TokenPair, error) {
	if deviceID == "" {
		return TokenPair{}, errors.New("auth: empty device id")
	}
	now := t.now()
	access, accessExp, err := t.sign(deviceID, TokenAccess, now, t.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := t.sign(deviceID, TokenRefresh, now, t.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (t *TokenIssuer) sign(sub string, typ TokenType, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"iss": t.iss,
		"sub": sub,
		"typ": string(typ),
		"iat": now.Unix(),
		"exp": exp.Unix(),
		"jti": randomJTI(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	ss, err := token.SignedString(t.priv)
	return ss, exp, err
}

// ParseAndValidate checks signature, issuer, expiry and token type.
// Expired tokens fail with ErrTokenExpired, everything else with
// ErrTokenInvalid.
func (t *TokenIssuer) ParseAndValidate(tokenStr string, want TokenType) (*Claims, error) {
	keyFunc := func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodEdDSA {
			return nil, errors.New("unexpected signing method")
		}
		return t.pub, nil
	}
	tok, err := jwt.ParseWithClaims(
		tokenStr,
		jwt.MapClaims{},
		keyFunc,
		jwt.WithIssuer(t.iss),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(t.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrTokenExpired
	}
	if err != nil || !tok.Valid {
		return nil, ErrTokenInvalid
	}
	std := tok.Claims.(jwt.MapClaims)

	getString := func(k string) string {
		if v, ok := std[k].(string); ok {
			return v
		}
		return ""
	}
	getInt64 := func(k string) int64 {
		switch v := std[k].(type) {
		case float64:
			return int64(v)
		case int64:
			return v
		default:
			return 0
		}
	}

	c := &Claims{
		DeviceID:  getString("sub"),
		Type:      TokenType(getString("typ")),
		TokenID:   getString("jti"),
		IssuedAt:  getInt64("iat"),
		ExpiresAt: getInt64("exp"),
	}
	if c.DeviceID == "" || c.TokenID == "" {
		return nil, ErrTokenInvalid
	}
	if c.Type != want {
		return nil, fmt.Errorf("%w: expected %s token", ErrTokenInvalid, want)
	}
	return c, nil
}

func randomJTI() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
