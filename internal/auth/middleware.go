package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type ctxKey int

const claimsKey ctxKey = 1

func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok
}

type TokenParser interface {
	ParseAndValidate(tokenStr string, want TokenType) (*Claims, error)
}

// SessionCheck resolves an access token to its active session ID. Any error
// means the session is gone, revoked or expired.
type SessionCheck func(ctx context.Context, accessToken string) (sessionID string, err error)

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	return tok, tok != ""
}

func authenticate(r *http.Request, parser TokenParser, check SessionCheck) (*Claims, error) {
	token, ok := bearer(r)
	if !ok {
		return nil, ErrTokenInvalid
	}
	claims, err := parser.ParseAndValidate(token, TokenAccess)
	if err != nil {
		return nil, err
	}
	if check != nil {
		sid, err := check(r.Context(), token)
		if err != nil {
			return nil, ErrTokenInvalid
		}
		claims.SessionID = sid
	}
	return claims, nil
}

// AuthRequired checks the bearer access token and that its session is still
// active, then adds the claims to the request context.
func AuthRequired(parser TokenParser, check SessionCheck) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := authenticate(r, parser, check)
			switch {
			case errors.Is(err, ErrTokenExpired):
				http.Error(w, "token expired", http.StatusUnauthorized)
				return
			case err != nil:
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// AuthOptional attaches claims when a valid token is presented and otherwise
// serves the request with no identity.
func AuthOptional(parser TokenParser, check SessionCheck) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if claims, err := authenticate(r, parser, check); err == nil {
				r = r.WithContext(WithClaims(r.Context(), claims))
			}
			next.ServeHTTP(w, r)
		})
	}
}
