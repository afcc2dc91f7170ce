package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIssuer(t *testing.T) (*TokenIssuer, *time.Time) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	iss := NewTokenIssuer(priv, "trustd-test", 15*time.Minute, 7*24*time.Hour)
	iss.SetClock(func() time.Time { return now })
	return iss, &now
}

func TestIssueAndParsePair(t *testing.T) {
	iss, now := newIssuer(t)
	pair, err := iss.IssuePair("dev_1")
	require.NoError(t, err)
	assert.Equal(t, now.Add(15*time.Minute), pair.AccessExpiresAt)
	assert.Equal(t, now.Add(7*24*time.Hour), pair.RefreshExpiresAt)

	c, err := iss.ParseAndValidate(pair.AccessToken, TokenAccess)
	require.NoError(t, err)
	assert.Equal(t, "dev_1", c.DeviceID)
	assert.Equal(t, TokenAccess, c.Type)
	assert.NotEmpty(t, c.TokenID)
	assert.Equal(t, now.Unix(), c.IssuedAt)

	r, err := iss.ParseAndValidate(pair.RefreshToken, TokenRefresh)
	require.NoError(t, err)
	assert.NotEqual(t, c.TokenID, r.TokenID)
}

func TestParseRejectsWrongType(t *testing.T) {
	iss, _ := newIssuer(t)
	pair, err := iss.IssuePair("dev_1")
	require.NoError(t, err)
	_, err = iss.ParseAndValidate(pair.RefreshToken, TokenAccess)
	assert.ErrorIs(t, err, ErrTokenInvalid)
	_, err = iss.ParseAndValidate(pair.AccessToken, TokenRefresh)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestParseExpired(t *testing.T) {
	iss, now := newIssuer(t)
	pair, err := iss.IssuePair("dev_1")
	require.NoError(t, err)
	*now = now.Add(16 * time.Minute)
	_, err = iss.ParseAndValidate(pair.AccessToken, TokenAccess)
	assert.ErrorIs(t, err, ErrTokenExpired)
	_, err = iss.ParseAndValidate(pair.RefreshToken, TokenRefresh)
	assert.NoError(t, err)
}

func TestParseRejectsTamperingAndForeignKeys(t *testing.T) {
	iss, _ := newIssuer(t)
	pair, err := iss.IssuePair("dev_1")
	require.NoError(t, err)

	parts := strings.Split(pair.AccessToken, ".")
	require.Len(t, parts, 3)
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)
	_, err = iss.ParseAndValidate(tampered, TokenAccess)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	other, _ := newIssuer(t)
	_, err = other.ParseAndValidate(pair.AccessToken, TokenAccess)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = iss.ParseAndValidate("not-a-jwt", TokenAccess)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestHashTokenAndPreview(t *testing.T) {
	h := HashToken("abc")
	assert.Len(t, h, 64)
	assert.Equal(t, h, HashToken("abc"))
	assert.NotEqual(t, h, HashToken("abd"))

	assert.Equal(t, "...wxyz", Preview("abcdefghijklmnopqrstuvwxyz"))
	assert.Equal(t, "****", Preview("abc"))
}

func TestHashAndVerifySecret(t *testing.T) {
	p := ArgonParams{Memory: 1024, Time: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32}
	hash, err := HashSecret(p, "admin-token")
	require.NoError(t, err)

	ok, err := VerifySecret("admin-token", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifySecret("admin-tokem", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = VerifySecret("x", "plain")
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestParseSecretHash(t *testing.T) {
	p := ArgonParams{Memory: 1024, Time: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32}
	encoded, err := HashSecret(p, "admin-token")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=1024,t=1,p=1$"), encoded)

	h, err := ParseSecretHash(encoded)
	require.NoError(t, err)
	assert.Equal(t, encoded, h.String())
	assert.True(t, h.Verify("admin-token"))
	assert.False(t, h.Verify(""))

	parts := strings.Split(encoded, "$")
	for name, bad := range map[string]string{
		"old layout":  "argon2id$m=1024,t=1,p=1$" + parts[4] + "$" + parts[5],
		"version":     "$argon2id$v=16$" + strings.Join(parts[3:], "$"),
		"huge memory": "$argon2id$v=19$m=4194304,t=1,p=1$" + parts[4] + "$" + parts[5],
		"zero time":   "$argon2id$v=19$m=1024,t=0,p=1$" + parts[4] + "$" + parts[5],
		"short key":   "$argon2id$v=19$m=1024,t=1,p=1$" + parts[4] + "$AAAA",
		"argon2i":     "$argon2i$" + strings.Join(parts[2:], "$"),
	} {
		_, err := ParseSecretHash(bad)
		assert.ErrorIs(t, err, ErrInvalidHash, name)
	}
}

func TestAuthRequired(t *testing.T) {
	iss, _ := newIssuer(t)
	pair, err := iss.IssuePair("dev_1")
	require.NoError(t, err)

	revoked := map[string]bool{}
	check := func(_ context.Context, tok string) (string, error) {
		if revoked[tok] {
			return "", errors.New("revoked")
		}
		return "sess-1", nil
	}
	var seen *Claims
	h := AuthRequired(iss, check)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(header string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, do("Bearer "+pair.AccessToken))
	require.NotNil(t, seen)
	assert.Equal(t, "dev_1", seen.DeviceID)
	assert.Equal(t, "sess-1", seen.SessionID)

	assert.Equal(t, http.StatusUnauthorized, do(""))
	assert.Equal(t, http.StatusUnauthorized, do("Bearer "+pair.RefreshToken))

	revoked[pair.AccessToken] = true
	assert.Equal(t, http.StatusUnauthorized, do("Bearer "+pair.AccessToken))
}

func TestAuthOptionalDegradesToNoIdentity(t *testing.T) {
	iss, _ := newIssuer(t)
	var had bool
	h := AuthOptional(iss, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, had = FromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, had)
}
