package auth

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken is the only form in which bearer tokens are persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Preview shows the trailing four characters of a secret for logs and
// error messages.
func Preview(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return "..." + secret[len(secret)-4:]
}
