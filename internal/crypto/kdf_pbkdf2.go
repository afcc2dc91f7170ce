package crypto

import (
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 derives keyLen bytes from secret using PBKDF2-HMAC-SHA256.
func PBKDF2(secret, salt []byte, iterations, keyLen int) []byte {
	return pbkdf2.Key(secret, salt, iterations, keyLen, sha256.New)
}
