package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
)

// MAC returns HMAC-SHA256 over the concatenation of parts. Empty parts are skipped.
func MAC(key []byte, parts ...[]byte) []byte {
	mac := hmac.New(sha256.New, key)
	for _, p := range parts {
		if len(p) > 0 {
			mac.Write(p)
		}
	}
	return mac.Sum(nil)
}
