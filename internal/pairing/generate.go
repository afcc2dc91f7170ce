package pairing

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// shortAlphabet omits 0/O and 1/I. Its length is 32 so masking a random
// byte is unbiased.
const shortAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	shortLength   = 8
	numericDigits = 6
)

var numericSpace = big.NewInt(1_000_000)

func generate(f Format) (string, error) {
	switch f {
	case FormatUUID:
		id, err := uuid.NewRandom()
		if err != nil {
			return "", err
		}
		return id.String(), nil
	case FormatShort:
		buf := make([]byte, shortLength)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for i, b := range buf {
			buf[i] = shortAlphabet[b&31]
		}
		return string(buf), nil
	case FormatNumeric:
		n, err := rand.Int(rand.Reader, numericSpace)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%0*d", numericDigits, n.Int64()), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, f)
	}
}
