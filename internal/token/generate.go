package token

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	Prefix   = "tk_"
	bodySize = 32
	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// Generate returns Prefix followed by 32 random alphanumerics.
func Generate() (string, error) {
	limit := big.NewInt(int64(len(alphabet)))
	buf := make([]byte, bodySize)
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		buf[i] = alphabet[n.Int64()]
	}
	return Prefix + string(buf), nil
}
