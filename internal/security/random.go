package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
)

// RandomFromAlphabet returns n characters drawn uniformly from alphabet.
func RandomFromAlphabet(alphabet string, n int) (string, error) {
	if alphabet == "" || n <= 0 {
		return "", fmt.Errorf("random: invalid alphabet or length")
	}
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("random: %w", err)
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}

// RandomToken returns a hex-encoded token of byteLen random bytes.
func RandomToken(byteLen int) (string, error) {
	secret := make([]byte, byteLen)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return "", fmt.Errorf("random token: %w", err)
	}
	return hex.EncodeToString(secret), nil
}
