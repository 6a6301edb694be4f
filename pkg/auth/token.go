package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const (
	sessionTokenBytes = 16 // 32 hex characters
	taskTokenBytes    = 18 // 36 hex characters
)

// newHexToken returns n cryptographically random bytes hex-encoded
func newHexToken(n int) (string, error) {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
