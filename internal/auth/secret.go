package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// SecretSize is the number of random bytes in a generated signing secret.
// HS256 keys should be at least as long as the hash output.
const SecretSize = 32

// GenerateSecret returns a random signing secret as a 64-character hex string,
// suitable for auth.jwt_secret.
func GenerateSecret() (string, error) {
	key := make([]byte, SecretSize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(key), nil
}
