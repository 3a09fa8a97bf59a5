package security

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const apiKeyCost = 12

// HashAPIKey returns a bcrypt hash suitable for server.admin_api_keys.
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), apiKeyCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// IsHashedAPIKey reports whether a configured key is a bcrypt hash.
func IsHashedAPIKey(configured string) bool {
	return strings.HasPrefix(configured, "$2a$") || strings.HasPrefix(configured, "$2b$") || strings.HasPrefix(configured, "$2y$")
}

// CheckAPIKey compares a bcrypt hash with a presented key.
func CheckAPIKey(hash, presented string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(presented)) == nil
}
