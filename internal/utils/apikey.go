package utils

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// BcryptCost balances login latency against brute-force cost; api keys
	// are validated once per device login, not per request.
	BcryptCost = 12
	// MinAPIKeyLength rejects keys too short to be worth hashing.
	MinAPIKeyLength = 12
)

// HashAPIKey hashes a tenant api key for at-rest storage. The plaintext key
// is never persisted; only the hash lives on the tenant row.
func HashAPIKey(key string) (string, error) {
	if len(key) < MinAPIKeyLength {
		return "", fmt.Errorf("api key must be at least %d characters long", MinAPIKeyLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckAPIKey reports whether key matches the stored hash.
func CheckAPIKey(hash string, key string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}
