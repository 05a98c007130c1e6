// Package auth holds the API key material helpers. Keys are opaque bearer
// credentials issued to users; only their SHA-256 hash is ever persisted.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// KeyPrefix identifies hive API keys.
const KeyPrefix = "hive_"

// GenerateKey returns a new API key: the "hive_" prefix followed by 64 hex
// characters (32 random bytes).
func GenerateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return KeyPrefix + hex.EncodeToString(b), nil
}

// HashKey returns the hex-encoded SHA-256 of the full key string. This is
// the only form in which keys are stored and compared.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
