package crypto

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// APIKeyCost is the bcrypt cost used when hashing new keys.
var APIKeyCost = bcrypt.DefaultCost

// GenerateAPIKey returns a new random API key and its bcrypt hash.
// Only the hash is stored; the key is shown to the user once.
func GenerateAPIKey() (key, hash string, err error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", "", err
	}
	key = strings.ReplaceAll(id.String(), "-", "")
	h, err := bcrypt.GenerateFromPassword([]byte(key), APIKeyCost)
	if err != nil {
		return "", "", err
	}
	return key, string(h), nil
}

// VerifyAPIKey checks key against a stored hash.
func VerifyAPIKey(hash, key string) error {
	if key == "" || hash == "" {
		return ErrInvalidAPIKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
		return ErrInvalidAPIKey
	}
	return nil
}
