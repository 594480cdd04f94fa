package utils

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashOrRead accepts either a plaintext admin password or an already
// bcrypt-hashed value and returns the bcrypt hash either way, so the
// same env var can carry both forms.
func HashOrRead(password string) ([]byte, error) {
	if strings.HasPrefix(password, "$2a$") || strings.HasPrefix(password, "$2b$") || strings.HasPrefix(password, "$2y$") {
		return []byte(password), nil // already bcrypt
	}
	return bcrypt.GenerateFromPassword([]byte(password), 10)
}

// CheckPassword compares a candidate password against a bcrypt hash.
func CheckPassword(hash []byte, candidate string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(candidate)) == nil
}
