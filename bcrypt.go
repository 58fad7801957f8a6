package accounts

import (
	"errors"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// passwordHashCost sits above bcrypt.DefaultCost; account credentials are
// long-lived and the hash is only computed at registration and reset.
const passwordHashCost = 14

// HashPassword hashes the cleartext password for storage
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), passwordHashCost)
	return string(h), err
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHashAndPassword
		}
		return err
	}
	return nil
}

// RandomPasswordHash generates a throwaway credential for placeholder
// records, no caller ever learns the cleartext
func RandomPasswordHash() string {
	for {
		h, err := HashPassword(uuid.NewString())
		if err == nil {
			return h
		}
	}
}
