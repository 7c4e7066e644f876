package auth

import (
	"errors"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the floor enforced by ValidatePassword.
const MinPasswordLength = 10

// HashPassword returns a bcrypt hash of the password at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword validates a password against a stored bcrypt hash.
func CheckPassword(password, stored string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}

// ValidatePassword enforces the signup strength rules: minimum length plus
// at least one uppercase letter, one lowercase letter, one digit, and one
// symbol.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return errors.New("password must be at least 10 characters")
	}
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	if !upper {
		return errors.New("password must contain an uppercase letter")
	}
	if !lower {
		return errors.New("password must contain a lowercase letter")
	}
	if !digit {
		return errors.New("password must contain a digit")
	}
	if !special {
		return errors.New("password must contain a symbol")
	}
	return nil
}
