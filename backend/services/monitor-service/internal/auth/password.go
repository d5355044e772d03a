package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrEmptyPassword is returned when hashing an empty operator password.
var ErrEmptyPassword = errors.New("auth: empty password")

// PasswordChecker hashes operator passwords and checks them at login.
type PasswordChecker interface {
	Hash(password string) (string, error)
	Check(hash, password string) error
}

// BcryptChecker implements PasswordChecker with bcrypt.
type BcryptChecker struct {
	cost int
}

// NewBcryptChecker uses bcrypt.DefaultCost when cost is zero.
func NewBcryptChecker(cost int) *BcryptChecker {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptChecker{cost: cost}
}

// Hash produces the value to put in MONITOR_OPERATOR_PASSWORD_HASH.
func (c *BcryptChecker) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	out, err := bcrypt.GenerateFromPassword([]byte(password), c.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(out), nil
}

func (c *BcryptChecker) Check(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// ValidateHash rejects a configured hash that bcrypt cannot read, so a typo
// fails at startup instead of at the first login.
func ValidateHash(hash string) error {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return fmt.Errorf("auth: operator password hash: %w", err)
	}
	return nil
}
