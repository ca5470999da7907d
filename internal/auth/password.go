package auth

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLength = 6
	// bcrypt ignores input beyond 72 bytes, so longer passwords are refused.
	MaxPasswordLength = 72
)

// Passwords hashes and verifies user passwords with bcrypt.
type Passwords struct {
	cost int

	dummyOnce sync.Once
	dummy     []byte
}

func NewPasswords(cost int) *Passwords {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Passwords{cost: cost}
}

// ValidatePassword checks length bounds.
func ValidatePassword(plaintext string) error {
	if len(plaintext) < MinPasswordLength {
		return invalid("password must be at least %d characters", MinPasswordLength)
	}
	if len(plaintext) > MaxPasswordLength {
		return invalid("password must be at most %d bytes", MaxPasswordLength)
	}
	return nil
}

func (p *Passwords) Hash(plaintext string) (string, error) {
	if err := ValidatePassword(plaintext); err != nil {
		return "", err
	}
	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// Verify reports whether candidate matches storedHash. A mismatch is
// (false, nil); only a malformed hash is an error.
func (p *Passwords) Verify(storedHash, candidate string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(candidate))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("verify password: %w", err)
	}
}

// Burn spends the same work as a real verification. Used when no user
// exists so response time does not reveal which emails are registered.
func (p *Passwords) Burn(candidate string) {
	p.dummyOnce.Do(func() {
		p.dummy, _ = bcrypt.GenerateFromPassword([]byte("tenantgate-timing-equalizer"), p.cost)
	})
	_ = bcrypt.CompareHashAndPassword(p.dummy, []byte(candidate))
}
