package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher is the one-way credential transform used by the service.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, digest string) bool
}

var _ PasswordHasher = (*BcryptHasher)(nil)

// BcryptHasher hashes passwords with bcrypt at a configurable work factor.
type BcryptHasher struct {
	cost int
}

func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

// Verify reports whether password matches digest. Malformed digests verify
// as false rather than erroring.
func (h *BcryptHasher) Verify(password, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}
