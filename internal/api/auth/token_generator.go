package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// resetTokenBytes gives 256 bits of entropy, rendered as 64 hex characters.
const resetTokenBytes = 32

// TokenGenerator produces opaque single-use secrets for the reset flow.
type TokenGenerator interface {
	Generate() (string, error)
}

var _ TokenGenerator = (*HexTokenGenerator)(nil)

// HexTokenGenerator draws from crypto/rand and hex-encodes the result.
type HexTokenGenerator struct{}

func NewHexTokenGenerator() *HexTokenGenerator {
	return &HexTokenGenerator{}
}

func (g *HexTokenGenerator) Generate() (string, error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
