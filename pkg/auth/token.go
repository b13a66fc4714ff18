package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// TokenPrefix identifies creditd API tokens.
	TokenPrefix = "crd_"
	// TokenLength is the number of random bytes per token.
	TokenLength = 32
)

// TokenGenerator generates and validates API tokens.
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator.
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateToken creates a new API token.
// Format: crd_<base64url(32 random bytes)>
func (tg *TokenGenerator) GenerateToken() (token string, tokenHash string, tokenPrefix string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("generating token bytes: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(randomBytes)
	fullToken := TokenPrefix + encoded

	hash := sha256.Sum256([]byte(fullToken))

	prefix := TokenPrefix
	if len(encoded) >= 8 {
		prefix = TokenPrefix + encoded[:8]
	}

	return fullToken, hex.EncodeToString(hash[:]), prefix, nil
}

// HashToken computes the SHA-256 hash of a token for lookup.
func (tg *TokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks that a token looks like one of ours before
// any database round trip.
func (tg *TokenGenerator) ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}
	encoded := strings.TrimPrefix(token, TokenPrefix)
	if encoded == "" {
		return fmt.Errorf("token is too short")
	}
	if _, err := base64.RawURLEncoding.DecodeString(encoded); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}
	return nil
}

// ExtractPrefix returns the display prefix of a token.
func (tg *TokenGenerator) ExtractPrefix(token string) string {
	if !strings.HasPrefix(token, TokenPrefix) {
		return ""
	}
	encoded := strings.TrimPrefix(token, TokenPrefix)
	if len(encoded) >= 8 {
		return TokenPrefix + encoded[:8]
	}
	return token
}
