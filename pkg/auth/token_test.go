package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	tg := NewTokenGenerator()

	token, hash, prefix, err := tg.GenerateToken()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(token, TokenPrefix))
	assert.Len(t, hash, 64, "sha256 hex digest")
	assert.True(t, strings.HasPrefix(prefix, TokenPrefix))
	assert.Len(t, prefix, len(TokenPrefix)+8)
	assert.Equal(t, hash, tg.HashToken(token))
}

func TestGenerateTokenUnique(t *testing.T) {
	tg := NewTokenGenerator()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, _, _, err := tg.GenerateToken()
		require.NoError(t, err)
		assert.False(t, seen[token])
		seen[token] = true
	}
}

func TestValidateTokenFormat(t *testing.T) {
	tg := NewTokenGenerator()

	token, _, _, err := tg.GenerateToken()
	require.NoError(t, err)
	assert.NoError(t, tg.ValidateTokenFormat(token))

	assert.Error(t, tg.ValidateTokenFormat("sk_abcdef"))
	assert.Error(t, tg.ValidateTokenFormat("crd_"))
	assert.Error(t, tg.ValidateTokenFormat("crd_not!valid!base64!"))
	assert.Error(t, tg.ValidateTokenFormat(""))
}

func TestExtractPrefix(t *testing.T) {
	tg := NewTokenGenerator()

	assert.Equal(t, "crd_abcdefgh", tg.ExtractPrefix("crd_abcdefghijklmnop"))
	assert.Equal(t, "", tg.ExtractPrefix("other_abcdefgh"))
	assert.Equal(t, "crd_abc", tg.ExtractPrefix("crd_abc"))
}

func TestTokenExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.False(t, (&APIToken{}).Expired(now), "no expiry means never expired")
	assert.True(t, (&APIToken{ExpiresAt: &past}).Expired(now))
	assert.False(t, (&APIToken{ExpiresAt: &future}).Expired(now))
}
