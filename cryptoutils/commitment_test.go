package cryptoutils

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitmentHash(t *testing.T) {
	seed := []byte("0123456789abcdef0123456789abcdef")

	first := CommitmentHashHex(seed, "number:1-100")
	second := CommitmentHashHex(seed, "number:1-100")
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)

	// Either input changing changes the hash.
	assert.NotEqual(t, first, CommitmentHashHex(seed, "number:1-101"))
	assert.NotEqual(t, first, CommitmentHashHex([]byte("another seed"), "number:1-100"))
}

func TestDeriveSigningKey(t *testing.T) {
	provider := DummyAttestationProvider{}

	first, err := DeriveSigningKey(provider, "proof-signing-v1")
	require.NoError(t, err)
	second, err := DeriveSigningKey(provider, "proof-signing-v1")
	require.NoError(t, err)
	assert.Equal(t, first, second, "same provider and label must derive the same key")

	other, err := DeriveSigningKey(provider, "proof-signing-v2")
	require.NoError(t, err)
	assert.NotEqual(t, first, other, "label must domain-separate keys")

	// The derived key signs and verifies.
	msg := []byte("proof document")
	sig := ed25519.Sign(first, msg)
	assert.True(t, ed25519.Verify(first.Public().(ed25519.PublicKey), msg, sig))
}

func TestDeriveSigningKey_FailingProvider(t *testing.T) {
	_, err := DeriveSigningKey(FailingAttestationProvider{}, "proof-signing-v1")
	assert.Error(t, err)
}
