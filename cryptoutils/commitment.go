package cryptoutils

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// CommitmentHash computes SHA256(seed || requestHash). A holder of the seed
// can recompute it to verify a published proof document; the hash itself
// reveals nothing about the seed.
func CommitmentHash(seed []byte, requestHash string) [32]byte {
	h := sha256.New()
	h.Write(seed)
	h.Write([]byte(requestHash))

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// CommitmentHashHex is CommitmentHash rendered as lowercase hex.
func CommitmentHashHex(seed []byte, requestHash string) string {
	sum := CommitmentHash(seed, requestHash)
	return hex.EncodeToString(sum[:])
}

// DeriveSigningKey derives the Ed25519 key used to sign published proof
// documents. The input keying material comes from the TEE provider (a quote
// over a fixed derivation label), so the same enclave always derives the
// same key and the key never leaves the process.
func DeriveSigningKey(provider AttestationProvider, label string) (ed25519.PrivateKey, error) {
	var reportData [64]byte
	sum := sha256.Sum256([]byte("commitment-signing-key:" + label))
	copy(reportData[:32], sum[:])

	quote, err := provider.Attest(reportData)
	if err != nil {
		return nil, fmt.Errorf("deriving signing key material: %w", err)
	}

	kdf := hkdf.New(sha256.New, quote, sum[:], []byte(label))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(kdf, seed); err != nil {
		return nil, fmt.Errorf("expanding signing key: %w", err)
	}

	return ed25519.NewKeyFromSeed(seed), nil
}
