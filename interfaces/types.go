package interfaces

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

// Tier identifies how a request was authorized.
type Tier string

const (
	// TierAllowlisted is granted to requests matching the configured
	// origin or source-IP allow list.
	TierAllowlisted Tier = "allowlisted"

	// TierAPIKey is granted to requests carrying a configured API key.
	TierAPIKey Tier = "api_key"

	// TierPaid is granted after successful facilitator verification of an
	// x402 payment proof.
	TierPaid Tier = "paid"
)

// AccessGrant is the result of access-tier resolution for one request.
// Grants are never persisted; they live for the duration of a single call.
type AccessGrant struct {
	Tier Tier

	// Identity is the API key name, the matched allow-list entry, or the
	// payer address for paid requests.
	Identity string
}

// ProofHash is the 32-byte SHA-256 hash of the raw payment header bytes.
// It is the replay-protection identity of a payment proof.
type ProofHash [32]byte

// NewProofHash computes the replay identity of a raw payment header.
func NewProofHash(rawHeader []byte) ProofHash {
	return ProofHash(sha256.Sum256(rawHeader))
}

// NewProofHashFromHex parses a 64-character hex string into a ProofHash.
func NewProofHashFromHex(source string) (ProofHash, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return ProofHash{}, errors.New("invalid proof hash length: hex string must be 64 characters")
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return ProofHash{}, fmt.Errorf("invalid hex format: %w", err)
	}

	var h ProofHash
	copy(h[:], raw)
	return h, nil
}

// String returns the hex representation.
func (h ProofHash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns the raw 32-byte hash.
func (h ProofHash) Bytes() []byte {
	return h[:]
}

// Equal compares two proof hashes.
func (h ProofHash) Equal(other ProofHash) bool {
	return bytes.Equal(h[:], other[:])
}

// PaymentNetwork names a supported settlement network.
type PaymentNetwork string

const (
	NetworkBase        PaymentNetwork = "base"
	NetworkBaseSepolia PaymentNetwork = "base-sepolia"
	NetworkSolana      PaymentNetwork = "solana"
)

// EVMAuthorization is the EIP-3009 transfer authorization carried by the
// "exact" scheme on EVM networks.
// Amounts and validity bounds arrive as decimal strings on the wire;
// HexOrDecimal256 accepts those as well as hex.
type EVMAuthorization struct {
	From        common.Address        `json:"from"`
	To          common.Address        `json:"to"`
	Value       *math.HexOrDecimal256 `json:"value"`
	ValidAfter  *math.HexOrDecimal256 `json:"validAfter"`
	ValidBefore *math.HexOrDecimal256 `json:"validBefore"`
	Nonce       string                `json:"nonce"`
}

// EVMPayment is the EVM variant of a payment proof: a signed transfer
// authorization the facilitator can submit on the payer's behalf.
type EVMPayment struct {
	Signature     string           `json:"signature"`
	Authorization EVMAuthorization `json:"authorization"`
}

// SolanaPayment is the Solana variant: a fully signed, base64-encoded
// transaction paying the configured recipient, optionally fee-delegated.
type SolanaPayment struct {
	Transaction string `json:"transaction"`
}

// PaymentProof is a decoded x402 payment header. It is a closed tagged
// union: exactly one of EVM or Solana is non-nil, selected by Network at
// decode time. The struct is immutable once decoded.
type PaymentProof struct {
	Version int
	Scheme  string
	Network PaymentNetwork

	EVM    *EVMPayment
	Solana *SolanaPayment

	// RawHeader holds the undecoded header bytes; the replay identity is
	// the SHA-256 of exactly these bytes.
	RawHeader []byte
}

// Hash returns the replay-protection identity of this proof.
func (p *PaymentProof) Hash() ProofHash {
	return NewProofHash(p.RawHeader)
}

// Payer returns the paying identity: the authorization source address for
// EVM proofs, or the opaque transaction for Solana (the facilitator is the
// authority on the actual fee payer there).
func (p *PaymentProof) Payer() string {
	switch {
	case p.EVM != nil:
		return p.EVM.Authorization.From.Hex()
	case p.Solana != nil:
		sum := sha256.Sum256([]byte(p.Solana.Transaction))
		return "solana:" + hex.EncodeToString(sum[:8])
	default:
		return ""
	}
}
