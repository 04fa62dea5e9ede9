package xpayment

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/teerand/tee-randomness-backend/interfaces"
)

// NetworkConfig describes one payment option the service accepts.
type NetworkConfig struct {
	Network interfaces.PaymentNetwork

	// Price in atomic units of the asset (e.g. USDC has 6 decimals).
	Price string

	// Asset is the token contract address (EVM) or mint address (Solana).
	Asset string

	// PayTo is the recipient address on this network.
	PayTo string

	// FeePayer is the optional third-party fee payer for fee-delegated
	// networks; emitted in the requirements extra map when set.
	FeePayer string

	// TimeoutSeconds bounds how long a signed payment stays acceptable.
	TimeoutSeconds int
}

// Validate checks addresses for the network's format.
func (c NetworkConfig) Validate() error {
	switch c.Network {
	case interfaces.NetworkBase, interfaces.NetworkBaseSepolia:
		if !common.IsHexAddress(c.PayTo) {
			return fmt.Errorf("invalid EVM recipient address %q for network %s", c.PayTo, c.Network)
		}
		if !common.IsHexAddress(c.Asset) {
			return fmt.Errorf("invalid EVM asset address %q for network %s", c.Asset, c.Network)
		}
	case interfaces.NetworkSolana:
		if c.PayTo == "" {
			return fmt.Errorf("missing recipient address for network %s", c.Network)
		}
	default:
		return fmt.Errorf("unsupported payment network %q", c.Network)
	}

	if c.Price == "" {
		return fmt.Errorf("missing price for network %s", c.Network)
	}
	return nil
}

// Requirements builds per-route payment requirements from the configured
// network set.
type Requirements struct {
	networks []NetworkConfig
}

// NewRequirements validates the configured networks and returns a builder.
func NewRequirements(networks []NetworkConfig) (*Requirements, error) {
	for _, n := range networks {
		if err := n.Validate(); err != nil {
			return nil, err
		}
	}
	return &Requirements{networks: networks}, nil
}

// Networks returns the configured network count. Zero means no payment
// route is available and paid access is impossible.
func (r *Requirements) Networks() int {
	return len(r.networks)
}

// For builds the accepted payment list for one resource path, one entry per
// configured network.
func (r *Requirements) For(resource string) []interfaces.PaymentRequirements {
	out := make([]interfaces.PaymentRequirements, 0, len(r.networks))
	for _, n := range r.networks {
		timeout := n.TimeoutSeconds
		if timeout == 0 {
			timeout = 60
		}

		req := interfaces.PaymentRequirements{
			Scheme:            "exact",
			Network:           n.Network,
			MaxAmountRequired: n.Price,
			Resource:          resource,
			Description:       "TEE-attested randomness",
			MimeType:          "application/json",
			PayTo:             n.PayTo,
			MaxTimeoutSeconds: timeout,
			Asset:             n.Asset,
		}
		if n.FeePayer != "" {
			req.Extra = map[string]string{"feePayer": n.FeePayer}
		}
		out = append(out, req)
	}
	return out
}

// Match returns the requirements entry for the proof's network, or false
// when the network is not configured.
func (r *Requirements) Match(proof *interfaces.PaymentProof, resource string) (interfaces.PaymentRequirements, bool) {
	for _, req := range r.For(resource) {
		if req.Network == proof.Network {
			return req, true
		}
	}
	return interfaces.PaymentRequirements{}, false
}

// EncodeRequirementsHeader serializes requirements for the 402 response's
// payment-required header as base64 JSON.
func EncodeRequirementsHeader(reqs []interfaces.PaymentRequirements) string {
	raw, err := json.Marshal(map[string]any{
		"x402Version": SupportedVersion,
		"accepts":     reqs,
	})
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}
