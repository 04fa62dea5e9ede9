package xpayment

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/teerand/tee-randomness-backend/interfaces"
)

// Payment header names accepted on gated routes. Both carry the same
// base64-encoded JSON payload; PAYMENT-SIGNATURE is the historical name,
// X-Payment the x402-conventional one.
const (
	HeaderPaymentSignature = "PAYMENT-SIGNATURE"
	HeaderXPayment         = "X-Payment"

	// HeaderPaymentRequired carries base64-encoded payment requirements
	// on 402 responses.
	HeaderPaymentRequired = "payment-required"
)

// SupportedVersion is the only x402 protocol version accepted.
const SupportedVersion = 1

// wirePayment is the outer JSON shape of a payment header.
type wirePayment struct {
	X402Version int                       `json:"x402Version"`
	Scheme      string                    `json:"scheme"`
	Network     interfaces.PaymentNetwork `json:"network"`
	Payload     json.RawMessage           `json:"payload"`
}

// DecodePayment decodes a base64 payment header into a PaymentProof. The
// network field selects the payload variant once, at decode time; unknown
// networks and malformed payloads fail with ErrInvalidPaymentFormat.
func DecodePayment(headerValue string) (*interfaces.PaymentProof, error) {
	raw, err := base64.StdEncoding.DecodeString(headerValue)
	if err != nil {
		return nil, fmt.Errorf("%w: not valid base64: %v", interfaces.ErrInvalidPaymentFormat, err)
	}

	var wire wirePayment
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: not valid JSON: %v", interfaces.ErrInvalidPaymentFormat, err)
	}

	if wire.X402Version != SupportedVersion {
		return nil, fmt.Errorf("%w: unsupported x402 version %d", interfaces.ErrInvalidPaymentFormat, wire.X402Version)
	}
	if wire.Scheme == "" || wire.Network == "" || len(wire.Payload) == 0 {
		return nil, fmt.Errorf("%w: missing scheme, network or payload", interfaces.ErrInvalidPaymentFormat)
	}

	proof := &interfaces.PaymentProof{
		Version:   wire.X402Version,
		Scheme:    wire.Scheme,
		Network:   wire.Network,
		RawHeader: []byte(headerValue),
	}

	switch wire.Network {
	case interfaces.NetworkBase, interfaces.NetworkBaseSepolia:
		var evm interfaces.EVMPayment
		if err := json.Unmarshal(wire.Payload, &evm); err != nil {
			return nil, fmt.Errorf("%w: bad EVM payload: %v", interfaces.ErrInvalidPaymentFormat, err)
		}
		if evm.Signature == "" || evm.Authorization.Value == nil {
			return nil, fmt.Errorf("%w: EVM payload missing signature or authorization", interfaces.ErrInvalidPaymentFormat)
		}
		proof.EVM = &evm

	case interfaces.NetworkSolana:
		var sol interfaces.SolanaPayment
		if err := json.Unmarshal(wire.Payload, &sol); err != nil {
			return nil, fmt.Errorf("%w: bad Solana payload: %v", interfaces.ErrInvalidPaymentFormat, err)
		}
		if sol.Transaction == "" {
			return nil, fmt.Errorf("%w: Solana payload missing transaction", interfaces.ErrInvalidPaymentFormat)
		}
		proof.Solana = &sol

	default:
		return nil, fmt.Errorf("%w: unsupported network %q", interfaces.ErrInvalidPaymentFormat, wire.Network)
	}

	return proof, nil
}

// PaymentHeader extracts the raw payment header value from an ordered
// header lookup function, trying the accepted names in order.
func PaymentHeader(get func(string) string) string {
	if v := get(HeaderPaymentSignature); v != "" {
		return v
	}
	return get(HeaderXPayment)
}
