package interfaces

import (
	"context"
	"errors"
)

var (
	// ErrPaymentRequired is returned when a gated route is hit without a
	// payment header and no free-tier credential matched.
	ErrPaymentRequired = errors.New("payment required")

	// ErrInvalidPaymentFormat is returned when the payment header cannot
	// be decoded into a PaymentProof.
	ErrInvalidPaymentFormat = errors.New("invalid payment format")

	// ErrFacilitatorUnavailable is returned when the facilitator cannot
	// be reached. It is treated as a verification failure, never as an
	// implicit allow.
	ErrFacilitatorUnavailable = errors.New("payment facilitator unavailable")
)

// PaymentRequirements describes one acceptable way to pay for a resource,
// serialized into the 402 response so clients can construct a proof. One
// entry is emitted per supported network.
type PaymentRequirements struct {
	Scheme            string         `json:"scheme"`
	Network           PaymentNetwork `json:"network"`
	MaxAmountRequired string         `json:"maxAmountRequired"`
	Resource          string         `json:"resource"`
	Description       string         `json:"description"`
	MimeType          string         `json:"mimeType"`
	PayTo             string         `json:"payTo"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds"`
	Asset             string         `json:"asset"`

	// Extra carries network-specific fields, e.g. the third-party fee
	// payer address for fee-delegated networks.
	Extra map[string]string `json:"extra,omitempty"`
}

// VerifyResult is the facilitator's judgement on a payment proof.
type VerifyResult struct {
	Valid         bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResult reports the outcome of on-chain settlement.
type SettleResult struct {
	Success     bool           `json:"success"`
	ErrorReason string         `json:"errorReason,omitempty"`
	Transaction string         `json:"transaction,omitempty"`
	Network     PaymentNetwork `json:"network,omitempty"`
	Payer       string         `json:"payer,omitempty"`
}

// Facilitator verifies and settles on-chain payments on behalf of the
// resource server. Both calls must carry bounded timeouts; a timeout is a
// failure of that step, not a pass.
type Facilitator interface {
	// Verify checks the proof against the requirements without moving
	// funds. An unreachable facilitator yields ErrFacilitatorUnavailable.
	Verify(ctx context.Context, proof *PaymentProof, reqs PaymentRequirements) (VerifyResult, error)

	// Settle submits the payment on-chain. Called after the protected
	// handler has succeeded; failures are logged, never surfaced.
	Settle(ctx context.Context, proof *PaymentProof, reqs PaymentRequirements) (SettleResult, error)
}
