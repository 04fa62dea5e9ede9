package xpayment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/teerand/tee-randomness-backend/interfaces"
)

// DefaultFacilitatorTimeout bounds each verify/settle round trip.
const DefaultFacilitatorTimeout = 5 * time.Second

// HTTPFacilitator is the client for an external x402 facilitator service.
type HTTPFacilitator struct {
	baseURL string
	client  *http.Client
	log     *slog.Logger
}

// NewHTTPFacilitator creates a facilitator client. Zero timeout selects the
// default of 5 seconds.
func NewHTTPFacilitator(baseURL string, timeout time.Duration, log *slog.Logger) *HTTPFacilitator {
	if timeout <= 0 {
		timeout = DefaultFacilitatorTimeout
	}
	return &HTTPFacilitator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

// facilitatorRequest is the wire shape of verify and settle calls.
type facilitatorRequest struct {
	X402Version         int                            `json:"x402Version"`
	PaymentPayload      json.RawMessage                `json:"paymentPayload"`
	PaymentRequirements interfaces.PaymentRequirements `json:"paymentRequirements"`
}

func (f *HTTPFacilitator) post(ctx context.Context, path string, proof *interfaces.PaymentProof, reqs interfaces.PaymentRequirements, out any) error {
	payload, err := decodedHeaderJSON(proof)
	if err != nil {
		return err
	}

	body, err := json.Marshal(facilitatorRequest{
		X402Version:         SupportedVersion,
		PaymentPayload:      payload,
		PaymentRequirements: reqs,
	})
	if err != nil {
		return fmt.Errorf("encoding facilitator request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building facilitator request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrFacilitatorUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", interfaces.ErrFacilitatorUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: facilitator returned status %d: %s", interfaces.ErrFacilitatorUnavailable, resp.StatusCode, string(raw))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", interfaces.ErrFacilitatorUnavailable, err)
	}
	return nil
}

// decodedHeaderJSON unwraps the proof's raw base64 header into the JSON
// object the facilitator expects, so the facilitator sees exactly the bytes
// the payer signed over.
func decodedHeaderJSON(proof *interfaces.PaymentProof) (json.RawMessage, error) {
	raw, err := base64.StdEncoding.DecodeString(string(proof.RawHeader))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidPaymentFormat, err)
	}
	return json.RawMessage(raw), nil
}

// Verify asks the facilitator whether the proof satisfies the requirements.
func (f *HTTPFacilitator) Verify(ctx context.Context, proof *interfaces.PaymentProof, reqs interfaces.PaymentRequirements) (interfaces.VerifyResult, error) {
	var result interfaces.VerifyResult
	if err := f.post(ctx, "/verify", proof, reqs, &result); err != nil {
		return interfaces.VerifyResult{}, err
	}

	f.log.Debug("Facilitator verify completed",
		slog.Bool("valid", result.Valid),
		slog.String("network", string(proof.Network)),
		slog.String("payer", result.Payer))
	return result, nil
}

// Settle submits the payment on-chain via the facilitator.
func (f *HTTPFacilitator) Settle(ctx context.Context, proof *interfaces.PaymentProof, reqs interfaces.PaymentRequirements) (interfaces.SettleResult, error) {
	var result interfaces.SettleResult
	if err := f.post(ctx, "/settle", proof, reqs, &result); err != nil {
		return interfaces.SettleResult{}, err
	}

	f.log.Info("Facilitator settle completed",
		slog.Bool("success", result.Success),
		slog.String("network", string(result.Network)),
		slog.String("transaction", result.Transaction))
	return result, nil
}
