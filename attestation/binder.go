// Package attestation binds randomness outputs to TEE quotes.
package attestation

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/teerand/tee-randomness-backend/cryptoutils"
	"github.com/teerand/tee-randomness-backend/interfaces"
)

// ccelPath is where the kernel exposes the TDX CC event log, when present.
const ccelPath = "/sys/firmware/acpi/tables/data/CCEL"

// DefaultQuoteTimeout bounds one quote generation round trip.
const DefaultQuoteTimeout = 5 * time.Second

// MockWarning is carried by every mock envelope so development responses
// are unmistakably not hardware-backed.
const MockWarning = "mock attestation, not backed by TEE hardware"

// Binder requests quotes over SHA256(seed || requestHash) and packages them
// into envelopes. In production a quote failure aborts the request; outside
// production it degrades to an explicitly flagged mock envelope.
type Binder struct {
	provider   cryptoutils.AttestationProvider
	production bool
	timeout    time.Duration
	log        *slog.Logger
}

// New creates a binder. Zero timeout selects the 5 second default.
func New(provider cryptoutils.AttestationProvider, production bool, timeout time.Duration, log *slog.Logger) *Binder {
	if timeout <= 0 {
		timeout = DefaultQuoteTimeout
	}
	return &Binder{provider: provider, production: production, timeout: timeout, log: log}
}

// Production reports whether the binder refuses to downgrade to mocks.
func (b *Binder) Production() bool {
	return b.production
}

// Quote returns a raw quote over arbitrary report data, bounded by the
// binder's timeout. Used by the out-of-band attestation endpoint.
func (b *Binder) Quote(ctx context.Context, reportData [64]byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	type result struct {
		quote []byte
		err   error
	}
	done := make(chan result, 1)
	go func() {
		quote, err := b.provider.Attest(reportData)
		done <- result{quote: quote, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", interfaces.ErrAttestationUnavailable, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrAttestationUnavailable, res.err)
		}
		return res.quote, nil
	}
}

// Bind produces the attestation envelope for one randomness result. The
// quote covers SHA256(seed || requestHash) so it cannot be replayed against
// a different output.
func (b *Binder) Bind(ctx context.Context, seed []byte, requestHash string) (interfaces.AttestationEnvelope, error) {
	reportData := cryptoutils.ReportData(seed, requestHash)

	quote, err := b.Quote(ctx, reportData)
	if err != nil {
		if b.production {
			b.log.Error("Attestation failed in production, refusing to serve result",
				slog.String("request_hash", requestHash),
				"err", err)
			return interfaces.AttestationEnvelope{}, err
		}

		b.log.Warn("Attestation failed, falling back to mock envelope",
			slog.String("request_hash", requestHash),
			"err", err)
		return mockEnvelope(reportData), nil
	}

	// A mock provider quote is not hardware-backed and must never be
	// presented as one.
	if b.provider.Provider() == cryptoutils.ProviderMock {
		return mockEnvelope(reportData), nil
	}

	return interfaces.AttestationEnvelope{
		Type:      interfaces.EnvelopeTDX,
		Quote:     base64.StdEncoding.EncodeToString(quote),
		EventLog:  readEventLog(),
		Algorithm: cryptoutils.ReportDataAlgorithm,
		Provider:  b.provider.Provider(),
	}, nil
}

func mockEnvelope(reportData [64]byte) interfaces.AttestationEnvelope {
	return interfaces.AttestationEnvelope{
		Type:          interfaces.EnvelopeMock,
		ReportDataHex: hex.EncodeToString(reportData[:]),
		Warning:       MockWarning,
	}
}

// readEventLog returns the base64 CC event log when the platform exposes
// one, empty otherwise.
func readEventLog() string {
	raw, err := os.ReadFile(ccelPath)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}
