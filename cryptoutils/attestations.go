package cryptoutils

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	tdx_abi "github.com/google/go-tdx-guest/abi"
	tdx_client "github.com/google/go-tdx-guest/client"
	tdx_pb "github.com/google/go-tdx-guest/proto/tdx"
	"github.com/google/go-tdx-guest/verify"
)

// Attestation provider identifiers, reported in the envelope so verifiers
// know which collateral to fetch.
const (
	ProviderDCAP   = "dcap-tdx"
	ProviderRemote = "remote-tdx"
	ProviderMock   = "mock"

	// ReportDataAlgorithm names the binding between randomness output and
	// quote report data.
	ReportDataAlgorithm = "sha256(seed||request_hash)"
)

// ReportData computes the 64-byte TDX report data binding a seed to a
// request hash: the first 32 bytes are SHA256(seed || requestHash), the
// rest are zero.
func ReportData(seed []byte, requestHash string) [64]byte {
	h := sha256.New()
	h.Write(seed)
	h.Write([]byte(requestHash))
	digest := h.Sum(nil)

	var reportData [64]byte
	copy(reportData[:32], digest)
	return reportData
}

// AttestationProvider produces raw TEE quotes over caller-chosen report data.
type AttestationProvider interface {
	// Provider returns the provider identifier for envelopes.
	Provider() string

	// Attest returns a raw quote over the report data.
	Attest(reportData [64]byte) ([]byte, error)
}

// DCAPAttestationProvider generates TDX quotes in-guest, preferring the
// configfs provider and falling back to the /dev/tdx_guest device.
type DCAPAttestationProvider struct{}

func (DCAPAttestationProvider) Provider() string { return ProviderDCAP }

func (DCAPAttestationProvider) Attest(reportData [64]byte) ([]byte, error) {
	qp := &tdx_client.LinuxConfigFsQuoteProvider{}
	if qp.IsSupported() == nil {
		return qp.GetRawQuote(reportData)
	}

	qd, err := tdx_client.OpenDevice()
	if err != nil {
		return nil, err
	}
	defer qd.Close()

	return tdx_client.GetRawQuote(qd, reportData)
}

// RemoteAttestationProvider fetches quotes from a quote-service sidecar,
// for deployments where the guest device is not exposed to this process.
type RemoteAttestationProvider struct {
	Address string
	Timeout time.Duration
}

func (*RemoteAttestationProvider) Provider() string { return ProviderRemote }

func (p *RemoteAttestationProvider) Attest(reportData [64]byte) ([]byte, error) {
	extraDataHex := hex.EncodeToString(reportData[:])

	timeout := p.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	url := fmt.Sprintf("%s/attest/%s", p.Address, extraDataHex)
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("calling remote quote provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("remote quote provider returned status %d: %s", resp.StatusCode, string(body))
	}

	rawQuote, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading quote from response: %w", err)
	}
	return rawQuote, nil
}

// DummyAttestationProvider returns a fixed fake quote. Test use only.
type DummyAttestationProvider struct{}

func (DummyAttestationProvider) Provider() string { return ProviderMock }

func (DummyAttestationProvider) Attest(reportData [64]byte) ([]byte, error) {
	return []byte(fmt.Sprintf("Attestation over %x", reportData)), nil
}

// FailingAttestationProvider always errors. Test use only.
type FailingAttestationProvider struct{ Err error }

func (FailingAttestationProvider) Provider() string { return ProviderMock }

func (p FailingAttestationProvider) Attest(reportData [64]byte) ([]byte, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	return nil, errors.New("attestation provider failure")
}

// VerifyDCAPQuote verifies a raw TDX quote against the expected report data
// and returns the measurement registers. Intended for out-of-band checks of
// quotes returned by the attestation endpoint.
func VerifyDCAPQuote(reportData [64]byte, rawQuote []byte) (map[int]string, error) {
	protoQuote, err := tdx_abi.QuoteToProto(rawQuote)
	if err != nil {
		return nil, fmt.Errorf("could not parse quote: %w", err)
	}

	v4Quote, ok := protoQuote.(*tdx_pb.QuoteV4)
	if !ok {
		return nil, fmt.Errorf("unsupported quote type: %T", protoQuote)
	}

	options := verify.DefaultOptions()
	if err := verify.TdxQuote(protoQuote, options); err != nil {
		return nil, fmt.Errorf("quote verification failed: %w", err)
	}

	if !bytes.Equal(v4Quote.TdQuoteBody.ReportData, reportData[:]) {
		return nil, fmt.Errorf("invalid report data %x, expected %x", v4Quote.TdQuoteBody.ReportData, reportData[:])
	}

	measurements := map[int]string{
		0: hex.EncodeToString(v4Quote.TdQuoteBody.MrTd),
		1: hex.EncodeToString(v4Quote.TdQuoteBody.Rtmrs[0]),
		2: hex.EncodeToString(v4Quote.TdQuoteBody.Rtmrs[1]),
		3: hex.EncodeToString(v4Quote.TdQuoteBody.Rtmrs[2]),
		4: hex.EncodeToString(v4Quote.TdQuoteBody.Rtmrs[3]),
		5: hex.EncodeToString(v4Quote.TdQuoteBody.MrConfigId),
		6: hex.EncodeToString(v4Quote.TdQuoteBody.MrOwner),
		7: hex.EncodeToString(v4Quote.TdQuoteBody.MrOwnerConfig),
	}

	return measurements, nil
}
