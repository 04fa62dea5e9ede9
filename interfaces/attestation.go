package interfaces

import "errors"

// ErrAttestationUnavailable is returned when the TEE quote provider fails.
// In production this aborts the request; no randomness is ever released
// without a hardware-backed attestation.
var ErrAttestationUnavailable = errors.New("attestation unavailable")

// Envelope type tags. The mock variant is only ever produced outside
// production so hardware-backed and development environments stay visibly
// distinguishable.
const (
	EnvelopeTDX  = "tdx-attestation"
	EnvelopeMock = "mock-tee-attestation"
)

// AttestationEnvelope packages a TEE quote bound to one randomness result.
// The quote covers SHA256(seed || requestHash), so it cannot be replayed
// across different outputs.
type AttestationEnvelope struct {
	Type string `json:"type"`

	// tdx-attestation fields.
	Quote     string `json:"quote,omitempty"`
	EventLog  string `json:"event_log,omitempty"`
	Algorithm string `json:"algorithm,omitempty"`
	Provider  string `json:"provider,omitempty"`

	// mock-tee-attestation fields.
	ReportDataHex string `json:"report_data_hex,omitempty"`
	Warning       string `json:"warning,omitempty"`
}

// IsMock reports whether the envelope is the non-production mock variant.
func (e *AttestationEnvelope) IsMock() bool {
	return e.Type == EnvelopeMock
}

// CommitmentRecord describes a published (or attempted) commitment. The
// hash binds seed and request hash without revealing the seed; transaction
// fields stay empty when the upload failed so clients can see a commitment
// was attempted but not published.
type CommitmentRecord struct {
	CommitmentHash string `json:"commitment_hash"`
	StorageTxID    string `json:"storage_tx_id,omitempty"`
	StorageURL     string `json:"storage_url,omitempty"`
	Encrypted      bool   `json:"encrypted"`
}
