// Package commitment publishes privacy-preserving commitments of randomness
// results to immutable storage.
//
// A commitment is SHA256(seed || requestHash). The published proof document
// carries the attestation, the request hash and the commitment hash but
// never the seed, so a third party learns nothing while a seed holder can
// verify the binding by recomputing the hash.
package commitment

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teerand/tee-randomness-backend/cryptoutils"
	"github.com/teerand/tee-randomness-backend/interfaces"
	"github.com/teerand/tee-randomness-backend/metrics"
)

// DefaultUploadTimeout bounds one proof document upload.
const DefaultUploadTimeout = 5 * time.Second

// signingKeyLabel fixes the HKDF derivation context for the proof signing
// key, so the same enclave always derives the same key.
const signingKeyLabel = "randomness-commitment-proof-v1"

// ProofDocument is the published commitment proof. The seed is deliberately
// absent from this structure.
type ProofDocument struct {
	Version        int                            `json:"version"`
	CommitmentHash string                         `json:"commitment_hash"`
	RequestHash    string                         `json:"request_hash"`
	Endpoint       string                         `json:"endpoint"`
	TimestampMs    int64                          `json:"timestamp_ms"`
	Attestation    interfaces.AttestationEnvelope `json:"attestation"`
	Metadata       map[string]string              `json:"metadata,omitempty"`
	SignerPubkey   string                         `json:"signer_pubkey,omitempty"`
	Signature      string                         `json:"signature,omitempty"`
}

// Publisher signs and uploads proof documents. It never fails the caller:
// every failure degrades to a commitment record with empty transaction
// fields, or to no record at all when publishing is disabled.
type Publisher struct {
	backend interfaces.StorageBackend
	keySrc  cryptoutils.AttestationProvider
	timeout time.Duration
	log     *slog.Logger

	keyOnce sync.Once
	key     ed25519.PrivateKey
	keyErr  error

	// now is injectable for tests.
	now func() time.Time
}

// New creates a publisher uploading through backend. backend may be nil,
// which disables publishing entirely (Publish returns nil). The keySrc
// provider supplies the keying material for the one-time signing key
// derivation.
func New(backend interfaces.StorageBackend, keySrc cryptoutils.AttestationProvider, timeout time.Duration, log *slog.Logger) *Publisher {
	if timeout <= 0 {
		timeout = DefaultUploadTimeout
	}
	return &Publisher{
		backend: backend,
		keySrc:  keySrc,
		timeout: timeout,
		log:     log,
		now:     time.Now,
	}
}

// signingKey derives the proof signing key once per process lifetime.
func (p *Publisher) signingKey() (ed25519.PrivateKey, error) {
	p.keyOnce.Do(func() {
		p.key, p.keyErr = cryptoutils.DeriveSigningKey(p.keySrc, signingKeyLabel)
	})
	return p.key, p.keyErr
}

// Publish computes the commitment, builds and signs the proof document and
// uploads it. Returns nil when publishing is disabled; otherwise always
// returns a record carrying the commitment hash, with transaction fields
// filled only on successful upload.
func (p *Publisher) Publish(ctx context.Context, seed []byte, requestHash, endpoint string, att interfaces.AttestationEnvelope, metadata map[string]string) *interfaces.CommitmentRecord {
	if p.backend == nil {
		return nil
	}

	record := &interfaces.CommitmentRecord{
		CommitmentHash: cryptoutils.CommitmentHashHex(seed, requestHash),
	}

	doc := ProofDocument{
		Version:        1,
		CommitmentHash: record.CommitmentHash,
		RequestHash:    requestHash,
		Endpoint:       endpoint,
		TimestampMs:    p.now().UnixMilli(),
		Attestation:    att,
		Metadata:       metadata,
	}

	if key, err := p.signingKey(); err == nil {
		unsigned, marshalErr := json.Marshal(doc)
		if marshalErr == nil {
			doc.SignerPubkey = base64.StdEncoding.EncodeToString(key.Public().(ed25519.PublicKey))
			doc.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(key, unsigned))
		}
	} else {
		p.log.Warn("Commitment signing key unavailable, publishing unsigned proof", "err", err)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		p.log.Error("Failed to encode proof document", "err", err)
		metrics.CommitmentsTotal.WithLabelValues("encode_error").Inc()
		return record
	}

	uploadCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	id, err := p.backend.Store(uploadCtx, raw, interfaces.ProofType)
	if err != nil {
		p.log.Warn("Commitment upload failed, returning unpublished commitment",
			slog.String("commitment_hash", record.CommitmentHash),
			slog.String("backend", p.backend.Name()),
			"err", err)
		metrics.CommitmentsTotal.WithLabelValues("upload_error").Inc()
		return record
	}

	record.StorageTxID = id.String()
	record.StorageURL = fmt.Sprintf("%s/%s/%s", p.backend.LocationURI(), interfaces.ProofType.String(), id.String())
	metrics.CommitmentsTotal.WithLabelValues("published").Inc()

	p.log.Debug("Commitment published",
		slog.String("commitment_hash", record.CommitmentHash),
		slog.String("storage_tx_id", record.StorageTxID))
	return record
}

// VerifyDocument checks a proof document against a disclosed seed: the
// recomputed commitment must match the document's hash. Verification tool
// for seed holders; the service itself never discloses seeds this way.
func VerifyDocument(doc ProofDocument, seed []byte) bool {
	return cryptoutils.CommitmentHashHex(seed, doc.RequestHash) == doc.CommitmentHash
}
