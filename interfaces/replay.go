package interfaces

import (
	"context"
	"errors"
)

var (
	// ErrReplayDetected is returned by Reserve when the proof hash is
	// already present in the store, either settled or reserved by a
	// concurrent request.
	ErrReplayDetected = errors.New("payment replay detected")

	// ErrReplayStoreUnavailable is returned when a durable replay store
	// backend cannot be reached. The resilient store maps this to
	// degraded in-memory operation rather than surfacing it.
	ErrReplayStoreUnavailable = errors.New("replay store unavailable")
)

// ReplayStore tracks consumed payment-proof hashes with TTL expiry.
//
// Reserve must be atomic with respect to concurrent calls for the same
// hash: of N concurrent Reserve calls, exactly one succeeds and the rest
// return ErrReplayDetected. A reservation made before facilitator
// verification is rolled back with Release when verification fails.
type ReplayStore interface {
	// Exists reports whether the hash is currently recorded.
	Exists(ctx context.Context, hash ProofHash) (bool, error)

	// Reserve records the hash, failing with ErrReplayDetected if it is
	// already present.
	Reserve(ctx context.Context, hash ProofHash) error

	// Release removes a reservation after failed verification so the
	// payer may retry with the same proof.
	Release(ctx context.Context, hash ProofHash) error
}
