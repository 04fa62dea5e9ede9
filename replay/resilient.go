package replay

import (
	"context"
	"errors"
	"log/slog"

	"github.com/teerand/tee-randomness-backend/interfaces"
	"github.com/teerand/tee-randomness-backend/metrics"
)

// ResilientStore composes the in-memory store with an optional durable
// store. Memory is always written, so a durable outage after a proof has
// been seen still blocks its replay for the memory TTL; the durable store
// is consulted and written whenever it is reachable, and writes resume
// automatically when it recovers.
type ResilientStore struct {
	memory  *MemoryStore
	durable interfaces.ReplayStore
	log     *slog.Logger
}

// NewResilientStore creates the composed store. durable may be nil, in
// which case only the in-memory protection applies (documented weaker mode:
// the set resets on process restart).
func NewResilientStore(memory *MemoryStore, durable interfaces.ReplayStore, log *slog.Logger) *ResilientStore {
	return &ResilientStore{memory: memory, durable: durable, log: log}
}

// Exists checks the memory store first, then the durable store. A durable
// outage degrades to the memory answer.
func (s *ResilientStore) Exists(ctx context.Context, hash interfaces.ProofHash) (bool, error) {
	if found, _ := s.memory.Exists(ctx, hash); found {
		return true, nil
	}
	if s.durable == nil {
		return false, nil
	}

	found, err := s.durable.Exists(ctx, hash)
	if err != nil {
		s.degraded("exists", hash, err)
		return false, nil
	}
	metrics.ReplayStoreDegraded.Set(0)
	return found, nil
}

// Reserve reserves in memory first (local atomicity), then in the durable
// store (cross-restart, cross-instance atomicity). A durable replay rolls
// the memory reservation back; a durable outage keeps the memory-only
// reservation and logs the degraded mode.
func (s *ResilientStore) Reserve(ctx context.Context, hash interfaces.ProofHash) error {
	if err := s.memory.Reserve(ctx, hash); err != nil {
		return err
	}
	if s.durable == nil {
		return nil
	}

	err := s.durable.Reserve(ctx, hash)
	switch {
	case err == nil:
		metrics.ReplayStoreDegraded.Set(0)
		return nil
	case errors.Is(err, interfaces.ErrReplayDetected):
		// Seen by another instance or before a restart.
		_ = s.memory.Release(ctx, hash)
		return interfaces.ErrReplayDetected
	default:
		s.degraded("reserve", hash, err)
		return nil
	}
}

// Release undoes a reservation in both stores. Durable failures are logged;
// the record expires there by TTL anyway.
func (s *ResilientStore) Release(ctx context.Context, hash interfaces.ProofHash) error {
	_ = s.memory.Release(ctx, hash)
	if s.durable == nil {
		return nil
	}

	if err := s.durable.Release(ctx, hash); err != nil {
		s.log.Warn("Failed to release durable replay reservation",
			slog.String("proof_hash", hash.String()),
			"err", err)
	}
	return nil
}

func (s *ResilientStore) degraded(op string, hash interfaces.ProofHash, err error) {
	metrics.ReplayStoreDegraded.Set(1)
	s.log.Warn("Durable replay store unreachable, serving from in-memory fallback",
		slog.String("op", op),
		slog.String("proof_hash", hash.String()),
		"err", err)
}
