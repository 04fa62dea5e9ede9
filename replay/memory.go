package replay

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/teerand/tee-randomness-backend/interfaces"
)

// Defaults for the in-memory fallback store.
const (
	DefaultCapacity = 10_000
	DefaultTTL      = time.Hour
)

// MemoryStore is a bounded in-process replay set backed by an expiring LRU.
// Entries are purged automatically after the TTL; the capacity bound keeps
// memory use fixed under abuse.
type MemoryStore struct {
	// mu serializes the check-and-insert in Reserve. The LRU is itself
	// thread-safe, but Contains followed by Add is not atomic without it.
	mu    sync.Mutex
	cache *expirable.LRU[interfaces.ProofHash, time.Time]
}

// NewMemoryStore creates a memory store with the given capacity and TTL.
// Zero values select the defaults (10,000 entries, 1 hour).
func NewMemoryStore(capacity int, ttl time.Duration) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &MemoryStore{
		cache: expirable.NewLRU[interfaces.ProofHash, time.Time](capacity, nil, ttl),
	}
}

// Exists reports whether the hash is currently recorded. Get rather than
// Contains: Contains reports raw map presence, while Get checks the entry's
// expiry at read time, so a hash past its TTL reads as absent even before
// the LRU's background sweep removes it.
func (s *MemoryStore) Exists(ctx context.Context, hash interfaces.ProofHash) (bool, error) {
	_, ok := s.cache.Get(hash)
	return ok, nil
}

// Reserve records the hash, failing if it is already present.
func (s *MemoryStore) Reserve(ctx context.Context, hash interfaces.ProofHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cache.Get(hash); ok {
		return interfaces.ErrReplayDetected
	}
	s.cache.Add(hash, time.Now())
	return nil
}

// Release removes a reservation.
func (s *MemoryStore) Release(ctx context.Context, hash interfaces.ProofHash) error {
	s.cache.Remove(hash)
	return nil
}

// Len returns the number of live entries. Test helper.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}
