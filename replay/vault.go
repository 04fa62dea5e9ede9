package replay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/teerand/tee-randomness-backend/interfaces"
)

// VaultStore is a durable replay store on HashiCorp Vault KV v2.
//
// Reservations are written with check-and-set (cas=0), which Vault rejects
// when the key already has a version, so two concurrent reservations of the
// same hash cannot both succeed even across service instances. Expiry is
// lazy: records older than the TTL are treated as absent and deleted on the
// next read.
type VaultStore struct {
	client    *api.Client
	mountPath string
	dataPath  string
	ttl       time.Duration
	log       *slog.Logger
}

// NewVaultStore creates a Vault-backed replay store.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - token: Vault token with write access to the mount
//   - mountPath: KV v2 mount (e.g. "secret")
//   - dataPath: path within the mount (e.g. "replay")
//   - ttl: record lifetime; zero selects the 1 hour default
func NewVaultStore(address, token, mountPath, dataPath string, ttl time.Duration, log *slog.Logger) (*VaultStore, error) {
	config := api.DefaultConfig()
	config.Address = address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(token)

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &VaultStore{
		client:    client,
		mountPath: strings.TrimSuffix(mountPath, "/"),
		dataPath:  strings.Trim(dataPath, "/"),
		ttl:       ttl,
		log:       log,
	}, nil
}

func (s *VaultStore) recordPath(hash interfaces.ProofHash) string {
	return fmt.Sprintf("%s/data/%s/%s", s.mountPath, s.dataPath, hash.String())
}

func (s *VaultStore) deletePath(hash interfaces.ProofHash) string {
	return fmt.Sprintf("%s/metadata/%s/%s", s.mountPath, s.dataPath, hash.String())
}

// Exists reports whether a live (unexpired) record exists for the hash.
func (s *VaultStore) Exists(ctx context.Context, hash interfaces.ProofHash) (bool, error) {
	secret, err := s.client.Logical().ReadWithContext(ctx, s.recordPath(hash))
	if err != nil {
		return false, fmt.Errorf("%w: %v", interfaces.ErrReplayStoreUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return false, nil
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return false, nil
	}

	insertedAt, ok := data["inserted_at"].(string)
	if !ok {
		return true, nil
	}

	ts, err := time.Parse(time.RFC3339, insertedAt)
	if err != nil {
		return true, nil
	}

	if time.Since(ts) >= s.ttl {
		// Expired record: delete lazily so the hash becomes reservable again.
		if _, err := s.client.Logical().DeleteWithContext(ctx, s.deletePath(hash)); err != nil {
			s.log.Warn("Failed to delete expired replay record",
				slog.String("proof_hash", hash.String()),
				"err", err)
		}
		return false, nil
	}

	return true, nil
}

// Reserve records the hash with cas=0 so only one writer can ever create
// version 1 of the record.
func (s *VaultStore) Reserve(ctx context.Context, hash interfaces.ProofHash) error {
	exists, err := s.Exists(ctx, hash)
	if err != nil {
		return err
	}
	if exists {
		return interfaces.ErrReplayDetected
	}

	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"inserted_at": time.Now().UTC().Format(time.RFC3339),
		},
		"options": map[string]interface{}{
			"cas": 0,
		},
	}

	_, err = s.client.Logical().WriteWithContext(ctx, s.recordPath(hash), payload)
	if err != nil {
		if strings.Contains(err.Error(), "check-and-set") {
			return interfaces.ErrReplayDetected
		}
		return fmt.Errorf("%w: %v", interfaces.ErrReplayStoreUnavailable, err)
	}

	return nil
}

// Release removes a reservation so the proof may be resubmitted after a
// failed verification.
func (s *VaultStore) Release(ctx context.Context, hash interfaces.ProofHash) error {
	_, err := s.client.Logical().DeleteWithContext(ctx, s.deletePath(hash))
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrReplayStoreUnavailable, err)
	}
	return nil
}
