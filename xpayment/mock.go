package xpayment

import (
	"context"
	"sync"

	"github.com/teerand/tee-randomness-backend/interfaces"
)

// MockFacilitator is an in-memory facilitator for tests. It approves every
// proof by default; specific proof hashes can be marked invalid, and the
// whole facilitator can be marked unreachable.
type MockFacilitator struct {
	mu sync.Mutex

	unreachable   bool
	invalidProofs map[interfaces.ProofHash]string

	verifyCalls []interfaces.ProofHash
	settleCalls []interfaces.ProofHash
	settleFail  bool
}

// NewMockFacilitator creates a mock that approves everything.
func NewMockFacilitator() *MockFacilitator {
	return &MockFacilitator{invalidProofs: make(map[interfaces.ProofHash]string)}
}

// SetUnreachable makes both calls fail with ErrFacilitatorUnavailable.
func (m *MockFacilitator) SetUnreachable(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreachable = down
}

// RejectProof marks one proof hash invalid with the given reason.
func (m *MockFacilitator) RejectProof(hash interfaces.ProofHash, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidProofs[hash] = reason
}

// AcceptProof clears a previous rejection for the given proof hash.
func (m *MockFacilitator) AcceptProof(hash interfaces.ProofHash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.invalidProofs, hash)
}

// FailSettlement makes Settle report failure (but still reachable).
func (m *MockFacilitator) FailSettlement(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settleFail = fail
}

// VerifyCalls returns the proof hashes Verify was called with.
func (m *MockFacilitator) VerifyCalls() []interfaces.ProofHash {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]interfaces.ProofHash(nil), m.verifyCalls...)
}

// SettleCalls returns the proof hashes Settle was called with.
func (m *MockFacilitator) SettleCalls() []interfaces.ProofHash {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]interfaces.ProofHash(nil), m.settleCalls...)
}

func (m *MockFacilitator) Verify(ctx context.Context, proof *interfaces.PaymentProof, reqs interfaces.PaymentRequirements) (interfaces.VerifyResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unreachable {
		return interfaces.VerifyResult{}, interfaces.ErrFacilitatorUnavailable
	}

	m.verifyCalls = append(m.verifyCalls, proof.Hash())
	if reason, bad := m.invalidProofs[proof.Hash()]; bad {
		return interfaces.VerifyResult{Valid: false, InvalidReason: reason}, nil
	}

	return interfaces.VerifyResult{Valid: true, Payer: proof.Payer()}, nil
}

func (m *MockFacilitator) Settle(ctx context.Context, proof *interfaces.PaymentProof, reqs interfaces.PaymentRequirements) (interfaces.SettleResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unreachable {
		return interfaces.SettleResult{}, interfaces.ErrFacilitatorUnavailable
	}

	m.settleCalls = append(m.settleCalls, proof.Hash())
	if m.settleFail {
		return interfaces.SettleResult{Success: false, ErrorReason: "settlement failed"}, nil
	}

	return interfaces.SettleResult{
		Success:     true,
		Transaction: "0x" + proof.Hash().String(),
		Network:     proof.Network,
		Payer:       proof.Payer(),
	}, nil
}
