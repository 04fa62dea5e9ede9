package httpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teerand/tee-randomness-backend/interfaces"
	"github.com/teerand/tee-randomness-backend/replay"
	"github.com/teerand/tee-randomness-backend/xpayment"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testNetworks(t *testing.T) []xpayment.NetworkConfig {
	t.Helper()
	return []xpayment.NetworkConfig{{
		Network: interfaces.NetworkBase,
		Price:   "10000",
		Asset:   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		PayTo:   "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
	}}
}

func testGate(t *testing.T, cfg GateConfig, networks []xpayment.NetworkConfig, facilitator interfaces.Facilitator) *AccessGate {
	t.Helper()
	requirements, err := xpayment.NewRequirements(networks)
	require.NoError(t, err)

	gate, err := NewAccessGate(cfg, replay.NewMemoryStore(0, 0), facilitator, requirements, false, testLogger())
	require.NoError(t, err)
	return gate
}

func paymentHeader(t *testing.T, nonce string) string {
	t.Helper()
	wire, err := json.Marshal(map[string]any{
		"x402Version": 1,
		"scheme":      "exact",
		"network":     "base",
		"payload": map[string]any{
			"signature": "0xsig",
			"authorization": map[string]any{
				"from":        "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
				"to":          "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
				"value":       "10000",
				"validAfter":  "0",
				"validBefore": "99999999999",
				"nonce":       nonce,
			},
		},
	})
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(wire)
}

func TestNewAccessGate_RefusesInsecureInProduction(t *testing.T) {
	requirements, err := xpayment.NewRequirements(nil)
	require.NoError(t, err)

	_, err = NewAccessGate(GateConfig{InsecureAllowUnverified: true}, replay.NewMemoryStore(0, 0), nil, requirements, true, testLogger())
	assert.Error(t, err)
}

func TestAuthorize_APIKey(t *testing.T) {
	gate := testGate(t, GateConfig{APIKeys: map[string]string{"secret-key": "partner-a"}}, testNetworks(t), xpayment.NewMockFacilitator())

	req := httptest.NewRequest(http.MethodPost, "/v1/randomness", nil)
	req.Header.Set(APIKeyHeader, "secret-key")

	grant, _, denial := gate.Authorize(req, "/v1/randomness")
	require.Nil(t, denial)
	assert.Equal(t, interfaces.TierAPIKey, grant.Tier)
	assert.Equal(t, "partner-a", grant.Identity)

	// An unknown key falls through to payment required, never to an error.
	req.Header.Set(APIKeyHeader, "wrong-key")
	_, _, denial = gate.Authorize(req, "/v1/randomness")
	require.NotNil(t, denial)
	assert.Equal(t, http.StatusPaymentRequired, denial.Status)
}

func TestAuthorize_Allowlist(t *testing.T) {
	gate := testGate(t, GateConfig{AllowedOrigins: []string{"example.com"}, AllowedIPs: []string{"10.1."}}, testNetworks(t), xpayment.NewMockFacilitator())

	req := httptest.NewRequest(http.MethodPost, "/v1/randomness", nil)
	req.Header.Set("Origin", "https://app.example.com")
	grant, _, denial := gate.Authorize(req, "/v1/randomness")
	require.Nil(t, denial)
	assert.Equal(t, interfaces.TierAllowlisted, grant.Tier)

	req = httptest.NewRequest(http.MethodPost, "/v1/randomness", nil)
	req.RemoteAddr = "10.1.2.3:9999"
	grant, _, denial = gate.Authorize(req, "/v1/randomness")
	require.Nil(t, denial)
	assert.Equal(t, interfaces.TierAllowlisted, grant.Tier)
}

func TestAuthorize_MissingPayment(t *testing.T) {
	gate := testGate(t, GateConfig{}, testNetworks(t), xpayment.NewMockFacilitator())

	req := httptest.NewRequest(http.MethodPost, "/v1/randomness", nil)
	_, _, denial := gate.Authorize(req, "/v1/randomness")

	require.NotNil(t, denial)
	assert.Equal(t, http.StatusPaymentRequired, denial.Status)
	require.Len(t, denial.Requirements, 1)
	assert.Equal(t, "/v1/randomness", denial.Requirements[0].Resource)
	assert.Equal(t, "10000", denial.Requirements[0].MaxAmountRequired)
}

func TestAuthorize_PaidFlow(t *testing.T) {
	facilitator := xpayment.NewMockFacilitator()
	gate := testGate(t, GateConfig{}, testNetworks(t), facilitator)

	req := httptest.NewRequest(http.MethodPost, "/v1/randomness", nil)
	req.Header.Set(xpayment.HeaderXPayment, paymentHeader(t, "0x01"))

	grant, settle, denial := gate.Authorize(req, "/v1/randomness")
	require.Nil(t, denial)
	assert.Equal(t, interfaces.TierPaid, grant.Tier)
	assert.Equal(t, "0x209693Bc6afc0C5328bA36FaF03C514EF312287C", grant.Identity)
	require.Len(t, facilitator.VerifyCalls(), 1)

	settle()
	require.Eventually(t, func() bool {
		return len(facilitator.SettleCalls()) == 1
	}, time.Second, 10*time.Millisecond, "settlement must fire after delivery")
}

func TestAuthorize_ReplayDenied(t *testing.T) {
	facilitator := xpayment.NewMockFacilitator()
	gate := testGate(t, GateConfig{}, testNetworks(t), facilitator)
	header := paymentHeader(t, "0x02")

	req := httptest.NewRequest(http.MethodPost, "/v1/randomness", nil)
	req.Header.Set(xpayment.HeaderXPayment, header)

	_, _, denial := gate.Authorize(req, "/v1/randomness")
	require.Nil(t, denial)

	// The same proof again is a replay, and verification is not retried.
	_, _, denial = gate.Authorize(req, "/v1/randomness")
	require.NotNil(t, denial)
	assert.Equal(t, http.StatusPaymentRequired, denial.Status)
	assert.Contains(t, denial.Reason, "replay")
	assert.Len(t, facilitator.VerifyCalls(), 1)
}

func TestAuthorize_VerifyFailureReleasesReservation(t *testing.T) {
	facilitator := xpayment.NewMockFacilitator()
	gate := testGate(t, GateConfig{}, testNetworks(t), facilitator)
	header := paymentHeader(t, "0x03")

	proof, err := xpayment.DecodePayment(header)
	require.NoError(t, err)
	facilitator.RejectProof(proof.Hash(), "insufficient funds")

	req := httptest.NewRequest(http.MethodPost, "/v1/randomness", nil)
	req.Header.Set(xpayment.HeaderXPayment, header)

	_, _, denial := gate.Authorize(req, "/v1/randomness")
	require.NotNil(t, denial)
	assert.Equal(t, "insufficient funds", denial.Reason)

	// After the facilitator accepts the proof, the same header must work:
	// the failed attempt may not burn the replay slot.
	facilitator.AcceptProof(proof.Hash())
	grant, _, denial := gate.Authorize(req, "/v1/randomness")
	require.Nil(t, denial)
	assert.Equal(t, interfaces.TierPaid, grant.Tier)
}

// deadCtxStore rejects Release on an already canceled context, the way a
// remote durable store's client would.
type deadCtxStore struct {
	inner interfaces.ReplayStore
}

func (s *deadCtxStore) Exists(ctx context.Context, hash interfaces.ProofHash) (bool, error) {
	return s.inner.Exists(ctx, hash)
}

func (s *deadCtxStore) Reserve(ctx context.Context, hash interfaces.ProofHash) error {
	return s.inner.Reserve(ctx, hash)
}

func (s *deadCtxStore) Release(ctx context.Context, hash interfaces.ProofHash) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.inner.Release(ctx, hash)
}

func TestAuthorize_RollbackSurvivesCanceledRequest(t *testing.T) {
	facilitator := xpayment.NewMockFacilitator()
	requirements, err := xpayment.NewRequirements(testNetworks(t))
	require.NoError(t, err)
	store := &deadCtxStore{inner: replay.NewMemoryStore(0, 0)}
	gate, err := NewAccessGate(GateConfig{}, store, facilitator, requirements, false, testLogger())
	require.NoError(t, err)

	header := paymentHeader(t, "0x07")
	proof, err := xpayment.DecodePayment(header)
	require.NoError(t, err)
	facilitator.RejectProof(proof.Hash(), "insufficient funds")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/randomness", nil).WithContext(ctx)
	req.Header.Set(xpayment.HeaderXPayment, header)

	_, _, denial := gate.Authorize(req, "/v1/randomness")
	require.NotNil(t, denial)

	// The rollback must not ride the dead request context. If it did, the
	// reservation would leak until TTL and this retry would bounce as a
	// replay.
	facilitator.AcceptProof(proof.Hash())
	retry := httptest.NewRequest(http.MethodPost, "/v1/randomness", nil)
	retry.Header.Set(xpayment.HeaderXPayment, header)
	grant, _, denial := gate.Authorize(retry, "/v1/randomness")
	require.Nil(t, denial)
	assert.Equal(t, interfaces.TierPaid, grant.Tier)
}

func TestAuthorize_FacilitatorUnreachable(t *testing.T) {
	facilitator := xpayment.NewMockFacilitator()
	facilitator.SetUnreachable(true)
	gate := testGate(t, GateConfig{}, testNetworks(t), facilitator)

	req := httptest.NewRequest(http.MethodPost, "/v1/randomness", nil)
	req.Header.Set(xpayment.HeaderXPayment, paymentHeader(t, "0x04"))

	// Facilitator outage is a denial, never an implicit allow.
	_, _, denial := gate.Authorize(req, "/v1/randomness")
	require.NotNil(t, denial)
	assert.Equal(t, http.StatusPaymentRequired, denial.Status)
}

func TestAuthorize_MalformedPayment(t *testing.T) {
	gate := testGate(t, GateConfig{}, testNetworks(t), xpayment.NewMockFacilitator())

	req := httptest.NewRequest(http.MethodPost, "/v1/randomness", nil)
	req.Header.Set(xpayment.HeaderXPayment, "not-base64!!!")

	_, _, denial := gate.Authorize(req, "/v1/randomness")
	require.NotNil(t, denial)
	assert.Equal(t, http.StatusPaymentRequired, denial.Status)
	assert.Contains(t, denial.Reason, "invalid payment format")
}

func TestAuthorize_InsecureEscapeHatch(t *testing.T) {
	// Only reachable with zero configured networks and the explicit flag.
	gate := testGate(t, GateConfig{InsecureAllowUnverified: true}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/randomness", nil)
	grant, _, denial := gate.Authorize(req, "/v1/randomness")
	require.Nil(t, denial)
	assert.Equal(t, interfaces.TierPaid, grant.Tier)
	assert.Equal(t, "unverified", grant.Identity)

	// Without the flag, no networks still means payment required.
	gate = testGate(t, GateConfig{}, nil, nil)
	_, _, denial = gate.Authorize(req, "/v1/randomness")
	require.NotNil(t, denial)
}
