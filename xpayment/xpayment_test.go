package xpayment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teerand/tee-randomness-backend/interfaces"
)

const (
	testPayTo = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
	testAsset = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
)

func encodePayment(t *testing.T, network interfaces.PaymentNetwork, payload any) string {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	wire, err := json.Marshal(map[string]any{
		"x402Version": 1,
		"scheme":      "exact",
		"network":     network,
		"payload":     json.RawMessage(raw),
	})
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(wire)
}

func evmPayload() map[string]any {
	return map[string]any{
		"signature": "0xdeadbeef",
		"authorization": map[string]any{
			"from":        testPayTo,
			"to":          testAsset,
			"value":       "10000",
			"validAfter":  "0",
			"validBefore": "99999999999",
			"nonce":       "0x01",
		},
	}
}

func TestDecodePayment_EVM(t *testing.T) {
	header := encodePayment(t, interfaces.NetworkBase, evmPayload())

	proof, err := DecodePayment(header)
	require.NoError(t, err)
	assert.Equal(t, 1, proof.Version)
	assert.Equal(t, "exact", proof.Scheme)
	assert.Equal(t, interfaces.NetworkBase, proof.Network)
	require.NotNil(t, proof.EVM)
	assert.Nil(t, proof.Solana)
	assert.Equal(t, "0xdeadbeef", proof.EVM.Signature)
	assert.Equal(t, "10000", (*big.Int)(proof.EVM.Authorization.Value).String())
	assert.Equal(t, []byte(header), proof.RawHeader)
}

func TestDecodePayment_Solana(t *testing.T) {
	header := encodePayment(t, interfaces.NetworkSolana, map[string]any{
		"transaction": "AQABAgME",
	})

	proof, err := DecodePayment(header)
	require.NoError(t, err)
	require.NotNil(t, proof.Solana)
	assert.Nil(t, proof.EVM)
	assert.Equal(t, "AQABAgME", proof.Solana.Transaction)
}

func TestDecodePayment_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{name: "not base64", header: "%%%"},
		{name: "not json", header: base64.StdEncoding.EncodeToString([]byte("nope"))},
		{name: "wrong version", header: base64.StdEncoding.EncodeToString([]byte(`{"x402Version":2,"scheme":"exact","network":"base","payload":{}}`))},
		{name: "missing network", header: base64.StdEncoding.EncodeToString([]byte(`{"x402Version":1,"scheme":"exact","payload":{}}`))},
		{name: "unknown network", header: base64.StdEncoding.EncodeToString([]byte(`{"x402Version":1,"scheme":"exact","network":"dogecoin","payload":{"x":1}}`))},
		{name: "evm missing signature", header: base64.StdEncoding.EncodeToString([]byte(`{"x402Version":1,"scheme":"exact","network":"base","payload":{"authorization":{"value":"1"}}}`))},
		{name: "solana missing transaction", header: base64.StdEncoding.EncodeToString([]byte(`{"x402Version":1,"scheme":"exact","network":"solana","payload":{}}`))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePayment(tt.header)
			require.Error(t, err)
			assert.ErrorIs(t, err, interfaces.ErrInvalidPaymentFormat)
		})
	}
}

func TestProofHash_StableAndHeaderBound(t *testing.T) {
	headerA := encodePayment(t, interfaces.NetworkBase, evmPayload())
	headerB := encodePayment(t, interfaces.NetworkSolana, map[string]any{"transaction": "AQABAgME"})

	proofA1, err := DecodePayment(headerA)
	require.NoError(t, err)
	proofA2, err := DecodePayment(headerA)
	require.NoError(t, err)
	proofB, err := DecodePayment(headerB)
	require.NoError(t, err)

	assert.True(t, proofA1.Hash().Equal(proofA2.Hash()), "same header must hash identically")
	assert.False(t, proofA1.Hash().Equal(proofB.Hash()))
	assert.Equal(t, interfaces.NewProofHash([]byte(headerA)), proofA1.Hash())
}

func TestPaymentHeader_Precedence(t *testing.T) {
	headers := map[string]string{}
	get := func(name string) string { return headers[name] }

	assert.Empty(t, PaymentHeader(get))

	headers[HeaderXPayment] = "x-payment-value"
	assert.Equal(t, "x-payment-value", PaymentHeader(get))

	headers[HeaderPaymentSignature] = "signature-value"
	assert.Equal(t, "signature-value", PaymentHeader(get))
}

func TestNetworkConfig_Validate(t *testing.T) {
	valid := NetworkConfig{
		Network: interfaces.NetworkBase,
		Price:   "10000",
		Asset:   testAsset,
		PayTo:   testPayTo,
	}
	assert.NoError(t, valid.Validate())

	bad := valid
	bad.PayTo = "not-an-address"
	assert.Error(t, bad.Validate())

	bad = valid
	bad.Price = ""
	assert.Error(t, bad.Validate())
}

func TestRequirements_ForAndMatch(t *testing.T) {
	reqs, err := NewRequirements([]NetworkConfig{
		{Network: interfaces.NetworkBase, Price: "10000", Asset: testAsset, PayTo: testPayTo},
		{Network: interfaces.NetworkSolana, Price: "10000", Asset: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", PayTo: "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin", FeePayer: "FeePayer1111111111111111111111111111111111"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, reqs.Networks())

	accepts := reqs.For("/v1/random/number")
	require.Len(t, accepts, 2)
	for _, acc := range accepts {
		assert.Equal(t, "exact", acc.Scheme)
		assert.Equal(t, "/v1/random/number", acc.Resource)
		assert.Equal(t, "10000", acc.MaxAmountRequired)
	}
	assert.Equal(t, "FeePayer1111111111111111111111111111111111", accepts[1].Extra["feePayer"])

	header := encodePayment(t, interfaces.NetworkBase, evmPayload())
	proof, err := DecodePayment(header)
	require.NoError(t, err)

	matched, ok := reqs.Match(proof, "/v1/random/number")
	require.True(t, ok)
	assert.Equal(t, interfaces.NetworkBase, matched.Network)

	proof.Network = "dogecoin"
	_, ok = reqs.Match(proof, "/v1/random/number")
	assert.False(t, ok)
}

func TestEncodeRequirementsHeader(t *testing.T) {
	reqs, err := NewRequirements([]NetworkConfig{
		{Network: interfaces.NetworkBase, Price: "10000", Asset: testAsset, PayTo: testPayTo},
	})
	require.NoError(t, err)

	encoded := EncodeRequirementsHeader(reqs.For("/v1/randomness"))
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	var decoded struct {
		X402Version int                               `json:"x402Version"`
		Accepts     []interfaces.PaymentRequirements `json:"accepts"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, 1, decoded.X402Version)
	require.Len(t, decoded.Accepts, 1)
	assert.Equal(t, "/v1/randomness", decoded.Accepts[0].Resource)
}

func TestMockFacilitator(t *testing.T) {
	mock := NewMockFacilitator()
	header := encodePayment(t, interfaces.NetworkBase, evmPayload())
	proof, err := DecodePayment(header)
	require.NoError(t, err)
	reqs := interfaces.PaymentRequirements{Network: interfaces.NetworkBase}

	result, err := mock.Verify(context.Background(), proof, reqs)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Len(t, mock.VerifyCalls(), 1)

	mock.RejectProof(proof.Hash(), "insufficient funds")
	result, err = mock.Verify(context.Background(), proof, reqs)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, "insufficient funds", result.InvalidReason)

	mock.SetUnreachable(true)
	_, err = mock.Verify(context.Background(), proof, reqs)
	assert.ErrorIs(t, err, interfaces.ErrFacilitatorUnavailable)

	mock.SetUnreachable(false)
	settle, err := mock.Settle(context.Background(), proof, reqs)
	require.NoError(t, err)
	assert.True(t, settle.Success)
	assert.NotEmpty(t, settle.Transaction)

	mock.FailSettlement(true)
	settle, err = mock.Settle(context.Background(), proof, reqs)
	require.NoError(t, err)
	assert.False(t, settle.Success)
}
