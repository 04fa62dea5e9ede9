package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllow_WindowExhaustion(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	limiter := New(3, time.Minute).WithClock(func() time.Time { return clock })

	for i := 0; i < 3; i++ {
		res := limiter.Allow("client-a")
		assert.True(t, res.Allowed)
		assert.Equal(t, 3, res.Limit)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res := limiter.Allow("client-a")
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, clock.Add(time.Minute), res.Reset)
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	limiter := New(1, time.Minute)

	assert.True(t, limiter.Allow("a").Allowed)
	assert.False(t, limiter.Allow("a").Allowed)
	assert.True(t, limiter.Allow("b").Allowed, "a's exhaustion must not affect b")
}

func TestAllow_WindowReset(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	limiter := New(1, time.Minute).WithClock(func() time.Time { return clock })

	assert.True(t, limiter.Allow("a").Allowed)
	assert.False(t, limiter.Allow("a").Allowed)

	// Just before the boundary the window still holds.
	clock = clock.Add(time.Minute - time.Second)
	assert.False(t, limiter.Allow("a").Allowed)

	// At the boundary a fresh window starts.
	clock = clock.Add(time.Second)
	res := limiter.Allow("a")
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
}

func TestMiddleware(t *testing.T) {
	limiter := New(2, time.Minute)
	handler := limiter.Middleware("global", ClientIP)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
		req.RemoteAddr = "192.0.2.1:4000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := do()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))

	do()
	third := do()
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.Equal(t, "0", third.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, third.Header().Get("X-RateLimit-Reset"))
	assert.Contains(t, third.Body.String(), "rate limit exceeded")
	assert.Contains(t, third.Body.String(), "retry_after")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:4000"
	assert.Equal(t, "192.0.2.1", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", ClientIP(req))
}

func TestPaymentIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/randomness", nil)
	req.RemoteAddr = "192.0.2.1:4000"

	// Without a payment header it falls back to the client IP.
	assert.Equal(t, "ip:192.0.2.1", PaymentIdentity(req, "PAYMENT-SIGNATURE", "X-Payment"))

	req.Header.Set("X-Payment", "proof-a")
	idA := PaymentIdentity(req, "PAYMENT-SIGNATURE", "X-Payment")
	require.True(t, len(idA) > 4)
	assert.Equal(t, "pay:", idA[:4])

	// Different proofs map to different identities, same proof is stable.
	req.Header.Set("X-Payment", "proof-b")
	idB := PaymentIdentity(req, "PAYMENT-SIGNATURE", "X-Payment")
	assert.NotEqual(t, idA, idB)

	req.Header.Set("X-Payment", "proof-a")
	assert.Equal(t, idA, PaymentIdentity(req, "PAYMENT-SIGNATURE", "X-Payment"))
}
