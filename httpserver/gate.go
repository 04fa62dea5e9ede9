package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/teerand/tee-randomness-backend/interfaces"
	"github.com/teerand/tee-randomness-backend/metrics"
	"github.com/teerand/tee-randomness-backend/ratelimit"
	"github.com/teerand/tee-randomness-backend/xpayment"
)

// APIKeyHeader carries the free-tier credential.
const APIKeyHeader = "X-API-Key"

// GateConfig configures access-tier resolution.
type GateConfig struct {
	// APIKeys maps accepted key values to an identity label.
	APIKeys map[string]string

	// AllowedOrigins are substring-matched against the Origin header.
	AllowedOrigins []string

	// AllowedIPs are substring-matched against the client IP.
	AllowedIPs []string

	// InsecureAllowUnverified grants paid-tier access without any
	// verification when no payment network is configured. Must never be
	// combined with production mode; the constructor refuses it.
	InsecureAllowUnverified bool

	// VerifyTimeout bounds one facilitator verify call.
	VerifyTimeout time.Duration

	// SettleTimeout bounds the deferred settle call.
	SettleTimeout time.Duration
}

// Denial is a structured authorization refusal, mapped to a 402-class
// response at the pipeline boundary.
type Denial struct {
	Status       int
	Reason       string
	Requirements []interfaces.PaymentRequirements
}

// AccessGate resolves the access tier for inbound requests: API key, then
// allow list, then x402 payment with replay protection.
type AccessGate struct {
	cfg          GateConfig
	replay       interfaces.ReplayStore
	facilitator  interfaces.Facilitator
	requirements *xpayment.Requirements
	production   bool
	log          *slog.Logger
}

// NewAccessGate builds the gate. Returns an error if the insecure escape
// hatch is combined with production mode.
func NewAccessGate(cfg GateConfig, replay interfaces.ReplayStore, facilitator interfaces.Facilitator, requirements *xpayment.Requirements, production bool, log *slog.Logger) (*AccessGate, error) {
	if cfg.InsecureAllowUnverified && production {
		return nil, errors.New("insecure-allow-unverified cannot be enabled in production")
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = xpayment.DefaultFacilitatorTimeout
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = xpayment.DefaultFacilitatorTimeout
	}

	return &AccessGate{
		cfg:          cfg,
		replay:       replay,
		facilitator:  facilitator,
		requirements: requirements,
		production:   production,
		log:          log,
	}, nil
}

// Authorize resolves an access grant for the request, or a denial. On a
// paid grant the returned settle func schedules facilitator settlement; the
// handler invokes it only after the protected work has succeeded.
func (g *AccessGate) Authorize(r *http.Request, resource string) (interfaces.AccessGrant, func(), *Denial) {
	noSettle := func() {}

	// Free tiers first: neither consumes payment work.
	if key := r.Header.Get(APIKeyHeader); key != "" {
		if name, ok := g.cfg.APIKeys[key]; ok {
			return interfaces.AccessGrant{Tier: interfaces.TierAPIKey, Identity: name}, noSettle, nil
		}
	}

	if identity, ok := g.allowlisted(r); ok {
		return interfaces.AccessGrant{Tier: interfaces.TierAllowlisted, Identity: identity}, noSettle, nil
	}

	reqs := g.requirements.For(resource)

	header := xpayment.PaymentHeader(r.Header.Get)
	if header == "" {
		if g.requirements.Networks() == 0 && g.cfg.InsecureAllowUnverified {
			// Development escape hatch: no payment rail configured and
			// explicitly opted in. Refused at construction in production.
			g.log.Warn("Granting unverified access, no payment networks configured")
			return interfaces.AccessGrant{Tier: interfaces.TierPaid, Identity: "unverified"}, noSettle, nil
		}
		metrics.PaymentDenialsTotal.WithLabelValues("missing_payment").Inc()
		return interfaces.AccessGrant{}, noSettle, &Denial{
			Status:       http.StatusPaymentRequired,
			Reason:       "payment required",
			Requirements: reqs,
		}
	}

	proof, err := xpayment.DecodePayment(header)
	if err != nil {
		metrics.PaymentDenialsTotal.WithLabelValues("invalid_format").Inc()
		return interfaces.AccessGrant{}, noSettle, &Denial{
			Status:       http.StatusPaymentRequired,
			Reason:       "invalid payment format",
			Requirements: reqs,
		}
	}

	matched, ok := g.requirements.Match(proof, resource)
	if !ok {
		metrics.PaymentDenialsTotal.WithLabelValues("unsupported_network").Inc()
		return interfaces.AccessGrant{}, noSettle, &Denial{
			Status:       http.StatusPaymentRequired,
			Reason:       "unsupported payment network",
			Requirements: reqs,
		}
	}

	// Reserve before verification. Reserve is atomic, so of N concurrent
	// requests carrying the same proof exactly one proceeds to verify.
	hash := proof.Hash()
	if err := g.replay.Reserve(r.Context(), hash); err != nil {
		metrics.PaymentDenialsTotal.WithLabelValues("replay").Inc()
		return interfaces.AccessGrant{}, noSettle, &Denial{
			Status:       http.StatusPaymentRequired,
			Reason:       "replay detected: payment already used",
			Requirements: reqs,
		}
	}

	verifyCtx, cancel := context.WithTimeout(r.Context(), g.cfg.VerifyTimeout)
	defer cancel()

	result, err := g.facilitator.Verify(verifyCtx, proof, matched)
	if err != nil || !result.Valid {
		// Roll the reservation back so the payer can retry with the same
		// proof once the problem is fixed. The rollback runs on its own
		// context: when verification failed because the client went away,
		// r.Context() is already canceled and would strand the reservation
		// in the durable store until its TTL.
		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), g.cfg.VerifyTimeout)
		defer releaseCancel()
		if releaseErr := g.replay.Release(releaseCtx, hash); releaseErr != nil {
			g.log.Warn("Failed to release replay reservation",
				slog.String("proof_hash", hash.String()),
				"err", releaseErr)
		}

		reason := "payment verification failed"
		switch {
		case err != nil:
			metrics.PaymentDenialsTotal.WithLabelValues("facilitator_error").Inc()
			g.log.Warn("Facilitator verify failed", slog.String("proof_hash", hash.String()), "err", err)
		case result.InvalidReason != "":
			metrics.PaymentDenialsTotal.WithLabelValues("invalid_payment").Inc()
			reason = result.InvalidReason
		default:
			metrics.PaymentDenialsTotal.WithLabelValues("invalid_payment").Inc()
		}

		return interfaces.AccessGrant{}, noSettle, &Denial{
			Status:       http.StatusPaymentRequired,
			Reason:       reason,
			Requirements: reqs,
		}
	}

	identity := result.Payer
	if identity == "" {
		identity = proof.Payer()
	}

	settle := func() {
		// Detached from the request: settlement failure must never
		// unwind randomness already delivered against a verified payment.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), g.cfg.SettleTimeout)
			defer cancel()

			res, err := g.facilitator.Settle(ctx, proof, matched)
			switch {
			case err != nil:
				metrics.SettlementsTotal.WithLabelValues("error").Inc()
				g.log.Error("Settlement call failed",
					slog.String("proof_hash", hash.String()),
					"err", err)
			case !res.Success:
				metrics.SettlementsTotal.WithLabelValues("rejected").Inc()
				g.log.Error("Settlement rejected",
					slog.String("proof_hash", hash.String()),
					slog.String("reason", res.ErrorReason))
			default:
				metrics.SettlementsTotal.WithLabelValues("success").Inc()
			}
		}()
	}

	return interfaces.AccessGrant{Tier: interfaces.TierPaid, Identity: identity}, settle, nil
}

// allowlisted checks the Origin header and client IP against the
// configured substring lists.
func (g *AccessGate) allowlisted(r *http.Request) (string, bool) {
	origin := r.Header.Get("Origin")
	for _, allowed := range g.cfg.AllowedOrigins {
		if allowed != "" && origin != "" && strings.Contains(origin, allowed) {
			return origin, true
		}
	}

	ip := ratelimit.ClientIP(r)
	for _, allowed := range g.cfg.AllowedIPs {
		if allowed != "" && strings.Contains(ip, allowed) {
			return ip, true
		}
	}

	return "", false
}
