package httpserver

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/teerand/tee-randomness-backend/attestation"
	"github.com/teerand/tee-randomness-backend/commitment"
	"github.com/teerand/tee-randomness-backend/cryptoutils"
	"github.com/teerand/tee-randomness-backend/interfaces"
	"github.com/teerand/tee-randomness-backend/metrics"
	"github.com/teerand/tee-randomness-backend/randomness"
	"github.com/teerand/tee-randomness-backend/xpayment"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// RequestError provides structured error information for HTTP responses.
type RequestError struct {
	// StatusCode is the HTTP status code to return.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error returns the error message from the underlying error.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

// randomRequest is the JSON body accepted by the randomness routes. The
// generic endpoint selects the operation by field; the per-operation
// endpoints ignore Operation.
type randomRequest struct {
	Operation string `json:"operation,omitempty"`

	Min   *int64   `json:"min,omitempty"`
	Max   *int64   `json:"max,omitempty"`
	Dice  string   `json:"dice,omitempty"`
	Items []string `json:"items,omitempty"`
	Count int      `json:"count,omitempty"`

	// RequestHash overrides the deterministic default derived from the
	// parameters, letting callers bind attestations to their own context.
	RequestHash string `json:"request_hash,omitempty"`

	// Metadata is embedded verbatim in the published commitment proof.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// randomResponse is the JSON shape of every randomness result. Operation
// specific fields are omitted when empty; random_seed, attestation and
// timestamp are always present so callers can audit the derivation.
type randomResponse struct {
	Operation string `json:"operation"`

	Number      *int64              `json:"number,omitempty"`
	Rolls       []int               `json:"rolls,omitempty"`
	Total       *int                `json:"total,omitempty"`
	MinPossible *int                `json:"min_possible,omitempty"`
	MaxPossible *int                `json:"max_possible,omitempty"`
	Selected    string              `json:"selected,omitempty"`
	Index       *int                `json:"index,omitempty"`
	Shuffled    []string            `json:"shuffled,omitempty"`
	Winners     []randomness.Winner `json:"winners,omitempty"`
	UUID        string              `json:"uuid,omitempty"`

	RandomSeed  string                          `json:"random_seed"`
	RequestHash string                          `json:"request_hash"`
	Timestamp   int64                           `json:"timestamp"`
	TeeType     string                          `json:"tee_type"`
	AccessTier  interfaces.Tier                 `json:"access_tier"`
	Attestation *interfaces.AttestationEnvelope `json:"attestation"`
	Commitment  *interfaces.CommitmentRecord    `json:"commitment,omitempty"`
}

// Handler implements the randomness API pipeline: rate limiting happens in
// middleware, then per route the access gate, the derivation engine, the
// attestation binder and the commitment publisher run in order.
type Handler struct {
	gate      *AccessGate
	engine    *randomness.Engine
	binder    *attestation.Binder
	publisher *commitment.Publisher
	log       *slog.Logger

	// now is injectable for tests.
	now func() time.Time
}

// NewHandler creates the API handler with its collaborators.
func NewHandler(gate *AccessGate, engine *randomness.Engine, binder *attestation.Binder, publisher *commitment.Publisher, log *slog.Logger) *Handler {
	return &Handler{
		gate:      gate,
		engine:    engine,
		binder:    binder,
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
}

// derived is the outcome of one engine operation, before binding.
type derived struct {
	seedHex     string
	requestHash string
	fill        func(*randomResponse)
}

// HandleRandom serves the generic POST /v1/randomness route.
func (h *Handler) HandleRandom(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeBody(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	op := randomness.Operation(req.Operation)
	if req.Operation == "" {
		op = randomness.OpSeed
	}
	h.serve(w, r, op, req)
}

// HandleRandomOp serves the per-operation POST /v1/random/{op} routes.
func (h *Handler) HandleRandomOp(op randomness.Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := h.decodeBody(r)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.serve(w, r, op, req)
	}
}

func (h *Handler) decodeBody(r *http.Request) (*randomRequest, error) {
	var req randomRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if len(body) == 0 {
		return &req, nil
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	return &req, nil
}

// serve runs the authorization and derivation pipeline for one operation.
func (h *Handler) serve(w http.ResponseWriter, r *http.Request, op randomness.Operation, req *randomRequest) {
	grant, settle, denial := h.gate.Authorize(r, r.URL.Path)
	if denial != nil {
		h.writeDenial(w, denial)
		metrics.RequestsTotal.WithLabelValues(string(op), "denied").Inc()
		return
	}

	result, err := h.derive(op, req)
	if err != nil {
		var verr *randomness.ValidationError
		if errors.As(err, &verr) {
			h.writeError(w, http.StatusBadRequest, verr.Msg)
			metrics.RequestsTotal.WithLabelValues(string(op), "invalid").Inc()
			return
		}
		h.log.Error("Randomness derivation failed", slog.String("operation", string(op)), "err", err)
		h.writeError(w, http.StatusInternalServerError, "internal error")
		metrics.RequestsTotal.WithLabelValues(string(op), "error").Inc()
		return
	}

	if req.RequestHash != "" {
		result.requestHash = req.RequestHash
	}

	seed, err := hex.DecodeString(result.seedHex)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	envelope, err := h.binder.Bind(r.Context(), seed, result.requestHash)
	if err != nil {
		// Production-only path: no randomness is ever released without a
		// hardware-backed attestation.
		h.writeError(w, http.StatusInternalServerError, "attestation unavailable")
		metrics.RequestsTotal.WithLabelValues(string(op), "attestation_error").Inc()
		return
	}

	record := h.publisher.Publish(r.Context(), seed, result.requestHash, r.URL.Path, envelope, req.Metadata)

	resp := randomResponse{
		Operation:   string(op),
		RandomSeed:  result.seedHex,
		RequestHash: result.requestHash,
		Timestamp:   h.now().UnixMilli(),
		TeeType:     teeType(&envelope),
		AccessTier:  grant.Tier,
		Attestation: &envelope,
		Commitment:  record,
	}
	result.fill(&resp)

	h.writeJSON(w, http.StatusOK, resp)
	metrics.RequestsTotal.WithLabelValues(string(op), "success").Inc()

	// Settlement only after the result has been delivered.
	settle()
}

// derive dispatches to the engine and captures the operation-specific
// response fields.
func (h *Handler) derive(op randomness.Operation, req *randomRequest) (*derived, error) {
	switch op {
	case randomness.OpSeed:
		seedHex, err := h.engine.Seed()
		if err != nil {
			return nil, err
		}
		return &derived{
			seedHex:     seedHex,
			requestHash: randomness.DefaultRequestHash(op),
			fill:        func(*randomResponse) {},
		}, nil

	case randomness.OpNumber:
		if req.Min == nil || req.Max == nil {
			return nil, &randomness.ValidationError{Msg: "min and max are required"}
		}
		min, max := *req.Min, *req.Max
		value, seedHex, err := h.engine.Number(min, max)
		if err != nil {
			return nil, err
		}
		return &derived{
			seedHex:     seedHex,
			requestHash: randomness.DefaultRequestHash(op, fmt.Sprintf("%d-%d", min, max)),
			fill:        func(resp *randomResponse) { resp.Number = &value },
		}, nil

	case randomness.OpDice:
		roll, seedHex, err := h.engine.Dice(req.Dice)
		if err != nil {
			return nil, err
		}
		return &derived{
			seedHex:     seedHex,
			requestHash: randomness.DefaultRequestHash(op, req.Dice),
			fill: func(resp *randomResponse) {
				resp.Rolls = roll.Rolls
				resp.Total = &roll.Total
				resp.MinPossible = &roll.MinPossible
				resp.MaxPossible = &roll.MaxPossible
			},
		}, nil

	case randomness.OpPick:
		pick, seedHex, err := h.engine.Pick(req.Items)
		if err != nil {
			return nil, err
		}
		return &derived{
			seedHex:     seedHex,
			requestHash: randomness.DefaultRequestHash(op, strconv.Itoa(len(req.Items))),
			fill: func(resp *randomResponse) {
				resp.Selected = pick.Item
				resp.Index = &pick.Index
			},
		}, nil

	case randomness.OpShuffle:
		shuffled, seedHex, err := h.engine.Shuffle(req.Items)
		if err != nil {
			return nil, err
		}
		return &derived{
			seedHex:     seedHex,
			requestHash: randomness.DefaultRequestHash(op, strconv.Itoa(len(req.Items))),
			fill:        func(resp *randomResponse) { resp.Shuffled = shuffled },
		}, nil

	case randomness.OpWinners:
		winners, seedHex, err := h.engine.Winners(req.Items, req.Count)
		if err != nil {
			return nil, err
		}
		return &derived{
			seedHex:     seedHex,
			requestHash: randomness.DefaultRequestHash(op, strconv.Itoa(len(req.Items)), strconv.Itoa(req.Count)),
			fill:        func(resp *randomResponse) { resp.Winners = winners },
		}, nil

	case randomness.OpUUID:
		id, seedHex, err := h.engine.UUID()
		if err != nil {
			return nil, err
		}
		return &derived{
			seedHex:     seedHex,
			requestHash: randomness.DefaultRequestHash(op),
			fill:        func(resp *randomResponse) { resp.UUID = id },
		}, nil

	default:
		return nil, &randomness.ValidationError{Msg: fmt.Sprintf("unknown operation %q", op)}
	}
}

// attestationResponse is the body of GET /v1/attestation.
type attestationResponse struct {
	TeeType       string `json:"tee_type"`
	Provider      string `json:"provider"`
	Quote         string `json:"quote,omitempty"`
	EventLog      string `json:"event_log,omitempty"`
	ReportDataHex string `json:"report_data_hex"`
	Timestamp     int64  `json:"timestamp"`
	Warning       string `json:"warning,omitempty"`
}

// HandleAttestation serves a fresh quote for out-of-band verification. The
// report data binds the quote to the request time so stale quotes are
// detectable.
func (h *Handler) HandleAttestation(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	label := fmt.Sprintf("attestation-identity:%d", now.UnixMilli())
	reportData := cryptoutils.ReportData([]byte(label), "")

	envelope, err := h.binder.Bind(r.Context(), []byte(label), "")
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "attestation unavailable")
		return
	}

	resp := attestationResponse{
		TeeType:       teeType(&envelope),
		Provider:      envelope.Provider,
		Quote:         envelope.Quote,
		EventLog:      envelope.EventLog,
		ReportDataHex: hex.EncodeToString(reportData[:]),
		Timestamp:     now.UnixMilli(),
		Warning:       envelope.Warning,
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// healthResponse is the body of GET /v1/health.
type healthResponse struct {
	Status   string          `json:"status"`
	Version  string          `json:"version"`
	Features map[string]bool `json:"features"`
}

// HandleHealth serves liveness plus feature flags.
func (h *Handler) HandleHealth(version string, paymentsEnabled, commitmentsEnabled, durableReplay bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.writeJSON(w, http.StatusOK, healthResponse{
			Status:  "ok",
			Version: version,
			Features: map[string]bool{
				"payments":          paymentsEnabled,
				"commitments":       commitmentsEnabled,
				"durable_replay":    durableReplay,
				"production_attest": h.binder.Production(),
			},
		})
	}
}

func teeType(envelope *interfaces.AttestationEnvelope) string {
	if envelope.IsMock() {
		return "mock"
	}
	return "tdx"
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

// writeDenial emits a 402-class response with machine-readable payment
// requirements in both the body and the payment-required header.
func (h *Handler) writeDenial(w http.ResponseWriter, denial *Denial) {
	if len(denial.Requirements) > 0 {
		w.Header().Set(xpayment.HeaderPaymentRequired, xpayment.EncodeRequirementsHeader(denial.Requirements))
	}
	h.writeJSON(w, denial.Status, map[string]any{
		"error":   denial.Reason,
		"accepts": denial.Requirements,
	})
}
