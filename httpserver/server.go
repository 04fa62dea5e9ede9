package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/teerand/tee-randomness-backend/common"
	"github.com/teerand/tee-randomness-backend/metrics"
	"github.com/teerand/tee-randomness-backend/randomness"
	"github.com/teerand/tee-randomness-backend/ratelimit"
	"github.com/teerand/tee-randomness-backend/xpayment"
	"go.uber.org/atomic"
)

// Default rate limits. The global limit applies per client IP across all
// API routes; the paid limit applies per payment identity on the
// randomness routes.
const (
	DefaultGlobalRateLimit = 100
	DefaultPaidRateLimit   = 20
	DefaultRateLimitWindow = 60 * time.Second
)

type HTTPServerConfig struct {
	ListenAddr  string
	MetricsAddr string
	EnablePprof bool
	Log         *slog.Logger

	GlobalRateLimit int
	PaidRateLimit   int
	RateLimitWindow time.Duration

	// Feature flags surfaced on the health endpoint.
	PaymentsEnabled    bool
	CommitmentsEnabled bool
	DurableReplay      bool

	DrainDuration            time.Duration
	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
}

type Server struct {
	cfg     *HTTPServerConfig
	isReady atomic.Bool
	log     *slog.Logger

	globalLimiter *ratelimit.Limiter
	paidLimiter   *ratelimit.Limiter

	srv        *http.Server
	metricsSrv *metrics.MetricsServer
	handler    *Handler
}

func New(cfg *HTTPServerConfig, handler *Handler) (srv *Server, err error) {
	var metricsSrv *metrics.MetricsServer
	if cfg.MetricsAddr != "" {
		metricsSrv, err = metrics.New(common.PackageName, cfg.MetricsAddr)
		if err != nil {
			return nil, err
		}
	}

	globalLimit := cfg.GlobalRateLimit
	if globalLimit == 0 {
		globalLimit = DefaultGlobalRateLimit
	}
	paidLimit := cfg.PaidRateLimit
	if paidLimit == 0 {
		paidLimit = DefaultPaidRateLimit
	}
	rlWindow := cfg.RateLimitWindow
	if rlWindow == 0 {
		rlWindow = DefaultRateLimitWindow
	}

	srv = &Server{
		cfg:           cfg,
		log:           cfg.Log,
		globalLimiter: ratelimit.New(globalLimit, rlWindow),
		paidLimiter:   ratelimit.New(paidLimit, rlWindow),
		srv:           nil,
		metricsSrv:    metricsSrv,
		handler:       handler,
	}
	srv.isReady.Store(true)

	srv.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.getRouter(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return srv, nil
}

func (srv *Server) getRouter() http.Handler {
	mux := chi.NewRouter()

	globalLimit := srv.globalLimiter.Middleware("global", ratelimit.ClientIP)
	paidLimit := srv.paidLimiter.Middleware("paid", func(r *http.Request) string {
		return ratelimit.PaymentIdentity(r, xpayment.HeaderPaymentSignature, xpayment.HeaderXPayment)
	})

	mux.Route("/v1", func(r chi.Router) {
		r.Use(srv.httpLogger, globalLimit)

		r.With(paidLimit).Post("/randomness", srv.handler.HandleRandom)
		r.Route("/random", func(r chi.Router) {
			r.Use(paidLimit)
			r.Post("/number", srv.handler.HandleRandomOp(randomness.OpNumber))
			r.Post("/dice", srv.handler.HandleRandomOp(randomness.OpDice))
			r.Post("/pick", srv.handler.HandleRandomOp(randomness.OpPick))
			r.Post("/shuffle", srv.handler.HandleRandomOp(randomness.OpShuffle))
			r.Post("/winners", srv.handler.HandleRandomOp(randomness.OpWinners))
			r.Post("/uuid", srv.handler.HandleRandomOp(randomness.OpUUID))
		})

		r.Get("/attestation", srv.handler.HandleAttestation)
		r.Get("/health", srv.handler.HandleHealth(common.Version, srv.cfg.PaymentsEnabled, srv.cfg.CommitmentsEnabled, srv.cfg.DurableReplay))
	})

	// Health and diagnostic endpoints
	mux.With(srv.httpLogger).Get("/livez", srv.handleLivenessCheck)
	mux.With(srv.httpLogger).Get("/readyz", srv.handleReadinessCheck)
	mux.With(srv.httpLogger).Get("/drain", srv.handleDrain)
	mux.With(srv.httpLogger).Get("/undrain", srv.handleUndrain)

	if srv.cfg.EnablePprof {
		srv.log.Info("pprof API enabled")
		mux.Mount("/debug", middleware.Profiler())
	}
	return mux
}

func (srv *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(srv.log, next)
}

func (srv *Server) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"alive"}`))
}

func (srv *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !srv.isReady.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not ready"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func (srv *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if !srv.isReady.Swap(false) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"already draining"}`))
		return
	}

	srv.log.Info("Server marked as not ready")

	go func() {
		// Wait for the drain duration so load balancers detect the change
		time.Sleep(srv.cfg.DrainDuration)
		srv.log.Info("Drain period completed")
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"draining"}`))
}

func (srv *Server) handleUndrain(w http.ResponseWriter, r *http.Request) {
	if srv.isReady.Swap(true) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"already ready"}`))
		return
	}

	srv.log.Info("Server marked as ready")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func (srv *Server) RunInBackground() {
	// metrics
	if srv.metricsSrv != nil {
		go func() {
			srv.log.With("metricsAddress", srv.cfg.MetricsAddr).Info("Starting metrics server")
			err := srv.metricsSrv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				srv.log.Error("Metrics server failed", "err", err)
			}
		}()
	}

	// api
	go func() {
		srv.log.Info("Starting HTTP server", "listenAddress", srv.cfg.ListenAddr)
		if err := srv.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.log.Error("HTTP server failed", "err", err)
		}
	}()
}

func (srv *Server) Shutdown() {
	// api
	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := srv.srv.Shutdown(ctx); err != nil {
		srv.log.Error("Graceful HTTP server shutdown failed", "err", err)
	} else {
		srv.log.Info("HTTP server gracefully stopped")
	}

	// metrics
	if srv.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
		defer cancel()

		if err := srv.metricsSrv.Shutdown(ctx); err != nil {
			srv.log.Error("Graceful metrics server shutdown failed", "err", err)
		} else {
			srv.log.Info("Metrics server gracefully stopped")
		}
	}
}
