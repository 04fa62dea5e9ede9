// Package flags holds CLI flag definitions shared by the randomness
// service binaries.
package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/teerand/tee-randomness-backend/common"
	"github.com/teerand/tee-randomness-backend/httpserver"
	"github.com/urfave/cli/v2"
)

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics, empty disables",
}

var ProductionFlag = &cli.BoolFlag{
	Name:  "production",
	Value: false,
	Usage: "require hardware-backed attestation, refuse mock fallbacks",
}

var AttestationProviderFlag = &cli.StringFlag{
	Name:  "attestation-provider",
	Value: "dcap",
	Usage: "attestation provider: 'dcap', 'remote' or 'mock'",
}

var AttestationRemoteAddrFlag = &cli.StringFlag{
	Name:  "attestation-remote-addr",
	Value: "http://127.0.0.1:8007",
	Usage: "base URL of the remote quote service (attestation-provider=remote)",
}

var FacilitatorURLFlag = &cli.StringFlag{
	Name:  "facilitator-url",
	Value: "",
	Usage: "base URL of the x402 payment facilitator, empty disables payments",
}

var PaymentConfigFlag = &cli.StringFlag{
	Name:  "payment-config",
	Value: "",
	Usage: "JSON file with accepted payment networks (requires facilitator-url)",
}

var APIKeysFlag = &cli.StringSliceFlag{
	Name:  "api-key",
	Usage: "accepted API key as 'label:key', repeatable",
}

var AllowedOriginsFlag = &cli.StringSliceFlag{
	Name:  "allowed-origin",
	Usage: "Origin header substring granted free access, repeatable",
}

var AllowedIPsFlag = &cli.StringSliceFlag{
	Name:  "allowed-ip",
	Usage: "client IP substring granted free access, repeatable",
}

var InsecureAllowUnverifiedFlag = &cli.BoolFlag{
	Name:  "insecure-allow-unverified",
	Value: false,
	Usage: "grant paid-tier access without payment when no networks are configured (refused with --production)",
}

var VaultAddrFlag = &cli.StringFlag{
	Name:    "vault-addr",
	Value:   "",
	Usage:   "Vault address for durable replay protection, empty keeps replay in-memory only",
	EnvVars: []string{"VAULT_ADDR"},
}

var VaultTokenFlag = &cli.StringFlag{
	Name:    "vault-token",
	Value:   "",
	Usage:   "Vault token",
	EnvVars: []string{"VAULT_TOKEN"},
}

var VaultMountFlag = &cli.StringFlag{
	Name:  "vault-mount",
	Value: "secret",
	Usage: "Vault KV v2 mount path",
}

var VaultPathFlag = &cli.StringFlag{
	Name:  "vault-path",
	Value: "randomness-replay",
	Usage: "path prefix for replay records under the KV mount",
}

var ReplayCapacityFlag = &cli.IntFlag{
	Name:  "replay-capacity",
	Value: 10000,
	Usage: "in-memory replay store capacity",
}

var ReplayTTLFlag = &cli.Int64Flag{
	Name:  "replay-ttl-seconds",
	Value: 3600,
	Usage: "seconds a payment proof stays unreplayable",
}

var StorageFlag = &cli.StringSliceFlag{
	Name:  "commitment-storage",
	Usage: "commitment storage backend URI (file://, ipfs://, s3://), repeatable; empty disables publishing",
}

var RateLimitGlobalFlag = &cli.IntFlag{
	Name:  "rate-limit-global",
	Value: httpserver.DefaultGlobalRateLimit,
	Usage: "requests per window per client IP across all routes",
}

var RateLimitPaidFlag = &cli.IntFlag{
	Name:  "rate-limit-paid",
	Value: httpserver.DefaultPaidRateLimit,
	Usage: "requests per window per payment identity on randomness routes",
}

var RateLimitWindowFlag = &cli.Int64Flag{
	Name:  "rate-limit-window-seconds",
	Value: 60,
	Usage: "rate limit window in seconds",
}

var LogJSONFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}

var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}

var LogUIDFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: "tee-randomness",
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}

var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}

func SetupLogger(cCtx *cli.Context) *slog.Logger {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cCtx.Bool(LogDebugFlag.Name),
		JSON:    cCtx.Bool(LogJSONFlag.Name),
		Service: cCtx.String(LogServiceFlag.Name),
		Version: common.Version,
	})

	if cCtx.Bool(LogUIDFlag.Name) {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	return &httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		GlobalRateLimit:          cCtx.Int(RateLimitGlobalFlag.Name),
		PaidRateLimit:            cCtx.Int(RateLimitPaidFlag.Name),
		RateLimitWindow:          time.Duration(cCtx.Int64(RateLimitWindowFlag.Name)) * time.Second,
		DrainDuration:            time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}
