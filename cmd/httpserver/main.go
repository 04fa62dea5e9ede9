package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/teerand/tee-randomness-backend/attestation"
	"github.com/teerand/tee-randomness-backend/cmd/flags"
	"github.com/teerand/tee-randomness-backend/commitment"
	"github.com/teerand/tee-randomness-backend/cryptoutils"
	"github.com/teerand/tee-randomness-backend/httpserver"
	"github.com/teerand/tee-randomness-backend/interfaces"
	"github.com/teerand/tee-randomness-backend/randomness"
	"github.com/teerand/tee-randomness-backend/replay"
	"github.com/teerand/tee-randomness-backend/storage"
	"github.com/teerand/tee-randomness-backend/xpayment"
	"github.com/urfave/cli/v2"
)

var serverFlags = []cli.Flag{
	flags.ListenAddrFlag,
	flags.MetricsAddrFlag,
	flags.ProductionFlag,
	flags.AttestationProviderFlag,
	flags.AttestationRemoteAddrFlag,
	flags.FacilitatorURLFlag,
	flags.PaymentConfigFlag,
	flags.APIKeysFlag,
	flags.AllowedOriginsFlag,
	flags.AllowedIPsFlag,
	flags.InsecureAllowUnverifiedFlag,
	flags.VaultAddrFlag,
	flags.VaultTokenFlag,
	flags.VaultMountFlag,
	flags.VaultPathFlag,
	flags.ReplayCapacityFlag,
	flags.ReplayTTLFlag,
	flags.StorageFlag,
	flags.RateLimitGlobalFlag,
	flags.RateLimitPaidFlag,
	flags.RateLimitWindowFlag,
	flags.LogJSONFlag,
	flags.LogDebugFlag,
	flags.LogUIDFlag,
	flags.LogServiceFlag,
	flags.PprofFlag,
	flags.DrainSecondsFlag,
}

func main() {
	app := &cli.App{
		Name:   "randomness-server",
		Usage:  "Serve TEE-attested randomness with x402 payment gating",
		Flags:  serverFlags,
		Action: runServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runServer(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	production := cCtx.Bool(flags.ProductionFlag.Name)

	provider, err := selectAttestationProvider(cCtx, production)
	if err != nil {
		logger.Error("Failed to configure attestation provider", "err", err)
		return err
	}
	logger.Info("Attestation provider configured", "provider", provider.Provider(), "production", production)

	binder := attestation.New(provider, production, attestation.DefaultQuoteTimeout, logger)

	replayStore, durableReplay, err := buildReplayStore(cCtx, logger)
	if err != nil {
		logger.Error("Failed to configure replay protection", "err", err)
		return err
	}

	requirements, facilitator, err := buildPayments(cCtx, logger)
	if err != nil {
		logger.Error("Failed to configure payments", "err", err)
		return err
	}

	publisher, commitmentsEnabled, err := buildPublisher(cCtx, provider, logger)
	if err != nil {
		logger.Error("Failed to configure commitment storage", "err", err)
		return err
	}

	apiKeys, err := parseAPIKeys(cCtx.StringSlice(flags.APIKeysFlag.Name))
	if err != nil {
		logger.Error("Failed to parse API keys", "err", err)
		return err
	}

	gate, err := httpserver.NewAccessGate(httpserver.GateConfig{
		APIKeys:                 apiKeys,
		AllowedOrigins:          cCtx.StringSlice(flags.AllowedOriginsFlag.Name),
		AllowedIPs:              cCtx.StringSlice(flags.AllowedIPsFlag.Name),
		InsecureAllowUnverified: cCtx.Bool(flags.InsecureAllowUnverifiedFlag.Name),
	}, replayStore, facilitator, requirements, production, logger)
	if err != nil {
		logger.Error("Failed to create access gate", "err", err)
		return err
	}

	handler := httpserver.NewHandler(gate, randomness.New(), binder, publisher, logger)

	cfg := flags.ConfigureServer(cCtx, logger)
	cfg.PaymentsEnabled = requirements.Networks() > 0
	cfg.CommitmentsEnabled = commitmentsEnabled
	cfg.DurableReplay = durableReplay

	server, err := httpserver.New(cfg, handler)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	server.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	<-exit
	logger.Info("Shutting down...")

	server.Shutdown()
	return nil
}

func selectAttestationProvider(cCtx *cli.Context, production bool) (cryptoutils.AttestationProvider, error) {
	switch name := cCtx.String(flags.AttestationProviderFlag.Name); name {
	case "dcap":
		return cryptoutils.DCAPAttestationProvider{}, nil
	case "remote":
		return &cryptoutils.RemoteAttestationProvider{
			Address: cCtx.String(flags.AttestationRemoteAddrFlag.Name),
			Timeout: attestation.DefaultQuoteTimeout,
		}, nil
	case "mock":
		if production {
			return nil, errors.New("mock attestation provider is not allowed with --production")
		}
		return cryptoutils.DummyAttestationProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown attestation provider %q", name)
	}
}

func buildReplayStore(cCtx *cli.Context, logger *slog.Logger) (interfaces.ReplayStore, bool, error) {
	capacity := cCtx.Int(flags.ReplayCapacityFlag.Name)
	ttl := time.Duration(cCtx.Int64(flags.ReplayTTLFlag.Name)) * time.Second
	memory := replay.NewMemoryStore(capacity, ttl)

	vaultAddr := cCtx.String(flags.VaultAddrFlag.Name)
	if vaultAddr == "" {
		logger.Info("Replay protection is in-memory only")
		return memory, false, nil
	}

	vaultStore, err := replay.NewVaultStore(
		vaultAddr,
		cCtx.String(flags.VaultTokenFlag.Name),
		cCtx.String(flags.VaultMountFlag.Name),
		cCtx.String(flags.VaultPathFlag.Name),
		ttl,
		logger,
	)
	if err != nil {
		return nil, false, err
	}

	logger.Info("Replay protection backed by Vault", "address", vaultAddr)
	return replay.NewResilientStore(memory, vaultStore, logger), true, nil
}

func buildPayments(cCtx *cli.Context, logger *slog.Logger) (*xpayment.Requirements, interfaces.Facilitator, error) {
	facilitatorURL := cCtx.String(flags.FacilitatorURLFlag.Name)
	if facilitatorURL == "" {
		logger.Info("Payments disabled, no facilitator configured")
		requirements, err := xpayment.NewRequirements(nil)
		return requirements, nil, err
	}

	configPath := cCtx.String(flags.PaymentConfigFlag.Name)
	if configPath == "" {
		return nil, nil, errors.New("payment-config is required when facilitator-url is set")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read payment config: %w", err)
	}

	var networks []xpayment.NetworkConfig
	if err := json.Unmarshal(data, &networks); err != nil {
		return nil, nil, fmt.Errorf("invalid payment config: %w", err)
	}

	requirements, err := xpayment.NewRequirements(networks)
	if err != nil {
		return nil, nil, err
	}

	logger.Info("Payments enabled", "facilitator", facilitatorURL, "networks", requirements.Networks())
	facilitator := xpayment.NewHTTPFacilitator(facilitatorURL, xpayment.DefaultFacilitatorTimeout, logger)
	return requirements, facilitator, nil
}

func buildPublisher(cCtx *cli.Context, provider cryptoutils.AttestationProvider, logger *slog.Logger) (*commitment.Publisher, bool, error) {
	uris := cCtx.StringSlice(flags.StorageFlag.Name)
	if len(uris) == 0 {
		logger.Info("Commitment publishing disabled, no storage configured")
		return commitment.New(nil, provider, 10*time.Second, logger), false, nil
	}

	backend, err := storage.NewFactory(logger).CreateMultiBackend(uris)
	if err != nil {
		return nil, false, err
	}

	logger.Info("Commitment publishing enabled", "backends", len(uris))
	return commitment.New(backend, provider, 10*time.Second, logger), true, nil
}

func parseAPIKeys(entries []string) (map[string]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	keys := make(map[string]string, len(entries))
	for _, entry := range entries {
		label, key, ok := strings.Cut(entry, ":")
		if !ok || label == "" || key == "" {
			return nil, fmt.Errorf("invalid api-key entry %q, expected 'label:key'", entry)
		}
		keys[key] = label
	}
	return keys, nil
}
