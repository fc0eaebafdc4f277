package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fourotwo-xyz/web-scraper/pkg/api"
	"github.com/fourotwo-xyz/web-scraper/pkg/attestation"
	"github.com/fourotwo-xyz/web-scraper/pkg/config"
	"github.com/fourotwo-xyz/web-scraper/pkg/extract"
	"github.com/fourotwo-xyz/web-scraper/pkg/metering"
	"github.com/fourotwo-xyz/web-scraper/pkg/observability"
	"github.com/fourotwo-xyz/web-scraper/pkg/payment"
	"github.com/fourotwo-xyz/web-scraper/pkg/payment/x402"
	"github.com/fourotwo-xyz/web-scraper/pkg/quota"
	"github.com/fourotwo-xyz/web-scraper/pkg/server"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests
var startServer = runServer

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(stderr)
	}

	switch args[1] {
	case "serve", "server":
		return startServer(stderr)
	case "address":
		return runAddress(stdout, stderr)
	case "verify":
		return runVerify(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage: paygate <command> [arguments]")
	_, _ = fmt.Fprintln(w, "\nCommands:")
	_, _ = fmt.Fprintln(w, "  serve    Run the gateway (default)")
	_, _ = fmt.Fprintln(w, "  address  Print the attestation signer address")
	_, _ = fmt.Fprintln(w, "  verify   Recover the signer of a feedback authorization blob")
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func loadConfig(stderr io.Writer) (*config.Config, *slog.Logger, bool) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return nil, nil, false
	}
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)
	return cfg, logger, true
}

func newSigner(cfg *config.Config) (*attestation.Signer, error) {
	if !cfg.SigningEnabled() {
		return nil, nil
	}
	return attestation.NewSigner(attestation.Config{
		PrivateKeyHex:     cfg.SignerPrivateKey,
		AgentID:           cfg.AgentID,
		ChainID:           cfg.ChainID,
		IdentityRegistry:  cfg.IdentityRegistry,
		IndexLimit:        cfg.FeedbackIndexLimit,
		SaltTaskReference: cfg.SaltTaskReference,
	})
}

// serveSigner builds the attestation signer for the gateway. A bad key
// disables attestations instead of stopping the service.
func serveSigner(cfg *config.Config, logger *slog.Logger) *attestation.Signer {
	signer, err := newSigner(cfg)
	switch {
	case err != nil:
		logger.Error("signer init failed, attestations disabled", "error", err)
		return nil
	case signer == nil:
		logger.Warn("SIGNER_PRIVATE_KEY not set, attestations disabled")
		return nil
	}
	logger.Info("attestations enabled",
		"agent_identity", signer.Address().Hex(),
		"feedback_authorization", signer.AuthorizationEnabled(),
	)
	return signer
}

//nolint:gocognit,gocyclo
func runServer(stderr io.Writer) int {
	cfg, logger, ok := loadConfig(stderr)
	if !ok {
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry
	telemetry, err := observability.New(ctx, observability.ConfigForEndpoint(cfg.OTLPEndpoint))
	if err != nil {
		logger.Error("telemetry init failed", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()

	signer := serveSigner(cfg, logger)

	// Metering
	meter, closeMeter, err := metering.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("metering init failed", "error", err)
		return 1
	}
	defer func() { _ = closeMeter.Close() }()

	// Payment
	var enforcer payment.Enforcer
	if cfg.PaymentEnabled() {
		opts := []x402.Option{x402.WithLogger(logger.With("component", "x402"))}
		if cfg.RedisAddr != "" {
			guard := x402.NewRedisReplayGuard(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
			if err := guard.Ping(ctx); err != nil {
				logger.Error("redis unreachable", "addr", cfg.RedisAddr, "error", err)
				return 1
			}
			defer func() { _ = guard.Close() }()
			opts = append(opts, x402.WithReplayGuard(guard))
		}
		enforcer = x402.New(x402.Config{
			FacilitatorURL: cfg.FacilitatorURL,
			Requirements:   cfg.Payment,
		}, opts...)
		logger.Info("payments enabled", "facilitator", cfg.FacilitatorURL, "network", cfg.Payment.Network, "price", cfg.Payment.MaxAmountRequired)
	} else {
		logger.Warn("FACILITATOR_URL or PAY_TO not set, payable calls will be refused")
		enforcer = payment.Deny(cfg.Payment)
	}

	srv, err := server.New(server.Config{
		Addr:            ":" + cfg.Port,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, server.Deps{
		Quota:       quota.NewMemoryStore(cfg.FreeTierLimit),
		Enforcer:    enforcer,
		Extractor:   extract.NewClient(cfg.ExtractAPIURL, cfg.ExtractAPIKey),
		Signer:      signer,
		Meter:       meter,
		Metrics:     observability.NewMetrics("paygate"),
		Telemetry:   telemetry,
		RateLimiter: api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		Logger:      logger,
	})
	if err != nil {
		logger.Error("server init failed", "error", err)
		return 1
	}

	logger.Info("gateway starting", "port", cfg.Port, "free_tier_limit", cfg.FreeTierLimit)
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("server stopped", "error", err)
		return 1
	}
	logger.Info("gateway stopped")
	return 0
}

func runAddress(stdout, stderr io.Writer) int {
	cfg, _, ok := loadConfig(stderr)
	if !ok {
		return 1
	}
	signer, err := newSigner(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "signer: %v\n", err)
		return 1
	}
	if signer == nil {
		_, _ = fmt.Fprintln(stderr, "SIGNER_PRIVATE_KEY is not set")
		return 1
	}
	_, _ = fmt.Fprintln(stdout, signer.Address().Hex())
	return 0
}
