// Package config loads gateway configuration from the environment with an
// optional YAML overlay for payment requirements.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fourotwo-xyz/web-scraper/pkg/payment"
	"github.com/fourotwo-xyz/web-scraper/pkg/quota"
)

// Base Sepolia USDC.
const defaultPaymentAsset = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"

// Config holds server configuration.
type Config struct {
	Port     string
	LogLevel string

	FreeTierLimit int

	SignerPrivateKey   string
	AgentID            *big.Int
	ChainID            *big.Int
	IdentityRegistry   common.Address
	FeedbackIndexLimit uint64
	SaltTaskReference  bool

	ExtractAPIURL string
	ExtractAPIKey string

	FacilitatorURL string
	Payment        payment.Requirements

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DatabaseURL string

	RateLimitRPS   float64
	RateLimitBurst int

	OTLPEndpoint    string
	ShutdownTimeout time.Duration
}

// SigningEnabled reports whether attestations should be issued.
func (c *Config) SigningEnabled() bool { return c.SignerPrivateKey != "" }

// PaymentEnabled reports whether payable calls can be settled.
func (c *Config) PaymentEnabled() bool { return c.FacilitatorURL != "" && c.Payment.PayTo != "" }

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getenv("PORT", "8080"),
		LogLevel:         strings.ToUpper(getenv("LOG_LEVEL", "INFO")),
		SignerPrivateKey: os.Getenv("SIGNER_PRIVATE_KEY"),
		ExtractAPIURL:    getenv("EXTRACT_API_URL", "https://api.firecrawl.dev"),
		ExtractAPIKey:    os.Getenv("EXTRACT_API_KEY"),
		FacilitatorURL:   os.Getenv("FACILITATOR_URL"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
	cfg.SaltTaskReference = os.Getenv("SALT_TASK_REFERENCE") == "true"

	var err error
	if cfg.FreeTierLimit, err = intEnv("FREE_TIER_LIMIT", quota.DefaultFreeLimit); err != nil {
		return nil, err
	}
	if cfg.FreeTierLimit < 0 {
		return nil, fmt.Errorf("config: FREE_TIER_LIMIT must not be negative")
	}
	if cfg.RedisDB, err = intEnv("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = intEnv("RATE_LIMIT_BURST", 20); err != nil {
		return nil, err
	}
	if cfg.RateLimitRPS, err = floatEnv("RATE_LIMIT_RPS", 10); err != nil {
		return nil, err
	}
	limit, err := intEnv("FEEDBACK_INDEX_LIMIT", 1000)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("config: FEEDBACK_INDEX_LIMIT must be positive")
	}
	cfg.FeedbackIndexLimit = uint64(limit)

	shutdown, err := intEnv("SHUTDOWN_TIMEOUT_SECONDS", 15)
	if err != nil {
		return nil, err
	}
	cfg.ShutdownTimeout = time.Duration(shutdown) * time.Second

	if cfg.AgentID, err = bigEnv("AGENT_ID", nil); err != nil {
		return nil, err
	}
	if cfg.ChainID, err = bigEnv("CHAIN_ID", big.NewInt(84532)); err != nil {
		return nil, err
	}
	if reg := os.Getenv("IDENTITY_REGISTRY"); reg != "" {
		if !common.IsHexAddress(reg) {
			return nil, fmt.Errorf("config: IDENTITY_REGISTRY is not an address")
		}
		cfg.IdentityRegistry = common.HexToAddress(reg)
	}

	if path := os.Getenv("PAYGATE_CONFIG"); path != "" {
		overlay, err := LoadOverlay(path)
		if err != nil {
			return nil, err
		}
		cfg.Payment = overlay.Payment
	}
	applyPaymentEnv(&cfg.Payment)

	return cfg, nil
}

// applyPaymentEnv lets explicitly set variables win over the overlay and
// fills what is still empty with defaults.
func applyPaymentEnv(p *payment.Requirements) {
	set := func(dst *string, key, def string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
		if *dst == "" {
			*dst = def
		}
	}
	set(&p.PayTo, "PAY_TO", "")
	set(&p.MaxAmountRequired, "PRICE_ATOMIC", "10000")
	set(&p.Asset, "PAYMENT_ASSET", defaultPaymentAsset)
	set(&p.Network, "PAYMENT_NETWORK", "base-sepolia")
	set(&p.Scheme, "PAYMENT_SCHEME", "exact")
	set(&p.Resource, "PAYMENT_RESOURCE", "")
	if p.Description == "" {
		p.Description = "Web page extraction"
	}
	if p.MimeType == "" {
		p.MimeType = "application/json"
	}
	if p.MaxTimeoutSeconds == 0 {
		p.MaxTimeoutSeconds = 60
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func floatEnv(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}

func bigEnv(key string, def *big.Int) (*big.Int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, ok := new(big.Int).SetString(v, 0)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("config: %s must be a non-negative integer", key)
	}
	if n.BitLen() > 256 {
		return nil, fmt.Errorf("config: %s does not fit in uint256", key)
	}
	return n, nil
}
