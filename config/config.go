// Package config collects the gate's environment-driven settings into
// one immutable value. Components receive the pieces they need
// explicitly; nothing reads the process environment after startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/elizabaoxyz/elizabao-claw/types"
)

// Config holds every tuneable of the payment gate.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string `validate:"required"`

	// Network selects the Solana environment.
	Network types.Network `validate:"required"`

	// RPCURL is the Solana JSON-RPC endpoint.
	RPCURL string `validate:"required,url"`

	// PayTo is the treasury address payments must reach. Base58.
	PayTo string `validate:"required,min=32,max=44"`

	// PriceUSD is the USD target for the protected resource.
	PriceUSD string `validate:"required"`

	// OracleURL is the SOL/USD price feed endpoint.
	OracleURL string `validate:"required,url"`

	// OracleTimeout bounds a single price fetch.
	OracleTimeout time.Duration

	// ConfirmPolls is how many times a lookup is retried before the
	// transaction is reported as not yet confirmed.
	ConfirmPolls int

	// ConfirmBackoff is the wait between confirmation polls.
	ConfirmBackoff time.Duration

	// Bypass forces every request to be granted with paid:false.
	// Development escape hatch only.
	Bypass bool

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// EnableMetrics registers the prometheus recorder and serves
	// /metrics.
	EnableMetrics bool

	// Description appears in issued quotes.
	Description string
}

const (
	defaultListenAddr     = ":3000"
	defaultOracleURL      = "https://api.coingecko.com/api/v3/simple/price?ids=solana&vs_currencies=usd"
	defaultOracleTimeout  = 10 * time.Second
	defaultConfirmPolls   = 2
	defaultConfirmBackoff = 2 * time.Second
	defaultPriceUSD       = "1"
	defaultDescription    = "Premium market report"
)

var validate = validator.New()

// FromEnv loads the configuration from CLAW_* environment variables
// and validates it. Missing optional values get production defaults.
func FromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr:     envOr("CLAW_LISTEN_ADDR", defaultListenAddr),
		Network:        types.Network(envOr("CLAW_NETWORK", types.NetworkSolanaMainnet.String())),
		RPCURL:         envOr("CLAW_RPC_URL", "https://api.mainnet-beta.solana.com"),
		PayTo:          os.Getenv("CLAW_PAY_TO"),
		PriceUSD:       envOr("CLAW_PRICE_USD", defaultPriceUSD),
		OracleURL:      envOr("CLAW_ORACLE_URL", defaultOracleURL),
		OracleTimeout:  envDurationOr("CLAW_ORACLE_TIMEOUT", defaultOracleTimeout),
		ConfirmPolls:   envIntOr("CLAW_CONFIRM_POLLS", defaultConfirmPolls),
		ConfirmBackoff: envDurationOr("CLAW_CONFIRM_BACKOFF", defaultConfirmBackoff),
		Bypass:         envBool("CLAW_BYPASS_PAYWALL"),
		LogLevel:       envOr("CLAW_LOG_LEVEL", "info"),
		EnableMetrics:  envBool("CLAW_ENABLE_METRICS"),
		Description:    envOr("CLAW_DESCRIPTION", defaultDescription),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration. A bad PayTo here is the same
// unconfigured condition the quote builder rejects at request time.
func (c *Config) Validate() error {
	if !c.Network.IsSolana() {
		return types.Errorf(types.ErrUnconfigured, "unsupported network: %s", c.Network)
	}

	if err := validate.Struct(c); err != nil {
		return types.Errorf(types.ErrUnconfigured, "invalid configuration: %v", err)
	}

	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	v := os.Getenv(key)
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// String renders the config for startup logs with nothing sensitive in
// it (the gate holds no keys, only public addresses).
func (c *Config) String() string {
	return fmt.Sprintf("network=%s payTo=%s priceUSD=%s bypass=%t", c.Network, c.PayTo, c.PriceUSD, c.Bypass)
}
