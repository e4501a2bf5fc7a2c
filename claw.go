// Package claw implements a payment-gated access protocol for premium
// HTTP resources: it issues x402 price quotes, accepts signed-blob or
// transaction-reference payment proofs, settles them against Solana
// and unlocks the resource once a sufficient transfer to the treasury
// is confirmed.
package claw

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/elizabaoxyz/elizabao-claw/config"
	"github.com/elizabaoxyz/elizabao-claw/ledger"
	"github.com/elizabaoxyz/elizabao-claw/logger"
	"github.com/elizabaoxyz/elizabao-claw/metrics"
	"github.com/elizabaoxyz/elizabao-claw/oracle"
	"github.com/elizabaoxyz/elizabao-claw/paywall"
	"github.com/elizabaoxyz/elizabao-claw/settlement"
)

// Claw wires the oracle, ledger client, settlement engine and paywall
// for one protected resource class.
type Claw struct {
	config *config.Config

	log     logger.Logger
	metrics metrics.Recorder
	rates   oracle.Source
	ledger  ledger.Client

	paywall *paywall.Paywall
}

// New builds a Claw instance from the given configuration. Options may
// inject alternative collaborators; anything not injected gets the
// production implementation.
func New(cfg *config.Config, opts ...Option) (*Claw, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Claw{config: cfg}
	for _, opt := range opts {
		opt(c)
	}

	if c.log == nil {
		c.log = logger.NoopLogger{}
	}
	if c.metrics == nil {
		c.metrics = metrics.NoopRecorder{}
	}
	if c.rates == nil {
		c.rates = oracle.NewCoinGeckoSource(cfg.OracleURL, cfg.OracleTimeout)
	}
	if c.ledger == nil {
		c.ledger = ledger.NewRPCClient(cfg.RPCURL)
	}

	conv := oracle.NewConverter(c.rates, cfg.OracleTimeout, c.metrics)
	engine := settlement.NewEngine(c.ledger, cfg.Network, cfg.ConfirmPolls, cfg.ConfirmBackoff, c.log, c.metrics)

	pw, err := paywall.New(cfg, conv, engine, c.log, c.metrics)
	if err != nil {
		return nil, err
	}
	c.paywall = pw

	return c, nil
}

// Paywall exposes the access-decision layer for custom routing.
func (c *Claw) Paywall() *paywall.Paywall {
	return c.paywall
}

// Router assembles the HTTP surface: the protected resource, the
// auxiliary pricing endpoint, a health check and, when enabled, the
// prometheus scrape endpoint.
func (c *Claw) Router(provider paywall.PayloadFunc) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/api/report", c.paywall.Protect(provider))
	router.GET("/api/price", c.paywall.PriceHandler())
	router.GET("/healthz", func(gc *gin.Context) {
		gc.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if c.config.EnableMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	return router
}

// Version information.
const (
	Version         = "1.0.0"
	ProtocolVersion = 1
)
