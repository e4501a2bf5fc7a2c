package claw

import (
	"github.com/elizabaoxyz/elizabao-claw/ledger"
	"github.com/elizabaoxyz/elizabao-claw/logger"
	"github.com/elizabaoxyz/elizabao-claw/metrics"
	"github.com/elizabaoxyz/elizabao-claw/oracle"
)

type Option func(*Claw)

func WithLogger(l logger.Logger) Option {
	return func(c *Claw) {
		c.log = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(c *Claw) {
		c.metrics = r
	}
}

// WithRateSource replaces the CoinGecko rate source, e.g. with a fixed
// rate in tests.
func WithRateSource(s oracle.Source) Option {
	return func(c *Claw) {
		c.rates = s
	}
}

// WithLedger replaces the RPC-backed ledger client.
func WithLedger(lc ledger.Client) Option {
	return func(c *Claw) {
		c.ledger = lc
	}
}
