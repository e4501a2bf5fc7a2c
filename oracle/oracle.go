// Package oracle converts a USD target price into lamports using a
// live SOL/USD rate. The rate source sits behind a small interface
// with an explicit timeout and no caching, so tests can substitute a
// fixed rate without timing sensitivity and a denied request never
// reuses a stale quote.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/elizabaoxyz/elizabao-claw/metrics"
	"github.com/elizabaoxyz/elizabao-claw/types"
)

// Source produces a current SOL/USD rate.
type Source interface {
	SolUSDRate(ctx context.Context) (decimal.Decimal, error)
}

// Pricing is the metadata recorded alongside a derived amount so a
// quote can show how it was priced.
type Pricing struct {
	USDAmount  decimal.Decimal
	SolUSDRate decimal.Decimal
	Lamports   uint64
}

// Converter turns USD targets into lamport amounts via a Source.
type Converter struct {
	source  Source
	timeout time.Duration
	metrics metrics.Recorder
}

// NewConverter builds a Converter. A non-positive timeout falls back
// to 10s; a nil recorder records nothing.
func NewConverter(source Source, timeout time.Duration, rec metrics.Recorder) *Converter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Converter{source: source, timeout: timeout, metrics: rec}
}

var lamportsPerSOL = decimal.NewFromInt(int64(solana.LAMPORTS_PER_SOL))

// LamportsForUSD fetches a fresh rate and returns ceil(usd/rate) in
// lamports, always at least 1. Rounding is up so undercharging cannot
// occur. No retry happens here: a failed or slow fetch is reported as
// oracle_unavailable and the caller decides whether to ask again.
func (c *Converter) LamportsForUSD(ctx context.Context, usd decimal.Decimal) (*Pricing, error) {
	if !usd.IsPositive() {
		return nil, types.Errorf(types.ErrOracleUnavailable, "usd target must be positive, got %s", usd)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	rate, err := c.source.SolUSDRate(fetchCtx)
	c.metrics.ObserveLatency(metrics.OpOracleFetch, time.Since(start), nil)
	if err != nil {
		return nil, types.Errorf(types.ErrOracleUnavailable, "price feed: %v", err)
	}

	if !rate.IsPositive() {
		return nil, types.Errorf(types.ErrOracleUnavailable, "price feed returned non-positive rate %s", rate)
	}

	lamports := usd.Div(rate).Mul(lamportsPerSOL).Ceil()
	bi := lamports.BigInt()
	if !bi.IsUint64() {
		// A rate small enough to push the amount past uint64 means the
		// feed is feeding garbage; quoting the wrapped value would
		// undercharge by many orders of magnitude.
		return nil, types.Errorf(types.ErrOracleUnavailable, "required amount %s lamports is not representable", lamports)
	}
	amount := bi.Uint64()
	if amount < 1 {
		amount = 1
	}

	return &Pricing{
		USDAmount:  usd,
		SolUSDRate: rate,
		Lamports:   amount,
	}, nil
}

// coingeckoResponse matches the simple-price endpoint shape:
// {"solana": {"usd": 123.45}}.
type coingeckoResponse struct {
	Solana struct {
		USD decimal.Decimal `json:"usd"`
	} `json:"solana"`
}

// CoinGeckoSource fetches the SOL/USD rate from a CoinGecko-style
// simple-price endpoint.
type CoinGeckoSource struct {
	url    string
	client *http.Client
}

// NewCoinGeckoSource builds a rate source for the given endpoint.
func NewCoinGeckoSource(url string, timeout time.Duration) *CoinGeckoSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CoinGeckoSource{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *CoinGeckoSource) SolUSDRate(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build rate request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch rate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("rate endpoint returned status %d", resp.StatusCode)
	}

	var body coingeckoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("decode rate response: %w", err)
	}

	return body.Solana.USD, nil
}
