package oracle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/elizabaoxyz/elizabao-claw/metrics"
	"github.com/elizabaoxyz/elizabao-claw/types"
)

type fixedSource struct {
	rate decimal.Decimal
	err  error
}

func (s fixedSource) SolUSDRate(context.Context) (decimal.Decimal, error) {
	return s.rate, s.err
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func TestLamportsForUSDRoundsUp(t *testing.T) {
	conv := NewConverter(fixedSource{rate: mustDecimal(t, "3")}, time.Second, nil)

	pricing, err := conv.LamportsForUSD(context.Background(), mustDecimal(t, "1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 1/3 SOL is 333333333.33... lamports; rounding must go up.
	if pricing.Lamports != 333333334 {
		t.Fatalf("expected 333333334 lamports, got %d", pricing.Lamports)
	}
}

func TestLamportsForUSDExactDivision(t *testing.T) {
	conv := NewConverter(fixedSource{rate: mustDecimal(t, "100")}, time.Second, nil)

	pricing, err := conv.LamportsForUSD(context.Background(), mustDecimal(t, "1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pricing.Lamports != 10_000_000 {
		t.Fatalf("expected 10000000 lamports, got %d", pricing.Lamports)
	}
}

func TestLamportsForUSDNeverBelowOne(t *testing.T) {
	// A rate so high the USD target is a fraction of a lamport.
	conv := NewConverter(fixedSource{rate: mustDecimal(t, "100000000000")}, time.Second, nil)

	pricing, err := conv.LamportsForUSD(context.Background(), mustDecimal(t, "0.00000000001"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pricing.Lamports < 1 {
		t.Fatalf("amount must be at least 1 lamport, got %d", pricing.Lamports)
	}
}

func TestLamportsForUSDNonPositiveRate(t *testing.T) {
	for _, rate := range []string{"0", "-5"} {
		conv := NewConverter(fixedSource{rate: mustDecimal(t, rate)}, time.Second, nil)

		_, err := conv.LamportsForUSD(context.Background(), mustDecimal(t, "1"))
		if err == nil {
			t.Fatalf("rate %s: expected error", rate)
		}

		var ce *types.ClawError
		if !errors.As(err, &ce) || ce.Code != types.ErrOracleUnavailable {
			t.Fatalf("rate %s: expected oracle_unavailable, got %v", rate, err)
		}
	}
}

func TestLamportsForUSDUnrepresentableAmount(t *testing.T) {
	// A minuscule but positive rate pushes the lamport amount past
	// uint64; the conversion must refuse rather than quote the wrapped
	// low bits and undercharge.
	conv := NewConverter(fixedSource{rate: mustDecimal(t, "0.000000000000000000000000000001")}, time.Second, nil)

	_, err := conv.LamportsForUSD(context.Background(), mustDecimal(t, "1"))
	if err == nil {
		t.Fatal("expected error for an unrepresentable amount")
	}

	var ce *types.ClawError
	if !errors.As(err, &ce) || ce.Code != types.ErrOracleUnavailable {
		t.Fatalf("expected oracle_unavailable, got %v", err)
	}
}

func TestLamportsForUSDSourceError(t *testing.T) {
	conv := NewConverter(fixedSource{err: errors.New("feed down")}, time.Second, nil)

	_, err := conv.LamportsForUSD(context.Background(), mustDecimal(t, "1"))

	var ce *types.ClawError
	if !errors.As(err, &ce) || ce.Code != types.ErrOracleUnavailable {
		t.Fatalf("expected oracle_unavailable, got %v", err)
	}
}

type captureRecorder struct {
	ops []string
}

func (c *captureRecorder) IncCounter(string, map[string]string) {}

func (c *captureRecorder) ObserveLatency(name string, _ time.Duration, _ map[string]string) {
	c.ops = append(c.ops, name)
}

func TestConverterRecordsFetchLatency(t *testing.T) {
	rec := &captureRecorder{}
	conv := NewConverter(fixedSource{rate: mustDecimal(t, "100")}, time.Second, rec)

	if _, err := conv.LamportsForUSD(context.Background(), mustDecimal(t, "1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(rec.ops) != 1 || rec.ops[0] != metrics.OpOracleFetch {
		t.Fatalf("recorded ops = %v, want [%s]", rec.ops, metrics.OpOracleFetch)
	}
}

func TestCoinGeckoSourceParsesRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"solana":{"usd":154.32}}`))
	}))
	defer srv.Close()

	src := NewCoinGeckoSource(srv.URL, time.Second)
	rate, err := src.SolUSDRate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !rate.Equal(mustDecimal(t, "154.32")) {
		t.Fatalf("expected 154.32, got %s", rate)
	}
}

func TestCoinGeckoSourceTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	src := NewCoinGeckoSource(srv.URL, 50*time.Millisecond)
	conv := NewConverter(src, 50*time.Millisecond, nil)

	_, err := conv.LamportsForUSD(context.Background(), mustDecimal(t, "1"))

	var ce *types.ClawError
	if !errors.As(err, &ce) || ce.Code != types.ErrOracleUnavailable {
		t.Fatalf("expected oracle_unavailable on timeout, got %v", err)
	}
}

func TestCoinGeckoSourceBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	src := NewCoinGeckoSource(srv.URL, time.Second)
	if _, err := src.SolUSDRate(context.Background()); err == nil {
		t.Fatal("expected error on non-200 status")
	}
}
