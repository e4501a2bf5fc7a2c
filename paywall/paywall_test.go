package paywall

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/elizabaoxyz/elizabao-claw/config"
	"github.com/elizabaoxyz/elizabao-claw/ledger"
	"github.com/elizabaoxyz/elizabao-claw/oracle"
	"github.com/elizabaoxyz/elizabao-claw/settlement"
	"github.com/elizabaoxyz/elizabao-claw/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixedSource struct {
	rate decimal.Decimal
	err  error
}

func (s fixedSource) SolUSDRate(context.Context) (decimal.Decimal, error) {
	return s.rate, s.err
}

type fakeLedger struct {
	txs     map[solana.Signature]*ledger.ConfirmedTransaction
	lookups int
}

func (f *fakeLedger) SubmitBase64(ctx context.Context, txBase64 string) (solana.Signature, error) {
	return solana.Signature{}, errors.New("submission disabled in this test")
}

func (f *fakeLedger) Lookup(ctx context.Context, sig solana.Signature) (*ledger.ConfirmedTransaction, error) {
	f.lookups++
	return f.txs[sig], nil
}

type gateFixture struct {
	payTo  solana.PublicKey
	ledger *fakeLedger
	router *gin.Engine
}

// At 1 USD target and 100 USD/SOL the quote is 10_000_000 lamports.
const expectedLamports = 10_000_000

func newGate(t *testing.T, src oracle.Source, bypass bool) *gateFixture {
	t.Helper()

	payTo := solana.NewWallet().PublicKey()
	cfg := &config.Config{
		ListenAddr:     ":0",
		Network:        types.NetworkSolanaDevnet,
		RPCURL:         "http://localhost:8899",
		PayTo:          payTo.String(),
		PriceUSD:       "1",
		OracleURL:      "http://localhost:1/unused",
		OracleTimeout:  time.Second,
		ConfirmPolls:   1,
		ConfirmBackoff: time.Millisecond,
		Bypass:         bypass,
		Description:    "premium report",
	}

	fl := &fakeLedger{txs: make(map[solana.Signature]*ledger.ConfirmedTransaction)}
	conv := oracle.NewConverter(src, time.Second, nil)
	engine := settlement.NewEngine(fl, cfg.Network, cfg.ConfirmPolls, cfg.ConfirmBackoff, nil, nil)

	pw, err := New(cfg, conv, engine, nil, nil)
	if err != nil {
		t.Fatalf("build paywall: %v", err)
	}

	router := gin.New()
	router.GET("/api/report", pw.Protect(func(context.Context) (map[string]any, error) {
		return map[string]any{"report": "the goods"}, nil
	}))
	router.GET("/api/price", pw.PriceHandler())

	return &gateFixture{payTo: payTo, ledger: fl, router: router}
}

func defaultSource() fixedSource {
	return fixedSource{rate: decimal.RequireFromString("100")}
}

func (g *gateFixture) get(t *testing.T, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/report", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	g.router.ServeHTTP(w, req)
	return w
}

func decode402(t *testing.T, w *httptest.ResponseRecorder) types.PaymentRequired {
	t.Helper()
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402 (body %s)", w.Code, w.Body.String())
	}
	var body types.PaymentRequired
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode 402 body: %v", err)
	}
	if len(body.Accepts) != 1 {
		t.Fatalf("accepts has %d entries", len(body.Accepts))
	}
	return body
}

func confirmTransfer(g *gateFixture, sig solana.Signature, payer solana.PublicKey, lamports uint64) error {
	inst := system.NewTransferInstruction(lamports, payer, g.payTo).Build()
	tx, err := solana.NewTransaction([]solana.Instruction{inst}, solana.Hash{}, solana.TransactionPayer(payer))
	if err != nil {
		return err
	}
	tx.Signatures = []solana.Signature{sig}
	g.ledger.txs[sig] = &ledger.ConfirmedTransaction{Tx: tx}
	return nil
}

func TestNoProofReturnsQuote(t *testing.T) {
	g := newGate(t, defaultSource(), false)

	w := g.get(t, nil)
	body := decode402(t, w)

	q := body.Accepts[0]
	if q.MaxAmountRequired != strconv.Itoa(expectedLamports) {
		t.Errorf("maxAmountRequired = %q, want %d", q.MaxAmountRequired, expectedLamports)
	}
	if q.PayTo != g.payTo.String() {
		t.Errorf("payTo = %q", q.PayTo)
	}
	if q.Scheme != "exact" || q.Asset != types.AssetSOL {
		t.Errorf("scheme/asset = %q/%q", q.Scheme, q.Asset)
	}

	// The header mirrors the body for automated callers.
	encoded := w.Header().Get(HeaderPaymentRequired)
	if encoded == "" {
		t.Fatal("X-Payment-Required header missing")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("header is not base64: %v", err)
	}
	var mirrored types.PaymentRequired
	if err := json.Unmarshal(raw, &mirrored); err != nil {
		t.Fatalf("header is not JSON: %v", err)
	}
	if mirrored.Accepts[0].MaxAmountRequired != q.MaxAmountRequired {
		t.Error("header quote diverges from body quote")
	}
}

func TestQuoteRetryConfirmScenario(t *testing.T) {
	g := newGate(t, defaultSource(), false)
	payer := solana.NewWallet().PublicKey()
	var sig solana.Signature
	sig[0] = 42

	// 1: no headers → quoted.
	body := decode402(t, g.get(t, nil))
	required, err := strconv.ParseUint(body.Accepts[0].MaxAmountRequired, 10, 64)
	if err != nil {
		t.Fatalf("parse required amount: %v", err)
	}

	// 2: reference to a not-yet-confirmed transaction → retriable 402.
	w := g.get(t, map[string]string{"X-Payment-Tx": sig.String()})
	retry := decode402(t, w)
	if retry.Error != types.ReasonTxNotFoundYet {
		t.Fatalf("error = %q, want %q", retry.Error, types.ReasonTxNotFoundYet)
	}

	// 3: transaction confirms with a sufficient transfer → unlocked.
	if err := confirmTransfer(g, sig, payer, required); err != nil {
		t.Fatalf("confirm transfer: %v", err)
	}

	w = g.get(t, map[string]string{"X-Payment-Tx": sig.String()})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}

	var resp struct {
		Paid    bool          `json:"paid"`
		Payment types.Receipt `json:"payment"`
		Report  string        `json:"report"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode 200 body: %v", err)
	}
	if !resp.Paid {
		t.Fatal("paid must be true")
	}
	if resp.Payment.PaidAmount < required {
		t.Fatalf("paidAmount %d below required %d", resp.Payment.PaidAmount, required)
	}
	if resp.Payment.Transaction != sig.String() {
		t.Fatalf("receipt transaction = %q", resp.Payment.Transaction)
	}
	if resp.Payment.Payer != payer.String() {
		t.Fatalf("receipt payer = %q", resp.Payment.Payer)
	}
	if resp.Report != "the goods" {
		t.Fatalf("payload missing from response: %s", w.Body.String())
	}
}

func TestInsufficientPaymentRequotes(t *testing.T) {
	g := newGate(t, defaultSource(), false)
	payer := solana.NewWallet().PublicKey()
	var sig solana.Signature
	sig[0] = 43

	if err := confirmTransfer(g, sig, payer, expectedLamports-1); err != nil {
		t.Fatalf("confirm transfer: %v", err)
	}

	body := decode402(t, g.get(t, map[string]string{"X-Payment-Tx": sig.String()}))
	want := "insufficient payment: paid=" + strconv.Itoa(expectedLamports-1) + " require=" + strconv.Itoa(expectedLamports)
	if body.Error != want {
		t.Fatalf("error = %q, want %q", body.Error, want)
	}
}

func TestMalformedPaymentHeaderNoFallback(t *testing.T) {
	g := newGate(t, defaultSource(), false)

	w := g.get(t, map[string]string{
		"X-PAYMENT":    "!!!definitely-not-base64!!!",
		"X-Payment-Tx": "someSignature",
	})

	decode402(t, w)
	if g.ledger.lookups != 0 {
		t.Fatal("malformed primary header must not fall back to the reference header")
	}
}

func TestBypassGrantsUnpaid(t *testing.T) {
	g := newGate(t, defaultSource(), true)

	for _, headers := range []map[string]string{
		nil,
		{"X-PAYMENT": "garbage"},
		{"X-Payment-Tx": "whatever"},
	} {
		w := g.get(t, headers)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}

		var resp map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if paid, ok := resp["paid"].(bool); !ok || paid {
			t.Fatalf("bypass must answer paid=false, got %v", resp["paid"])
		}
		if _, hasPayment := resp["payment"]; hasPayment {
			t.Fatal("bypass response must not carry a settlement receipt")
		}
	}

	if g.ledger.lookups != 0 {
		t.Fatal("bypass must not touch the ledger")
	}
}

func TestOracleDownIsBadGateway(t *testing.T) {
	g := newGate(t, fixedSource{err: errors.New("feed down")}, false)

	w := g.get(t, nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502 (an oracle outage is not a payment problem)", w.Code)
	}
}

func TestPriceEndpoint(t *testing.T) {
	g := newGate(t, defaultSource(), false)

	req := httptest.NewRequest(http.MethodGet, "/api/price", nil)
	w := httptest.NewRecorder()
	g.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		USD            string `json:"usd"`
		SolUSDRate     string `json:"solUsdRate"`
		RequiredAmount uint64 `json:"requiredAmount"`
		PayTo          string `json:"payTo"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	if resp.USD != "1" || resp.SolUSDRate != "100" {
		t.Errorf("pricing = %s / %s", resp.USD, resp.SolUSDRate)
	}
	if resp.RequiredAmount != expectedLamports {
		t.Errorf("requiredAmount = %d", resp.RequiredAmount)
	}
	if resp.PayTo != g.payTo.String() {
		t.Errorf("payTo = %q", resp.PayTo)
	}
}
