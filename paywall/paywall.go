// Package paywall is the access-decision layer: it turns a request for
// a protected resource into either a fresh 402 quote or a 200 carrying
// a settlement receipt and the protected payload.
//
// The state machine is Unauthenticated → Quoted → Granted. A request
// without a proof is quoted; a request with a proof is settled and
// verified; every verification failure re-quotes at current pricing so
// the caller can always recover from accepts[0] alone.
package paywall

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/elizabaoxyz/elizabao-claw/config"
	"github.com/elizabaoxyz/elizabao-claw/logger"
	"github.com/elizabaoxyz/elizabao-claw/metrics"
	"github.com/elizabaoxyz/elizabao-claw/oracle"
	"github.com/elizabaoxyz/elizabao-claw/proof"
	"github.com/elizabaoxyz/elizabao-claw/quote"
	"github.com/elizabaoxyz/elizabao-claw/settlement"
	"github.com/elizabaoxyz/elizabao-claw/types"
)

// HeaderPaymentRequired mirrors the 402 body for automated callers
// that parse headers instead of bodies.
const HeaderPaymentRequired = "X-Payment-Required"

// PayloadFunc produces the protected payload. It is invoked only after
// access has been granted.
type PayloadFunc func(ctx context.Context) (map[string]any, error)

// Paywall gates a resource class behind the quote → prove → settle →
// verify → unlock protocol. It holds no mutable state; every request
// is decided independently.
type Paywall struct {
	cfg      *config.Config
	conv     *oracle.Converter
	engine   *settlement.Engine
	payTo    solana.PublicKey
	priceUSD decimal.Decimal
	log      logger.Logger
	metrics  metrics.Recorder
}

// New wires the paywall. It fails if the configured price or treasury
// address cannot be parsed, since the gate would only ever answer 500.
func New(cfg *config.Config, conv *oracle.Converter, engine *settlement.Engine, log logger.Logger, rec metrics.Recorder) (*Paywall, error) {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}

	priceUSD, err := decimal.NewFromString(cfg.PriceUSD)
	if err != nil || !priceUSD.IsPositive() {
		return nil, types.Errorf(types.ErrUnconfigured, "invalid USD price %q", cfg.PriceUSD)
	}

	payTo, err := solana.PublicKeyFromBase58(cfg.PayTo)
	if err != nil {
		return nil, types.Errorf(types.ErrUnconfigured, "invalid payTo address %q: %v", cfg.PayTo, err)
	}

	return &Paywall{
		cfg:      cfg,
		conv:     conv,
		engine:   engine,
		payTo:    payTo,
		priceUSD: priceUSD,
		log:      log,
		metrics:  rec,
	}, nil
}

// Protect wraps a payload provider in the payment gate.
func (p *Paywall) Protect(provider PayloadFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if p.cfg.Bypass {
			p.metrics.IncCounter(metrics.EventBypass, p.labels(""))
			p.grant(c, provider, nil)
			return
		}

		pr, err := proof.Extract(c.Request.Header, p.cfg.Network)
		if err != nil {
			// Malformed primary header: re-quote with the reason, never
			// fall back to the secondary header.
			p.metrics.IncCounter(metrics.EventPaymentDenied, p.labels(types.ErrMalformedProof))
			p.deny(c, err.Error())
			return
		}

		if pr == nil {
			p.deny(c, "Payment required")
			return
		}

		pricing, perr := p.conv.LamportsForUSD(c.Request.Context(), p.priceUSD)
		if perr != nil {
			p.dependencyFailure(c, perr)
			return
		}

		result, verr := p.engine.Verify(c.Request.Context(), pr, pricing.Lamports, p.payTo)
		if verr != nil {
			p.dependencyFailure(c, verr)
			return
		}

		if !result.Verified {
			p.log.Info("payment rejected", map[string]any{
				"code":        result.Code,
				"reason":      result.Reason,
				"transaction": result.Transaction,
			})
			p.metrics.IncCounter(metrics.EventPaymentDenied, p.labels(result.Code))
			p.deny(c, result.Reason)
			return
		}

		p.metrics.IncCounter(metrics.EventPaymentGranted, p.labels(""))
		p.grant(c, provider, &types.Receipt{
			Network:     p.cfg.Network.String(),
			Transaction: result.Transaction,
			PaidAmount:  result.PaidAmount,
			Payer:       result.Payer,
		})
	}
}

// PriceHandler serves the auxiliary pricing endpoint: current USD
// target, rate, lamport amount and destination, without payment.
func (p *Paywall) PriceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		pricing, err := p.conv.LamportsForUSD(c.Request.Context(), p.priceUSD)
		if err != nil {
			p.dependencyFailure(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"usd":            pricing.USDAmount.String(),
			"solUsdRate":     pricing.SolUSDRate.String(),
			"requiredAmount": pricing.Lamports,
			"payTo":          p.cfg.PayTo,
		})
	}
}

// deny issues a fresh quote as a 402 with the given reason. Pricing is
// computed anew on every denial so a quote is never silently reused.
func (p *Paywall) deny(c *gin.Context, reason string) {
	pricing, err := p.conv.LamportsForUSD(c.Request.Context(), p.priceUSD)
	if err != nil {
		p.dependencyFailure(c, err)
		return
	}

	q, err := quote.Build(pricing.Lamports, p.cfg.PayTo, p.cfg.Network, resourceURL(c.Request), p.cfg.Description, pricing)
	if err != nil {
		p.dependencyFailure(c, err)
		return
	}

	body := types.PaymentRequired{
		X402Version: int(types.X402Version1),
		Error:       reason,
		Accepts:     []types.Quote{*q},
	}

	if encoded, merr := json.Marshal(body); merr == nil {
		c.Header(HeaderPaymentRequired, base64.StdEncoding.EncodeToString(encoded))
	}

	p.metrics.IncCounter(metrics.EventQuoteIssued, p.labels(""))
	c.JSON(http.StatusPaymentRequired, body)
}

// grant releases the protected payload. A nil receipt marks the bypass
// path, which answers paid:false so it can never be mistaken for a
// real settlement.
func (p *Paywall) grant(c *gin.Context, provider PayloadFunc, receipt *types.Receipt) {
	payload, err := provider(c.Request.Context())
	if err != nil {
		p.log.Error("payload provider failed", map[string]any{"error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to produce resource payload"})
		return
	}

	resp := make(gin.H, len(payload)+2)
	for k, v := range payload {
		resp[k] = v
	}

	if receipt == nil {
		resp["paid"] = false
	} else {
		resp["paid"] = true
		resp["payment"] = receipt
	}

	c.JSON(http.StatusOK, resp)
}

// dependencyFailure maps configuration and upstream faults to
// 500-class responses: these are not payment problems, so answering
// 402 would mislead the caller into paying again.
func (p *Paywall) dependencyFailure(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	var ce *types.ClawError
	if errors.As(err, &ce) && ce.Code == types.ErrOracleUnavailable {
		status = http.StatusBadGateway
	}

	p.log.Error("dependency failure", map[string]any{"error": err.Error()})
	c.JSON(status, gin.H{"error": err.Error()})
}

func (p *Paywall) labels(code string) map[string]string {
	return map[string]string{
		"network": p.cfg.Network.String(),
		"code":    code,
	}
}

func resourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.Path
}
