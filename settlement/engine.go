// Package settlement resolves a payment proof against the ledger and
// decides whether a qualifying transfer of sufficient value reached
// the configured destination.
//
// The decision is idempotent: re-verifying an already-confirmed
// reference yields the same result, because the paid amount is always
// recomputed from the single landed transaction.
package settlement

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"github.com/elizabaoxyz/elizabao-claw/ledger"
	"github.com/elizabaoxyz/elizabao-claw/logger"
	"github.com/elizabaoxyz/elizabao-claw/metrics"
	"github.com/elizabaoxyz/elizabao-claw/types"
)

// Engine settles and verifies payment proofs for one network.
type Engine struct {
	ledger  ledger.Client
	network types.Network
	polls   int
	backoff time.Duration
	log     logger.Logger
	metrics metrics.Recorder
}

// NewEngine builds an Engine. polls is clamped to at least 1; backoff
// defaults to 2s.
func NewEngine(lc ledger.Client, network types.Network, polls int, backoff time.Duration, log logger.Logger, rec metrics.Recorder) *Engine {
	if polls < 1 {
		polls = 1
	}
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Engine{
		ledger:  lc,
		network: network,
		polls:   polls,
		backoff: backoff,
		log:     log,
		metrics: rec,
	}
}

// Verify resolves the proof to a confirmed transaction, sums the
// lamports of every system-program transfer targeting payTo, and
// compares the sum against requiredLamports. All amounts are integer
// lamports; no floating point is involved in the comparison.
func (e *Engine) Verify(
	ctx context.Context,
	proof *types.PaymentProof,
	requiredLamports uint64,
	payTo solana.PublicKey,
) (*types.SettlementResult, error) {
	start := time.Now()
	defer func() {
		e.metrics.ObserveLatency(metrics.OpVerify, time.Since(start), map[string]string{"network": e.network.String()})
	}()

	sig, res := e.resolveSignature(ctx, proof)
	if res != nil {
		return res, nil
	}

	ct, res := e.fetchConfirmed(ctx, sig)
	if res != nil {
		return res, nil
	}

	paid := sumTransfersTo(ct.Tx, payTo)

	if paid < requiredLamports {
		e.log.Warn("payment below required amount", map[string]any{
			"signature": sig.String(),
			"paid":      paid,
			"required":  requiredLamports,
		})
		return &types.SettlementResult{
			Verified:    false,
			Transaction: sig.String(),
			PaidAmount:  paid,
			Code:        types.ErrInsufficientPayment,
			Reason:      fmt.Sprintf("insufficient payment: paid=%d require=%d", paid, requiredLamports),
		}, nil
	}

	result := &types.SettlementResult{
		Verified:    true,
		Transaction: sig.String(),
		PaidAmount:  paid,
	}
	if len(ct.Tx.Message.AccountKeys) > 0 {
		result.Payer = ct.Tx.Message.AccountKeys[0].String()
	}

	e.log.Info("payment verified", map[string]any{
		"signature": result.Transaction,
		"paid":      paid,
		"payer":     result.Payer,
	})

	return result, nil
}

// resolveSignature turns either proof variant into a ledger signature.
// For the blob form this is where submission happens; a submission
// failure is recovered by deserializing the blob and reading its
// primary signature, because resubmitting an already-landed
// transaction is a normal race, not a fault.
func (e *Engine) resolveSignature(ctx context.Context, proof *types.PaymentProof) (solana.Signature, *types.SettlementResult) {
	switch proof.Kind {
	case types.ProofReference:
		sig, err := solana.SignatureFromBase58(proof.Reference)
		if err != nil {
			return solana.Signature{}, &types.SettlementResult{
				Verified: false,
				Code:     types.ErrMalformedProof,
				Reason:   "transaction reference is not a valid signature: " + err.Error(),
			}
		}
		return sig, nil

	case types.ProofSignedBlob:
		sig, err := e.ledger.SubmitBase64(ctx, proof.SignedTxBase64)
		if err == nil {
			e.log.Debug("transaction submitted", map[string]any{"signature": sig.String()})
			return sig, nil
		}

		e.log.Warn("submission failed, recovering signature from blob", map[string]any{"error": err.Error()})
		recovered, recErr := signatureFromBlob(proof.SignedTxBase64)
		if recErr != nil {
			return solana.Signature{}, &types.SettlementResult{
				Verified: false,
				Code:     types.ErrSubmissionFailed,
				Reason:   "transaction could not be submitted and no signature could be recovered: " + err.Error(),
			}
		}
		return recovered, nil

	default:
		return solana.Signature{}, &types.SettlementResult{
			Verified: false,
			Code:     types.ErrMalformedProof,
			Reason:   "unknown proof kind",
		}
	}
}

// fetchConfirmed polls the ledger until the transaction is visible at
// confirmed commitment or the poll budget is spent. The budget is
// deliberately small: not-found is a retriable outcome the caller can
// act on, not a condition to wait out server-side.
func (e *Engine) fetchConfirmed(ctx context.Context, sig solana.Signature) (*ledger.ConfirmedTransaction, *types.SettlementResult) {
	for attempt := 0; attempt < e.polls; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, notFoundYet(sig)
			case <-time.After(e.backoff):
			}
		}

		ct, err := e.ledger.Lookup(ctx, sig)
		if err != nil {
			e.log.Warn("ledger lookup failed", map[string]any{"signature": sig.String(), "error": err.Error()})
			continue
		}
		if ct == nil {
			continue
		}

		if ct.ExecErr != nil {
			return nil, &types.SettlementResult{
				Verified:    false,
				Transaction: sig.String(),
				Code:        types.ErrTxFailed,
				Reason:      "transaction executed with an error on the ledger",
			}
		}
		return ct, nil
	}

	return nil, notFoundYet(sig)
}

func notFoundYet(sig solana.Signature) *types.SettlementResult {
	return &types.SettlementResult{
		Verified:    false,
		Transaction: sig.String(),
		Code:        types.ErrTxNotFoundYet,
		Reason:      types.ReasonTxNotFoundYet,
	}
}

// signatureFromBlob deserializes a base64 transaction blob and returns
// its primary signature.
func signatureFromBlob(txBase64 string) (solana.Signature, error) {
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return solana.Signature{}, err
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return solana.Signature{}, err
	}

	if len(tx.Signatures) == 0 {
		return solana.Signature{}, types.Errorf(types.ErrSubmissionFailed, "transaction blob carries no signatures")
	}
	return tx.Signatures[0], nil
}

// sumTransfersTo sums the lamports of every system-program transfer
// instruction whose destination equals payTo exactly. Instructions
// with other destinations or other programs do not count; a
// transaction with several qualifying transfers has them all summed.
func sumTransfersTo(tx *solana.Transaction, payTo solana.PublicKey) uint64 {
	var paid uint64

	for _, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= len(tx.Message.AccountKeys) {
			continue
		}
		prog := tx.Message.AccountKeys[inst.ProgramIDIndex]
		if !prog.Equals(solana.SystemProgramID) {
			continue
		}

		accountMetas := make([]*solana.AccountMeta, 0, len(inst.Accounts))
		ok := true
		for _, accIdx := range inst.Accounts {
			if int(accIdx) >= len(tx.Message.AccountKeys) {
				ok = false
				break
			}
			pub := tx.Message.AccountKeys[accIdx]
			writable, err := tx.Message.IsWritable(pub)
			if err != nil {
				ok = false
				break
			}
			accountMetas = append(accountMetas, &solana.AccountMeta{
				PublicKey:  pub,
				IsSigner:   tx.Message.IsSigner(pub),
				IsWritable: writable,
			})
		}
		if !ok || len(accountMetas) < 2 {
			continue
		}

		sysInst, err := system.DecodeInstruction(accountMetas, inst.Data)
		if err != nil {
			continue
		}

		transfer, isTransfer := sysInst.Impl.(*system.Transfer)
		if !isTransfer || transfer.Lamports == nil {
			continue
		}

		if accountMetas[1].PublicKey.Equals(payTo) {
			paid += *transfer.Lamports
		}
	}

	return paid
}
