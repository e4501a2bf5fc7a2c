// Package ledger is the boundary to the Solana RPC node. It exposes
// just the two operations the gate needs — submit a caller-signed
// blob, look up a transaction at confirmed commitment — and normalizes
// transport results so no raw RPC error escapes into the settlement
// engine.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ConfirmedTransaction is a confirmed, decoded transaction together
// with its execution status.
type ConfirmedTransaction struct {
	// Tx is the decoded transaction.
	Tx *solana.Transaction

	// ExecErr is non-nil when the ledger reports the transaction
	// executed with an error.
	ExecErr interface{}

	// Slot the transaction landed in.
	Slot uint64
}

// Client is the gate's view of the ledger. Lookup returns (nil, nil)
// when the transaction is not yet visible at confirmed commitment;
// an error means the node itself could not be queried.
type Client interface {
	// SubmitBase64 submits a base64-encoded signed transaction and
	// returns its signature.
	SubmitBase64(ctx context.Context, txBase64 string) (solana.Signature, error)

	// Lookup fetches a transaction by signature at confirmed
	// commitment.
	Lookup(ctx context.Context, sig solana.Signature) (*ConfirmedTransaction, error)
}

// RPCClient implements Client on top of a solana-go JSON-RPC client.
type RPCClient struct {
	rpc *rpc.Client
}

var _ Client = (*RPCClient)(nil)

// NewRPCClient connects to the given Solana JSON-RPC endpoint.
func NewRPCClient(rpcURL string) *RPCClient {
	return &RPCClient{rpc: rpc.New(rpcURL)}
}

func (c *RPCClient) SubmitBase64(ctx context.Context, txBase64 string) (solana.Signature, error) {
	sig, err := c.rpc.SendEncodedTransaction(ctx, txBase64)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	return sig, nil
}

func (c *RPCClient) Lookup(ctx context.Context, sig solana.Signature) (*ConfirmedTransaction, error) {
	maxVersion := uint64(0)
	out, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	if out == nil || out.Transaction == nil {
		return nil, nil
	}

	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}

	ct := &ConfirmedTransaction{
		Tx:   tx,
		Slot: out.Slot,
	}
	if out.Meta != nil {
		ct.ExecErr = out.Meta.Err
	}
	return ct, nil
}
