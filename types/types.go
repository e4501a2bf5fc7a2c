// Package types defines the wire and domain types for the claw payment
// gate: x402 v1 quotes, payment proofs, settlement results and the
// error taxonomy shared by every component.
package types

import (
	"fmt"
)

// X402Version represents the version of the x402 protocol.
type X402Version int

const (
	X402Version1 X402Version = 1
)

// PaymentScheme represents different payment schemes.
type PaymentScheme string

const (
	SchemeExact PaymentScheme = "exact"
)

// AssetSOL is the native-asset tag used in quotes. This gate settles
// exclusively in native SOL, denominated in lamports.
const AssetSOL = "SOL"

// Quote is a payment requirement issued with a 402 response. It is
// constructed fresh per denied request and immutable once returned.
type Quote struct {
	// Scheme of the payment protocol to use. Always "exact" here.
	Scheme string `json:"scheme"`

	// Network of the ledger to send payment on (e.g. "solana-mainnet").
	Network string `json:"network"`

	// Amount required to pay for the resource, in lamports.
	// Represented as a string per the x402 wire format.
	MaxAmountRequired string `json:"maxAmountRequired"`

	// URL of the resource to pay for.
	Resource string `json:"resource"`

	// Description of the resource being purchased.
	Description string `json:"description"`

	// MIME type of the resource response.
	MimeType string `json:"mimeType"`

	// Address to which the payment must be sent.
	PayTo string `json:"payTo"`

	// Validity window of the quote in seconds.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// Asset tag. Always "SOL" for this gate.
	Asset string `json:"asset"`

	// Extra carries pricing metadata (usdAmount, solUsdRate) so callers
	// can audit how maxAmountRequired was derived.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequired is the 402 response body: the protocol version, a
// message describing why access was denied, and the quotes the server
// accepts.
type PaymentRequired struct {
	X402Version int     `json:"x402Version"`
	Error       string  `json:"error"`
	Accepts     []Quote `json:"accepts"`
}

// PaymentPayload is the decoded X-PAYMENT header: a structured proof
// wrapping a signed transaction blob.
type PaymentPayload struct {
	X402Version int                 `json:"x402Version" validate:"required,eq=1"`
	Scheme      string              `json:"scheme" validate:"omitempty,eq=exact"`
	Network     string              `json:"network"`
	Payload     PaymentPayloadInner `json:"payload" validate:"required"`
}

// PaymentPayloadInner carries the base64-encoded signed transaction.
type PaymentPayloadInner struct {
	Transaction string `json:"transaction" validate:"required,base64"`
}

// ProofKind discriminates the two accepted proof encodings.
type ProofKind int

const (
	// ProofSignedBlob is a raw signed transaction, base64-encoded, not
	// yet known to be submitted.
	ProofSignedBlob ProofKind = iota

	// ProofReference is a transaction signature the caller asserts is
	// already on the ledger.
	ProofReference
)

// PaymentProof is a tagged variant: exactly one representation is
// active per request. The two encodings are mutually exclusive inputs,
// never merged.
type PaymentProof struct {
	Kind ProofKind

	// SignedTxBase64 is set when Kind == ProofSignedBlob.
	SignedTxBase64 string

	// Reference is set when Kind == ProofReference.
	Reference string
}

// NewBlobProof wraps a base64 signed-transaction blob.
func NewBlobProof(txBase64 string) *PaymentProof {
	return &PaymentProof{Kind: ProofSignedBlob, SignedTxBase64: txBase64}
}

// NewReferenceProof wraps a plain transaction signature.
func NewReferenceProof(signature string) *PaymentProof {
	return &PaymentProof{Kind: ProofReference, Reference: signature}
}

// SettlementResult is the outcome of settling and verifying a proof
// against the ledger. PaidAmount is computed strictly from on-ledger
// transfer instructions targeting the configured destination, never
// from caller-supplied fields.
type SettlementResult struct {
	Verified bool `json:"verified"`

	// Transaction is the ledger signature, set whenever one was
	// resolved (including on rejection of a landed transaction).
	Transaction string `json:"transaction,omitempty"`

	// Payer is the first signer of the verified transaction.
	Payer string `json:"payer,omitempty"`

	// PaidAmount is the lamport sum of qualifying transfers.
	PaidAmount uint64 `json:"paidAmount,omitempty"`

	// Code is a stable failure code from the error taxonomy when
	// Verified is false.
	Code string `json:"code,omitempty"`

	// Reason is a human-readable failure description.
	Reason string `json:"reason,omitempty"`
}

// Receipt is the audit view of a settlement included in unlocked
// responses.
type Receipt struct {
	Network     string `json:"network"`
	Transaction string `json:"transaction"`
	PaidAmount  uint64 `json:"paidAmount"`
	Payer       string `json:"payer,omitempty"`
}

// ClawError is a typed protocol error carrying a stable code.
type ClawError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *ClawError) Error() string {
	return e.Message
}

// Errorf builds a ClawError with a formatted message.
func Errorf(code string, format string, args ...interface{}) *ClawError {
	return &ClawError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Failure codes. Every ledger- and oracle-facing error is converted to
// one of these before reaching the access-decision layer.
const (
	// ErrOracleUnavailable: price feed unreachable or returned an
	// unusable rate. Surfaced as 502, not 402.
	ErrOracleUnavailable = "oracle_unavailable"

	// ErrUnconfigured: the destination address is missing or invalid.
	// A server configuration fault, surfaced as 500.
	ErrUnconfigured = "unconfigured"

	// ErrMalformedProof: a proof header was present but unparseable.
	ErrMalformedProof = "malformed_proof"

	// ErrTxNotFoundYet: the referenced transaction is not yet visible
	// at confirmed commitment. Retriable with the same reference.
	ErrTxNotFoundYet = "tx_not_found_yet"

	// ErrTxFailed: the ledger reports an execution error for the
	// transaction. Not retriable with the same reference.
	ErrTxFailed = "tx_failed"

	// ErrSubmissionFailed: the signed blob could not be submitted and
	// no signature could be recovered from it.
	ErrSubmissionFailed = "submission_failed"

	// ErrInsufficientPayment: the transaction landed but its qualifying
	// transfers sum below the required amount. Permanent for that
	// transaction.
	ErrInsufficientPayment = "insufficient_payment"
)

// ReasonTxNotFoundYet is the caller-facing retry hint for a
// not-yet-confirmed transaction.
const ReasonTxNotFoundYet = "transaction not found/confirmed yet"
