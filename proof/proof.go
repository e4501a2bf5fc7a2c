// Package proof extracts a payment proof from inbound request headers
// and normalizes it into the single tagged representation the
// settlement engine consumes.
//
// Two encodings are recognized, in fixed priority order: the
// structured X-PAYMENT header (base64 JSON wrapping a signed
// transaction blob) and the plain X-Payment-Tx header (a transaction
// signature used verbatim). A malformed primary header is an error,
// never a silent fallback to the secondary one.
package proof

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/elizabaoxyz/elizabao-claw/types"
)

// Header names checked by Extract, in priority order.
const (
	HeaderPayment   = "X-PAYMENT"
	HeaderPaymentTx = "X-Payment-Tx"
)

var validate = validator.New()

// Extract parses h for a payment proof. It returns (nil, nil) when no
// proof header is present, which callers treat as "proof missing".
// A structured proof that names a scheme or network must name the
// ones this gate quotes; proofs signed for another chain settle
// nothing here and are rejected outright.
func Extract(h http.Header, network types.Network) (*types.PaymentProof, error) {
	if encoded := h.Get(HeaderPayment); encoded != "" {
		payload, err := decodePayload(encoded, network)
		if err != nil {
			return nil, err
		}
		return types.NewBlobProof(payload.Payload.Transaction), nil
	}

	if ref := h.Get(HeaderPaymentTx); ref != "" {
		return types.NewReferenceProof(ref), nil
	}

	return nil, nil
}

// decodePayload unwraps base64 → JSON → schema-validated payload.
func decodePayload(encoded string, network types.Network) (*types.PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, types.Errorf(types.ErrMalformedProof, "payment header is not valid base64: %v", err)
	}

	var payload types.PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, types.Errorf(types.ErrMalformedProof, "payment header is not valid JSON: %v", err)
	}

	if err := validate.Struct(&payload); err != nil {
		return nil, types.Errorf(types.ErrMalformedProof, "payment payload failed validation: %v", err)
	}

	if payload.Network != "" && payload.Network != network.String() {
		return nil, types.Errorf(types.ErrMalformedProof, "payment network %q does not match gate network %q", payload.Network, network)
	}

	return &payload, nil
}
