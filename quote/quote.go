// Package quote builds x402 payment requirements for a protected
// resource. Building is pure and deterministic given its inputs; the
// only failure is a destination address that is not a valid Solana
// public key, which means the resource is unconfigured rather than
// unpaid.
package quote

import (
	"strconv"

	"github.com/gagliardetto/solana-go"

	"github.com/elizabaoxyz/elizabao-claw/oracle"
	"github.com/elizabaoxyz/elizabao-claw/types"
)

// MaxTimeoutSeconds is the fixed validity window of every quote.
const MaxTimeoutSeconds = 300

// Build assembles a quote for the exact scheme on the given network.
// pricing may be nil when the amount was fixed rather than derived.
func Build(lamports uint64, payTo string, network types.Network, resource, description string, pricing *oracle.Pricing) (*types.Quote, error) {
	if _, err := solana.PublicKeyFromBase58(payTo); err != nil {
		return nil, types.Errorf(types.ErrUnconfigured, "invalid payTo address %q: %v", payTo, err)
	}

	q := &types.Quote{
		Scheme:            string(types.SchemeExact),
		Network:           network.String(),
		MaxAmountRequired: strconv.FormatUint(lamports, 10),
		Resource:          resource,
		Description:       description,
		MimeType:          "application/json",
		PayTo:             payTo,
		MaxTimeoutSeconds: MaxTimeoutSeconds,
		Asset:             types.AssetSOL,
	}

	if pricing != nil {
		q.Extra = map[string]interface{}{
			"usdAmount":  pricing.USDAmount.String(),
			"solUsdRate": pricing.SolUSDRate.String(),
		}
	}

	return q, nil
}
