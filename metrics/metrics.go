// Package metrics defines the instrumentation contract for the gate:
// event counters (quotes issued, verification outcomes by code) and
// operation latency.
package metrics

import "time"

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Event names recorded by the paywall and settlement engine.
const (
	EventQuoteIssued    = "quote_issued"
	EventPaymentGranted = "payment_granted"
	EventPaymentDenied  = "payment_denied"
	EventBypass         = "bypass"

	OpOracleFetch = "oracle_fetch"
	OpVerify      = "verify"
)
