// clawd runs the payment-gated resource server.
package main

import (
	"context"
	"os"
	"time"

	claw "github.com/elizabaoxyz/elizabao-claw"
	"github.com/elizabaoxyz/elizabao-claw/config"
	"github.com/elizabaoxyz/elizabao-claw/logger"
	"github.com/elizabaoxyz/elizabao-claw/metrics"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		// No logger yet at this point.
		os.Stderr.WriteString("clawd: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.NewZapLogger(cfg.LogLevel)
	err = run(cfg, log)
	log.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.ZapLogger) error {
	var rec metrics.Recorder = metrics.NoopRecorder{}
	if cfg.EnableMetrics {
		rec = metrics.NewPrometheusRecorder()
	}

	gate, err := claw.New(cfg, claw.WithLogger(log), claw.WithMetrics(rec))
	if err != nil {
		log.Error("failed to build payment gate", map[string]any{"error": err.Error()})
		return err
	}

	log.Info("starting clawd", map[string]any{
		"addr":    cfg.ListenAddr,
		"network": cfg.Network.String(),
		"payTo":   cfg.PayTo,
		"bypass":  cfg.Bypass,
	})

	router := gate.Router(reportPayload)
	if err := router.Run(cfg.ListenAddr); err != nil {
		log.Error("server stopped", map[string]any{"error": err.Error()})
		return err
	}
	return nil
}

// reportPayload is the protected-payload provider. The content behind
// the paywall is produced elsewhere; the gate only cares that it is
// handed a value once access is granted.
func reportPayload(ctx context.Context) (map[string]any, error) {
	return map[string]any{
		"report": map[string]any{
			"generatedAt": time.Now().UTC().Format(time.RFC3339),
			"kind":        "market-report",
		},
	}, nil
}
