package main

import (
	"log/slog"

	"github.com/kstaniek/go-tactile-server/internal/hub"
)

var hubPolicies = map[string]hub.BackpressurePolicy{
	"drop": hub.PolicyDrop,
	"kick": hub.PolicyKick,
}

// initHub builds the frame fan-out hub from the client buffer, backpressure
// and priming settings.
func initHub(cfg *appConfig, l *slog.Logger) *hub.Hub {
	h := hub.New()
	h.OutBufSize = cfg.hubBuffer
	h.PrimeLatest = cfg.hubPrime
	policy, ok := hubPolicies[cfg.hubPolicy]
	if !ok {
		l.Warn("unknown_hub_policy", "policy", cfg.hubPolicy, "used", "drop")
		cfg.hubPolicy, policy = "drop", hub.PolicyDrop
	}
	h.Policy = policy
	l.Info("hub_config", "policy", cfg.hubPolicy, "buffer", h.OutBufSize, "prime_latest", h.PrimeLatest)
	return h
}
