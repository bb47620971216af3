package session

import (
	"math"
	"time"
)

// BackoffConfig defines the delay between reconnect attempts.
type BackoffConfig struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration // zero disables the cap
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		BaseDelay:  2 * time.Second,
		Multiplier: 1.5,
	}
}

// NextBackoffDelay returns the wait before reconnect attempt N (1-based):
// BaseDelay * Multiplier^(N-1), capped at MaxDelay.
func NextBackoffDelay(cfg BackoffConfig, attempt int) time.Duration {
	if cfg.BaseDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(math.Round(delay))
}
