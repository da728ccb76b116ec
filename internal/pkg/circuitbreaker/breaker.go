// Package circuitbreaker builds gobreaker instances that guard calls to
// notification providers.
package circuitbreaker

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// Config tunes when a breaker opens and how long it stays open.
type Config struct {
	MaxRequests  uint32        // probes allowed while half-open
	Interval     time.Duration // window after which closed-state counts reset
	Timeout      time.Duration // time spent open before going half-open
	MinRequests  uint32
	FailureRatio float64
}

// DefaultConfig returns the settings used for provider calls.
func DefaultConfig() Config {
	return Config{
		MaxRequests:  3,
		Interval:     time.Minute,
		Timeout:      60 * time.Second,
		MinRequests:  3,
		FailureRatio: 0.6,
	}
}

// New returns a breaker that trips once at least MinRequests calls were seen
// and the failure ratio reaches FailureRatio.
func New(name string, cfg Config) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests || counts.Requests == 0 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}
