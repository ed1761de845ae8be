package client

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Breaker settings: opens once at least minRequests were seen in the window
// and failureRatio of them failed.
const (
	breakerInterval     = time.Minute
	breakerTimeout      = 30 * time.Second
	breakerHalfOpenReqs = 3
	breakerMinRequests  = 10
	breakerFailureRatio = 0.6
)

func newBreaker(name string, logger *slog.Logger) *gobreaker.CircuitBreaker[[]byte] {
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: breakerHalfOpenReqs,
		Interval:    breakerInterval,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breakerMinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= breakerFailureRatio {
				logger.Warn("opening circuit",
					"breaker", name,
					"failures", counts.TotalFailures,
					"failure_rate", ratio)
				return true
			}
			return false
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation is not an upstream failure either.
			return err == nil || isClientError(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// breakerErr maps gobreaker rejections onto ErrCircuitOpen.
func breakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Join(ErrCircuitOpen, err)
	}
	return err
}
