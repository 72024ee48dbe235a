package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ReconnectConfig holds configuration for connection establishment with backoff
type ReconnectConfig struct {
	MaxAttempts int           // Maximum number of connection attempts
	Backoff     time.Duration // Backoff duration between attempts
	Multiplier  float64       // Backoff multiplier for exponential backoff
	MaxBackoff  time.Duration // Maximum backoff duration
}

// DefaultReconnectConfig returns a default reconnection configuration
func DefaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		MaxAttempts: 5,
		Backoff:     1 * time.Second,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}
}

// Connect calls dial until it returns a value, attempts run out or ctx ends.
// Used at startup for collaborators (Postgres, Redis) that may come up after us.
func Connect[T any](ctx context.Context, name string, dial func(ctx context.Context) (T, error), config *ReconnectConfig, logger zerolog.Logger) (T, error) {
	if config == nil {
		config = DefaultReconnectConfig()
	}

	var zero T
	backoff := config.Backoff
	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := dial(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info().Str("dependency", name).Int("attempt", attempt).Msg("Connected after retry")
			}
			return v, nil
		}
		lastErr = err

		if attempt == config.MaxAttempts {
			break
		}
		logger.Warn().Err(err).
			Str("dependency", name).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Connection attempt failed")

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * config.Multiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	return zero, fmt.Errorf("%s: failed to connect after %d attempts: %w", name, config.MaxAttempts, lastErr)
}
