package conn

import (
	"context"
	"fmt"
	"time"
)

// Dial connects to addr, making at most maxRetries attempts with retryDelay
// between failures. Exhaustion returns an error wrapping ErrUnavailable; the
// caller keeps running and treats the capability as permanently absent.
func Dial(ctx context.Context, addr string, maxRetries int, retryDelay time.Duration, opts ...Option) (*Conn, error) {
	o := buildOptions(opts)
	if maxRetries < 1 {
		maxRetries = 1
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		nc, err := o.dial(ctx, addr)
		if err == nil {
			c := newConn(RoleClient, nc, o)
			c.log.Info().Int("attempt", attempt).Msg("Connected")
			return c, nil
		}

		o.log.Warn().
			Err(err).
			Str("addr", addr).
			Int("attempt", attempt).
			Int("max_retries", maxRetries).
			Msg("Connect failed")

		if attempt == maxRetries {
			break
		}

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	o.log.Error().Str("addr", addr).Int("max_retries", maxRetries).Msg("Giving up")
	return nil, fmt.Errorf("%w: %s after %d attempts", ErrUnavailable, addr, maxRetries)
}
