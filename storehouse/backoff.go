package storehouse

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	log "github.com/sirupsen/logrus"
)

// Backoff controls retrying of operations that fail with ErrTransient.
//
// Each transient failure sleeps for (debt + jitter) units, where debt starts
// at 1 and doubles after every sleep. Once debt reaches MaxDebt the next
// transient failure is returned to the caller.
type Backoff struct {
	// Unit is the duration of one unit of sleep debt. Defaults to one second.
	Unit time.Duration

	// MaxDebt is the debt at which retrying stops. Defaults to 64.
	MaxDebt int

	// Jitter returns a value in [0, 1) added to every sleep. Defaults to rand.Float64.
	Jitter func() float64
}

// DefaultBackoff returns the standard policy: 1s unit, 64 max debt, random jitter.
func DefaultBackoff() Backoff {
	return Backoff{Unit: time.Second, MaxDebt: 64, Jitter: rand.Float64}
}

func (b Backoff) withDefaults() Backoff {
	def := DefaultBackoff()
	if b.Unit <= 0 {
		b.Unit = def.Unit
	}
	if b.MaxDebt <= 0 {
		b.MaxDebt = def.MaxDebt
	}
	if b.Jitter == nil {
		b.Jitter = def.Jitter
	}
	return b
}

// OpenWithBackoff is Open, retried while the backend reports ErrTransient.
//
// Non-transient errors are returned immediately. Context cancellation while
// sleeping returns the context error.
func OpenWithBackoff(ctx context.Context, backend Backend, name string, b Backoff) (*Reader, error) {
	return retryTransient(ctx, b, name, func() (*Reader, error) {
		return Open(ctx, backend, name)
	})
}

// retryTransient runs op until it succeeds, fails with a non-transient error,
// or exhausts the backoff policy.
func retryTransient[T any](ctx context.Context, b Backoff, name string, op func() (T, error)) (T, error) {
	b = b.withDefaults()

	logger := log.WithFields(log.Fields{
		"package":  "storehouse",
		"function": "retryTransient",
	})

	debt := 1
	for {
		result, err := op()
		if err == nil || !errors.Is(err, ErrTransient) {
			return result, err
		}

		if debt >= b.MaxDebt {
			logger.Warnf("reached max backoff for %s", name)
			return result, fmt.Errorf("storehouse: %s: gave up after max backoff: %w", name, err)
		}

		delay := time.Duration((float64(debt) + b.Jitter()) * float64(b.Unit))
		debt *= 2

		logger.Warnf("transient failure for %s, sleeping for %s", name, delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			var zero T
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}
