// Package retry runs operations against flaky dependencies with exponential
// backoff and no attempt limit. Only context cancellation or a permanent
// error ends the loop.
package retry

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes the backoff schedule.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64

	// MaxElapsed stops retrying after this long. Zero retries forever.
	MaxElapsed time.Duration

	Logger *log.Logger

	// OnRetry is called before every wait with the target name passed to Do.
	OnRetry func(target string, err error, wait time.Duration)
}

// DefaultPolicy backs off from 100ms up to 10s, forever.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2,
		Logger:          log.New(os.Stderr, "[retry] ", log.LstdFlags),
	}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

// Do calls op until it succeeds, returns a Permanent error, or ctx is done.
// The returned error is the unwrapped permanent error or ctx.Err().
func (p Policy) Do(ctx context.Context, target string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.MaxElapsedTime = p.MaxElapsed

	attempt := 0
	notify := func(err error, wait time.Duration) {
		attempt++
		if p.Logger != nil {
			p.Logger.Printf("%s: attempt %d failed, retrying in %s: %v", target, attempt, wait.Round(time.Millisecond), err)
		}
		if p.OnRetry != nil {
			p.OnRetry(target, err, wait)
		}
	}

	wrapped := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		return op()
	}

	return backoff.RetryNotify(wrapped, backoff.WithContext(b, ctx), notify)
}
