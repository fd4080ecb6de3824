package helper

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
)

// CallPolicy bounds a single external call: each attempt gets Timeout, failed
// attempts are retried up to Retries times with exponential backoff.
type CallPolicy struct {
	Name      string
	Timeout   time.Duration
	Retries   int
	BaseDelay time.Duration
}

// Call runs fn under p. Context cancellation of the parent is never retried.
func Call(ctx context.Context, p CallPolicy, fn func(ctx context.Context) error) error {
	base := p.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	retries := p.Retries
	if retries < 0 {
		retries = 0
	}
	backoff := retry.WithMaxRetries(uint64(retries), retry.NewExponential(base))

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		callCtx := ctx
		cancel := func() {}
		if p.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return err
		}
		log.Warn().Err(err).Str("call", p.Name).Int("attempt", attempt).Msg("External call failed")
		return retry.RetryableError(err)
	})
}
