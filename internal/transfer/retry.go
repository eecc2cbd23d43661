package transfer

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryChunk runs fn up to MaxRetries times with a constant RetryDelay
// between attempts. The policy applies to a single chunk operation; the
// caller aborts the whole transfer when it returns an error.
func (e *Engine) retryChunk(ctx context.Context, dir Direction, path string, fn func() error) error {
	attempt := 0
	op := func() error {
		attempt++
		return fn()
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(e.cfg.RetryDelay), uint64(e.cfg.MaxRetries-1)),
		ctx,
	)
	return backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		e.observer.ChunkRetried(dir)
		e.logger.Warn("chunk operation failed, retrying",
			"direction", dir,
			"path", path,
			"attempt", attempt,
			"max_attempts", e.cfg.MaxRetries,
			"retry_in", wait,
			"error", err,
		)
	})
}
