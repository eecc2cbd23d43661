// Package pacing throttles a transfer toward a nominal byte rate.
package pacing

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is consulted after every chunk. Wait records n more bytes moved
// and blocks until the transfer is back on schedule or ctx is done.
type RateLimiter interface {
	Wait(ctx context.Context, n int) error
}

// Factory creates the limiter for one transfer. Limiters are stateful (start
// time, byte totals) and must not be shared between transfers.
type Factory func() RateLimiter

// Names accepted by ParseFactory.
const (
	NameWholeSecond = "whole-second"
	NameTokenBucket = "token-bucket"
	NameNone        = "none"
)

// ParseFactory maps a config name to a Factory pacing at ratePerSec bytes per
// second.
func ParseFactory(name string, ratePerSec int) (Factory, error) {
	if ratePerSec < 1 && name != NameNone {
		return nil, fmt.Errorf("pacing: rate must be positive, got %d", ratePerSec)
	}
	switch name {
	case "", NameWholeSecond:
		return func() RateLimiter { return NewWholeSecond(ratePerSec) }, nil
	case NameTokenBucket:
		return func() RateLimiter { return NewTokenBucket(ratePerSec, ratePerSec) }, nil
	case NameNone:
		return func() RateLimiter { return Unlimited{} }, nil
	default:
		return nil, fmt.Errorf("pacing: unknown limiter %q", name)
	}
}

// Unlimited never waits.
type Unlimited struct{}

// Wait implements RateLimiter.
func (Unlimited) Wait(ctx context.Context, _ int) error {
	return ctx.Err()
}

// WholeSecond compares wall time since the transfer started with the time the
// bytes moved so far should have taken at the nominal rate, truncated to whole
// seconds, and sleeps off any lead.
type WholeSecond struct {
	rate  int64
	start time.Time
	total int64
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewWholeSecond returns a limiter whose clock starts now.
func NewWholeSecond(ratePerSec int) *WholeSecond {
	return NewWholeSecondWithClock(ratePerSec, time.Now, Sleep)
}

// NewWholeSecondWithClock returns a limiter with a custom time source and
// sleeper (for tests).
func NewWholeSecondWithClock(ratePerSec int, now func() time.Time, sleep func(context.Context, time.Duration) error) *WholeSecond {
	if ratePerSec < 1 {
		ratePerSec = 1
	}
	if now == nil {
		now = time.Now
	}
	if sleep == nil {
		sleep = Sleep
	}
	return &WholeSecond{
		rate:  int64(ratePerSec),
		start: now(),
		now:   now,
		sleep: sleep,
	}
}

// Wait implements RateLimiter.
func (w *WholeSecond) Wait(ctx context.Context, n int) error {
	if n > 0 {
		w.total += int64(n)
	}
	if d := w.Delay(); d > 0 {
		return w.sleep(ctx, d)
	}
	return ctx.Err()
}

// Delay reports how long the transfer is ahead of schedule.
func (w *WholeSecond) Delay() time.Duration {
	expected := time.Duration(w.total/w.rate) * time.Second
	elapsed := w.now().Sub(w.start)
	if elapsed >= expected {
		return 0
	}
	return expected - elapsed
}

// Total returns the bytes recorded so far.
func (w *WholeSecond) Total() int64 {
	return w.total
}

// TokenBucket paces with a token bucket refilled at ratePerSec bytes per
// second. Unlike WholeSecond it smooths within the second.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket returns a token bucket limiter. burst caps how many bytes may
// pass at once and is raised to at least one.
func NewTokenBucket(ratePerSec, burst int) *TokenBucket {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Wait implements RateLimiter. Requests larger than the burst are split.
func (t *TokenBucket) Wait(ctx context.Context, n int) error {
	burst := t.limiter.Burst()
	for n > 0 {
		step := n
		if step > burst {
			step = burst
		}
		if err := t.limiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
