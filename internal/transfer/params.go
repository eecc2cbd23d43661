package transfer

import (
	"time"

	"github.com/sheerbytes/paceline/internal/chunkio"
	"github.com/sheerbytes/paceline/internal/pacing"
)

const (
	// DefaultBaseRate is the nominal rate, in bytes per second, shared by all
	// in-flight transfers. It is also the chunk size of a lone transfer.
	DefaultBaseRate = 20
	// DefaultMaxRetries is the number of attempts per chunk operation.
	DefaultMaxRetries = 3
	// DefaultRetryDelay is the pause between attempts.
	DefaultRetryDelay = 1000 * time.Millisecond
)

// Config holds engine settings. Zero fields take defaults.
type Config struct {
	BaseRate   int
	MaxRetries int
	RetryDelay time.Duration
	ChunkMode  chunkio.Mode
	// Pacing builds the per-transfer rate limiter. Nil paces with
	// pacing.WholeSecond at BaseRate.
	Pacing pacing.Factory
}

// DefaultConfig returns the stock engine settings.
func DefaultConfig() Config {
	return NormalizeConfig(Config{})
}

// NormalizeConfig applies defaults and clamps settings.
func NormalizeConfig(c Config) Config {
	out := c
	if out.BaseRate < 1 {
		out.BaseRate = DefaultBaseRate
	}
	if out.MaxRetries < 1 {
		out.MaxRetries = DefaultMaxRetries
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = DefaultRetryDelay
	}
	if out.Pacing == nil {
		rate := out.BaseRate
		out.Pacing = func() pacing.RateLimiter { return pacing.NewWholeSecond(rate) }
	}
	return out
}

// ChunkSize divides baseRate between active transfers. The result is never
// below one, however many transfers are active.
func ChunkSize(baseRate int, active int64) int {
	if active < 1 {
		active = 1
	}
	size := int64(baseRate) / active
	if size < 1 {
		return 1
	}
	return int(size)
}
