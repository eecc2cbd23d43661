// Package registry tracks how many transfers are currently in flight.
//
// The count is read by the chunk-size and pacing calculations to divide the
// nominal rate between sibling transfers. Reads are snapshots: two transfers
// starting at the same time may both observe a stale value. The count is an
// approximate fairness signal, not a rate limiter; use pacing.TokenBucket
// when exact rate guarantees are required.
package registry

import (
	"sync"
	"sync/atomic"
)

// Default is the process-wide registry shared by every engine that is not
// given its own.
var Default = New()

// Registry is an atomic, never-negative counter of in-flight transfers.
type Registry struct {
	active atomic.Int64
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Increment records one more in-flight transfer and returns the new count.
func (r *Registry) Increment() int64 {
	return r.active.Add(1)
}

// Decrement records one finished transfer and returns the new count.
// The count saturates at zero.
func (r *Registry) Decrement() int64 {
	for {
		cur := r.active.Load()
		if cur <= 0 {
			return 0
		}
		if r.active.CompareAndSwap(cur, cur-1) {
			return cur - 1
		}
	}
}

// Current returns a snapshot of the in-flight count.
func (r *Registry) Current() int64 {
	return r.active.Load()
}

// Acquire increments the count and returns a release func that decrements it
// exactly once, however many times it is called. Callers defer the release so
// the count cannot leak on early returns or panics.
func (r *Registry) Acquire() (release func()) {
	r.Increment()
	var once sync.Once
	return func() {
		once.Do(func() { r.Decrement() })
	}
}
