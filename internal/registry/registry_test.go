package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncrementDecrement(t *testing.T) {
	r := New()
	assert.Equal(t, int64(0), r.Current())
	assert.Equal(t, int64(1), r.Increment())
	assert.Equal(t, int64(2), r.Increment())
	assert.Equal(t, int64(1), r.Decrement())
	assert.Equal(t, int64(0), r.Decrement())
}

func TestDecrementSaturatesAtZero(t *testing.T) {
	r := New()
	assert.Equal(t, int64(0), r.Decrement())
	assert.Equal(t, int64(0), r.Current())
}

func TestAcquireReleaseIsIdempotent(t *testing.T) {
	r := New()
	release := r.Acquire()
	require.Equal(t, int64(1), r.Current())
	release()
	release()
	assert.Equal(t, int64(0), r.Current())
}

func TestConcurrentBracketsReturnToZero(t *testing.T) {
	r := New()
	const workers = 64
	const rounds = 200

	var wg sync.WaitGroup
	var negative sync.Once
	sawNegative := false
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				release := r.Acquire()
				if r.Current() < 0 {
					negative.Do(func() { sawNegative = true })
				}
				release()
			}
		}()
	}
	wg.Wait()

	assert.False(t, sawNegative, "count went negative")
	assert.Equal(t, int64(0), r.Current())
}

func TestReleaseOnPanic(t *testing.T) {
	r := New()
	func() {
		defer func() { _ = recover() }()
		release := r.Acquire()
		defer release()
		panic("boom")
	}()
	assert.Equal(t, int64(0), r.Current())
}
