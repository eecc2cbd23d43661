// Package workerpool runs tasks on a fixed set of goroutines fed from an
// unbounded FIFO queue.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// ErrPoolClosed is returned by Enqueue once Shutdown has begun.
var ErrPoolClosed = errors.New("workerpool: pool is shut down")

// Task is a unit of work executed by exactly one worker.
type Task interface {
	Run(ctx context.Context)
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context)

// Run calls f(ctx).
func (f TaskFunc) Run(ctx context.Context) { f(ctx) }

// Pool is a fixed-size worker pool. Tasks start in FIFO order; each task runs
// on one worker at a time.
type Pool struct {
	mu    sync.Mutex
	cond  *sync.Cond
	queue []Task
	stop  bool
	busy  int

	size   int
	ctx    context.Context
	logger *slog.Logger
	wg     sync.WaitGroup
	once   sync.Once
}

// Option configures a Pool.
type Option func(*Pool)

// WithContext sets the context passed to every task (default
// context.Background). Cancelling it does not stop the pool.
func WithContext(ctx context.Context) Option {
	return func(p *Pool) { p.ctx = ctx }
}

// New starts a pool with size workers. A size below one starts one worker.
func New(size int, logger *slog.Logger, opts ...Option) *Pool {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		size:   size,
		ctx:    context.Background(),
		logger: logger,
	}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker(i)
	}
	logger.Debug("worker pool started", "workers", size)
	return p
}

// Enqueue appends t to the queue and wakes one idle worker. It never blocks
// on queue capacity.
func (p *Pool) Enqueue(t Task) error {
	if t == nil {
		return errors.New("workerpool: nil task")
	}
	p.mu.Lock()
	if p.stop {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.queue = append(p.queue, t)
	p.mu.Unlock()
	p.cond.Signal()
	return nil
}

// Shutdown stops accepting tasks, lets the workers finish everything already
// queued and returns once all of them have exited. Calling it again waits for
// the same shutdown.
func (p *Pool) Shutdown() {
	p.once.Do(func() {
		p.mu.Lock()
		p.stop = true
		pending := len(p.queue)
		p.mu.Unlock()
		p.cond.Broadcast()
		p.logger.Debug("worker pool shutting down", "pending", pending)
	})
	p.wg.Wait()
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// QueueLen returns the number of tasks waiting for a worker.
func (p *Pool) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Busy returns the number of workers currently running a task.
func (p *Pool) Busy() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.stop {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			// stop is set and nothing is left to drain
			p.mu.Unlock()
			p.logger.Debug("worker stopped", "worker", id)
			return
		}
		t := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.busy++
		p.mu.Unlock()

		p.run(id, t)

		p.mu.Lock()
		p.busy--
		p.mu.Unlock()
	}
}

func (p *Pool) run(id int, t Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked",
				"worker", id,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	t.Run(p.ctx)
}
