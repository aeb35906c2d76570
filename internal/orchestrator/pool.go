package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Pool is a bounded worker pool for reconciliation work.
// Core workers drain a bounded queue; when the queue is full, up to
// (max - core) extra one-shot workers are started, and beyond that new
// work runs synchronously on the caller's goroutine. Backpressure is
// deliberate: added latency is preferred over dropped work.
type Pool struct {
	tasks   chan func()
	core    int
	max     int
	logger  *slog.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	active  atomic.Int64 // workers currently alive (core + extras)
	inline  atomic.Int64 // tasks that ran on the caller's goroutine
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolSize sets the core and maximum worker counts.
func WithPoolSize(core, max int) PoolOption {
	return func(p *Pool) {
		if core > 0 {
			p.core = core
		}
		if max >= core {
			p.max = max
		}
	}
}

// WithQueueDepth sets the bounded queue length.
func WithQueueDepth(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.tasks = make(chan func(), n)
		}
	}
}

// NewPool creates a worker pool. Defaults: core 2, max 5, queue 16.
func NewPool(logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		tasks:  make(chan func(), 16),
		core:   2,
		max:    5,
		logger: logger,
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the core worker goroutines. It returns immediately.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.Int("core", p.core),
		slog.Int("max", p.max),
		slog.Int("queue", cap(p.tasks)),
	)

	for range p.core {
		p.active.Add(1)
		p.wg.Add(1)
		go p.coreLoop()
	}
}

// Submit hands a task to the pool. Never blocks the caller waiting for a
// slot: when the queue is full and the pool is at max size, the task runs
// inline before Submit returns.
func (p *Pool) Submit(task func()) {
	select {
	case p.tasks <- task:
		return
	default:
	}

	// Queue full: grow toward max with a one-shot worker.
	for {
		n := p.active.Load()
		if n >= int64(p.max) {
			break
		}
		if p.active.CompareAndSwap(n, n+1) {
			p.wg.Add(1)
			go p.oneShot(task)
			return
		}
	}

	// Saturated: run on the caller's goroutine.
	p.inline.Add(1)
	p.logger.Debug("worker pool saturated, running task inline")
	task()
}

// Stop signals workers to stop and waits for in-flight tasks, or until the
// context deadline passes.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out")
		return ctx.Err()
	}
}

// Done returns a channel closed when the pool is stopping. Long polling
// loops select on it to exit early during shutdown.
func (p *Pool) Done() <-chan struct{} {
	return p.stopCh
}

// InlineRuns reports how many tasks ran on the caller's goroutine.
func (p *Pool) InlineRuns() int64 {
	return p.inline.Load()
}

func (p *Pool) coreLoop() {
	defer p.wg.Done()
	defer p.active.Add(-1)

	for {
		select {
		case <-p.stopCh:
			return
		case task := <-p.tasks:
			task()
		}
	}
}

// oneShot runs the overflow task, then drains the queue until empty.
func (p *Pool) oneShot(task func()) {
	defer p.wg.Done()
	defer p.active.Add(-1)

	task()
	for {
		select {
		case <-p.stopCh:
			return
		case t := <-p.tasks:
			t()
		default:
			return
		}
	}
}
