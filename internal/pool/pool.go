// Package pool runs validation work on a fixed number of goroutines.
// Submissions beyond the pool size wait in a FIFO queue, so the size bounds
// how many validator processes exist at once.
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	// ErrClosed is returned for work submitted to, or still queued in, a
	// closed pool. In-flight work sees it as its context cause.
	ErrClosed = errors.New("pool: closed")
	// ErrInterrupted is returned when the waiter or the submitter gave up
	// before the work completed.
	ErrInterrupted = errors.New("pool: interrupted")
)

// PanicError carries a panic recovered in a worker.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("pool: task panicked: %v", e.Value)
}

type state uint8

const (
	stateOpen state = iota
	stateDraining
	stateClosed
)

type job struct {
	ctx   context.Context
	run   func(ctx context.Context)
	abort func(err error)
}

// Pool is a fixed-size worker pool with an unbounded queue.
type Pool struct {
	size int
	log  *zap.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc

	mu    sync.Mutex
	cond  *sync.Cond
	queue []job
	state state

	wg      sync.WaitGroup
	running atomic.Int64
}

// New starts size workers. A size below 1 is raised to 1.
func New(size int, log *zap.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	p := &Pool{
		size:   size,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(size)
	for range size {
		go p.worker()
	}
	p.log.Debug("pool started", zap.Int("size", size))
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// Pending returns the number of queued, not yet started tasks.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Running returns the number of tasks currently executing.
func (p *Pool) Running() int { return int(p.running.Load()) }

func (p *Pool) enqueue(j job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != stateOpen {
		return false
	}
	p.queue = append(p.queue, j)
	p.cond.Signal()
	return true
}

func (p *Pool) next() (job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 && p.state == stateOpen {
		p.cond.Wait()
	}
	if p.state == stateClosed || len(p.queue) == 0 {
		return job{}, false
	}
	j := p.queue[0]
	p.queue[0] = job{}
	p.queue = p.queue[1:]
	return j, true
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		j, ok := p.next()
		if !ok {
			return
		}
		p.exec(j)
	}
}

func (p *Pool) exec(j job) {
	if j.ctx.Err() != nil {
		j.abort(fmt.Errorf("%w: %w", ErrInterrupted, context.Cause(j.ctx)))
		return
	}
	ctx, cancel := context.WithCancelCause(j.ctx)
	stop := context.AfterFunc(p.ctx, func() { cancel(ErrClosed) })
	defer func() {
		stop()
		cancel(nil)
	}()

	p.running.Add(1)
	defer p.running.Add(-1)
	j.run(ctx)
}

// Drain stops accepting work, lets the queue empty and waits for the
// workers to exit.
func (p *Pool) Drain() {
	p.mu.Lock()
	if p.state == stateOpen {
		p.state = stateDraining
	}
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
	p.cancel(ErrClosed)
}

// Close stops accepting work, interrupts running tasks, fails queued
// ones with ErrClosed and waits for the workers to exit.
func (p *Pool) Close() {
	p.mu.Lock()
	p.state = stateClosed
	pending := p.queue
	p.queue = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	p.cancel(ErrClosed)
	for _, j := range pending {
		j.abort(ErrClosed)
	}
	p.wg.Wait()
	if len(pending) > 0 {
		p.log.Debug("pool closed with queued work", zap.Int("dropped", len(pending)))
	}
}

// Future is the pending result of a submitted task.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) complete(v T, err error) {
	f.once.Do(func() {
		f.val = v
		f.err = err
		close(f.done)
	})
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the task finishes or ctx ends. In the latter case the
// error wraps ErrInterrupted and the context cause; the task keeps running.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	default:
	}
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("%w: %w", ErrInterrupted, context.Cause(ctx))
	}
}

// Submit queues fn. The context handed to fn is cancelled when ctx ends
// or the pool is closed.
func Submit[T any](p *Pool, ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	var zero T
	j := job{
		ctx: ctx,
		run: func(tctx context.Context) {
			defer func() {
				if r := recover(); r != nil {
					stack := debug.Stack()
					p.log.Error("task panicked", zap.Any("panic", r), zap.ByteString("stack", stack))
					f.complete(zero, &PanicError{Value: r, Stack: stack})
				}
			}()
			v, err := fn(tctx)
			f.complete(v, err)
		},
		abort: func(err error) { f.complete(zero, err) },
	}
	if !p.enqueue(j) {
		f.complete(zero, ErrClosed)
	}
	return f
}
