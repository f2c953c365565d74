// Package validator is the public face of the wrapper: Validate runs the
// external validator on one archive through a bounded worker pool and
// returns its diagnostics.
package validator

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"epubwrap/internal/classify"
	"epubwrap/internal/config"
	"epubwrap/internal/dcache"
	"epubwrap/internal/pool"
	"epubwrap/internal/trace"
)

// Service runs validations. Create it with New and release it with Close.
type Service struct {
	src      config.Source
	log      *zap.Logger
	tracer   trace.Tracer
	cache    *dcache.Cache
	sink     classify.UnexpectedSink
	progress ProgressSink

	mu       sync.Mutex
	pool     *pool.Pool
	draining map[*pool.Pool]struct{} // retired by a resize, still finishing
	closed   bool

	versionMu sync.Mutex
	versions  map[string]string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger; components get named children of it.
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithTracer sets the tracer for run, process and line events.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithCache enables the report cache.
func WithCache(c *dcache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithSink receives unexpected validator output of every run.
func WithSink(sink classify.UnexpectedSink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithProgress receives batch events from ValidateAll.
func WithProgress(p ProgressSink) Option {
	return func(s *Service) { s.progress = p }
}

// New returns a service reading its settings from src at each submission.
func New(src config.Source, opts ...Option) *Service {
	s := &Service{
		src:      src,
		log:      zap.NewNop(),
		tracer:   trace.Nop,
		versions: make(map[string]string),
		draining: make(map[*pool.Pool]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sink == nil {
		s.sink = classify.LogSink{Log: s.log.Named("classify")}
	}
	return s
}

// Close stops the current pool and every pool still draining after a
// resize. Running validations are interrupted and their process groups
// killed; later calls return an interruption diagnostic.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	pools := make([]*pool.Pool, 0, len(s.draining)+1)
	if s.pool != nil {
		pools = append(pools, s.pool)
	}
	for p := range s.draining {
		pools = append(pools, p)
	}
	s.pool = nil
	clear(s.draining)
	s.mu.Unlock()
	for _, p := range pools {
		p.Close()
	}
}

// retire drains old in the background and forgets it once it is empty.
// Close interrupts it while it is still draining. Called with s.mu held.
func (s *Service) retire(old *pool.Pool) {
	s.draining[old] = struct{}{}
	go func() {
		old.Drain()
		s.mu.Lock()
		delete(s.draining, old)
		s.mu.Unlock()
	}()
}

// submit queues fn on a pool of the requested size. A size change swaps in
// a new pool; the old one finishes its queue in the background.
func submit[T any](s *Service, ctx context.Context, size int, fn func(context.Context) (T, error)) (*pool.Future[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, pool.ErrClosed
	}
	if s.pool == nil || s.pool.Size() != size {
		old := s.pool
		s.pool = pool.New(size, s.log.Named("pool"))
		if old != nil {
			s.log.Info("pool size changed", zap.Int("from", old.Size()), zap.Int("to", size))
			s.retire(old)
		}
	}
	return pool.Submit(s.pool, ctx, fn), nil
}

// interruption maps a pool-level failure to its message detail.
func interruption(ctx context.Context, err error) string {
	if ctx.Err() != nil {
		return context.Cause(ctx).Error()
	}
	if errors.Is(err, pool.ErrClosed) {
		return pool.ErrClosed.Error()
	}
	return err.Error()
}
