// Package monitor polls for fresh compliance state on a fixed interval.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/compliscope/compliscope/internal/metrics"
)

const (
	DefaultInterval = 20 * time.Second
	MinInterval     = 15 * time.Second
	MaxInterval     = 30 * time.Second
)

var ErrRunning = errors.New("poller is already running")

// PollFunc fetches one update. It must honour ctx cancellation.
type PollFunc[T any] func(ctx context.Context) (T, error)

// Handler receives the outcome of a poll that completed while its run was
// still current. It must not call Stop.
type Handler[T any] func(result T, err error)

// Poller runs a PollFunc immediately on Start and then once per interval.
// Polls still in flight when Stop is called are cancelled and their results
// discarded, so a handler never observes a response from a previous run.
type Poller[T any] struct {
	poll     PollFunc[T]
	handle   Handler[T]
	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*options)

type options struct {
	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
}

// WithInterval sets the poll interval, clamped to [MinInterval, MaxInterval].
func WithInterval(d time.Duration) Option {
	return func(o *options) { o.interval = ClampInterval(d) }
}

func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ClampInterval returns DefaultInterval for non-positive d and otherwise bounds
// d to the supported range.
func ClampInterval(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultInterval
	case d < MinInterval:
		return MinInterval
	case d > MaxInterval:
		return MaxInterval
	}
	return d
}

func New[T any](poll PollFunc[T], handle Handler[T], opts ...Option) *Poller[T] {
	o := options{interval: DefaultInterval, clock: clockwork.NewRealClock(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Poller[T]{
		poll:     poll,
		handle:   handle,
		interval: o.interval,
		clock:    o.clock,
		logger:   o.logger,
	}
}

func (p *Poller[T]) Interval() time.Duration {
	return p.interval
}

// Running reports whether the poll loop is active.
func (p *Poller[T]) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Start launches the poll loop. It stops when ctx is cancelled or Stop is
// called.
func (p *Poller[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return ErrRunning
	}

	p.gen++
	gen := p.gen
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go p.loop(runCtx, gen, done)
	p.logger.Info("monitor started", "interval", p.interval)
	return nil
}

// Stop cancels the loop and any in-flight poll and waits for the loop to exit.
func (p *Poller[T]) Stop() {
	p.mu.Lock()
	if p.cancel == nil {
		p.mu.Unlock()
		return
	}
	p.gen++
	p.cancel()
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	<-done
	p.logger.Info("monitor stopped")
}

func (p *Poller[T]) loop(ctx context.Context, gen uint64, done chan struct{}) {
	defer func() {
		p.mu.Lock()
		if p.gen == gen {
			p.cancel()
			p.cancel = nil
			p.done = nil
		}
		p.mu.Unlock()
		close(done)
	}()

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx, gen)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.tick(ctx, gen)
		}
	}
}

func (p *Poller[T]) tick(ctx context.Context, gen uint64) {
	result, err := p.poll(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.gen || ctx.Err() != nil {
		metrics.MonitorPolls.WithLabelValues("discarded").Inc()
		return
	}
	if err != nil {
		metrics.MonitorPolls.WithLabelValues("error").Inc()
		p.logger.Warn("monitor poll failed", "error", err)
	} else {
		metrics.MonitorPolls.WithLabelValues("ok").Inc()
	}
	p.handle(result, err)
}
