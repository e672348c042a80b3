// Package warmpool keeps a fixed number of pre-built, single-use resources
// ready so that a request never pays the start-up cost of its execution unit.
//
// LIFECYCLE:
//
//	create ──▶ [ ready channel ] ──Get──▶ caller ──▶ caller destroys it
//	   ▲                                     │
//	   └──────────── refill signal ◀─────────┘
//
// Items are never returned to the pool. A used execution unit may have been
// tampered with by the code it ran, so the caller always destroys it and the
// manager creates a fresh one in its place.
package warmpool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrStopped is returned by Get after Stop.
var ErrStopped = errors.New("warmpool: pool stopped")

// Config tunes a Pool.
type Config struct {
	// Name appears in log lines ("process", "docker").
	Name string
	// Size is the number of ready items to keep.
	Size int
	// CreateTimeout bounds one call to create.
	CreateTimeout time.Duration
	// Backoff is the pause after a failed create.
	Backoff time.Duration
}

// DefaultConfig returns the values used by the sandboxes.
func DefaultConfig(name string) Config {
	return Config{
		Name:          name,
		Size:          4,
		CreateTimeout: 30 * time.Second,
		Backoff:       time.Second,
	}
}

// Pool manages ready items of type T.
type Pool[T any] struct {
	config  Config
	create  func(ctx context.Context) (T, error)
	destroy func(T)
	logger  *slog.Logger

	ready     chan T
	refill    chan struct{}
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New initializes a pool. Nothing is created until Start.
func New[T any](cfg Config, create func(ctx context.Context) (T, error), destroy func(T), logger *slog.Logger) *Pool[T] {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	if cfg.CreateTimeout <= 0 {
		cfg.CreateTimeout = 30 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool[T]{
		ctx:     ctx,
		cancel:  cancel,
		config:  cfg,
		create:  create,
		destroy: destroy,
		logger:  logger.With(slog.String("pool", cfg.Name)),
		ready:   make(chan T, cfg.Size),
		refill:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start begins filling the pool in the background.
func (p *Pool[T]) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("starting warm pool manager", slog.Int("poolSize", p.config.Size))
		p.wg.Add(1)
		go p.manager()
	})
}

// Stop shuts down the manager and destroys every ready item.
func (p *Pool[T]) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("shutting down warm pool")
		close(p.done)
		p.cancel()
		p.wg.Wait()

		for {
			select {
			case item := <-p.ready:
				p.destroy(item)
			default:
				return
			}
		}
	})
}

// Get returns a ready item, blocking until one is available, ctx is done or
// the pool is stopped. The caller owns the item and must destroy it.
func (p *Pool[T]) Get(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-p.done:
		return zero, ErrStopped
	default:
	}

	select {
	case item := <-p.ready:
		p.signal()
		return item, nil
	case <-p.done:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Ready reports how many items are waiting.
func (p *Pool[T]) Ready() int {
	return len(p.ready)
}

func (p *Pool[T]) signal() {
	select {
	case p.refill <- struct{}{}:
	default:
	}
}

// manager keeps the ready channel at capacity. Up to Size items are created
// concurrently, so a burst of Gets is refilled in about one create time.
func (p *Pool[T]) manager() {
	defer p.wg.Done()

	// Each filler reports exactly once and at most Size are outstanding, so
	// sends never block even after the manager has returned.
	finished := make(chan struct{}, p.config.Size)
	pending := 0
	for {
		for len(p.ready)+pending < p.config.Size {
			pending++
			p.wg.Add(1)
			go p.fill(finished)
		}

		select {
		case <-finished:
			pending--
		case <-p.refill:
		case <-p.done:
			return
		}
	}
}

// fill creates one item, retrying after Backoff, and hands it to the ready
// channel.
func (p *Pool[T]) fill(finished chan<- struct{}) {
	defer p.wg.Done()
	defer func() { finished <- struct{}{} }()

	for {
		item, err := p.createOne()
		if err != nil {
			select {
			case <-p.done:
				return
			default:
			}
			p.logger.Error("failed to create warm item", slog.String("error", err.Error()))
			select {
			case <-time.After(p.config.Backoff):
				continue
			case <-p.done:
				return
			}
		}

		select {
		case p.ready <- item:
		case <-p.done:
			p.destroy(item)
		}
		return
	}
}

func (p *Pool[T]) createOne() (T, error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.config.CreateTimeout)
	defer cancel()
	return p.create(ctx)
}
