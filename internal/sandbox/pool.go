package sandbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/cfshim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/cfshim/internal/shim"
)

var (
	ErrPoolClosed       = errors.New("sandbox: pool is closed")
	ErrTimeout          = errors.New("sandbox: acquisition timeout")
	ErrClosed           = errors.New("sandbox: runtime is closed")
	ErrExecutionTimeout = errors.New("sandbox: execution timeout exceeded")
	ErrScript           = errors.New("sandbox: script error")
)

// Pool manages a pool of reusable sandboxes
type Pool struct {
	config         Config
	logger         *logging.Logger
	sandboxes      chan *Runtime
	size           int
	acquireTimeout time.Duration
	mu             sync.RWMutex
	closed         bool
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	Size      int  `json:"size"`
	Available int  `json:"available"`
	InUse     int  `json:"in_use"`
	Closed    bool `json:"closed"`
}

// NewPool creates a sandbox pool
func NewPool(config Config, size int, logger *logging.Logger) (*Pool, error) {
	if size <= 0 {
		size = 4
	}

	pool := &Pool{
		config:         config,
		logger:         logging.OrNop(logger).Named("sandbox.pool"),
		sandboxes:      make(chan *Runtime, size),
		size:           size,
		acquireTimeout: 5 * time.Second,
	}

	// Pre-create sandboxes
	for i := 0; i < size; i++ {
		sandbox, err := New(config, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		pool.sandboxes <- sandbox
	}

	return pool, nil
}

// Acquire takes a sandbox configured with cfg, waiting up to the pool's
// acquisition timeout.
func (p *Pool) Acquire(ctx context.Context, cfg shim.Config) (*Runtime, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case sandbox := <-p.sandboxes:
		if err := sandbox.Reset(cfg); err != nil {
			p.replace(sandbox)
			return nil, err
		}
		return sandbox, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrTimeout
	}
}

// Release returns sandbox to pool
func (p *Pool) Release(sandbox *Runtime) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return sandbox.Close()
	}

	if err := sandbox.Reset(p.config.Shim); err != nil {
		p.replace(sandbox)
		return err
	}

	select {
	case p.sandboxes <- sandbox:
		return nil
	default:
		// Pool full, close sandbox
		return sandbox.Close()
	}
}

// replace swaps a broken sandbox for a fresh one so the pool keeps its size.
func (p *Pool) replace(broken *Runtime) {
	broken.Close()
	fresh, err := New(p.config, p.logger)
	if err != nil {
		p.logger.Warn("sandbox replacement failed", zap.Error(err))
		return
	}
	select {
	case p.sandboxes <- fresh:
	default:
		fresh.Close()
	}
}

// Execute runs script using pool
func (p *Pool) Execute(ctx context.Context, cfg shim.Config, script string) (*Result, error) {
	sandbox, err := p.Acquire(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer p.Release(sandbox)

	return sandbox.Execute(ctx, script)
}

// Close closes pool and all sandboxes
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	close(p.sandboxes)

	for sandbox := range p.sandboxes {
		sandbox.Close()
	}

	return nil
}

// Stats returns pool statistics
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	available := len(p.sandboxes)
	return Stats{
		Size:      p.size,
		Available: available,
		InUse:     p.size - available,
		Closed:    p.closed,
	}
}
