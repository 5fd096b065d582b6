package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/cfshim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/cfshim/internal/sandbox"
	"github.com/GriffinCanCode/cfshim/internal/shim"
)

// Goja runs scripts in pooled goja sandboxes.
type Goja struct {
	pool   *sandbox.Pool
	logger *logging.Logger
}

// NewGoja creates a goja engine backed by a sandbox pool.
func NewGoja(opts Options) (*Goja, error) {
	opts = opts.withDefaults()
	pool, err := sandbox.NewPool(opts.Sandbox, opts.PoolSize, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("engine: goja pool: %w", err)
	}
	return &Goja{pool: pool, logger: opts.Logger.Named("engine.goja")}, nil
}

func (g *Goja) Name() string { return "goja" }

func (g *Goja) Eval(ctx context.Context, script string) (string, error) {
	res, err := g.pool.Execute(ctx, shim.Config{}, script)
	if err != nil {
		return "", fmt.Errorf("engine: goja eval: %w", err)
	}
	if res.Value == nil {
		return "", nil
	}
	return fmt.Sprint(res.Value), nil
}

func (g *Goja) Solve(ctx context.Context, job Job) (string, error) {
	rt, err := g.pool.Acquire(ctx, job.shimConfig())
	if err != nil {
		return "", fmt.Errorf("engine: goja acquire: %w", err)
	}
	defer g.pool.Release(rt)

	for i, script := range job.Scripts {
		if _, err := rt.Execute(ctx, script); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if errors.Is(err, sandbox.ErrExecutionTimeout) {
				return "", fmt.Errorf("engine: goja solve: %w", err)
			}
			g.logger.Warn("challenge script failed", zap.Int("index", i), zap.String("domain", job.Domain), zap.Error(err))
		}
	}

	res, err := rt.Execute(ctx, job.answerExpr())
	if err != nil {
		return "", fmt.Errorf("engine: goja answer: %w", err)
	}
	answer, ok := res.Value.(string)
	if !ok || answer == "" {
		return "", ErrNoAnswer
	}
	return answer, nil
}

// Stats reports the underlying pool.
func (g *Goja) Stats() sandbox.Stats {
	return g.pool.Stats()
}

func (g *Goja) Close() error {
	return g.pool.Close()
}
