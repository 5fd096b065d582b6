package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/GriffinCanCode/cfshim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/cfshim/internal/sandbox"
	"github.com/GriffinCanCode/cfshim/internal/shim"
)

var (
	ErrUnsupportedRuntime = errors.New("engine: unsupported runtime")
	ErrRuntimeNotFound    = errors.New("engine: runtime not found in PATH")
	ErrNoAnswer           = errors.New("engine: no answer produced")
)

// DefaultAnswerExpr reads the field Cloudflare challenge scripts fill in.
const DefaultAnswerExpr = `document.getElementById('jschl-answer').value`

// Engine runs challenge JavaScript against the browser shim.
type Engine interface {
	Name() string
	// Eval runs a self-contained script and returns its completion value
	// as a string.
	Eval(ctx context.Context, script string) (string, error)
	// Solve runs the job's scripts in one shared global scope, lets their
	// timers fire, then reads AnswerExpr.
	Solve(ctx context.Context, job Job) (string, error)
	Close() error
}

// Job is one challenge page's worth of scripts.
type Job struct {
	Domain     string
	UserAgent  string
	Scripts    []string
	AnswerExpr string // DefaultAnswerExpr when empty
}

func (j Job) answerExpr() string {
	if strings.TrimSpace(j.AnswerExpr) == "" {
		return DefaultAnswerExpr
	}
	return j.AnswerExpr
}

// shimConfig retains elements so the answer written by one script is still
// there when the answer expression reads it.
func (j Job) shimConfig() shim.Config {
	return shim.Config{Domain: j.Domain, UserAgent: j.UserAgent, RetainElements: true}
}

// Options configures every engine kind. Zero values fall back to defaults.
type Options struct {
	Sandbox     sandbox.Config
	PoolSize    int
	AnswerDelay time.Duration // External only: when the answer extractor fires
	Logger      *logging.Logger
}

// DefaultOptions returns options suited to Cloudflare's four second
// challenge delay.
func DefaultOptions() Options {
	return Options{
		Sandbox:     sandbox.DefaultConfig(),
		PoolSize:    2,
		AnswerDelay: 4100 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Sandbox == (sandbox.Config{}) {
		o.Sandbox = d.Sandbox
	}
	if o.PoolSize <= 0 {
		o.PoolSize = d.PoolSize
	}
	if o.AnswerDelay <= 0 {
		o.AnswerDelay = d.AnswerDelay
	}
	o.Logger = logging.OrNop(o.Logger)
	return o
}

// New returns the engine registered under name. An empty name selects goja.
func New(name string, opts Options) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "goja":
		return NewGoja(opts)
	case "otto":
		return NewOtto(opts), nil
	case "node", "deno", "bun":
		return NewExternal(strings.ToLower(strings.TrimSpace(name)), opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedRuntime, name)
	}
}

// Names lists the runtimes New accepts.
func Names() []string {
	return []string{"goja", "otto", "node", "deno", "bun"}
}
