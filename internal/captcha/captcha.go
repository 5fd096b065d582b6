// Package captcha solves the captcha variant of Cloudflare's challenge
// through a third-party service.
package captcha

import (
	"context"
	"errors"
)

// Kinds accepted by Solve.
const (
	KindReCaptcha = "reCaptcha"
	KindHCaptcha  = "hCaptcha"
	KindTurnstile = "turnstile"
)

var (
	ErrUnsupportedKind = errors.New("captcha: unsupported captcha kind")
	ErrSolveTimeout    = errors.New("captcha: timed out waiting for solution")
	ErrRejected        = errors.New("captcha: rejected by provider")
)

// Solver turns a site key on a page into a response token.
type Solver interface {
	Solve(ctx context.Context, kind, pageURL, siteKey string) (string, error)
}

// SolverFunc adapts a function to Solver.
type SolverFunc func(ctx context.Context, kind, pageURL, siteKey string) (string, error)

func (f SolverFunc) Solve(ctx context.Context, kind, pageURL, siteKey string) (string, error) {
	return f(ctx, kind, pageURL, siteKey)
}
