package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/cfshim/internal/captcha"
	"github.com/GriffinCanCode/cfshim/internal/challenge"
	"github.com/GriffinCanCode/cfshim/internal/infrastructure/monitoring"
)

// solve answers the challenge on resp and submits the form back through
// do, so the submission's own redirect and any follow-up challenge are
// handled the same way.
func (s *Scraper) solve(ctx context.Context, resp *Response, kind challenge.Kind, hops int, refresh bool) (*Response, error) {
	start := time.Now()

	fields, action, err := s.answer(ctx, resp, kind)
	if err != nil {
		s.metrics.RecordChallenge(kind.String(), monitoring.OutcomeFailed, time.Since(start))
		s.logger.Warn("challenge failed",
			zap.String("request_id", resp.RequestID),
			zap.String("kind", kind.String()),
			zap.Error(err))
		return nil, fmt.Errorf("scraper: %s challenge: %w", kind, err)
	}

	submit := &Request{
		Method: http.MethodPost,
		URL:    action.String(),
		Header: http.Header{
			"Content-Type": {"application/x-www-form-urlencoded"},
			"Referer":      {resp.URL.String()},
		},
		Body: []byte(fields.Encode()),
	}

	out, err := s.do(ctx, submit, hops+1, refresh)
	outcome := monitoring.OutcomeSolved
	if err != nil {
		outcome = monitoring.OutcomeFailed
	}
	s.metrics.RecordChallenge(kind.String(), outcome, time.Since(start))
	if err != nil {
		return nil, err
	}

	s.logger.Info("challenge submitted",
		zap.String("request_id", resp.RequestID),
		zap.String("kind", kind.String()),
		zap.Int("status", out.StatusCode),
		zap.Duration("duration", time.Since(start)))
	return out, nil
}

// answer produces the form fields and submission URL for one challenge.
func (s *Scraper) answer(ctx context.Context, resp *Response, kind challenge.Kind) (url.Values, *url.URL, error) {
	form, err := challenge.ParseForm(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	action, err := form.Resolve(resp.URL)
	if err != nil {
		return nil, nil, err
	}
	domain := resp.URL.Hostname()

	switch kind {
	case challenge.KindV1:
		if err := form.Validate(); err != nil {
			return nil, nil, err
		}
		if err := s.sleep(ctx, s.opts.ChallengeDelay); err != nil {
			return nil, nil, err
		}
		answer, err := s.timed(func() (string, error) {
			return challenge.SolveV1(ctx, s.engine, resp.Body, domain)
		})
		if err != nil {
			return nil, nil, err
		}
		return form.Submission(answer), action, nil

	case challenge.KindV2:
		if err := form.Validate(); err != nil {
			return nil, nil, err
		}
		s.mu.RLock()
		userAgent := s.agent.UserAgent()
		s.mu.RUnlock()
		answer, err := s.timed(func() (string, error) {
			return challenge.SolveV2(ctx, s.engine, resp.Body, domain, userAgent)
		})
		if err != nil {
			return nil, nil, err
		}
		return form.Submission(answer), action, nil

	case challenge.KindCaptcha:
		if s.opts.CaptchaSolver == nil {
			return nil, nil, challenge.ErrNoCaptchaSolver
		}
		siteKey, ok := challenge.SiteKey(resp.Body)
		if !ok {
			return nil, nil, fmt.Errorf("%w: site key not found", challenge.ErrChallenge)
		}
		token, err := s.opts.CaptchaSolver.Solve(ctx, captcha.KindTurnstile, resp.URL.String(), siteKey)
		if err != nil {
			return nil, nil, fmt.Errorf("captcha solver: %w", err)
		}
		return form.CaptchaSubmission(token), action, nil
	}
	return nil, nil, challenge.ErrUnknownChallenge
}

// timed runs one engine evaluation under the engine metrics.
func (s *Scraper) timed(fn func() (string, error)) (string, error) {
	timer := monitoring.NewTimer(s.metrics, s.engine.Name())
	answer, err := fn()
	if err != nil {
		timer.Stop(monitoring.OutcomeFailed)
		return "", err
	}
	timer.Stop(monitoring.OutcomeSolved)
	return answer, nil
}
