package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/GriffinCanCode/cfshim/internal/shared/id"
	"github.com/GriffinCanCode/cfshim/internal/useragent"
)

// sessionJar is a cookie jar that can be emptied while requests are in
// flight.
type sessionJar struct {
	mu  sync.RWMutex
	jar *cookiejar.Jar
}

func newSessionJar() (*sessionJar, error) {
	j := &sessionJar{}
	if err := j.Reset(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *sessionJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	j.jar.SetCookies(u, cookies)
}

func (j *sessionJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.jar.Cookies(u)
}

// Reset drops every cookie.
func (j *sessionJar) Reset() error {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return fmt.Errorf("scraper: cookie jar: %w", err)
	}
	j.mu.Lock()
	j.jar = jar
	j.mu.Unlock()
	return nil
}

// claimExpiredSession reports whether the session has outlived
// SessionRefreshInterval. The first caller to see it expire restarts the
// clock so concurrent requests refresh once.
func (s *Scraper) claimExpiredSession() bool {
	if s.opts.SessionRefreshInterval <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.now().Sub(s.sessionStart) <= s.opts.SessionRefreshInterval {
		return false
	}
	s.sessionStart = s.now()
	return true
}

// refreshSession starts a new identity: a fresh user agent and cipher
// order, an empty cookie jar, then a warm-up visit to the site root.
func (s *Scraper) refreshSession(ctx context.Context, current *url.URL) error {
	agent, err := useragent.New(s.opts.Browser)
	if err != nil {
		return fmt.Errorf("scraper: refresh user agent: %w", err)
	}
	if err := s.jar.Reset(); err != nil {
		return err
	}
	if s.opts.RotateCiphers {
		s.transport.SetCipherSuites(agent.CipherSuites)
	}

	session := id.NewSessionID()
	s.mu.Lock()
	s.agent = agent
	s.session = session
	s.sessionStart = s.now()
	s.requestCount = 0
	s.mu.Unlock()

	s.metrics.IncSessionRefreshes()
	s.logger.Info("session refreshed",
		zap.String("session", session.String()),
		zap.String("host", current.Host),
		zap.String("browser", agent.Browser))

	root := &url.URL{Scheme: current.Scheme, Host: current.Host, Path: "/"}
	_, err = s.do(ctx, &Request{Method: http.MethodGet, URL: root.String()}, 0, false)
	return err
}

// handle403 refreshes the session and replays req until the site stops
// answering 403. Only one 403 recovery runs at a time.
func (s *Scraper) handle403(ctx context.Context, req *Request, resp *Response, hops int) (*Response, error) {
	if s.opts.Max403Retries <= 0 {
		return resp, nil
	}

	s.mu.Lock()
	if s.in403Retry {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: 403 recovery already in progress", ErrMaxRetriesExceeded)
	}
	s.in403Retry = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.in403Retry = false
		s.mu.Unlock()
	}()

	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("scraper: parse url: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= s.opts.Max403Retries; attempt++ {
		s.logger.Warn("received 403, refreshing session",
			zap.String("url", req.URL),
			zap.Int("attempt", attempt),
			zap.Int("max", s.opts.Max403Retries))

		if err := s.refreshSession(ctx, u); err != nil {
			return nil, fmt.Errorf("scraper: refresh after 403: %w", err)
		}

		next, err := s.do(ctx, req, hops, false)
		if err != nil {
			lastErr = err
			continue
		}
		if next.StatusCode != http.StatusForbidden {
			return next, nil
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %d attempts: %w", ErrMaxRetriesExceeded, s.opts.Max403Retries, lastErr)
	}
	return nil, fmt.Errorf("%w: still 403 after %d attempts", ErrMaxRetriesExceeded, s.opts.Max403Retries)
}
