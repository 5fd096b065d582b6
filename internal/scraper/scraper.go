package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/cfshim/internal/challenge"
	"github.com/GriffinCanCode/cfshim/internal/engine"
	"github.com/GriffinCanCode/cfshim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/cfshim/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/cfshim/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/cfshim/internal/shared/id"
	"github.com/GriffinCanCode/cfshim/internal/stealth"
	"github.com/GriffinCanCode/cfshim/internal/transport"
	"github.com/GriffinCanCode/cfshim/internal/useragent"
)

var (
	ErrMaxRetriesExceeded = errors.New("scraper: failed after max retries")
	ErrTooManyRedirects   = errors.New("scraper: too many redirects")
	ErrClosed             = errors.New("scraper: closed")
)

// Request describes one upstream request. Body is kept as bytes so the
// request can be replayed after a session refresh.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
	URL        *url.URL // final URL after redirects and challenges
	RequestID  string
	Duration   time.Duration
}

// Text returns the body converted to UTF-8.
func (r *Response) Text() (string, error) {
	text, _, err := transport.Text(r.Body, r.Header.Get("Content-Type"))
	return text, err
}

// MediaType returns the body's media type, sniffed when the server did not
// send a useful one.
func (r *Response) MediaType() string {
	return transport.MediaType(r.Body, r.Header.Get("Content-Type"))
}

// Scraper makes requests that pass Cloudflare's anti-bot page the way a
// browser would: it solves the challenge, keeps the clearance cookie and
// retries the original request.
type Scraper struct {
	opts      Options
	client    *resty.Client
	transport *transport.CipherSuiteTransport
	jar       *sessionJar
	limiter   *rate.Limiter
	breakers  *resilience.Group
	stealth   *stealth.Mode
	engine    engine.Engine
	ownEngine bool
	logger    *logging.Logger
	metrics   *monitoring.Metrics
	now       func() time.Time
	sleep     func(context.Context, time.Duration) error

	mu           sync.RWMutex
	agent        *useragent.Agent
	session      id.SessionID
	sessionStart time.Time
	requestCount int
	in403Retry   bool
	closed       bool
}

// New creates a Scraper. Options are applied over DefaultOptions.
func New(opts ...Option) (*Scraper, error) {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	logger := logging.OrNop(options.Logger).Named("scraper")

	agent, err := useragent.New(options.Browser)
	if err != nil {
		return nil, fmt.Errorf("scraper: user agent: %w", err)
	}

	jar, err := newSessionJar()
	if err != nil {
		return nil, err
	}

	tr := transport.New()
	tr.SetCipherSuites(agent.CipherSuites)
	tr.SetInsecureSkipVerify(options.InsecureSkipVerify)

	eng := options.Engine
	ownEngine := false
	if eng == nil {
		engOpts := options.EngineOptions
		if engOpts.Logger == nil {
			engOpts.Logger = logger
		}
		eng, err = engine.New(options.EngineName, engOpts)
		if err != nil {
			return nil, fmt.Errorf("scraper: engine: %w", err)
		}
		ownEngine = true
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if options.RequestsPerSecond > 0 {
		burst := int(options.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(options.RequestsPerSecond), burst)
	}

	s := &Scraper{
		opts:         options,
		transport:    tr,
		jar:          jar,
		limiter:      limiter,
		breakers:     resilience.NewGroup(resilience.UpstreamSettings()),
		stealth:      stealth.New(options.Stealth),
		engine:       eng,
		ownEngine:    ownEngine,
		logger:       logger,
		metrics:      options.Metrics,
		now:          time.Now,
		sleep:        sleep,
		agent:        agent,
		session:      id.NewSessionID(),
		sessionStart: time.Now(),
	}

	// Redirects are followed by do so challenges on intermediate hops are
	// seen.
	s.client = resty.New().
		SetTransport(tr).
		SetCookieJar(jar).
		SetTimeout(options.Timeout).
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		})).
		SetPreRequestHook(s.prepare)

	return s, nil
}

// Get performs a GET request.
func (s *Scraper) Get(ctx context.Context, rawURL string) (*Response, error) {
	return s.Do(ctx, &Request{Method: http.MethodGet, URL: rawURL})
}

// Post performs a POST request.
func (s *Scraper) Post(ctx context.Context, rawURL, contentType string, body []byte) (*Response, error) {
	return s.Do(ctx, &Request{
		Method: http.MethodPost,
		URL:    rawURL,
		Header: http.Header{"Content-Type": {contentType}},
		Body:   body,
	})
}

// Do sends req, solving any challenge and following redirects.
func (s *Scraper) Do(ctx context.Context, req *Request) (*Response, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	return s.do(ctx, req, 0, true)
}

// do is the request loop. Refreshes are disabled for requests issued while
// a session is being re-established.
func (s *Scraper) do(ctx context.Context, req *Request, hops int, refresh bool) (*Response, error) {
	if hops > s.opts.MaxRedirects {
		return nil, fmt.Errorf("%w: %d", ErrTooManyRedirects, hops)
	}

	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("scraper: parse url: %w", err)
	}

	if refresh && s.claimExpiredSession() {
		if err := s.refreshSession(ctx, u); err != nil {
			s.logger.Warn("session refresh failed", zap.String("host", u.Host), zap.Error(err))
		}
	}

	resp, err := s.send(ctx, req)
	if err != nil {
		return nil, err
	}

	if kind := challenge.Detect(resp.StatusCode, resp.Header, resp.Body); kind != challenge.KindNone {
		s.logger.Info("cloudflare challenge detected",
			zap.String("request_id", resp.RequestID),
			zap.String("kind", kind.String()),
			zap.String("url", resp.URL.String()))
		return s.solve(ctx, resp, kind, hops, refresh)
	}

	if resp.StatusCode == http.StatusForbidden && refresh && s.opts.AutoRefreshOn403 {
		return s.handle403(ctx, req, resp, hops)
	}

	if resp.StatusCode >= 300 && resp.StatusCode <= 399 {
		if next := redirect(req, resp); next != nil {
			return s.do(ctx, next, hops+1, refresh)
		}
	}

	return resp, nil
}

// redirect builds the follow-up request for a 3xx response, or nil when
// there is no usable Location.
func redirect(req *Request, resp *Response) *Request {
	loc := resp.Header.Get("Location")
	if loc == "" {
		return nil
	}
	target, err := resp.URL.Parse(loc)
	if err != nil {
		return nil
	}

	next := &Request{Method: http.MethodGet, URL: target.String()}
	if resp.StatusCode == http.StatusTemporaryRedirect || resp.StatusCode == http.StatusPermanentRedirect {
		next.Method = req.Method
		next.Header = req.Header.Clone()
		next.Body = req.Body
	}
	return next
}

// send performs one round trip through the limiter, the host's breaker and
// the next proxy.
func (s *Scraper) send(ctx context.Context, req *Request) (*Response, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("scraper: parse url: %w", err)
	}
	host := u.Host

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("scraper: rate limit: %w", err)
	}

	proxyURL, err := s.opts.Proxies.Next()
	if err != nil {
		return nil, err
	}
	if proxyURL != nil {
		ctx = transport.WithProxy(ctx, proxyURL)
	}

	requestID := uuid.NewString()
	r := s.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true)
	r.Header = s.headers(req.Header)
	if req.Body != nil {
		r.SetBody(req.Body)
	}

	s.mu.Lock()
	s.requestCount++
	s.mu.Unlock()

	start := time.Now()
	var resp *resty.Response
	err = s.breakers.For(host).Do(func() error {
		var err error
		resp, err = r.Execute(req.Method, req.URL)
		return err
	}, func(err error) bool {
		return errors.Is(err, context.Canceled)
	})
	duration := time.Since(start)

	if err != nil {
		if proxyURL != nil {
			s.opts.Proxies.ReportFailure(proxyURL)
			s.metrics.IncProxyFailures(proxyURL.Redacted())
		}
		s.metrics.RecordUpstream(host, "error", duration)
		s.logger.Debug("upstream request failed",
			zap.String("request_id", requestID),
			zap.String("method", req.Method),
			zap.String("url", req.URL),
			zap.Error(err))
		return nil, fmt.Errorf("scraper: %s %s: %w", req.Method, req.URL, err)
	}
	if proxyURL != nil {
		s.opts.Proxies.ReportSuccess(proxyURL)
	}

	raw := resp.RawResponse
	defer raw.Body.Close()
	if err := transport.Decode(raw); err != nil {
		return nil, fmt.Errorf("scraper: %w", err)
	}
	body, err := io.ReadAll(raw.Body)
	if err != nil {
		return nil, fmt.Errorf("scraper: read body: %w", err)
	}

	s.metrics.RecordUpstream(host, strconv.Itoa(raw.StatusCode), duration)
	s.logger.Debug("upstream response",
		zap.String("request_id", requestID),
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.Int("status", raw.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("duration", duration))

	final := u
	if raw.Request != nil && raw.Request.URL != nil {
		final = raw.Request.URL
	}
	return &Response{
		StatusCode: raw.StatusCode,
		Status:     raw.Status,
		Header:     raw.Header,
		Body:       body,
		URL:        final,
		RequestID:  requestID,
		Duration:   duration,
	}, nil
}

// headers merges the request's own headers over the browser profile.
func (s *Scraper) headers(own http.Header) http.Header {
	s.mu.RLock()
	profile := s.agent.Headers
	s.mu.RUnlock()

	h := own.Clone()
	if h == nil {
		h = make(http.Header)
	}
	for key, values := range profile {
		if h.Get(key) == "" {
			h[key] = append([]string(nil), values...)
		}
	}
	return h
}

// prepare runs on the outgoing *http.Request after resty has built it.
func (s *Scraper) prepare(_ *resty.Client, req *http.Request) error {
	s.mu.RLock()
	browser := s.agent.Browser
	s.mu.RUnlock()
	return s.stealth.Apply(req.Context(), req, browser)
}

// Stats describes the current session.
type Stats struct {
	Session    string            `json:"session"`
	UserAgent  string            `json:"user_agent"`
	Browser    string            `json:"browser"`
	Engine     string            `json:"engine"`
	Requests   int               `json:"requests"`
	SessionAge time.Duration     `json:"session_age"`
	Breakers   map[string]string `json:"breakers"`
}

// Stats returns a snapshot of the current session.
func (s *Scraper) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	breakers := make(map[string]string)
	for host, state := range s.breakers.States() {
		breakers[host] = state.String()
	}
	return Stats{
		Session:    s.session.String(),
		UserAgent:  s.agent.UserAgent(),
		Browser:    s.agent.Browser,
		Engine:     s.engine.Name(),
		Requests:   s.requestCount,
		SessionAge: s.now().Sub(s.sessionStart),
		Breakers:   breakers,
	}
}

// Cookies returns the cookies the session would send to rawURL.
func (s *Scraper) Cookies(rawURL string) ([]*http.Cookie, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("scraper: parse url: %w", err)
	}
	return s.jar.Cookies(u), nil
}

// Close releases the engine if the scraper created it and drops idle
// connections.
func (s *Scraper) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.transport.CloseIdleConnections()
	if s.ownEngine {
		return s.engine.Close()
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
