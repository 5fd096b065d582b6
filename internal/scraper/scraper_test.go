package scraper

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/cfshim/internal/captcha"
	"github.com/GriffinCanCode/cfshim/internal/challenge"
	"github.com/GriffinCanCode/cfshim/internal/config"
	"github.com/GriffinCanCode/cfshim/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/cfshim/internal/proxy"
	"github.com/GriffinCanCode/cfshim/internal/stealth"
	"github.com/GriffinCanCode/cfshim/internal/useragent"
)

const testAgent = "cfshim-test/1.0"

func page(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func newScraper(t *testing.T, opts ...Option) *Scraper {
	t.Helper()
	base := []Option{
		WithBrowser(useragent.Config{Custom: testAgent}),
		WithStealth(stealth.Options{}),
		WithChallengeDelay(0),
	}
	s, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// protected serves pages behind a challenge until the clearance cookie is
// present. verify checks the posted form.
type protected struct {
	challenge   []byte
	submitPath  string
	verify      func(url.Values) bool
	submissions atomic.Int32
}

func (p *protected) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost && r.URL.Path == p.submitPath {
		p.submissions.Add(1)
		if r.ParseForm() != nil || !p.verify(r.PostForm) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Header.Get("Referer") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "cf_clearance", Value: "ok", Path: "/"})
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	if c, err := r.Cookie("cf_clearance"); err == nil && c.Value == "ok" {
		w.Write([]byte("welcome"))
		return
	}
	w.Header().Set("Server", "cloudflare")
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write(p.challenge)
}

func TestSolvesV1Challenge(t *testing.T) {
	site := &protected{
		challenge:  page(t, "v1.html"),
		submitPath: "/cdn-cgi/l/chk_jschl",
		verify: func(form url.Values) bool {
			// ((31 * 2) + 10) + len("127.0.0.1")
			return form.Get("jschl_answer") == "81.0000000000" &&
				form.Get("jschl_vc") == "1e8a2f" &&
				form.Get("pass") == "1700000000.123-abc" &&
				form.Get("r") == "r-token"
		},
	}
	srv := httptest.NewServer(site)
	defer srv.Close()

	metrics := monitoring.NewMetrics()
	s := newScraper(t, WithMetrics(metrics))

	resp, err := s.Get(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "welcome", string(resp.Body))
	assert.Equal(t, int32(1), site.submissions.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Challenges.WithLabelValues("v1", monitoring.OutcomeSolved)))

	cookies, err := s.Cookies(srv.URL)
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Equal(t, "cf_clearance", cookies[0].Name)

	// The clearance cookie is reused.
	resp, err = s.Get(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, "welcome", string(resp.Body))
	assert.Equal(t, int32(1), site.submissions.Load())
}

func TestSolvesV2Challenge(t *testing.T) {
	for _, name := range []string{"goja", "otto"} {
		t.Run(name, func(t *testing.T) {
			site := &protected{
				challenge:  page(t, "v2.html"),
				submitPath: "/",
				verify: func(form url.Values) bool {
					// 123*2 + len("https://127.0.0.1/")
					return form.Get("jschl_answer") == "264.0000000000"
				},
			}
			srv := httptest.NewServer(site)
			defer srv.Close()

			opts := DefaultOptions().EngineOptions
			s := newScraper(t, WithEngine(name, opts))

			resp, err := s.Get(context.Background(), srv.URL+"/")
			require.NoError(t, err)
			assert.Equal(t, "welcome", string(resp.Body))
			assert.Equal(t, int32(1), site.submissions.Load())
		})
	}
}

func TestCaptchaChallenge(t *testing.T) {
	site := &protected{
		challenge:  page(t, "captcha.html"),
		submitPath: "/cdn-cgi/l/chk_captcha",
		verify: func(form url.Values) bool {
			return form.Get("cf-turnstile-response") == "token-1" && form.Get("r") == "rc"
		},
	}
	srv := httptest.NewServer(site)
	defer srv.Close()

	t.Run("no solver", func(t *testing.T) {
		s := newScraper(t)
		_, err := s.Get(context.Background(), srv.URL+"/")
		assert.ErrorIs(t, err, challenge.ErrNoCaptchaSolver)
	})

	t.Run("solver", func(t *testing.T) {
		var gotKey, gotKind string
		solver := captcha.SolverFunc(func(_ context.Context, kind, _, siteKey string) (string, error) {
			gotKind, gotKey = kind, siteKey
			return "token-1", nil
		})
		s := newScraper(t, WithCaptchaSolver(solver))

		resp, err := s.Get(context.Background(), srv.URL+"/")
		require.NoError(t, err)
		assert.Equal(t, "welcome", string(resp.Body))
		assert.Equal(t, captcha.KindTurnstile, gotKind)
		assert.Equal(t, "0x4AAAAAAADnPIDROrmt1Wwj", gotKey)
	})
}

func TestChallengeDelayHonoursContext(t *testing.T) {
	srv := httptest.NewServer(&protected{challenge: page(t, "v1.html"), submitPath: "/x"})
	defer srv.Close()

	s := newScraper(t, WithChallengeDelay(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.Get(ctx, srv.URL+"/")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRefreshOn403(t *testing.T) {
	var data, root atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			root.Add(1)
			w.Write([]byte("root"))
		case "/data":
			if data.Add(1) == 1 {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.Write([]byte("data"))
		}
	}))
	defer srv.Close()

	metrics := monitoring.NewMetrics()
	s := newScraper(t, WithMetrics(metrics))
	before := s.Stats().Session

	resp, err := s.Get(context.Background(), srv.URL+"/data")
	require.NoError(t, err)
	assert.Equal(t, "data", string(resp.Body))
	assert.Equal(t, int32(1), root.Load(), "warm-up visit")
	assert.NotEqual(t, before, s.Stats().Session)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SessionRefreshes))
	assert.Equal(t, 2, s.Stats().Requests)
}

func TestRefreshOn403GivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	t.Run("retries exhausted", func(t *testing.T) {
		s := newScraper(t, WithSessionConfig(true, time.Hour, 2))
		_, err := s.Get(context.Background(), srv.URL+"/blocked")
		assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	})

	t.Run("disabled", func(t *testing.T) {
		s := newScraper(t, WithSessionConfig(false, time.Hour, 2))
		resp, err := s.Get(context.Background(), srv.URL+"/blocked")
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestPeriodicSessionRefresh(t *testing.T) {
	var root atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			root.Add(1)
		}
	}))
	defer srv.Close()

	s := newScraper(t, WithSessionConfig(true, time.Hour, 3))
	now := time.Now()
	var mu sync.Mutex
	s.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	_, err := s.Get(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, int32(0), root.Load())

	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()

	_, err = s.Get(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, int32(1), root.Load())
	assert.Equal(t, time.Duration(0), s.Stats().SessionAge)
}

func TestRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/start":
			http.Redirect(w, r, "/keep", http.StatusTemporaryRedirect)
		case "/keep":
			var buf bytes.Buffer
			buf.ReadFrom(r.Body)
			http.Redirect(w, r, "/end?m="+r.Method+"&b="+buf.String(), http.StatusFound)
		case "/end":
			w.Write([]byte(r.Method + " " + r.URL.RawQuery))
		case "/loop":
			http.Redirect(w, r, "/loop", http.StatusFound)
		}
	}))
	defer srv.Close()

	s := newScraper(t, func(o *Options) { o.MaxRedirects = 3 })

	resp, err := s.Post(context.Background(), srv.URL+"/start", "text/plain", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "GET m=POST&b=x", string(resp.Body))
	assert.Equal(t, "/end", resp.URL.Path)

	_, err = s.Get(context.Background(), srv.URL+"/loop")
	assert.ErrorIs(t, err, ErrTooManyRedirects)
}

func TestHeadersAndDecoding(t *testing.T) {
	var compressed bytes.Buffer
	bw := brotli.NewWriter(&compressed)
	bw.Write([]byte("decoded body"))
	require.NoError(t, bw.Close())

	var seen http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		w.Header().Set("Content-Encoding", "br")
		w.Write(compressed.Bytes())
	}))
	defer srv.Close()

	s := newScraper(t)
	resp, err := s.Do(context.Background(), &Request{
		URL:    srv.URL + "/",
		Header: http.Header{"X-Custom": {"1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "decoded body", string(resp.Body))
	assert.Empty(t, resp.Header.Get("Content-Encoding"))
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, testAgent, seen.Get("User-Agent"))
	assert.Equal(t, "1", seen.Get("X-Custom"))
}

func TestRoutesThroughProxy(t *testing.T) {
	var via atomic.Int32
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		via.Add(1)
		assert.Equal(t, "upstream.test", r.URL.Host)
		w.Write([]byte("proxied"))
	}))
	defer proxySrv.Close()

	m, err := proxy.NewManager([]string{proxySrv.URL}, proxy.Sequential, time.Minute)
	require.NoError(t, err)
	s := newScraper(t, WithProxies(m))

	resp, err := s.Get(context.Background(), "http://upstream.test/")
	require.NoError(t, err)
	assert.Equal(t, "proxied", string(resp.Body))
	assert.Equal(t, int32(1), via.Load())

	stats := m.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].Success)
}

func TestClosed(t *testing.T) {
	s := newScraper(t)
	require.NoError(t, s.Close())
	_, err := s.Get(context.Background(), "http://example.com/")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Proxy.URLs = []string{"http://p1:8080"}
	cfg.Proxy.Strategy = "smart"
	cfg.Captcha.APIKey = "key"
	cfg.Scraper.ChallengeDelay = time.Second

	opts, err := FromConfig(cfg, nil)
	require.NoError(t, err)

	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	assert.Equal(t, time.Second, options.ChallengeDelay)
	require.NotNil(t, options.Proxies)
	assert.Equal(t, 1, options.Proxies.Len())
	assert.IsType(t, &captcha.TwoCaptcha{}, options.CaptchaSolver)

	cfg.Proxy.Strategy = "fastest"
	_, err = FromConfig(cfg, nil)
	assert.ErrorIs(t, err, proxy.ErrUnknownStrategy)
}
