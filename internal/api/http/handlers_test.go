package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/cfshim/internal/challenge"
	"github.com/GriffinCanCode/cfshim/internal/engine"
	"github.com/GriffinCanCode/cfshim/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/cfshim/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/cfshim/internal/sandbox"
	"github.com/GriffinCanCode/cfshim/internal/scraper"
)

type fakeFetcher struct {
	got  *scraper.Request
	resp *scraper.Response
	err  error
}

func (f *fakeFetcher) Do(_ context.Context, req *scraper.Request) (*scraper.Response, error) {
	f.got = req
	return f.resp, f.err
}

func (f *fakeFetcher) Stats() scraper.Stats {
	return scraper.Stats{UserAgent: "test-agent", Engine: "goja"}
}

func setup(t *testing.T, fetcher Fetcher) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	eng, err := engine.NewGoja(engine.Options{PoolSize: 1})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	pool, err := sandbox.NewPool(sandbox.DefaultConfig(), 1, nil)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	h := NewHandlers(fetcher, eng, pool, monitoring.NewMetrics(), nil)
	router := gin.New()
	router.GET("/", h.Root)
	router.GET("/health", h.Health)
	router.GET("/metrics/json", h.MetricsJSON)
	router.POST("/v1/atob", h.Atob)
	router.POST("/v1/eval", h.Eval)
	router.POST("/v1/fetch", h.Fetch)
	return router
}

func call(t *testing.T, router *gin.Engine, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

func TestRootAndHealth(t *testing.T) {
	router := setup(t, &fakeFetcher{})

	code, body := call(t, router, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "online", body["status"])
	assert.Equal(t, Version, body["version"])

	code, body = call(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "goja", body["engine"])
	assert.Contains(t, body, "sandbox")
	assert.Equal(t, "test-agent", body["scraper"].(map[string]any)["user_agent"])

	code, body = call(t, router, http.MethodGet, "/metrics/json", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "uptime_seconds")
}

func TestAtob(t *testing.T) {
	router := setup(t, nil)

	tests := []struct {
		input  string
		hex    string
		latin1 string
	}{
		{"aGVsbG8h", "68656c6c6f21", "hello!"},
		{"aGVs\nbG8h", "68656c6c6f21", "hello!"},
		{"", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			code, body := call(t, router, http.MethodPost, "/v1/atob", AtobRequest{Input: tt.input})
			assert.Equal(t, http.StatusOK, code)
			assert.Equal(t, tt.hex, body["hex"])
			assert.Equal(t, tt.latin1, body["latin1"])
			assert.EqualValues(t, len(tt.latin1), body["length"])
		})
	}
}

func TestEvalSandbox(t *testing.T) {
	router := setup(t, nil)

	code, body := call(t, router, http.MethodPost, "/v1/eval", EvalRequest{
		Script: `console.log('hi'); document.cookie = 'a=1'; document.createElement('a').firstChild.href`,
		Domain: "a.test",
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "goja", body["engine"])
	assert.Equal(t, "https://a.test/", body["value"])
	assert.Equal(t, "a=1", body["cookie"])
	assert.Len(t, body["console"], 1)
}

func TestEvalUnencodableValues(t *testing.T) {
	router := setup(t, nil)

	tests := []struct {
		script string
		want   string
	}{
		{script: "document", want: "[object Object]"},
		{script: "1/0", want: "Infinity"},
		{script: "({f: function () {}})", want: "[object Object]"},
	}

	for _, tt := range tests {
		t.Run(tt.script, func(t *testing.T) {
			code, body := call(t, router, http.MethodPost, "/v1/eval", EvalRequest{Script: tt.script})
			require.Equal(t, http.StatusOK, code, body)
			assert.Equal(t, tt.want, body["value"])
		})
	}
}

func TestEvalWithAnswer(t *testing.T) {
	router := setup(t, nil)

	code, body := call(t, router, http.MethodPost, "/v1/eval", EvalRequest{
		Script: `var r = 'x.test'.length + 0.5;`,
		Domain: "x.test",
		Answer: `r.toFixed(10)`,
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "6.5000000000", body["value"])
}

func TestEvalErrors(t *testing.T) {
	router := setup(t, nil)

	tests := []struct {
		name string
		req  any
		code int
	}{
		{"missing script", map[string]string{"domain": "a.test"}, http.StatusBadRequest},
		{"thrown", EvalRequest{Script: `throw new Error('boom')`}, http.StatusUnprocessableEntity},
		{"no answer", EvalRequest{Script: `var x = 1;`, Answer: `undefined`}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := call(t, router, http.MethodPost, "/v1/eval", tt.req)
			assert.Equal(t, tt.code, code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestFetch(t *testing.T) {
	final, _ := url.Parse("https://example.com/done")
	fetcher := &fakeFetcher{resp: &scraper.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/html"}},
		Body:       []byte("<html>ok</html>"),
		URL:        final,
		RequestID:  "req-1",
		Duration:   20 * time.Millisecond,
	}}
	router := setup(t, fetcher)

	code, body := call(t, router, http.MethodPost, "/v1/fetch", FetchRequest{
		URL:     "https://example.com/",
		Method:  "post",
		Headers: map[string]string{"x-test": "1"},
		Body:    "a=b",
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.EqualValues(t, 200, body["status"])
	assert.Equal(t, "https://example.com/done", body["url"])
	assert.Equal(t, "<html>ok</html>", body["body"])
	assert.Equal(t, "text/html", body["content_type"])
	assert.Equal(t, "req-1", body["request_id"])
	assert.Equal(t, "text/html", body["headers"].(map[string]any)["Content-Type"])

	require.NotNil(t, fetcher.got)
	assert.Equal(t, http.MethodPost, fetcher.got.Method)
	assert.Equal(t, "1", fetcher.got.Header.Get("X-Test"))
	assert.Equal(t, []byte("a=b"), fetcher.got.Body)
}

func TestFetchErrors(t *testing.T) {
	t.Run("no scraper", func(t *testing.T) {
		code, _ := call(t, setup(t, nil), http.MethodPost, "/v1/fetch", FetchRequest{URL: "https://example.com/"})
		assert.Equal(t, http.StatusServiceUnavailable, code)
	})

	t.Run("bad scheme", func(t *testing.T) {
		code, _ := call(t, setup(t, &fakeFetcher{}), http.MethodPost, "/v1/fetch", FetchRequest{URL: "ftp://example.com/"})
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("upstream error", func(t *testing.T) {
		fetcher := &fakeFetcher{err: fmt.Errorf("scraper: v1 challenge: %w", challenge.ErrFormNotFound)}
		code, body := call(t, setup(t, fetcher), http.MethodPost, "/v1/fetch", FetchRequest{URL: "https://example.com/"})
		assert.Equal(t, http.StatusBadGateway, code)
		assert.Contains(t, body["error"], "v1 challenge")
	})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("wrapped: %w", sandbox.ErrExecutionTimeout), http.StatusGatewayTimeout},
		{resilience.ErrCircuitOpen, http.StatusServiceUnavailable},
		{sandbox.ErrPoolClosed, http.StatusServiceUnavailable},
		{scraper.ErrTooManyRedirects, http.StatusBadGateway},
		{scraper.ErrMaxRetriesExceeded, http.StatusBadGateway},
		{challenge.ErrNoCaptchaSolver, http.StatusBadGateway},
		{engine.ErrNoAnswer, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: boom", sandbox.ErrScript), http.StatusUnprocessableEntity},
		{errors.New("anything else"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
