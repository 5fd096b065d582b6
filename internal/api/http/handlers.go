package http

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/cfshim/internal/challenge"
	"github.com/GriffinCanCode/cfshim/internal/engine"
	"github.com/GriffinCanCode/cfshim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/cfshim/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/cfshim/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/cfshim/internal/proxy"
	"github.com/GriffinCanCode/cfshim/internal/sandbox"
	"github.com/GriffinCanCode/cfshim/internal/scraper"
	"github.com/GriffinCanCode/cfshim/internal/shim"
)

// Version is reported by the root endpoint.
const Version = "0.1.0"

// Fetcher is the part of the scraper the API uses.
type Fetcher interface {
	Do(ctx context.Context, req *scraper.Request) (*scraper.Response, error)
	Stats() scraper.Stats
}

// Handlers contains all HTTP handlers
type Handlers struct {
	fetcher Fetcher
	engine  engine.Engine
	pool    *sandbox.Pool
	metrics *monitoring.Metrics
	logger  *logging.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(fetcher Fetcher, eng engine.Engine, pool *sandbox.Pool, metrics *monitoring.Metrics, logger *logging.Logger) *Handlers {
	return &Handlers{
		fetcher: fetcher,
		engine:  eng,
		pool:    pool,
		metrics: metrics,
		logger:  logging.OrNop(logger).Named("handlers"),
	}
}

// Root handles health check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "cfshim",
		"version": Version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	body := gin.H{
		"status":  "healthy",
		"engine":  h.engine.Name(),
		"sandbox": h.pool.Stats(),
	}
	if h.fetcher != nil {
		body["scraper"] = h.fetcher.Stats()
	}
	c.JSON(http.StatusOK, body)
}

// MetricsJSON returns the metrics snapshot.
func (h *Handlers) MetricsJSON(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}

// AtobRequest is the body of POST /v1/atob.
type AtobRequest struct {
	Input string `json:"input"`
}

// Atob decodes base64 the way a browser's atob does.
func (h *Handlers) Atob(c *gin.Context) {
	var req AtobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	decoded := shim.Atob(req.Input)
	c.JSON(http.StatusOK, gin.H{
		"hex":    hex.EncodeToString(decoded),
		"latin1": shim.Latin1(decoded),
		"length": len(decoded),
	})
}

// EvalRequest is the body of POST /v1/eval. With Answer set the script
// runs as a challenge job in the configured engine and Answer is read
// afterwards; otherwise the script runs in the goja sandbox and its
// completion value and console output are returned.
type EvalRequest struct {
	Script    string `json:"script" binding:"required"`
	Domain    string `json:"domain"`
	UserAgent string `json:"user_agent"`
	Answer    string `json:"answer"`
}

// Eval runs a script with the browser shim installed.
func (h *Handlers) Eval(c *gin.Context) {
	var req EvalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	if req.Answer != "" {
		timer := monitoring.NewTimer(h.metrics, h.engine.Name())
		answer, err := h.engine.Solve(ctx, engine.Job{
			Domain:     req.Domain,
			UserAgent:  req.UserAgent,
			Scripts:    []string{req.Script},
			AnswerExpr: req.Answer,
		})
		if err != nil {
			timer.Stop(monitoring.OutcomeFailed)
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"engine":      h.engine.Name(),
			"value":       answer,
			"duration_ms": timer.Stop(monitoring.OutcomeSolved).Milliseconds(),
		})
		return
	}

	cfg := shim.Config{Domain: req.Domain, UserAgent: req.UserAgent}
	res, err := h.pool.Execute(ctx, cfg, req.Script)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"engine":       "goja",
		"value":        res.Value,
		"console":      res.Console,
		"cookie":       res.Cookie,
		"timers_fired": res.TimersFired,
		"duration_ms":  res.Duration.Milliseconds(),
	})
}

// FetchRequest is the body of POST /v1/fetch.
type FetchRequest struct {
	URL     string            `json:"url" binding:"required"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// Fetch retrieves a page through the scraper.
func (h *Handlers) Fetch(c *gin.Context) {
	if h.fetcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scraper not configured"})
		return
	}

	var req FetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url must be http or https"})
		return
	}

	header := make(http.Header, len(req.Headers))
	for k, v := range req.Headers {
		header.Set(k, v)
	}
	out := &scraper.Request{
		Method: strings.ToUpper(req.Method),
		URL:    req.URL,
		Header: header,
	}
	if req.Body != "" {
		out.Body = []byte(req.Body)
	}

	resp, err := h.fetcher.Do(c.Request.Context(), out)
	if err != nil {
		h.fail(c, err)
		return
	}

	body, err := resp.Text()
	if err != nil {
		body = string(resp.Body)
	}
	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       resp.StatusCode,
		"url":          resp.URL.String(),
		"headers":      headers,
		"content_type": resp.MediaType(),
		"body":         body,
		"request_id":   resp.RequestID,
		"duration_ms":  resp.Duration.Milliseconds(),
	})
}

// fail maps domain errors onto status codes.
func (h *Handlers) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, sandbox.ErrExecutionTimeout),
		errors.Is(err, sandbox.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, resilience.ErrTooManyRequests),
		errors.Is(err, proxy.ErrAllProxiesBanned),
		errors.Is(err, sandbox.ErrPoolClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, challenge.ErrChallenge),
		errors.Is(err, challenge.ErrUnknownChallenge),
		errors.Is(err, challenge.ErrNoCaptchaSolver),
		errors.Is(err, challenge.ErrFormNotFound),
		errors.Is(err, scraper.ErrMaxRetriesExceeded),
		errors.Is(err, scraper.ErrTooManyRedirects):
		return http.StatusBadGateway
	case errors.Is(err, engine.ErrNoAnswer), errors.Is(err, sandbox.ErrScript):
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadGateway
}
