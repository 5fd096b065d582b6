package captcha

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/cfshim/internal/infrastructure/logging"
)

const (
	defaultBaseURL  = "https://2captcha.com"
	notReady        = "CAPCHA_NOT_READY"
	defaultInterval = 5 * time.Second
	defaultAttempts = 36
)

// TwoCaptcha implements Solver against the 2captcha.com in/res API.
type TwoCaptcha struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	PollAttempts int

	http   *retryablehttp.Client
	logger *logging.Logger
}

type twoCaptchaResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// NewTwoCaptcha creates a 2captcha solver polling every 5s for up to 3m.
func NewTwoCaptcha(apiKey string, logger *logging.Logger) *TwoCaptcha {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 10 * time.Second
	client.HTTPClient.Timeout = 30 * time.Second
	client.Logger = nil

	return &TwoCaptcha{
		APIKey:       apiKey,
		BaseURL:      defaultBaseURL,
		PollInterval: defaultInterval,
		PollAttempts: defaultAttempts,
		http:         client,
		logger:       logging.OrNop(logger).Named("captcha.2captcha"),
	}
}

func method(kind string) (string, error) {
	switch kind {
	case KindReCaptcha:
		return "userrecaptcha", nil
	case KindHCaptcha:
		return "hcaptcha", nil
	case KindTurnstile:
		return "turnstile", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}
}

// Solve submits the job, then polls until a token is ready.
func (s *TwoCaptcha) Solve(ctx context.Context, kind, pageURL, siteKey string) (string, error) {
	m, err := method(kind)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("key", s.APIKey)
	form.Set("method", m)
	// hcaptcha and turnstile site keys travel in googlekey too.
	form.Set("googlekey", siteKey)
	form.Set("sitekey", siteKey)
	form.Set("pageurl", pageURL)
	form.Set("json", "1")

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/in.php", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("captcha: build submit: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := s.do(req)
	if err != nil {
		return "", fmt.Errorf("captcha: submit: %w", err)
	}
	if res.Status != 1 {
		return "", fmt.Errorf("%w: submit: %s", ErrRejected, res.Request)
	}

	s.logger.Debug("captcha submitted", zap.String("kind", kind), zap.String("job", res.Request))
	return s.poll(ctx, res.Request)
}

func (s *TwoCaptcha) poll(ctx context.Context, jobID string) (string, error) {
	q := url.Values{}
	q.Set("key", s.APIKey)
	q.Set("action", "get")
	q.Set("id", jobID)
	q.Set("json", "1")
	target := s.BaseURL + "/res.php?" + q.Encode()

	for i := 0; i < s.PollAttempts; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.PollInterval):
		}

		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return "", fmt.Errorf("captcha: build poll: %w", err)
		}
		res, err := s.do(req)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			s.logger.Debug("captcha poll failed", zap.Int("attempt", i+1), zap.Error(err))
			continue
		}

		switch {
		case res.Status == 1:
			return res.Request, nil
		case res.Request != notReady:
			return "", fmt.Errorf("%w: poll: %s", ErrRejected, res.Request)
		}
	}

	return "", ErrSolveTimeout
}

func (s *TwoCaptcha) do(req *retryablehttp.Request) (*twoCaptchaResponse, error) {
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var out twoCaptchaResponse
	if err := sonic.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode %q: %w", body, err)
	}
	return &out, nil
}
