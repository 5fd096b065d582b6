// Package stealth makes request timing and headers look like a person
// driving a browser.
package stealth

import (
	"context"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Options configures the stealth mode.
type Options struct {
	Enabled          bool
	MinDelay         time.Duration
	MaxDelay         time.Duration
	FixedDelay       time.Duration // used when HumanLikeDelays is off
	HumanLikeDelays  bool
	RandomizeHeaders bool
	BrowserQuirks    bool
}

// DefaultOptions enables every technique with a 0.5s to 2s delay.
func DefaultOptions() Options {
	return Options{
		Enabled:          true,
		MinDelay:         500 * time.Millisecond,
		MaxDelay:         2 * time.Second,
		HumanLikeDelays:  true,
		RandomizeHeaders: true,
		BrowserQuirks:    true,
	}
}

var acceptLanguages = []string{"en-US,en;q=0.9", "en-GB,en;q=0.8", "en-CA,en;q=0.7"}

// Mode handles applying stealth techniques.
type Mode struct {
	opts  Options
	sleep func(context.Context, time.Duration) error

	mu           sync.Mutex
	requestCount int
	lastRequest  time.Time
}

// New creates a Mode, filling in default delay bounds.
func New(opts Options) *Mode {
	if opts.MinDelay <= 0 {
		opts.MinDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = opts.MinDelay
	}
	return &Mode{opts: opts, sleep: sleep}
}

// Apply waits out the inter-request delay, then fills in randomised and
// browser-specific headers. Headers already set on req are left alone.
func (s *Mode) Apply(ctx context.Context, req *http.Request, browser string) error {
	if s == nil || !s.opts.Enabled {
		return nil
	}

	if err := s.sleep(ctx, s.delay()); err != nil {
		return err
	}

	if s.opts.RandomizeHeaders && req.Header.Get("Accept-Language") == "" {
		req.Header.Set("Accept-Language", acceptLanguages[rand.IntN(len(acceptLanguages))])
	}
	if s.opts.BrowserQuirks {
		for key, value := range quirks(browser, req.Header.Get("User-Agent")) {
			if req.Header.Get(key) == "" {
				req.Header.Set(key, value)
			}
		}
	}

	s.mu.Lock()
	s.requestCount++
	s.lastRequest = time.Now()
	s.mu.Unlock()
	return nil
}

// Requests returns how many requests Apply has processed.
func (s *Mode) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestCount
}

// delay is zero for the first request.
func (s *Mode) delay() time.Duration {
	s.mu.Lock()
	first := s.requestCount == 0
	s.mu.Unlock()
	if first {
		return 0
	}

	switch {
	case s.opts.HumanLikeDelays:
		spread := s.opts.MaxDelay - s.opts.MinDelay
		if spread <= 0 {
			return s.opts.MinDelay
		}
		return s.opts.MinDelay + rand.N(spread)
	default:
		return s.opts.FixedDelay
	}
}

func quirks(browser, userAgent string) map[string]string {
	switch browser {
	case "chrome":
		mobile := "?0"
		if strings.Contains(userAgent, "Mobile") {
			mobile = "?1"
		}
		return map[string]string{
			"sec-ch-ua":          `"Not_A Brand";v="99", "Google Chrome";v="120", "Chromium";v="120"`,
			"sec-ch-ua-mobile":   mobile,
			"sec-ch-ua-platform": platform(userAgent),
			"Sec-Fetch-Site":     "none",
			"Sec-Fetch-Mode":     "navigate",
			"Sec-Fetch-User":     "?1",
			"Sec-Fetch-Dest":     "document",
		}
	case "firefox":
		return map[string]string{
			"Upgrade-Insecure-Requests": "1",
		}
	default:
		return nil
	}
}

// platform derives the sec-ch-ua-platform value from a user agent,
// defaulting to Windows.
func platform(userAgent string) string {
	switch {
	case strings.Contains(userAgent, "Android"):
		return `"Android"`
	case strings.Contains(userAgent, "iPhone"), strings.Contains(userAgent, "iPad"):
		return `"iOS"`
	case strings.Contains(userAgent, "Macintosh"):
		return `"macOS"`
	case strings.Contains(userAgent, "Linux"), strings.Contains(userAgent, "X11"):
		return `"Linux"`
	default:
		return `"Windows"`
	}
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
