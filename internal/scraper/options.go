package scraper

import (
	"fmt"
	"strings"
	"time"

	"github.com/GriffinCanCode/cfshim/internal/captcha"
	"github.com/GriffinCanCode/cfshim/internal/config"
	"github.com/GriffinCanCode/cfshim/internal/engine"
	"github.com/GriffinCanCode/cfshim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/cfshim/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/cfshim/internal/proxy"
	"github.com/GriffinCanCode/cfshim/internal/stealth"
	"github.com/GriffinCanCode/cfshim/internal/useragent"
)

// Options holds all configuration for the scraper.
type Options struct {
	Timeout                time.Duration
	ChallengeDelay         time.Duration // wait before answering a v1 challenge
	MaxRedirects           int
	AutoRefreshOn403       bool
	Max403Retries          int
	SessionRefreshInterval time.Duration
	RotateCiphers          bool
	RequestsPerSecond      float64 // 0 is unlimited
	InsecureSkipVerify     bool

	Browser useragent.Config
	Stealth stealth.Options

	EngineName    string
	EngineOptions engine.Options
	Engine        engine.Engine // overrides EngineName; not closed by the scraper

	CaptchaSolver captcha.Solver
	Proxies       *proxy.Manager

	Logger  *logging.Logger
	Metrics *monitoring.Metrics
}

// DefaultOptions mirrors a browser that waits out Cloudflare's delay and
// refreshes its identity when blocked.
func DefaultOptions() Options {
	return Options{
		Timeout:                30 * time.Second,
		ChallengeDelay:         4 * time.Second,
		MaxRedirects:           10,
		AutoRefreshOn403:       true,
		Max403Retries:          3,
		SessionRefreshInterval: time.Hour,
		RotateCiphers:          true,
		Stealth:                stealth.DefaultOptions(),
		EngineName:             "goja",
		EngineOptions:          engine.DefaultOptions(),
	}
}

// Option configures a Scraper.
type Option func(*Options)

// WithBrowser configures the browser profile to use.
func WithBrowser(cfg useragent.Config) Option {
	return func(o *Options) { o.Browser = cfg }
}

// WithEngine selects a runtime by name.
func WithEngine(name string, opts engine.Options) Option {
	return func(o *Options) {
		o.EngineName = name
		o.EngineOptions = opts
	}
}

// WithEngineInstance shares an engine the caller owns.
func WithEngineInstance(eng engine.Engine) Option {
	return func(o *Options) { o.Engine = eng }
}

// WithCaptchaSolver configures a captcha solver.
func WithCaptchaSolver(solver captcha.Solver) Option {
	return func(o *Options) { o.CaptchaSolver = solver }
}

// WithProxies routes requests through the manager's pool.
func WithProxies(m *proxy.Manager) Option {
	return func(o *Options) { o.Proxies = m }
}

// WithStealth configures the stealth mode options.
func WithStealth(opts stealth.Options) Option {
	return func(o *Options) { o.Stealth = opts }
}

// WithSessionConfig configures session handling.
func WithSessionConfig(refreshOn403 bool, interval time.Duration, maxRetries int) Option {
	return func(o *Options) {
		o.AutoRefreshOn403 = refreshOn403
		o.SessionRefreshInterval = interval
		o.Max403Retries = maxRetries
	}
}

// WithChallengeDelay sets how long v1 challenges wait before submitting.
func WithChallengeDelay(d time.Duration) Option {
	return func(o *Options) { o.ChallengeDelay = d }
}

// WithTimeout bounds each upstream round trip.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(rps float64) Option {
	return func(o *Options) { o.RequestsPerSecond = rps }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithMetrics records upstream and challenge metrics.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// FromConfig maps application configuration onto scraper options. The
// proxy list is parsed here so bad URLs fail at startup.
func FromConfig(cfg *config.Config, logger *logging.Logger) ([]Option, error) {
	opts := []Option{
		WithLogger(logger),
		func(o *Options) {
			o.Timeout = cfg.Scraper.Timeout
			o.ChallengeDelay = cfg.Scraper.ChallengeDelay
			o.MaxRedirects = cfg.Scraper.MaxRedirects
			o.AutoRefreshOn403 = cfg.Scraper.AutoRefreshOn403
			o.Max403Retries = cfg.Scraper.Max403Retries
			o.SessionRefreshInterval = cfg.Scraper.SessionRefreshInterval
			o.RequestsPerSecond = cfg.Scraper.RequestsPerSecond
			o.InsecureSkipVerify = cfg.Scraper.InsecureSkipVerify
			o.Browser = useragent.Config{
				Browser:  cfg.Browser.Name,
				Platform: cfg.Browser.Platform,
				Desktop:  cfg.Browser.Desktop,
				Mobile:   cfg.Browser.Mobile,
				Custom:   cfg.Browser.UserAgent,
			}
			o.Stealth = stealth.Options{
				Enabled:          cfg.Stealth.Enabled,
				MinDelay:         cfg.Stealth.MinDelay,
				MaxDelay:         cfg.Stealth.MaxDelay,
				HumanLikeDelays:  cfg.Stealth.HumanLikeDelays,
				RandomizeHeaders: cfg.Stealth.RandomizeHeaders,
				BrowserQuirks:    cfg.Stealth.BrowserQuirks,
			}
			o.EngineName = cfg.Engine.Name
			o.EngineOptions.Sandbox.Timeout = cfg.Engine.Timeout
			o.EngineOptions.PoolSize = cfg.Engine.PoolSize
		},
	}

	if len(cfg.Proxy.URLs) > 0 {
		strategy, err := proxy.ParseStrategy(cfg.Proxy.Strategy)
		if err != nil {
			return nil, err
		}
		m, err := proxy.NewManager(cfg.Proxy.URLs, strategy, cfg.Proxy.BanTime)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithProxies(m))
	}

	if cfg.Captcha.APIKey != "" {
		if !strings.EqualFold(cfg.Captcha.Provider, "2captcha") {
			return nil, fmt.Errorf("scraper: unsupported captcha provider %q", cfg.Captcha.Provider)
		}
		opts = append(opts, WithCaptchaSolver(captcha.NewTwoCaptcha(cfg.Captcha.APIKey, logger)))
	}
	return opts, nil
}
