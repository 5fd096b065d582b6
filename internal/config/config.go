package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Engine    EngineConfig
	Scraper   ScraperConfig
	Browser   BrowserConfig
	Stealth   StealthConfig
	Proxy     ProxyConfig
	Captcha   CaptchaConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"CFSHIM_PORT" default:"8000"`
	Host string `envconfig:"CFSHIM_HOST" default:"0.0.0.0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"CFSHIM_LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"CFSHIM_LOG_DEV" default:"false"`
}

// RateLimitConfig holds per-IP rate limiting for the HTTP API.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"CFSHIM_RATE_LIMIT_RPS" default:"20"`
	Burst             int  `envconfig:"CFSHIM_RATE_LIMIT_BURST" default:"40"`
	Enabled           bool `envconfig:"CFSHIM_RATE_LIMIT_ENABLED" default:"true"`
}

// EngineConfig selects and sizes the JavaScript engine.
type EngineConfig struct {
	Name     string        `envconfig:"CFSHIM_ENGINE" default:"goja"`
	Timeout  time.Duration `envconfig:"CFSHIM_ENGINE_TIMEOUT" default:"5s"`
	PoolSize int           `envconfig:"CFSHIM_ENGINE_POOL_SIZE" default:"2"`
}

// ScraperConfig holds challenge handling and outbound request settings.
type ScraperConfig struct {
	Timeout                time.Duration `envconfig:"CFSHIM_TIMEOUT" default:"30s"`
	ChallengeDelay         time.Duration `envconfig:"CFSHIM_CHALLENGE_DELAY" default:"4s"`
	MaxRedirects           int           `envconfig:"CFSHIM_MAX_REDIRECTS" default:"10"`
	AutoRefreshOn403       bool          `envconfig:"CFSHIM_AUTO_REFRESH_ON_403" default:"true"`
	Max403Retries          int           `envconfig:"CFSHIM_MAX_403_RETRIES" default:"3"`
	SessionRefreshInterval time.Duration `envconfig:"CFSHIM_SESSION_REFRESH_INTERVAL" default:"1h"`
	RequestsPerSecond      float64       `envconfig:"CFSHIM_UPSTREAM_RPS" default:"0"`
	InsecureSkipVerify     bool          `envconfig:"CFSHIM_INSECURE_SKIP_VERIFY" default:"false"`
}

// BrowserConfig selects the user agent profile.
type BrowserConfig struct {
	Name      string `envconfig:"CFSHIM_BROWSER"`
	Platform  string `envconfig:"CFSHIM_PLATFORM"`
	Desktop   bool   `envconfig:"CFSHIM_DESKTOP" default:"true"`
	Mobile    bool   `envconfig:"CFSHIM_MOBILE" default:"true"`
	UserAgent string `envconfig:"CFSHIM_USER_AGENT"`
}

// StealthConfig controls request pacing and header shaping.
type StealthConfig struct {
	Enabled          bool          `envconfig:"CFSHIM_STEALTH" default:"true"`
	MinDelay         time.Duration `envconfig:"CFSHIM_STEALTH_MIN_DELAY" default:"500ms"`
	MaxDelay         time.Duration `envconfig:"CFSHIM_STEALTH_MAX_DELAY" default:"2s"`
	HumanLikeDelays  bool          `envconfig:"CFSHIM_STEALTH_HUMAN_DELAYS" default:"true"`
	RandomizeHeaders bool          `envconfig:"CFSHIM_STEALTH_RANDOMIZE_HEADERS" default:"true"`
	BrowserQuirks    bool          `envconfig:"CFSHIM_STEALTH_BROWSER_QUIRKS" default:"true"`
}

// ProxyConfig holds the rotation pool.
type ProxyConfig struct {
	URLs     []string      `envconfig:"CFSHIM_PROXIES"`
	Strategy string        `envconfig:"CFSHIM_PROXY_STRATEGY" default:"sequential"`
	BanTime  time.Duration `envconfig:"CFSHIM_PROXY_BAN_TIME" default:"5m"`
}

// CaptchaConfig configures the external captcha solver.
type CaptchaConfig struct {
	Provider string `envconfig:"CFSHIM_CAPTCHA_PROVIDER" default:"2captcha"`
	APIKey   string `envconfig:"CFSHIM_CAPTCHA_API_KEY"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
			Enabled:           true,
		},
		Engine: EngineConfig{
			Name:     "goja",
			Timeout:  5 * time.Second,
			PoolSize: 2,
		},
		Scraper: ScraperConfig{
			Timeout:                30 * time.Second,
			ChallengeDelay:         4 * time.Second,
			MaxRedirects:           10,
			AutoRefreshOn403:       true,
			Max403Retries:          3,
			SessionRefreshInterval: time.Hour,
		},
		Browser: BrowserConfig{
			Desktop: true,
			Mobile:  true,
		},
		Stealth: StealthConfig{
			Enabled:          true,
			MinDelay:         500 * time.Millisecond,
			MaxDelay:         2 * time.Second,
			HumanLikeDelays:  true,
			RandomizeHeaders: true,
			BrowserQuirks:    true,
		},
		Proxy: ProxyConfig{
			Strategy: "sequential",
			BanTime:  5 * time.Minute,
		},
		Captcha: CaptchaConfig{
			Provider: "2captcha",
		},
	}
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	if c.Scraper.Max403Retries < 0 {
		return fmt.Errorf("config: CFSHIM_MAX_403_RETRIES must not be negative")
	}
	if c.Stealth.MaxDelay < c.Stealth.MinDelay {
		return fmt.Errorf("config: stealth max delay %s is below min delay %s", c.Stealth.MaxDelay, c.Stealth.MinDelay)
	}
	if c.Engine.PoolSize < 1 {
		return fmt.Errorf("config: CFSHIM_ENGINE_POOL_SIZE must be at least 1")
	}
	return nil
}
