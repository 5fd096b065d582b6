// Package config provides 12-factor configuration for cfshim.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables.
//
// Configuration Sections:
//   - Server: HTTP API settings (port, host)
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting for the API
//   - Engine: JavaScript engine name, timeout and pool size
//   - Scraper: Challenge delay, redirects, 403 refresh and session lifetime
//   - Browser, Stealth: User agent profile and request shaping
//   - Proxy: Rotation pool, strategy and ban time
//   - Captcha: External solver credentials
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - CFSHIM_PORT, CFSHIM_HOST, CFSHIM_LOG_LEVEL, CFSHIM_LOG_DEV
//   - CFSHIM_ENGINE, CFSHIM_ENGINE_TIMEOUT, CFSHIM_CHALLENGE_DELAY
//   - CFSHIM_PROXIES (comma separated), CFSHIM_PROXY_STRATEGY
//   - CFSHIM_CAPTCHA_API_KEY
package config
