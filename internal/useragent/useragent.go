// Package useragent picks a coherent browser profile: a user agent string,
// the default headers that browser sends and its TLS cipher suite order.
package useragent

import (
	"crypto/tls"
	_ "embed"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"
)

//go:embed browsers.yaml
var catalogueYAML []byte

var ErrNoMatch = errors.New("useragent: no user agents match")

// Agent represents a browser profile.
type Agent struct {
	Headers      http.Header
	CipherSuites []uint16
	Browser      string
}

// UserAgent returns the profile's User-Agent header.
func (a *Agent) UserAgent() string {
	return a.Headers.Get("User-Agent")
}

// Config filters the catalogue. Zero values match everything.
type Config struct {
	Browser  string // chrome, firefox
	Platform string // windows, darwin, linux, android, ios
	Desktop  bool
	Mobile   bool
	Custom   string // used verbatim, skipping the catalogue
}

type catalogue struct {
	Headers      map[string]map[string]string              `yaml:"headers"`
	CipherSuites map[string][]string                       `yaml:"cipher_suites"`
	UserAgents   map[string]map[string]map[string][]string `yaml:"user_agents"`
}

var (
	loadOnce sync.Once
	loaded   *catalogue
	loadErr  error
)

func load() (*catalogue, error) {
	loadOnce.Do(func() {
		var c catalogue
		if err := yaml.Unmarshal(catalogueYAML, &c); err != nil {
			loadErr = fmt.Errorf("useragent: parse catalogue: %w", err)
			return
		}
		loaded = &c
	})
	return loaded, loadErr
}

var cipherNames = map[string]uint16{
	// TLS 1.3
	"TLS_AES_128_GCM_SHA256":       tls.TLS_AES_128_GCM_SHA256,
	"TLS_AES_256_GCM_SHA384":       tls.TLS_AES_256_GCM_SHA384,
	"TLS_CHACHA20_POLY1305_SHA256": tls.TLS_CHACHA20_POLY1305_SHA256,
	// ECDHE
	"ECDHE-ECDSA-AES128-GCM-SHA256": tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	"ECDHE-RSA-AES128-GCM-SHA256":   tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	"ECDHE-ECDSA-AES256-GCM-SHA384": tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	"ECDHE-RSA-AES256-GCM-SHA384":   tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	"ECDHE-ECDSA-CHACHA20-POLY1305": tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	"ECDHE-RSA-CHACHA20-POLY1305":   tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	"ECDHE-RSA-AES128-SHA":          tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
	"ECDHE-RSA-AES256-SHA":          tls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
	"ECDHE-ECDSA-AES128-SHA":        tls.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA,
	"ECDHE-ECDSA-AES256-SHA":        tls.TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA,
	// RSA key exchange
	"AES128-GCM-SHA256": tls.TLS_RSA_WITH_AES_128_GCM_SHA256,
	"AES256-GCM-SHA384": tls.TLS_RSA_WITH_AES_256_GCM_SHA384,
	"AES128-SHA":        tls.TLS_RSA_WITH_AES_128_CBC_SHA,
	"AES256-SHA":        tls.TLS_RSA_WITH_AES_256_CBC_SHA,
}

// customCiphers is the generic set used with a caller-supplied user agent.
var customCiphers = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_CHACHA20_POLY1305_SHA256,
}

// Ciphers maps OpenSSL-style names to crypto/tls ids, skipping unknown
// names.
func Ciphers(names []string) []uint16 {
	var out []uint16
	for _, name := range names {
		if id, ok := cipherNames[strings.ToUpper(strings.TrimSpace(name))]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Browsers lists the browsers in the catalogue.
func Browsers() []string {
	c, err := load()
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(c.Headers))
	for name := range c.Headers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// New picks a random profile matching cfg.
func New(cfg Config) (*Agent, error) {
	if cfg.Custom != "" {
		return &Agent{
			Headers:      http.Header{"User-Agent": {cfg.Custom}},
			CipherSuites: append([]uint16(nil), customCiphers...),
			Browser:      "custom",
		}, nil
	}

	c, err := load()
	if err != nil {
		return nil, err
	}

	if !cfg.Desktop && !cfg.Mobile {
		cfg.Desktop, cfg.Mobile = true, true
	}

	browser := strings.ToLower(cfg.Browser)
	if browser == "" {
		candidates := Browsers()
		browser = candidates[rand.IntN(len(candidates))]
	}
	platform := strings.ToLower(cfg.Platform)

	var agents []string
	if cfg.Desktop {
		agents = append(agents, filter(c.UserAgents["desktop"], platform, browser)...)
	}
	if cfg.Mobile {
		agents = append(agents, filter(c.UserAgents["mobile"], platform, browser)...)
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("%w: browser=%q platform=%q desktop=%t mobile=%t",
			ErrNoMatch, cfg.Browser, cfg.Platform, cfg.Desktop, cfg.Mobile)
	}

	headers := make(http.Header)
	for key, value := range c.Headers[browser] {
		headers.Set(key, value)
	}
	headers.Set("User-Agent", agents[rand.IntN(len(agents))])

	return &Agent{
		Headers:      headers,
		CipherSuites: Ciphers(c.CipherSuites[browser]),
		Browser:      browser,
	}, nil
}

// filter collects agents for browser, from one platform or all of them.
// Platforms are visited in sorted order.
func filter(source map[string]map[string][]string, platform, browser string) []string {
	if platform != "" {
		return source[platform][browser]
	}

	platforms := make([]string, 0, len(source))
	for p := range source {
		platforms = append(platforms, p)
	}
	sort.Strings(platforms)

	var out []string
	for _, p := range platforms {
		out = append(out, source[p][browser]...)
	}
	return out
}
