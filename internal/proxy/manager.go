// Package proxy rotates outbound proxies and temporarily bans failing ones.
package proxy

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// Strategy defines the proxy rotation strategy.
type Strategy string

const (
	Sequential Strategy = "sequential"
	Random     Strategy = "random"
	Smart      Strategy = "smart"
)

// DefaultBanTime applies when a manager is built with a zero ban time.
const DefaultBanTime = 5 * time.Minute

var (
	ErrAllProxiesBanned = errors.New("proxy: all proxies are currently banned")
	ErrUnknownStrategy  = errors.New("proxy: unknown strategy")
)

// Stat holds statistics for a single proxy.
type Stat struct {
	URL         string    `json:"url"`
	Success     int       `json:"success"`
	Failure     int       `json:"failure"`
	LastUsed    time.Time `json:"last_used"`
	BannedUntil time.Time `json:"banned_until,omitempty"`
}

func (s *Stat) ratio() float64 {
	total := s.Success + s.Failure
	if total == 0 {
		// Untried proxies rank as if they had never failed.
		return 1
	}
	return float64(s.Success) / float64(total)
}

// Manager handles proxy rotation and temporary banning.
type Manager struct {
	mu       sync.Mutex
	proxies  []*url.URL
	strategy Strategy
	next     int
	banned   map[string]time.Time
	stats    map[string]*Stat
	banTime  time.Duration
	now      func() time.Time
}

// ParseStrategy accepts the strategy names case-insensitively. Empty means
// sequential.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return Sequential, nil
	case Sequential, Random, Smart:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

// NewManager creates a new proxy manager.
func NewManager(proxyURLs []string, strategy Strategy, banTime time.Duration) (*Manager, error) {
	strategy, err := ParseStrategy(string(strategy))
	if err != nil {
		return nil, err
	}
	if banTime <= 0 {
		banTime = DefaultBanTime
	}

	m := &Manager{
		strategy: strategy,
		banned:   make(map[string]time.Time),
		stats:    make(map[string]*Stat),
		banTime:  banTime,
		now:      time.Now,
	}
	for _, p := range proxyURLs {
		parsed, err := url.Parse(strings.TrimSpace(p))
		if err != nil || parsed.Host == "" {
			return nil, fmt.Errorf("proxy: invalid proxy URL %q", p)
		}
		m.proxies = append(m.proxies, parsed)
		m.stats[parsed.String()] = &Stat{URL: parsed.String()}
	}
	return m, nil
}

// Len returns the number of configured proxies.
func (m *Manager) Len() int {
	if m == nil {
		return 0
	}
	return len(m.proxies)
}

// Next selects a proxy based on the configured strategy. It returns nil
// without error when no proxies are configured.
func (m *Manager) Next() (*url.URL, error) {
	if m == nil {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.proxies) == 0 {
		return nil, nil
	}

	available := m.available()
	if len(available) == 0 {
		return nil, ErrAllProxiesBanned
	}

	var chosen *url.URL
	switch m.strategy {
	case Random:
		chosen = available[rand.IntN(len(available))]
	case Smart:
		chosen = m.best(available)
	default:
		chosen = available[m.next%len(available)]
		m.next++
	}

	m.stats[chosen.String()].LastUsed = m.now()
	return chosen, nil
}

// best picks the highest success ratio, breaking ties by least recent use.
func (m *Manager) best(available []*url.URL) *url.URL {
	chosen := available[0]
	for _, p := range available[1:] {
		a, b := m.stats[p.String()], m.stats[chosen.String()]
		if a.ratio() > b.ratio() || (a.ratio() == b.ratio() && a.LastUsed.Before(b.LastUsed)) {
			chosen = p
		}
	}
	return chosen
}

// ReportSuccess marks a proxy as successful and lifts any ban.
func (m *Manager) ReportSuccess(proxy *url.URL) {
	if m == nil || proxy == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := proxy.String()
	delete(m.banned, key)
	if stat, ok := m.stats[key]; ok {
		stat.Success++
	}
}

// ReportFailure marks a proxy as failed and bans it for the ban time.
func (m *Manager) ReportFailure(proxy *url.URL) {
	if m == nil || proxy == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := proxy.String()
	m.banned[key] = m.now()
	if stat, ok := m.stats[key]; ok {
		stat.Failure++
	}
}

// Stats returns a snapshot of per-proxy statistics sorted by URL.
func (m *Manager) Stats() []Stat {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Stat, 0, len(m.stats))
	for key, s := range m.stats {
		stat := *s
		if at, ok := m.banned[key]; ok && m.now().Sub(at) <= m.banTime {
			stat.BannedUntil = at.Add(m.banTime)
		}
		out = append(out, stat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

func (m *Manager) available() []*url.URL {
	var available []*url.URL
	now := m.now()
	for _, p := range m.proxies {
		if at, ok := m.banned[p.String()]; !ok || now.Sub(at) > m.banTime {
			available = append(available, p)
		}
	}
	return available
}
