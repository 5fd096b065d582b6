// Package transport provides the HTTP transport the scraper sends through:
// pinned TLS cipher suites, a per-request proxy and response decoding.
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

type proxyKey struct{}

// WithProxy routes requests made with ctx through proxy. A nil proxy
// falls back to the environment.
func WithProxy(ctx context.Context, proxy *url.URL) context.Context {
	return context.WithValue(ctx, proxyKey{}, proxy)
}

// ProxyFromContext returns the proxy stored by WithProxy.
func ProxyFromContext(ctx context.Context) *url.URL {
	u, _ := ctx.Value(proxyKey{}).(*url.URL)
	return u
}

// CipherSuiteTransport is an http.RoundTripper whose TLS cipher suites can
// be swapped between requests.
type CipherSuiteTransport struct {
	mu   sync.RWMutex
	base *http.Transport
}

// New creates a transport with browser-like connection settings.
func New() *CipherSuiteTransport {
	tr := &http.Transport{
		Proxy: proxyFunc,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &CipherSuiteTransport{base: tr}
}

func proxyFunc(req *http.Request) (*url.URL, error) {
	if u := ProxyFromContext(req.Context()); u != nil {
		return u, nil
	}
	return http.ProxyFromEnvironment(req)
}

// SetCipherSuites pins the TLS 1.2 suites offered in new handshakes and
// drops idle connections negotiated with the old set.
func (t *CipherSuiteTransport) SetCipherSuites(suites []uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.base.Clone()
	cfg := next.TLSClientConfig.Clone()
	cfg.CipherSuites = append([]uint16(nil), suites...)
	cfg.MinVersion = tls.VersionTLS12
	next.TLSClientConfig = cfg

	t.base.CloseIdleConnections()
	t.base = next
}

// CipherSuites returns the pinned suites.
func (t *CipherSuiteTransport) CipherSuites() []uint16 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]uint16(nil), t.base.TLSClientConfig.CipherSuites...)
}

// SetInsecureSkipVerify disables certificate checks. Tests against
// httptest TLS servers use it.
func (t *CipherSuiteTransport) SetInsecureSkipVerify(skip bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.base.TLSClientConfig.InsecureSkipVerify = skip
}

func (t *CipherSuiteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.RLock()
	base := t.base
	t.mu.RUnlock()
	return base.RoundTrip(req)
}

// CloseIdleConnections closes idle keep-alive connections.
func (t *CipherSuiteTransport) CloseIdleConnections() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.base.CloseIdleConnections()
}
