package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payload = "<html><body>Just a moment...</body></html>"

func encode(t *testing.T, coding string, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w io.WriteCloser
	var err error
	switch coding {
	case "br":
		w = brotli.NewWriter(&buf)
	case "gzip":
		w = gzip.NewWriter(&buf)
	case "zstd":
		w, err = zstd.NewWriter(&buf)
	case "deflate":
		w = zlib.NewWriter(&buf)
	case "raw-deflate":
		w, err = flate.NewWriter(&buf, flate.DefaultCompression)
	}
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestDecodeBytes(t *testing.T) {
	tests := []struct {
		name   string
		coding string
		header string
	}{
		{name: "brotli", coding: "br", header: "br"},
		{name: "gzip", coding: "gzip", header: "gzip"},
		{name: "zstd", coding: "zstd", header: "zstd"},
		{name: "zlib deflate", coding: "deflate", header: "deflate"},
		{name: "raw deflate", coding: "raw-deflate", header: "deflate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := DecodeBytes(tt.header, encode(t, tt.coding, []byte(payload)))
			require.NoError(t, err)
			assert.Equal(t, payload, string(out))
		})
	}
}

func TestDecodeStacked(t *testing.T) {
	raw := encode(t, "br", encode(t, "gzip", []byte(payload)))
	out, err := DecodeBytes("gzip, br", raw)
	require.NoError(t, err)
	assert.Equal(t, payload, string(out))
}

func TestDecodeIdentityAndUnknown(t *testing.T) {
	out, err := DecodeBytes("identity", []byte(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, string(out))

	_, err = DecodeBytes("compress", []byte(payload))
	assert.ErrorIs(t, err, ErrUnsupportedEncoding)
}

func TestDecodeResponse(t *testing.T) {
	resp := &http.Response{
		Header: http.Header{"Content-Encoding": {"br"}, "Content-Length": {"10"}},
		Body:   io.NopCloser(bytes.NewReader(encode(t, "br", []byte(payload)))),
	}
	require.NoError(t, Decode(resp))
	assert.Empty(t, resp.Header.Get("Content-Encoding"))
	assert.Empty(t, resp.Header.Get("Content-Length"))

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, string(got))
	assert.NoError(t, resp.Body.Close())

	plain := &http.Response{Header: http.Header{}, Body: io.NopCloser(strings.NewReader("x"))}
	require.NoError(t, Decode(plain))
}

func TestCipherSuites(t *testing.T) {
	tr := New()
	suites := []uint16{tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256, tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256}
	tr.SetCipherSuites(suites)
	assert.Equal(t, suites, tr.CipherSuites())

	suites[0] = 0
	assert.Equal(t, tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256, tr.CipherSuites()[0])
}

func TestRoundTripTLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	tr := New()
	tr.SetCipherSuites([]uint16{tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256})
	tr.SetInsecureSkipVerify(true)

	client := &http.Client{Transport: tr}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", string(body))
}

func TestProxyFromContext(t *testing.T) {
	assert.Nil(t, ProxyFromContext(context.Background()))

	u, _ := url.Parse("http://proxy.local:8080")
	ctx := WithProxy(context.Background(), u)
	assert.Equal(t, u, ProxyFromContext(ctx))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://example.com", nil)
	require.NoError(t, err)
	got, err := proxyFunc(req)
	require.NoError(t, err)
	assert.Equal(t, u, got)
}

func TestProxyRoutesThroughContext(t *testing.T) {
	var seen string
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.URL.String()
		io.WriteString(w, "via proxy")
	}))
	defer proxy.Close()

	pu, _ := url.Parse(proxy.URL)
	req, err := http.NewRequestWithContext(WithProxy(context.Background(), pu), http.MethodGet, "http://upstream.invalid/path", nil)
	require.NoError(t, err)

	resp, err := (&http.Client{Transport: New()}).Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "via proxy", string(body))
	assert.Equal(t, "http://upstream.invalid/path", seen)
}
