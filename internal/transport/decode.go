package transport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

var ErrUnsupportedEncoding = errors.New("transport: unsupported content encoding")

// NewReader wraps r in decoders for a Content-Encoding value. Stacked
// encodings are undone in reverse order.
func NewReader(contentEncoding string, r io.Reader) (io.ReadCloser, error) {
	var codings []string
	for _, c := range strings.Split(contentEncoding, ",") {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" && c != "identity" {
			codings = append(codings, c)
		}
	}

	closers := []io.Closer{}
	for i := len(codings) - 1; i >= 0; i-- {
		next, err := decoder(codings[i], r)
		if err != nil {
			for _, c := range closers {
				c.Close()
			}
			return nil, err
		}
		closers = append(closers, next)
		r = next
	}
	return &stack{Reader: r, closers: closers}, nil
}

func decoder(coding string, r io.Reader) (io.ReadCloser, error) {
	switch coding {
	case "br":
		return io.NopCloser(brotli.NewReader(r)), nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("transport: gzip: %w", err)
		}
		return zr, nil
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("transport: zstd: %w", err)
		}
		return zr.IOReadCloser(), nil
	case "deflate":
		return deflate(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, coding)
	}
}

// deflate accepts both zlib-wrapped and raw deflate streams; servers send
// either under the same name.
func deflate(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(2)
	if err == nil && head[0]&0x0f == 8 && (uint16(head[0])<<8|uint16(head[1]))%31 == 0 {
		zr, err := zlib.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("transport: deflate: %w", err)
		}
		return zr, nil
	}
	return flate.NewReader(br), nil
}

type stack struct {
	io.Reader
	closers []io.Closer
}

func (s *stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i].Close())
	}
	return errors.Join(errs...)
}

// DecodeBytes decodes a fully read body.
func DecodeBytes(contentEncoding string, raw []byte) ([]byte, error) {
	r, err := NewReader(contentEncoding, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("transport: decode %s: %w", contentEncoding, err)
	}
	return out, nil
}

// Decode replaces resp.Body with its decoded form and drops the encoding
// headers.
func Decode(resp *http.Response) error {
	enc := resp.Header.Get("Content-Encoding")
	if enc == "" {
		return nil
	}
	r, err := NewReader(enc, resp.Body)
	if err != nil {
		return err
	}
	resp.Body = &body{ReadCloser: r, raw: resp.Body}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// body closes the decoder chain and then the network body.
type body struct {
	io.ReadCloser
	raw io.Closer
}

func (b *body) Close() error {
	return errors.Join(b.ReadCloser.Close(), b.raw.Close())
}
