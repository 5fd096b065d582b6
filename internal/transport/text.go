package transport

import (
	"bytes"
	"fmt"
	"mime"

	"github.com/gabriel-vasile/mimetype"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"
)

// minConfidence is the chardet score below which its guess is ignored.
const minConfidence = 50

// Text converts a response body to UTF-8 and reports the charset used.
// The charset comes from contentType, a byte order mark or a <meta> tag;
// when none is conclusive and the body is not valid UTF-8 it is sniffed.
func Text(body []byte, contentType string) (string, string, error) {
	enc, name, certain := charset.DetermineEncoding(body, contentType)
	if !certain && name != "utf-8" && !declaresCharset(body) {
		if guess, err := chardet.NewTextDetector().DetectBest(body); err == nil && guess.Confidence >= minConfidence {
			if e, err := htmlindex.Get(guess.Charset); err == nil {
				enc = e
				if n, err := htmlindex.Name(e); err == nil {
					name = n
				}
			}
		}
	}

	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return "", name, fmt.Errorf("transport: decode %s: %w", name, err)
	}
	return string(out), name, nil
}

// declaresCharset reports whether the head of an HTML body names its
// charset, in which case DetermineEncoding has already honored it.
func declaresCharset(body []byte) bool {
	if len(body) > 1024 {
		body = body[:1024]
	}
	return bytes.Contains(bytes.ToLower(body), []byte("charset"))
}

// MediaType returns the body's media type without parameters, sniffing
// the bytes when contentType is missing or generic.
func MediaType(body []byte, contentType string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && mt != "application/octet-stream" {
		return mt
	}
	mt, _, err := mime.ParseMediaType(mimetype.Detect(body).String())
	if err != nil {
		return "application/octet-stream"
	}
	return mt
}
