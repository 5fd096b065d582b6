package challenge

import (
	"net/http"
	"regexp"
	"strings"
)

var (
	v1DetectRegex      = regexp.MustCompile(`(?i)cdn-cgi/images/trace/jsch/`)
	v2DetectRegex      = regexp.MustCompile(`(?i)/cdn-cgi/challenge-platform/`)
	captchaDetectRegex = regexp.MustCompile(`data-sitekey="([^\"]+)"`)
)

// Kind classifies a Cloudflare interstitial.
type Kind int

const (
	KindNone Kind = iota
	KindV1
	KindV2
	KindCaptcha
)

func (k Kind) String() string {
	switch k {
	case KindV1:
		return "v1"
	case KindV2:
		return "v2"
	case KindCaptcha:
		return "captcha"
	default:
		return "none"
	}
}

// Detect reports which challenge a response carries. Only 403 and 503
// responses served by Cloudflare qualify. When a page matches several
// patterns, v2 wins over v1, which wins over captcha.
func Detect(status int, header http.Header, body []byte) Kind {
	if !strings.HasPrefix(strings.ToLower(header.Get("Server")), "cloudflare") {
		return KindNone
	}
	if status != http.StatusServiceUnavailable && status != http.StatusForbidden {
		return KindNone
	}
	return classify(body)
}

func classify(body []byte) Kind {
	switch {
	case v2DetectRegex.Match(body):
		return KindV2
	case v1DetectRegex.Match(body):
		return KindV1
	case captchaDetectRegex.Match(body):
		return KindCaptcha
	default:
		return KindNone
	}
}

// SiteKey returns the captcha site key embedded in the page.
func SiteKey(body []byte) (string, bool) {
	m := captchaDetectRegex.FindSubmatch(body)
	if len(m) < 2 {
		return "", false
	}
	return string(m[1]), true
}
