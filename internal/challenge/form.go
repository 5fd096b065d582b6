package challenge

import (
	"bytes"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	formRegex    = regexp.MustCompile(`<form class="challenge-form" id="challenge-form" action="(.+?)" method="POST">`)
	jschlVCRegex = regexp.MustCompile(`name="jschl_vc" value="(\w+)"`)
	passRegex    = regexp.MustCompile(`name="pass" value="(.+?)"`)
	rValueRegex  = regexp.MustCompile(`name="r" value="([^"]+)"`)
)

// Form holds the hidden fields of Cloudflare's challenge form.
type Form struct {
	Action  string
	R       string
	JschlVC string
	Pass    string
}

// ParseForm reads form#challenge-form from the page. Markup goquery cannot
// find falls back to the literal patterns Cloudflare has historically
// served.
func ParseForm(body []byte) (*Form, error) {
	if f := parseFormDOM(body); f != nil {
		return f, nil
	}
	if f := parseFormRegex(body); f != nil {
		return f, nil
	}
	return nil, ErrFormNotFound
}

func parseFormDOM(body []byte) *Form {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	sel := doc.Find("form#challenge-form").First()
	if sel.Length() == 0 {
		return nil
	}
	action, ok := sel.Attr("action")
	if !ok || strings.TrimSpace(action) == "" {
		return nil
	}

	field := func(name string) string {
		return sel.Find(fmt.Sprintf(`input[name=%q]`, name)).First().AttrOr("value", "")
	}
	return &Form{
		Action:  action,
		R:       field("r"),
		JschlVC: field("jschl_vc"),
		Pass:    field("pass"),
	}
}

func parseFormRegex(body []byte) *Form {
	m := formRegex.FindSubmatch(body)
	if len(m) < 2 {
		return nil
	}
	return &Form{
		Action:  html.UnescapeString(string(m[1])),
		R:       submatch(rValueRegex, body),
		JschlVC: submatch(jschlVCRegex, body),
		Pass:    html.UnescapeString(submatch(passRegex, body)),
	}
}

func submatch(re *regexp.Regexp, body []byte) string {
	m := re.FindSubmatch(body)
	if len(m) < 2 {
		return ""
	}
	return string(m[1])
}

// Validate checks the fields a JavaScript challenge submission needs.
func (f *Form) Validate() error {
	switch {
	case f.JschlVC == "":
		return fmt.Errorf("%w: missing jschl_vc", ErrFormNotFound)
	case f.Pass == "":
		return fmt.Errorf("%w: missing pass", ErrFormNotFound)
	}
	return nil
}

// Resolve returns the absolute submission URL for a page served at base.
func (f *Form) Resolve(base *url.URL) (*url.URL, error) {
	u, err := base.Parse(f.Action)
	if err != nil {
		return nil, fmt.Errorf("challenge: form action %q: %w", f.Action, err)
	}
	return u, nil
}

// Submission returns the fields posted back for a JavaScript challenge.
func (f *Form) Submission(answer string) url.Values {
	return url.Values{
		"r":            {f.R},
		"jschl_vc":     {f.JschlVC},
		"pass":         {f.Pass},
		"jschl_answer": {answer},
	}
}

// CaptchaSubmission returns the fields posted back with a solved token.
func (f *Form) CaptchaSubmission(token string) url.Values {
	return url.Values{
		"r":                     {f.R},
		"cf-turnstile-response": {token},
		"g-recaptcha-response":  {token},
	}
}
