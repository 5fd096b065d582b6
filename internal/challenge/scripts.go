package challenge

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/antchfx/htmlquery"
)

var v2ScriptRegex = regexp.MustCompile(`(?s)<script[^>]*>(.*?window\._cf_chl_opt.*?)<\/script>`)

const (
	scriptXPath = `//script[contains(text(), '_cf_chl_opt')]`
	formLookup  = `document.getElementById('challenge-form');`
	formStub    = `({})`
)

// ExtractScripts returns the inline scripts that set up window._cf_chl_opt,
// in document order, with the challenge form lookup stubbed out.
func ExtractScripts(body []byte) []string {
	scripts := extractDOM(body)
	if len(scripts) == 0 {
		scripts = extractRegex(body)
	}
	for i, s := range scripts {
		scripts[i] = strings.ReplaceAll(s, formLookup, formStub)
	}
	return scripts
}

func extractDOM(body []byte) []string {
	doc, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	nodes, err := htmlquery.QueryAll(doc, scriptXPath)
	if err != nil {
		return nil
	}

	var scripts []string
	for _, n := range nodes {
		if text := htmlquery.InnerText(n); strings.Contains(text, "window._cf_chl_opt") {
			scripts = append(scripts, text)
		}
	}
	return scripts
}

func extractRegex(body []byte) []string {
	var scripts []string
	for _, m := range v2ScriptRegex.FindAllSubmatch(body, -1) {
		scripts = append(scripts, string(m[1]))
	}
	return scripts
}
