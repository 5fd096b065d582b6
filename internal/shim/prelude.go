package shim

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// preludeTemplate installs the shim in a stand-alone JS runtime. The three
// verbs are the JSON-encoded href, the JSON-encoded user agent and the
// retain flag.
const preludeTemplate = `var window = globalThis;
var navigator = { userAgent: %s };
var document = (function () {
	var href = %s;
	var retain = %t;
	var elements = {};
	return {
		getElementById: function (id) {
			if (!retain) return { value: "" };
			var key = String(id);
			if (!Object.prototype.hasOwnProperty.call(elements, key)) elements[key] = { value: "" };
			return elements[key];
		},
		createElement: function (tag) {
			return { firstChild: { href: href } };
		},
		cookie: ""
	};
})();
var atob = function (str) {
	if (str === undefined || str === null) return "";
	var chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/=";
	str = String(str).replace(/[^A-Za-z0-9\+\/\=]/g, "");
	if (str.length === 0) return "";
	var at = function (i) { return i < str.length ? chars.indexOf(str.charAt(i)) : 0; };
	var a, b, c, d, e, i = 0, result = "";
	while (i < str.length) {
		a = at(i++); b = at(i++); c = at(i++); d = at(i++);
		e = a << 18 | b << 12 | c << 6 | d;
		result += String.fromCharCode(e >> 16 & 255);
		if (c != 64) result += String.fromCharCode(e >> 8 & 255);
		if (d != 64) result += String.fromCharCode(e & 255);
	}
	return result;
};
`

// Prelude renders the shim as JavaScript source for runtimes that cannot
// be bound from Go (node, deno, bun). Configured strings are embedded as
// JSON literals.
func Prelude(cfg Config) (string, error) {
	href, err := sonic.MarshalString(AnchorHref(cfg.Domain))
	if err != nil {
		return "", fmt.Errorf("shim: encode href: %w", err)
	}
	ua, err := sonic.MarshalString(cfg.UserAgent)
	if err != nil {
		return "", fmt.Errorf("shim: encode user agent: %w", err)
	}
	return fmt.Sprintf(preludeTemplate, ua, href, cfg.RetainElements), nil
}
