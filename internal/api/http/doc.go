// Package http holds the gin handlers of the cfshim API: base64 decoding
// through the browser shim, sandboxed script evaluation, and page fetching
// through the challenge-solving scraper.
package http
