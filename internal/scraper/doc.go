// Package scraper is an HTTP client that gets through Cloudflare's
// anti-bot interstitial.
//
// Each request runs through a rate limiter, a per-host circuit breaker and
// an optional proxy pool, carries a browser profile's headers and cipher
// order, and is paced by stealth mode. Responses that carry a challenge are
// answered (v1 arithmetic, v2 scripts in the configured engine, or a
// captcha through an external solver) and the form is posted back so the
// clearance cookie lands in the session's jar. A 403 can trigger a session
// refresh, and sessions are refreshed periodically.
//
//	s, err := scraper.New(scraper.WithEngine("goja", engine.DefaultOptions()))
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//	resp, err := s.Get(ctx, "https://example.com/")
package scraper
