package challenge

import "errors"

var (
	ErrChallenge        = errors.New("challenge: solve failed")
	ErrUnknownChallenge = errors.New("challenge: unknown cloudflare challenge")
	ErrNoCaptchaSolver  = errors.New("challenge: captcha solver not configured")
	ErrFormNotFound     = errors.New("challenge: challenge form not found")
)
