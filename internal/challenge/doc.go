/*
Package challenge recognises and solves Cloudflare interstitial pages.

Detect classifies a response as a classic (v1) arithmetic challenge, a
modern (v2) VM challenge or a captcha. ParseForm and ExtractScripts pull the
pieces out of the page, SolveV1 and SolveV2 compute the answer on an
engine.Engine, and Form builds the body posted back to Cloudflare.
*/
package challenge
