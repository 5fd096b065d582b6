// Package engine runs Cloudflare challenge scripts on one of several
// JavaScript runtimes: goja (default, pooled), otto, or an external node,
// deno or bun process. Every runtime sees the same browser shim.
package engine
