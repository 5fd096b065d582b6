/*
Package monitoring provides Prometheus metrics for the API and the scraper.

# Overview

Every Metrics value owns its own registry. The API server exposes it on
/metrics and the scraper records upstream traffic, challenge outcomes,
engine timings, session refreshes and proxy failures into it.

# Usage

	metrics := monitoring.NewMetrics()

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics, "goja")
	// ... evaluate ...
	timer.Stop(monitoring.OutcomeSolved)

A nil *Metrics is valid and records nothing.
*/
package monitoring
