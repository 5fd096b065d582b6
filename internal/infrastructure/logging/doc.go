// Package logging wraps zap for every cfshim component.
//
// Production loggers write JSON to stderr; development loggers write
// colored console lines at debug level. Components take a *Logger and call
// OrNop on it, so a nil logger is always safe and silent. Each component
// names its child logger ("scraper", "engine", "api") so lines can be
// filtered by the N/logger key.
//
//	logger := logging.NewDefault()
//	logger.Named("scraper").Warn("challenge failed",
//		zap.String("kind", "v2"), zap.Error(err))
package logging
