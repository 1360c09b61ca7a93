// Package observability provides structured logging and in-process metrics
// for the authorizer.
//
// Loggers are zap loggers built from LOG_LEVEL and LOG_FORMAT. Metrics are
// kept in memory and exposed through the stats endpoint; the validator
// reports one observation per token it checks.
package observability
