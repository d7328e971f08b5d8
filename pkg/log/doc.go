/*
Package log provides structured logging for the instancer using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level.

Initialize once from main:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

Components derive child loggers so every line carries its origin:

	logger := log.WithComponent("lifecycle")
	logger.Info().Str("challenge", "buffer_overflow").Msg("Instance launched")

Instance-scoped helpers attach the (challenge, user) pair that keys every
operation in the system:

	logger := log.WithInstance("buffer_overflow", "u1")
*/
package log
