/*
Package log provides structured logging for NeuroInsight using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Thread-safe concurrent writes

Configuration:
  - Level: debug, info, warn, error
  - JSONOutput: JSON lines or human-readable console output
  - Output: io.Writer for the log destination (defaults to stdout)

Context Loggers:
  - WithComponent: adds a component name to every line
  - WithJobID: adds job ID context
  - WithBackend: adds the active backend type
  - WithPlugin: adds the plugin ID

# Usage

Initializing:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

Component loggers:

	logger := log.WithComponent("executor")
	logger.Info().Str("job_id", jobID).Msg("job started")
	logger.Error().Err(err).Msg("container start failed")

# Output Examples

JSON (production):

	{"level":"info","component":"executor","job_id":"3f2b...","time":"2026-08-24T10:30:00Z","message":"job started"}

Console (development):

	10:30:00 INF job started component=executor job_id=3f2b...

# Integration Points

Every package obtains child loggers through WithComponent rather than
importing zerolog directly, so the process-wide level and format are set in
exactly one place (cmd/neuroinsight).
*/
package log
