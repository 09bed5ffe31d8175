// Package rclog wires up structured logging for every runscript
// component.
package rclog

import (
	"os"

	log "github.com/hashicorp/go-hclog"
)

// New returns a named hclog.Logger writing to stderr, matching how the
// original emits diagnostics to the controlling terminal rather than the
// service's own stdout/stderr pipe. Debug-level output is gated on
// debug, the equivalent of the original's RC_DEBUG/-d flag.
func New(name string, debug bool) log.Logger {
	level := log.Info
	if debug {
		level = log.Debug
	}
	return log.New(&log.LoggerOptions{
		Name:            name,
		Level:           level,
		Output:          os.Stderr,
		IncludeLocation: debug,
	})
}
