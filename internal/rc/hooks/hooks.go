// Package hooks defines the seam between the Lifecycle Engine and the
// plugin host that dispatches SERVICE_* lifecycle events. The host
// itself is out of scope; this package only fixes the call sites and
// ships a logging-only default.
package hooks

import log "github.com/hashicorp/go-hclog"

// Hook names one lifecycle event point, matching the original's
// rc_hook enum (SERVICE_START_IN, SERVICE_START_OUT, and so on).
type Hook string

const (
	ServiceStartIn   Hook = "SERVICE_START_IN"
	ServiceStartNow  Hook = "SERVICE_START_NOW"
	ServiceStartDone Hook = "SERVICE_START_DONE"
	ServiceStartOut  Hook = "SERVICE_START_OUT"

	ServiceStopIn   Hook = "SERVICE_STOP_IN"
	ServiceStopNow  Hook = "SERVICE_STOP_NOW"
	ServiceStopDone Hook = "SERVICE_STOP_DONE"
	ServiceStopOut  Hook = "SERVICE_STOP_OUT"
)

// Runner dispatches a hook for svc. A failing Runner must not abort the
// lifecycle action it's attached to: hooks are observers, not gates.
type Runner interface {
	Run(hook Hook, svc string) error
}

// LoggingRunner is the shipped default: every hook call is logged at
// debug level and otherwise a no-op, keeping every call site real and
// exercised without requiring the out-of-scope plugin host.
type LoggingRunner struct {
	Logger log.Logger
}

// NewLoggingRunner returns a Runner that only logs.
func NewLoggingRunner(logger log.Logger) *LoggingRunner {
	return &LoggingRunner{Logger: logger.Named("hooks")}
}

func (r *LoggingRunner) Run(hook Hook, svc string) error {
	r.Logger.Debug("hook", "event", string(hook), "service", svc)
	return nil
}
