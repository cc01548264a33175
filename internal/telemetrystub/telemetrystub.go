// Package telemetrystub models the telemetry/error-reporting
// collaborator this toolkit deliberately leaves external: the daemon
// calls a narrow Reporter interface at the handful of points where a
// production build would emit a usage event or an error report, but
// this repo ships only the no-op implementation. A real implementation
// plugs in behind the same interface without touching any call site.
package telemetrystub

import "os"

// Enabled reports whether telemetry call sites should fire at all,
// honoring the DO_NOT_TRACK environment variable. Any non-empty value
// opts out, matching the convention's usual treatment.
func Enabled() bool {
	return os.Getenv("DO_NOT_TRACK") == ""
}

// Reporter receives coarse-grained lifecycle and error events. It is
// the seam a real telemetry backend (e.g. an OpenTelemetry exporter)
// would implement; nothing in this repo exports anywhere.
type Reporter interface {
	// Event records a named lifecycle occurrence (e.g. "build",
	// "start", "deploy") with a small set of non-identifying
	// attributes.
	Event(name string, attrs map[string]string)
	// Error records that an operation failed, for aggregate error-rate
	// reporting rather than per-user diagnostics.
	Error(name string, err error)
}

// noop discards every event and error report.
type noop struct{}

func (noop) Event(string, map[string]string) {}
func (noop) Error(string, error)             {}

// disabled is the process-wide Reporter, swapped for a real
// implementation only by a build that chooses to wire one in.
var disabled Reporter = noop{}

// Default returns the process-wide Reporter. It is always the no-op
// implementation in this repo. Default itself does not read
// DO_NOT_TRACK; call sites check Enabled before reporting.
func Default() Reporter {
	return disabled
}
