// Package supervisor owns a function's lifecycle: starting its binary
// as a child process, tearing it down gracefully when its source
// changes, and restarting it with a fresh environment. One Supervisor
// instance manages every function the daemon knows about.
package supervisor

// State is a function process's position in its own lifecycle. Every
// transition is driven by either a file-change event or a process exit.
type State int

const (
	// Absent means no process has ever been started for this function.
	Absent State = iota
	// Starting means the binary has been exec'd but the runtime API
	// has not yet received its first poll from it.
	Starting
	// Running means the process is up and has made at least one
	// runtime API call.
	Running
	// Quiescing means a SIGTERM has been sent and the supervisor is
	// waiting out the shutdown grace period before escalating.
	Quiescing
	// Restarting means the previous process has exited (or been
	// killed) and a replacement is about to start.
	Restarting
	// Terminated means the function has been torn down for good (the
	// daemon is shutting down, not merely reloading).
	Terminated
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Quiescing:
		return "quiescing"
	case Restarting:
		return "restarting"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}
