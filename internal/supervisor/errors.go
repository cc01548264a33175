package supervisor

import "errors"

var (
	errRestarting   = errors.New("function process is restarting")
	errShuttingDown = errors.New("server shutting down")
)
