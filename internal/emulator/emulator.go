// Package emulator serves the three HTTP protocols a real Lambda
// execution environment exposes: the Invoke trigger surface (the
// `invocations`/Function URL endpoints a caller hits), the Runtime API
// (the endpoints a function's runtime bootstrap polls), and the
// Extensions API (the endpoints an extension process polls). One daemon
// instance serves every function the supervisor knows about, with the
// function name threaded through the URL path rather than through a
// separate listener per function.
package emulator

import (
	"net/http"
	"sync"
	"time"

	"github.com/oriys/lambdalocal/internal/extension"
	"github.com/oriys/lambdalocal/internal/registry"
)

// Spawner is the supervisor-side collaborator the emulator calls into
// when an invocation is the first to arrive for a function that has no
// running process yet. It is a narrow seam: the emulator only needs to
// know "make sure this function is running", never how.
type Spawner interface {
	EnsureRunning(functionName, runtimeAPI string)
}

// Server holds every piece of state the three protocols share: the
// invocation rendezvous registry and one extension broker per function.
type Server struct {
	registry *registry.Registry
	spawner  Spawner

	mu      sync.Mutex
	brokers map[string]*extension.Broker

	onlyLambdaAPIs bool

	mux *http.ServeMux
}

// Option adjusts how NewServer assembles its HTTP surface.
type Option func(*Server)

// WithOnlyLambdaAPIs mounts only the runtime and extensions protocols,
// leaving the trigger surface off entirely. Used when invocations come
// from somewhere else (another local tool driving the runtime API
// directly) and the catch-all trigger fallback would get in the way.
func WithOnlyLambdaAPIs() Option {
	return func(s *Server) { s.onlyLambdaAPIs = true }
}

// NewServer wires the three protocol surfaces onto a single mux.
// serverAddr is this server's own externally reachable address, handed
// to spawned functions as AWS_LAMBDA_RUNTIME_API.
func NewServer(serverAddr string, spawner Spawner, opts ...Option) *Server {
	s := &Server{
		registry: registry.New(serverAddr),
		spawner:  spawner,
		brokers:  make(map[string]*extension.Broker),
		mux:      http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Registry exposes the invocation rendezvous registry so the supervisor
// can share the exact same instance (dropping stale invocations on
// restart and at shutdown).
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// SetSpawner wires the supervisor in after construction: the supervisor
// itself needs the server's registry to exist first, so the two can't
// be built in a single call.
func (s *Server) SetSpawner(spawner Spawner) {
	s.spawner = spawner
}

func (s *Server) routes() {
	// Trigger protocol: how a caller invokes a function. The
	// /lambda-url/ prefix is demuxed inside the catch-all handler
	// rather than registered as its own pattern: a wildcard pattern
	// for it would overlap the runtime protocol's /{function}/...
	// routes (a function named "lambda-url" makes both match) and
	// ServeMux rejects the ambiguity at registration time.
	if !s.onlyLambdaAPIs {
		s.mux.HandleFunc("POST /2015-03-31/functions/{name}/invocations", s.handleInvoke)
		s.mux.HandleFunc("/", s.handleTrigger)
	}

	// Runtime protocol: how a function's bootstrap talks to "AWS".
	s.mux.HandleFunc("GET /{function}/2018-06-01/runtime/invocation/next", s.handleNextInvocation)
	s.mux.HandleFunc("POST /{function}/2018-06-01/runtime/invocation/{requestId}/response", s.handleInvocationResponse)
	s.mux.HandleFunc("POST /{function}/2018-06-01/runtime/invocation/{requestId}/error", s.handleInvocationError)
	s.mux.HandleFunc("POST /{function}/2018-06-01/runtime/init/error", s.handleInitError)

	// Extensions protocol.
	s.mux.HandleFunc("POST /{function}/2020-01-01/extension/register", s.handleRegisterExtension)
	s.mux.HandleFunc("GET /{function}/2020-01-01/extension/event/next", s.handleNextEvent)
	s.mux.HandleFunc("POST /{function}/2020-01-01/extension/init/error", s.handleExtensionInitError)
	s.mux.HandleFunc("POST /{function}/2020-01-01/extension/exit/error", s.handleExtensionExitError)
	s.mux.HandleFunc("PUT /{function}/2022-07-01/telemetry", s.handleTelemetrySubscribe)
	s.mux.HandleFunc("PUT /{function}/2020-08-15/logs", s.handleLogsSubscribe)
}

func (s *Server) brokerFor(functionName string) *extension.Broker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.brokers[functionName]
	if !ok {
		b = extension.New()
		s.brokers[functionName] = b
	}
	return b
}

// DropBroker discards a function's extension broker, called by the
// supervisor when the function's process is restarted so stale
// extension IDs from the previous process can't attach.
func (s *Server) DropBroker(functionName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.brokers, functionName)
}

// PublishShutdown implements supervisor.BrokerDropper's other half: the
// supervisor calls this immediately before tearing a function's process
// down, so every extension subscribed to SHUTDOWN and currently
// long-polling gets to react before the process disappears.
func (s *Server) PublishShutdown(functionName string, evt extension.ShutdownEvent) {
	s.brokerFor(functionName).Publish(evt)
}

// ShutdownDelay implements supervisor.BrokerDropper's third method: how
// long the supervisor should race SIGTERM against process exit before
// escalating to SIGKILL, based on whether the function has any
// registered extensions to give time to react.
func (s *Server) ShutdownDelay(functionName string) time.Duration {
	return s.brokerFor(functionName).ShutdownDelay()
}

// invocationDeadlineMs is the advertised invocation deadline. It is a
// pinned literal, not an epoch computed from the wall clock: the local
// emulator never enforces it, and functions only ever see this value.
const invocationDeadlineMs int64 = 600000
