package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/oriys/lambdalocal/internal/extension"
	"github.com/oriys/lambdalocal/internal/logging"
)

// Builder is the out-of-scope collaborator that turns a function's
// source into a runnable binary. The supervisor calls it once up front
// and again every time a watched file changes.
type Builder interface {
	Build(ctx context.Context, functionName string) (binaryPath string, err error)
}

// BrokerDropper lets the supervisor tell the emulator to discard a
// function's extension registrations across a restart, so a stale
// extension ID from the previous process can't attach to the new one's
// events, and to publish the SHUTDOWN lifecycle event every extension
// is promised before a function's process is torn down.
type BrokerDropper interface {
	DropBroker(functionName string)
	PublishShutdown(functionName string, evt extension.ShutdownEvent)
	ShutdownDelay(functionName string) time.Duration
}

// Registry is the subset of the emulator's registry the supervisor
// needs: dropping a function's pending invocations when its process is
// torn down.
type Registry interface {
	Drop(functionName string, reason error)
	DropAll(reason error)
	QueueDepth(functionName string) int
}

// function is everything the supervisor tracks for one managed
// function: its source directory, its ignore filter, its current
// process, and (optionally) its instance pool.
type function struct {
	name     string
	baseDir  string
	env      map[string]string
	filterer *Filterer
	pool     *InstancePool
	throttle time.Duration
	grace    time.Duration

	mu             sync.Mutex
	process        *FunctionProcess
	spawning       bool
	restartPending bool
	runtimeAPI     string
}

// Config controls how a single function is watched and torn down.
type Config struct {
	BaseDir        string
	Env            map[string]string
	IgnoreFiles    []string
	IgnoreChanges  bool
	ActionThrottle time.Duration
	ShutdownGrace  time.Duration
	MaxConcurrency int
}

// Supervisor manages the running process for every function the daemon
// has been asked to serve, restarting each one when its source changes.
type Supervisor struct {
	builder  Builder
	registry Registry
	brokers  BrokerDropper

	closed atomic.Bool

	mu        sync.Mutex
	functions map[string]*function
	watcher   *fsnotify.Watcher
}

// New creates a Supervisor. builder produces a function's binary,
// registry is consulted for queue depth and told to drop stale
// invocations on teardown, brokers is told to discard stale extension
// registrations on teardown.
func New(builder Builder, registry Registry, brokers BrokerDropper) (*Supervisor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	s := &Supervisor{
		builder:   builder,
		registry:  registry,
		brokers:   brokers,
		functions: make(map[string]*function),
		watcher:   watcher,
	}
	go s.watchLoop()
	return s, nil
}

// Manage registers a function for hot-reload and starts it for the
// first time. cfg.BaseDir is added to the fsnotify watch set.
func (s *Supervisor) Manage(ctx context.Context, functionName string, cfg Config) error {
	// fsnotify reports event names joined onto the cleaned watch path,
	// so the stored baseDir must be cleaned too or the prefix check in
	// handleEvent never matches a "./src"-style source dir.
	cfg.BaseDir = filepath.Clean(cfg.BaseDir)

	filterer, err := NewFilterer(cfg.BaseDir, cfg.IgnoreFiles, cfg.IgnoreChanges)
	if err != nil {
		return err
	}

	fn := &function{
		name:       functionName,
		baseDir:    cfg.BaseDir,
		env:        cfg.Env,
		filterer:   filterer,
		throttle:   cfg.ActionThrottle,
		grace:      cfg.ShutdownGrace,
		runtimeAPI: runtimeAPIFor(functionName),
	}
	if fn.throttle <= 0 {
		fn.throttle = 3 * time.Second
	}
	if cfg.MaxConcurrency > 1 {
		fn.pool = NewInstancePool(cfg.MaxConcurrency)
	}

	s.mu.Lock()
	s.functions[functionName] = fn
	s.mu.Unlock()

	if err := s.watcher.Add(cfg.BaseDir); err != nil {
		return err
	}

	return s.spawn(ctx, fn)
}

// EnsureRunning implements emulator.Spawner: the emulator calls this
// whenever an invocation is the first to arrive for a function with no
// process currently serving it. Functions registered via Manage are
// already running, so this is a no-op unless the process died between
// invocations (a crash the watch loop hasn't yet reacted to).
func (s *Supervisor) EnsureRunning(functionName, runtimeAPI string) {
	if s.closed.Load() {
		return
	}
	s.mu.Lock()
	fn, ok := s.functions[functionName]
	s.mu.Unlock()
	if !ok {
		logging.Op().Warn("invocation arrived for an unmanaged function", "function", functionName)
		return
	}

	fn.mu.Lock()
	needsRestart := fn.process == nil || fn.process.Exited()
	if runtimeAPI != "" {
		fn.runtimeAPI = runtimeAPI
	}
	fn.mu.Unlock()
	if needsRestart {
		go s.spawn(context.Background(), fn)
	}
}

func (s *Supervisor) spawn(ctx context.Context, fn *function) error {
	if s.closed.Load() {
		return errShuttingDown
	}

	// Single-flight: a trigger-driven EnsureRunning can race a
	// watch-driven Restart here, and letting both through would start
	// two processes with only one of them tracked for teardown.
	fn.mu.Lock()
	if fn.spawning || (fn.process != nil && !fn.process.Exited()) {
		fn.mu.Unlock()
		return nil
	}
	fn.spawning = true
	runtimeAPI := fn.runtimeAPI
	fn.mu.Unlock()
	defer func() {
		// A file change observed while this spawn was building has been
		// deferred rather than dropped; replay it now so the freshly
		// spawned process doesn't keep serving the pre-change binary.
		fn.mu.Lock()
		fn.spawning = false
		pending := fn.restartPending
		fn.restartPending = false
		fn.mu.Unlock()
		if pending && !s.closed.Load() {
			go s.Restart(context.Background(), fn.name)
		}
	}()

	binaryPath, err := s.builder.Build(ctx, fn.name)
	if err != nil {
		logging.Op().Error("build failed, function will not start", "function", fn.name, "error", err)
		return err
	}

	// The closed re-check and the process publication happen under the
	// same lock Shutdown reads fn.process under: Shutdown either set
	// closed before this section (the spawn aborts), or its teardown
	// scan runs after it (the new process is seen and stopped). A check
	// outside the lock would leave a window for a process that outlives
	// the daemon.
	fn.mu.Lock()
	if s.closed.Load() {
		fn.mu.Unlock()
		return errShuttingDown
	}
	proc := newFunctionProcess(fn.name, binaryPath)
	env := buildEnv(fn.name, runtimeAPI, fn.env, nil)
	if err := proc.Start(env); err != nil {
		fn.mu.Unlock()
		return err
	}
	fn.process = proc
	fn.mu.Unlock()
	return nil
}

// runtimeAPIFor is overridden by the daemon's wiring code via
// WithRuntimeAPIResolver; defaulting here keeps Supervisor usable on its own in
// tests that don't care about the exact value.
var runtimeAPIFor = func(functionName string) string { return "127.0.0.1:9000/" + functionName }

// WithRuntimeAPIResolver lets the daemon wiring code supply the
// emulator's real address instead of the test default.
func WithRuntimeAPIResolver(resolver func(functionName string) string) {
	runtimeAPIFor = resolver
}

// stopGracefully tears proc down. An extension-declared shutdown delay
// (brokers.ShutdownDelay) or a configured per-function grace period
// means SIGTERM raced against that window, escalating to SIGKILL on
// timeout; with neither, nothing is waiting to react to the SHUTDOWN
// event and the process is killed immediately.
func (s *Supervisor) stopGracefully(ctx context.Context, proc *FunctionProcess, functionName string, grace time.Duration) {
	delay := s.brokers.ShutdownDelay(functionName)
	if delay == 0 {
		delay = grace
	}
	if delay > 0 {
		proc.Stop(ctx, delay)
		return
	}
	proc.Kill(ctx)
}

// Restart tears down a function's current process (if any) and starts
// a fresh one, used both for a detected file change and for a
// crash-recovery restart.
func (s *Supervisor) Restart(ctx context.Context, functionName string) {
	if s.closed.Load() {
		return
	}
	s.mu.Lock()
	fn, ok := s.functions[functionName]
	s.mu.Unlock()
	if !ok {
		return
	}

	// Hold the single-flight flag for the whole teardown, not just the
	// final spawn: were EnsureRunning allowed to start a replacement
	// mid-restart, the Drop/DropBroker below would destroy that
	// replacement's pending invocations and extension registrations.
	fn.mu.Lock()
	if fn.spawning {
		// A spawn (or another restart) is mid-flight, likely compiling
		// the pre-change source. Defer rather than drop: the spawn's
		// cleanup replays the restart so the change still lands.
		fn.restartPending = true
		fn.mu.Unlock()
		return
	}
	fn.spawning = true
	proc := fn.process
	fn.process = nil
	fn.mu.Unlock()

	logging.Op().Info("recompiling function", "function", functionName)
	s.brokers.PublishShutdown(functionName, extension.ShutdownEvent{Reason: extension.ShutdownReasonRecompiling})

	if proc != nil {
		proc.setState(Restarting)
		s.stopGracefully(ctx, proc, functionName, fn.grace)
	}

	s.registry.Drop(functionName, errRestarting)
	s.brokers.DropBroker(functionName)

	fn.mu.Lock()
	fn.spawning = false
	fn.mu.Unlock()

	s.spawn(ctx, fn)
}

// Shutdown tears down every managed function's process for good: the
// SHUTDOWN event goes out first, every process is stopped, and whatever
// invocations were still queued or in flight are failed with a 500 so
// no trigger handler is left blocked forever.
func (s *Supervisor) Shutdown(ctx context.Context, grace time.Duration) {
	// Flag first: a debounce timer armed before this point must not be
	// allowed to Restart a function after its process is stopped below.
	s.closed.Store(true)

	s.mu.Lock()
	fns := make([]*function, 0, len(s.functions))
	for _, fn := range s.functions {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	logging.Op().Info("watcher shutting down")
	var wg sync.WaitGroup
	for _, fn := range fns {
		s.brokers.PublishShutdown(fn.name, extension.ShutdownEvent{Reason: extension.ShutdownReasonExiting})

		fn.mu.Lock()
		proc := fn.process
		fn.mu.Unlock()
		if proc == nil {
			continue
		}
		proc.setState(Terminated)
		wg.Add(1)
		go func(name string, p *FunctionProcess) {
			defer wg.Done()
			s.stopGracefully(ctx, p, name, grace)
		}(fn.name, proc)
	}
	wg.Wait()

	// DropAll rather than per-function: triggers can enqueue under
	// names no supervisor manages (the sentinel with no --function, a
	// typo'd name), and those waiters must be failed too.
	s.registry.DropAll(errShuttingDown)
	s.watcher.Close()
}

// watchLoop debounces fsnotify events per-function and triggers a
// Restart once the function's action-throttle window has passed since
// the last qualifying event.
func (s *Supervisor) watchLoop() {
	debounce := make(map[string]*time.Timer)
	var mu sync.Mutex

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event, debounce, &mu)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logging.Op().Warn("watcher error", "error", err)
		}
	}
}

func (s *Supervisor) handleEvent(event fsnotify.Event, debounce map[string]*time.Timer, mu *sync.Mutex) {
	s.mu.Lock()
	var match *function
	for _, fn := range s.functions {
		if event.Name != fn.baseDir &&
			!strings.HasPrefix(event.Name, fn.baseDir+string(os.PathSeparator)) {
			continue
		}
		if fn.filterer.Ignores(event.Name) {
			continue
		}
		match = fn
		break
	}
	s.mu.Unlock()
	if match == nil {
		return
	}

	mu.Lock()
	defer mu.Unlock()
	if t, ok := debounce[match.name]; ok {
		t.Stop()
	}
	debounce[match.name] = time.AfterFunc(match.throttle, func() {
		s.Restart(context.Background(), match.name)
	})
}
