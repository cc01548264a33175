package supervisor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/lambdalocal/internal/extension"
)

type fakeBuilder struct {
	binaryPath string
	builds     int
}

func (b *fakeBuilder) Build(ctx context.Context, functionName string) (string, error) {
	b.builds++
	return b.binaryPath, nil
}

type fakeRegistry struct {
	dropped    []string
	droppedAll bool
}

func (r *fakeRegistry) Drop(functionName string, reason error) {
	r.dropped = append(r.dropped, functionName)
}
func (r *fakeRegistry) DropAll(reason error)               { r.droppedAll = true }
func (r *fakeRegistry) QueueDepth(functionName string) int { return 0 }

type fakeBrokerDropper struct {
	dropped         []string
	publishedEvents []string
	delay           time.Duration
}

func (d *fakeBrokerDropper) DropBroker(functionName string) {
	d.dropped = append(d.dropped, functionName)
}

func (d *fakeBrokerDropper) PublishShutdown(functionName string, evt extension.ShutdownEvent) {
	d.publishedEvents = append(d.publishedEvents, functionName)
}

func (d *fakeBrokerDropper) ShutdownDelay(functionName string) time.Duration { return d.delay }

func TestManageStartsTheFunctionProcess(t *testing.T) {
	builder := &fakeBuilder{binaryPath: "/bin/sleep"}
	registry := &fakeRegistry{}
	brokers := &fakeBrokerDropper{}

	sup, err := New(builder, registry, brokers)
	require.NoError(t, err)
	defer sup.Shutdown(context.Background(), time.Second)

	dir := t.TempDir()
	err = sup.Manage(context.Background(), "hello", Config{
		BaseDir:        dir,
		ShutdownGrace:  time.Second,
		ActionThrottle: 3 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, builder.builds)

	sup.mu.Lock()
	fn := sup.functions["hello"]
	sup.mu.Unlock()
	require.NotNil(t, fn)
	assert.NotNil(t, fn.process)
}

func TestRestartDropsRegistryAndBrokerStateBeforeRespawning(t *testing.T) {
	builder := &fakeBuilder{binaryPath: "/bin/true"}
	registry := &fakeRegistry{}
	brokers := &fakeBrokerDropper{}

	sup, err := New(builder, registry, brokers)
	require.NoError(t, err)
	defer sup.Shutdown(context.Background(), time.Second)

	dir := t.TempDir()
	require.NoError(t, sup.Manage(context.Background(), "hello", Config{
		BaseDir:       dir,
		ShutdownGrace: time.Second,
	}))

	sup.Restart(context.Background(), "hello")

	assert.Contains(t, registry.dropped, "hello")
	assert.Contains(t, brokers.dropped, "hello")
	assert.Contains(t, brokers.publishedEvents, "hello", "a SHUTDOWN event must reach extensions before the process is torn down")
	assert.Equal(t, 2, builder.builds)
}

func TestShutdownFailsAllOutstandingInvocations(t *testing.T) {
	registry := &fakeRegistry{}
	sup, err := New(&fakeBuilder{}, registry, &fakeBrokerDropper{})
	require.NoError(t, err)

	sup.Shutdown(context.Background(), time.Second)

	assert.True(t, registry.droppedAll, "shutdown must fail waiters for unmanaged function names too")
	sup.Restart(context.Background(), "hello")
	assert.Empty(t, registry.dropped, "a late debounce restart after shutdown must be a no-op")
}

// untermableScript runs a shell that ignores SIGTERM so Stop's
// grace-period race is actually exercised, instead of the process dying
// the instant SIGTERM is delivered the way an unmodified coreutils sleep
// would. It prints "ready" once the trap is in place; a SIGTERM that
// lands before then still kills the shell.
const untermableScript = "trap '' TERM; echo ready; sleep 30"

func TestStopGracefullyKillsImmediatelyWithoutExtensionShutdownDelay(t *testing.T) {
	sup, err := New(&fakeBuilder{}, &fakeRegistry{}, &fakeBrokerDropper{})
	require.NoError(t, err)

	proc := newFunctionProcess("hello", "/bin/sh")
	require.NoError(t, proc.Start(buildEnv("hello", "", nil, nil), "-c", untermableScript))

	start := time.Now()
	sup.stopGracefully(context.Background(), proc, "hello", 0)
	assert.Less(t, time.Since(start), time.Second,
		"a function with no registered extensions must be killed immediately rather than wait out a grace period")
}

func TestStopGracefullyWaitsOutExtensionShutdownDelayBeforeKilling(t *testing.T) {
	sup, err := New(&fakeBuilder{}, &fakeRegistry{}, &fakeBrokerDropper{delay: 50 * time.Millisecond})
	require.NoError(t, err)

	proc := newFunctionProcess("hello", "/bin/sh")
	require.NoError(t, proc.Start(buildEnv("hello", "", nil, nil), "-c", untermableScript))
	require.Eventually(t, func() bool {
		return strings.Contains(proc.stdout.String(), "ready")
	}, 5*time.Second, 5*time.Millisecond)

	start := time.Now()
	sup.stopGracefully(context.Background(), proc, "hello", 0)
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond, "must race SIGTERM against the declared delay before escalating")
	assert.Less(t, elapsed, 5*time.Second)
}
