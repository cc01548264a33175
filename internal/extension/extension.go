// Package extension implements the Extensions API's broker: extensions
// register the event classes they care about, and the emulator publishes
// INVOKE and SHUTDOWN lifecycle events to every extension subscribed to
// that class.
//
// Delivery is best-effort: an extension that is slow to call
// /event/next again may miss an event rather than block the publisher,
// mirroring the original runtime's own at-least-once-for-fast-consumers
// behavior.
package extension

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oriys/lambdalocal/internal/metrics"
)

// gracefulShutdownDelay is how long the supervisor waits for SIGTERM to
// take effect on a function process that has at least one extension
// registered, giving the extension's own SHUTDOWN handler time to run
// before SIGKILL lands. A function with no registered extensions gets no
// extension delay: the supervisor then uses its configured grace period,
// and stops the process immediately only when that is zero.
const gracefulShutdownDelay = 2 * time.Second

// Class is one of the two lifecycle event classes an extension can
// subscribe to.
type Class string

const (
	ClassInvoke   Class = "INVOKE"
	ClassShutdown Class = "SHUTDOWN"
)

// NextEvent is whatever the broker hands back from a /event/next poll.
type NextEvent interface {
	Class() Class
}

// InvokeEvent is published when the function's runtime poll dequeues an
// invocation, before the function is handed its payload.
type InvokeEvent struct {
	RequestID          string
	InvokedFunctionARN string
	Tracing            Tracing
	DeadlineMs         int64
}

func (InvokeEvent) Class() Class { return ClassInvoke }

// Tracing carries the X-Ray trace context forwarded to the extension,
// mirroring the runtime protocol's own invocation headers.
type Tracing struct {
	Type  string
	Value string
}

// ShutdownReason explains why the function process is being torn down.
type ShutdownReason string

const (
	// ShutdownReasonRecompiling is published when a source change has
	// been detected and the process is stopped ahead of a rebuild.
	ShutdownReasonRecompiling ShutdownReason = "recompiling function"
	// ShutdownReasonExiting is published when the daemon itself is
	// shutting down.
	ShutdownReasonExiting ShutdownReason = "watcher shutting down"
)

// ShutdownEvent is published when the supervisor is about to stop the
// function's process (a restart or a daemon shutdown).
type ShutdownEvent struct {
	Reason ShutdownReason
}

func (ShutdownEvent) Class() Class { return ClassShutdown }

type subscriber struct {
	id      string
	classes map[Class]struct{}
	ch      chan NextEvent
}

// eventChannelBuffer bounds how many undelivered events an extension can
// accumulate before new ones are dropped rather than blocking the
// publisher.
const eventChannelBuffer = 8

// Broker tracks registered extensions and fans lifecycle events out to
// the ones subscribed to each class.
type Broker struct {
	mu          sync.Mutex
	subscribers map[string]*subscriber
}

// New creates an empty Broker.
func New() *Broker {
	return &Broker{subscribers: make(map[string]*subscriber)}
}

// Register enrolls a new extension for the given event classes and
// returns the extension ID the caller must present on every subsequent
// call (the Lambda-Extension-Identifier header).
func (b *Broker) Register(classes []Class) string {
	id := uuid.NewString()
	set := make(map[Class]struct{}, len(classes))
	for _, c := range classes {
		set[c] = struct{}{}
	}

	b.mu.Lock()
	b.subscribers[id] = &subscriber{id: id, classes: set}
	b.mu.Unlock()

	return id
}

// AttachChannel gives a registered extension a channel to block on for
// its next event. Calling this replaces any previous channel for the
// same extension ID, so only one outstanding /event/next poll is ever
// served at a time per extension.
func (b *Broker) AttachChannel(extensionID string) (<-chan NextEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscribers[extensionID]
	if !ok {
		return nil, false
	}
	ch := make(chan NextEvent, eventChannelBuffer)
	sub.ch = ch
	return ch, true
}

// Publish delivers event to every subscriber registered for its class.
// Delivery never blocks: an extension whose channel is full or who has
// no channel attached (has not yet called /event/next) simply misses
// the event.
func (b *Broker) Publish(event NextEvent) {
	b.mu.Lock()
	var targets []*subscriber
	for _, sub := range b.subscribers {
		if _, ok := sub.classes[event.Class()]; ok && sub.ch != nil {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- event:
			metrics.Global().RecordExtensionEvent(true)
		default:
			metrics.Global().RecordExtensionEvent(false)
		}
	}
}

// Clear removes an extension's attached channel, called once its
// /event/next call has been served.
func (b *Broker) Clear(extensionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[extensionID]; ok {
		sub.ch = nil
	}
}

// Deregister removes an extension entirely. A function process restart
// does not call it; the emulator discards the function's whole broker
// instead.
func (b *Broker) Deregister(extensionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, extensionID)
}

// Count returns how many extensions are currently registered, used by
// the supervisor to decide how long to wait for a graceful shutdown
// acknowledgement.
func (b *Broker) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// ShutdownDelay reports how long the supervisor should race SIGTERM
// against process exit before escalating to SIGKILL. A function with no
// registered extensions has declared no need for a graceful window, so
// this returns zero; one with any extensions registered gets
// gracefulShutdownDelay to let them react to the SHUTDOWN event first.
func (b *Broker) ShutdownDelay() time.Duration {
	if b.Count() == 0 {
		return 0
	}
	return gracefulShutdownDelay
}
