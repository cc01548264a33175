// Package registry implements the emulator's request/response rendezvous:
// a per-function FIFO of pending invocations, and a one-shot slot each
// invocation's caller waits on for its response.
//
// An Invocation is, at any point in time, in exactly one of two places:
// queued in its function's FunctionQueue awaiting a runtime poll, or
// removed from the queue and recorded in the awaiting table until its
// response slot is completed. It is never in both, and never in
// neither while its HTTP handler is still running.
package registry

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/oriys/lambdalocal/internal/logging"
)

// SentinelFunctionName is the magic function name meaning "the one
// binary in this project", used by triggers that don't name a function
// explicitly (the default fallback route, a Function URL mounted with
// no path prefix). It is never resolved against anything on disk — it
// is just another routing key as far as the Registry is concerned.
const SentinelFunctionName = "@package-bootstrap@"

// Invocation is one pending function call: the request that triggered
// it, and the slot its caller is blocked on for the response.
type Invocation struct {
	RequestID       string
	FunctionName    string
	TraceID         string
	Request         *http.Request
	Body            []byte
	ClientContext   string
	CognitoIdentity string

	slot *responseSlot
}

// Response is what a runtime poster or an internal error hands back to
// whichever trigger handler is waiting on an Invocation.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Err        error
}

type responseSlot struct {
	once sync.Once
	ch   chan Response
}

func newResponseSlot() *responseSlot {
	return &responseSlot{ch: make(chan Response, 1)}
}

// complete delivers a response exactly once. A second call is a
// programming error elsewhere in the emulator (the same request ID was
// completed twice); it is logged and otherwise ignored rather than
// panicking, since a stray duplicate must not take down the daemon.
func (s *responseSlot) complete(resp Response) {
	delivered := false
	s.once.Do(func() {
		s.ch <- resp
		delivered = true
	})
	if !delivered {
		logging.Op().Warn("response slot completed more than once, ignoring second completion")
	}
}

// functionQueue is a plain FIFO of invocations waiting for a runtime
// poll. Lock scope never includes anything beyond slice manipulation.
type functionQueue struct {
	mu    sync.Mutex
	items []*Invocation
}

func (q *functionQueue) push(inv *Invocation) {
	q.mu.Lock()
	q.items = append(q.items, inv)
	q.mu.Unlock()
}

func (q *functionQueue) pop() (*Invocation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	inv := q.items[0]
	q.items = q.items[1:]
	return inv, true
}

// Registry is the emulator's request/response rendezvous point. Safe
// for concurrent use from every HTTP handler goroutine.
type Registry struct {
	serverAddr string

	mu      sync.Mutex
	queues  map[string]*functionQueue
	waiting map[string]*Invocation
	closed  error
}

// New creates an empty Registry. serverAddr is the emulator's own
// listen address (e.g. "127.0.0.1:9000", no scheme — the same form AWS
// sets AWS_LAMBDA_RUNTIME_API to), used to build the per-function
// runtime API value returned on first enqueue.
func New(serverAddr string) *Registry {
	return &Registry{
		serverAddr: serverAddr,
		queues:     make(map[string]*functionQueue),
		waiting:    make(map[string]*Invocation),
	}
}

// Enqueue adds an invocation to its function's queue. When this enqueue
// creates the function's queue, Enqueue returns spawned true and the
// runtime API value ("host:port/<function>", no scheme) the supervisor
// should spawn the function's process with; spawned is false on every
// later enqueue for the same function until Drop removes its queue, and
// on any enqueue after DropAll.
func (r *Registry) Enqueue(inv *Invocation) (runtimeAPI string, spawned bool) {
	inv.slot = newResponseSlot()

	// The push happens under the registry lock: pushing after releasing
	// it would race a concurrent Drop, which deletes the queue from the
	// map and fails its contents — an invocation pushed onto the
	// orphaned queue afterwards would never be seen again. Same lock
	// covers the closed check: an enqueue landing after DropAll has
	// nothing left to serve it and must fail now, not block its caller
	// through the shutdown drain.
	r.mu.Lock()
	if r.closed != nil {
		reason := r.closed
		r.mu.Unlock()
		inv.slot.complete(Response{StatusCode: http.StatusInternalServerError, Err: reason})
		return "", false
	}
	q, exists := r.queues[inv.FunctionName]
	if !exists {
		q = &functionQueue{}
		r.queues[inv.FunctionName] = q
	}
	q.push(inv)
	r.mu.Unlock()

	if exists {
		return "", false
	}
	return fmt.Sprintf("%s/%s", r.serverAddr, inv.FunctionName), true
}

// Dequeue pops the next invocation for a function and moves it into
// the awaiting table, keyed by request ID, where Complete will find it
// once the function posts a response. The pop and the stash happen in
// one critical section: were there a gap between them, a concurrent
// Drop would scan both places, find the invocation in neither, and
// leave its trigger handler blocked forever.
func (r *Registry) Dequeue(functionName string) (*Invocation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, ok := r.queues[functionName]
	if !ok {
		return nil, false
	}
	inv, ok := q.pop()
	if !ok {
		return nil, false
	}
	r.waiting[inv.RequestID] = inv
	return inv, true
}

// Complete delivers a response to the trigger handler waiting on the
// given request ID. Completing an unknown request ID is a benign no-op,
// logged at debug level: the invocation may already have been completed
// or dropped.
func (r *Registry) Complete(requestID string, resp Response) {
	r.mu.Lock()
	inv, ok := r.waiting[requestID]
	if ok {
		delete(r.waiting, requestID)
	}
	r.mu.Unlock()

	if !ok {
		logging.Op().Debug("complete: unknown request id", "request_id", requestID)
		return
	}
	inv.slot.complete(resp)
}

// Wait blocks until the invocation's response slot is completed.
func (inv *Invocation) Wait() Response {
	return <-inv.slot.ch
}

// Drop removes a function's queue and fails every one of its
// invocations still held by the registry — queued or awaiting a
// response — with a 500, used when the supervisor tears a function's
// process down (a restart or a shutdown).
func (r *Registry) Drop(functionName string, reason error) {
	r.mu.Lock()
	var stale []*Invocation
	if q, ok := r.queues[functionName]; ok {
		delete(r.queues, functionName)
		q.mu.Lock()
		stale = append(stale, q.items...)
		q.items = nil
		q.mu.Unlock()
	}
	for id, inv := range r.waiting {
		if inv.FunctionName == functionName {
			stale = append(stale, inv)
			delete(r.waiting, id)
		}
	}
	r.mu.Unlock()

	for _, inv := range stale {
		inv.slot.complete(Response{StatusCode: http.StatusInternalServerError, Err: reason})
	}
}

// DropAll fails every invocation the registry still holds, across
// every function name — including ones no supervisor ever managed,
// like a trigger enqueued under an unknown name that nothing will ever
// poll for — and closes the registry so later enqueues fail
// immediately with the same reason. Used at daemon shutdown so no
// handler is left blocked.
func (r *Registry) DropAll(reason error) {
	r.mu.Lock()
	r.closed = reason
	var stale []*Invocation
	for name, q := range r.queues {
		delete(r.queues, name)
		q.mu.Lock()
		stale = append(stale, q.items...)
		q.items = nil
		q.mu.Unlock()
	}
	for id, inv := range r.waiting {
		stale = append(stale, inv)
		delete(r.waiting, id)
	}
	r.mu.Unlock()

	for _, inv := range stale {
		inv.slot.complete(Response{StatusCode: http.StatusInternalServerError, Err: reason})
	}
}

// FailNext pops the oldest queued invocation for a function (one that a
// runtime poll has not yet picked up) and fails it directly, used by the
// runtime protocol's init/error route: a function process that crashes
// during its own initialization never reaches next_invocation, so there
// is no dequeued Invocation to attach the error to. Reports false if the
// function has no queued invocation to fail.
func (r *Registry) FailNext(functionName string, resp Response) bool {
	r.mu.Lock()
	q, ok := r.queues[functionName]
	r.mu.Unlock()
	if !ok {
		return false
	}

	inv, ok := q.pop()
	if !ok {
		return false
	}

	inv.slot.complete(resp)
	return true
}

// QueueDepth reports how many invocations are queued for a function,
// used by the emulator to update the queue-depth metric. The
// supervisor's Registry interface includes it, but no spawn decision
// reads it.
func (r *Registry) QueueDepth(functionName string) int {
	r.mu.Lock()
	q, ok := r.queues[functionName]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
