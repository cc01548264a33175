package registry

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueFirstInvocationReturnsRuntimeAPI(t *testing.T) {
	r := New("127.0.0.1:9000")

	inv1 := &Invocation{RequestID: "a", FunctionName: "hello"}
	api, spawned := r.Enqueue(inv1)
	assert.True(t, spawned)
	assert.Equal(t, "127.0.0.1:9000/hello", api)

	inv2 := &Invocation{RequestID: "b", FunctionName: "hello"}
	_, spawned2 := r.Enqueue(inv2)
	assert.False(t, spawned2)
}

func TestDequeueIsFIFO(t *testing.T) {
	r := New("127.0.0.1:9000")
	first := &Invocation{RequestID: "a", FunctionName: "hello"}
	second := &Invocation{RequestID: "b", FunctionName: "hello"}
	r.Enqueue(first)
	r.Enqueue(second)

	got, ok := r.Dequeue("hello")
	require.True(t, ok)
	assert.Equal(t, "a", got.RequestID)

	got2, ok := r.Dequeue("hello")
	require.True(t, ok)
	assert.Equal(t, "b", got2.RequestID)

	_, ok = r.Dequeue("hello")
	assert.False(t, ok)
}

func TestCompleteDeliversResponseToWaiter(t *testing.T) {
	r := New("127.0.0.1:9000")
	inv := &Invocation{RequestID: "a", FunctionName: "hello"}
	r.Enqueue(inv)
	dequeued, ok := r.Dequeue("hello")
	require.True(t, ok)

	done := make(chan Response, 1)
	go func() { done <- dequeued.Wait() }()

	r.Complete("a", Response{StatusCode: http.StatusOK, Body: []byte(`{"ok":true}`)})

	resp := <-done
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"ok":true}`, string(resp.Body))
}

func TestCompleteUnknownRequestIDIsNoOp(t *testing.T) {
	r := New("127.0.0.1:9000")
	assert.NotPanics(t, func() {
		r.Complete("does-not-exist", Response{StatusCode: http.StatusOK})
	})
}

func TestCompleteTwiceDoesNotPanic(t *testing.T) {
	r := New("127.0.0.1:9000")
	inv := &Invocation{RequestID: "a", FunctionName: "hello"}
	r.Enqueue(inv)
	dequeued, _ := r.Dequeue("hello")

	go dequeued.Wait()
	assert.NotPanics(t, func() {
		dequeued.slot.complete(Response{StatusCode: http.StatusOK})
		dequeued.slot.complete(Response{StatusCode: http.StatusOK})
	})
}

func TestDropFailsWaitingInvocations(t *testing.T) {
	r := New("127.0.0.1:9000")
	inv := &Invocation{RequestID: "a", FunctionName: "hello"}
	r.Enqueue(inv)
	dequeued, _ := r.Dequeue("hello")

	done := make(chan Response, 1)
	go func() { done <- dequeued.Wait() }()

	r.Drop("hello", assertError)

	resp := <-done
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.ErrorIs(t, resp.Err, assertError)
}

func TestQueueDepthTracksPendingInvocations(t *testing.T) {
	r := New("127.0.0.1:9000")
	assert.Equal(t, 0, r.QueueDepth("hello"))

	r.Enqueue(&Invocation{RequestID: "a", FunctionName: "hello"})
	r.Enqueue(&Invocation{RequestID: "b", FunctionName: "hello"})
	assert.Equal(t, 2, r.QueueDepth("hello"))

	r.Dequeue("hello")
	assert.Equal(t, 1, r.QueueDepth("hello"))
}

func TestDropFailsQueuedInvocationsToo(t *testing.T) {
	r := New("127.0.0.1:9000")
	inv := &Invocation{RequestID: "a", FunctionName: "hello"}
	r.Enqueue(inv)

	done := make(chan Response, 1)
	go func() { done <- inv.Wait() }()

	r.Drop("hello", assertError)

	resp := <-done
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.ErrorIs(t, resp.Err, assertError)
}

func TestEnqueueAfterDropAllFailsImmediately(t *testing.T) {
	r := New("127.0.0.1:9000")
	r.DropAll(assertError)

	inv := &Invocation{RequestID: "a", FunctionName: "hello"}
	_, spawned := r.Enqueue(inv)
	assert.False(t, spawned)

	resp := inv.Wait()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.ErrorIs(t, resp.Err, assertError)
}

var assertError = errTest("function process crashed")

type errTest string

func (e errTest) Error() string { return string(e) }
