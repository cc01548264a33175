package emulator

import (
	"encoding/base64"
	"io"
	"net/http"
	"strconv"

	"github.com/oriys/lambdalocal/internal/extension"
	"github.com/oriys/lambdalocal/internal/metrics"
	"github.com/oriys/lambdalocal/internal/registry"
)

// Header names the runtime protocol exchanges, named for the constants
// they mirror in the runtime API's own handler.
const (
	headerRuntimeRequestID   = "Lambda-Runtime-Aws-Request-Id"
	headerRuntimeDeadlineMs  = "Lambda-Runtime-Deadline-Ms"
	headerRuntimeFunctionARN = "Lambda-Runtime-Invoked-Function-Arn"
	headerClientContext      = "Lambda-Runtime-Client-Context"
	headerCognitoIdentity    = "Lambda-Runtime-Cognito-Identity"
	headerTraceID            = "Lambda-Runtime-Trace-Id"

	// maxClientContextLen is the maximum byte length of the re-encoded
	// client context header the runtime API will accept; larger values
	// are rejected rather than truncated, matching the real service.
	maxClientContextLen = 3583
)

// handleNextInvocation implements GET .../runtime/invocation/next: a
// long(ish) poll that a function's bootstrap calls in a loop. An empty
// queue returns 204 immediately rather than blocking — a running
// function process is expected to call this again right away, and
// blocking here would tie up a goroutine for no benefit since the
// supervisor only starts a process once an invocation already exists.
func (s *Server) handleNextInvocation(w http.ResponseWriter, r *http.Request) {
	functionName := r.PathValue("function")

	inv, ok := s.registry.Dequeue(functionName)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	defer metrics.SetQueueDepth(functionName, s.registry.QueueDepth(functionName))

	// Validate before anything observable happens: extensions must not
	// see an INVOKE event for an invocation that is then rejected and
	// never handed to the function.
	var encodedContext string
	if inv.ClientContext != "" {
		encodedContext = base64.StdEncoding.EncodeToString([]byte(inv.ClientContext))
		if len(encodedContext) > maxClientContextLen {
			writeProblem(w, http.StatusInternalServerError, "client context too large",
				"base64-encoded client context exceeds the 3583 byte limit")
			s.registry.Complete(inv.RequestID, registry.Response{
				StatusCode: http.StatusInternalServerError,
				Err:        errClientContextTooLarge,
			})
			return
		}
	}

	s.brokerFor(functionName).Publish(extension.InvokeEvent{
		RequestID:          inv.RequestID,
		InvokedFunctionARN: functionARN(functionName),
		Tracing:            extension.Tracing{Type: "X-Amzn-Trace-Id", Value: inv.TraceID},
		DeadlineMs:         invocationDeadlineMs,
	})

	header := w.Header()
	header.Set(headerRuntimeRequestID, inv.RequestID)
	header.Set(headerRuntimeDeadlineMs, strconv.FormatInt(invocationDeadlineMs, 10))
	header.Set(headerRuntimeFunctionARN, functionARN(functionName))
	if inv.TraceID != "" {
		header.Set(headerTraceID, inv.TraceID)
	}
	if inv.CognitoIdentity != "" {
		header.Set(headerCognitoIdentity, inv.CognitoIdentity)
	}
	if encodedContext != "" {
		header.Set(headerClientContext, encodedContext)
	}

	header.Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(inv.Body)
}

// handleInvocationResponse implements POST
// .../runtime/invocation/{requestId}/response: the function hands back
// its result, which is delivered to whichever trigger handler is
// blocked waiting on that request ID.
func (s *Server) handleInvocationResponse(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("requestId")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "could not read response body", err.Error())
		return
	}

	s.registry.Complete(requestID, registry.Response{
		StatusCode: http.StatusOK,
		Header:     r.Header.Clone(),
		Body:       body,
	})

	w.WriteHeader(http.StatusAccepted)
}

// handleInvocationError implements POST
// .../runtime/invocation/{requestId}/error: the function reports that it
// failed to process this specific invocation.
func (s *Server) handleInvocationError(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("requestId")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "could not read error body", err.Error())
		return
	}

	s.registry.Complete(requestID, registry.Response{
		StatusCode: http.StatusInternalServerError,
		Header:     r.Header.Clone(),
		Body:       body,
	})

	w.WriteHeader(http.StatusAccepted)
}

// handleInitError implements POST .../runtime/init/error: the function
// process failed before it ever reached its first next_invocation call,
// so there is no request ID to key off. The oldest invocation still
// sitting in the function's queue — the one that triggered the spawn —
// is failed directly, as a function error. With nothing queued the call
// is answered with a problem response instead of 202.
func (s *Server) handleInitError(w http.ResponseWriter, r *http.Request) {
	functionName := r.PathValue("function")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "could not read init error body", err.Error())
		return
	}

	failed := s.registry.FailNext(functionName, registry.Response{
		StatusCode: http.StatusInternalServerError,
		Header:     r.Header.Clone(),
		Body:       body,
		Err:        errFunctionInitFailed,
	})
	if !failed {
		writeProblem(w, http.StatusInternalServerError, "no pending invocation",
			"no queued invocation for "+functionName+" to fail")
		return
	}
	metrics.Global().RecordInvocation(functionName, 0, true, false)

	w.WriteHeader(http.StatusAccepted)
}

func functionARN(functionName string) string {
	return "arn:aws:lambda:us-east-1:000000000000:function:" + functionName
}
