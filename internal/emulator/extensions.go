package emulator

import (
	"encoding/json"
	"net/http"

	"github.com/oriys/lambdalocal/internal/extension"
)

const extensionIDHeader = "Lambda-Extension-Identifier"

type registerExtensionRequest struct {
	Events []extension.Class `json:"events"`
}

type registerExtensionResponse struct {
	FunctionName    string `json:"functionName"`
	FunctionVersion string `json:"functionVersion"`
	Handler         string `json:"handler"`
}

// handleRegisterExtension implements POST .../extension/register. The
// extension tells us which event classes it wants; we hand back an
// opaque ID it must present as Lambda-Extension-Identifier on every
// later call.
func (s *Server) handleRegisterExtension(w http.ResponseWriter, r *http.Request) {
	functionName := r.PathValue("function")

	var req registerExtensionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusInternalServerError, "invalid register body", err.Error())
		return
	}
	if len(req.Events) == 0 {
		req.Events = []extension.Class{extension.ClassInvoke, extension.ClassShutdown}
	}

	id := s.brokerFor(functionName).Register(req.Events)

	w.Header().Set(extensionIDHeader, id)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(registerExtensionResponse{
		FunctionName:    functionName,
		FunctionVersion: "$LATEST",
		Handler:         "handler",
	})
}

// handleNextEvent implements GET .../extension/event/next: the
// extension's own long-poll loop. It blocks on the broker's channel for
// this extension until an INVOKE or SHUTDOWN event is published, or
// until the request context is cancelled (the extension process exited
// or the client disconnected).
func (s *Server) handleNextEvent(w http.ResponseWriter, r *http.Request) {
	functionName := r.PathValue("function")
	extensionID := r.Header.Get(extensionIDHeader)
	if extensionID == "" {
		writeProblem(w, http.StatusInternalServerError, "missing extension identifier",
			"the "+extensionIDHeader+" header is required")
		return
	}

	broker := s.brokerFor(functionName)
	ch, ok := broker.AttachChannel(extensionID)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "unknown extension", errExtensionNotRegistered.Error())
		return
	}

	select {
	case evt := <-ch:
		broker.Clear(extensionID)
		writeNextEvent(w, evt)
	case <-r.Context().Done():
	}
}

func writeNextEvent(w http.ResponseWriter, evt extension.NextEvent) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	switch e := evt.(type) {
	case extension.InvokeEvent:
		json.NewEncoder(w).Encode(map[string]any{
			"eventType":          string(extension.ClassInvoke),
			"requestId":          e.RequestID,
			"invokedFunctionArn": e.InvokedFunctionARN,
			"deadlineMs":         e.DeadlineMs,
			"tracing":            e.Tracing,
		})
	case extension.ShutdownEvent:
		json.NewEncoder(w).Encode(map[string]any{
			"eventType":      string(extension.ClassShutdown),
			"shutdownReason": string(e.Reason),
			"deadlineMs":     invocationDeadlineMs,
		})
	}
}

// handleExtensionInitError and handleExtensionExitError both just
// acknowledge the report; the supervisor observes the process exit
// separately rather than through this endpoint.
func (s *Server) handleExtensionInitError(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleExtensionExitError(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusAccepted)
}

// handleTelemetrySubscribe and handleLogsSubscribe acknowledge a
// subscription request without ever streaming real log or telemetry
// content; the local emulator has no log aggregation pipeline for an
// extension to tap into, so these exist only so an unmodified extension
// binary's subscription call doesn't fail outright.
func (s *Server) handleTelemetrySubscribe(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleLogsSubscribe(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
