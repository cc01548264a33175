package emulator

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oriys/lambdalocal/internal/logging"
	"github.com/oriys/lambdalocal/internal/metrics"
	"github.com/oriys/lambdalocal/internal/registry"
)

// handleInvoke implements the direct Invoke API a caller (the CLI, an
// SDK client) hits: POST /2015-03-31/functions/{name}/invocations. The
// request body is passed through to the function verbatim, and the
// function's response body is passed back verbatim; there is no
// gateway-event translation on this path.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	functionName := r.PathValue("name")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "could not read invocation payload", err.Error())
		return
	}

	resp := s.dispatch(r, functionName, body)

	if resp.Err != nil {
		w.Header().Set("X-Amz-Function-Error", "Unhandled")
	}
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	w.Write(resp.Body)
}

// handleTrigger is the catch-all trigger entry point: /lambda-url/
// requests are routed to the named function, everything else falls
// through to the project's sole function.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/lambda-url/") {
		params := extractPathParameters("/lambda-url/{name}/{proxy+}", r.URL.Path)
		if name := params["name"]; name != "" {
			s.handleFunctionURL(w, r, name, "/"+params["proxy"])
			return
		}
	}
	s.handleDefaultFallback(w, r)
}

// handleFunctionURL emulates a Lambda Function URL: the incoming HTTP
// request is translated into an API-Gateway-v2-shaped event, the
// function's API-Gateway-v2-shaped response is translated back into a
// real HTTP response.
func (s *Server) handleFunctionURL(w http.ResponseWriter, r *http.Request, functionName, rawPath string) {
	event, err := buildGatewayRequest(r, rawPath)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "could not translate request", err.Error())
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "could not encode gateway event", err.Error())
		return
	}

	resp := s.dispatch(r, functionName, payload)
	if resp.Err != nil {
		writeProblem(w, http.StatusBadGateway, "function invocation failed", resp.Err.Error())
		return
	}

	var gwResp gatewayResponse
	if err := json.Unmarshal(resp.Body, &gwResp); err != nil {
		// The function didn't return a gateway-shaped response; treat
		// the raw body as a 200 text/plain response, same fallback
		// behavior as a Lambda Function URL's own client.
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write(resp.Body)
		return
	}
	writeGatewayResponse(w, gwResp)
}

// handleDefaultFallback is the catch-all trigger: any request that
// doesn't match the direct-invoke or named Function URL routes is
// wrapped as a gateway event and routed to the project's sole function,
// the same way a Function URL mounted with no explicit name would.
func (s *Server) handleDefaultFallback(w http.ResponseWriter, r *http.Request) {
	event, err := buildGatewayRequest(r, r.URL.Path)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "could not translate request", err.Error())
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "could not encode gateway event", err.Error())
		return
	}

	resp := s.dispatch(r, registry.SentinelFunctionName, payload)
	if resp.Err != nil {
		writeProblem(w, http.StatusBadGateway, "function invocation failed", resp.Err.Error())
		return
	}

	var gwResp gatewayResponse
	if err := json.Unmarshal(resp.Body, &gwResp); err != nil {
		w.WriteHeader(http.StatusOK)
		w.Write(resp.Body)
		return
	}
	writeGatewayResponse(w, gwResp)
}

// dispatch enqueues an invocation and blocks for its response. It is
// shared between the direct-invoke and Function-URL trigger paths,
// which differ only in payload shape.
func (s *Server) dispatch(r *http.Request, functionName string, body []byte) registry.Response {
	start := time.Now()

	traceID := r.Header.Get("X-Amzn-Trace-Id")
	if traceID == "" {
		traceID = newTraceID()
	}
	r.Header.Set("X-Amzn-Trace-Id", traceID)

	inv := &registry.Invocation{
		RequestID:       uuid.NewString(),
		FunctionName:    functionName,
		TraceID:         traceID,
		Request:         r,
		Body:            body,
		ClientContext:   clientContext(r.Header),
		CognitoIdentity: r.Header.Get("Lambda-Runtime-Cognito-Identity"),
	}

	metrics.Global().IncActiveRequests()
	defer metrics.Global().DecActiveRequests()

	runtimeAPI, spawned := s.registry.Enqueue(inv)
	metrics.SetQueueDepth(functionName, s.registry.QueueDepth(functionName))
	if spawned && s.spawner != nil {
		s.spawner.EnsureRunning(functionName, runtimeAPI)
	}
	logging.OpWithTrace(traceID, "").Debug("invocation enqueued",
		"request_id", inv.RequestID, "function", functionName, "cold", spawned)

	resp := inv.Wait()

	durationMs := time.Since(start).Milliseconds()
	metrics.Global().RecordInvocation(functionName, durationMs, spawned, resp.Err == nil)

	entry := &logging.InvocationLog{
		RequestID:  inv.RequestID,
		TraceID:    traceID,
		Function:   functionName,
		DurationMs: durationMs,
		Success:    resp.Err == nil,
		InputSize:  len(body),
		OutputSize: len(resp.Body),
	}
	if resp.Err != nil {
		entry.Error = resp.Err.Error()
	}
	logging.Default().Log(entry)

	return resp
}

// clientContext reads the caller's client context off a trigger
// request and returns it in raw (decoded) form; the runtime protocol
// re-encodes it uniformly before the function sees it. The
// runtime-protocol header name carries raw JSON and takes precedence;
// the Invoke API's own X-Amz-Client-Context arrives already
// base64-encoded per that API's contract, so it is decoded here first.
// An X-Amz value that doesn't decode is passed through as-is rather
// than rejected.
func clientContext(h http.Header) string {
	if v := h.Get("Lambda-Runtime-Client-Context"); v != "" {
		return v
	}
	v := h.Get("X-Amz-Client-Context")
	if decoded, err := base64.StdEncoding.DecodeString(v); err == nil {
		return string(decoded)
	}
	return v
}

// newTraceID fabricates an X-Ray-format trace header for triggers that
// arrived without one, so the function and its extensions always see a
// usable trace context.
func newTraceID() string {
	id := uuid.New()
	return fmt.Sprintf("Root=1-%08x-%x;Parent=%x;Sampled=0",
		time.Now().Unix(), id[0:12], id[4:12])
}

// gatewayRequest mirrors the subset of API Gateway's HTTP API v2 event
// shape the emulator needs to round-trip a Function URL request.
type gatewayRequest struct {
	Version               string                `json:"version"`
	RouteKey              string                `json:"routeKey"`
	RawPath               string                `json:"rawPath"`
	RawQueryString        string                `json:"rawQueryString"`
	Cookies               []string              `json:"cookies,omitempty"`
	Headers               map[string]string     `json:"headers"`
	QueryStringParameters map[string]string     `json:"queryStringParameters,omitempty"`
	PathParameters        map[string]string     `json:"pathParameters,omitempty"`
	RequestContext        gatewayRequestContext `json:"requestContext"`
	Body                  *string               `json:"body"`
	IsBase64Encoded       bool                  `json:"isBase64Encoded"`
}

type gatewayRequestContext struct {
	HTTP      gatewayHTTPContext `json:"http"`
	RequestID string             `json:"requestId"`
	Stage     string             `json:"stage"`
	Time      string             `json:"time"`
	TimeEpoch int64              `json:"timeEpoch"`
}

type gatewayHTTPContext struct {
	Method    string `json:"method"`
	Path      string `json:"path"`
	Protocol  string `json:"protocol"`
	SourceIP  string `json:"sourceIp"`
	UserAgent string `json:"userAgent"`
}

type gatewayResponse struct {
	StatusCode        int                 `json:"statusCode"`
	Headers           map[string]string   `json:"headers"`
	MultiValueHeaders map[string][]string `json:"multiValueHeaders"`
	Cookies           []string            `json:"cookies"`
	Body              string              `json:"body"`
	IsBase64Encoded   bool                `json:"isBase64Encoded"`
}

func buildGatewayRequest(r *http.Request, rawPath string) (gatewayRequest, error) {
	headers := make(map[string]string, len(r.Header))
	var cookies []string
	for k, vs := range r.Header {
		if strings.EqualFold(k, "Cookie") {
			cookies = append(cookies, splitCookies(vs)...)
			continue
		}
		headers[strings.ToLower(k)] = strings.Join(vs, ",")
	}

	query := make(map[string]string, len(r.URL.Query()))
	for k, vs := range r.URL.Query() {
		query[k] = strings.Join(vs, ",")
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return gatewayRequest{}, err
	}

	event := gatewayRequest{
		Version:               "2.0",
		RouteKey:              "$default",
		RawPath:               rawPath,
		RawQueryString:        r.URL.RawQuery,
		Cookies:               cookies,
		Headers:               headers,
		QueryStringParameters: query,
		RequestContext: gatewayRequestContext{
			HTTP: gatewayHTTPContext{
				Method:    r.Method,
				Path:      rawPath,
				Protocol:  r.Proto,
				SourceIP:  "127.0.0.1",
				UserAgent: r.UserAgent(),
			},
			RequestID: uuid.NewString(),
			Stage:     "$default",
			Time:      time.Now().UTC().Format(time.RFC3339),
			TimeEpoch: time.Now().UnixMilli(),
		},
	}

	if params := extractPathParameters("/{proxy+}", rawPath); params["proxy"] != "" {
		event.PathParameters = params
	}

	// An empty body stays an explicit null rather than an empty string,
	// matching the shape a real Function URL delivers for a bodyless
	// request.
	if len(body) > 0 {
		if isBinaryContent(r.Header.Get("Content-Type")) {
			encoded := base64.StdEncoding.EncodeToString(body)
			event.Body = &encoded
			event.IsBase64Encoded = true
		} else {
			text := string(body)
			event.Body = &text
		}
	}

	return event, nil
}

func writeGatewayResponse(w http.ResponseWriter, resp gatewayResponse) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	for k, vs := range resp.MultiValueHeaders {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	for _, c := range resp.Cookies {
		w.Header().Add("Set-Cookie", c)
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	if resp.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(resp.Body)
		if err == nil {
			w.Write(decoded)
			return
		}
	}
	w.Write([]byte(resp.Body))
}

func splitCookies(headerValues []string) []string {
	var out []string
	for _, v := range headerValues {
		for _, part := range strings.Split(v, ";") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func isBinaryContent(contentType string) bool {
	if contentType == "" {
		return false
	}
	textLike := []string{"text/", "application/json", "application/xml", "application/javascript"}
	for _, prefix := range textLike {
		if strings.HasPrefix(contentType, prefix) {
			return false
		}
	}
	return true
}

// extractPathParameters matches a route pattern containing "{name}"
// segments and an optional trailing "{proxy+}" wildcard against an
// actual request path, returning the named captures by position. Literal
// segments are not compared against the path; a path shorter than the
// pattern yields only the captures it reaches, and path segments beyond
// a pattern with no wildcard are ignored.
func extractPathParameters(pattern, path string) map[string]string {
	patternParts := strings.Split(strings.Trim(pattern, "/"), "/")
	pathParts := strings.Split(strings.Trim(path, "/"), "/")

	params := make(map[string]string)
	for i, p := range patternParts {
		if strings.HasSuffix(p, "+}") && strings.HasPrefix(p, "{") {
			name := strings.TrimSuffix(strings.TrimPrefix(p, "{"), "+}")
			params[name] = strings.Join(pathParts[min(i, len(pathParts)):], "/")
			return params
		}
		if i >= len(pathParts) {
			return params
		}
		if strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}") {
			name := strings.TrimSuffix(strings.TrimPrefix(p, "{"), "}")
			params[name] = pathParts[i]
		}
	}
	return params
}
