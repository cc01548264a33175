package emulator

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/lambdalocal/internal/registry"
)

type fakeSpawner struct {
	calls []string
}

func (f *fakeSpawner) EnsureRunning(functionName, runtimeAPI string) {
	f.calls = append(f.calls, functionName)
}

func TestDirectInvokeRoundTrip(t *testing.T) {
	spawner := &fakeSpawner{}
	srv := NewServer("127.0.0.1:9000", spawner)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	done := make(chan *http.Response, 1)
	go func() {
		resp, err := http.Post(ts.URL+"/2015-03-31/functions/hello/invocations", "application/json", bytes.NewBufferString(`{"name":"world"}`))
		require.NoError(t, err)
		done <- resp
	}()

	// Poll the runtime API until the invocation shows up, mirroring a
	// real bootstrap's retry loop.
	var reqID string
	var body []byte
	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/hello/2018-06-01/runtime/invocation/next")
		require.NoError(t, err)
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNoContent {
			return false
		}
		reqID = resp.Header.Get(headerRuntimeRequestID)
		buf := make([]byte, 1024)
		n, _ := resp.Body.Read(buf)
		body = buf[:n]
		return true
	}, 2*time.Second, 10*time.Millisecond)

	assert.Contains(t, string(body), "world")
	assert.NotEmpty(t, reqID)
	assert.Equal(t, []string{"hello"}, spawner.calls)

	respBody := []byte(`{"ok":true}`)
	resp, err := http.Post(ts.URL+"/hello/2018-06-01/runtime/invocation/"+reqID+"/response", "application/json", bytes.NewReader(respBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	invokeResp := <-done
	defer invokeResp.Body.Close()
	var decoded map[string]bool
	require.NoError(t, json.NewDecoder(invokeResp.Body).Decode(&decoded))
	assert.True(t, decoded["ok"])
}

func TestNextInvocationReturnsNoContentWhenQueueEmpty(t *testing.T) {
	srv := NewServer("127.0.0.1:9000", nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/hello/2018-06-01/runtime/invocation/next")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestInitErrorFailsThePendingInvocation(t *testing.T) {
	srv := NewServer("127.0.0.1:9000", &fakeSpawner{})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	done := make(chan *http.Response, 1)
	go func() {
		resp, _ := http.Post(ts.URL+"/2015-03-31/functions/broken/invocations", "application/json", bytes.NewBufferString(`{}`))
		done <- resp
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Post(ts.URL+"/broken/2018-06-01/runtime/init/error", "application/json", bytes.NewBufferString(`{"errorMessage":"boom"}`))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusAccepted
	}, 2*time.Second, 10*time.Millisecond)

	resp := <-done
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, "Unhandled", resp.Header.Get("X-Amz-Function-Error"))
}

func TestDefaultFallbackRoutesToSentinelFunction(t *testing.T) {
	spawner := &fakeSpawner{}
	srv := NewServer("127.0.0.1:9000", spawner)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	done := make(chan *http.Response, 1)
	go func() {
		resp, err := http.Get(ts.URL + "/some/random/path?x=1")
		require.NoError(t, err)
		done <- resp
	}()

	var reqID string
	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/" + registry.SentinelFunctionName + "/2018-06-01/runtime/invocation/next")
		require.NoError(t, err)
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNoContent {
			return false
		}
		reqID = resp.Header.Get(headerRuntimeRequestID)
		var event map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&event))
		assert.Equal(t, "/some/random/path", event["rawPath"])
		return true
	}, 2*time.Second, 10*time.Millisecond)

	require.NotEmpty(t, reqID)
	assert.Equal(t, []string{registry.SentinelFunctionName}, spawner.calls)

	respBody := []byte(`{"statusCode":200,"headers":{"content-type":"text/plain"},"body":"ok"}`)
	resp, err := http.Post(ts.URL+"/"+registry.SentinelFunctionName+"/2018-06-01/runtime/invocation/"+reqID+"/response", "application/json", bytes.NewReader(respBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	triggerResp := <-done
	defer triggerResp.Body.Close()
	assert.Equal(t, http.StatusOK, triggerResp.StatusCode)
}

func TestFunctionURLGatewayRoundTrip(t *testing.T) {
	srv := NewServer("127.0.0.1:9000", &fakeSpawner{})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	done := make(chan *http.Response, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/lambda-url/api/users?limit=10", nil)
		req.Header.Set("Cookie", "s=abc; t=xyz")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		done <- resp
	}()

	var reqID string
	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/api/2018-06-01/runtime/invocation/next")
		require.NoError(t, err)
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNoContent {
			return false
		}
		reqID = resp.Header.Get(headerRuntimeRequestID)
		var event map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&event))
		assert.Equal(t, "/users", event["rawPath"])
		assert.Equal(t, "limit=10", event["rawQueryString"])
		assert.ElementsMatch(t, []any{"s=abc", "t=xyz"}, event["cookies"])
		return true
	}, 2*time.Second, 10*time.Millisecond)

	respBody := []byte(`{"statusCode":200,"headers":{"content-type":"text/plain"},"body":"ok","cookies":["u=new"]}`)
	resp, err := http.Post(ts.URL+"/api/2018-06-01/runtime/invocation/"+reqID+"/response", "application/json", bytes.NewReader(respBody))
	require.NoError(t, err)
	resp.Body.Close()

	triggerResp := <-done
	defer triggerResp.Body.Close()
	assert.Equal(t, http.StatusOK, triggerResp.StatusCode)
	assert.Equal(t, "text/plain", triggerResp.Header.Get("Content-Type"))
	assert.Equal(t, "u=new", triggerResp.Header.Get("Set-Cookie"))
	body := make([]byte, 16)
	n, _ := triggerResp.Body.Read(body)
	assert.Equal(t, "ok", string(body[:n]))
}

func TestClientContextForwardedBase64Encoded(t *testing.T) {
	srv := NewServer("127.0.0.1:9000", &fakeSpawner{})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	done := make(chan *http.Response, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/2015-03-31/functions/hello/invocations", bytes.NewBufferString(`{}`))
		req.Header.Set("Lambda-Runtime-Client-Context", `{"foo":"bar"}`)
		resp, _ := http.DefaultClient.Do(req)
		done <- resp
	}()

	var reqID, forwarded string
	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/hello/2018-06-01/runtime/invocation/next")
		require.NoError(t, err)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		reqID = resp.Header.Get(headerRuntimeRequestID)
		forwarded = resp.Header.Get(headerClientContext)
		return true
	}, 2*time.Second, 10*time.Millisecond)

	decoded, err := base64.StdEncoding.DecodeString(forwarded)
	require.NoError(t, err)
	assert.Equal(t, `{"foo":"bar"}`, string(decoded))

	resp, err := http.Post(ts.URL+"/hello/2018-06-01/runtime/invocation/"+reqID+"/response", "text/plain", bytes.NewReader(decoded))
	require.NoError(t, err)
	resp.Body.Close()

	invokeResp := <-done
	require.NotNil(t, invokeResp)
	defer invokeResp.Body.Close()
	body := make([]byte, 64)
	n, _ := invokeResp.Body.Read(body)
	assert.Equal(t, `{"foo":"bar"}`, string(body[:n]))
}

func TestOversizeClientContextFailsTheInvocation(t *testing.T) {
	srv := NewServer("127.0.0.1:9000", &fakeSpawner{})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	// 2700 raw bytes encode to 3600 base64 bytes, past the 3583 limit.
	oversize := strings.Repeat("x", 2700)

	done := make(chan *http.Response, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/2015-03-31/functions/hello/invocations", bytes.NewBufferString(`{}`))
		req.Header.Set("Lambda-Runtime-Client-Context", oversize)
		resp, _ := http.DefaultClient.Do(req)
		done <- resp
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/hello/2018-06-01/runtime/invocation/next")
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusInternalServerError
	}, 2*time.Second, 10*time.Millisecond)

	invokeResp := <-done
	require.NotNil(t, invokeResp)
	defer invokeResp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, invokeResp.StatusCode)
}

func TestOnlyLambdaAPIsDisablesTriggerRoutes(t *testing.T) {
	srv := NewServer("127.0.0.1:9000", nil, WithOnlyLambdaAPIs())
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/2015-03-31/functions/hello/invocations", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	next, err := http.Get(ts.URL + "/hello/2018-06-01/runtime/invocation/next")
	require.NoError(t, err)
	defer next.Body.Close()
	assert.Equal(t, http.StatusNoContent, next.StatusCode)
}

func TestExtensionRegisterAndEventDelivery(t *testing.T) {
	srv := NewServer("127.0.0.1:9000", &fakeSpawner{})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	regResp, err := http.Post(ts.URL+"/hello/2020-01-01/extension/register", "application/json", bytes.NewBufferString(`{"events":["INVOKE"]}`))
	require.NoError(t, err)
	defer regResp.Body.Close()
	extensionID := regResp.Header.Get(extensionIDHeader)
	require.NotEmpty(t, extensionID)

	eventDone := make(chan *http.Response, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/hello/2020-01-01/extension/event/next", nil)
		req.Header.Set(extensionIDHeader, extensionID)
		resp, _ := http.DefaultClient.Do(req)
		eventDone <- resp
	}()

	go func() {
		http.Post(ts.URL+"/2015-03-31/functions/hello/invocations", "application/json", bytes.NewBufferString(`{}`))
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/hello/2018-06-01/runtime/invocation/next")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case resp := <-eventDone:
		require.NotNil(t, resp)
		defer resp.Body.Close()
		var decoded map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
		assert.Equal(t, "INVOKE", decoded["eventType"])
	case <-time.After(2 * time.Second):
		t.Fatal("extension never received the invoke event")
	}
}
