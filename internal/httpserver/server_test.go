package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fredcamaral/gomcp-sdk/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scoped-memory-mcp/internal/config"
	"scoped-memory-mcp/internal/logging"
	"scoped-memory-mcp/internal/memory"
)

type echoHandler struct {
	traceIDs []string
}

func (h *echoHandler) HandleRequest(ctx context.Context, req *protocol.JSONRPCRequest) *protocol.JSONRPCResponse {
	h.traceIDs = append(h.traceIDs, logging.GetTraceID(ctx))
	return &protocol.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]interface{}{"method": req.Method}}
}

type fixedHealth struct{ status string }

func (f fixedHealth) Health(context.Context) memory.HealthReport {
	return memory.HealthReport{Status: f.status, Timestamp: time.Now()}
}

func newTestServer(t *testing.T, hash string, health HealthReporter) (*httptest.Server, *echoHandler) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Auth.APIKeyHash = hash
	h := &echoHandler{}
	ts := httptest.NewServer(New(h, health, cfg).Handler())
	t.Cleanup(ts.Close)
	return ts, h
}

func postRPC(t *testing.T, url, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/mcp", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestServer_MCPEndpoint(t *testing.T) {
	ts, h := newTestServer(t, "", nil)

	resp := postRPC(t, ts.URL, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, map[string]string{"X-Request-ID": "req-42"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "tools/list", out["result"].(map[string]interface{})["method"])
	assert.Equal(t, []string{"req-42"}, h.traceIDs)
}

func TestServer_MCPEndpoint_BadJSON(t *testing.T) {
	ts, _ := newTestServer(t, "", nil)

	resp := postRPC(t, ts.URL, `{"jsonrpc":`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var out protocol.JSONRPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotNil(t, out.Error)
	assert.Equal(t, protocol.ParseError, out.Error.Code)
}

func TestServer_APIKey(t *testing.T) {
	hash, err := HashKey("s3cret")
	require.NoError(t, err)
	ts, _ := newTestServer(t, hash, nil)
	body := `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`

	tests := []struct {
		name    string
		headers map[string]string
		status  int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"header", map[string]string{"X-API-Key": "s3cret"}, http.StatusOK},
		{"bearer", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postRPC(t, ts.URL, body, tt.headers)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.status == http.StatusUnauthorized {
				var out map[string]map[string]interface{}
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
				assert.Equal(t, "UNAUTHORIZED", out["error"]["code"])
				assert.NotEmpty(t, out["error"]["correlation_id"])
			}
		})
	}

	// health stays open for load balancers
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Health(t *testing.T) {
	ts, _ := newTestServer(t, "", fixedHealth{status: "degraded"})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var report memory.HealthReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, "degraded", report.Status)
}

func TestServer_WebSocket(t *testing.T) {
	hash, err := HashKey("s3cret")
	require.NoError(t, err)
	ts, _ := newTestServer(t, hash, nil)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"X-API-Key": []string{"s3cret"}})
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":7,"method":"prompts/list"}`)))
	var out map[string]interface{}
	require.NoError(t, conn.ReadJSON(&out))
	assert.EqualValues(t, 7, out["id"])
	assert.Equal(t, "prompts/list", out["result"].(map[string]interface{})["method"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	out = nil
	require.NoError(t, conn.ReadJSON(&out))
	assert.EqualValues(t, protocol.ParseError, out["error"].(map[string]interface{})["code"])
}

func TestServer_ListenAndServeStopsOnCancel(t *testing.T) {
	cfg := config.DefaultConfig()
	s := New(&echoHandler{}, nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
