package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		_ = json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, "json", req.Format)
		assert.Equal(t, "be brief", req.System)
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "  {\"ok\":true}\n", Done: true})
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Embed(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(Config{BaseURL: srv.URL + "/", Dimension: 3})

	vec, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, 3, c.Dimension())
	assert.Equal(t, "nomic-embed-text", c.Model())
}

func TestClient_EmbedDimensionMismatch(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(Config{BaseURL: srv.URL, Dimension: 768})

	_, err := c.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 dimensions")
}

func TestClient_Generate(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(Config{BaseURL: srv.URL, ChatModel: "qwen"})

	out, err := c.Generate(context.Background(), "extract", GenerateOptions{System: "be brief", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
}

func TestClient_GenerateWithoutModel(t *testing.T) {
	c := NewClient(Config{})
	_, err := c.Generate(context.Background(), "x", GenerateOptions{})
	assert.Error(t, err)
}

func TestClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama error 404")
	assert.Error(t, c.Ping(context.Background()))
}

func TestClient_Ping(t *testing.T) {
	srv := newTestServer(t)
	assert.NoError(t, NewClient(Config{BaseURL: srv.URL}).Ping(context.Background()))
}
