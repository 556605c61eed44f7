package balancer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/aires-hq/aires/internal/llm"
	"github.com/aires-hq/aires/internal/metrics"
)

func okServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			json.NewEncoder(w).Encode(struct{}{})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"response": "ok", "done": true})
	}))
}

func TestGenerateRoutesToOnlyHealthyEndpoint(t *testing.T) {
	srv := okServer()
	defer srv.Close()

	b := New([]EndpointConfig{
		{ID: "a", BaseURL: srv.URL, Weight: 1, MaxConcurrent: 4, Timeout: time.Second},
	}, time.Second, zap.NewNop(), metrics.NewMetrics())

	text, _, err := b.Generate(context.Background(), "mistral", "hi", llm.GenerateParams{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "ok" {
		t.Errorf("text = %q, want ok", text)
	}
}

func TestGenerateFailsFastWhenNoEndpointAndDeadlineShort(t *testing.T) {
	b := New(nil, 50*time.Millisecond, zap.NewNop(), metrics.NewMetrics())
	_, _, err := b.Generate(context.Background(), "mistral", "hi", llm.GenerateParams{})
	if err == nil {
		t.Fatal("expected NoEndpointAvailable error with zero endpoints")
	}
}

func TestPickEndpointSkipsUnhealthy(t *testing.T) {
	srv := okServer()
	defer srv.Close()

	b := New([]EndpointConfig{
		{ID: "a", BaseURL: srv.URL, Weight: 1, MaxConcurrent: 4, Timeout: time.Second},
	}, time.Second, zap.NewNop(), metrics.NewMetrics())

	b.endpoints[0].mu.Lock()
	b.endpoints[0].desc.Liveness = 3 // HealthUnhealthy
	b.endpoints[0].mu.Unlock()

	if got := b.pickEndpoint(); got != nil {
		t.Error("pickEndpoint should return nil when the only endpoint is unhealthy")
	}
}
