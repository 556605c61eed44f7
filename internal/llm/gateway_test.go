package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestGenerateSucceedsOnFirstAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{Response: "ok", Done: true})
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, time.Second, 3, zap.NewNop(), nil)
	text, _, err := g.Generate(context.Background(), "mistral", "hello", GenerateParams{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "ok" {
		t.Errorf("text = %q, want ok", text)
	}
}

func TestGenerateRetriesOnServerErrorThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(generateResponse{Response: "recovered", Done: true})
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, time.Second, 3, zap.NewNop(), nil)
	// Two 503s exercise the real 2^n-second backoff for n=1 and n=2
	// (2s + 4s), so this test takes about six seconds.
	text, _, err := g.Generate(context.Background(), "mistral", "hello", GenerateParams{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "recovered" {
		t.Errorf("text = %q, want recovered", text)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestGenerateDoesNotRetryOn4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, time.Second, 3, zap.NewNop(), nil)
	_, _, err := g.Generate(context.Background(), "mistral", "hello", GenerateParams{})
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 4xx)", calls)
	}
}

func TestHealthCheckServiceHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(tagsResponse{})
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, time.Second, 0, zap.NewNop(), nil)
	st := g.HealthCheckService(context.Background(), time.Second)
	if st.Status.String() != "Healthy" {
		t.Errorf("status = %v, want Healthy", st.Status)
	}
}
