// Package llm — gateway.go
//
// LLM Gateway for AIRES (spec §4.4): an HTTP client to an
// Ollama-compatible inference server, with per-attempt timeout, fixed
// exponential backoff on transient failures, and model/service health
// checks.
//
// Error classification on a Generate attempt:
//
//	transport failure / 5xx  -> transient, retried
//	4xx                      -> terminal, not retried
//	context cancelled        -> not an error: propagated immediately
//
// Grounded on the classify-then-branch retry shape used across the
// broader example pack's AI client code, reduced to the fixed
// 2^n-second backoff the spec mandates (no circuit breaker, no
// quota-wait parsing — the spec does not call for either).
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/aires-hq/aires/internal/metrics"
	"github.com/aires-hq/aires/internal/model"
)

// GenerateParams mirrors the `options` object in the /api/generate
// request body.
type GenerateParams struct {
	Temperature float64
	TopP        float64
	NumPredict  int
}

// Usage is the subset of the /api/generate response AIRES records for
// booklet metadata.
type Usage struct {
	TotalDurationMs int64
}

type generateRequest struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	Stream  bool    `json:"stream"`
	Options options `json:"options"`
}

type options struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumPredict  int     `json:"num_predict"`
}

type generateResponse struct {
	Response      string `json:"response"`
	Done          bool   `json:"done"`
	TotalDuration int64  `json:"total_duration"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Gateway is the HTTP client for one inference endpoint's base URL.
// Retries/backoff/health-check logic lives here; the Load Balancer
// (internal/balancer) owns routing across multiple Gateways.
type Gateway struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
	metrics *metrics.Metrics

	maxRetries int
}

// NewGateway constructs a Gateway against baseURL with the given
// per-attempt timeout and retry budget.
func NewGateway(baseURL string, timeout time.Duration, maxRetries int, log *zap.Logger, m *metrics.Metrics) *Gateway {
	return &Gateway{
		baseURL:    baseURL,
		client:     &http.Client{Timeout: timeout},
		log:        log,
		metrics:    m,
		maxRetries: maxRetries,
	}
}

// Generate calls POST {base}/api/generate, retrying transient
// transport/5xx failures with 2^n-second backoff for n=1..maxRetries.
// 4xx is never retried. ctx cancellation aborts the in-flight HTTP call
// immediately and is not treated as an error wrapped in *model.Error —
// callers should check ctx.Err() themselves if they need to distinguish
// cancellation from a genuine Gateway failure.
func (g *Gateway) Generate(ctx context.Context, modelName, prompt string, params GenerateParams) (string, Usage, error) {
	body, err := json.Marshal(generateRequest{
		Model:  modelName,
		Prompt: prompt,
		Stream: false,
		Options: options{
			Temperature: params.Temperature,
			TopP:        params.TopP,
			NumPredict:  params.NumPredict,
		},
	})
	if err != nil {
		return "", Usage{}, model.NewError(model.CodeBadRequest, "encode generate request", err)
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<uint(attempt)) * time.Second
			if g.metrics != nil {
				g.metrics.GatewayRetriesTotal.Inc()
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", Usage{}, ctx.Err()
			}
		}

		start := time.Now()
		text, usage, classErr := g.doGenerate(ctx, body)
		elapsed := time.Since(start)
		if g.metrics != nil {
			g.metrics.GatewayLatencySeconds.WithLabelValues(modelName).Observe(elapsed.Seconds())
		}

		if classErr == nil {
			if g.metrics != nil {
				g.metrics.GatewayRequestsTotal.WithLabelValues(modelName, "success").Inc()
			}
			return text, usage, nil
		}

		lastErr = classErr
		if ctx.Err() != nil {
			return "", Usage{}, ctx.Err()
		}
		if !isTransient(classErr) {
			if g.metrics != nil {
				g.metrics.GatewayRequestsTotal.WithLabelValues(modelName, "terminal_error").Inc()
			}
			return "", Usage{}, classErr
		}
		g.log.Warn("gateway: transient generate failure, retrying",
			zap.String("model", modelName), zap.Int("attempt", attempt), zap.Error(classErr))
	}

	if g.metrics != nil {
		g.metrics.GatewayRequestsTotal.WithLabelValues(modelName, "exhausted_retries").Inc()
	}
	return "", Usage{}, lastErr
}

func isTransient(err error) bool {
	me, ok := err.(*model.Error)
	if !ok {
		return false
	}
	return me.Code == model.CodeNetworkError || me.Code == model.CodeTimeout || me.Code == model.CodeServerError
}

func (g *Gateway) doGenerate(ctx context.Context, body []byte) (string, Usage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, model.NewError(model.CodeBadRequest, "build generate request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", Usage{}, ctx.Err()
		}
		return "", Usage{}, model.NewError(model.CodeNetworkError, "generate request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, model.NewError(model.CodeNetworkError, "read generate response body", err)
	}

	if resp.StatusCode >= 500 {
		return "", Usage{}, model.NewError(model.CodeServerError, fmt.Sprintf("generate returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		return "", Usage{}, model.NewError(model.CodeBadRequest, fmt.Sprintf("generate returned %d", resp.StatusCode), nil)
	}

	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil || gr.Response == "" {
		return "", Usage{}, model.NewError(model.CodeServerError, "malformed or empty generate response", err)
	}

	return gr.Response, Usage{TotalDurationMs: gr.TotalDuration / int64(time.Millisecond)}, nil
}

// HealthCheckService performs GET {base}/api/tags with a short timeout.
// Healthy iff 200 and the body parses.
func (g *Gateway) HealthCheckService(ctx context.Context, timeout time.Duration) model.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/api/tags", nil)
	if err != nil {
		return model.HealthStatus{Status: model.HealthUnhealthy, ErrorMessage: err.Error()}
	}
	resp, err := g.client.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return model.HealthStatus{Status: model.HealthUnhealthy, ResponseTimeMs: latency, ErrorMessage: err.Error()}
	}
	defer resp.Body.Close()

	var tr tagsResponse
	if resp.StatusCode != http.StatusOK {
		return model.HealthStatus{Status: model.HealthUnhealthy, ResponseTimeMs: latency,
			ErrorMessage: fmt.Sprintf("tags returned %d", resp.StatusCode)}
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return model.HealthStatus{Status: model.HealthUnhealthy, ResponseTimeMs: latency, ErrorMessage: err.Error()}
	}
	return model.HealthStatus{Status: model.HealthHealthy, ResponseTimeMs: latency}
}

// HealthCheckModel confirms modelName responds to a trivial prompt.
// Whether the model appears in the /api/tags listing is not checked.
// Unhealthy on any failure; Degraded if latency exceeds warnThreshold.
func (g *Gateway) HealthCheckModel(ctx context.Context, modelName string, warnThreshold time.Duration) model.HealthStatus {
	start := time.Now()
	_, _, err := g.Generate(ctx, modelName, "ping", GenerateParams{NumPredict: 1})
	latency := time.Since(start)

	if err != nil {
		return model.HealthStatus{Status: model.HealthUnhealthy, ResponseTimeMs: latency.Milliseconds(), ErrorMessage: err.Error()}
	}
	if latency > warnThreshold {
		return model.HealthStatus{Status: model.HealthDegraded, ResponseTimeMs: latency.Milliseconds()}
	}
	return model.HealthStatus{Status: model.HealthHealthy, ResponseTimeMs: latency.Milliseconds()}
}
