// Package balancer — balancer.go
//
// Load Balancer for AIRES (spec §4.5): routes Gateway.Generate calls
// across a live set of model.EndpointDescriptors by a weighted
// least-inflight policy, with EWMA latency tracking and background
// re-probing of failed endpoints.
//
// Policy (default, and only policy implemented — "weighted
// least-inflight"):
//  1. Filter to endpoints with Liveness=Healthy and Inflight < MaxConcurrent.
//  2. Minimize inflight/weight; tie-break by lowest LastLatencyMs; tie-break
//     further at random.
//  3. Atomically increment Inflight for the call's duration; on return,
//     decrement and update LastLatencyMs via EWMA(alpha=0.3). On failure,
//     flip Liveness=Unhealthy and schedule a backoff-capped re-probe.
//  4. If no candidate is available, block up to an admission deadline
//     (default 30s), then fail NoEndpointAvailable.
//
// If disabled in config, the balancer degenerates to a single endpoint
// with identical API and zero policy — see NewSingleEndpoint.
package balancer

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/aires-hq/aires/internal/llm"
	"github.com/aires-hq/aires/internal/metrics"
	"github.com/aires-hq/aires/internal/model"
)

const ewmaAlpha = 0.3

// endpoint bundles a model.EndpointDescriptor with its Gateway and a
// defensive request-rate limiter.
type endpoint struct {
	mu   sync.Mutex
	desc model.EndpointDescriptor

	gateway *llm.Gateway
	limiter *rate.Limiter

	reprobeBackoff time.Duration
}

// Balancer routes Generate calls across its endpoints.
type Balancer struct {
	mu        sync.Mutex
	endpoints []*endpoint

	admissionDeadline time.Duration
	reprobeTimeout    time.Duration

	log     *zap.Logger
	metrics *metrics.Metrics

	rng *rand.Rand
}

// EndpointConfig is the construction-time description of one inference
// endpoint.
type EndpointConfig struct {
	ID            string
	BaseURL       string
	Weight        int
	MaxConcurrent int
	Labels        map[string]string
	Timeout       time.Duration
	MaxRetries    int
	// RateLimitPerSecond caps requests/sec to this endpoint as a
	// defensive secondary throttle alongside the inflight cap; 0 means
	// unlimited.
	RateLimitPerSecond float64
}

// New constructs a Balancer over the given endpoints.
func New(configs []EndpointConfig, admissionDeadline time.Duration, log *zap.Logger, m *metrics.Metrics) *Balancer {
	if admissionDeadline <= 0 {
		admissionDeadline = 30 * time.Second
	}
	b := &Balancer{
		admissionDeadline: admissionDeadline,
		reprobeTimeout:    5 * time.Second,
		log:               log,
		metrics:           m,
		rng:               rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, c := range configs {
		weight := c.Weight
		if weight <= 0 {
			weight = 1
		}
		limit := rate.Inf
		if c.RateLimitPerSecond > 0 {
			limit = rate.Limit(c.RateLimitPerSecond)
		}
		b.endpoints = append(b.endpoints, &endpoint{
			desc: model.EndpointDescriptor{
				ID: c.ID, BaseURL: c.BaseURL, Weight: weight,
				MaxConcurrent: c.MaxConcurrent, Labels: c.Labels, Liveness: model.HealthHealthy,
			},
			gateway: llm.NewGateway(c.BaseURL, c.Timeout, c.MaxRetries, log, m),
			limiter: rate.NewLimiter(limit, max(1, c.MaxConcurrent)),
		})
	}
	return b
}

// NewSingleEndpoint builds a degenerate Balancer with exactly one
// endpoint and zero routing policy, for EnableGpuLoadBalancing=false.
func NewSingleEndpoint(cfg EndpointConfig, admissionDeadline time.Duration, log *zap.Logger, m *metrics.Metrics) *Balancer {
	return New([]EndpointConfig{cfg}, admissionDeadline, log, m)
}

// Generate selects an endpoint, routes the call, and updates its
// counters. Blocks up to the admission deadline if no endpoint is
// currently eligible.
func (b *Balancer) Generate(ctx context.Context, modelName, prompt string, params llm.GenerateParams) (string, llm.Usage, error) {
	deadline := time.Now().Add(b.admissionDeadline)

	for {
		ep := b.pickEndpoint()
		if ep != nil {
			return b.callEndpoint(ctx, ep, modelName, prompt, params)
		}
		if time.Now().After(deadline) {
			return "", llm.Usage{}, model.NewError(model.CodeNoEndpointAvailable, "no healthy endpoint within admission deadline", nil)
		}
		select {
		case <-ctx.Done():
			return "", llm.Usage{}, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// pickEndpoint implements the weighted least-inflight policy with
// latency then random tie-break. Returns nil if no endpoint is
// currently eligible.
func (b *Balancer) pickEndpoint() *endpoint {
	b.mu.Lock()
	candidates := make([]*endpoint, len(b.endpoints))
	copy(candidates, b.endpoints)
	b.mu.Unlock()

	var best *endpoint
	var bestScore float64
	var bestLatency int64
	var ties []*endpoint

	for _, ep := range candidates {
		ep.mu.Lock()
		liveness := ep.desc.Liveness
		inflight := ep.desc.Inflight
		maxConcurrent := ep.desc.MaxConcurrent
		weight := ep.desc.Weight
		latency := ep.desc.LastLatencyMs
		ep.mu.Unlock()

		if liveness != model.HealthHealthy {
			continue
		}
		if maxConcurrent > 0 && inflight >= int64(maxConcurrent) {
			continue
		}

		score := float64(inflight) / float64(weight)
		switch {
		case best == nil || score < bestScore:
			best, bestScore, bestLatency = ep, score, latency
			ties = []*endpoint{ep}
		case score == bestScore:
			switch {
			case latency < bestLatency:
				best, bestLatency = ep, latency
				ties = []*endpoint{ep}
			case latency == bestLatency:
				ties = append(ties, ep)
			}
		}
	}

	if len(ties) > 1 {
		best = ties[b.rng.Intn(len(ties))]
	}
	return best
}

func (b *Balancer) callEndpoint(ctx context.Context, ep *endpoint, modelName, prompt string, params llm.GenerateParams) (string, llm.Usage, error) {
	if err := ep.limiter.Wait(ctx); err != nil {
		return "", llm.Usage{}, err
	}

	ep.mu.Lock()
	ep.desc.Inflight++
	if b.metrics != nil {
		b.metrics.EndpointInflight.WithLabelValues(ep.desc.ID).Set(float64(ep.desc.Inflight))
	}
	ep.mu.Unlock()

	start := time.Now()
	text, usage, err := ep.gateway.Generate(ctx, modelName, prompt, params)
	latencyMs := time.Since(start).Milliseconds()

	ep.mu.Lock()
	ep.desc.Inflight--
	ep.desc.LastLatencyMs = int64(ewmaAlpha*float64(latencyMs) + (1-ewmaAlpha)*float64(ep.desc.LastLatencyMs))
	if b.metrics != nil {
		b.metrics.EndpointInflight.WithLabelValues(ep.desc.ID).Set(float64(ep.desc.Inflight))
		b.metrics.EndpointLatencyMs.WithLabelValues(ep.desc.ID).Set(float64(ep.desc.LastLatencyMs))
	}
	wasHealthy := ep.desc.Liveness == model.HealthHealthy
	if err != nil {
		ep.desc.Liveness = model.HealthUnhealthy
	}
	ep.mu.Unlock()

	if err != nil && wasHealthy {
		if b.metrics != nil {
			b.metrics.EndpointLivenessFlips.WithLabelValues(ep.desc.ID).Inc()
		}
		go b.reprobeLoop(ep)
	}

	return text, usage, err
}

// reprobeLoop retries HealthCheckService with exponential backoff
// capped at 60s until the endpoint recovers, then marks it Healthy.
func (b *Balancer) reprobeLoop(ep *endpoint) {
	ep.mu.Lock()
	if ep.reprobeBackoff <= 0 {
		ep.reprobeBackoff = time.Second
	}
	ep.mu.Unlock()

	for {
		ep.mu.Lock()
		backoff := ep.reprobeBackoff
		ep.mu.Unlock()

		time.Sleep(backoff)

		ctx, cancel := context.WithTimeout(context.Background(), b.reprobeTimeout)
		status := ep.gateway.HealthCheckService(ctx, b.reprobeTimeout)
		cancel()

		ep.mu.Lock()
		if status.Status == model.HealthHealthy {
			ep.desc.Liveness = model.HealthHealthy
			ep.reprobeBackoff = 0
			ep.mu.Unlock()
			b.log.Info("balancer: endpoint recovered", zap.String("endpoint_id", ep.desc.ID))
			return
		}
		next := ep.reprobeBackoff * 2
		if next > 60*time.Second {
			next = 60 * time.Second
		}
		ep.reprobeBackoff = next
		ep.mu.Unlock()
	}
}

// Snapshot returns a copy of every endpoint's current descriptor, for
// health probes and status reporting.
func (b *Balancer) Snapshot() []model.EndpointDescriptor {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.EndpointDescriptor, 0, len(b.endpoints))
	for _, ep := range b.endpoints {
		ep.mu.Lock()
		out = append(out, ep.desc)
		ep.mu.Unlock()
	}
	return out
}
