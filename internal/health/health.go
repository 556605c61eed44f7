// Package health — health.go
//
// Health Registry for AIRES.
//
// Holds a set of named probes, each a function returning a
// model.HealthStatus within a per-probe timeout. CheckAll runs every
// probe concurrently under a global timeout and aggregates:
//
//	all Healthy               -> Healthy
//	any Degraded, none Unhealthy -> Degraded
//	any Unhealthy             -> Unhealthy
//
// Edge-triggered alerting: a Critical alert fires only the first time
// the aggregate transitions Healthy -> Unhealthy; an Info alert fires
// on recovery. This mirrors the gossip quorum evaluator's partition
// mode transition signal — emit on change, not on every poll.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aires-hq/aires/internal/alerting"
	"github.com/aires-hq/aires/internal/model"
)

// Probe is a named health check function. It must respect ctx
// cancellation and return promptly.
type Probe func(ctx context.Context) model.HealthStatus

// Registry aggregates probes into a single status with diagnostics.
type Registry struct {
	mu     sync.RWMutex
	probes map[string]Probe

	probeTimeout time.Duration
	sink         *alerting.Sink

	lastAggregate model.HealthState
}

// NewRegistry constructs a Registry with the given per-probe timeout
// (spec default 5s) and an optional alerting sink (may be nil in
// tests).
func NewRegistry(probeTimeout time.Duration, sink *alerting.Sink) *Registry {
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &Registry{
		probes:        make(map[string]Probe),
		probeTimeout:  probeTimeout,
		sink:          sink,
		lastAggregate: model.HealthUnknown,
	}
}

// Register adds or replaces the probe registered under name.
func (r *Registry) Register(name string, p Probe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes[name] = p
}

// Report is the aggregated result of CheckAll.
type Report struct {
	Aggregate   model.HealthState
	Statuses    map[string]model.HealthStatus
	GeneratedAt time.Time
}

// Diagnostics renders a stable, sorted textual report: probe name,
// status, latency, and first failure reason.
func (r Report) Diagnostics() string {
	names := make([]string, 0, len(r.Statuses))
	for n := range r.Statuses {
		names = append(names, n)
	}
	sort.Strings(names)

	out := fmt.Sprintf("aggregate=%s\n", r.Aggregate)
	for _, n := range names {
		st := r.Statuses[n]
		reason := ""
		if len(st.FailureReasons) > 0 {
			reason = st.FailureReasons[0]
		}
		out += fmt.Sprintf("  %-20s %-10s %5dms  %s\n", n, st.Status, st.ResponseTimeMs, reason)
	}
	return out
}

// CheckAll runs every registered probe in parallel under globalTimeout,
// aggregates the result, and emits an edge-triggered alert if the
// aggregate health state transitioned.
func (r *Registry) CheckAll(ctx context.Context, globalTimeout time.Duration) Report {
	ctx, cancel := context.WithTimeout(ctx, globalTimeout)
	defer cancel()

	r.mu.RLock()
	probes := make(map[string]Probe, len(r.probes))
	for name, p := range r.probes {
		probes[name] = p
	}
	r.mu.RUnlock()

	statuses := make(map[string]model.HealthStatus, len(probes))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for name, p := range probes {
		wg.Add(1)
		go func(name string, p Probe) {
			defer wg.Done()
			probeCtx, probeCancel := context.WithTimeout(ctx, r.probeTimeout)
			defer probeCancel()

			start := time.Now()
			st := p(probeCtx)
			if st.ResponseTimeMs == 0 {
				st.ResponseTimeMs = time.Since(start).Milliseconds()
			}
			st.Component = name

			mu.Lock()
			statuses[name] = st
			mu.Unlock()
		}(name, p)
	}
	wg.Wait()

	aggregate := aggregate(statuses)
	report := Report{Aggregate: aggregate, Statuses: statuses, GeneratedAt: time.Now()}

	r.emitTransitionAlert(aggregate)
	return report
}

func aggregate(statuses map[string]model.HealthStatus) model.HealthState {
	if len(statuses) == 0 {
		return model.HealthUnknown
	}
	sawDegraded := false
	for _, st := range statuses {
		switch st.Status {
		case model.HealthUnhealthy:
			return model.HealthUnhealthy
		case model.HealthDegraded:
			sawDegraded = true
		}
	}
	if sawDegraded {
		return model.HealthDegraded
	}
	return model.HealthHealthy
}

func (r *Registry) emitTransitionAlert(newAggregate model.HealthState) {
	r.mu.Lock()
	prev := r.lastAggregate
	r.lastAggregate = newAggregate
	r.mu.Unlock()

	if prev == newAggregate || r.sink == nil {
		return
	}
	if prev == model.HealthHealthy && newAggregate == model.HealthUnhealthy {
		r.sink.Raise(alerting.Critical, "health", "aggregate health transitioned Healthy -> Unhealthy", nil)
	} else if prev == model.HealthUnhealthy && newAggregate == model.HealthHealthy {
		r.sink.Raise(alerting.Info, "health", "aggregate health recovered to Healthy", nil)
	}
}
