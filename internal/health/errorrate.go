// Package health — errorrate.go
//
// The ErrorRate probe: compares Metrics' rolling error rate against
// the configured threshold and reports Degraded when it is crossed.
// Mirrors the Registry's own aggregate transition alerting — a
// Warning fires only the first time the rate crosses above the
// threshold, an Info fires on recovery, never on every poll.
package health

import (
	"context"
	"fmt"
	"sync"

	"github.com/aires-hq/aires/internal/alerting"
	"github.com/aires-hq/aires/internal/metrics"
	"github.com/aires-hq/aires/internal/model"
)

// ErrorRateProbe is the registered "error_rate" probe.
type ErrorRateProbe struct {
	metrics   *metrics.Metrics
	threshold float64
	sink      *alerting.Sink

	mu      sync.Mutex
	wasOver bool
}

// NewErrorRateProbe constructs the probe. thresholdPercent <= 0 means
// the threshold is unconfigured (spec §9's `ErrorRateThresholdPercent`
// default of 0): the probe always reports Healthy and never alerts.
func NewErrorRateProbe(m *metrics.Metrics, thresholdPercent float64, sink *alerting.Sink) *ErrorRateProbe {
	return &ErrorRateProbe{metrics: m, threshold: thresholdPercent, sink: sink}
}

// Check implements Probe.
func (p *ErrorRateProbe) Check(ctx context.Context) model.HealthStatus {
	status := model.HealthStatus{Component: "error_rate"}

	if p.threshold <= 0 {
		status.Status = model.HealthHealthy
		return status
	}

	rate := p.metrics.ErrorRatePercent()
	over := rate > p.threshold
	if over {
		status.Status = model.HealthDegraded
		status.FailureReasons = []string{fmt.Sprintf("error rate %.1f%% exceeds threshold %.1f%%", rate, p.threshold)}
	} else {
		status.Status = model.HealthHealthy
	}

	p.mu.Lock()
	wasOver := p.wasOver
	p.wasOver = over
	p.mu.Unlock()

	if p.sink == nil || wasOver == over {
		return status
	}
	if over {
		p.sink.Raise(alerting.Warning, "error_rate", fmt.Sprintf("error rate %.1f%% crossed threshold %.1f%%", rate, p.threshold), nil)
	} else {
		p.sink.Raise(alerting.Info, "error_rate", "error rate recovered below threshold", nil)
	}
	return status
}
