package health

import (
	"context"
	"testing"
	"time"

	"github.com/aires-hq/aires/internal/alerting"
	"github.com/aires-hq/aires/internal/metrics"
	"github.com/aires-hq/aires/internal/model"

	"go.uber.org/zap"
)

func healthyProbe(ctx context.Context) model.HealthStatus {
	return model.HealthStatus{Status: model.HealthHealthy}
}

func unhealthyProbe(ctx context.Context) model.HealthStatus {
	return model.HealthStatus{Status: model.HealthUnhealthy, FailureReasons: []string{"boom"}}
}

func degradedProbe(ctx context.Context) model.HealthStatus {
	return model.HealthStatus{Status: model.HealthDegraded}
}

func TestAggregateAllHealthy(t *testing.T) {
	r := NewRegistry(time.Second, nil)
	r.Register("a", healthyProbe)
	r.Register("b", healthyProbe)

	report := r.CheckAll(context.Background(), time.Second)
	if report.Aggregate != model.HealthHealthy {
		t.Errorf("aggregate = %v, want Healthy", report.Aggregate)
	}
}

func TestAggregateOneUnhealthyDominates(t *testing.T) {
	r := NewRegistry(time.Second, nil)
	r.Register("a", healthyProbe)
	r.Register("b", unhealthyProbe)
	r.Register("c", degradedProbe)

	report := r.CheckAll(context.Background(), time.Second)
	if report.Aggregate != model.HealthUnhealthy {
		t.Errorf("aggregate = %v, want Unhealthy", report.Aggregate)
	}
}

func TestAggregateDegradedWithoutUnhealthy(t *testing.T) {
	r := NewRegistry(time.Second, nil)
	r.Register("a", healthyProbe)
	r.Register("b", degradedProbe)

	report := r.CheckAll(context.Background(), time.Second)
	if report.Aggregate != model.HealthDegraded {
		t.Errorf("aggregate = %v, want Degraded", report.Aggregate)
	}
}

func TestEdgeTriggeredAlertFiresOnlyOnTransition(t *testing.T) {
	sink := alerting.NewSink(alerting.Config{Enabled: true}, zap.NewNop(), metrics.NewMetrics())
	r := NewRegistry(time.Second, sink)
	r.Register("a", healthyProbe)

	r.CheckAll(context.Background(), time.Second) // Unknown -> Healthy, no Critical
	r.Register("a", unhealthyProbe)
	r.CheckAll(context.Background(), time.Second) // Healthy -> Unhealthy: 1 alert

	before := len(sink.QueueSnapshot())
	// Re-running CheckAll with the same unhealthy state must not
	// enqueue another Critical alert (edge-triggered, not level-triggered).
	r.CheckAll(context.Background(), time.Second)
	after := len(sink.QueueSnapshot())
	if after != before {
		t.Errorf("expected no new alert on repeated Unhealthy state, queue grew from %d to %d", before, after)
	}
}
