package health

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/aires-hq/aires/internal/alerting"
	"github.com/aires-hq/aires/internal/metrics"
	"github.com/aires-hq/aires/internal/model"
)

func TestErrorRateProbeHealthyBelowThreshold(t *testing.T) {
	m := metrics.NewMetrics()
	m.RecordOrchestratorRun(false)
	m.RecordOrchestratorRun(false)

	p := NewErrorRateProbe(m, 50, nil)
	status := p.Check(context.Background())
	if status.Status != model.HealthHealthy {
		t.Errorf("status = %v, want Healthy", status.Status)
	}
}

func TestErrorRateProbeDegradedAboveThreshold(t *testing.T) {
	m := metrics.NewMetrics()
	m.RecordOrchestratorRun(true)
	m.RecordOrchestratorRun(true)
	m.RecordOrchestratorRun(false)

	p := NewErrorRateProbe(m, 50, nil)
	status := p.Check(context.Background())
	if status.Status != model.HealthDegraded {
		t.Errorf("status = %v, want Degraded", status.Status)
	}
	if len(status.FailureReasons) == 0 {
		t.Error("expected a failure reason describing the exceeded threshold")
	}
}

func TestErrorRateProbeDisabledAtZeroThreshold(t *testing.T) {
	m := metrics.NewMetrics()
	m.RecordOrchestratorRun(true)
	m.RecordOrchestratorRun(true)

	p := NewErrorRateProbe(m, 0, nil)
	status := p.Check(context.Background())
	if status.Status != model.HealthHealthy {
		t.Errorf("status = %v, want Healthy (threshold disabled)", status.Status)
	}
}

func TestErrorRateProbeRaisesWarningOnlyOnCrossing(t *testing.T) {
	sink := alerting.NewSink(alerting.Config{Enabled: true}, zap.NewNop(), metrics.NewMetrics())
	m := metrics.NewMetrics()
	p := NewErrorRateProbe(m, 50, sink)

	m.RecordOrchestratorRun(false)
	p.Check(context.Background()) // under threshold, no alert

	m.RecordOrchestratorRun(true)
	m.RecordOrchestratorRun(true)
	p.Check(context.Background()) // crosses above: 1 Warning

	before := len(sink.QueueSnapshot())
	p.Check(context.Background()) // still above: no new alert
	after := len(sink.QueueSnapshot())
	if after != before {
		t.Errorf("expected no new alert while staying above threshold, queue grew from %d to %d", before, after)
	}

	found := false
	for _, a := range sink.QueueSnapshot() {
		if a.Severity == alerting.Warning && a.Source == "error_rate" {
			found = true
		}
	}
	if !found {
		t.Error("expected a Warning alert from error_rate on threshold crossing")
	}
}
