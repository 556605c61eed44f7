package metrics

import "testing"

func TestErrorRatePercentNoRuns(t *testing.T) {
	m := NewMetrics()
	if got := m.ErrorRatePercent(); got != 0 {
		t.Errorf("ErrorRatePercent() = %v, want 0 with no runs recorded", got)
	}
}

func TestErrorRatePercentComputesRatio(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < 3; i++ {
		m.RecordOrchestratorRun(false)
	}
	m.RecordOrchestratorRun(true)

	got := m.ErrorRatePercent()
	if got != 25 {
		t.Errorf("ErrorRatePercent() = %v, want 25", got)
	}
}
