package alerting

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/aires-hq/aires/internal/metrics"
)

func newTestSink(t *testing.T) (*Sink, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{Enabled: true, ConsoleAlerts: false, FileAlerts: true, AlertDirectory: filepath.Join(dir, "alerts")}
	s := NewSink(cfg, zap.NewNop(), metrics.NewMetrics())
	return s, dir
}

func TestRaiseDispatchesToFileChannel(t *testing.T) {
	s, dir := newTestSink(t)

	done := make(chan struct{})
	go s.Run(done)
	defer close(done)

	s.Raise(Critical, "test", "disk full", map[string]string{"jobId": "abc"})

	deadline := time.After(time.Second)
	for {
		entries, _ := filepath.Glob(filepath.Join(dir, "alerts", "*.log"))
		if len(entries) > 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("alert file was never written")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestDisabledSinkDropsSilently(t *testing.T) {
	s := NewSink(Config{Enabled: false}, zap.NewNop(), nil)
	s.Raise(Critical, "test", "should be ignored", nil)
	if len(s.queue) != 0 {
		t.Error("disabled sink should never enqueue")
	}
}

func TestQueueOverflowDropsOldestInfoFirst(t *testing.T) {
	s := NewSink(Config{Enabled: true}, zap.NewNop(), metrics.NewMetrics())
	for i := 0; i < queueCapacity; i++ {
		s.Raise(Info, "test", "filler", nil)
	}
	s.Raise(Critical, "test", "must survive", nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for _, a := range s.queue {
		if a.Severity == Critical {
			found = true
		}
	}
	if !found {
		t.Error("Critical alert should not be dropped when queue is full of Info alerts")
	}
	if len(s.queue) != queueCapacity {
		t.Errorf("queue length = %d, want %d", len(s.queue), queueCapacity)
	}
}

func TestQueueOverflowOfWarningsStillAdmitsCritical(t *testing.T) {
	s := NewSink(Config{Enabled: true}, zap.NewNop(), metrics.NewMetrics())
	for i := 0; i < queueCapacity; i++ {
		s.Raise(Warning, "test", "filler", nil)
	}
	s.Raise(Critical, "test", "must survive", nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for _, a := range s.queue {
		if a.Severity == Critical {
			found = true
		}
	}
	if !found {
		t.Error("Critical alert must not be dropped when queue is full of Warning alerts")
	}
	if len(s.queue) != queueCapacity {
		t.Errorf("queue length = %d, want %d (a Warning should have been evicted)", len(s.queue), queueCapacity)
	}
}

func TestQueueOverflowOfCriticalsGrowsRatherThanDrops(t *testing.T) {
	s := NewSink(Config{Enabled: true}, zap.NewNop(), metrics.NewMetrics())
	for i := 0; i < queueCapacity; i++ {
		s.Raise(Critical, "test", "filler", nil)
	}
	s.Raise(Critical, "test", "must also survive", nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) != queueCapacity+1 {
		t.Errorf("queue length = %d, want %d (no Critical should ever be dropped)", len(s.queue), queueCapacity+1)
	}
}

func TestQueueOverflowOfInfoDropsNewInfo(t *testing.T) {
	m := metrics.NewMetrics()
	s := NewSink(Config{Enabled: true}, zap.NewNop(), m)
	for i := 0; i < queueCapacity; i++ {
		s.Raise(Info, "test", "filler", nil)
	}
	s.Raise(Info, "test", "one too many", nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) != queueCapacity {
		t.Errorf("queue length = %d, want %d (an Info arrival with nothing lower to evict should be dropped)", len(s.queue), queueCapacity)
	}
}
