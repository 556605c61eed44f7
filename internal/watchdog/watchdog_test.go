package watchdog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/aires-hq/aires/internal/alerting"
	"github.com/aires-hq/aires/internal/llm"
	"github.com/aires-hq/aires/internal/metrics"
	"github.com/aires-hq/aires/internal/model"
	"github.com/aires-hq/aires/internal/orchestrator"
	"github.com/aires-hq/aires/internal/parsers"
	"github.com/aires-hq/aires/internal/persistence"
	"github.com/aires-hq/aires/internal/stages"
)

type fixedGen struct{}

func (fixedGen) Generate(ctx context.Context, modelName, prompt string, params llm.GenerateParams) (string, llm.Usage, error) {
	return "Title\n\nContent.", llm.Usage{}, nil
}

// flakyGen fails the first failCount calls with a transient gateway
// error (CodeNetworkError), then succeeds. Used to exercise the
// job-level requeue path, which only engages for Cause chains rooted
// in a transient Gateway/Balancer code.
type flakyGen struct {
	mu          sync.Mutex
	failCount   int
	calls       int
	alwaysFail  bool
}

func (g *flakyGen) Generate(ctx context.Context, modelName, prompt string, params llm.GenerateParams) (string, llm.Usage, error) {
	g.mu.Lock()
	g.calls++
	shouldFail := g.alwaysFail || g.calls <= g.failCount
	g.mu.Unlock()

	if shouldFail {
		return "", llm.Usage{}, model.NewError(model.CodeNetworkError, "dial failed", errors.New("connection refused"))
	}
	return "Title\n\nContent.", llm.Usage{}, nil
}

func newTestWatchdog(t *testing.T, inputDir string) *Watchdog {
	t.Helper()
	return newTestWatchdogWithGen(t, inputDir, fixedGen{}, metrics.NewMetrics())
}

func newTestWatchdogWithGen(t *testing.T, inputDir string, gen stages.Generator, m *metrics.Metrics) *Watchdog {
	t.Helper()
	log := zap.NewNop()
	orch := orchestrator.New(
		parsers.NewGenericParser(),
		&stages.DocAnalyzer{Gen: gen, Model: "mistral"},
		&stages.ContextAnalyzer{Gen: gen, Model: "deepseek"},
		&stages.PatternValidator{Gen: gen, Model: "codegemma"},
		&stages.Synthesizer{Gen: gen, Model: "gemma2"},
		false, 5*time.Second, log, m,
	)
	outputDir := t.TempDir()
	store := persistence.NewStore(outputDir, log, m)
	sink := alerting.NewSink(alerting.Config{Enabled: true}, log, m)

	cfg := Config{
		InputDirectory:    inputDir,
		ProcessedDirectory: filepath.Join(inputDir, "processed"),
		FailedDirectory:    filepath.Join(inputDir, "failed"),
		PollingInterval:    50 * time.Millisecond,
		FileAgeThreshold:   0,
		MaxFileSizeMB:      10,
		AllowedExtensions:  []string{".log"},
		MaxQueueSize:       16,
		ProcessingThreads:  1,
		MaxRetries:         2,
		RetryDelay:         10 * time.Millisecond,
	}
	return New(cfg, parsers.NewGenericParser(), orch, store, sink, nil, log, m)
}

func TestPollEnqueuesEligibleFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.log"), []byte("error CS1503: bad (at x.cs:1:1)\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := newTestWatchdog(t, dir)
	jobs := make(chan string, 16)
	w.poll(jobs)

	select {
	case got := <-jobs:
		if filepath.Base(got) != "a.log" {
			t.Errorf("got %q, want a.log", got)
		}
	default:
		t.Fatal("expected file to be enqueued")
	}
}

func TestPollSkipsDisallowedExtension(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("error CS1503: bad\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := newTestWatchdog(t, dir)
	jobs := make(chan string, 16)
	w.poll(jobs)

	select {
	case got := <-jobs:
		t.Fatalf("did not expect enqueue, got %q", got)
	default:
	}
}

func TestProcessOnceMovesFileToProcessedOnSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.log")
	if err := os.WriteFile(path, []byte("error CS1503: bad (at x.cs:1:1)\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := newTestWatchdog(t, dir)
	w.processOnce(context.Background(), path, 0)

	if _, err := os.Stat(filepath.Join(dir, "processed", "a.log")); err != nil {
		t.Errorf("expected file moved to processed/: %v", err)
	}
}

func TestProcessOnceRequeuesTransientFailureThenSucceeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.log")
	if err := os.WriteFile(path, []byte("error CS1503: bad (at x.cs:1:1)\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := metrics.NewMetrics()
	gen := &flakyGen{failCount: 1} // fails stage 1's first call, then succeeds from the next call on.
	w := newTestWatchdogWithGen(t, dir, gen, m)

	w.processOnce(context.Background(), path, 0)

	if _, err := os.Stat(filepath.Join(dir, "processed", "a.log")); err != nil {
		t.Errorf("expected file eventually moved to processed/ after requeue, got: %v", err)
	}
	if got := testutil.ToFloat64(m.JobsRequeuedTotal); got < 1 {
		t.Errorf("expected JobsRequeuedTotal >= 1, got %v", got)
	}
}

func TestProcessOnceMovesToFailedAfterRetriesExhausted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.log")
	if err := os.WriteFile(path, []byte("error CS1503: bad (at x.cs:1:1)\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := metrics.NewMetrics()
	gen := &flakyGen{alwaysFail: true}
	w := newTestWatchdogWithGen(t, dir, gen, m)

	w.processOnce(context.Background(), path, 0)

	if _, err := os.Stat(filepath.Join(dir, "failed", "a.log")); err != nil {
		t.Errorf("expected file moved to failed/ once MaxRetries is exhausted: %v", err)
	}
	if got := testutil.ToFloat64(m.JobsRequeuedTotal); got != float64(w.cfg.MaxRetries) {
		t.Errorf("expected JobsRequeuedTotal == MaxRetries (%d), got %v", w.cfg.MaxRetries, got)
	}
}
