// Package watchdog is the Watchdog/Queue component (C9): it polls the
// configured input directory, debounces and de-duplicates eligible
// files, enforces a bounded queue, and dispatches to a fixed-size
// worker pool that invokes the Orchestrator and Persistence.
package watchdog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/aires-hq/aires/internal/alerting"
	"github.com/aires-hq/aires/internal/booklet"
	"github.com/aires-hq/aires/internal/metrics"
	"github.com/aires-hq/aires/internal/model"
	"github.com/aires-hq/aires/internal/orchestrator"
	"github.com/aires-hq/aires/internal/parsers"
	"github.com/aires-hq/aires/internal/persistence"
)

// Config holds the Watchdog's own tunables, mirroring the `[Watchdog]`
// and `[Processing]` INI sections.
type Config struct {
	InputDirectory          string
	ProcessedDirectory      string
	FailedDirectory         string
	PollingInterval         time.Duration
	FileAgeThreshold        time.Duration
	MaxFileSizeMB           int
	AllowedExtensions       []string
	MaxQueueSize            int
	ProcessingThreads       int
	MaxRetries              int
	RetryDelay              time.Duration
}

// Watchdog polls InputDirectory, enqueues eligible files, and runs a
// worker pool that drives them through the Parser and Orchestrator.
type Watchdog struct {
	cfg     Config
	parser  parsers.Parser
	orch    *orchestrator.Orchestrator
	store   *persistence.Store
	sink    *alerting.Sink
	ledger  *Ledger
	log     *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	inflight map[string]bool

	wake chan struct{}
}

// New constructs a Watchdog. ledger may be nil, in which case
// dedup-across-restart is disabled (every poll re-evaluates the
// directory from scratch).
func New(cfg Config, parser parsers.Parser, orch *orchestrator.Orchestrator, store *persistence.Store, sink *alerting.Sink, ledger *Ledger, log *zap.Logger, m *metrics.Metrics) *Watchdog {
	return &Watchdog{
		cfg: cfg, parser: parser, orch: orch, store: store, sink: sink, ledger: ledger,
		log: log, metrics: m,
		inflight: make(map[string]bool),
		wake:     make(chan struct{}, 1),
	}
}

// Run polls InputDirectory on a ticker (supplemented by an fsnotify
// watch on the directory for faster wake-up) and runs ProcessingThreads
// workers until ctx is cancelled. Run blocks until shutdown completes:
// polling stops, in-flight jobs are given up to 30s to finish, then the
// context is force-cancelled.
func (w *Watchdog) Run(ctx context.Context) error {
	jobs := make(chan string, w.cfg.MaxQueueSize)

	// Workers run on their own context: cancelling ctx stops polling but
	// lets in-flight jobs finish until the shutdown deadline passes.
	workCtx, forceCancel := context.WithCancel(context.Background())
	defer forceCancel()

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.ProcessingThreads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.worker(workCtx, jobs)
		}()
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		_ = watcher.Add(w.cfg.InputDirectory)
		defer watcher.Close()
	} else {
		w.log.Warn("fsnotify unavailable, falling back to pure polling", zap.Error(err))
	}

	ticker := time.NewTicker(w.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(jobs)
			done := make(chan struct{})
			go func() { wg.Wait(); close(done) }()
			select {
			case <-done:
			case <-time.After(30 * time.Second):
				w.log.Warn("watchdog shutdown deadline exceeded, force-cancelling in-flight jobs")
				forceCancel()
				<-done
			}
			return nil
		case <-ticker.C:
			w.metrics.PollCyclesTotal.Inc()
			w.poll(jobs)
		case <-w.wake:
			w.poll(jobs)
		case ev, ok := <-watcherEvents(watcher):
			if !ok {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				w.signalWake()
			}
		}
	}
}

func watcherEvents(watcher *fsnotify.Watcher) chan fsnotify.Event {
	if watcher == nil {
		return nil
	}
	return watcher.Events
}

func (w *Watchdog) signalWake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// poll scans InputDirectory for eligible files and enqueues them.
func (w *Watchdog) poll(jobs chan<- string) {
	entries, err := os.ReadDir(w.cfg.InputDirectory)
	if err != nil {
		w.log.Warn("watchdog poll failed to read input directory", zap.Error(err))
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.cfg.InputDirectory, entry.Name())
		if !w.eligible(path, entry) {
			continue
		}
		w.enqueue(path, jobs)
	}
}

func (w *Watchdog) eligible(path string, entry os.DirEntry) bool {
	if !hasAllowedExtension(path, w.cfg.AllowedExtensions) {
		return false
	}
	info, err := entry.Info()
	if err != nil {
		return false
	}
	if time.Since(info.ModTime()) < w.cfg.FileAgeThreshold {
		return false // still being written; debounce.
	}
	if info.Size() > int64(w.cfg.MaxFileSizeMB)*1024*1024 {
		return false
	}
	return true
}

func hasAllowedExtension(path string, allowed []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, a := range allowed {
		if strings.ToLower(a) == ext {
			return true
		}
	}
	return false
}

// enqueue admits path onto the queue, rejecting duplicates (already
// queued or in-flight) and respecting the bound (backpressure: a
// rejected file is simply re-considered on the next poll, never
// dropped silently).
func (w *Watchdog) enqueue(path string, jobs chan<- string) {
	w.mu.Lock()
	if w.inflight[path] {
		w.mu.Unlock()
		return
	}
	if w.ledger != nil {
		if seen, _ := w.ledger.Seen(path); seen {
			w.mu.Unlock()
			return
		}
	}
	w.mu.Unlock()

	select {
	case jobs <- path:
		w.mu.Lock()
		w.inflight[path] = true
		w.mu.Unlock()
		w.metrics.JobsEnqueuedTotal.Inc()
		w.metrics.QueueDepth.Set(float64(len(jobs)))
	default:
		w.metrics.JobsRejectedTotal.WithLabelValues("queue_full").Inc()
	}
}

func (w *Watchdog) worker(ctx context.Context, jobs <-chan string) {
	for path := range jobs {
		w.processOnce(ctx, path, 0)
	}
}

// processOnce runs one job attempt. On a transient failure it sleeps
// RetryDelay*2^attempt and retries in-process up to MaxRetries; AIRES
// has no separate requeue channel, so retries are a bounded loop
// within the worker rather than a re-enqueue (equivalent behavior,
// simpler plumbing).
func (w *Watchdog) processOnce(ctx context.Context, path string, attempt int) {
	defer func() {
		w.mu.Lock()
		delete(w.inflight, path)
		w.mu.Unlock()
	}()

	job := model.NewJob(path, time.Now())
	job.Attempts = attempt + 1
	job.State = model.JobRunning

	raw, err := os.ReadFile(path)
	if err != nil {
		w.fail(path, job, model.NewError(model.CodeOrchestratorUnexpected, "failed to read input file", err))
		return
	}

	bk, err := w.orch.Run(ctx, orchestrator.Request{
		RawCompilerOutput: raw,
		SourceFile:        filepath.Base(path),
	})
	if err != nil {
		if ctx.Err() != nil {
			job.State = model.JobCancelled
			return
		}
		if merr, ok := err.(*model.Error); ok && merr.Retryable() && attempt < w.cfg.MaxRetries {
			w.metrics.JobsRequeuedTotal.Inc()
			delay := w.cfg.RetryDelay * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(delay):
				w.processOnce(ctx, path, attempt+1)
			case <-ctx.Done():
			}
			return
		}
		w.fail(path, job, err)
		return
	}

	rendered := booklet.Render(bk)
	relPath := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".md"
	if _, err := w.store.Save(relPath, []byte(rendered)); err != nil {
		w.fail(path, job, err)
		return
	}

	job.State = model.JobSucceeded
	w.moveTo(path, w.cfg.ProcessedDirectory)
	if w.ledger != nil {
		_ = w.ledger.Record(path, LedgerRecord{State: "processed", JobID: job.JobID.String(), Attempts: job.Attempts})
	}
}

func (w *Watchdog) fail(path string, job *model.Job, err error) {
	job.State = model.JobFailed
	job.FailReason = err.Error()

	code := "UNKNOWN"
	if merr, ok := err.(*model.Error); ok {
		code = string(merr.Code)
	}
	w.log.Warn("job failed terminally", zap.String("jobId", job.JobID.String()), zap.String("path", path), zap.String("errorCode", code))
	w.sink.Raise(alerting.Warning, "watchdog", "job failed: "+err.Error(), map[string]string{
		"jobId":     job.JobID.String(),
		"errorCode": code,
		"path":      path,
	})

	w.moveTo(path, w.cfg.FailedDirectory)
	if w.ledger != nil {
		_ = w.ledger.Record(path, LedgerRecord{State: "failed", JobID: job.JobID.String(), Attempts: job.Attempts})
	}
}

func (w *Watchdog) moveTo(path, dir string) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		w.log.Warn("failed to create tray directory", zap.String("dir", dir), zap.Error(err))
		return
	}
	dest := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		w.log.Warn("failed to move processed file", zap.String("from", path), zap.String("to", dest), zap.Error(err))
	}
}
