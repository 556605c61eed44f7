// Package metrics — metrics.go
//
// Prometheus metrics for AIRES.
//
// Endpoint: GET /metrics on the configured bind address.
// Format: Prometheus text exposition format (OpenMetrics compatible).
//
// Metric naming convention: aires_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// window is one bucket of a 5-minute rolling error-rate computation: a
// count of orchestrator runs and failures recorded in a fixed-width time
// slice. Old slices are evicted as they age out of the window.
type window struct {
	bucketStart time.Time
	runs        int64
	failures    int64
}

// Metrics holds all Prometheus metric descriptors for AIRES, plus the
// small amount of derived state (rolling error rate) that Health
// Registry's ErrorRate probe reads directly rather than scraping
// Prometheus.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Watchdog / Queue ─────────────────────────────────────────────────

	QueueDepth          prometheus.Gauge
	JobsEnqueuedTotal    prometheus.Counter
	JobsRejectedTotal    *prometheus.CounterVec // reason: queue_full, duplicate
	JobsRequeuedTotal    prometheus.Counter
	PollCyclesTotal      prometheus.Counter

	// ─── Orchestrator ─────────────────────────────────────────────────────

	OrchestratorRunsTotal     prometheus.Counter
	OrchestratorFailuresTotal *prometheus.CounterVec // code
	StageLatencySeconds       *prometheus.HistogramVec // stage
	ParallelExecutionSeconds  prometheus.Histogram
	TimeSavedSeconds          prometheus.Histogram

	// ─── LLM Gateway ──────────────────────────────────────────────────────

	GatewayRequestsTotal *prometheus.CounterVec // model, outcome
	GatewayRetriesTotal  prometheus.Counter
	GatewayLatencySeconds *prometheus.HistogramVec // model

	// ─── Load Balancer ────────────────────────────────────────────────────

	EndpointInflight     *prometheus.GaugeVec // endpoint_id
	EndpointLatencyMs    *prometheus.GaugeVec // endpoint_id (EWMA snapshot)
	EndpointLivenessFlips *prometheus.CounterVec // endpoint_id

	// ─── Persistence ──────────────────────────────────────────────────────

	BookletsSavedTotal prometheus.Counter
	BookletSaveFailuresTotal prometheus.Counter

	// ─── Alerting ─────────────────────────────────────────────────────────

	AlertsRaisedTotal  *prometheus.CounterVec // severity
	AlertsDroppedTotal prometheus.Counter

	startTime time.Time

	mu      sync.Mutex
	windows []window
}

// NewMetrics creates and registers all AIRES Prometheus metrics on a
// dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aires", Subsystem: "queue", Name: "depth",
			Help: "Current depth of the watchdog job queue.",
		}),
		JobsEnqueuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aires", Subsystem: "queue", Name: "enqueued_total",
			Help: "Total jobs accepted onto the queue.",
		}),
		JobsRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aires", Subsystem: "queue", Name: "rejected_total",
			Help: "Total jobs rejected at enqueue time, by reason.",
		}, []string{"reason"}),
		JobsRequeuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aires", Subsystem: "queue", Name: "requeued_total",
			Help: "Total jobs requeued after a transient failure.",
		}),
		PollCyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aires", Subsystem: "watchdog", Name: "poll_cycles_total",
			Help: "Total inbox poll cycles completed.",
		}),

		OrchestratorRunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aires", Subsystem: "orchestrator", Name: "runs_total",
			Help: "Total orchestrator runs started.",
		}),
		OrchestratorFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aires", Subsystem: "orchestrator", Name: "failures_total",
			Help: "Total orchestrator run failures, by error code.",
		}, []string{"code"}),
		StageLatencySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aires", Subsystem: "orchestrator", Name: "stage_latency_seconds",
			Help:    "Per-stage wall-clock latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		ParallelExecutionSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aires", Subsystem: "orchestrator", Name: "parallel_execution_seconds",
			Help:    "Concurrent-mode wall clock for stages 1-3.",
			Buckets: prometheus.DefBuckets,
		}),
		TimeSavedSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aires", Subsystem: "orchestrator", Name: "time_saved_seconds",
			Help:    "Concurrent-mode estimated time saved versus sequential.",
			Buckets: prometheus.DefBuckets,
		}),

		GatewayRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aires", Subsystem: "gateway", Name: "requests_total",
			Help: "Total Gateway Generate calls, by model and outcome.",
		}, []string{"model", "outcome"}),
		GatewayRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aires", Subsystem: "gateway", Name: "retries_total",
			Help: "Total Gateway retry attempts issued.",
		}),
		GatewayLatencySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aires", Subsystem: "gateway", Name: "latency_seconds",
			Help:    "Gateway Generate call latency, by model.",
			Buckets: prometheus.DefBuckets,
		}, []string{"model"}),

		EndpointInflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "aires", Subsystem: "endpoint", Name: "inflight",
			Help: "Current in-flight requests per endpoint.",
		}, []string{"endpoint_id"}),
		EndpointLatencyMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "aires", Subsystem: "endpoint", Name: "last_latency_ms",
			Help: "EWMA-smoothed last latency per endpoint, in milliseconds.",
		}, []string{"endpoint_id"}),
		EndpointLivenessFlips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aires", Subsystem: "endpoint", Name: "liveness_flips_total",
			Help: "Total Healthy->Unhealthy liveness flips per endpoint.",
		}, []string{"endpoint_id"}),

		BookletsSavedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aires", Subsystem: "persistence", Name: "booklets_saved_total",
			Help: "Total booklets successfully written to disk.",
		}),
		BookletSaveFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aires", Subsystem: "persistence", Name: "booklet_save_failures_total",
			Help: "Total booklet save failures.",
		}),

		AlertsRaisedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aires", Subsystem: "alerting", Name: "raised_total",
			Help: "Total alerts raised, by severity.",
		}, []string{"severity"}),
		AlertsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aires", Subsystem: "alerting", Name: "dropped_total",
			Help: "Total alerts dropped due to sink backpressure.",
		}),
	}

	reg.MustRegister(
		m.QueueDepth, m.JobsEnqueuedTotal, m.JobsRejectedTotal, m.JobsRequeuedTotal, m.PollCyclesTotal,
		m.OrchestratorRunsTotal, m.OrchestratorFailuresTotal, m.StageLatencySeconds,
		m.ParallelExecutionSeconds, m.TimeSavedSeconds,
		m.GatewayRequestsTotal, m.GatewayRetriesTotal, m.GatewayLatencySeconds,
		m.EndpointInflight, m.EndpointLatencyMs, m.EndpointLivenessFlips,
		m.BookletsSavedTotal, m.BookletSaveFailuresTotal,
		m.AlertsRaisedTotal, m.AlertsDroppedTotal,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// RecordOrchestratorRun feeds the rolling error-rate window used by the
// Health Registry's ErrorRate probe (spec §9 open question: wired here
// to Orchestrator.Runs.Total / Orchestrator.Failures.*).
func (m *Metrics) RecordOrchestratorRun(failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	bucketStart := now.Truncate(10 * time.Second)
	if len(m.windows) == 0 || !m.windows[len(m.windows)-1].bucketStart.Equal(bucketStart) {
		m.windows = append(m.windows, window{bucketStart: bucketStart})
	}
	cur := &m.windows[len(m.windows)-1]
	cur.runs++
	if failed {
		cur.failures++
	}

	cutoff := now.Add(-5 * time.Minute)
	i := 0
	for i < len(m.windows) && m.windows[i].bucketStart.Before(cutoff) {
		i++
	}
	m.windows = m.windows[i:]
}

// ErrorRatePercent returns the rolling 5-minute error rate as a
// percentage (0-100). Returns 0 if no runs have been recorded.
func (m *Metrics) ErrorRatePercent() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var runs, failures int64
	for _, w := range m.windows {
		runs += w.runs
		failures += w.failures
	}
	if runs == 0 {
		return 0
	}
	return 100 * float64(failures) / float64(runs)
}

// ServeMetrics starts the Prometheus HTTP metrics server on addr. Blocks
// until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}
