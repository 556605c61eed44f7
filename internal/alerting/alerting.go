// Package alerting — alerting.go
//
// Severity-graded alert dispatch for AIRES.
//
// Architecture:
//
//	Raise(severity, source, message, context)
//	      ↓  (bounded queue, cap=1024)
//	[dispatch goroutine]
//	      ↓ fan-out, best-effort per channel
//	[console (colorized)] [rolling file] [OS event log (best-effort)]
//
// Backpressure: the queue is bounded. When full, the oldest queued
// alert of strictly lower severity than the arriving one is evicted to
// make room (Info evicted for an arriving Warning or Critical, Warning
// evicted for an arriving Critical). Critical alerts are never dropped:
// if the queue is full of Critical alerts, it grows past capacity
// rather than drop one. Only a still-full queue with nothing lower than
// the arriving severity to evict causes a drop, counted in metrics.
//
// Raise is always non-blocking from the caller's perspective.
package alerting

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/aires-hq/aires/internal/metrics"
)

// Severity is the alert level.
type Severity int

const (
	Info Severity = iota
	Warning
	Critical
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "INFO"
	case Warning:
		return "WARNING"
	case Critical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Alert is one dispatched notification.
type Alert struct {
	Severity  Severity
	Source    string
	Message   string
	Context   map[string]string
	Timestamp time.Time
}

// Config controls which channels are active; mirrors the `[Alerting]`
// config section's Enabled/ConsoleAlerts/FileAlerts/WindowsEventLog
// flags.
type Config struct {
	Enabled         bool
	ConsoleAlerts   bool
	FileAlerts      bool
	WindowsEventLog bool
	AlertDirectory  string
}

const queueCapacity = 1024

// Sink is the non-blocking alert dispatcher. Construct with NewSink and
// call Run in a goroutine before the first Raise.
type Sink struct {
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	queue []Alert

	signal chan struct{}
}

// NewSink constructs a Sink. Call Run(done) in a goroutine to start
// dispatching.
func NewSink(cfg Config, log *zap.Logger, m *metrics.Metrics) *Sink {
	return &Sink{
		cfg:     cfg,
		log:     log,
		metrics: m,
		signal:  make(chan struct{}, 1),
	}
}

// Raise enqueues an alert for dispatch. Never blocks: if the queue is
// at capacity, the oldest alert of strictly lower severity is evicted
// to make room. A Critical alert that finds nothing lower to evict
// grows the queue past capacity rather than being dropped; any other
// severity that finds nothing lower to evict is dropped and counted.
func (s *Sink) Raise(sev Severity, source, message string, context map[string]string) {
	if !s.cfg.Enabled {
		return
	}
	a := Alert{Severity: sev, Source: source, Message: message, Context: context, Timestamp: time.Now()}

	s.mu.Lock()
	if len(s.queue) >= queueCapacity {
		if idx := indexToEvict(s.queue, sev); idx >= 0 {
			s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
		} else if sev != Critical {
			s.mu.Unlock()
			if s.metrics != nil {
				s.metrics.AlertsDroppedTotal.Inc()
			}
			return
		}
	}
	s.queue = append(s.queue, a)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// QueueSnapshot returns a copy of the currently queued, undispatched
// alerts. Intended for tests observing backpressure/drop behavior.
func (s *Sink) QueueSnapshot() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Alert, len(s.queue))
	copy(out, s.queue)
	return out
}

// indexToEvict finds the oldest queued alert with severity strictly
// below incoming, preferring to evict Info before Warning.
func indexToEvict(q []Alert, incoming Severity) int {
	for _, want := range []Severity{Info, Warning} {
		if want >= incoming {
			break
		}
		for i, a := range q {
			if a.Severity == want {
				return i
			}
		}
	}
	return -1
}

// Run drains the queue until doneCh is closed, dispatching to every
// enabled channel. Failures writing to one channel never block or
// prevent delivery to the others.
func (s *Sink) Run(doneCh <-chan struct{}) {
	for {
		s.drain()
		select {
		case <-s.signal:
		case <-doneCh:
			s.drain()
			return
		}
	}
}

func (s *Sink) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		a := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.dispatch(a)
	}
}

func (s *Sink) dispatch(a Alert) {
	if s.metrics != nil {
		s.metrics.AlertsRaisedTotal.WithLabelValues(a.Severity.String()).Inc()
	}

	if s.cfg.ConsoleAlerts {
		s.writeConsole(a)
	}
	if s.cfg.FileAlerts {
		if err := s.writeFile(a); err != nil {
			s.log.Warn("alerting: file channel failed", zap.Error(err))
		}
	}
	if s.cfg.WindowsEventLog {
		// Best-effort only: AIRES runs on POSIX systems in this build;
		// there is no event log to write to, so this channel is a no-op
		// that never blocks the others.
		s.log.Debug("alerting: windows event log channel is a no-op on this platform")
	}
}

func (s *Sink) writeConsole(a Alert) {
	line := fmt.Sprintf("[%s] %s: %s", a.Severity, a.Source, a.Message)
	switch a.Severity {
	case Critical:
		color.New(color.FgRed, color.Bold).Fprintln(os.Stderr, line)
	case Warning:
		color.New(color.FgYellow).Fprintln(os.Stderr, line)
	default:
		color.New(color.FgCyan).Fprintln(os.Stderr, line)
	}
}

func (s *Sink) writeFile(a Alert) error {
	if s.cfg.AlertDirectory == "" {
		return nil
	}
	if err := os.MkdirAll(s.cfg.AlertDirectory, 0o755); err != nil {
		return err
	}
	name := filepath.Join(s.cfg.AlertDirectory, a.Timestamp.Format("2006-01-02")+".log")
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "%s\t[%s]\t%s\t%s\t%v\n",
		a.Timestamp.Format(time.RFC3339), a.Severity, a.Source, a.Message, a.Context)
	return err
}
