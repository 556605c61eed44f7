// Package model — model.go
//
// Value objects shared across AIRES components: parsed compiler errors,
// the per-stage analysis outputs, the rendered booklet, the job state
// machine, health snapshots and load-balancer endpoint descriptors.
//
// Everything here is a plain value type. Mutation, where it exists
// (Job, EndpointDescriptor), is confined to the owning component and
// documented on the type.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Severity is the diagnostic level of a parsed compiler error.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "Error"
	case SeverityWarning:
		return "Warning"
	case SeverityInfo:
		return "Info"
	default:
		return "Unknown"
	}
}

// Location is an optional source position attached to a CompilerError.
type Location struct {
	Path   string
	Line   int
	Column int
}

// CompilerError is a single diagnostic emitted by a build tool. Produced
// by an external parser (internal/parsers); never mutated afterward.
type CompilerError struct {
	Code     string
	Message  string
	Location *Location
	Severity Severity
}

// ErrorBatch is the set of CompilerErrors parsed from one input file.
// Ordering of Errors matches the order they appeared in the source file;
// duplicates are preserved.
type ErrorBatch struct {
	BatchID    uuid.UUID
	SourceFile string
	CreatedAt  time.Time
	Errors     []CompilerError
}

// NewErrorBatch constructs an ErrorBatch with a fresh random ID.
func NewErrorBatch(sourceFile string, errs []CompilerError, now time.Time) ErrorBatch {
	return ErrorBatch{
		BatchID:    uuid.New(),
		SourceFile: sourceFile,
		CreatedAt:  now,
		Errors:     errs,
	}
}

// ModelFinding is one piece of output produced by a single LLM call within
// a stage.
type ModelFinding struct {
	ModelName    string
	Title        string
	Content      string
	Confidence   *float64
	EvidenceRefs []string
}

// DocAnalysis is Stage 1's typed output.
type DocAnalysis struct {
	Findings   []ModelFinding
	Summary    string
	References map[string]string
}

// ContextAnalysis is Stage 2's typed output.
type ContextAnalysis struct {
	Findings   []ModelFinding
	Summary    string
	PainPoints []string
	Metadata   map[string]string
}

// PatternValidation is Stage 3's typed output.
type PatternValidation struct {
	Findings           []ModelFinding
	OverallCompliance  bool
	CriticalViolations []string
}

// BookletSection is one ordered, titled section of rendered content within
// a Booklet.
type BookletSection struct {
	Order   int
	Title   string
	Content string
}

// Booklet is the final research artifact synthesized from the three
// upstream stages. Metadata always carries per-stage timings (ms) under
// the keys "stage1", "stage2", "stage3" and "synthesis" (stage 4's
// timing key differs from its "stage4" progress label), plus
// "concurrent" (bool-as-string) and,
// in Concurrent mode, "ParallelExecutionTime" and "TimeSaved".
type Booklet struct {
	BookletID    uuid.UUID
	BatchID      uuid.UUID
	GeneratedAt  time.Time
	Title        string
	Sections     []BookletSection
	Batch        ErrorBatch
	AllFindings  []ModelFinding
	Metadata     map[string]string
}

// JobState is the monotonic state of a Job as it moves through the
// Watchdog/Queue. Transitions: Queued -> Running -> {Succeeded, Failed,
// Cancelled, Queued (on retry)}.
type JobState int

const (
	JobQueued JobState = iota
	JobRunning
	JobSucceeded
	JobFailed
	JobCancelled
)

func (s JobState) String() string {
	switch s {
	case JobQueued:
		return "Queued"
	case JobRunning:
		return "Running"
	case JobSucceeded:
		return "Succeeded"
	case JobFailed:
		return "Failed"
	case JobCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether no further transition is possible for state
// s. Queued is not terminal even on a retry re-entry.
func (s JobState) IsTerminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCancelled
}

// Job is the only mutable entity in the model. It is owned by the Queue
// until dispatched, then by exactly one worker until it reaches a
// terminal state.
type Job struct {
	JobID       uuid.UUID
	InputPath   string
	EnqueuedAt  time.Time
	Attempts    int
	State       JobState
	FailReason  string
}

// NewJob constructs a freshly Queued Job for inputPath.
func NewJob(inputPath string, now time.Time) *Job {
	return &Job{
		JobID:      uuid.New(),
		InputPath:  inputPath,
		EnqueuedAt: now,
		State:      JobQueued,
	}
}

// HealthState is the ternary status used by probes and aggregates.
type HealthState int

const (
	HealthUnknown HealthState = iota
	HealthHealthy
	HealthDegraded
	HealthUnhealthy
)

func (s HealthState) String() string {
	switch s {
	case HealthHealthy:
		return "Healthy"
	case HealthDegraded:
		return "Degraded"
	case HealthUnhealthy:
		return "Unhealthy"
	default:
		return "Unknown"
	}
}

// HealthStatus is a point-in-time snapshot produced by a single probe.
// It is replaced wholesale on each probe run, never mutated in place.
type HealthStatus struct {
	Component      string
	Status         HealthState
	ResponseTimeMs int64
	ErrorMessage   string
	Diagnostics    map[string]string
	FailureReasons []string
}

// EndpointDescriptor describes one inference-server endpoint managed by
// the Load Balancer. All fields are updated under the owning endpoint's
// lock; Liveness is set Unhealthy by a failed call and set Healthy again
// by the re-probe loop.
type EndpointDescriptor struct {
	ID            string
	BaseURL       string
	Weight        int
	MaxConcurrent int
	Labels        map[string]string
	Liveness      HealthState
	Inflight      int64
	LastLatencyMs int64
}
