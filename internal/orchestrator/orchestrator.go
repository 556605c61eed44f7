// Package orchestrator — orchestrator.go
//
// The Orchestrator (C7) is the heart of AIRES: it parses raw compiler
// output, drives the four Stage Executors in either Sequential or
// Concurrent mode, times each step, reports progress, and maps stage
// failures onto the orchestrator's own typed error.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aires-hq/aires/internal/metrics"
	"github.com/aires-hq/aires/internal/model"
	"github.com/aires-hq/aires/internal/parsers"
	"github.com/aires-hq/aires/internal/stages"
)

// ProgressEvent is one (stageLabel, percent) anchor point emitted during
// a run, per spec §4.7. Sending is best-effort: a full or nil sink is
// never a reason to slow down or fail a run.
type ProgressEvent struct {
	Stage   string
	Percent int
}

// ProgressSink receives ProgressEvents. Implementations must not block;
// the orchestrator never waits on a send.
type ProgressSink interface {
	Report(ProgressEvent)
}

// ProgressSinkFunc adapts a function to a ProgressSink.
type ProgressSinkFunc func(ProgressEvent)

// Report implements ProgressSink.
func (f ProgressSinkFunc) Report(e ProgressEvent) { f(e) }

// Request bundles Run's inputs beyond the raw compiler output, per the
// external contract of spec §4.7.
type Request struct {
	RawCompilerOutput []byte
	CodeContext       string
	ProjectStructure  string
	ProjectCodebase   string
	ProjectStandards  string
	SourceFile        string
	ProgressSink      ProgressSink
}

// Orchestrator wires the Parser and the four Stage Executors together.
type Orchestrator struct {
	Parser      parsers.Parser
	Doc         *stages.DocAnalyzer
	Ctx         *stages.ContextAnalyzer
	Pattern     *stages.PatternValidator
	Synth       *stages.Synthesizer
	Concurrent  bool
	StageTimeout time.Duration

	log     *zap.Logger
	metrics *metrics.Metrics
}

// New constructs an Orchestrator. concurrent mirrors the Pipeline
// config's EnableParallelProcessing flag.
func New(parser parsers.Parser, doc *stages.DocAnalyzer, ctx *stages.ContextAnalyzer, pattern *stages.PatternValidator, synth *stages.Synthesizer, concurrent bool, stageTimeout time.Duration, log *zap.Logger, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		Parser: parser, Doc: doc, Ctx: ctx, Pattern: pattern, Synth: synth,
		Concurrent: concurrent, StageTimeout: stageTimeout,
		log: log, metrics: m,
	}
}

func (o *Orchestrator) report(sink ProgressSink, stage string, percent int) {
	if sink == nil {
		return
	}
	sink.Report(ProgressEvent{Stage: stage, Percent: percent})
}

// Run executes the four-stage pipeline against req. On success it
// returns a fully populated Booklet; on failure a *model.Error carrying
// the stage's (or the orchestrator's own) error code; on context
// cancellation it returns context.Canceled/context.DeadlineExceeded
// unwrapped, which callers must treat as Cancelled, not a failure.
func (o *Orchestrator) Run(ctx context.Context, req Request) (model.Booklet, error) {
	start := time.Now()
	sink := req.ProgressSink

	o.log.Debug("orchestrator run starting", zap.String("sourceFile", req.SourceFile), zap.Bool("concurrent", o.Concurrent))

	o.report(sink, "start", 0)
	o.metrics.OrchestratorRunsTotal.Inc()

	var failed bool
	defer func() {
		o.metrics.RecordOrchestratorRun(failed)
	}()

	errs, warnings, totalErrors, _ := o.Parser.Parse(req.RawCompilerOutput)
	o.report(sink, "parse", 5)
	if totalErrors == 0 && len(errs) == 0 {
		failed = true
		o.metrics.OrchestratorFailuresTotal.WithLabelValues(string(model.CodeNoErrorsFound)).Inc()
		return model.Booklet{}, model.NewError(model.CodeNoErrorsFound, "no errors found in input", nil)
	}
	_ = warnings
	o.report(sink, "parse", 10)

	batch := model.NewErrorBatch(req.SourceFile, errs, start)

	stepTimings := make(map[string]time.Duration, 4)
	var (
		doc        model.DocAnalysis
		ctxResult  model.ContextAnalysis
		validation model.PatternValidation
		booklet    model.Booklet
		err        error
	)

	if o.Concurrent {
		booklet, stepTimings, err = o.runConcurrent(ctx, req, batch, sink)
	} else {
		doc, ctxResult, validation, stepTimings, err = o.runSequential(ctx, req, batch, sink)
		if err == nil {
			synthStart := time.Now()
			booklet, err = o.Synth.Synthesize(ctx, batch, doc, ctxResult, validation, time.Now())
			stepTimings["synthesis"] = time.Since(synthStart)
		}
	}

	if err != nil {
		if ctx.Err() != nil {
			o.log.Info("orchestrator run cancelled", zap.String("sourceFile", req.SourceFile))
			return model.Booklet{}, ctx.Err()
		}
		failed = true
		code := failureCode(err)
		o.metrics.OrchestratorFailuresTotal.WithLabelValues(string(code)).Inc()
		o.log.Warn("orchestrator run failed", zap.String("sourceFile", req.SourceFile), zap.String("errorCode", string(code)), zap.Error(err))
		return model.Booklet{}, err
	}

	for stage, d := range stepTimings {
		o.metrics.StageLatencySeconds.WithLabelValues(stage).Observe(d.Seconds())
	}

	booklet.Metadata["concurrent"] = boolString(o.Concurrent)
	for stage, d := range stepTimings {
		booklet.Metadata[stage] = durationMsString(d)
	}

	o.report(sink, "persist", 95)
	o.report(sink, "done", 100)

	o.log.Info("orchestrator run succeeded", zap.String("sourceFile", req.SourceFile), zap.Duration("totalLatency", time.Since(start)))

	return booklet, nil
}

// runSequential runs stages 1-3 strictly in order, each seeing all
// upstream outputs, per spec §4.7.
func (o *Orchestrator) runSequential(ctx context.Context, req Request, batch model.ErrorBatch, sink ProgressSink) (model.DocAnalysis, model.ContextAnalysis, model.PatternValidation, map[string]time.Duration, error) {
	timings := make(map[string]time.Duration, 3)

	o.report(sink, "stage1", 15)
	s1 := time.Now()
	doc, err := o.Doc.Analyze(ctx, batch.Errors, req.CodeContext)
	timings["stage1"] = time.Since(s1)
	o.report(sink, "stage1", 30)
	if err != nil {
		return model.DocAnalysis{}, model.ContextAnalysis{}, model.PatternValidation{}, timings, err
	}

	o.report(sink, "stage2", 40)
	s2 := time.Now()
	ctxResult, err := o.Ctx.Analyze(ctx, batch.Errors, doc, req.CodeContext, req.ProjectStructure)
	timings["stage2"] = time.Since(s2)
	o.report(sink, "stage2", 50)
	if err != nil {
		return model.DocAnalysis{}, model.ContextAnalysis{}, model.PatternValidation{}, timings, err
	}

	o.report(sink, "stage3", 60)
	s3 := time.Now()
	validation, err := o.Pattern.Validate(ctx, batch.Errors, ctxResult, req.ProjectCodebase, req.ProjectStandards)
	timings["stage3"] = time.Since(s3)
	o.report(sink, "stage3", 70)
	if err != nil {
		return model.DocAnalysis{}, model.ContextAnalysis{}, model.PatternValidation{}, timings, err
	}

	o.report(sink, "stage4", 80)
	return doc, ctxResult, validation, timings, nil
}

// runConcurrent dispatches stages 1-3 simultaneously. Stages 2 and 3
// receive synthetic empty placeholders for the upstream outputs they'd
// normally consume (the preserved behavior of spec §4.7's Concurrent
// mode), and stage 4 waits on all three via an all-of barrier.
func (o *Orchestrator) runConcurrent(ctx context.Context, req Request, batch model.ErrorBatch, sink ProgressSink) (model.Booklet, map[string]time.Duration, error) {
	var (
		doc        model.DocAnalysis
		ctxResult  model.ContextAnalysis
		validation model.PatternValidation
	)
	var d1, d2, d3 time.Duration

	o.report(sink, "stage1", 15)
	o.report(sink, "stage2", 35)
	o.report(sink, "stage3", 55)

	parallelStart := time.Now()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s := time.Now()
		var err error
		doc, err = o.Doc.Analyze(gctx, batch.Errors, req.CodeContext)
		d1 = time.Since(s)
		return err
	})
	g.Go(func() error {
		s := time.Now()
		var err error
		ctxResult, err = o.Ctx.Analyze(gctx, batch.Errors, model.DocAnalysis{}, "", "")
		d2 = time.Since(s)
		return err
	})
	g.Go(func() error {
		s := time.Now()
		var err error
		validation, err = o.Pattern.Validate(gctx, batch.Errors, model.ContextAnalysis{}, "", "")
		d3 = time.Since(s)
		return err
	})

	err := g.Wait()
	parallel := time.Since(parallelStart)

	timings := map[string]time.Duration{"stage1": d1, "stage2": d2, "stage3": d3}
	if err != nil {
		return model.Booklet{}, timings, err
	}

	o.report(sink, "stage4", 80)
	synthStart := time.Now()
	booklet, err := o.Synth.Synthesize(ctx, batch, doc, ctxResult, validation, time.Now())
	timings["synthesis"] = time.Since(synthStart)
	if err != nil {
		return model.Booklet{}, timings, err
	}

	sum := d1 + d2 + d3
	timeSaved := sum - parallel
	if timeSaved < 0 {
		timeSaved = 0
	}
	o.metrics.ParallelExecutionSeconds.Observe(parallel.Seconds())
	o.metrics.TimeSavedSeconds.Observe(timeSaved.Seconds())
	booklet.Metadata["ParallelExecutionTime"] = durationMsString(parallel)
	booklet.Metadata["TimeSaved"] = durationMsString(timeSaved)

	return booklet, timings, nil
}

// failureCode extracts the stable error code from a stage failure,
// mapping anything unrecognized to OrchestratorUnexpected per spec
// §4.7's failure taxonomy.
func failureCode(err error) model.ErrorCode {
	if merr, ok := err.(*model.Error); ok {
		return merr.Code
	}
	return model.CodeOrchestratorUnexpected
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func durationMsString(d time.Duration) string {
	return fmt.Sprintf("%dms", d.Milliseconds())
}
