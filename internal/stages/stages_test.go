package stages

import (
	"context"
	"testing"
	"time"

	"github.com/aires-hq/aires/internal/llm"
	"github.com/aires-hq/aires/internal/model"
)

type stubGenerator struct {
	text string
	err  error
}

func (s *stubGenerator) Generate(ctx context.Context, modelName, prompt string, params llm.GenerateParams) (string, llm.Usage, error) {
	if s.err != nil {
		return "", llm.Usage{}, s.err
	}
	return s.text, llm.Usage{}, nil
}

func sampleErrors() []model.CompilerError {
	return []model.CompilerError{
		{Code: "E001", Message: "undefined symbol", Severity: model.SeverityError},
	}
}

func TestDocAnalyzerParsesFindings(t *testing.T) {
	gen := &stubGenerator{text: "Missing import\nThe symbol comes from an unimported package.\nconfidence: 0.8"}
	d := &DocAnalyzer{Gen: gen, Model: "mistral"}

	out, err := d.Analyze(context.Background(), sampleErrors(), "")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(out.Findings) != 1 {
		t.Fatalf("Findings = %d, want 1", len(out.Findings))
	}
	if out.Findings[0].Confidence == nil || *out.Findings[0].Confidence != 0.8 {
		t.Errorf("Confidence = %v, want 0.8", out.Findings[0].Confidence)
	}
}

func TestDocAnalyzerWrapsFailure(t *testing.T) {
	gen := &stubGenerator{err: model.NewError(model.CodeNetworkError, "down", nil)}
	d := &DocAnalyzer{Gen: gen, Model: "mistral"}

	_, err := d.Analyze(context.Background(), sampleErrors(), "")
	var merr *model.Error
	if err == nil {
		t.Fatal("expected error")
	}
	if e, ok := err.(*model.Error); ok {
		merr = e
	} else {
		t.Fatalf("err is not *model.Error: %T", err)
	}
	if merr.Code != model.CodeMistralAnalysisError {
		t.Errorf("Code = %s, want %s", merr.Code, model.CodeMistralAnalysisError)
	}
}

func TestContextAnalyzerExtractsPainPoints(t *testing.T) {
	gen := &stubGenerator{text: "- build is slow\n- flaky tests\n\nRoot cause\nStale cache invalidation."}
	c := &ContextAnalyzer{Gen: gen, Model: "deepseek"}

	out, err := c.Analyze(context.Background(), sampleErrors(), model.DocAnalysis{}, "", "")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(out.PainPoints) != 2 {
		t.Fatalf("PainPoints = %v, want 2 entries", out.PainPoints)
	}
	if len(out.Findings) != 1 {
		t.Fatalf("Findings = %d, want 1", len(out.Findings))
	}
}

func TestContextAnalyzerWrapsFailure(t *testing.T) {
	gen := &stubGenerator{err: model.NewError(model.CodeTimeout, "slow", nil)}
	c := &ContextAnalyzer{Gen: gen, Model: "deepseek"}

	_, err := c.Analyze(context.Background(), sampleErrors(), model.DocAnalysis{}, "", "")
	merr, ok := err.(*model.Error)
	if !ok {
		t.Fatalf("err is not *model.Error: %T", err)
	}
	if merr.Code != model.CodeDeepSeekContextError {
		t.Errorf("Code = %s, want %s", merr.Code, model.CodeDeepSeekContextError)
	}
}

func TestPatternValidatorCompliantWhenNoViolations(t *testing.T) {
	gen := &stubGenerator{text: "Looks fine\n\nNo standards issues detected."}
	p := &PatternValidator{Gen: gen, Model: "codegemma"}

	out, err := p.Validate(context.Background(), sampleErrors(), model.ContextAnalysis{}, "", "")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !out.OverallCompliance {
		t.Error("OverallCompliance = false, want true")
	}
	if len(out.CriticalViolations) != 0 {
		t.Errorf("CriticalViolations = %v, want empty", out.CriticalViolations)
	}
}

func TestPatternValidatorNonCompliantWhenViolationsPresent(t *testing.T) {
	gen := &stubGenerator{text: "VIOLATION: missing error wrapping\n\nWrap errors\n\nAll returned errors must be wrapped."}
	p := &PatternValidator{Gen: gen, Model: "codegemma"}

	out, err := p.Validate(context.Background(), sampleErrors(), model.ContextAnalysis{}, "", "")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if out.OverallCompliance {
		t.Error("OverallCompliance = true, want false")
	}
	if len(out.CriticalViolations) != 1 {
		t.Fatalf("CriticalViolations = %v, want 1 entry", out.CriticalViolations)
	}
}

func TestPatternValidatorWrapsFailure(t *testing.T) {
	gen := &stubGenerator{err: model.NewError(model.CodeServerError, "500", nil)}
	p := &PatternValidator{Gen: gen, Model: "codegemma"}

	_, err := p.Validate(context.Background(), sampleErrors(), model.ContextAnalysis{}, "", "")
	merr, ok := err.(*model.Error)
	if !ok {
		t.Fatalf("err is not *model.Error: %T", err)
	}
	if merr.Code != model.CodeCodeGemmaValidationError {
		t.Errorf("Code = %s, want %s", merr.Code, model.CodeCodeGemmaValidationError)
	}
}

func TestSynthesizerAssemblesBooklet(t *testing.T) {
	gen := &stubGenerator{text: "Fix the import\nAdd the missing import and re-run the build."}
	s := &Synthesizer{Gen: gen, Model: "gemma2"}

	batch := model.NewErrorBatch("build.log", sampleErrors(), time.Unix(0, 0))
	doc := model.DocAnalysis{Findings: []model.ModelFinding{{Title: "t1", Content: "c1"}}, Summary: "doc summary"}
	ctxAnalysis := model.ContextAnalysis{Findings: []model.ModelFinding{{Title: "t2", Content: "c2"}}, PainPoints: []string{"slow build"}}
	validation := model.PatternValidation{OverallCompliance: true}

	booklet, err := s.Synthesize(context.Background(), batch, doc, ctxAnalysis, validation, time.Unix(100, 0))
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(booklet.Sections) != 4 {
		t.Fatalf("Sections = %d, want 4", len(booklet.Sections))
	}
	if booklet.Sections[0].Title != "Documentation Analysis" {
		t.Errorf("Sections[0].Title = %q", booklet.Sections[0].Title)
	}
	if booklet.BatchID != batch.BatchID {
		t.Error("BatchID mismatch")
	}
	if len(booklet.AllFindings) != 3 {
		t.Errorf("AllFindings = %d, want 3 (1 doc + 1 context + 1 summary)", len(booklet.AllFindings))
	}
}

func TestSynthesizerWrapsFailure(t *testing.T) {
	gen := &stubGenerator{err: model.NewError(model.CodeNetworkError, "down", nil)}
	s := &Synthesizer{Gen: gen, Model: "gemma2"}

	_, err := s.Synthesize(context.Background(), model.ErrorBatch{}, model.DocAnalysis{}, model.ContextAnalysis{}, model.PatternValidation{}, time.Unix(0, 0))
	merr, ok := err.(*model.Error)
	if !ok {
		t.Fatalf("err is not *model.Error: %T", err)
	}
	if merr.Code != model.CodeGemma2GenerationError {
		t.Errorf("Code = %s, want %s", merr.Code, model.CodeGemma2GenerationError)
	}
}
