package stages

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aires-hq/aires/internal/llm"
	"github.com/aires-hq/aires/internal/model"
)

// Synthesizer is Stage 4: combines the three upstream typed outputs
// and the original batch into the final Booklet.
type Synthesizer struct {
	Gen    Generator
	Model  string
	Params llm.GenerateParams
}

// Synthesize calls the configured model for a closing narrative, then
// assembles the Booklet sections in the fixed order the booklet
// renderer expects: Documentation Analysis, Context Analysis, Pattern
// Validation, Research Summary.
func (s *Synthesizer) Synthesize(ctx context.Context, batch model.ErrorBatch, doc model.DocAnalysis, ctxAnalysis model.ContextAnalysis, validation model.PatternValidation, now time.Time) (model.Booklet, error) {
	prompt := fmt.Sprintf(
		"Write a closing research summary synthesizing these findings for a developer about to fix the errors.\n\nDocumentation analysis:\n%s\nContext analysis:\n%s\nPattern validation compliance: %v\nCritical violations: %v\n\nRespond with one or more short title/paragraph findings separated by a blank line.",
		doc.Summary, ctxAnalysis.Summary, validation.OverallCompliance, validation.CriticalViolations)

	text, _, err := s.Gen.Generate(ctx, s.Model, prompt, s.Params)
	if err != nil {
		return model.Booklet{}, model.NewError(model.CodeGemma2GenerationError, "synthesis failed", err)
	}

	summaryFindings := parseFindings(s.Model, text)

	allFindings := make([]model.ModelFinding, 0, len(doc.Findings)+len(ctxAnalysis.Findings)+len(validation.Findings)+len(summaryFindings))
	allFindings = append(allFindings, doc.Findings...)
	allFindings = append(allFindings, ctxAnalysis.Findings...)
	allFindings = append(allFindings, validation.Findings...)
	allFindings = append(allFindings, summaryFindings...)

	sections := []model.BookletSection{
		{Order: 0, Title: "Documentation Analysis", Content: renderFindings(doc.Findings, doc.Summary)},
		{Order: 1, Title: "Context Analysis", Content: renderContextAnalysis(ctxAnalysis)},
		{Order: 2, Title: "Pattern Validation", Content: renderValidation(validation)},
		{Order: 3, Title: "Research Summary", Content: renderFindings(summaryFindings, "")},
	}

	return model.Booklet{
		BookletID:   uuid.New(),
		BatchID:     batch.BatchID,
		GeneratedAt: now,
		Title:       fmt.Sprintf("Research Booklet: %s", batch.SourceFile),
		Sections:    sections,
		Batch:       batch,
		AllFindings: allFindings,
		Metadata:    map[string]string{},
	}, nil
}

func renderFindings(findings []model.ModelFinding, leadingSummary string) string {
	var out string
	if leadingSummary != "" {
		out += leadingSummary + "\n\n"
	}
	for _, f := range findings {
		out += "### " + f.Title + "\n\n" + f.Content + "\n\n"
	}
	return out
}

func renderContextAnalysis(c model.ContextAnalysis) string {
	out := renderFindings(c.Findings, c.Summary)
	if len(c.PainPoints) == 0 {
		return out
	}
	out += "Pain points:\n"
	for _, p := range c.PainPoints {
		out += "- " + p + "\n"
	}
	return out
}

func renderValidation(v model.PatternValidation) string {
	out := renderFindings(v.Findings, "")
	if v.OverallCompliance {
		out += "Overall compliance: pass\n"
		return out
	}
	out += "Overall compliance: fail\n"
	for _, c := range v.CriticalViolations {
		out += "- " + c + "\n"
	}
	return out
}
