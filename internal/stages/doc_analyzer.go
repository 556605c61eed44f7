package stages

import (
	"context"
	"fmt"

	"github.com/aires-hq/aires/internal/llm"
	"github.com/aires-hq/aires/internal/model"
)

// DocAnalyzer is Stage 1: documentation analysis of the raw errors
// against the surrounding code context.
type DocAnalyzer struct {
	Gen    Generator
	Model  string
	Params llm.GenerateParams
}

// Analyze calls the configured model and parses its reply into a
// DocAnalysis. codeContext may be empty.
func (d *DocAnalyzer) Analyze(ctx context.Context, errs []model.CompilerError, codeContext string) (model.DocAnalysis, error) {
	prompt := fmt.Sprintf(
		"You are analyzing compiler errors for likely documentation causes.\n\nErrors:\n%s\nCode context:\n%s\n\nFor each distinct issue, respond with a short title line followed by an explanation paragraph, separated by a blank line between issues.",
		errorList(errs), codeContext)

	text, _, err := d.Gen.Generate(ctx, d.Model, prompt, d.Params)
	if err != nil {
		return model.DocAnalysis{}, model.NewError(model.CodeMistralAnalysisError, "documentation analysis failed", err)
	}

	return model.DocAnalysis{
		Findings:   parseFindings(d.Model, text),
		Summary:    summarize(text),
		References: map[string]string{},
	}, nil
}

func summarize(text string) string {
	const max = 280
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}
