package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/aires-hq/aires/internal/llm"
	"github.com/aires-hq/aires/internal/model"
)

// ContextAnalyzer is Stage 2: relates errors and the Stage 1 findings
// to the wider project structure.
type ContextAnalyzer struct {
	Gen    Generator
	Model  string
	Params llm.GenerateParams
}

// Analyze calls the configured model. doc and projectStructure may be
// the zero value / empty string (Concurrent-mode placeholder).
func (c *ContextAnalyzer) Analyze(ctx context.Context, errs []model.CompilerError, doc model.DocAnalysis, codeContext, projectStructure string) (model.ContextAnalysis, error) {
	prompt := fmt.Sprintf(
		"You are analyzing the project context around these compiler errors.\n\nErrors:\n%s\nDocumentation summary:\n%s\nCode context:\n%s\nProject structure:\n%s\n\nList each pain point on its own line prefixed with '- ', then a blank line, then a short title/explanation finding per issue.",
		errorList(errs), doc.Summary, codeContext, projectStructure)

	text, _, err := c.Gen.Generate(ctx, c.Model, prompt, c.Params)
	if err != nil {
		return model.ContextAnalysis{}, model.NewError(model.CodeDeepSeekContextError, "context analysis failed", err)
	}

	painPoints, rest := splitPainPoints(text)
	return model.ContextAnalysis{
		Findings:   parseFindings(c.Model, rest),
		Summary:    summarize(rest),
		PainPoints: painPoints,
		Metadata:   map[string]string{},
	}, nil
}

// splitPainPoints extracts leading "- " bullet lines as pain points and
// returns the remainder of the text for finding parsing.
func splitPainPoints(text string) ([]string, string) {
	lines := strings.Split(text, "\n")
	var points []string
	i := 0
	for ; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, "- ") {
			points = append(points, strings.TrimSpace(strings.TrimPrefix(trimmed, "- ")))
			continue
		}
		if trimmed == "" && len(points) > 0 {
			i++
			break
		}
		if len(points) > 0 {
			break
		}
	}
	return points, strings.Join(lines[i:], "\n")
}
