// Package stages — stages.go
//
// Stage Executors (spec §4.6): four pure adapters, each wrapping
// exactly one Gateway call and returning a typed output. Prompt
// construction and response parsing are this package's own concern
// (SPEC_FULL's supplement to §4.6, since a "typed output" boundary
// needs something to produce it); both are deliberately thin, since
// AIRES does not evaluate LLM output quality.
package stages

import (
	"context"
	"strconv"
	"strings"

	"github.com/aires-hq/aires/internal/llm"
	"github.com/aires-hq/aires/internal/model"
)

// Generator is the subset of the Load Balancer/Gateway API a stage
// needs: one model call producing free text. *balancer.Balancer and
// *llm.Gateway both satisfy this.
type Generator interface {
	Generate(ctx context.Context, modelName, prompt string, params llm.GenerateParams) (string, llm.Usage, error)
}

func errorList(errs []model.CompilerError) string {
	var b strings.Builder
	for _, e := range errs {
		b.WriteString(e.Severity.String())
		b.WriteString(" ")
		b.WriteString(e.Code)
		b.WriteString(": ")
		b.WriteString(e.Message)
		if e.Location != nil {
			b.WriteString(" (at ")
			b.WriteString(e.Location.Path)
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// parseFindings splits a free-text LLM reply into blank-line-separated
// blocks; each block's first line is the finding title, the remainder
// its content, with an optional trailing "confidence: 0.NN" token
// extracted if present.
func parseFindings(modelName, text string) []model.ModelFinding {
	blocks := strings.Split(strings.TrimSpace(text), "\n\n")
	findings := make([]model.ModelFinding, 0, len(blocks))
	for _, block := range blocks {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		lines := strings.SplitN(block, "\n", 2)
		title := strings.TrimSpace(lines[0])
		content := ""
		if len(lines) > 1 {
			content = strings.TrimSpace(lines[1])
		}

		var confidence *float64
		content, confidence = extractConfidence(content)

		findings = append(findings, model.ModelFinding{
			ModelName:  modelName,
			Title:      title,
			Content:    content,
			Confidence: confidence,
		})
	}
	return findings
}

func extractConfidence(content string) (string, *float64) {
	idx := strings.LastIndex(strings.ToLower(content), "confidence:")
	if idx < 0 {
		return content, nil
	}
	tail := strings.TrimSpace(content[idx+len("confidence:"):])
	fields := strings.Fields(tail)
	if len(fields) == 0 {
		return content, nil
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return content, nil
	}
	return strings.TrimSpace(content[:idx]), &v
}
