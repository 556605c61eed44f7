package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/aires-hq/aires/internal/llm"
	"github.com/aires-hq/aires/internal/model"
)

// PatternValidator is Stage 3: checks the errors and context against
// known anti-pattern and project-standards violations.
type PatternValidator struct {
	Gen    Generator
	Model  string
	Params llm.GenerateParams
}

// Validate calls the configured model. ctxAnalysis, projectCodebase and
// projectStandards may be zero-value / empty (Concurrent-mode
// placeholder). A reply is treated as non-compliant if it contains a
// line starting with "VIOLATION:".
func (p *PatternValidator) Validate(ctx context.Context, errs []model.CompilerError, ctxAnalysis model.ContextAnalysis, projectCodebase, projectStandards string) (model.PatternValidation, error) {
	prompt := fmt.Sprintf(
		"You are validating these compiler errors against project coding standards.\n\nErrors:\n%s\nContext summary:\n%s\nProject codebase excerpt:\n%s\nProject standards:\n%s\n\nFor each standards violation found, respond with a line 'VIOLATION: <description>'. Then, separated by a blank line, give a short title/explanation finding per issue.",
		errorList(errs), ctxAnalysis.Summary, projectCodebase, projectStandards)

	text, _, err := p.Gen.Generate(ctx, p.Model, prompt, p.Params)
	if err != nil {
		return model.PatternValidation{}, model.NewError(model.CodeCodeGemmaValidationError, "pattern validation failed", err)
	}

	violations, rest := extractViolations(text)
	return model.PatternValidation{
		Findings:           parseFindings(p.Model, rest),
		OverallCompliance:  len(violations) == 0,
		CriticalViolations: violations,
	}, nil
}

func extractViolations(text string) ([]string, string) {
	lines := strings.Split(text, "\n")
	var violations []string
	var kept []string
	for _, l := range lines {
		trimmed := strings.TrimSpace(l)
		if strings.HasPrefix(strings.ToUpper(trimmed), "VIOLATION:") {
			violations = append(violations, strings.TrimSpace(trimmed[len("VIOLATION:"):]))
			continue
		}
		kept = append(kept, l)
	}
	return violations, strings.Join(kept, "\n")
}
