package booklet

import (
	"strings"
	"testing"
	"time"

	"github.com/aires-hq/aires/internal/model"
)

func sampleBooklet() model.Booklet {
	batch := model.NewErrorBatch("build.log", []model.CompilerError{
		{Code: "CS1503", Message: "cannot convert types", Severity: model.SeverityError},
		{Code: "CS1503", Message: "second instance", Severity: model.SeverityError},
	}, time.Unix(0, 0))

	return model.Booklet{
		BookletID:   batch.BatchID,
		BatchID:     batch.BatchID,
		GeneratedAt: time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC),
		Title:       "Research Booklet: build.log",
		Sections: []model.BookletSection{
			{Order: 1, Title: "Context Analysis", Content: "context body"},
			{Order: 0, Title: "Documentation Analysis", Content: "doc body"},
		},
		Batch:       batch,
		AllFindings: []model.ModelFinding{{ModelName: "mistral", Title: "Finding", Content: strings.Repeat("x", 600)}},
		Metadata:    map[string]string{"concurrent": "false", "stage1": "10ms"},
	}
}

func TestRenderIncludesFixedSkeleton(t *testing.T) {
	md := Render(sampleBooklet())

	for _, want := range []string{
		"# Research Booklet: build.log",
		"**Batch ID:**",
		"**Total Errors:** 2",
		"## Metadata",
		"## Original Errors",
		"### CS1503",
		"## Documentation Analysis",
		"## Context Analysis",
		"## AI Research Summary",
		"*Generated by AIRES*",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("rendered markdown missing %q", want)
		}
	}
}

func TestRenderOrdersSectionsAscending(t *testing.T) {
	md := Render(sampleBooklet())
	docIdx := strings.Index(md, "## Documentation Analysis")
	ctxIdx := strings.Index(md, "## Context Analysis")
	if docIdx == -1 || ctxIdx == -1 || docIdx > ctxIdx {
		t.Errorf("expected Documentation Analysis (order 0) before Context Analysis (order 1)")
	}
}

func TestRenderTruncatesLongFindings(t *testing.T) {
	md := Render(sampleBooklet())
	if strings.Contains(md, strings.Repeat("x", 600)) {
		t.Error("expected finding content to be truncated to 500 chars")
	}
	if !strings.Contains(md, strings.Repeat("x", 500)+"...") {
		t.Error("expected truncated finding to end with ellipsis at 500 chars")
	}
}
