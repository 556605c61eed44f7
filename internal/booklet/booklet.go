// Package booklet renders a model.Booklet into the fixed Markdown
// skeleton defined by spec §6: H1 title, bold metadata lines, a
// Metadata section, the original errors grouped by code, each stage
// section in ascending order, a final AI Research Summary, and a fixed
// footer. Rendering is the core's own responsibility; Persistence only
// writes bytes.
package booklet

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aires-hq/aires/internal/model"
)

const findingTruncateLen = 500

// Render produces the complete Markdown document for b.
func Render(b model.Booklet) string {
	var out strings.Builder

	fmt.Fprintf(&out, "# %s\n\n", b.Title)
	fmt.Fprintf(&out, "**Generated:** %s\n\n", b.GeneratedAt.UTC().Format("2006-01-02T15:04:05Z"))
	fmt.Fprintf(&out, "**Batch ID:** %s\n\n", b.BatchID.String())
	fmt.Fprintf(&out, "**Total Errors:** %d\n\n", len(b.Batch.Errors))

	out.WriteString("## Metadata\n\n")
	writeMetadata(&out, b.Metadata)
	out.WriteString("\n")

	out.WriteString("## Original Errors\n\n")
	writeErrorsByCode(&out, b.Batch.Errors)

	sections := append([]model.BookletSection(nil), b.Sections...)
	sort.SliceStable(sections, func(i, j int) bool { return sections[i].Order < sections[j].Order })
	for _, s := range sections {
		fmt.Fprintf(&out, "## %s\n\n%s\n", s.Title, strings.TrimRight(s.Content, "\n"))
		out.WriteString("\n")
	}

	out.WriteString("## AI Research Summary\n\n")
	writeFindings(&out, b.AllFindings)

	out.WriteString("*Generated by AIRES*\n")

	return out.String()
}

func writeMetadata(out *strings.Builder, md map[string]string) {
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "- **%s:** %s\n", k, md[k])
	}
}

func writeErrorsByCode(out *strings.Builder, errs []model.CompilerError) {
	byCode := make(map[string][]model.CompilerError)
	var codes []string
	for _, e := range errs {
		if _, ok := byCode[e.Code]; !ok {
			codes = append(codes, e.Code)
		}
		byCode[e.Code] = append(byCode[e.Code], e)
	}
	sort.Strings(codes)

	for _, code := range codes {
		fmt.Fprintf(out, "### %s\n\n", code)
		for _, e := range byCode[code] {
			line := fmt.Sprintf("- **%s:** %s", e.Severity.String(), e.Message)
			if e.Location != nil {
				line += fmt.Sprintf(" (%s:%d:%d)", e.Location.Path, e.Location.Line, e.Location.Column)
			}
			out.WriteString(line)
			out.WriteString("\n")
		}
		out.WriteString("\n")
	}
}

func writeFindings(out *strings.Builder, findings []model.ModelFinding) {
	for _, f := range findings {
		fmt.Fprintf(out, "### %s (%s)\n\n", f.Title, f.ModelName)
		content := f.Content
		if len(content) > findingTruncateLen {
			content = content[:findingTruncateLen] + "..."
		}
		out.WriteString(content)
		out.WriteString("\n\n")
	}
}
