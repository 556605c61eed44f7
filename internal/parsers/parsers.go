// Package parsers — parsers.go
//
// Compiler-error text parsing is an external collaborator (spec §1/§6):
// AIRES core depends only on the Parser interface. This package also
// ships exactly one concrete implementation, a deliberately generic
// line-oriented parser, sufficient to exercise the Watchdog ->
// Orchestrator -> Persistence path end to end without committing to any
// compiler's diagnostic dialect.
package parsers

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"

	"github.com/aires-hq/aires/internal/model"
)

// Parser turns raw build output into a typed CompilerError set, per the
// external interface contract in spec §6.
type Parser interface {
	Parse(raw []byte) (errs, warnings []model.CompilerError, totalErrors, totalWarnings int)
}

// lineRe recognizes the generic shape:
//
//	<severity>? <code> <sep> <message> [at <path>:<line>:<col>]
//
// e.g. "error CS1503: Argument 1: cannot convert 'string' to 'int' (at Program.cs:42:9)"
var lineRe = regexp.MustCompile(
	`(?i)^\s*(error|warning|info)?\s*([A-Za-z]{1,8}\d{1,6})\s*[:\-]\s*(.+?)(?:\s*\(at\s+([^:]+):(\d+):(\d+)\))?\s*$`,
)

// GenericParser recognizes the shape above, defaulting to Error
// severity when no level keyword is present. Lines that don't match
// the shape are ignored (not every line in a build log is a
// diagnostic).
type GenericParser struct{}

// NewGenericParser constructs the default Parser implementation.
func NewGenericParser() *GenericParser { return &GenericParser{} }

// Parse implements Parser.
func (p *GenericParser) Parse(raw []byte) (errs, warnings []model.CompilerError, totalErrors, totalWarnings int) {
	scanner := bufio.NewScanner(strings.NewReader(string(raw)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := scanner.Text()
		m := lineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		sev := model.SeverityError
		switch strings.ToLower(m[1]) {
		case "warning":
			sev = model.SeverityWarning
		case "info":
			sev = model.SeverityInfo
		}

		var loc *model.Location
		if m[4] != "" {
			lineNo, _ := strconv.Atoi(m[5])
			colNo, _ := strconv.Atoi(m[6])
			loc = &model.Location{Path: m[4], Line: lineNo, Column: colNo}
		}

		ce := model.CompilerError{
			Code:     m[2],
			Message:  strings.TrimSpace(m[3]),
			Location: loc,
			Severity: sev,
		}

		switch sev {
		case model.SeverityWarning:
			warnings = append(warnings, ce)
			totalWarnings++
		case model.SeverityInfo:
			// Informational diagnostics are neither kept nor counted in
			// the error or warning totals.
		default:
			errs = append(errs, ce)
			totalErrors++
		}
	}

	return errs, warnings, totalErrors, totalWarnings
}
