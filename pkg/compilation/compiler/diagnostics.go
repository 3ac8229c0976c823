package compiler

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"

	"github.com/platinummonkey/webcompile/pkg/compilation"
)

var (
	// file(line,col): error CS1002: ; expected
	locatedDiagnostic = regexp.MustCompile(`^(.+?)\((\d+)(?:,(\d+))?\)\s*:\s*(error|warning|info)\s+([A-Za-z]+\d+)\s*:\s*(.*)$`)

	// error CS2001: Source file 'x.cs' could not be found
	bareDiagnostic = regexp.MustCompile(`^(?:(.+?)\s*:\s*)?(error|warning|info)\s+([A-Za-z]+\d+)\s*:\s*(.*)$`)
)

// ParseDiagnostics extracts compiler diagnostics from compiler output.
// Lines that are not diagnostics are ignored.
func ParseDiagnostics(output string) []compilation.Diagnostic {
	var diags []compilation.Diagnostic

	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if m := locatedDiagnostic.FindStringSubmatch(line); m != nil {
			lineNo, _ := strconv.Atoi(m[2])
			col, _ := strconv.Atoi(m[3])
			diags = append(diags, compilation.Diagnostic{
				File:     m[1],
				Line:     lineNo,
				Column:   col,
				Severity: compilation.Severity(m[4]),
				Code:     m[5],
				Message:  m[6],
			})
			continue
		}

		if m := bareDiagnostic.FindStringSubmatch(line); m != nil {
			diags = append(diags, compilation.Diagnostic{
				File:     m[1],
				Severity: compilation.Severity(m[2]),
				Code:     m[3],
				Message:  m[4],
			})
		}
	}
	return diags
}

// hasErrors reports whether any diagnostic is an error
func hasErrors(diags []compilation.Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == compilation.SeverityError {
			return true
		}
	}
	return false
}
