package suite

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func lines(ss ...string) string {
	return strings.Join(ss, "\n") + "\n"
}

func TestParseLintOutput_Totals(t *testing.T) {
	s := parseLintOutput("✖ 5 problems (3 errors, 2 warnings)\n")
	assert.Equal(t, 5, s.Problems)
	assert.Equal(t, 3, s.Errors)
	assert.Equal(t, 2, s.Warnings)
}

func TestParseLintOutput_Locations(t *testing.T) {
	input := lines(
		"src/app.ts:12:5: Unexpected any",
		"src/app.ts:12:5: Missing return type",
		"web/components/Button.tsx:3:1: Unused import",
		"README.md:1:1: not a source file",
		"",
		"\x1b[31m✖ 3 problems (2 errors, 1 warning)\x1b[39m",
	)
	s := parseLintOutput(input)
	assert.Equal(t, 3, s.Problems)
	assert.Equal(t, 1, s.Warnings)
	assert.Equal(t, []string{"src/app.ts:12:5", "web/components/Button.tsx:3:1"}, s.Locations)
}

func TestParseLintOutput_Clean(t *testing.T) {
	s := parseLintOutput("> eslint .\n\n")
	assert.Zero(t, s.Problems)
	assert.Empty(t, s.Locations)
	assert.Equal(t, "Status: OK\n", s.String())
}

func TestParseBuildOutput(t *testing.T) {
	input := lines(
		"vite v5.0.0 building for production...",
		"dist/index.html                   0.46 kB │ gzip:  0.30 kB",
		"dist/assets/index-4f1a.css        1.50 kB │ gzip:  0.70 kB",
		"dist/assets/index-9c2b.js         1.25 MB │ gzip: 400.00 kB",
		"✓ built in 2.31s",
	)
	s := parseBuildOutput(input)
	assert.Equal(t, 3, s.Files)
	assert.InDelta(t, 0.46+1.50+1.25*1024, s.SizeKB, 0.001)
	assert.Equal(t, "1281.96 kB", s.Size)
}

func TestParseBuildOutput_NoArtifacts(t *testing.T) {
	s := parseBuildOutput("tsc -p .\n")
	assert.Zero(t, s.Files)
	assert.Empty(t, s.Size)
}

func TestParseTestOutput_Summary(t *testing.T) {
	s := parseTestOutput("Tests: 10 passed, 2 failed, 12 total\nTest Suites: 3 total\n")
	assert.Equal(t, &TestSummary{Passed: 10, Failed: 2, Tests: 12, Suites: 3}, s)
}

func TestParseTestOutput_JestOrder(t *testing.T) {
	input := lines(
		"Test Suites: 1 failed, 4 passed, 5 total",
		"Tests:       1 failed, 1 skipped, 20 passed, 22 total",
		"Snapshots:   0 total",
	)
	s := parseTestOutput(input)
	assert.Equal(t, 20, s.Passed)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 22, s.Tests)
	assert.Equal(t, 5, s.Suites)
}

func TestParseTestOutput_FailedDefaultsToZero(t *testing.T) {
	s := parseTestOutput("Tests: 7 passed, 7 total\n")
	assert.Equal(t, 7, s.Passed)
	assert.Zero(t, s.Failed)
	assert.Contains(t, s.String(), "Status: PASS")
}

func TestParseAuditOutput(t *testing.T) {
	input := lines(
		"# npm audit report",
		"",
		"4 vulnerabilities (1 low, 2 moderate, 1 high)",
		"",
		"found 4 vulnerabilities",
	)
	s := parseAuditOutput(input)
	assert.Equal(t, &AuditSummary{Total: 4, High: 1, Moderate: 2, Low: 1}, s)
}

func TestParseAuditOutput_SeverityForm(t *testing.T) {
	s := parseAuditOutput("found 3 high severity vulnerabilities\n")
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 3, s.High)
	assert.Zero(t, s.Low)
}

func TestParseAuditOutput_CountsMayDisagree(t *testing.T) {
	// The total and the breakdown are matched independently.
	s := parseAuditOutput("found 1 low severity vulnerability\n2 moderate issues ignored\n")
	assert.Equal(t, 1, s.Total)
	assert.Equal(t, 1, s.Low)
	assert.Equal(t, 2, s.Moderate)
}

func TestParse_UnknownParser(t *testing.T) {
	assert.Nil(t, Parse("coverage", "anything"))
	assert.IsType(t, &LintSummary{}, Parse(ParserLint, ""))
}

func TestTruncateLines(t *testing.T) {
	got := truncateLines([]string{"a", "b", "c"}, 2)
	assert.Equal(t, []string{"a", "b", "... and 1 more"}, got)
	assert.Equal(t, []string{"a"}, truncateLines([]string{"a"}, 2))
}
