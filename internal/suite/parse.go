package suite

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/acarl005/stripansi"
)

// Parser names accepted in step definitions.
const (
	ParserLint  = "lint"
	ParserBuild = "build"
	ParserTest  = "test"
	ParserAudit = "audit"
)

const maxListed = 20

// Parse interprets tool output with the named parser. It never fails: an
// unknown parser or unrecognised output yields nil or zero counts.
func Parse(parser, output string) fmt.Stringer {
	switch parser {
	case ParserLint:
		return parseLintOutput(output)
	case ParserBuild:
		return parseBuildOutput(output)
	case ParserTest:
		return parseTestOutput(output)
	case ParserAudit:
		return parseAuditOutput(output)
	}
	return nil
}

// clean strips terminal colour codes that tools emit even when piped.
func clean(s string) string {
	return stripansi.Strip(s)
}

func firstInt(re *regexp.Regexp, s string) int {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// truncateLines caps lines at max entries, noting how many were omitted.
func truncateLines(lines []string, max int) []string {
	if len(lines) <= max {
		return lines
	}
	out := append([]string(nil), lines[:max]...)
	return append(out, fmt.Sprintf("... and %d more", len(lines)-max))
}
