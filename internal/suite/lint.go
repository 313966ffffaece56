package suite

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// LintSummary holds parsed linter results.
type LintSummary struct {
	Problems  int      `json:"problems"`
	Errors    int      `json:"errors"`
	Warnings  int      `json:"warnings"`
	Locations []string `json:"locations,omitempty"` // unique path:line:col
}

func (s *LintSummary) String() string {
	var b strings.Builder
	if s.Problems == 0 {
		fmt.Fprintln(&b, "Status: OK")
		return b.String()
	}
	fmt.Fprintf(&b, "Status: %d problems (%d errors, %d warnings)\n", s.Problems, s.Errors, s.Warnings)
	for _, loc := range truncateLines(s.Locations, maxListed) {
		fmt.Fprintln(&b, loc)
	}
	return b.String()
}

var (
	lintTotalRe    = regexp.MustCompile(`[✖✗xX]\s+(\d+)\s+problems?\s+\((\d+)\s+errors?,\s+(\d+)\s+warnings?\)`)
	lintLocationRe = regexp.MustCompile(`([\w@~./-]+\.(?:js|jsx|ts|tsx|mjs|cjs|vue|svelte))[:(](\d+)[:,](\d+)`)
)

func parseLintOutput(output string) *LintSummary {
	output = clean(output)
	s := &LintSummary{}

	if m := lintTotalRe.FindStringSubmatch(output); m != nil {
		s.Problems, _ = strconv.Atoi(m[1])
		s.Errors, _ = strconv.Atoi(m[2])
		s.Warnings, _ = strconv.Atoi(m[3])
	}

	seen := make(map[string]bool)
	for _, m := range lintLocationRe.FindAllStringSubmatch(output, -1) {
		loc := m[1] + ":" + m[2] + ":" + m[3]
		if seen[loc] {
			continue
		}
		seen[loc] = true
		s.Locations = append(s.Locations, loc)
	}
	return s
}
