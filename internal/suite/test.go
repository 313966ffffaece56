package suite

import (
	"fmt"
	"regexp"
	"strings"
)

// TestSummary holds parsed test runner counts.
type TestSummary struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped,omitempty"`
	Tests   int `json:"tests"`
	Suites  int `json:"suites"`
}

func (s *TestSummary) String() string {
	var b strings.Builder
	if s.Failed == 0 {
		fmt.Fprintln(&b, "Status: PASS")
	} else {
		fmt.Fprintln(&b, "Status: FAIL")
	}
	fmt.Fprintf(&b, "Tests: %d passed, %d failed, %d total\n", s.Passed, s.Failed, s.Tests)
	if s.Suites > 0 {
		fmt.Fprintf(&b, "Suites: %d total\n", s.Suites)
	}
	return b.String()
}

var (
	testsLineRe  = regexp.MustCompile(`(?m)^\s*Tests:\s*(.*)$`)
	suitesLineRe = regexp.MustCompile(`(?m)^\s*Test Suites:\s*(.*)$`)
	passedRe     = regexp.MustCompile(`(\d+)\s+passed`)
	failedRe     = regexp.MustCompile(`(\d+)\s+failed`)
	skippedRe    = regexp.MustCompile(`(\d+)\s+skipped`)
	totalRe      = regexp.MustCompile(`(\d+)\s+total`)
)

func parseTestOutput(output string) *TestSummary {
	output = clean(output)
	s := &TestSummary{}

	if m := testsLineRe.FindStringSubmatch(output); m != nil {
		line := m[1]
		s.Passed = firstInt(passedRe, line)
		s.Failed = firstInt(failedRe, line)
		s.Skipped = firstInt(skippedRe, line)
		s.Tests = firstInt(totalRe, line)
	}
	if m := suitesLineRe.FindStringSubmatch(output); m != nil {
		s.Suites = firstInt(totalRe, m[1])
	}
	return s
}
