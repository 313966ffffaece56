package suite

import (
	"fmt"
	"regexp"
)

// AuditSummary holds dependency vulnerability counts.
//
// Total and the per-severity counts come from independent patterns and are
// not reconciled: npm prints both "found N vulnerabilities" and a breakdown,
// and older formats print only one of them.
type AuditSummary struct {
	Total    int `json:"total"`
	High     int `json:"high"`
	Moderate int `json:"moderate"`
	Low      int `json:"low"`
}

func (s *AuditSummary) String() string {
	if s.Total == 0 && s.High == 0 && s.Moderate == 0 && s.Low == 0 {
		return "Status: OK\n"
	}
	return fmt.Sprintf("Status: %d vulnerabilities (%d high, %d moderate, %d low)\n",
		s.Total, s.High, s.Moderate, s.Low)
}

var (
	auditTotalRe    = regexp.MustCompile(`found (\d+)(?: \w+ severity)? vulnerabilit(?:y|ies)`)
	auditHighRe     = regexp.MustCompile(`(\d+) high`)
	auditModerateRe = regexp.MustCompile(`(\d+) moderate`)
	auditLowRe      = regexp.MustCompile(`(\d+) low`)
)

func parseAuditOutput(output string) *AuditSummary {
	output = clean(output)
	return &AuditSummary{
		Total:    firstInt(auditTotalRe, output),
		High:     firstInt(auditHighRe, output),
		Moderate: firstInt(auditModerateRe, output),
		Low:      firstInt(auditLowRe, output),
	}
}
