package models

import "strings"

// Severity is the ordered impact level shared by alerts, actions and approval policies.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRanks = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// ParseSeverity normalizes s and reports whether it names a known severity.
func ParseSeverity(s string) (Severity, bool) {
	severity := Severity(strings.ToLower(strings.TrimSpace(s)))
	_, ok := severityRanks[severity]

	return severity, ok
}

// Rank returns the position of s in the severity ordering, 0 when unknown.
func (s Severity) Rank() int {
	return severityRanks[Severity(strings.ToLower(string(s)))]
}

// AtLeast reports whether s is as severe as threshold. Unknown severities never qualify.
func (s Severity) AtLeast(threshold Severity) bool {
	rank := s.Rank()

	return rank > 0 && rank >= threshold.Rank()
}

func (s Severity) Valid() bool {
	return s.Rank() > 0
}
