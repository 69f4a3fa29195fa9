package core

import "strings"

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

var severityPriority = map[Severity]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
}

// ParseSeverity normaliza o nome; ok=false se não for um dos quatro níveis.
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	_, ok := severityPriority[sev]
	return sev, ok
}

// Priority: critical(4) > high(3) > medium(2) > low(1). Desconhecido conta como low.
func (s Severity) Priority() int {
	if p, ok := severityPriority[s]; ok {
		return p
	}
	return 1
}

// MaxSeverity retorna a severidade de maior prioridade entre as violações.
func MaxSeverity(vs []Violation) Severity {
	best := SeverityLow
	for _, v := range vs {
		if v.Severity.Priority() > best.Priority() {
			best = v.Severity
		}
	}
	return best
}

// penalidade por violação no safety score
var severityPenalty = map[Severity]float64{
	SeverityCritical: 25,
	SeverityHigh:     15,
	SeverityMedium:   10,
	SeverityLow:      5,
}

func (s Severity) Penalty() float64 {
	if p, ok := severityPenalty[s]; ok {
		return p
	}
	return severityPenalty[SeverityLow]
}

// SafetyScore começa em 100 e desconta por violação, com piso em 0.
func SafetyScore(dets []Detection) float64 {
	score := 100.0
	for _, d := range dets {
		if !d.IsViolation {
			continue
		}
		score -= d.Severity.Penalty()
	}
	if score < 0 {
		return 0
	}
	return score
}
