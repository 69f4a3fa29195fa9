package core

import "strings"

// Classes que o modelo de segurança conhece.
var DetectionClasses = []string{
	"person",
	"hardhat",
	"no_hardhat",
	"safety_vest",
	"no_safety_vest",
	"safety_glasses",
	"no_safety_glasses",
	"gloves",
	"no_gloves",
	"safety_boots",
	"vehicle",
	"forklift",
}

const (
	ClassPerson              = "person"
	ClassExclusionZoneBreach = "exclusion_zone_breach"
)

// ViolationCatalog mapeia classe -> severidade quando a classe é violação.
var ViolationCatalog = map[string]Severity{
	"no_hardhat":              SeverityHigh,
	"no_safety_vest":          SeverityMedium,
	"no_safety_glasses":       SeverityMedium,
	"no_gloves":               SeverityLow,
	"no_safety_boots":         SeverityLow,
	ClassExclusionZoneBreach: SeverityCritical,
}

// Classify devolve (is_violation, severity) para uma classe.
func Classify(class string) (bool, Severity) {
	sev, ok := ViolationCatalog[strings.ToLower(strings.TrimSpace(class))]
	if !ok {
		return false, SeverityLow
	}
	return true, sev
}
