// Package labels defines the two classification taxonomies used across the
// service: attack category (threat type) and impact level (severity).
// Label order is significant - it fixes the index of each class in the
// model's logit vectors and in saved head weights. Never reorder.
package labels

import "fmt"

// ThreatType is the predicted attack category.
type ThreatType string

const (
	ThreatNormal          ThreatType = "normal"
	ThreatDataPoisoning   ThreatType = "data_poisoning"
	ThreatPromptInjection ThreatType = "prompt_injection"
	ThreatModelInversion  ThreatType = "model_inversion"
)

// Severity is the predicted impact level. The taxonomy is independent of
// threat type - a "normal" sample still gets a severity prediction.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ThreatTypes lists all threat classes in logit-index order.
var ThreatTypes = []ThreatType{
	ThreatNormal,
	ThreatDataPoisoning,
	ThreatPromptInjection,
	ThreatModelInversion,
}

// Severities lists all severity classes in logit-index order.
var Severities = []Severity{
	SeverityLow,
	SeverityMedium,
	SeverityHigh,
	SeverityCritical,
}

// NumThreatTypes and NumSeverities are the output widths of the two
// classification heads.
const (
	NumThreatTypes = 4
	NumSeverities  = 4
)

var threatIndex = map[ThreatType]int{}
var severityIndex = map[Severity]int{}

func init() {
	for i, t := range ThreatTypes {
		threatIndex[t] = i
	}
	for i, s := range Severities {
		severityIndex[s] = i
	}
}

// ThreatAt returns the threat label for a logit index.
func ThreatAt(i int) ThreatType {
	return ThreatTypes[i]
}

// SeverityAt returns the severity label for a logit index.
func SeverityAt(i int) Severity {
	return Severities[i]
}

// ParseThreat resolves a threat label name to its logit index.
func ParseThreat(name string) (int, error) {
	if i, ok := threatIndex[ThreatType(name)]; ok {
		return i, nil
	}
	return 0, fmt.Errorf("labels: unknown threat type %q", name)
}

// ParseSeverity resolves a severity label name to its logit index.
func ParseSeverity(name string) (int, error) {
	if i, ok := severityIndex[Severity(name)]; ok {
		return i, nil
	}
	return 0, fmt.Errorf("labels: unknown severity %q", name)
}

// Describe returns a short human description for a threat class.
// Used by the CLI and the models listing.
func (t ThreatType) Describe() string {
	switch t {
	case ThreatNormal:
		return "Benign input, no attack indicators"
	case ThreatDataPoisoning:
		return "Attempt to corrupt training or reference data"
	case ThreatPromptInjection:
		return "Attempt to override or hijack model instructions"
	case ThreatModelInversion:
		return "Attempt to extract training data or model internals"
	default:
		return "Unknown"
	}
}
