package riskengine

import (
	"errors"

	"gopkg.in/yaml.v3"
)

// Level is the derived risk classification of a borrower.
type Level string

const (
	LevelTrusted  Level = "TRUSTED"
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

var levelSeverity = map[Level]int{
	LevelTrusted:  0,
	LevelLow:      1,
	LevelMedium:   2,
	LevelHigh:     3,
	LevelCritical: 4,
}

// Severity returns the numeric severity of the level, higher is riskier.
func (l Level) Severity() int {
	return levelSeverity[l]
}

// AtLeast returns the riskier of the two levels.
func (l Level) AtLeast(floor Level) Level {
	if floor.Severity() > l.Severity() {
		return floor
	}

	return l
}

var (
	// ErrInvalidPolicy is returned when a policy table fails validation.
	ErrInvalidPolicy = errors.New("risk policy is not valid")

	// ErrInvalidPolicyYAML is returned when a policy document cannot be parsed.
	ErrInvalidPolicyYAML = errors.New("risk policy yaml is not valid")
)

// Policy is the weighting table turning a borrower's history into a risk
// score. It is configuration, not law: deployments tune the weights, and
// tests exercise the scoring with explicit tables.
//
// The score is
//
//	defaults*DefaultWeight + defaultedValue/1000*DefaultValueWeight +
//	overdueReturns*OverdueWeight - cleanReturns*ReturnCredit
//
// mapped through the thresholds below. Two fixed rules sit on top of the
// table: any default floors the level at HIGH, and a clean history of at
// least TrustedCleanReturns returns with a non-positive score is TRUSTED.
type Policy struct {
	DefaultWeight      int `yaml:"defaultWeight"`
	DefaultValueWeight int `yaml:"defaultValueWeight"`
	OverdueWeight      int `yaml:"overdueWeight"`
	ReturnCredit       int `yaml:"returnCredit"`

	TrustedCleanReturns int `yaml:"trustedCleanReturns"`

	LowThreshold      int `yaml:"lowThreshold"`
	MediumThreshold   int `yaml:"mediumThreshold"`
	HighThreshold     int `yaml:"highThreshold"`
	CriticalThreshold int `yaml:"criticalThreshold"`
}

// DefaultPolicy returns the reference weighting table.
func DefaultPolicy() Policy {
	return Policy{
		DefaultWeight:       50,
		DefaultValueWeight:  1,
		OverdueWeight:       10,
		ReturnCredit:        5,
		TrustedCleanReturns: 5,
		LowThreshold:        1,
		MediumThreshold:     20,
		HighThreshold:       50,
		CriticalThreshold:   150,
	}
}

// Validate checks that the thresholds are strictly increasing and the
// trusted-returns requirement is positive.
func (p Policy) Validate() error {
	if p.TrustedCleanReturns <= 0 {
		return ErrInvalidPolicy
	}

	if p.LowThreshold >= p.MediumThreshold ||
		p.MediumThreshold >= p.HighThreshold ||
		p.HighThreshold >= p.CriticalThreshold {
		return ErrInvalidPolicy
	}

	return nil
}

// PolicyFromYAML parses and validates a policy document. Omitted fields keep
// the default table's values, so a document may override selectively.
func PolicyFromYAML(data []byte) (Policy, error) {
	policy := DefaultPolicy()

	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, errors.Join(ErrInvalidPolicyYAML, err)
	}

	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}

	return policy, nil
}

// levelFor maps a score onto a level, before the fixed floor rules.
func (p Policy) levelFor(score int, cleanReturns int) Level {
	switch {
	case score >= p.CriticalThreshold:
		return LevelCritical
	case score >= p.HighThreshold:
		return LevelHigh
	case score >= p.MediumThreshold:
		return LevelMedium
	case score >= p.LowThreshold:
		return LevelLow
	case cleanReturns >= p.TrustedCleanReturns:
		return LevelTrusted
	default:
		// Unknown borrowers with no track record are LOW, not TRUSTED.
		return LevelLow
	}
}
