package forecast

import (
	"fmt"
	"math"
)

// TypeProfile carries the per-feature-type defaults used by the scorer.
type TypeProfile struct {
	Type FeatureType `yaml:"type"`
	// Lift is the assumed relative improvement applied to the type's driver
	// metric (conversion uplift, churn reduction, ticket deflection...).
	Lift float64 `yaml:"lift"`
	// NeutralValue is the valuePotential used when the required metrics are missing.
	NeutralValue float64 `yaml:"neutral_value"`
	BaseRisk     float64 `yaml:"base_risk"`
}

// ScoringConfig is the complete, versioned parameter set of the scorer and the
// evidence aggregator. Scores are reproducible from (inputs, Version).
type ScoringConfig struct {
	Version string `yaml:"version"`

	Weights       ScoreWeights                `yaml:"weights"`
	SourceWeights map[SourceType]float64      `yaml:"source_weights"`
	Profiles      map[FeatureType]TypeProfile `yaml:"profiles"`

	MinEvidenceChars   int     `yaml:"min_evidence_chars"`
	EvidenceSaturation float64 `yaml:"evidence_saturation"`

	ValueScaleMonthly    float64 `yaml:"value_scale_monthly"`
	SupportCostPerTicket float64 `yaml:"support_cost_per_ticket"`

	ReachSaturationAccounts float64 `yaml:"reach_saturation_accounts"`
	DefaultReachAccounts    float64 `yaml:"default_reach_accounts"`

	MaxEffortPenalty         float64 `yaml:"max_effort_penalty"`
	EffortHalfSaturationDays float64 `yaml:"effort_half_saturation_days"`

	ConstraintsRelief float64 `yaml:"constraints_relief"`
	EvidenceRelief    float64 `yaml:"evidence_relief"`

	MinEvidenceForMedium     int     `yaml:"min_evidence_for_medium"`
	MinEvidenceForHigh       int     `yaml:"min_evidence_for_high"`
	MinCompletenessForMedium float64 `yaml:"min_completeness_for_medium"`
	MinCompletenessForHigh   float64 `yaml:"min_completeness_for_high"`
}

const weightSumTolerance = 1e-9

func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Version: "scoring/2026-10-v1",
		Weights: ScoreWeights{
			ValuePotential:   0.35,
			Reach:            0.15,
			EvidenceStrength: 0.20,
			EffortPenalty:    0.15,
			RiskPenalty:      0.15,
		},
		SourceWeights: map[SourceType]float64{
			SourceAnalytics: 1.0,
			SourceSalesCall: 0.8,
			SourceTicket:    0.6,
			SourceEmail:     0.4,
			SourceOther:     0.25,
		},
		Profiles: map[FeatureType]TypeProfile{
			TypeAcquisition:  {Type: TypeAcquisition, Lift: 0.03, NeutralValue: 40, BaseRisk: 50},
			TypeActivation:   {Type: TypeActivation, Lift: 0.10, NeutralValue: 40, BaseRisk: 40},
			TypeRetention:    {Type: TypeRetention, Lift: 0.20, NeutralValue: 40, BaseRisk: 45},
			TypeMonetization: {Type: TypeMonetization, Lift: 0.05, NeutralValue: 40, BaseRisk: 55},
			TypeSupportCost:  {Type: TypeSupportCost, Lift: 0.20, NeutralValue: 35, BaseRisk: 30},
		},
		MinEvidenceChars:         40,
		EvidenceSaturation:       3.0,
		ValueScaleMonthly:        5000,
		SupportCostPerTicket:     15,
		ReachSaturationAccounts:  100000,
		DefaultReachAccounts:     500,
		MaxEffortPenalty:         100,
		EffortHalfSaturationDays: 30,
		ConstraintsRelief:        15,
		EvidenceRelief:           25,
		MinEvidenceForMedium:     1,
		MinEvidenceForHigh:       5,
		MinCompletenessForMedium: 0.5,
		MinCompletenessForHigh:   1.0,
	}
}

// Validate rejects configurations the scorer cannot honor.
func (c ScoringConfig) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("scoring config version is required")
	}
	w := c.Weights
	for _, nv := range []struct {
		name string
		v    float64
	}{
		{"value_potential", w.ValuePotential},
		{"reach", w.Reach},
		{"evidence_strength", w.EvidenceStrength},
		{"effort_penalty", w.EffortPenalty},
		{"risk_penalty", w.RiskPenalty},
	} {
		if nv.v < 0 || nv.v > 1 {
			return fmt.Errorf("weight %s out of range: %v", nv.name, nv.v)
		}
	}
	if sum := w.ValuePotential + w.Reach + w.EvidenceStrength + w.EffortPenalty + w.RiskPenalty; math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("weights must sum to 1.0, got %v", sum)
	}
	for _, t := range FeatureTypes {
		p, ok := c.Profiles[t]
		if !ok {
			return fmt.Errorf("missing profile for feature type %q", t)
		}
		if p.Type != t {
			return fmt.Errorf("profile %q declares type %q", t, p.Type)
		}
		if p.Lift < 0 || math.IsNaN(p.Lift) || math.IsInf(p.Lift, 0) {
			return fmt.Errorf("profile %s: lift must be a finite number >= 0", t)
		}
		if !in0to100(p.NeutralValue) || !in0to100(p.BaseRisk) {
			return fmt.Errorf("profile %s: neutral_value and base_risk must be within [0,100]", t)
		}
	}
	for t := range c.Profiles {
		if !t.Valid() {
			return fmt.Errorf("unknown feature type %q in profiles", t)
		}
	}
	for src, v := range c.SourceWeights {
		if !src.Valid() {
			return fmt.Errorf("unknown evidence source %q", src)
		}
		if v < 0 {
			return fmt.Errorf("source weight %s must be >= 0", src)
		}
	}
	if c.MinEvidenceChars <= 0 || c.EvidenceSaturation <= 0 || c.ValueScaleMonthly <= 0 {
		return fmt.Errorf("evidence and value scales must be positive")
	}
	if c.ReachSaturationAccounts <= 0 || c.DefaultReachAccounts < 0 {
		return fmt.Errorf("reach saturation must be positive")
	}
	if c.MaxEffortPenalty < 0 || c.MaxEffortPenalty > 100 || c.EffortHalfSaturationDays <= 0 {
		return fmt.Errorf("effort penalty parameters out of range")
	}
	if c.MinEvidenceForHigh < c.MinEvidenceForMedium || c.MinCompletenessForHigh < c.MinCompletenessForMedium {
		return fmt.Errorf("confidence thresholds must be ordered")
	}
	return nil
}

func in0to100(v float64) bool { return v >= 0 && v <= 100 }

// ProfileFor returns the profile for t. ok is false for unknown types.
func (c ScoringConfig) ProfileFor(t FeatureType) (TypeProfile, bool) {
	p, ok := c.Profiles[t]
	return p, ok
}
