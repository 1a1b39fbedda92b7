package forecast

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Compute is the deterministic ROI scorer. It is a pure function of its
// arguments: identical inputs produce bit-identical results.
//
// Sub-scores are rounded to one decimal before they are combined, so the
// published breakdown reproduces roiScore by hand:
//
//	roi = wV*V + wR*R + wE*E + wF*(100-F) + wK*(100-K)
func Compute(f Feature, evidenceStrength float64, evidenceCount int, cfg ScoringConfig) (ScoreResult, error) {
	if f.EffortDays <= 0 {
		return ScoreResult{}, invalidState("effortDays must be > 0, got %d", f.EffortDays)
	}
	if !f.Type.Valid() {
		return ScoreResult{}, invalidState("unknown feature type %q", f.Type)
	}
	profile, ok := cfg.ProfileFor(f.Type)
	if !ok {
		return ScoreResult{}, invalidState("no scoring profile for feature type %q", f.Type)
	}
	if math.IsNaN(evidenceStrength) || evidenceStrength < 0 || evidenceStrength > 1 {
		return ScoreResult{}, invalidInput("evidence strength must be in [0,1], got %v", evidenceStrength)
	}
	if evidenceCount < 0 {
		return ScoreResult{}, invalidInput("evidence count must be >= 0")
	}
	if err := checkBaseline(f.Baseline); err != nil {
		return ScoreResult{}, err
	}

	value := valuePotential(f, profile, cfg)
	reach := reachScore(f.Baseline, cfg)
	evidence := round1(100 * evidenceStrength)
	effort := effortPenalty(f.EffortDays, cfg)
	risk := riskPenalty(f, profile, evidenceStrength, cfg)

	w := cfg.Weights
	roi := floats.Dot(
		[]float64{w.ValuePotential, w.Reach, w.EvidenceStrength, w.EffortPenalty, w.RiskPenalty},
		[]float64{value, reach, evidence, 100 - effort, 100 - risk},
	)
	completeness := metricCompleteness(f)

	return ScoreResult{
		ROIScore: round1(clamp(roi, 0, 100)),
		Breakdown: ScoreBreakdown{
			ValuePotential:   value,
			Reach:            reach,
			EvidenceStrength: evidence,
			EffortPenalty:    effort,
			RiskPenalty:      risk,
			Weights:          w,
		},
		Confidence:    confidenceFor(evidenceCount, completeness, cfg),
		Completeness:  completeness,
		EvidenceCount: evidenceCount,
		ConfigVersion: cfg.Version,
	}, nil
}

func checkBaseline(b *BaselineMetrics) error {
	if b == nil {
		return nil
	}
	for _, m := range b.metrics() {
		if m.v == nil {
			continue
		}
		if math.IsNaN(*m.v) || math.IsInf(*m.v, 0) || *m.v < 0 {
			return invalidState("baseline %s must be a finite non-negative number", m.name)
		}
		if m.percent && *m.v > 100 {
			return invalidState("baseline %s is a percentage, got %v", m.name, *m.v)
		}
	}
	return nil
}

// monthlyValue estimates the monthly currency value the feature could unlock.
// ok is false when a metric the feature type depends on is missing.
func monthlyValue(f Feature, p TypeProfile, cfg ScoringConfig) (float64, bool) {
	b := f.Baseline
	if b == nil {
		return 0, false
	}
	switch f.Type {
	case TypeMonetization, TypeAcquisition:
		if b.ARPA == nil || b.MonthlyActiveAccounts == nil {
			return 0, false
		}
		return *b.ARPA * *b.MonthlyActiveAccounts * p.Lift, true
	case TypeActivation:
		if b.ARPA == nil || b.MonthlyActiveAccounts == nil || b.TrialToPaid == nil {
			return 0, false
		}
		return *b.MonthlyActiveAccounts * (*b.TrialToPaid / 100) * p.Lift * *b.ARPA, true
	case TypeRetention:
		if b.ARPA == nil || b.MonthlyActiveAccounts == nil || b.ChurnMonthly == nil {
			return 0, false
		}
		return *b.MonthlyActiveAccounts * (*b.ChurnMonthly / 100) * p.Lift * *b.ARPA, true
	case TypeSupportCost:
		if b.SupportTicketsMonthly == nil {
			return 0, false
		}
		return *b.SupportTicketsMonthly * p.Lift * cfg.SupportCostPerTicket, true
	}
	return 0, false
}

func valuePotential(f Feature, p TypeProfile, cfg ScoringConfig) float64 {
	v, ok := monthlyValue(f, p, cfg)
	if !ok {
		return round1(clamp(p.NeutralValue, 0, 100))
	}
	return round1(clamp(100*(1-math.Exp(-v/cfg.ValueScaleMonthly)), 0, 100))
}

func reachScore(b *BaselineMetrics, cfg ScoringConfig) float64 {
	accounts := cfg.DefaultReachAccounts
	if b != nil && b.MonthlyActiveAccounts != nil {
		accounts = *b.MonthlyActiveAccounts
	}
	return round1(clamp(100*math.Log1p(accounts)/math.Log1p(cfg.ReachSaturationAccounts), 0, 100))
}

// effortPenalty rises strictly with effort and approaches MaxEffortPenalty, so
// effort alone removes at most the effort weight from the score.
func effortPenalty(days int, cfg ScoringConfig) float64 {
	d := float64(days)
	return round1(clamp(cfg.MaxEffortPenalty*d/(d+cfg.EffortHalfSaturationDays), 0, 100))
}

func riskPenalty(f Feature, p TypeProfile, evidenceStrength float64, cfg ScoringConfig) float64 {
	risk := p.BaseRisk
	if hasText(f.Constraints) {
		risk -= cfg.ConstraintsRelief
	}
	risk -= cfg.EvidenceRelief * evidenceStrength
	return round1(clamp(risk, 0, 100))
}

// requiredMetrics lists the baseline metrics a feature type's estimate uses,
// including monthly active accounts for reach.
func requiredMetrics(f Feature) []*float64 {
	b := f.Baseline
	if b == nil {
		b = &BaselineMetrics{}
	}
	switch f.Type {
	case TypeActivation:
		return []*float64{b.ARPA, b.MonthlyActiveAccounts, b.TrialToPaid}
	case TypeRetention:
		return []*float64{b.ARPA, b.MonthlyActiveAccounts, b.ChurnMonthly}
	case TypeSupportCost:
		return []*float64{b.SupportTicketsMonthly, b.MonthlyActiveAccounts}
	default:
		return []*float64{b.ARPA, b.MonthlyActiveAccounts}
	}
}

func metricCompleteness(f Feature) float64 {
	req := requiredMetrics(f)
	present := 0
	for _, m := range req {
		if m != nil {
			present++
		}
	}
	return float64(present) / float64(len(req))
}

func confidenceFor(evidenceCount int, completeness float64, cfg ScoringConfig) Confidence {
	if evidenceCount < cfg.MinEvidenceForMedium || completeness < cfg.MinCompletenessForMedium {
		return ConfidenceLow
	}
	if evidenceCount >= cfg.MinEvidenceForHigh && completeness >= cfg.MinCompletenessForHigh {
		return ConfidenceHigh
	}
	return ConfidenceMedium
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
