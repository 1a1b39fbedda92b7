package forecast

import (
	"math"
	"strings"
)

const (
	MaxTitleChars    = 200
	MaxTextChars     = 8000
	MaxPricingPlans  = 20
	MaxEffortDays    = 3650
	MaxEvidenceInput = 20000
)

// ValidateFeature is the feature-creation check. It returns an error matching
// ErrInvalidInput, so bad features never reach the scorer.
func ValidateFeature(f Feature) error {
	if strings.TrimSpace(f.OrgID) == "" {
		return invalidInput("orgId is required")
	}
	if t := strings.TrimSpace(f.Title); t == "" || len(t) > MaxTitleChars {
		return invalidInput("title is required and must be at most %d characters", MaxTitleChars)
	}
	if !f.Type.Valid() {
		return invalidInput("type must be one of acquisition|activation|retention|monetization|support_cost")
	}
	if !hasText(f.Problem) || len(f.Problem) > MaxTextChars {
		return invalidInput("problem is required and must be at most %d characters", MaxTextChars)
	}
	if !hasText(f.TargetUsers) || len(f.TargetUsers) > MaxTextChars {
		return invalidInput("targetUsers is required and must be at most %d characters", MaxTextChars)
	}
	if f.EffortDays <= 0 || f.EffortDays > MaxEffortDays {
		return invalidInput("effortDays must be between 1 and %d", MaxEffortDays)
	}
	if len(f.Constraints) > MaxTextChars {
		return invalidInput("constraints must be at most %d characters", MaxTextChars)
	}
	if len(f.PricingPlans) > MaxPricingPlans {
		return invalidInput("at most %d pricing plans", MaxPricingPlans)
	}
	for _, p := range f.PricingPlans {
		if !hasText(p) {
			return invalidInput("pricing plan names must not be empty")
		}
	}
	if b := f.Baseline; b != nil {
		for _, m := range b.metrics() {
			if m.v != nil && (math.IsNaN(*m.v) || math.IsInf(*m.v, 0) || *m.v < 0) {
				return invalidInput("baseline.%s must be a non-negative number", m.name)
			}
		}
		if pct(b.TrialToPaid) || pct(b.ChurnMonthly) {
			return invalidInput("baseline trialToPaid and churnMonthly are percentages between 0 and 100")
		}
	}
	return nil
}

func pct(v *float64) bool { return v != nil && *v > 100 }

type baselineMetric struct {
	name    string
	v       *float64
	percent bool
}

// metrics lists the baseline fields in a fixed order.
func (b *BaselineMetrics) metrics() []baselineMetric {
	return []baselineMetric{
		{"arpa", b.ARPA, false},
		{"monthlyActiveAccounts", b.MonthlyActiveAccounts, false},
		{"trialToPaid", b.TrialToPaid, true},
		{"churnMonthly", b.ChurnMonthly, true},
		{"supportTicketsMonthly", b.SupportTicketsMonthly, false},
	}
}

// NormalizeFeature trims free text and drops empty baseline blocks.
func NormalizeFeature(f Feature) Feature {
	f.OrgID = strings.TrimSpace(f.OrgID)
	f.Title = strings.TrimSpace(f.Title)
	f.Type = FeatureType(strings.ToLower(strings.TrimSpace(string(f.Type))))
	f.Problem = strings.TrimSpace(f.Problem)
	f.TargetUsers = strings.TrimSpace(f.TargetUsers)
	f.Constraints = strings.TrimSpace(f.Constraints)
	var plans []string
	for _, p := range f.PricingPlans {
		plans = append(plans, strings.TrimSpace(p))
	}
	f.PricingPlans = plans
	if b := f.Baseline; b != nil && b.ARPA == nil && b.MonthlyActiveAccounts == nil &&
		b.TrialToPaid == nil && b.ChurnMonthly == nil && b.SupportTicketsMonthly == nil {
		f.Baseline = nil
	}
	return f
}

func ValidateEvidence(e Evidence) error {
	if strings.TrimSpace(e.FeatureID) == "" {
		return invalidInput("featureId is required")
	}
	if !e.SourceType.Valid() {
		return invalidInput("sourceType must be one of ticket|sales_call|email|analytics|other")
	}
	if !hasText(e.Content) {
		return invalidInput("content is required")
	}
	if len(e.Content) > MaxEvidenceInput {
		return invalidInput("content must be at most %d characters", MaxEvidenceInput)
	}
	if len(e.Link) > 2048 {
		return invalidInput("link is too long")
	}
	return nil
}
