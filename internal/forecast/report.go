package forecast

import (
	"fmt"
	"strings"
	"time"
)

// BuildMarkdown renders a forecast as a standalone Markdown report. The output
// depends only on its arguments.
func BuildMarkdown(feature Feature, fc Forecast) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# ROI Forecast: %s\n\n", sanitize(feature.Title))
	fmt.Fprintf(&b, "- Feature ID: %s\n", feature.ID)
	fmt.Fprintf(&b, "- Type: `%s`\n", feature.Type)
	fmt.Fprintf(&b, "- Forecast: v%d (%s)\n", fc.Version, fc.ID)
	fmt.Fprintf(&b, "- Created: %s\n", fc.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Scoring config: `%s`, prompt: `%s`\n\n", fc.ScoringConfigVersion, fc.PromptVersion)
	fmt.Fprintf(&b, "%s\n\n", Disclaimer)

	fmt.Fprintf(&b, "## ROI Score\n\n")
	fmt.Fprintf(&b, "**%.1f / 100** (confidence: `%s`)\n\n", fc.ROIScore, fc.Confidence)
	fmt.Fprintf(&b, "The score is a weighted sum of five sub-scores on a 0-100 scale. Penalties count as (100 - penalty).\n\n")
	fmt.Fprintf(&b, "| Factor | Sub-score | Weight | Contribution |\n")
	fmt.Fprintf(&b, "|--------|-----------|--------|--------------|\n")
	bd, w := fc.Breakdown, fc.Breakdown.Weights
	writeFactorRow(&b, "Value potential", bd.ValuePotential, w.ValuePotential, bd.ValuePotential)
	writeFactorRow(&b, "Reach", bd.Reach, w.Reach, bd.Reach)
	writeFactorRow(&b, "Evidence strength", bd.EvidenceStrength, w.EvidenceStrength, bd.EvidenceStrength)
	writeFactorRow(&b, "Effort penalty", bd.EffortPenalty, w.EffortPenalty, 100-bd.EffortPenalty)
	writeFactorRow(&b, "Risk penalty", bd.RiskPenalty, w.RiskPenalty, 100-bd.RiskPenalty)
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Feature\n\n")
	fmt.Fprintf(&b, "- Problem: %s\n", sanitize(feature.Problem))
	fmt.Fprintf(&b, "- Target users: %s\n", sanitize(feature.TargetUsers))
	fmt.Fprintf(&b, "- Effort: %d day(s)\n", feature.EffortDays)
	if hasText(feature.Constraints) {
		fmt.Fprintf(&b, "- Constraints: %s\n", sanitize(feature.Constraints))
	}
	if len(feature.PricingPlans) > 0 {
		fmt.Fprintf(&b, "- Pricing plans: %s\n", sanitize(strings.Join(feature.PricingPlans, ", ")))
	}
	writeBaseline(&b, feature.Baseline)
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Expected Impact\n\n")
	if fc.ImpactDirection == LowerIsBetter {
		fmt.Fprintf(&b, "Lower values are better for this metric.\n\n")
	}
	fmt.Fprintf(&b, "| Case | Value | Unit | Explanation |\n")
	fmt.Fprintf(&b, "|------|-------|------|-------------|\n")
	for _, row := range []struct {
		name string
		est  ImpactEstimate
	}{{"Low", fc.ImpactLow}, {"Mid", fc.ImpactMid}, {"High", fc.ImpactHigh}} {
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", row.name, formatNumber(row.est.Value), sanitizeCell(row.est.Unit), sanitizeCell(row.est.Explanation))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Assumptions\n\n")
	fmt.Fprintf(&b, "| Assumption | Probability | Rationale | How to validate |\n")
	fmt.Fprintf(&b, "|------------|-------------|-----------|-----------------|\n")
	for _, a := range fc.Assumptions {
		fmt.Fprintf(&b, "| %s | %.0f%% | %s | %s |\n", sanitizeCell(a.Assumption), a.Probability*100, sanitizeCell(a.Rationale), sanitizeCell(a.Validation))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Risks\n\n")
	fmt.Fprintf(&b, "| Risk | Severity | Likelihood | Mitigation |\n")
	fmt.Fprintf(&b, "|------|----------|------------|------------|\n")
	for _, r := range fc.Risks {
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", sanitizeCell(r.Risk), r.Severity, r.Likelihood, sanitizeCell(r.Mitigation))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Cheaper Alternatives\n\n")
	for _, a := range fc.Alternatives {
		fmt.Fprintf(&b, "- **%s**: %s Tradeoff: %s\n", sanitize(a.Alternative), sanitize(a.WhyCheaper), sanitize(a.Tradeoff))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Validation Plan\n\n")
	for i, s := range fc.ValidationPlan {
		fmt.Fprintf(&b, "### %d. %s\n\n", i+1, sanitize(s.Experiment))
		for j, st := range s.Steps {
			fmt.Fprintf(&b, "%d. %s\n", j+1, sanitize(st))
		}
		fmt.Fprintf(&b, "\n- Time: %s\n- Cost: %s\n- Success threshold: %s\n\n", sanitize(s.TimeCost), sanitize(s.MoneyCost), sanitize(s.SuccessThreshold))
	}

	fmt.Fprintf(&b, "## Decision Memo\n\n")
	fmt.Fprintf(&b, "%s\n", demoteHeadings(strings.TrimSpace(fc.DecisionMemo)))
	return b.String()
}

func writeFactorRow(b *strings.Builder, name string, sub, weight, effective float64) {
	fmt.Fprintf(b, "| %s | %.1f | %.2f | %.1f |\n", name, sub, weight, weight*effective)
}

func writeBaseline(b *strings.Builder, m *BaselineMetrics) {
	if m == nil {
		fmt.Fprintf(b, "- Baseline metrics: none provided\n")
		return
	}
	for _, row := range []struct {
		name string
		v    *float64
		unit string
	}{
		{"ARPA", m.ARPA, "/month"},
		{"Monthly active accounts", m.MonthlyActiveAccounts, ""},
		{"Trial to paid", m.TrialToPaid, "%"},
		{"Monthly churn", m.ChurnMonthly, "%"},
		{"Support tickets per month", m.SupportTicketsMonthly, ""},
	} {
		if row.v == nil {
			continue
		}
		fmt.Fprintf(b, "- %s: %s%s\n", row.name, formatNumber(*row.v), row.unit)
	}
}

// demoteHeadings pushes memo headings below the report's own sections.
func demoteHeadings(md string) string {
	lines := strings.Split(md, "\n")
	for i, l := range lines {
		if strings.HasPrefix(l, "#") && strings.HasPrefix(strings.TrimLeft(l, "#"), " ") {
			lines[i] = "##" + l
		}
	}
	return strings.Join(lines, "\n")
}

func formatNumber(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}

func sanitize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
}

func sanitizeCell(s string) string {
	return strings.ReplaceAll(sanitize(s), "|", "\\|")
}
