package forecast

import (
	"testing"
	"time"
)

func sampleForecast(t *testing.T) (Feature, Forecast) {
	t.Helper()
	f := monetizationFeature()
	f.Constraints = "No changes to invoices"
	score := mustCompute(t, f, analyticsEvidence(f.ID, 2))
	content, v := ParseContent(contentJSON(nil), HigherIsBetter)
	if len(v) != 0 {
		t.Fatalf("fixture content invalid: %v", v)
	}
	fc := Assemble(f.ID, score, content, GenerationRun{SchemaAttempts: 2, TransportAttempts: 3},
		AssemblyMeta{Direction: HigherIsBetter, PromptVersion: PromptVersion, Model: "m", Tag: "t"},
		time.Date(2026, 10, 18, 9, 30, 0, 0, time.FixedZone("X", 3600)))
	fc.ID = "fc-1"
	fc.Version = 3
	return f, fc
}

func TestBuildMarkdown(t *testing.T) {
	f, fc := sampleForecast(t)
	md := BuildMarkdown(f, fc)
	if !containsAll(md,
		"# ROI Forecast: Annual billing discount",
		"- Forecast: v3 (fc-1)",
		"- Created: 2026-10-18T08:30:00Z",
		"## ROI Score",
		"| Effort penalty |",
		"- Constraints: No changes to invoices",
		"- ARPA: 50/month",
		"| Mid | 1500 | USD MRR |",
		"| Customers value discounts | 70% |",
		"| Cannibalization | medium | low |",
		"**Manual annual invoices**",
		"### 1. Fake door",
		"1. Add annual toggle",
		"#### Recommendation",
		Disclaimer,
	) {
		t.Fatalf("markdown missing sections:\n%s", md)
	}
	if md != BuildMarkdown(f, fc) {
		t.Fatal("markdown must be deterministic")
	}
}

func TestSanitizeCellEscapesPipes(t *testing.T) {
	if got := sanitizeCell("a|b\nc"); got != `a\|b c` {
		t.Fatalf("unexpected: %q", got)
	}
}
