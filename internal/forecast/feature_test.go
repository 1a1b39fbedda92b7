package forecast

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestValidateFeature(t *testing.T) {
	ok := monetizationFeature()
	if err := ValidateFeature(ok); err != nil {
		t.Fatalf("valid feature rejected: %v", err)
	}
	cases := map[string]func(*Feature){
		"no org":        func(f *Feature) { f.OrgID = "" },
		"no title":      func(f *Feature) { f.Title = "  " },
		"bad type":      func(f *Feature) { f.Type = "growth" },
		"zero effort":   func(f *Feature) { f.EffortDays = 0 },
		"no problem":    func(f *Feature) { f.Problem = "" },
		"negative arpa": func(f *Feature) { f.Baseline.ARPA = ptr(-3) },
		"churn > 100":   func(f *Feature) { f.Baseline.ChurnMonthly = ptr(140) },
		"blank plan":    func(f *Feature) { f.PricingPlans = []string{"Pro", " "} },
	}
	for name, mutate := range cases {
		f := monetizationFeature()
		mutate(&f)
		if err := ValidateFeature(f); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
}

func TestNormalizeFeature(t *testing.T) {
	f := monetizationFeature()
	f.Title = "  Spaced  "
	f.Type = " Monetization "
	f.Baseline = &BaselineMetrics{}
	got := NormalizeFeature(f)
	if got.Title != "Spaced" || got.Type != TypeMonetization || got.Baseline != nil {
		t.Fatalf("unexpected normalization: %+v", got)
	}
}

func TestValidateEvidence(t *testing.T) {
	e := Evidence{FeatureID: "f", SourceType: SourceTicket, Content: "Exports fail"}
	if err := ValidateEvidence(e); err != nil {
		t.Fatalf("valid evidence rejected: %v", err)
	}
	e.SourceType = "fax"
	if err := ValidateEvidence(e); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	e.SourceType = SourceTicket
	e.Content = strings.Repeat(" ", 3)
	if err := ValidateEvidence(e); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank content, got %v", err)
	}
}

func TestValidateFeatureReportsMetricsInOrder(t *testing.T) {
	f := monetizationFeature()
	f.Baseline.MonthlyActiveAccounts = ptr(-5)
	f.Baseline.SupportTicketsMonthly = ptr(math.NaN())
	for i := 0; i < 20; i++ {
		err := ValidateFeature(f)
		if err == nil || !strings.Contains(err.Error(), "baseline.monthlyActiveAccounts") {
			t.Fatalf("expected monthlyActiveAccounts to be reported first, got %v", err)
		}
	}
}
