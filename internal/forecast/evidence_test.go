package forecast

import (
	"math/rand"
	"strings"
	"testing"
)

func TestAggregateEvidenceEmptyIsZero(t *testing.T) {
	cfg := DefaultScoringConfig()
	if got := AggregateEvidence(nil, cfg); got != 0 {
		t.Fatalf("expected exactly 0 for no evidence, got %v", got)
	}
	blank := []Evidence{{ID: "a", SourceType: SourceAnalytics, Content: "   "}}
	if got := AggregateEvidence(blank, cfg); got != 0 {
		t.Fatalf("expected blank content to contribute 0, got %v", got)
	}
}

func TestAggregateEvidenceMonotonicSameSource(t *testing.T) {
	cfg := DefaultScoringConfig()
	for _, src := range []SourceType{SourceTicket, SourceSalesCall, SourceEmail, SourceAnalytics, SourceOther} {
		var items []Evidence
		prev := 0.0
		for i := 0; i < 30; i++ {
			items = append(items, Evidence{ID: string(rune('a' + i)), SourceType: src, Content: strings.Repeat("x", 10+i*7)})
			got := AggregateEvidence(items, cfg)
			if got < prev {
				t.Fatalf("%s: signal decreased at %d items: %v < %v", src, i+1, got, prev)
			}
			if got < 0 || got >= 1 {
				t.Fatalf("%s: signal out of range: %v", src, got)
			}
			prev = got
		}
	}
}

func TestAggregateEvidenceDiminishingReturns(t *testing.T) {
	cfg := DefaultScoringConfig()
	five := AggregateEvidence(analyticsEvidence("f", 5), cfg)
	twenty := AggregateEvidence(analyticsEvidence("f", 20), cfg)
	one := AggregateEvidence(analyticsEvidence("f", 1), cfg)
	if !(one < five && five < twenty) {
		t.Fatalf("expected growth with volume: 1=%v 5=%v 20=%v", one, five, twenty)
	}
	if twenty-five >= five-one {
		t.Fatalf("expected saturation: gain 5->20 (%v) should be below gain 1->5 (%v)", twenty-five, five-one)
	}
}

func TestAggregateEvidenceSourceWeighting(t *testing.T) {
	cfg := DefaultScoringConfig()
	content := "Customer reported that exports time out for reports over 10k rows."
	order := []SourceType{SourceAnalytics, SourceSalesCall, SourceTicket, SourceEmail, SourceOther}
	prev := 2.0
	for _, src := range order {
		got := AggregateEvidence([]Evidence{{ID: "1", SourceType: src, Content: content}}, cfg)
		if got >= prev {
			t.Fatalf("expected %s to weigh less than the previous source: %v >= %v", src, got, prev)
		}
		prev = got
	}
	if got := AggregateEvidence([]Evidence{{ID: "1", SourceType: "carrier_pigeon", Content: content}}, cfg); got != 0 {
		t.Fatalf("unknown source should contribute 0, got %v", got)
	}
}

func TestAggregateEvidenceShortContentDiscounted(t *testing.T) {
	cfg := DefaultScoringConfig()
	short := AggregateEvidence([]Evidence{{ID: "1", SourceType: SourceTicket, Content: "slow"}}, cfg)
	full := AggregateEvidence([]Evidence{{ID: "1", SourceType: SourceTicket, Content: strings.Repeat("detail ", 10)}}, cfg)
	if !(short > 0 && short < full) {
		t.Fatalf("expected near-empty content to be discounted: short=%v full=%v", short, full)
	}
}

func TestAggregateEvidenceOrderIndependent(t *testing.T) {
	cfg := DefaultScoringConfig()
	items := []Evidence{
		{ID: "1", SourceType: SourceTicket, Content: "Export to CSV fails on large workspaces every Monday."},
		{ID: "2", SourceType: SourceEmail, Content: "short"},
		{ID: "3", SourceType: SourceSalesCall, Content: "Prospect asked for SSO before signing a 200 seat deal."},
		{ID: "4", SourceType: SourceAnalytics, Content: "Weekly active exporters dropped 12% after the pricing change."},
		{ID: "5", SourceType: SourceOther, Content: "Forum thread with 40 upvotes asking for dark mode support."},
	}
	want := AggregateEvidence(items, cfg)
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		shuffled := append([]Evidence(nil), items...)
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		if got := AggregateEvidence(shuffled, cfg); got != want {
			t.Fatalf("order changed the signal: %v != %v", got, want)
		}
	}
}
