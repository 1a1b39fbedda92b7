package forecast

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"gonum.org/v1/gonum/floats"
)

// AggregateEvidence reduces an evidence set to a strength signal in [0,1].
// Each item counts with its source weight, discounted when its content is
// shorter than cfg.MinEvidenceChars; volume saturates exponentially so the
// signal approaches but never reaches 1. An empty set yields exactly 0.
// Contributions are summed in sorted order so input order cannot change the
// result.
func AggregateEvidence(items []Evidence, cfg ScoringConfig) float64 {
	if len(items) == 0 {
		return 0
	}
	contrib := make([]float64, 0, len(items))
	for _, it := range items {
		contrib = append(contrib, cfg.SourceWeights[it.SourceType]*evidenceQuality(it.Content, cfg.MinEvidenceChars))
	}
	sort.Float64s(contrib)
	volume := floats.Sum(contrib)
	if volume <= 0 {
		return 0
	}
	return clamp(1-math.Exp(-volume/cfg.EvidenceSaturation), 0, 1)
}

func evidenceQuality(content string, minChars int) float64 {
	n := utf8.RuneCountInString(strings.TrimSpace(content))
	if n == 0 {
		return 0
	}
	if minChars <= 0 || n >= minChars {
		return 1
	}
	return float64(n) / float64(minChars)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
