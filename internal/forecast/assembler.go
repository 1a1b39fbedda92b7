package forecast

import (
	"time"
)

// AssemblyMeta describes how a forecast's content was produced.
type AssemblyMeta struct {
	Direction     Direction
	PromptVersion string
	Model         string
	Tag           string
}

// Assemble merges a score with validated content into a new forecast record.
// ID and Version are left for the store to assign atomically on append. Slices
// are copied so the record shares no memory with its inputs.
func Assemble(featureID string, score ScoreResult, content Content, run GenerationRun, meta AssemblyMeta, now time.Time) Forecast {
	return Forecast{
		FeatureID:            featureID,
		CreatedAt:            now.UTC(),
		ROIScore:             score.ROIScore,
		Confidence:           score.Confidence,
		Breakdown:            score.Breakdown,
		ImpactDirection:      meta.Direction,
		ImpactLow:            content.ImpactLow,
		ImpactMid:            content.ImpactMid,
		ImpactHigh:           content.ImpactHigh,
		Assumptions:          append([]Assumption(nil), content.Assumptions...),
		Risks:                append([]Risk(nil), content.Risks...),
		Alternatives:         append([]Alternative(nil), content.Alternatives...),
		ValidationPlan:       copyValidationPlan(content.ValidationPlan),
		DecisionMemo:         content.DecisionMemo,
		ScoringConfigVersion: score.ConfigVersion,
		PromptVersion:        meta.PromptVersion,
		Generation: GenerationMetrics{
			SchemaAttempts:    run.SchemaAttempts,
			TransportAttempts: run.TransportAttempts,
			Model:             meta.Model,
			Tag:               meta.Tag,
		},
	}
}

func copyValidationPlan(in []ValidationStep) []ValidationStep {
	out := make([]ValidationStep, 0, len(in))
	for _, s := range in {
		s.Steps = append([]string(nil), s.Steps...)
		out = append(out, s)
	}
	return out
}

// Clone returns a deep copy of f.
func (f Forecast) Clone() Forecast {
	out := f
	out.Assumptions = append([]Assumption(nil), f.Assumptions...)
	out.Risks = append([]Risk(nil), f.Risks...)
	out.Alternatives = append([]Alternative(nil), f.Alternatives...)
	out.ValidationPlan = copyValidationPlan(f.ValidationPlan)
	return out
}
