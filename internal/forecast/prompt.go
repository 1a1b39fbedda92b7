package forecast

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

const systemPrompt = "You are a product strategy analyst. You forecast the return on investment of proposed product features for software companies. You are conservative, you state assumptions explicitly, and you do not invent facts that the inputs do not support. Return strict JSON only."

const contentSchemaPrompt = `Required JSON schema:
{
  "impactLow":{"value":"number","unit":"string","explanation":"string"},
  "impactMid":{"value":"number","unit":"string","explanation":"string"},
  "impactHigh":{"value":"number","unit":"string","explanation":"string"},
  "assumptions":[{"assumption":"string","probability":"number 0-1","rationale":"string","validation":"string"}],
  "risks":[{"risk":"string","severity":"low|medium|high","likelihood":"low|medium|high","mitigation":"string"}],
  "alternatives":[{"alternative":"string","whyCheaper":"string","tradeoff":"string"}],
  "validationPlan":[{"experiment":"string","steps":["string"],"timeCost":"string","moneyCost":"string","successThreshold":"string"}],
  "decisionMemo":"markdown string"
}`

const forecastPromptContext = `Forecast the business impact of the feature described below.

IMPACT RANGE
  Give three estimates of the same metric in the same unit: a pessimistic
  (impactLow), an expected (impactMid) and an optimistic (impactHigh) case.
  Explain how each number follows from the baseline metrics and evidence.

ASSUMPTIONS
  List the assumptions the forecast depends on, most important first. Give
  each a probability between 0 and 1 that it holds and say how to validate it.

RISKS
  List what could make the feature fail to deliver, with severity and
  likelihood each one of low, medium or high, and a mitigation.

ALTERNATIVES
  List cheaper ways to capture part of the value, why each is cheaper and
  what it gives up.

VALIDATION PLAN
  List small experiments that would confirm or refute the forecast before
  the full build, with concrete steps, time cost, money cost and a success
  threshold.

DECISION MEMO
  A short Markdown memo with a recommendation (build, validate first, or
  drop) that references the deterministic score below. Do not restate the
  score as your own estimate.

Each list must contain between 1 and %d entries. Use the evidence only as
stated; when evidence is missing, lower your probabilities rather than
inventing data.`

// GenerationRequest is the complete, deterministic input of one generation.
// Tag identifies the request in logs and records; it is never part of Prompt.
type GenerationRequest struct {
	System        string
	Prompt        string
	Tag           string
	PromptVersion string
	Direction     Direction
}

type promptFeature struct {
	Title        string           `json:"title"`
	Type         FeatureType      `json:"type"`
	Problem      string           `json:"problem"`
	TargetUsers  string           `json:"targetUsers"`
	EffortDays   int              `json:"effortDays"`
	Constraints  string           `json:"constraints,omitempty"`
	PricingPlans []string         `json:"pricingPlans,omitempty"`
	Baseline     *BaselineMetrics `json:"baseline,omitempty"`
}

type promptEvidence struct {
	ID         string     `json:"id"`
	SourceType SourceType `json:"sourceType"`
	Content    string     `json:"content"`
	Link       string     `json:"link,omitempty"`
	Truncated  bool       `json:"truncated,omitempty"`
}

type promptScore struct {
	ROIScore      float64        `json:"roiScore"`
	Confidence    Confidence     `json:"confidence"`
	Breakdown     ScoreBreakdown `json:"breakdown"`
	Completeness  float64        `json:"baselineCompleteness"`
	ConfigVersion string         `json:"scoringConfigVersion"`
}

// BuildRequest serializes the generation inputs. Evidence is ordered by id and
// long content is cut to MaxEvidenceChars, so the same inputs always yield a
// byte-identical prompt regardless of tag.
func BuildRequest(f Feature, evidence []Evidence, score ScoreResult, tag string) GenerationRequest {
	direction := DirectionFor(f.Type)
	prompt := fmt.Sprintf(
		"%s\n\n%s\n\n%s\n\nFeature:\n%s\n\nEvidence (%d item(s)):\n%s\n\nDeterministic ROI score (computed, not yours to change):\n%s",
		fmt.Sprintf(forecastPromptContext, MaxListItems),
		directionInstruction(direction),
		contentSchemaPrompt,
		mustJSON(promptFeatureFor(f)),
		len(evidence),
		mustJSON(promptEvidenceFor(evidence)),
		mustJSON(promptScore{
			ROIScore:      score.ROIScore,
			Confidence:    score.Confidence,
			Breakdown:     score.Breakdown,
			Completeness:  score.Completeness,
			ConfigVersion: score.ConfigVersion,
		}),
	)
	return GenerationRequest{
		System:        systemPrompt,
		Prompt:        prompt,
		Tag:           tag,
		PromptVersion: PromptVersion,
		Direction:     direction,
	}
}

func directionInstruction(d Direction) string {
	if d == LowerIsBetter {
		return "Impact direction: lower_is_better. The impact metric is a cost; smaller values are the good outcome. impactMid.value must lie between impactLow.value and impactHigh.value."
	}
	return "Impact direction: higher_is_better. Larger values are the good outcome. impactLow.value <= impactMid.value <= impactHigh.value must hold."
}

func promptFeatureFor(f Feature) promptFeature {
	return promptFeature{
		Title:        strings.TrimSpace(f.Title),
		Type:         f.Type,
		Problem:      strings.TrimSpace(f.Problem),
		TargetUsers:  strings.TrimSpace(f.TargetUsers),
		EffortDays:   f.EffortDays,
		Constraints:  strings.TrimSpace(f.Constraints),
		PricingPlans: f.PricingPlans,
		Baseline:     f.Baseline,
	}
}

func promptEvidenceFor(items []Evidence) []promptEvidence {
	sorted := append([]Evidence(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	out := make([]promptEvidence, 0, len(sorted))
	for _, it := range sorted {
		content, truncated := truncateRunes(strings.TrimSpace(it.Content), MaxEvidenceChars)
		out = append(out, promptEvidence{
			ID:         it.ID,
			SourceType: it.SourceType,
			Content:    content,
			Link:       it.Link,
			Truncated:  truncated,
		})
	}
	return out
}

func truncateRunes(s string, max int) (string, bool) {
	if utf8.RuneCountInString(s) <= max {
		return s, false
	}
	return string([]rune(s)[:max]), true
}

func mustJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

func hasText(s string) bool { return strings.TrimSpace(s) != "" }
