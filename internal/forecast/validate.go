package forecast

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Wire types mirror Content with pointer fields so an omitted value is told
// apart from a zero value.
type wireImpact struct {
	Value       *float64 `json:"value"`
	Unit        *string  `json:"unit"`
	Explanation *string  `json:"explanation"`
}

type wireAssumption struct {
	Assumption  *string  `json:"assumption"`
	Probability *float64 `json:"probability"`
	Rationale   *string  `json:"rationale"`
	Validation  *string  `json:"validation"`
}

type wireRisk struct {
	Risk       *string `json:"risk"`
	Severity   *string `json:"severity"`
	Likelihood *string `json:"likelihood"`
	Mitigation *string `json:"mitigation"`
}

type wireAlternative struct {
	Alternative *string `json:"alternative"`
	WhyCheaper  *string `json:"whyCheaper"`
	Tradeoff    *string `json:"tradeoff"`
}

type wireValidationStep struct {
	Experiment       *string  `json:"experiment"`
	Steps            []string `json:"steps"`
	TimeCost         *string  `json:"timeCost"`
	MoneyCost        *string  `json:"moneyCost"`
	SuccessThreshold *string  `json:"successThreshold"`
}

type wireContent struct {
	ImpactLow      *wireImpact          `json:"impactLow"`
	ImpactMid      *wireImpact          `json:"impactMid"`
	ImpactHigh     *wireImpact          `json:"impactHigh"`
	Assumptions    []wireAssumption     `json:"assumptions"`
	Risks          []wireRisk           `json:"risks"`
	Alternatives   []wireAlternative    `json:"alternatives"`
	ValidationPlan []wireValidationStep `json:"validationPlan"`
	DecisionMemo   *string              `json:"decisionMemo"`
}

// ParseContent decodes a raw model response and checks it against the
// content schema. Every violation found is returned, not just the first; on
// any violation the returned Content is the zero value.
func ParseContent(raw string, direction Direction) (Content, []string) {
	clean := stripCodeFences(raw)
	if clean == "" {
		return Content{}, []string{"response was empty"}
	}
	var w wireContent
	dec := json.NewDecoder(bytes.NewReader([]byte(clean)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		if name, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
			return Content{}, []string{fmt.Sprintf("response contains unknown field %s", name)}
		}
		return Content{}, []string{fmt.Sprintf("response is not valid JSON: %v", err)}
	}
	if dec.More() {
		return Content{}, []string{"response contains trailing data after the JSON object"}
	}
	v := &violations{}
	c := Content{
		ImpactLow:  v.impact("impactLow", w.ImpactLow),
		ImpactMid:  v.impact("impactMid", w.ImpactMid),
		ImpactHigh: v.impact("impactHigh", w.ImpactHigh),
	}
	if v.empty() {
		v.impactOrder(direction, c.ImpactLow.Value, c.ImpactMid.Value, c.ImpactHigh.Value)
		if c.ImpactLow.Unit != c.ImpactMid.Unit || c.ImpactMid.Unit != c.ImpactHigh.Unit {
			v.add("impactLow, impactMid and impactHigh must use the same unit")
		}
	}

	if v.listSize("assumptions", len(w.Assumptions)) {
		for i, a := range w.Assumptions {
			p := fmt.Sprintf("assumptions[%d]", i)
			item := Assumption{
				Assumption: v.text(p+".assumption", a.Assumption),
				Rationale:  v.text(p+".rationale", a.Rationale),
				Validation: v.text(p+".validation", a.Validation),
			}
			switch {
			case a.Probability == nil:
				v.add(p + ".probability is required")
			case math.IsNaN(*a.Probability) || *a.Probability < 0 || *a.Probability > 1:
				v.add(fmt.Sprintf("%s.probability must be between 0 and 1, got %v", p, *a.Probability))
			default:
				item.Probability = *a.Probability
			}
			c.Assumptions = append(c.Assumptions, item)
		}
	}
	if v.listSize("risks", len(w.Risks)) {
		for i, r := range w.Risks {
			p := fmt.Sprintf("risks[%d]", i)
			c.Risks = append(c.Risks, Risk{
				Risk:       v.text(p+".risk", r.Risk),
				Severity:   v.level(p+".severity", r.Severity),
				Likelihood: v.level(p+".likelihood", r.Likelihood),
				Mitigation: v.text(p+".mitigation", r.Mitigation),
			})
		}
	}
	if v.listSize("alternatives", len(w.Alternatives)) {
		for i, a := range w.Alternatives {
			p := fmt.Sprintf("alternatives[%d]", i)
			c.Alternatives = append(c.Alternatives, Alternative{
				Alternative: v.text(p+".alternative", a.Alternative),
				WhyCheaper:  v.text(p+".whyCheaper", a.WhyCheaper),
				Tradeoff:    v.text(p+".tradeoff", a.Tradeoff),
			})
		}
	}
	if v.listSize("validationPlan", len(w.ValidationPlan)) {
		for i, s := range w.ValidationPlan {
			p := fmt.Sprintf("validationPlan[%d]", i)
			step := ValidationStep{
				Experiment:       v.text(p+".experiment", s.Experiment),
				TimeCost:         v.text(p+".timeCost", s.TimeCost),
				MoneyCost:        v.text(p+".moneyCost", s.MoneyCost),
				SuccessThreshold: v.text(p+".successThreshold", s.SuccessThreshold),
			}
			if v.listSize(p+".steps", len(s.Steps)) {
				for j, st := range s.Steps {
					step.Steps = append(step.Steps, v.text(fmt.Sprintf("%s.steps[%d]", p, j), &st))
				}
			}
			c.ValidationPlan = append(c.ValidationPlan, step)
		}
	}
	c.DecisionMemo = v.text("decisionMemo", w.DecisionMemo)
	if !v.empty() {
		return Content{}, v.list
	}
	return c, nil
}

// ValidateContent re-checks an already typed Content, for records that did not
// come through ParseContent.
func ValidateContent(c Content, direction Direction) []string {
	b, err := json.Marshal(c)
	if err != nil {
		return []string{err.Error()}
	}
	_, v := ParseContent(string(b), direction)
	return v
}

type violations struct {
	list []string
}

func (v *violations) add(msg string) { v.list = append(v.list, msg) }

func (v *violations) empty() bool { return len(v.list) == 0 }

func (v *violations) text(path string, s *string) string {
	if s == nil {
		v.add(path + " is required")
		return ""
	}
	if strings.TrimSpace(*s) == "" {
		v.add(path + " must not be empty")
		return ""
	}
	return strings.TrimSpace(*s)
}

func (v *violations) level(path string, s *string) Level {
	if s == nil {
		v.add(path + " is required")
		return ""
	}
	l := Level(strings.ToLower(strings.TrimSpace(*s)))
	if !l.Valid() {
		v.add(fmt.Sprintf("%s must be one of low|medium|high, got %q", path, *s))
		return ""
	}
	return l
}

func (v *violations) impact(path string, w *wireImpact) ImpactEstimate {
	if w == nil {
		v.add(path + " is required")
		return ImpactEstimate{}
	}
	out := ImpactEstimate{
		Unit:        v.text(path+".unit", w.Unit),
		Explanation: v.text(path+".explanation", w.Explanation),
	}
	switch {
	case w.Value == nil:
		v.add(path + ".value is required")
	case math.IsNaN(*w.Value) || math.IsInf(*w.Value, 0):
		v.add(path + ".value must be a finite number")
	default:
		out.Value = *w.Value
	}
	return out
}

func (v *violations) listSize(path string, n int) bool {
	if n == 0 {
		v.add(path + " must contain at least 1 entry")
		return false
	}
	if n > MaxListItems {
		v.add(fmt.Sprintf("%s must contain at most %d entries, got %d", path, MaxListItems, n))
		return false
	}
	return true
}

func (v *violations) impactOrder(d Direction, low, mid, high float64) {
	if d == LowerIsBetter {
		if mid < math.Min(low, high) || mid > math.Max(low, high) {
			v.add(fmt.Sprintf("impactMid.value (%v) must lie between impactLow.value (%v) and impactHigh.value (%v)", mid, low, high))
		}
		return
	}
	if !(low <= mid && mid <= high) {
		v.add(fmt.Sprintf("impact values must satisfy impactLow <= impactMid <= impactHigh, got %v, %v, %v", low, mid, high))
	}
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		parts := strings.SplitN(s, "\n", 2)
		if len(parts) == 2 {
			s = parts[1]
		}
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	return s
}
