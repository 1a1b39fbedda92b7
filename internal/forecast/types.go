package forecast

import "time"

const Disclaimer = "This is an automated ROI forecast. The score is reproducible from its inputs; " +
	"the narrative is model-generated and does not guarantee business outcomes."

const (
	PromptVersion     = "forecast-prompt/v1"
	MaxEvidenceChars  = 4000
	MaxListItems      = 10
	DefaultMaxAttempt = 3
)

type FeatureType string

const (
	TypeAcquisition  FeatureType = "acquisition"
	TypeActivation   FeatureType = "activation"
	TypeRetention    FeatureType = "retention"
	TypeMonetization FeatureType = "monetization"
	TypeSupportCost  FeatureType = "support_cost"
)

var FeatureTypes = []FeatureType{TypeAcquisition, TypeActivation, TypeRetention, TypeMonetization, TypeSupportCost}

func (t FeatureType) Valid() bool {
	switch t {
	case TypeAcquisition, TypeActivation, TypeRetention, TypeMonetization, TypeSupportCost:
		return true
	default:
		return false
	}
}

type SourceType string

const (
	SourceTicket    SourceType = "ticket"
	SourceSalesCall SourceType = "sales_call"
	SourceEmail     SourceType = "email"
	SourceAnalytics SourceType = "analytics"
	SourceOther     SourceType = "other"
)

func (s SourceType) Valid() bool {
	switch s {
	case SourceTicket, SourceSalesCall, SourceEmail, SourceAnalytics, SourceOther:
		return true
	default:
		return false
	}
}

type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Level is the low|medium|high scale shared by risk severity and likelihood.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

func (l Level) Valid() bool {
	return l == LevelLow || l == LevelMedium || l == LevelHigh
}

// Direction records which way an impact metric moves when the feature works.
type Direction string

const (
	HigherIsBetter Direction = "higher_is_better"
	LowerIsBetter  Direction = "lower_is_better"
)

// DirectionFor returns the impact direction for a feature type. Cost-reduction
// features report a metric where smaller values are the good outcome.
func DirectionFor(t FeatureType) Direction {
	if t == TypeSupportCost {
		return LowerIsBetter
	}
	return HigherIsBetter
}

type BaselineMetrics struct {
	ARPA                  *float64 `json:"arpa,omitempty"`
	MonthlyActiveAccounts *float64 `json:"monthlyActiveAccounts,omitempty"`
	TrialToPaid           *float64 `json:"trialToPaid,omitempty"`
	ChurnMonthly          *float64 `json:"churnMonthly,omitempty"`
	SupportTicketsMonthly *float64 `json:"supportTicketsMonthly,omitempty"`
}

type Feature struct {
	ID           string           `json:"id"`
	OrgID        string           `json:"orgId"`
	Title        string           `json:"title"`
	Type         FeatureType      `json:"type"`
	Problem      string           `json:"problem"`
	TargetUsers  string           `json:"targetUsers"`
	EffortDays   int              `json:"effortDays"`
	Constraints  string           `json:"constraints,omitempty"`
	PricingPlans []string         `json:"pricingPlans,omitempty"`
	Baseline     *BaselineMetrics `json:"baseline,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
}

type Evidence struct {
	ID         string     `json:"id"`
	FeatureID  string     `json:"featureId"`
	SourceType SourceType `json:"sourceType"`
	Content    string     `json:"content"`
	Link       string     `json:"link,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

type ScoreWeights struct {
	ValuePotential   float64 `json:"valuePotential" yaml:"value_potential"`
	Reach            float64 `json:"reach" yaml:"reach"`
	EvidenceStrength float64 `json:"evidenceStrength" yaml:"evidence_strength"`
	EffortPenalty    float64 `json:"effortPenalty" yaml:"effort_penalty"`
	RiskPenalty      float64 `json:"riskPenalty" yaml:"risk_penalty"`
}

// ScoreBreakdown holds the five sub-scores on a 0-100 scale. Penalties count
// against the ROI score: a penalty of 100 contributes nothing.
type ScoreBreakdown struct {
	ValuePotential   float64      `json:"valuePotential"`
	Reach            float64      `json:"reach"`
	EvidenceStrength float64      `json:"evidenceStrength"`
	EffortPenalty    float64      `json:"effortPenalty"`
	RiskPenalty      float64      `json:"riskPenalty"`
	Weights          ScoreWeights `json:"weights"`
}

type ScoreResult struct {
	ROIScore      float64        `json:"roiScore"`
	Breakdown     ScoreBreakdown `json:"breakdown"`
	Confidence    Confidence     `json:"confidence"`
	Completeness  float64        `json:"completeness"`
	EvidenceCount int            `json:"evidenceCount"`
	ConfigVersion string         `json:"configVersion"`
}

type ImpactEstimate struct {
	Value       float64 `json:"value"`
	Unit        string  `json:"unit"`
	Explanation string  `json:"explanation"`
}

type Assumption struct {
	Assumption  string  `json:"assumption"`
	Probability float64 `json:"probability"`
	Rationale   string  `json:"rationale"`
	Validation  string  `json:"validation"`
}

type Risk struct {
	Risk       string `json:"risk"`
	Severity   Level  `json:"severity"`
	Likelihood Level  `json:"likelihood"`
	Mitigation string `json:"mitigation"`
}

type Alternative struct {
	Alternative string `json:"alternative"`
	WhyCheaper  string `json:"whyCheaper"`
	Tradeoff    string `json:"tradeoff"`
}

type ValidationStep struct {
	Experiment       string   `json:"experiment"`
	Steps            []string `json:"steps"`
	TimeCost         string   `json:"timeCost"`
	MoneyCost        string   `json:"moneyCost"`
	SuccessThreshold string   `json:"successThreshold"`
}

// Content is the model-authored part of a Forecast.
type Content struct {
	ImpactLow      ImpactEstimate   `json:"impactLow"`
	ImpactMid      ImpactEstimate   `json:"impactMid"`
	ImpactHigh     ImpactEstimate   `json:"impactHigh"`
	Assumptions    []Assumption     `json:"assumptions"`
	Risks          []Risk           `json:"risks"`
	Alternatives   []Alternative    `json:"alternatives"`
	ValidationPlan []ValidationStep `json:"validationPlan"`
	DecisionMemo   string           `json:"decisionMemo"`
}

type GenerationMetrics struct {
	SchemaAttempts    int    `json:"schemaAttempts"`
	TransportAttempts int    `json:"transportAttempts"`
	Model             string `json:"model,omitempty"`
	Tag               string `json:"tag,omitempty"`
}

type Forecast struct {
	ID                   string            `json:"id"`
	FeatureID            string            `json:"featureId"`
	Version              int               `json:"version"`
	CreatedAt            time.Time         `json:"createdAt"`
	ROIScore             float64           `json:"roiScore"`
	Confidence           Confidence        `json:"confidence"`
	Breakdown            ScoreBreakdown    `json:"breakdown"`
	ImpactDirection      Direction         `json:"impactDirection"`
	ImpactLow            ImpactEstimate    `json:"impactLow"`
	ImpactMid            ImpactEstimate    `json:"impactMid"`
	ImpactHigh           ImpactEstimate    `json:"impactHigh"`
	Assumptions          []Assumption      `json:"assumptions"`
	Risks                []Risk            `json:"risks"`
	Alternatives         []Alternative     `json:"alternatives"`
	ValidationPlan       []ValidationStep  `json:"validationPlan"`
	DecisionMemo         string            `json:"decisionMemo"`
	ScoringConfigVersion string            `json:"scoringConfigVersion"`
	PromptVersion        string            `json:"promptVersion"`
	Generation           GenerationMetrics `json:"generation"`
}

// Content returns the model-authored fields of f.
func (f Forecast) Content() Content {
	return Content{
		ImpactLow:      f.ImpactLow,
		ImpactMid:      f.ImpactMid,
		ImpactHigh:     f.ImpactHigh,
		Assumptions:    f.Assumptions,
		Risks:          f.Risks,
		Alternatives:   f.Alternatives,
		ValidationPlan: f.ValidationPlan,
		DecisionMemo:   f.DecisionMemo,
	}
}
