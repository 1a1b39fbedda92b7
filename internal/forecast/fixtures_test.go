package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type queueCaller struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	prompts   []string
	systems   []string
}

func (q *queueCaller) GenerateJSON(_ context.Context, system, prompt string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.prompts = append(q.prompts, prompt)
	q.systems = append(q.systems, system)
	if len(q.errs) > 0 {
		err := q.errs[0]
		q.errs = q.errs[1:]
		if err != nil {
			return "", err
		}
	}
	if len(q.responses) == 0 {
		return "{}", nil
	}
	out := q.responses[0]
	q.responses = q.responses[1:]
	return out, nil
}

func (q *queueCaller) ModelName() string { return "test-model" }

func (q *queueCaller) calls() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.prompts)
}

// echoCaller answers every call with valid content whose memo names the call
// number, so concurrent generations produce distinguishable records.
type echoCaller struct {
	mu    sync.Mutex
	n     int
	delay time.Duration
}

func (e *echoCaller) GenerateJSON(ctx context.Context, _, _ string) (string, error) {
	e.mu.Lock()
	e.n++
	n := e.n
	e.mu.Unlock()
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return contentJSON(func(m map[string]any) { m["decisionMemo"] = fmt.Sprintf("## Memo %d\nBuild it.", n) }), nil
}

func (e *echoCaller) ModelName() string { return "echo-model" }

func ptr(v float64) *float64 { return &v }

func monetizationFeature() Feature {
	return Feature{
		ID:          "feat-1",
		OrgID:       "org-1",
		Title:       "Annual billing discount",
		Type:        TypeMonetization,
		Problem:     "Customers churn at renewal because monthly billing feels expensive.",
		TargetUsers: "Small teams on the monthly plan",
		EffortDays:  10,
		Baseline: &BaselineMetrics{
			ARPA:                  ptr(50),
			MonthlyActiveAccounts: ptr(1000),
		},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func analyticsEvidence(featureID string, n int) []Evidence {
	out := make([]Evidence, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Evidence{
			ID:         fmt.Sprintf("ev-%02d", i),
			FeatureID:  featureID,
			SourceType: SourceAnalytics,
			Content:    fmt.Sprintf("Dashboard %d: 38%% of monthly accounts viewed the pricing page before cancelling.", i),
		})
	}
	return out
}

func validContentMap() map[string]any {
	return map[string]any{
		"impactLow":  map[string]any{"value": 500, "unit": "USD MRR", "explanation": "Few accounts switch."},
		"impactMid":  map[string]any{"value": 1500, "unit": "USD MRR", "explanation": "A third of eligible accounts switch."},
		"impactHigh": map[string]any{"value": 3000, "unit": "USD MRR", "explanation": "Most eligible accounts switch."},
		"assumptions": []any{
			map[string]any{"assumption": "Customers value discounts", "probability": 0.7, "rationale": "Survey data", "validation": "Price test"},
		},
		"risks": []any{
			map[string]any{"risk": "Cannibalization", "severity": "medium", "likelihood": "low", "mitigation": "Cap the discount"},
		},
		"alternatives": []any{
			map[string]any{"alternative": "Manual annual invoices", "whyCheaper": "No billing changes", "tradeoff": "Does not scale"},
		},
		"validationPlan": []any{
			map[string]any{
				"experiment":       "Fake door",
				"steps":            []any{"Add annual toggle", "Measure clicks"},
				"timeCost":         "1 week",
				"moneyCost":        "0 USD",
				"successThreshold": "5% of visitors click",
			},
		},
		"decisionMemo": "## Recommendation\nValidate first.",
	}
}

func contentJSON(mutate func(map[string]any)) string {
	m := validContentMap()
	if mutate != nil {
		mutate(m)
	}
	b, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return string(b)
}

func withProbability(p float64) func(map[string]any) {
	return func(m map[string]any) {
		m["assumptions"] = []any{
			map[string]any{"assumption": "Customers value discounts", "probability": p, "rationale": "Survey data", "validation": "Price test"},
		}
	}
}

func fastGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		MaxSchemaAttempts:    3,
		MaxTransportAttempts: 3,
		InitialBackoff:       time.Millisecond,
		MaxBackoff:           2 * time.Millisecond,
	}
}

type memStore struct {
	mu        sync.Mutex
	features  map[string]Feature
	evidence  map[string][]Evidence
	forecasts map[string][]Forecast
}

func newMemStore() *memStore {
	return &memStore{
		features:  map[string]Feature{},
		evidence:  map[string][]Evidence{},
		forecasts: map[string][]Forecast{},
	}
}

func (m *memStore) GetFeature(_ context.Context, id string) (Feature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.features[id]
	if !ok {
		return Feature{}, fmt.Errorf("feature %s: %w", id, ErrFeatureNotFound)
	}
	return f, nil
}

func (m *memStore) ListEvidence(_ context.Context, featureID string) ([]Evidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Evidence(nil), m.evidence[featureID]...), nil
}

func (m *memStore) AppendForecast(_ context.Context, f Forecast) (Forecast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.forecasts[f.FeatureID]
	f.Version = len(existing) + 1
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	m.forecasts[f.FeatureID] = append(existing, f.Clone())
	return f, nil
}

func (m *memStore) ListForecasts(_ context.Context, featureID string) ([]Forecast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]Forecast(nil), m.forecasts[featureID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (m *memStore) GetForecast(_ context.Context, id string) (Forecast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, list := range m.forecasts {
		for _, f := range list {
			if f.ID == id {
				return f, nil
			}
		}
	}
	return Forecast{}, ErrForecastNotFound
}

type chanLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func (l *chanLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = map[string]chan struct{}{}
	}
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	l.mu.Unlock()
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newTestEngine(store *memStore, caller LLMCaller) *Engine {
	gen := NewGenerator(caller, fastGeneratorConfig(), zerolog.Nop())
	e, err := NewEngine(Deps{
		Features:  store,
		Evidence:  store,
		Forecasts: store,
		Locker:    &chanLocker{},
		Generator: gen,
	}, EngineConfig{
		Scoring:           DefaultScoringConfig(),
		GenerationTimeout: 5 * time.Second,
		Clock:             func() time.Time { return time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC) },
	}, zerolog.Nop())
	if err != nil {
		panic(err)
	}
	return e
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
