package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelkehle/forecastforge/internal/forecast"
	"github.com/joelkehle/forecastforge/internal/lock"
	"github.com/joelkehle/forecastforge/internal/store"
)

// stubCaller answers every model call with the same response or error.
type stubCaller struct {
	mu       sync.Mutex
	response string
	err      error
	n        int
}

func (s *stubCaller) GenerateJSON(context.Context, string, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.response, s.err
}

func (s *stubCaller) ModelName() string { return "stub-model" }

type stubPDF struct{}

func (stubPDF) RenderForecast(context.Context, forecast.Feature, forecast.Forecast) ([]byte, error) {
	return []byte("%PDF-1.4 stub"), nil
}

func validContent(t *testing.T) string {
	t.Helper()
	c := forecast.Content{
		ImpactLow:      forecast.ImpactEstimate{Value: 200, Unit: "USD MRR", Explanation: "Few upgrades"},
		ImpactMid:      forecast.ImpactEstimate{Value: 800, Unit: "USD MRR", Explanation: "Typical uptake"},
		ImpactHigh:     forecast.ImpactEstimate{Value: 2000, Unit: "USD MRR", Explanation: "Strong uptake"},
		Assumptions:    []forecast.Assumption{{Assumption: "Admins want annual", Probability: 0.6, Rationale: "Sales calls", Validation: "Survey"}},
		Risks:          []forecast.Risk{{Risk: "Discount erodes MRR", Severity: forecast.LevelMedium, Likelihood: forecast.LevelLow, Mitigation: "Cap discount"}},
		Alternatives:   []forecast.Alternative{{Alternative: "Manual invoices", WhyCheaper: "No build", Tradeoff: "Ops time"}},
		ValidationPlan: []forecast.ValidationStep{{Experiment: "Fake door", Steps: []string{"Add toggle"}, TimeCost: "1 week", MoneyCost: "$0", SuccessThreshold: "5% click"}},
		DecisionMemo:   "## Recommendation\nRun the fake door first.",
	}
	b, err := json.Marshal(c)
	require.NoError(t, err)
	return string(b)
}

type harness struct {
	handler http.Handler
	store   *store.MemoryStore
	caller  *stubCaller
}

func newHarness(t *testing.T, caller *stubCaller, pdf PDFRenderer) *harness {
	t.Helper()
	st := store.NewMemoryStore(store.Config{})
	gen := forecast.NewGenerator(caller, forecast.GeneratorConfig{
		MaxSchemaAttempts:    3,
		MaxTransportAttempts: 2,
		InitialBackoff:       time.Millisecond,
		MaxBackoff:           time.Millisecond,
	}, zerolog.Nop())
	engine, err := forecast.NewEngine(forecast.Deps{
		Features:  st,
		Evidence:  st,
		Forecasts: st,
		Locker:    lock.NewKeyedMutex(),
		Generator: gen,
	}, forecast.EngineConfig{Scoring: forecast.DefaultScoringConfig(), GenerationTimeout: 5 * time.Second}, zerolog.Nop())
	require.NoError(t, err)
	return &harness{
		handler: NewServer(Config{Store: st, Engine: engine, PDF: pdf, Log: zerolog.Nop()}),
		store:   st,
		caller:  caller,
	}
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var out struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out.Error.Code
}

func featureBody() map[string]any {
	return map[string]any{
		"orgId":        "org-1",
		"title":        "Annual billing",
		"type":         "monetization",
		"problem":      "Customers ask for annual plans",
		"targetUsers":  "Workspace admins",
		"effortDays":   8,
		"pricingPlans": []string{"Starter", "Pro"},
		"baseline":     map[string]any{"arpa": 40, "monthlyActiveAccounts": 1200},
	}
}

func (h *harness) createFeature(t *testing.T) forecast.Feature {
	t.Helper()
	rr := h.do(t, http.MethodPost, "/v1/features", featureBody())
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var f forecast.Feature
	require.NoError(t, json.Unmarshal(decode(t, rr)["feature"], &f))
	return f
}

func TestHealth(t *testing.T) {
	h := newHarness(t, &stubCaller{}, nil)
	rr := h.do(t, http.MethodGet, "/v1/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Content-Type"))
}

func TestFeatureEndpoints(t *testing.T) {
	h := newHarness(t, &stubCaller{}, nil)
	f := h.createFeature(t)
	assert.NotEmpty(t, f.ID)
	assert.Equal(t, []string{"Starter", "Pro"}, f.PricingPlans)

	rr := h.do(t, http.MethodGet, "/v1/features/"+f.ID, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = h.do(t, http.MethodGet, "/v1/features?org_id=org-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list []forecast.Feature
	require.NoError(t, json.Unmarshal(decode(t, rr)["features"], &list))
	assert.Len(t, list, 1)

	rr = h.do(t, http.MethodGet, "/v1/features/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, CodeNotFound, errorCode(t, rr))
}

func TestCreateFeatureValidation(t *testing.T) {
	h := newHarness(t, &stubCaller{}, nil)
	cases := map[string]func(map[string]any){
		"zero effort":   func(b map[string]any) { b["effortDays"] = 0 },
		"unknown type":  func(b map[string]any) { b["type"] = "growth" },
		"unknown field": func(b map[string]any) { b["priority"] = "p0" },
		"negative arpa": func(b map[string]any) { b["baseline"] = map[string]any{"arpa": -1} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			b := featureBody()
			mutate(b)
			rr := h.do(t, http.MethodPost, "/v1/features", b)
			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			assert.Equal(t, CodeValidation, errorCode(t, rr))
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/features", nil)
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEvidenceEndpoints(t *testing.T) {
	h := newHarness(t, &stubCaller{}, nil)
	f := h.createFeature(t)

	rr := h.do(t, http.MethodPost, "/v1/features/"+f.ID+"/evidence", map[string]any{
		"sourceType": "Sales_Call", "content": "Three prospects asked for annual pricing this month.",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var ev forecast.Evidence
	require.NoError(t, json.Unmarshal(decode(t, rr)["evidence"], &ev))
	assert.Equal(t, forecast.SourceSalesCall, ev.SourceType)

	rr = h.do(t, http.MethodPost, "/v1/features/"+f.ID+"/evidence", map[string]any{"sourceType": "fax", "content": "x"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = h.do(t, http.MethodPost, "/v1/features/missing/evidence", map[string]any{"sourceType": "ticket", "content": "x"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = h.do(t, http.MethodGet, "/v1/features/"+f.ID+"/evidence", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var items []forecast.Evidence
	require.NoError(t, json.Unmarshal(decode(t, rr)["evidence"], &items))
	assert.Len(t, items, 1)

	rr = h.do(t, http.MethodDelete, "/v1/evidence/"+ev.ID, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = h.do(t, http.MethodDelete, "/v1/evidence/"+ev.ID, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestScoreEndpoint(t *testing.T) {
	h := newHarness(t, &stubCaller{}, nil)
	f := h.createFeature(t)
	rr := h.do(t, http.MethodGet, "/v1/features/"+f.ID+"/score", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var score forecast.ScoreResult
	require.NoError(t, json.Unmarshal(decode(t, rr)["score"], &score))
	assert.Equal(t, forecast.ConfidenceLow, score.Confidence)
	assert.Greater(t, score.ROIScore, 0.0)
	assert.Zero(t, h.caller.n, "scoring must not call the model")
}

func TestGenerateForecastFlow(t *testing.T) {
	h := newHarness(t, &stubCaller{response: validContent(t)}, stubPDF{})
	f := h.createFeature(t)

	rr := h.do(t, http.MethodPost, "/v1/features/"+f.ID+"/forecasts", nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var fc forecast.Forecast
	require.NoError(t, json.Unmarshal(decode(t, rr)["forecast"], &fc))
	assert.Equal(t, 1, fc.Version)
	assert.Equal(t, "stub-model", fc.Generation.Model)

	rr = h.do(t, http.MethodPost, "/v1/features/"+f.ID+"/forecasts", nil)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = h.do(t, http.MethodGet, "/v1/features/"+f.ID+"/forecasts", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list []forecast.Forecast
	require.NoError(t, json.Unmarshal(decode(t, rr)["forecasts"], &list))
	require.Len(t, list, 2)
	assert.Equal(t, 2, list[1].Version)

	rr = h.do(t, http.MethodGet, "/v1/forecasts/"+fc.ID, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = h.do(t, http.MethodGet, "/v1/forecasts/"+fc.ID+"/report", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "# ROI Forecast: Annual billing")

	rr = h.do(t, http.MethodGet, "/v1/forecasts/"+fc.ID+"/report?format=html", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")

	rr = h.do(t, http.MethodGet, "/v1/forecasts/"+fc.ID+"/report?format=pdf", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/pdf", rr.Header().Get("Content-Type"))

	rr = h.do(t, http.MethodGet, "/v1/forecasts/"+fc.ID+"/report?format=docx", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReportPDFNotConfigured(t *testing.T) {
	h := newHarness(t, &stubCaller{response: validContent(t)}, nil)
	f := h.createFeature(t)
	rr := h.do(t, http.MethodPost, "/v1/features/"+f.ID+"/forecasts", nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	var fc forecast.Forecast
	require.NoError(t, json.Unmarshal(decode(t, rr)["forecast"], &fc))

	rr = h.do(t, http.MethodGet, "/v1/forecasts/"+fc.ID+"/report?format=pdf", nil)
	assert.Equal(t, http.StatusNotImplemented, rr.Code)
}

func TestGenerateForecastErrors(t *testing.T) {
	t.Run("feature not found", func(t *testing.T) {
		h := newHarness(t, &stubCaller{response: validContent(t)}, nil)
		rr := h.do(t, http.MethodPost, "/v1/features/missing/forecasts", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
	t.Run("schema failure", func(t *testing.T) {
		h := newHarness(t, &stubCaller{response: `{"impactLow": {}}`}, nil)
		f := h.createFeature(t)
		rr := h.do(t, http.MethodPost, "/v1/features/"+f.ID+"/forecasts", nil)
		assert.Equal(t, http.StatusBadGateway, rr.Code)
		assert.Equal(t, CodeGenerationSchema, errorCode(t, rr))
		list, err := h.store.ListForecasts(context.Background(), f.ID)
		require.NoError(t, err)
		assert.Empty(t, list)
	})
	t.Run("model unavailable", func(t *testing.T) {
		h := newHarness(t, &stubCaller{err: errors.New("status 503: overloaded")}, nil)
		f := h.createFeature(t)
		rr := h.do(t, http.MethodPost, "/v1/features/"+f.ID+"/forecasts", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Equal(t, CodeGenerationUnavailable, errorCode(t, rr))
		assert.Equal(t, retryAfterSeconds, rr.Header().Get("Retry-After"))
	})
	t.Run("invalid feature state", func(t *testing.T) {
		h := newHarness(t, &stubCaller{response: validContent(t)}, nil)
		f, err := h.store.CreateFeature(context.Background(), forecast.Feature{
			OrgID: "org-1", Title: "Legacy", Type: forecast.TypeRetention, Problem: "p", TargetUsers: "u", EffortDays: 0,
		})
		require.NoError(t, err)
		rr := h.do(t, http.MethodPost, "/v1/features/"+f.ID+"/forecasts", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		assert.Equal(t, CodeInvalidFeatureState, errorCode(t, rr))
	})
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, classifyError(errors.New("boom")).status)
	assert.Equal(t, http.StatusServiceUnavailable, classifyError(context.DeadlineExceeded).status)
}

func TestCORSPreflight(t *testing.T) {
	h := NewServer(Config{
		Store:       store.NewMemoryStore(store.Config{}),
		CORSOrigins: []string{"https://app.forecastforge.test"},
		Log:         zerolog.Nop(),
	})
	req := httptest.NewRequest(http.MethodOptions, "/v1/features", nil)
	req.Header.Set("Origin", "https://app.forecastforge.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "https://app.forecastforge.test", rr.Header().Get("Access-Control-Allow-Origin"))
}
