package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/joelkehle/forecastforge/internal/forecast"
)

// MemoryStore keeps everything in process memory. All operations hold one
// mutex, which makes AppendForecast's read-max-then-insert atomic.
type MemoryStore struct {
	mu  sync.Mutex
	cfg Config

	features      map[string]forecast.Feature
	evidence      map[string]forecast.Evidence
	forecasts     map[string]forecast.Forecast
	featureOrder  []string
	evidenceByFID map[string][]string
	versions      map[string][]string
}

func NewMemoryStore(cfg Config) *MemoryStore {
	return &MemoryStore{
		cfg:           cfg.withDefaults(),
		features:      map[string]forecast.Feature{},
		evidence:      map[string]forecast.Evidence{},
		forecasts:     map[string]forecast.Forecast{},
		evidenceByFID: map[string][]string{},
		versions:      map[string][]string{},
	}
}

func (s *MemoryStore) CreateFeature(_ context.Context, f forecast.Feature) (forecast.Feature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ID == "" {
		f.ID = s.cfg.NewID()
	}
	if _, exists := s.features[f.ID]; exists {
		return forecast.Feature{}, fmt.Errorf("feature %s already exists: %w", f.ID, forecast.ErrInvalidInput)
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = s.cfg.Clock().UTC()
	}
	s.features[f.ID] = cloneFeature(f)
	s.featureOrder = append(s.featureOrder, f.ID)
	return cloneFeature(f), nil
}

func (s *MemoryStore) GetFeature(_ context.Context, id string) (forecast.Feature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.features[id]
	if !ok {
		return forecast.Feature{}, fmt.Errorf("feature %s: %w", id, forecast.ErrFeatureNotFound)
	}
	return cloneFeature(f), nil
}

func (s *MemoryStore) ListFeatures(_ context.Context, orgID string) ([]forecast.Feature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []forecast.Feature{}
	for _, id := range s.featureOrder {
		f := s.features[id]
		if orgID != "" && f.OrgID != orgID {
			continue
		}
		out = append(out, cloneFeature(f))
	}
	return out, nil
}

func (s *MemoryStore) AddEvidence(_ context.Context, e forecast.Evidence) (forecast.Evidence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.features[e.FeatureID]; !ok {
		return forecast.Evidence{}, fmt.Errorf("feature %s: %w", e.FeatureID, forecast.ErrFeatureNotFound)
	}
	if e.ID == "" {
		e.ID = s.cfg.NewID()
	}
	if _, exists := s.evidence[e.ID]; exists {
		return forecast.Evidence{}, fmt.Errorf("evidence %s already exists: %w", e.ID, forecast.ErrInvalidInput)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.cfg.Clock().UTC()
	}
	s.evidence[e.ID] = e
	s.evidenceByFID[e.FeatureID] = append(s.evidenceByFID[e.FeatureID], e.ID)
	return e, nil
}

func (s *MemoryStore) ListEvidence(_ context.Context, featureID string) ([]forecast.Evidence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []forecast.Evidence{}
	for _, id := range s.evidenceByFID[featureID] {
		out = append(out, s.evidence[id])
	}
	return out, nil
}

func (s *MemoryStore) DeleteEvidence(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.evidence[id]
	if !ok {
		return fmt.Errorf("evidence %s: %w", id, forecast.ErrEvidenceNotFound)
	}
	delete(s.evidence, id)
	ids := s.evidenceByFID[e.FeatureID]
	for i, eid := range ids {
		if eid == id {
			s.evidenceByFID[e.FeatureID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) AppendForecast(_ context.Context, f forecast.Forecast) (forecast.Forecast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.features[f.FeatureID]; !ok {
		return forecast.Forecast{}, fmt.Errorf("feature %s: %w", f.FeatureID, forecast.ErrFeatureNotFound)
	}
	if f.ID == "" {
		f.ID = s.cfg.NewID()
	}
	if _, exists := s.forecasts[f.ID]; exists {
		return forecast.Forecast{}, fmt.Errorf("forecast %s already exists: %w", f.ID, forecast.ErrInvalidInput)
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = s.cfg.Clock().UTC()
	}
	f.Version = len(s.versions[f.FeatureID]) + 1
	s.forecasts[f.ID] = f.Clone()
	s.versions[f.FeatureID] = append(s.versions[f.FeatureID], f.ID)
	return f.Clone(), nil
}

func (s *MemoryStore) ListForecasts(_ context.Context, featureID string) ([]forecast.Forecast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []forecast.Forecast{}
	for _, id := range s.versions[featureID] {
		out = append(out, s.forecasts[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (s *MemoryStore) GetForecast(_ context.Context, id string) (forecast.Forecast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.forecasts[id]
	if !ok {
		return forecast.Forecast{}, fmt.Errorf("forecast %s: %w", id, forecast.ErrForecastNotFound)
	}
	return f.Clone(), nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func cloneFeature(f forecast.Feature) forecast.Feature {
	f.PricingPlans = append([]string(nil), f.PricingPlans...)
	if f.Baseline != nil {
		b := *f.Baseline
		b.ARPA = cloneFloat(b.ARPA)
		b.MonthlyActiveAccounts = cloneFloat(b.MonthlyActiveAccounts)
		b.TrialToPaid = cloneFloat(b.TrialToPaid)
		b.ChurnMonthly = cloneFloat(b.ChurnMonthly)
		b.SupportTicketsMonthly = cloneFloat(b.SupportTicketsMonthly)
		f.Baseline = &b
	}
	return f
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

var _ Store = (*MemoryStore)(nil)
