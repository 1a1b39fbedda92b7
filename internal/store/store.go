// Package store holds the persistence backends for features, evidence and
// forecast versions.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joelkehle/forecastforge/internal/forecast"
)

type Store interface {
	forecast.FeatureReader
	forecast.EvidenceReader
	forecast.ForecastStore

	CreateFeature(ctx context.Context, f forecast.Feature) (forecast.Feature, error)
	ListFeatures(ctx context.Context, orgID string) ([]forecast.Feature, error)
	AddEvidence(ctx context.Context, e forecast.Evidence) (forecast.Evidence, error)
	DeleteEvidence(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}

type Config struct {
	Clock func() time.Time
	NewID func() string
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.NewID == nil {
		c.NewID = uuid.NewString
	}
	return c
}
