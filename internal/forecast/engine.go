package forecast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type FeatureReader interface {
	// GetFeature returns an error matching ErrFeatureNotFound for unknown ids.
	GetFeature(ctx context.Context, id string) (Feature, error)
}

type EvidenceReader interface {
	ListEvidence(ctx context.Context, featureID string) ([]Evidence, error)
}

// ForecastStore persists forecast versions. AppendForecast assigns the next
// version for the feature (max existing + 1, or 1) atomically, and an id and
// creation time when they are unset.
type ForecastStore interface {
	AppendForecast(ctx context.Context, f Forecast) (Forecast, error)
	ListForecasts(ctx context.Context, featureID string) ([]Forecast, error)
	GetForecast(ctx context.Context, id string) (Forecast, error)
}

// Locker serializes generations per feature. The returned func releases the
// lock and is safe to call once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

type EngineConfig struct {
	Scoring           ScoringConfig
	GenerationTimeout time.Duration
	Clock             func() time.Time
	NewTag            func() string
}

type Deps struct {
	Features  FeatureReader
	Evidence  EvidenceReader
	Forecasts ForecastStore
	Locker    Locker
	Generator *Generator
}

type Engine struct {
	features  FeatureReader
	evidence  EvidenceReader
	forecasts ForecastStore
	locker    Locker
	generator *Generator
	cfg       EngineConfig
	log       zerolog.Logger
	tracer    trace.Tracer
}

func NewEngine(d Deps, cfg EngineConfig, logger zerolog.Logger) (*Engine, error) {
	if d.Features == nil || d.Evidence == nil || d.Forecasts == nil {
		return nil, errors.New("engine requires feature, evidence and forecast stores")
	}
	if d.Locker == nil {
		return nil, errors.New("engine requires a locker")
	}
	if d.Generator == nil {
		return nil, errors.New("engine requires a generator")
	}
	if err := cfg.Scoring.Validate(); err != nil {
		return nil, fmt.Errorf("scoring config: %w", err)
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = 2 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NewTag == nil {
		cfg.NewTag = func() string { return "gen-" + uuid.NewString() }
	}
	return &Engine{
		features:  d.Features,
		evidence:  d.Evidence,
		forecasts: d.Forecasts,
		locker:    d.Locker,
		generator: d.Generator,
		cfg:       cfg,
		log:       logger,
		tracer:    otel.Tracer(tracerName),
	}, nil
}

func (e *Engine) ScoringConfig() ScoringConfig { return e.cfg.Scoring }

// ScoreFeature computes the current deterministic score of a feature without
// generating or persisting anything.
func (e *Engine) ScoreFeature(ctx context.Context, featureID string) (ScoreResult, error) {
	feature, err := e.features.GetFeature(ctx, featureID)
	if err != nil {
		return ScoreResult{}, err
	}
	items, err := e.evidence.ListEvidence(ctx, featureID)
	if err != nil {
		return ScoreResult{}, fmt.Errorf("list evidence: %w", err)
	}
	return Compute(feature, AggregateEvidence(items, e.cfg.Scoring), len(items), e.cfg.Scoring)
}

// GenerateForecast scores a feature, generates validated narrative content and
// persists the result as the feature's next forecast version. On any error
// nothing is persisted.
func (e *Engine) GenerateForecast(ctx context.Context, featureID string) (out Forecast, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.GenerationTimeout)
	defer cancel()
	ctx, span := e.tracer.Start(ctx, "forecast.generate_forecast", trace.WithAttributes(
		attribute.String("feature.id", featureID),
	))
	start := e.cfg.Clock()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "generate forecast failed")
			e.log.Warn().Str("feature_id", featureID).Err(err).Msg("forecast_generation_failed")
		} else {
			span.SetAttributes(attribute.Int("forecast.version", out.Version))
		}
		span.End()
	}()

	feature, err := e.features.GetFeature(ctx, featureID)
	if err != nil {
		return Forecast{}, err
	}

	unlock, err := e.locker.Lock(ctx, "forecast:"+featureID)
	if err != nil {
		return Forecast{}, fmt.Errorf("lock feature %s: %w", featureID, err)
	}
	defer unlock()

	items, err := e.evidence.ListEvidence(ctx, featureID)
	if err != nil {
		return Forecast{}, fmt.Errorf("list evidence: %w", err)
	}
	signal := AggregateEvidence(items, e.cfg.Scoring)
	score, err := Compute(feature, signal, len(items), e.cfg.Scoring)
	if err != nil {
		return Forecast{}, err
	}
	e.log.Info().Str("feature_id", featureID).Float64("roi_score", score.ROIScore).
		Str("confidence", string(score.Confidence)).Int("evidence", len(items)).Msg("forecast_scored")

	req := BuildRequest(feature, items, score, e.cfg.NewTag())
	content, run, err := e.generator.Generate(ctx, req)
	if err != nil {
		return Forecast{}, err
	}

	record := Assemble(feature.ID, score, content, run, AssemblyMeta{
		Direction:     req.Direction,
		PromptVersion: req.PromptVersion,
		Model:         e.generator.ModelName(),
		Tag:           req.Tag,
	}, e.cfg.Clock())
	saved, err := e.forecasts.AppendForecast(ctx, record)
	if err != nil {
		return Forecast{}, fmt.Errorf("append forecast: %w", err)
	}
	e.log.Info().Str("feature_id", featureID).Str("forecast_id", saved.ID).Int("version", saved.Version).
		Int("schema_attempts", run.SchemaAttempts).Int("transport_attempts", run.TransportAttempts).
		Dur("elapsed", e.cfg.Clock().Sub(start)).Msg("forecast_created")
	return saved, nil
}
