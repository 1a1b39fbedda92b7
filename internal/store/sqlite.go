package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/joelkehle/forecastforge/internal/forecast"
)

// SQLiteStore persists features, evidence and forecasts in a single SQLite
// file. Forecast versions are assigned inside the insert transaction and
// guarded by UNIQUE(feature_id, version).
type SQLiteStore struct {
	db  *sqlx.DB
	cfg Config
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS features (
	feature_id       TEXT PRIMARY KEY,
	org_id           TEXT NOT NULL,
	title            TEXT NOT NULL,
	type             TEXT NOT NULL,
	problem          TEXT NOT NULL DEFAULT '',
	target_users     TEXT NOT NULL DEFAULT '',
	effort_days      INTEGER NOT NULL,
	constraints_text TEXT NOT NULL DEFAULT '',
	pricing_plans    TEXT NOT NULL DEFAULT '[]',
	baseline         TEXT,
	created_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS features_org ON features (org_id, created_at);

CREATE TABLE IF NOT EXISTS evidence (
	evidence_id TEXT PRIMARY KEY,
	feature_id  TEXT NOT NULL REFERENCES features (feature_id),
	source_type TEXT NOT NULL,
	content     TEXT NOT NULL,
	link        TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS evidence_feature ON evidence (feature_id, created_at);

CREATE TABLE IF NOT EXISTS forecasts (
	forecast_id TEXT PRIMARY KEY,
	feature_id  TEXT NOT NULL REFERENCES features (feature_id),
	version     INTEGER NOT NULL,
	created_at  TEXT NOT NULL,
	roi_score   REAL NOT NULL,
	confidence  TEXT NOT NULL,
	payload     TEXT NOT NULL,
	UNIQUE (feature_id, version)
);
`

type featureRow struct {
	ID           string         `db:"feature_id"`
	OrgID        string         `db:"org_id"`
	Title        string         `db:"title"`
	Type         string         `db:"type"`
	Problem      string         `db:"problem"`
	TargetUsers  string         `db:"target_users"`
	EffortDays   int            `db:"effort_days"`
	Constraints  string         `db:"constraints_text"`
	PricingPlans string         `db:"pricing_plans"`
	Baseline     sql.NullString `db:"baseline"`
	CreatedAt    string         `db:"created_at"`
}

type evidenceRow struct {
	ID         string `db:"evidence_id"`
	FeatureID  string `db:"feature_id"`
	SourceType string `db:"source_type"`
	Content    string `db:"content"`
	Link       string `db:"link"`
	CreatedAt  string `db:"created_at"`
}

type forecastRow struct {
	ID         string  `db:"forecast_id"`
	FeatureID  string  `db:"feature_id"`
	Version    int     `db:"version"`
	CreatedAt  string  `db:"created_at"`
	ROIScore   float64 `db:"roi_score"`
	Confidence string  `db:"confidence"`
	Payload    string  `db:"payload"`
}

func NewSQLiteStore(dbPath string, cfg Config) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db, cfg: cfg.withDefaults()}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) CreateFeature(ctx context.Context, f forecast.Feature) (forecast.Feature, error) {
	if f.ID == "" {
		f.ID = s.cfg.NewID()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = s.cfg.Clock().UTC()
	}
	row := featureRow{
		ID:           f.ID,
		OrgID:        f.OrgID,
		Title:        f.Title,
		Type:         string(f.Type),
		Problem:      f.Problem,
		TargetUsers:  f.TargetUsers,
		EffortDays:   f.EffortDays,
		Constraints:  f.Constraints,
		PricingPlans: marshalJSON(nonNil(f.PricingPlans)),
		Baseline:     nullableJSON(f.Baseline),
		CreatedAt:    timeToString(f.CreatedAt),
	}
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO features
		(feature_id, org_id, title, type, problem, target_users, effort_days, constraints_text, pricing_plans, baseline, created_at)
		VALUES (:feature_id, :org_id, :title, :type, :problem, :target_users, :effort_days, :constraints_text, :pricing_plans, :baseline, :created_at)`, row)
	if err != nil {
		return forecast.Feature{}, fmt.Errorf("insert feature: %w", err)
	}
	return f, nil
}

func (s *SQLiteStore) GetFeature(ctx context.Context, id string) (forecast.Feature, error) {
	var row featureRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM features WHERE feature_id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return forecast.Feature{}, fmt.Errorf("feature %s: %w", id, forecast.ErrFeatureNotFound)
	}
	if err != nil {
		return forecast.Feature{}, fmt.Errorf("get feature: %w", err)
	}
	return row.toFeature()
}

func (s *SQLiteStore) ListFeatures(ctx context.Context, orgID string) ([]forecast.Feature, error) {
	var rows []featureRow
	var err error
	if orgID == "" {
		err = s.db.SelectContext(ctx, &rows, "SELECT * FROM features ORDER BY created_at, rowid")
	} else {
		err = s.db.SelectContext(ctx, &rows, "SELECT * FROM features WHERE org_id = ? ORDER BY created_at, rowid", orgID)
	}
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	out := make([]forecast.Feature, 0, len(rows))
	for _, r := range rows {
		f, err := r.toFeature()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *SQLiteStore) AddEvidence(ctx context.Context, e forecast.Evidence) (forecast.Evidence, error) {
	if err := s.featureExists(ctx, s.db, e.FeatureID); err != nil {
		return forecast.Evidence{}, err
	}
	if e.ID == "" {
		e.ID = s.cfg.NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.cfg.Clock().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO evidence
		(evidence_id, feature_id, source_type, content, link, created_at)
		VALUES (:evidence_id, :feature_id, :source_type, :content, :link, :created_at)`, evidenceRow{
		ID:         e.ID,
		FeatureID:  e.FeatureID,
		SourceType: string(e.SourceType),
		Content:    e.Content,
		Link:       e.Link,
		CreatedAt:  timeToString(e.CreatedAt),
	})
	if err != nil {
		return forecast.Evidence{}, fmt.Errorf("insert evidence: %w", err)
	}
	return e, nil
}

func (s *SQLiteStore) ListEvidence(ctx context.Context, featureID string) ([]forecast.Evidence, error) {
	var rows []evidenceRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM evidence WHERE feature_id = ? ORDER BY created_at, rowid", featureID); err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	out := make([]forecast.Evidence, 0, len(rows))
	for _, r := range rows {
		created, _ := time.Parse(timeLayout, r.CreatedAt)
		out = append(out, forecast.Evidence{
			ID:         r.ID,
			FeatureID:  r.FeatureID,
			SourceType: forecast.SourceType(r.SourceType),
			Content:    r.Content,
			Link:       r.Link,
			CreatedAt:  created,
		})
	}
	return out, nil
}

func (s *SQLiteStore) DeleteEvidence(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM evidence WHERE evidence_id = ?", id)
	if err != nil {
		return fmt.Errorf("delete evidence: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("evidence %s: %w", id, forecast.ErrEvidenceNotFound)
	}
	return nil
}

// AppendForecast computes the next version and inserts the record in one
// transaction; the single connection serializes concurrent appends.
func (s *SQLiteStore) AppendForecast(ctx context.Context, f forecast.Forecast) (forecast.Forecast, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return forecast.Forecast{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := s.featureExists(ctx, tx, f.FeatureID); err != nil {
		return forecast.Forecast{}, err
	}
	var next int
	if err := tx.GetContext(ctx, &next, "SELECT COALESCE(MAX(version), 0) + 1 FROM forecasts WHERE feature_id = ?", f.FeatureID); err != nil {
		return forecast.Forecast{}, fmt.Errorf("next version: %w", err)
	}
	f.Version = next
	if f.ID == "" {
		f.ID = s.cfg.NewID()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = s.cfg.Clock().UTC()
	}
	payload, err := json.Marshal(f)
	if err != nil {
		return forecast.Forecast{}, fmt.Errorf("encode forecast: %w", err)
	}
	if _, err := tx.NamedExecContext(ctx, `INSERT INTO forecasts
		(forecast_id, feature_id, version, created_at, roi_score, confidence, payload)
		VALUES (:forecast_id, :feature_id, :version, :created_at, :roi_score, :confidence, :payload)`, forecastRow{
		ID:         f.ID,
		FeatureID:  f.FeatureID,
		Version:    f.Version,
		CreatedAt:  timeToString(f.CreatedAt),
		ROIScore:   f.ROIScore,
		Confidence: string(f.Confidence),
		Payload:    string(payload),
	}); err != nil {
		return forecast.Forecast{}, fmt.Errorf("insert forecast: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return forecast.Forecast{}, fmt.Errorf("commit: %w", err)
	}
	return f, nil
}

func (s *SQLiteStore) ListForecasts(ctx context.Context, featureID string) ([]forecast.Forecast, error) {
	var rows []forecastRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM forecasts WHERE feature_id = ? ORDER BY version", featureID); err != nil {
		return nil, fmt.Errorf("list forecasts: %w", err)
	}
	out := make([]forecast.Forecast, 0, len(rows))
	for _, r := range rows {
		f, err := r.toForecast()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *SQLiteStore) GetForecast(ctx context.Context, id string) (forecast.Forecast, error) {
	var row forecastRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM forecasts WHERE forecast_id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return forecast.Forecast{}, fmt.Errorf("forecast %s: %w", id, forecast.ErrForecastNotFound)
	}
	if err != nil {
		return forecast.Forecast{}, fmt.Errorf("get forecast: %w", err)
	}
	return row.toForecast()
}

func (s *SQLiteStore) featureExists(ctx context.Context, q sqlx.QueryerContext, id string) error {
	var n int
	if err := sqlx.GetContext(ctx, q, &n, "SELECT COUNT(1) FROM features WHERE feature_id = ?", id); err != nil {
		return fmt.Errorf("lookup feature: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("feature %s: %w", id, forecast.ErrFeatureNotFound)
	}
	return nil
}

func (r featureRow) toFeature() (forecast.Feature, error) {
	f := forecast.Feature{
		ID:          r.ID,
		OrgID:       r.OrgID,
		Title:       r.Title,
		Type:        forecast.FeatureType(r.Type),
		Problem:     r.Problem,
		TargetUsers: r.TargetUsers,
		EffortDays:  r.EffortDays,
		Constraints: r.Constraints,
	}
	if err := json.Unmarshal([]byte(r.PricingPlans), &f.PricingPlans); err != nil {
		return forecast.Feature{}, fmt.Errorf("decode pricing plans of %s: %w", r.ID, err)
	}
	if len(f.PricingPlans) == 0 {
		f.PricingPlans = nil
	}
	if r.Baseline.Valid && r.Baseline.String != "" {
		f.Baseline = &forecast.BaselineMetrics{}
		if err := json.Unmarshal([]byte(r.Baseline.String), f.Baseline); err != nil {
			return forecast.Feature{}, fmt.Errorf("decode baseline of %s: %w", r.ID, err)
		}
	}
	f.CreatedAt, _ = time.Parse(timeLayout, r.CreatedAt)
	return f, nil
}

func (r forecastRow) toForecast() (forecast.Forecast, error) {
	var f forecast.Forecast
	if err := json.Unmarshal([]byte(r.Payload), &f); err != nil {
		return forecast.Forecast{}, fmt.Errorf("decode forecast %s: %w", r.ID, err)
	}
	f.ID, f.FeatureID, f.Version = r.ID, r.FeatureID, r.Version
	return f, nil
}

// timeLayout is fixed width so created_at columns sort chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func timeToString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func nullableJSON[T any](v *T) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ Store = (*SQLiteStore)(nil)
