// Package httpapi exposes features, evidence and forecasts over JSON/HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/joelkehle/forecastforge/internal/forecast"
	"github.com/joelkehle/forecastforge/internal/report"
	"github.com/joelkehle/forecastforge/internal/store"
)

const (
	CodeValidation            = "validation"
	CodeNotFound              = "not_found"
	CodeInvalidFeatureState   = "invalid_feature_state"
	CodeGenerationSchema      = "generation_schema"
	CodeGenerationUnavailable = "generation_unavailable"
	CodeUnsupported           = "unsupported"
	CodeInternal              = "internal"

	maxBodyBytes      = 1 << 20
	retryAfterSeconds = "5"
)

// Engine is the forecast surface the API drives.
type Engine interface {
	GenerateForecast(ctx context.Context, featureID string) (forecast.Forecast, error)
	ScoreFeature(ctx context.Context, featureID string) (forecast.ScoreResult, error)
}

type PDFRenderer interface {
	RenderForecast(ctx context.Context, feature forecast.Feature, fc forecast.Forecast) ([]byte, error)
}

type Config struct {
	Store  store.Store
	Engine Engine
	// PDF is optional; without it format=pdf answers 501.
	PDF PDFRenderer
	// CORSOrigins enables browser access from these origins.
	CORSOrigins []string
	Log         zerolog.Logger
}

type Server struct {
	store  store.Store
	engine Engine
	pdf    PDFRenderer
	log    zerolog.Logger
}

func NewServer(cfg Config) http.Handler {
	s := &Server{store: cfg.Store, engine: cfg.Engine, pdf: cfg.PDF, log: cfg.Log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders: []string{"Retry-After"},
			MaxAge:         300,
		}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/features", s.handleCreateFeature)
		r.Get("/features", s.handleListFeatures)
		r.Route("/features/{featureID}", func(r chi.Router) {
			r.Get("/", s.handleGetFeature)
			r.Get("/score", s.handleScoreFeature)
			r.Post("/evidence", s.handleAddEvidence)
			r.Get("/evidence", s.handleListEvidence)
			r.Post("/forecasts", s.handleGenerateForecast)
			r.Get("/forecasts", s.handleListForecasts)
		})
		r.Delete("/evidence/{evidenceID}", s.handleDeleteEvidence)
		r.Get("/forecasts/{forecastID}", s.handleGetForecast)
		r.Get("/forecasts/{forecastID}/report", s.handleReport)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type apiError struct {
	status    int
	code      string
	transient bool
}

// classifyError maps engine and store errors onto HTTP statuses.
func classifyError(err error) apiError {
	switch {
	case errors.Is(err, forecast.ErrFeatureNotFound),
		errors.Is(err, forecast.ErrForecastNotFound),
		errors.Is(err, forecast.ErrEvidenceNotFound):
		return apiError{http.StatusNotFound, CodeNotFound, false}
	case errors.Is(err, forecast.ErrInvalidInput):
		return apiError{http.StatusBadRequest, CodeValidation, false}
	case errors.Is(err, forecast.ErrInvalidFeatureState):
		return apiError{http.StatusUnprocessableEntity, CodeInvalidFeatureState, false}
	case errors.Is(err, forecast.ErrGenerationSchema):
		return apiError{http.StatusBadGateway, CodeGenerationSchema, false}
	case errors.Is(err, forecast.ErrGenerationUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return apiError{http.StatusServiceUnavailable, CodeGenerationUnavailable, true}
	default:
		return apiError{http.StatusInternalServerError, CodeInternal, true}
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae := classifyError(err)
	if ae.status >= 500 {
		s.log.Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).
			Str("code", ae.code).Msg("http_request_failed")
	}
	if ae.transient {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeJSON(w, ae.status, map[string]any{
		"ok": false,
		"error": map[string]any{
			"code":      ae.code,
			"message":   err.Error(),
			"transient": ae.transient,
		},
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is required: %w", forecast.ErrInvalidInput)
		}
		return fmt.Errorf("invalid JSON body: %v: %w", err, forecast.ErrInvalidInput)
	}
	return nil
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Msg("http_request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type featureRequest struct {
	OrgID        string                    `json:"orgId"`
	Title        string                    `json:"title"`
	Type         forecast.FeatureType      `json:"type"`
	Problem      string                    `json:"problem"`
	TargetUsers  string                    `json:"targetUsers"`
	EffortDays   int                       `json:"effortDays"`
	Constraints  string                    `json:"constraints"`
	PricingPlans []string                  `json:"pricingPlans"`
	Baseline     *forecast.BaselineMetrics `json:"baseline"`
}

func (s *Server) handleCreateFeature(w http.ResponseWriter, r *http.Request) {
	var req featureRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	f := forecast.NormalizeFeature(forecast.Feature{
		OrgID:        req.OrgID,
		Title:        req.Title,
		Type:         req.Type,
		Problem:      req.Problem,
		TargetUsers:  req.TargetUsers,
		EffortDays:   req.EffortDays,
		Constraints:  req.Constraints,
		PricingPlans: req.PricingPlans,
		Baseline:     req.Baseline,
	})
	if err := forecast.ValidateFeature(f); err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.store.CreateFeature(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "feature": created})
}

func (s *Server) handleListFeatures(w http.ResponseWriter, r *http.Request) {
	features, err := s.store.ListFeatures(r.Context(), strings.TrimSpace(r.URL.Query().Get("org_id")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "features": features})
}

func (s *Server) handleGetFeature(w http.ResponseWriter, r *http.Request) {
	f, err := s.store.GetFeature(r.Context(), chi.URLParam(r, "featureID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "feature": f})
}

func (s *Server) handleScoreFeature(w http.ResponseWriter, r *http.Request) {
	score, err := s.engine.ScoreFeature(r.Context(), chi.URLParam(r, "featureID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "score": score})
}

type evidenceRequest struct {
	SourceType forecast.SourceType `json:"sourceType"`
	Content    string              `json:"content"`
	Link       string              `json:"link"`
}

func (s *Server) handleAddEvidence(w http.ResponseWriter, r *http.Request) {
	var req evidenceRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	e := forecast.Evidence{
		FeatureID:  chi.URLParam(r, "featureID"),
		SourceType: forecast.SourceType(strings.ToLower(strings.TrimSpace(string(req.SourceType)))),
		Content:    strings.TrimSpace(req.Content),
		Link:       strings.TrimSpace(req.Link),
	}
	if err := forecast.ValidateEvidence(e); err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.store.AddEvidence(r.Context(), e)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "evidence": created})
}

func (s *Server) handleListEvidence(w http.ResponseWriter, r *http.Request) {
	featureID := chi.URLParam(r, "featureID")
	if _, err := s.store.GetFeature(r.Context(), featureID); err != nil {
		s.writeError(w, r, err)
		return
	}
	items, err := s.store.ListEvidence(r.Context(), featureID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "evidence": items})
}

func (s *Server) handleDeleteEvidence(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteEvidence(r.Context(), chi.URLParam(r, "evidenceID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGenerateForecast(w http.ResponseWriter, r *http.Request) {
	fc, err := s.engine.GenerateForecast(r.Context(), chi.URLParam(r, "featureID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "forecast": fc})
}

func (s *Server) handleListForecasts(w http.ResponseWriter, r *http.Request) {
	featureID := chi.URLParam(r, "featureID")
	if _, err := s.store.GetFeature(r.Context(), featureID); err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.store.ListForecasts(r.Context(), featureID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "forecasts": list})
}

func (s *Server) handleGetForecast(w http.ResponseWriter, r *http.Request) {
	fc, err := s.store.GetForecast(r.Context(), chi.URLParam(r, "forecastID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "forecast": fc})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	fc, err := s.store.GetForecast(r.Context(), chi.URLParam(r, "forecastID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	feature, err := s.store.GetFeature(r.Context(), fc.FeatureID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	switch format := strings.ToLower(r.URL.Query().Get("format")); format {
	case "", "md", "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = io.WriteString(w, forecast.BuildMarkdown(feature, fc))
	case "html":
		doc, err := report.RenderHTML(feature, fc)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, doc)
	case "pdf":
		if s.pdf == nil {
			writeJSON(w, http.StatusNotImplemented, map[string]any{
				"ok":    false,
				"error": map[string]any{"code": CodeUnsupported, "message": "pdf rendering is not configured", "transient": false},
			})
			return
		}
		pdf, err := s.pdf.RenderForecast(r.Context(), feature, fc)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="forecast-%s-v%d.pdf"`, fc.FeatureID, fc.Version))
		_, _ = w.Write(pdf)
	default:
		s.writeError(w, r, fmt.Errorf("format %q must be md, html or pdf: %w", format, forecast.ErrInvalidInput))
	}
}
