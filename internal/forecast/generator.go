package forecast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/joelkehle/forecastforge/internal/forecast"

type GenerationState string

const (
	StateRequesting      GenerationState = "requesting"
	StateValidating      GenerationState = "validating"
	StateRetrying        GenerationState = "retrying"
	StateSucceeded       GenerationState = "succeeded"
	StateFailedSchema    GenerationState = "failed_schema"
	StateFailedTransport GenerationState = "failed_transport"
)

func (s GenerationState) Terminal() bool {
	return s == StateSucceeded || s == StateFailedSchema || s == StateFailedTransport
}

// GenerationRun is the inspectable record of one Generate call. SchemaAttempts
// counts model responses requested; TransportAttempts counts every model call
// made, including backoff retries, across all schema attempts. Violations holds
// one entry per rejected response.
type GenerationRun struct {
	State                GenerationState   `json:"state"`
	History              []GenerationState `json:"history"`
	SchemaAttempts       int               `json:"schemaAttempts"`
	TransportAttempts    int               `json:"transportAttempts"`
	MaxSchemaAttempts    int               `json:"maxSchemaAttempts"`
	MaxTransportAttempts int               `json:"maxTransportAttempts"`
	Violations           [][]string        `json:"violations,omitempty"`
}

func (r *GenerationRun) transition(s GenerationState) {
	r.State = s
	r.History = append(r.History, s)
}

type GeneratorConfig struct {
	// MaxSchemaAttempts bounds model responses per generation.
	MaxSchemaAttempts int
	// MaxTransportAttempts bounds tries of a single model call.
	MaxTransportAttempts int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
}

func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		MaxSchemaAttempts:    DefaultMaxAttempt,
		MaxTransportAttempts: DefaultMaxAttempt,
		InitialBackoff:       time.Second,
		MaxBackoff:           8 * time.Second,
	}
}

// Generator turns a GenerationRequest into schema-valid Content. Responses
// that fail validation are discarded whole and requested again with a
// correction; failed model calls are retried with exponential backoff.
type Generator struct {
	caller LLMCaller
	cfg    GeneratorConfig
	log    zerolog.Logger
	tracer trace.Tracer
}

func NewGenerator(caller LLMCaller, cfg GeneratorConfig, logger zerolog.Logger) *Generator {
	def := DefaultGeneratorConfig()
	if cfg.MaxSchemaAttempts <= 0 {
		cfg.MaxSchemaAttempts = def.MaxSchemaAttempts
	}
	if cfg.MaxTransportAttempts <= 0 {
		cfg.MaxTransportAttempts = def.MaxTransportAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	return &Generator{caller: caller, cfg: cfg, log: logger, tracer: otel.Tracer(tracerName)}
}

func (g *Generator) ModelName() string {
	if g == nil || g.caller == nil {
		return DefaultLLMModel
	}
	return g.caller.ModelName()
}

func (g *Generator) Generate(ctx context.Context, req GenerationRequest) (content Content, run GenerationRun, err error) {
	ctx, span := g.tracer.Start(ctx, "forecast.generate", trace.WithAttributes(
		attribute.String("forecast.tag", req.Tag),
		attribute.String("forecast.prompt_version", req.PromptVersion),
		attribute.String("llm.model", g.ModelName()),
	))
	defer func() {
		span.SetAttributes(
			attribute.String("forecast.generation_state", string(run.State)),
			attribute.Int("forecast.schema_attempts", run.SchemaAttempts),
			attribute.Int("forecast.transport_attempts", run.TransportAttempts),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(run.State))
		}
		span.End()
	}()

	run = GenerationRun{
		MaxSchemaAttempts:    g.cfg.MaxSchemaAttempts,
		MaxTransportAttempts: g.cfg.MaxTransportAttempts,
	}
	feedback := ""
	for attempt := 1; attempt <= g.cfg.MaxSchemaAttempts; attempt++ {
		run.transition(StateRequesting)
		run.SchemaAttempts = attempt
		prompt := req.Prompt
		if feedback != "" {
			prompt += "\n\n" + feedback
		}

		attemptStart := time.Now()
		g.log.Info().Str("tag", req.Tag).Int("attempt", attempt).Msg("forecast_attempt_start")
		raw, callErr := g.call(ctx, req, prompt, attempt, &run)
		if callErr != nil {
			g.log.Warn().Str("tag", req.Tag).Int("attempt", attempt).Int("transport_attempts", run.TransportAttempts).
				Dur("elapsed", time.Since(attemptStart)).Err(callErr).Msg("forecast_attempt_transport_failed")
			run.transition(StateFailedTransport)
			return Content{}, run, &GenerationError{Kind: ErrGenerationUnavailable, Run: run, Err: callErr}
		}

		run.transition(StateValidating)
		parsed, violations := ParseContent(raw, req.Direction)
		if len(violations) == 0 {
			g.log.Info().Str("tag", req.Tag).Int("attempt", attempt).Dur("elapsed", time.Since(attemptStart)).
				Int("response_chars", len(raw)).Msg("forecast_attempt_success")
			run.transition(StateSucceeded)
			return parsed, run, nil
		}
		run.Violations = append(run.Violations, violations)
		g.log.Warn().Str("tag", req.Tag).Int("attempt", attempt).Int("violations", len(violations)).
			Strs("details", violations).Msg("forecast_attempt_validation_error")
		if attempt == g.cfg.MaxSchemaAttempts {
			break
		}
		if cerr := ctx.Err(); cerr != nil {
			run.transition(StateFailedTransport)
			return Content{}, run, &GenerationError{Kind: ErrGenerationUnavailable, Run: run, Err: cerr}
		}
		run.transition(StateRetrying)
		feedback = correctionFeedback(attempt+1, violations, req.Direction)
	}
	run.transition(StateFailedSchema)
	last := run.Violations[len(run.Violations)-1]
	return Content{}, run, &GenerationError{Kind: ErrGenerationSchema, Run: run, Err: violationError(last)}
}

// call performs one model request, retrying transient transport failures.
func (g *Generator) call(ctx context.Context, req GenerationRequest, prompt string, attempt int, run *GenerationRun) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.InitialBackoff
	b.MaxInterval = g.cfg.MaxBackoff
	try := 0
	return backoff.Retry(ctx, func() (string, error) {
		try++
		run.TransportAttempts++
		raw, err := g.caller.GenerateJSON(ctx, req.System, prompt)
		if err == nil {
			return raw, nil
		}
		class := classifyTransportError(err)
		g.log.Warn().Str("tag", req.Tag).Int("attempt", attempt).Int("try", try).
			Str("class", class.String()).Err(err).Msg("forecast_transport_error")
		if !class.retryable() {
			return "", backoff.Permanent(err)
		}
		return "", err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(g.cfg.MaxTransportAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
}

// correctionFeedback grows more explicit with every attempt: the second
// attempt sees the violations, later attempts also get the schema and rules.
func correctionFeedback(nextAttempt int, violations []string, d Direction) string {
	var b strings.Builder
	if nextAttempt <= 2 {
		b.WriteString("Your previous response failed validation:\n")
		writeBullets(&b, violations)
		b.WriteString("Fix every listed problem and return the complete JSON object only.")
		return b.String()
	}
	fmt.Fprintf(&b, "FINAL CORRECTION (attempt %d). Your previous response failed validation again:\n", nextAttempt)
	writeBullets(&b, violations)
	b.WriteString("\n")
	b.WriteString(contentSchemaPrompt)
	b.WriteString("\n\nStrict rules:\n")
	writeBullets(&b, []string{
		"Return exactly one JSON object. No prose, no Markdown code fences.",
		"Include every field of the schema. Do not add fields.",
		"Every probability is a number between 0 and 1 inclusive, not a percentage.",
		"severity and likelihood are exactly one of low, medium, high.",
		fmt.Sprintf("assumptions, risks, alternatives, validationPlan and each steps list hold 1 to %d entries.", MaxListItems),
		"impactLow, impactMid and impactHigh use the same unit and numeric values.",
		directionInstruction(d),
	})
	return b.String()
}

func writeBullets(b *strings.Builder, items []string) {
	for _, it := range items {
		b.WriteString("- ")
		b.WriteString(it)
		b.WriteString("\n")
	}
}

func violationError(violations []string) error {
	errs := make([]error, 0, len(violations))
	for _, v := range violations {
		errs = append(errs, errors.New(v))
	}
	return errors.Join(errs...)
}
