// Package config resolves runtime configuration for the forecastforge binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/joelkehle/forecastforge/internal/forecast"
)

type Config struct {
	HTTPAddr    string
	CORSOrigins []string
	// DBPath selects the SQLite store; empty keeps everything in memory.
	DBPath string
	// RedisURL enables the shared lock; empty uses an in-process lock.
	RedisURL string
	LockTTL  time.Duration

	AnthropicAPIKey string
	Model           string
	MaxTokens       int64
	RateLimit       float64
	RateBurst       int

	MaxSchemaAttempts    int
	MaxTransportAttempts int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	GenerationTimeout    time.Duration

	ServiceName  string
	OTLPEndpoint string
	LogLevel     string
	LogFormat    string

	ChromePath string
	PDFTimeout time.Duration

	Scoring forecast.ScoringConfig
}

// configFile mirrors the YAML layout. Scoring is decoded over the defaults,
// so a file only needs the keys it changes.
type configFile struct {
	Server struct {
		Addr     string   `yaml:"addr"`
		DBPath   string   `yaml:"db_path"`
		RedisURL string   `yaml:"redis_url"`
		LockTTL  string   `yaml:"lock_ttl"`
		CORS     []string `yaml:"cors_origins"`
	} `yaml:"server"`
	Model struct {
		Name      string  `yaml:"name"`
		MaxTokens int64   `yaml:"max_tokens"`
		RateLimit float64 `yaml:"rate_limit"`
		RateBurst int     `yaml:"rate_burst"`
	} `yaml:"model"`
	Generation struct {
		MaxSchemaAttempts    int    `yaml:"max_schema_attempts"`
		MaxTransportAttempts int    `yaml:"max_transport_attempts"`
		InitialBackoff       string `yaml:"initial_backoff"`
		MaxBackoff           string `yaml:"max_backoff"`
		Timeout              string `yaml:"timeout"`
	} `yaml:"generation"`
	Telemetry struct {
		ServiceName  string `yaml:"service_name"`
		OTLPEndpoint string `yaml:"otlp_endpoint"`
		LogLevel     string `yaml:"log_level"`
		LogFormat    string `yaml:"log_format"`
	} `yaml:"telemetry"`
	Report struct {
		ChromePath string `yaml:"chrome_path"`
		PDFTimeout string `yaml:"pdf_timeout"`
	} `yaml:"report"`
	Scoring yaml.Node `yaml:"scoring"`
}

func Defaults() Config {
	gen := forecast.DefaultGeneratorConfig()
	return Config{
		HTTPAddr:             ":8080",
		LockTTL:              5 * time.Minute,
		Model:                forecast.DefaultLLMModel,
		MaxTokens:            4096,
		RateLimit:            2,
		RateBurst:            4,
		MaxSchemaAttempts:    gen.MaxSchemaAttempts,
		MaxTransportAttempts: gen.MaxTransportAttempts,
		InitialBackoff:       gen.InitialBackoff,
		MaxBackoff:           gen.MaxBackoff,
		GenerationTimeout:    2 * time.Minute,
		ServiceName:          "forecastforge",
		LogLevel:             "info",
		LogFormat:            "json",
		PDFTimeout:           30 * time.Second,
		Scoring:              forecast.DefaultScoringConfig(),
	}
}

// Load resolves configuration in priority order: defaults -> YAML file ->
// .env files -> process environment. A missing file at path is not an error.
// With no envFiles, ".env" in the working directory is tried.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := applyFile(&cfg, raw); err != nil {
				return Config{}, err
			}
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// godotenv never overrides variables already set in the process.
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	setString(&cfg.HTTPAddr, f.Server.Addr)
	if len(f.Server.CORS) > 0 {
		cfg.CORSOrigins = f.Server.CORS
	}
	setString(&cfg.DBPath, f.Server.DBPath)
	setString(&cfg.RedisURL, f.Server.RedisURL)
	setString(&cfg.Model, f.Model.Name)
	if f.Model.MaxTokens > 0 {
		cfg.MaxTokens = f.Model.MaxTokens
	}
	if f.Model.RateLimit > 0 {
		cfg.RateLimit = f.Model.RateLimit
	}
	if f.Model.RateBurst > 0 {
		cfg.RateBurst = f.Model.RateBurst
	}
	if f.Generation.MaxSchemaAttempts > 0 {
		cfg.MaxSchemaAttempts = f.Generation.MaxSchemaAttempts
	}
	if f.Generation.MaxTransportAttempts > 0 {
		cfg.MaxTransportAttempts = f.Generation.MaxTransportAttempts
	}
	setString(&cfg.ServiceName, f.Telemetry.ServiceName)
	setString(&cfg.OTLPEndpoint, f.Telemetry.OTLPEndpoint)
	setString(&cfg.LogLevel, f.Telemetry.LogLevel)
	setString(&cfg.LogFormat, f.Telemetry.LogFormat)
	setString(&cfg.ChromePath, f.Report.ChromePath)

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"server.lock_ttl", f.Server.LockTTL, &cfg.LockTTL},
		{"generation.initial_backoff", f.Generation.InitialBackoff, &cfg.InitialBackoff},
		{"generation.max_backoff", f.Generation.MaxBackoff, &cfg.MaxBackoff},
		{"generation.timeout", f.Generation.Timeout, &cfg.GenerationTimeout},
		{"report.pdf_timeout", f.Report.PDFTimeout, &cfg.PDFTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if err := decodeScoring(&f.Scoring, &cfg.Scoring); err != nil {
		return fmt.Errorf("parse scoring: %w", err)
	}
	return nil
}

// decodeScoring overlays node on sc. Profiles merge per key so a partial
// profile keeps its default fields.
func decodeScoring(node *yaml.Node, sc *forecast.ScoringConfig) error {
	if node.Kind == 0 {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: scoring must be a mapping", node.Line)
	}
	rest := &yaml.Node{Kind: yaml.MappingNode, Tag: node.Tag, Line: node.Line, Column: node.Column}
	var profiles *yaml.Node
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "profiles" {
			profiles = node.Content[i+1]
			continue
		}
		rest.Content = append(rest.Content, node.Content[i], node.Content[i+1])
	}
	if err := rest.Decode(sc); err != nil {
		return err
	}
	if profiles == nil {
		return nil
	}
	var raw map[forecast.FeatureType]yaml.Node
	if err := profiles.Decode(&raw); err != nil {
		return err
	}
	merged := make(map[forecast.FeatureType]forecast.TypeProfile, len(sc.Profiles)+len(raw))
	for t, p := range sc.Profiles {
		merged[t] = p
	}
	for t, n := range raw {
		p, ok := merged[t]
		if !ok {
			p = forecast.TypeProfile{Type: t}
		}
		if err := n.Decode(&p); err != nil {
			return fmt.Errorf("profile %s: %w", t, err)
		}
		merged[t] = p
	}
	sc.Profiles = merged
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.HTTPAddr = envOrDefault("FORECASTFORGE_ADDR", cfg.HTTPAddr)
	cfg.DBPath = envOrDefault("FORECASTFORGE_DB_PATH", cfg.DBPath)
	cfg.CORSOrigins = envCSV("FORECASTFORGE_CORS_ORIGINS", cfg.CORSOrigins)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.AnthropicAPIKey = envOrDefault("ANTHROPIC_API_KEY", cfg.AnthropicAPIKey)
	cfg.Model = envOrDefault("FORECASTFORGE_MODEL", cfg.Model)
	cfg.ServiceName = envOrDefault("OTEL_SERVICE_NAME", cfg.ServiceName)
	cfg.OTLPEndpoint = envOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)
	cfg.LogLevel = strings.ToLower(envOrDefault("LOG_LEVEL", cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(envOrDefault("LOG_FORMAT", cfg.LogFormat))
	cfg.ChromePath = envOrDefault("CHROME_PATH", cfg.ChromePath)

	var err error
	if cfg.MaxTokens, err = envInt64("FORECASTFORGE_MAX_TOKENS", cfg.MaxTokens); err != nil {
		return err
	}
	if cfg.RateLimit, err = envFloat("FORECASTFORGE_RATE_LIMIT", cfg.RateLimit); err != nil {
		return err
	}
	ints := []struct {
		name string
		dst  *int
	}{
		{"FORECASTFORGE_RATE_BURST", &cfg.RateBurst},
		{"FORECASTFORGE_MAX_SCHEMA_ATTEMPTS", &cfg.MaxSchemaAttempts},
		{"FORECASTFORGE_MAX_TRANSPORT_ATTEMPTS", &cfg.MaxTransportAttempts},
	}
	for _, i := range ints {
		v, err := envInt64(i.name, int64(*i.dst))
		if err != nil {
			return err
		}
		*i.dst = int(v)
	}
	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"FORECASTFORGE_LOCK_TTL", &cfg.LockTTL},
		{"FORECASTFORGE_INITIAL_BACKOFF", &cfg.InitialBackoff},
		{"FORECASTFORGE_MAX_BACKOFF", &cfg.MaxBackoff},
		{"FORECASTFORGE_GENERATION_TIMEOUT", &cfg.GenerationTimeout},
		{"FORECASTFORGE_PDF_TIMEOUT", &cfg.PDFTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = envDuration(d.name, *d.dst); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http addr is required"))
	}
	if c.MaxSchemaAttempts < 1 || c.MaxTransportAttempts < 1 {
		errs = append(errs, errors.New("attempt bounds must be at least 1"))
	}
	if c.GenerationTimeout <= 0 {
		errs = append(errs, errors.New("generation timeout must be positive"))
	}
	if c.InitialBackoff <= 0 || c.MaxBackoff < c.InitialBackoff {
		errs = append(errs, errors.New("backoff must satisfy 0 < initial <= max"))
	}
	if c.RedisURL != "" && c.LockTTL <= c.GenerationTimeout {
		errs = append(errs, errors.New("lock ttl must exceed the generation timeout"))
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("log format %q must be json or console", c.LogFormat))
	}
	if err := c.Scoring.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scoring: %w", err))
	}
	return errors.Join(errs...)
}

// GeneratorConfig returns the retry bounds for forecast.NewGenerator.
func (c Config) GeneratorConfig() forecast.GeneratorConfig {
	return forecast.GeneratorConfig{
		MaxSchemaAttempts:    c.MaxSchemaAttempts,
		MaxTransportAttempts: c.MaxTransportAttempts,
		InitialBackoff:       c.InitialBackoff,
		MaxBackoff:           c.MaxBackoff,
	}
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func envOrDefault(name, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}

func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

func envInt64(name string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return v, nil
}

func envFloat(name string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return v, nil
}

func envDuration(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return v, nil
}
