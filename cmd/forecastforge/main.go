package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/joelkehle/forecastforge/internal/config"
	"github.com/joelkehle/forecastforge/internal/forecast"
	"github.com/joelkehle/forecastforge/internal/httpapi"
	"github.com/joelkehle/forecastforge/internal/lock"
	"github.com/joelkehle/forecastforge/internal/logging"
	"github.com/joelkehle/forecastforge/internal/report"
	"github.com/joelkehle/forecastforge/internal/store"
	"github.com/joelkehle/forecastforge/internal/telemetry"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "forecastforge.yaml", "Path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: cfg.ServiceName})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("forecastforge_exit")
	}
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.OTLPEndpoint,
		Version:     version,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = shutdownTracing(sctx)
	}()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	locker, closeLocker, err := openLocker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLocker()

	anthropicCaller, err := forecast.NewAnthropicCaller(cfg.AnthropicAPIKey, cfg.Model, cfg.MaxTokens)
	if err != nil {
		return err
	}
	caller := forecast.NewRateLimitedCaller(anthropicCaller, cfg.RateLimit, cfg.RateBurst)
	gen := forecast.NewGenerator(caller, cfg.GeneratorConfig(), log)
	engine, err := forecast.NewEngine(forecast.Deps{
		Features:  st,
		Evidence:  st,
		Forecasts: st,
		Locker:    locker,
		Generator: gen,
	}, forecast.EngineConfig{
		Scoring:           cfg.Scoring,
		GenerationTimeout: cfg.GenerationTimeout,
	}, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewServer(httpapi.Config{
			Store:       st,
			Engine:      engine,
			PDF:         report.NewChromiumPDFRenderer(cfg.ChromePath, cfg.PDFTimeout),
			CORSOrigins: cfg.CORSOrigins,
			Log:         log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("model", gen.ModelName()).
			Str("scoring_version", cfg.Scoring.Version).Msg("forecastforge_listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("forecastforge_shutdown")
	sctx, scancel := context.WithTimeout(context.Background(), cfg.GenerationTimeout+5*time.Second)
	defer scancel()
	return srv.Shutdown(sctx)
}

func openStore(cfg config.Config) (store.Store, error) {
	if cfg.DBPath == "" {
		return store.NewMemoryStore(store.Config{}), nil
	}
	return store.NewSQLiteStore(cfg.DBPath, store.Config{})
}

func openLocker(ctx context.Context, cfg config.Config) (forecast.Locker, func(), error) {
	if cfg.RedisURL == "" {
		return lock.NewKeyedMutex(), func() {}, nil
	}
	client, err := lock.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	l := lock.NewRedisLocker(client, lock.RedisOptions{TTL: cfg.LockTTL})
	return l, func() { _ = client.Close() }, nil
}
