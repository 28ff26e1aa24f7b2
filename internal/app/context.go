// Package app assembles an engine from a workspace: config, database, logger,
// metrics and generator.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"parc/internal/config"
	"parc/internal/continuation"
	"parc/internal/db"
	"parc/internal/engine"
	"parc/internal/generator"
	"parc/internal/logging"
	"parc/internal/metrics"
	"parc/internal/migrate"
)

// Overrides replace config values for a single invocation (CLI flags, env).
type Overrides struct {
	Provider string
	Model    string
	LogLevel string
	// Offline skips generator construction.
	Offline bool
	// Quiet discards logs, for commands that own the terminal.
	Quiet bool
}

// App owns the resources behind an Engine.
type App struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Logger    *zap.Logger
	Metrics   *metrics.Collector
	Engine    engine.Engine
	// GeneratorErr records why no generator is available, if so.
	GeneratorErr error
}

// Open loads parc.yml (defaults when absent), opens and migrates the database
// and builds the generator. A generator that cannot be built leaves the engine
// usable for everything except continuation.
func Open(ctx context.Context, workspace string, ov Overrides) (*App, error) {
	cfg, err := config.LoadOrDefault(workspace)
	if err != nil {
		return nil, err
	}
	if ov.Provider != "" {
		cfg.Generator.Provider = ov.Provider
	}
	if ov.Model != "" {
		cfg.Generator.Model = ov.Model
	}
	if ov.LogLevel != "" {
		cfg.Logging.Level = ov.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Environment, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if ov.Quiet {
		logger = zap.NewNop()
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a := &App{
		Workspace: workspace,
		Config:    cfg,
		DB:        conn,
		Logger:    logger,
		Metrics:   metrics.NewCollector(),
	}
	eng := engine.New(conn, cfg)
	eng.Logger = logger
	eng.Metrics = a.Metrics
	if !ov.Offline {
		gen, err := generator.New(ctx, GeneratorOptions(cfg), logger)
		if err != nil {
			a.GeneratorErr = err
			logger.Debug("generator unavailable", zap.String("provider", cfg.Generator.Provider), zap.Error(err))
		} else {
			eng.Fetcher = continuation.NewFetcher(gen,
				continuation.WithLogger(logger),
				continuation.WithMetrics(a.Metrics),
				continuation.WithBreaker(continuation.NewBreaker(
					"generator-"+gen.Name(),
					uint32(cfg.Generator.BreakerThreshold),
					cfg.BreakerCooldown(),
					logger,
				)),
			)
		}
	}
	a.Engine = eng
	return a, nil
}

// RequireGenerator reports why continuation is unavailable.
func (a *App) RequireGenerator() error {
	if a.Engine.Fetcher != nil {
		return nil
	}
	if a.GeneratorErr != nil {
		return a.GeneratorErr
	}
	return generator.ErrNotConfigured
}

func (a *App) Close() error {
	_ = a.Logger.Sync()
	return a.DB.Close()
}

// GeneratorOptions maps parc.yml onto generator options.
func GeneratorOptions(cfg *config.Config) generator.Options {
	g := cfg.Generator
	opts := generator.Options{
		Provider:       g.Provider,
		Model:          g.Model,
		APIKey:         config.APIKey(),
		BaseURL:        g.BaseURL,
		OllamaEndpoint: g.OllamaEndpoint,
		OllamaModel:    g.OllamaModel,
		ThinkingBudget: g.ThinkingBudget,
		Timeout:        time.Duration(g.TimeoutSeconds) * time.Second,
		FixturePath:    g.Fixture,
	}
	if opts.Provider == generator.ProviderOllama && opts.OllamaModel == "" {
		opts.OllamaModel = g.Model
	}
	return opts
}

// IsConfigError reports whether err means the generator is not set up.
func IsConfigError(err error) bool {
	return errors.Is(err, generator.ErrNotConfigured)
}
