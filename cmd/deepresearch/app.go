package main

import (
	"context"
	"fmt"
	"io"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/events"
	"github.com/mohammad-safakhou/deepresearch/internal/executor"
	"github.com/mohammad-safakhou/deepresearch/internal/fetch"
	"github.com/mohammad-safakhou/deepresearch/internal/llm"
	"github.com/mohammad-safakhou/deepresearch/internal/logging"
	"github.com/mohammad-safakhou/deepresearch/internal/policy"
	"github.com/mohammad-safakhou/deepresearch/internal/research"
	"github.com/mohammad-safakhou/deepresearch/internal/search"
	"github.com/mohammad-safakhou/deepresearch/internal/session"
	"github.com/mohammad-safakhou/deepresearch/internal/store"
	"github.com/mohammad-safakhou/deepresearch/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// app holds every long-lived component of a running process.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	tele     *telemetry.Telemetry
	pipeline *research.Pipeline
	session  *session.Session
	exec     *executor.Executor
	archive  *store.Store
	rdb      *redis.Client
	mirror   *events.Mirror
	closers  []io.Closer
}

func loadConfig(path string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.General.LogLevel, cfg.General.Debug)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// newPipeline builds plan -> research -> write from the llm, search and fetch config.
func newPipeline(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*research.Pipeline, []io.Closer, error) {
	router, err := llm.NewRouter(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("llm: %w", err)
	}
	searcher, err := search.NewWebSearcher(cfg.Sources.WebSearch)
	if err != nil {
		return nil, nil, fmt.Errorf("search: %w", err)
	}
	var closers []io.Closer
	if c, ok := searcher.(io.Closer); ok {
		closers = append(closers, c)
	}
	fetcher, err := fetch.NewFetcher(cfg.Sources.WebFetch)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch: %w", err)
	}

	sources, err := policy.NewSourcePolicy(cfg.Sources.Policy)
	if err != nil {
		return nil, nil, err
	}

	routes := cfg.LLM.Routing
	planner := research.NewLLMPlanner(router, routes.Planning, cfg.Research.MaxClarifications, logger)
	researcher := research.NewLLMResearcher(router, routes.Research, searcher, fetcher, cfg.Research, logger).WithPolicy(sources)
	writer := research.NewLLMWriter(router, routes.Synthesis, logger)
	p := research.NewPipeline(planner, researcher, writer,
		research.WithPlanDisplayDelay(cfg.Research.PlanDisplayDelay),
		research.WithLogger(logger),
	)
	return p, closers, nil
}

// newApp wires the full stack. Storage backends are attached only when configured.
func newApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, logger, err := loadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	a.tele, err = telemetry.Setup(ctx, cfg.Telemetry, version)
	if err != nil {
		return nil, err
	}
	a.pipeline, a.closers, err = newPipeline(ctx, cfg, logger)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	metrics := executor.NewMetrics(a.tele.Registry)
	sessOpts := []session.Option{
		session.WithLogger(logger.Named("session")),
		session.WithAnswerTimeout(cfg.Session.AnswerTimeout, cfg.Session.DefaultAnswer),
		session.WithObserver(metrics.Observe),
	}

	if cfg.Storage.Redis.Enabled() {
		rc := cfg.Storage.Redis
		a.rdb = redis.NewClient(&redis.Options{
			Addr:        rc.Addr(),
			Password:    rc.Password,
			DB:          rc.DB,
			DialTimeout: rc.Timeout,
		})
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("redis connection failed (%s): %w", rc.Addr(), err)
		}
		a.mirror = events.NewMirror(events.NewPublisher(a.rdb), rc.Stream, rc.MaxLen, events.WithMirrorLogger(logger))
		sessOpts = append(sessOpts, session.WithObserver(a.mirror.Observe))
	}
	a.session = session.New(sessOpts...)
	metrics.TrackSession(a.tele.Registry, a.session)

	execOpts := []executor.Option{
		executor.WithLogger(logger),
		executor.WithMetrics(metrics),
		executor.WithRunTimeout(cfg.Session.RunTimeout),
	}
	if cfg.Storage.Postgres.Enabled() {
		a.archive, err = store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if err := store.Migrate("", cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
			a.close(ctx)
			return nil, err
		}
		execOpts = append(execOpts, executor.WithArchive(a.archive))
	}
	a.exec = executor.New(a.session, a.pipeline, execOpts...)
	return a, nil
}

func (a *app) eventLog() *events.Log {
	if a.rdb == nil {
		return nil
	}
	return &events.Log{Client: a.rdb, Stream: a.cfg.Storage.Redis.Stream}
}

// close stops the executor first so the final run is archived and mirrored.
func (a *app) close(ctx context.Context) {
	if a.exec != nil {
		if err := a.exec.Shutdown(ctx); err != nil {
			a.logger.Warn("executor shutdown", zap.Error(err))
		}
	}
	if a.mirror != nil {
		a.mirror.Close()
		if n := a.mirror.Dropped(); n > 0 {
			a.logger.Warn("event mirror dropped events", zap.Int64("dropped", n))
		}
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.archive != nil {
		_ = a.archive.Close()
	}
	for _, c := range a.closers {
		_ = c.Close()
	}
	if a.tele != nil {
		if err := a.tele.Shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
