// Package main is the entry point for the e-application server.
// It wires all dependencies together and starts the HTTP server.
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/eapp/internal/condition"
	"github.com/pitabwire/eapp/internal/config"
	"github.com/pitabwire/eapp/internal/definition"
	"github.com/pitabwire/eapp/internal/events"
	"github.com/pitabwire/eapp/internal/intake"
	"github.com/pitabwire/eapp/internal/observability"
	"github.com/pitabwire/eapp/internal/openapi"
	"github.com/pitabwire/eapp/internal/sealing"
	"github.com/pitabwire/eapp/internal/store"
	"github.com/pitabwire/eapp/internal/submission"
	"github.com/pitabwire/eapp/internal/transform"
	"github.com/pitabwire/eapp/internal/transport"
	"github.com/pitabwire/eapp/internal/validation"
	"github.com/pitabwire/eapp/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "eappd", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.InitMetrics(reg)

	// Step 4: Load definitions, validate, build registry.
	defs, err := loadDefinitions(cfg.Definitions, logger)
	if err != nil {
		logger.Error("definition loading failed", zap.Error(err))
		return 1
	}
	registry := definition.NewRegistry(defs)
	metrics.SetDefinitionsLoaded(float64(len(defs)))

	// Step 5: Sealing key.
	key, err := sealing.KeyFromEnv(cfg.Sealing.KeyEnv)
	if err != nil {
		logger.Error("sealing key unavailable", zap.Error(err))
		return 1
	}
	sealer, err := sealing.NewAEADSealer(key, cfg.Sealing.KeyID)
	if err != nil {
		logger.Error("sealer initialization failed", zap.Error(err))
		return 1
	}

	// Step 6: Submission store.
	submissions, storeCloser, err := buildSubmissionStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("submission store initialization failed", zap.Error(err))
		return 1
	}

	// Step 7: Idempotency store (optional).
	idempotencyStore, idempotencyCloser, err := buildIdempotencyStore(cfg.Idempotency, logger)
	if err != nil {
		logger.Error("idempotency store initialization failed", zap.Error(err))
		return 1
	}

	// Step 8: Event publisher (optional).
	publisher, publisherCloser, err := buildPublisher(ctx, cfg.Events, logger)
	if err != nil {
		logger.Error("event publisher initialization failed", zap.Error(err))
		return 1
	}

	// Step 9: Engines and the intake service.
	loc, err := cfg.Location()
	if err != nil {
		logger.Error("invalid validation timezone", zap.Error(err))
		return 1
	}
	evaluator := condition.NewEvaluator(logger)
	engine := validation.NewEngine(evaluator,
		validation.WithLocation(loc),
		validation.WithAllocationTarget(cfg.Validation.AllocationTarget),
		validation.WithLogger(logger),
	)
	transformer := transform.NewTransformer(sealer, evaluator, logger)
	checker := submission.NewValidator(logger)

	svcOpts := []intake.Option{
		intake.WithPublisher(publisher),
		intake.WithMetrics(metrics),
		intake.WithLogger(logger),
	}
	if idempotencyStore != nil {
		svcOpts = append(svcOpts, intake.WithIdempotencyStore(idempotencyStore, cfg.Idempotency.Store.DefaultTTL))
	}
	svc := intake.NewService(registry, engine, transformer, checker, submissions, svcOpts...)

	// Step 10: Build HTTP router.
	apiDoc, err := openapi.Load()
	if err != nil {
		logger.Fatal("failed to load API description", zap.Error(err))
	}

	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)

	readinessChecks := observability.ReadinessChecks{
		Definitions:  func() int { return len(registry.All()) },
		IdentityKeys: jwks,
	}
	if hc, ok := submissions.(observability.HealthChecker); ok {
		readinessChecks.SubmissionStore = hc
	}
	if hc, ok := idempotencyStore.(observability.HealthChecker); ok {
		readinessChecks.IdempotencyStore = hc
	}
	if hc, ok := publisher.(observability.HealthChecker); ok {
		readinessChecks.EventBroker = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:         cfg,
		Logger:         logger,
		Authenticate:   transport.JWTAuthenticator(cfg.Identity, jwks),
		Intake:         svc,
		Definitions:    registry,
		Metrics:        metrics,
		MetricsHandler: observability.HandlerFor(reg),
		Readiness:      readinessChecks,
		APIDoc:         apiDoc.Handler(),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 11: Start background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	go reloadDefinitionsOnHangup(bgCtx, cfg.Definitions, registry, metrics, logger)

	// Step 12: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("definitions", len(defs)),
		zap.String("definitions_checksum", registry.Checksum()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	bgCancel()

	// Flush the producer before the stores go away.
	if publisherCloser != nil {
		publisherCloser()
	}
	if storeCloser != nil {
		storeCloser()
	}
	if idempotencyCloser != nil {
		idempotencyCloser()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// loadDefinitions reads every definition file and rejects the set if any
// definition fails structural validation.
func loadDefinitions(cfg config.DefinitionsConfig, logger *zap.Logger) ([]model.ApplicationDefinition, error) {
	defs, err := definition.NewLoader().LoadAll(cfg.Directories)
	if err != nil {
		return nil, err
	}

	verrs := definition.NewValidator().Validate(defs)
	if len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("definition validation error", zap.String("error", ve.Error()))
		}
		return nil, fmt.Errorf("%d definition validation errors", len(verrs))
	}
	return defs, nil
}

// reloadDefinitionsOnHangup swaps in a freshly loaded definition set on
// SIGHUP. A set that fails to load or validate leaves the current one live.
func reloadDefinitionsOnHangup(ctx context.Context, cfg config.DefinitionsConfig, registry *definition.Registry, metrics *observability.Metrics, logger *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			defs, err := loadDefinitions(cfg, logger)
			if err != nil {
				metrics.RecordDefinitionReload("error")
				logger.Error("definition reload failed", zap.Error(err))
				continue
			}
			registry.Replace(defs)
			metrics.RecordDefinitionReload("ok")
			metrics.SetDefinitionsLoaded(float64(len(defs)))
			logger.Info("definitions reloaded",
				zap.Int("definitions", len(defs)),
				zap.String("checksum", registry.Checksum()),
			)
		}
	}
}

// buildSubmissionStore creates the submission store based on config.
func buildSubmissionStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.SubmissionStore, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory submission store")
		return store.NewMemorySubmissionStore(), nil, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("submission store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("submission store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("submission store: connect: %w", err)
		}

		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("submission store: ping: %w", err)
		}

		s := store.NewPgSubmissionStore(pool)
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("submission store: migrate: %w", err)
		}
		return s, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported submission store driver: %q", cfg.Driver)
	}
}

// buildIdempotencyStore creates the idempotency store based on config.
// Returns a nil store when idempotency is disabled.
func buildIdempotencyStore(cfg config.IdempotencyConfig, logger *zap.Logger) (intake.IdempotencyStore, func(), error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}

	switch cfg.Store.Driver {
	case "memory", "":
		logger.Info("using in-memory idempotency store")
		return intake.NewMemoryIdempotencyStore(), nil, nil
	case "redis":
		addr := os.Getenv(cfg.Store.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("idempotency store: %s environment variable not set", cfg.Store.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.Store.DB})
		closer := func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close failed", zap.Error(err))
			}
		}
		return intake.NewRedisIdempotencyStore(client), closer, nil
	default:
		return nil, nil, fmt.Errorf("unsupported idempotency store driver: %q", cfg.Store.Driver)
	}
}

// buildPublisher creates the event publisher based on config.
func buildPublisher(ctx context.Context, cfg config.EventsConfig, logger *zap.Logger) (events.Publisher, func(), error) {
	if !cfg.Enabled {
		return events.NoopPublisher{}, nil, nil
	}
	if cfg.CreateTopic {
		if err := events.EnsureTopic(ctx, cfg, logger); err != nil {
			return nil, nil, err
		}
	}
	kafka, err := events.NewKafkaPublisher(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	breaker := events.NewBreaker(cfg.Breaker.FailureThreshold, cfg.Breaker.SuccessThreshold, cfg.Breaker.Cooldown)
	p := events.NewBreakingPublisher(kafka, breaker, logger)

	logger.Info("publishing submission events", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic))
	return p, p.Close, nil
}
