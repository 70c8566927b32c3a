package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"bonus-planner-api/internal/cache"
	"bonus-planner-api/internal/config"
	"bonus-planner-api/internal/database"
	"bonus-planner-api/internal/events"
	"bonus-planner-api/internal/extraction"
	"bonus-planner-api/internal/features"
	"bonus-planner-api/internal/handler"
	"bonus-planner-api/internal/middleware"
	"bonus-planner-api/internal/observability"
	"bonus-planner-api/internal/planner"
	"bonus-planner-api/internal/resilience"
	"bonus-planner-api/internal/scheduler"
	"bonus-planner-api/internal/service"
	"bonus-planner-api/internal/tracing"
)

func main() {
	configFile := flag.String("config", os.Getenv("CONFIG_FILE"), "Path to a JSON or YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Log.Level)
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

	tracer, err := tracing.InitTracing(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	flags := features.NewManager(cfg.Features, logger)

	eventManager := events.NewManager(flags.IsEnabled(features.EventHooks), logger)
	defer eventManager.Shutdown()
	flags.OnChange(func(name string, enabled bool) {
		if name == features.EventHooks {
			eventManager.SetEnabled(enabled)
		}
	})
	logEvents := events.LogHandler(logger.Named("events"))
	for _, t := range []events.EventType{
		events.EventOfferCreated,
		events.EventOfferUpdated,
		events.EventOfferDeleted,
		events.EventOfferProcessed,
		events.EventPlanGenerated,
	} {
		eventManager.Subscribe(t, logEvents)
	}

	planCache := cache.NewPlanCache(newCacheBackend(ctx, cfg.Cache, logger), cfg.Cache.TTL())

	var extractor extraction.Extractor
	if cfg.Extraction.BaseURL != "" {
		extractor = extraction.NewClient(extraction.ClientConfig{
			BaseURL: cfg.Extraction.BaseURL,
			APIKey:  cfg.Extraction.APIKey,
			Timeout: time.Duration(cfg.Extraction.TimeoutSeconds) * time.Second,
			Retry: resilience.Config{
				MaxRetries:     cfg.Extraction.MaxRetries,
				InitialBackoff: 500 * time.Millisecond,
				MaxBackoff:     10 * time.Second,
			},
		}, logger.Named("extraction"))
	} else {
		logger.Warn("no extraction service configured, new offers stay in processing")
	}

	opts := cfg.Planner.Options()
	pl := planner.New(opts, planner.WithLogger(logger.Named("planner")))

	svc := service.NewService(service.Dependencies{
		DB:                    db,
		Planner:               pl,
		Extractor:             extractor,
		PlanCache:             planCache,
		Events:                eventManager,
		Features:              flags,
		Metrics:               metrics,
		Tracer:                tracer,
		Logger:                logger,
		BackupDir:             cfg.Database.BackupDir,
		ExtractionConcurrency: cfg.Extraction.Concurrency,
		MaxConcurrentPlans:    cfg.Planner.MaxConcurrent,
		ExtractionTimeout:     time.Duration(cfg.Extraction.TimeoutSeconds*(cfg.Extraction.MaxRetries+1)) * time.Second,
	})
	defer svc.Close()

	sched := scheduler.NewScheduler(ctx, svc, flags, logger.Named("scheduler"))
	if extractor == nil {
		cfg.Schedule.PendingSweep = ""
	}
	if err := sched.RegisterAll(cfg.Schedule.PendingSweep, cfg.Schedule.Backup); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	h := handler.NewHandlerWithOptions(svc, handler.NewHandlerOptions{
		MaxBodySize: cfg.Security.MaxRequestBodySize,
		Logger:      logger.Named("http"),
	})

	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger.Named("http"), metrics))
	r.Use(chimw.Recoverer)
	r.Use(middleware.TracingMiddleware(tracer))

	if cfg.RateLimit.Enabled {
		rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Rate, time.Duration(cfg.RateLimit.Window)*time.Second)
		defer rateLimiter.Stop()
		r.Use(middleware.RateLimitMiddleware(rateLimiter))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.Security.AllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	h.Register(r)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting server",
		zap.String("addr", addr),
		zap.Bool("tls", cfg.Server.EnableTLS),
		zap.String("database", cfg.Database.Path),
		zap.String("cache", cfg.Cache.Backend),
		zap.Int("max_permuted_offers", opts.MaxPermutedOffers),
	)

	serveErr := make(chan error, 1)
	go func() {
		var err error
		if cfg.Server.EnableTLS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// newCacheBackend connects to Redis when configured, falling back to the
// in-process cache if Redis is unreachable.
func newCacheBackend(ctx context.Context, cfg config.CacheConfig, logger *zap.Logger) cache.Cache {
	if cfg.Backend != "redis" {
		return cache.NewInMemoryCache()
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rc, err := cache.NewRedisCache(connectCtx, cache.RedisConfig{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		Prefix:   cfg.Prefix,
	})
	if err != nil {
		logger.Warn("redis unavailable, using in-memory plan cache", zap.Error(err))
		return cache.NewInMemoryCache()
	}
	return rc
}
