package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/fedgate/pkg/audit"
	"github.com/platinummonkey/fedgate/pkg/auth"
	"github.com/platinummonkey/fedgate/pkg/config"
	"github.com/platinummonkey/fedgate/pkg/observability"
	"github.com/platinummonkey/fedgate/pkg/provision"
	"github.com/platinummonkey/fedgate/pkg/session"
	"github.com/platinummonkey/fedgate/pkg/sso"
	"github.com/platinummonkey/fedgate/pkg/wsfed"
)

const dbStatsInterval = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fedgate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	trust, err := config.LoadTrustFile(cfg.Federation.TrustFile)
	if err != nil {
		return err
	}
	trustConfig, err := trust.TrustConfig()
	if err != nil {
		return err
	}
	validator, err := wsfed.NewValidator(&trustConfig)
	if err != nil {
		return fmt.Errorf("failed to build token validator: %w", err)
	}

	mapping, stopWatch, err := loadMapping(trust, logger)
	if err != nil {
		return err
	}

	ctx := context.Background()
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	var (
		store       session.Store
		redisClient *redis.Client
		sweeper     *session.Sweeper
	)
	switch cfg.Session.Store {
	case "postgres":
		pgStore := session.NewPostgresStore(db)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to ensure session schema: %w", err)
		}
		sweeper, err = session.NewSweeper(pgStore, cfg.Session.SweepSchedule, logger)
		if err != nil {
			return fmt.Errorf("failed to schedule session sweep: %w", err)
		}
		sweeper.Start()
		store = pgStore
	default:
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("failed to parse redis URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		store = session.NewRedisStore(redisClient)
	}

	consumed, err := session.NewConsumedCache(cfg.Session.ConsumedCacheSize)
	if err != nil {
		return fmt.Errorf("failed to build consumed-context cache: %w", err)
	}
	auditLogger, err := audit.NewDBLogger(db)
	if err != nil {
		return fmt.Errorf("failed to initialize audit log: %w", err)
	}

	provisioner := provision.NewProvisioner(db, mapping, trust.ProvisionConfig(), logger)
	federated := auth.NewFederated(validator, provisioner, auth.NewLocal(db), logger)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	handlers := sso.NewHandlers(sso.Config{
		Requests:      cfg.RequestConfig(),
		Validator:     validator,
		Provisioner:   provisioner,
		Sessions:      store,
		Consumed:      consumed,
		Audit:         auditLogger,
		Metrics:       metrics,
		Logger:        logger,
		Authenticator: federated,
		SessionTTL:    cfg.Session.TTL,
		PendingTTL:    cfg.Session.PendingTTL,
	})

	router := mux.NewRouter()
	router.Use(observability.RequestIDMiddleware(logger))
	router.Use(handlers.SessionMarker)
	router.Use(observability.HTTPMetricsMiddleware(metrics))
	handlers.RegisterRoutes(router)

	health := observability.NewHealthChecker(db, redisClient)
	router.HandleFunc("/healthz", health.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/readyz", health.Readiness).Methods(http.MethodGet)
	if cfg.Observability.MetricsEnabled {
		router.Handle("/metrics", observability.MetricsHandler(registry)).Methods(http.MethodGet)
	}

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(router, "fedgate"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("audit logger", func(context.Context) error { return auditLogger.Close() })
	shutdown.RegisterShutdownFunc("database", func(context.Context) error { return db.Close() })
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error { return redisClient.Close() })
	}
	if sweeper != nil {
		shutdown.RegisterShutdownFunc("session sweeper", func(context.Context) error { sweeper.Stop(); return nil })
	}
	if stopWatch != nil {
		shutdown.RegisterShutdownFunc("mapping watcher", func(context.Context) error { return stopWatch() })
	}

	// Bind before starting the group so a bad address fails fast instead of
	// leaving the process waiting on a signal.
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		logger.WithField("addr", addr).Info("fedgate listening")
		if err := server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return shutdown.WaitForShutdown()
	})
	g.Go(func() error {
		sampleDBStats(gctx, db, metrics)
		return nil
	})
	return g.Wait()
}

// loadMapping builds the claim mapping from inline text or a watched file.
// The returned func, when non-nil, stops the file watcher.
func loadMapping(trust *config.TrustFile, logger *observability.Logger) (*provision.FieldMapping, func() error, error) {
	casing := trust.CasingPolicy()
	if trust.MappingFile != "" {
		mapping, err := provision.LoadMappingFile(trust.MappingFile, casing)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load mapping file: %w", err)
		}
		stop, err := mapping.WatchFile(trust.MappingFile, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to watch mapping file: %w", err)
		}
		return mapping, stop, nil
	}
	mapping, err := provision.ParseMapping(trust.Mapping, casing)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse claim mapping: %w", err)
	}
	return mapping, nil, nil
}

// sampleDBStats mirrors the connection pool state into the gauges until ctx
// is cancelled.
func sampleDBStats(ctx context.Context, db *sql.DB, metrics *observability.Metrics) {
	ticker := time.NewTicker(dbStatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			metrics.DBConnectionsActive.Set(float64(stats.InUse))
			metrics.DBConnectionsIdle.Set(float64(stats.Idle))
		}
	}
}
