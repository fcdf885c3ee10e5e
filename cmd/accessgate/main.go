package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/tillworks/accessgate/pkg/api"
	"github.com/tillworks/accessgate/pkg/audit"
	"github.com/tillworks/accessgate/pkg/config"
	"github.com/tillworks/accessgate/pkg/entitlement"
	"github.com/tillworks/accessgate/pkg/guard"
	"github.com/tillworks/accessgate/pkg/httputil"
	"github.com/tillworks/accessgate/pkg/identity"
	"github.com/tillworks/accessgate/pkg/menu"
	"github.com/tillworks/accessgate/pkg/observability"
	"github.com/tillworks/accessgate/pkg/tenancy"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "accessgate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("Starting accessgate")

	ctx := context.Background()

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	var otelProviders *observability.OTelProviders
	if cfg.Observability.OTelEnabled {
		otelProviders, err = observability.InitOTel(ctx, observability.OTelConfig{
			Enabled:        true,
			Endpoint:       cfg.Observability.OTelEndpoint,
			ServiceName:    cfg.Observability.OTelServiceName,
			ServiceVersion: cfg.Observability.OTelServiceVersion,
			Insecure:       cfg.Observability.OTelInsecure,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
		}
	}

	// Membership, permission matrix and audit trail live in postgres
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxConns)
	db.SetMaxIdleConns(cfg.Database.MinConns)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Database.Timeout)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if err := tenancy.RunMigrations(ctx, db); err != nil {
		return err
	}
	if err := audit.Migrate(ctx, db); err != nil {
		return err
	}

	// Grace markers and tenant preferences live in redis
	redisClient, err := tenancy.NewRedisClient(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()
	sessions := tenancy.NewRedisSessionStore(redisClient, cfg.Gate.GraceTTL)

	provider, err := identity.NewOIDCProvider(ctx, identity.OIDCConfig{
		IssuerURL:     cfg.Identity.IssuerURL,
		ClientID:      cfg.Identity.ClientID,
		OperatorClaim: cfg.Identity.OperatorClaim,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize identity provider: %w", err)
	}

	engineOpts := []entitlement.Option{}
	if metrics != nil {
		engineOpts = append(engineOpts, entitlement.WithMetrics(metrics))
	}
	engine, err := entitlement.NewEngine(cfg.Gate.DecisionCacheSize, engineOpts...)
	if err != nil {
		return fmt.Errorf("failed to create entitlement engine: %w", err)
	}

	managerOpts := []tenancy.ManagerOption{tenancy.WithInvalidator(engine)}
	if metrics != nil {
		managerOpts = append(managerOpts, tenancy.WithMetrics(metrics))
	}
	tenants := tenancy.NewManager(tenancy.NewPostgresStore(db), sessions, tenancy.Config{
		PollInterval: cfg.Gate.PollInterval,
		MaxWait:      cfg.Gate.MaxWait,
		GraceMaxWait: cfg.Gate.GraceMaxWait,
		GraceTTL:     cfg.Gate.GraceTTL,
	}, logger, managerOpts...)

	auditor := audit.NewLogger(db, logger)
	janitor := audit.NewJanitor(db, cfg.Gate.AuditRetention, logger)
	if err := janitor.Start(); err != nil {
		return err
	}

	composerOpts := []guard.Option{guard.WithRecorder(auditor)}
	if metrics != nil {
		composerOpts = append(composerOpts, guard.WithMetrics(metrics))
	}
	composer := guard.NewComposer(tenants, engine, logger, composerOpts...)

	menuLogger := logrus.New()
	menuLogger.SetFormatter(&logrus.JSONFormatter{})
	menus, err := menu.NewLoader(cfg.Gate.MenuManifest, menuLogger)
	if err != nil {
		return err
	}

	server := api.NewServer(provider, tenants, engine, composer, menus, auditor, sessions, logger, metrics)

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthRouter := mux.NewRouter()
	health := observability.NewHealthChecker(db, redisClient)
	healthRouter.HandleFunc("/healthz", health.Liveness).Methods(http.MethodGet)
	healthRouter.HandleFunc("/readyz", health.Readiness).Methods(http.MethodGet)
	if metrics != nil {
		healthRouter.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}
	healthServer := &http.Server{
		Addr: cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: httputil.Chain(
			httputil.RequestIDMiddleware,
			httputil.RecoveryMiddleware(logger),
		)(healthRouter),
	}

	go func() {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	go func() {
		logger.WithField("addr", apiServer.Addr).Info("API server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("API server failed")
			os.Exit(1)
		}
	}()

	shutdown := observability.NewShutdownManager(logger, apiServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		tenants.Shutdown(ctx)
		return nil
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		janitor.Stop()
		auditor.Close()
		return nil
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return menus.Close()
	})
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}

	if metrics != nil {
		go pollDBStats(ctx, db, metrics)
	}

	return shutdown.WaitForShutdown()
}

// pollDBStats exports connection pool gauges every few seconds
func pollDBStats(ctx context.Context, db *sql.DB, metrics *observability.Metrics) {
	ticker := time.NewTicker(10 * time.Second)
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
