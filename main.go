package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"go.uber.org/zap"

	"github.com/optiflow/optiflow-engine/pkg/audit"
	"github.com/optiflow/optiflow-engine/pkg/auth"
	"github.com/optiflow/optiflow-engine/pkg/config"
	"github.com/optiflow/optiflow-engine/pkg/database"
	"github.com/optiflow/optiflow-engine/pkg/handlers"
	"github.com/optiflow/optiflow-engine/pkg/logging"
	"github.com/optiflow/optiflow-engine/pkg/middleware"
	"github.com/optiflow/optiflow-engine/pkg/store"
	"github.com/optiflow/optiflow-engine/pkg/tenant"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("database", fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)),
	)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	auditor := audit.NewSecurityAuditor(logger)

	exec, pinger, closeStore, err := openStore(ctx, cfg, auditor, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var interceptors []tenant.Interceptor
	if cfg.Audit.LogQueries {
		interceptors = append(interceptors, store.QueryLogger(logger.Named("query")))
	}
	client := store.NewClient(exec, interceptors...)

	jwksClient, err := auth.NewJWKSClient(&auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
		Audience:           cfg.Auth.Audience,
		Leeway:             cfg.Auth.Leeway,
	})
	if err != nil {
		return fmt.Errorf("failed to create JWKS client: %w", err)
	}
	defer jwksClient.Close()
	if !cfg.Auth.EnableVerification {
		logger.Warn("JWT signature verification is disabled")
	}

	authMiddleware := auth.NewMiddleware(auth.NewAuthService(jwksClient, logger), cfg.Auth.AdminRole, logger)
	tenantMiddleware := database.WithTenantContext(cfg.Auth.AdminRole, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, pinger, logger).RegisterRoutes(mux)
	handlers.NewEntityHandler(client, auditor, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting optiflow-engine",
			zap.String("addr", srv.Addr),
			zap.Bool("tls", cfg.TLSCertPath != ""),
			zap.String("version", cfg.Version))

		var err error
		if cfg.TLSCertPath != "" {
			err = srv.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutdown signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}

// openStore builds the executor selected by cfg. For PostgreSQL it connects,
// applies pending migrations, and returns the pool for health checks.
func openStore(ctx context.Context, cfg *config.Config, auditor *audit.SecurityAuditor, logger *zap.Logger) (store.Executor, handlers.Pinger, func(), error) {
	if cfg.Store.Driver == config.StoreDriverMemory {
		logger.Warn("Using in-memory store; all records are lost on restart")
		return store.NewMemoryExecutor(), nil, func() {}, nil
	}

	url := cfg.Database.URL()
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            url,
		MaxConnections: cfg.Database.MaxConnections,
	}, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	// Run migrations using database/sql (required by golang-migrate)
	sqlDB, err := sql.Open("pgx", url)
	if err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("failed to open sql connection: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, logger); err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	var screen *audit.SecurityAuditor
	if cfg.Audit.ScreenInjection {
		screen = auditor
	}
	return store.NewPostgresExecutor(db.Pool, screen, logger), db, db.Close, nil
}
