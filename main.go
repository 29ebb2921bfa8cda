package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-identity/pkg/config"
	"github.com/ekaya-inc/ekaya-identity/pkg/database"
	"github.com/ekaya-inc/ekaya-identity/pkg/handlers"
	"github.com/ekaya-inc/ekaya-identity/pkg/llm"
	"github.com/ekaya-inc/ekaya-identity/pkg/logging"
	"github.com/ekaya-inc/ekaya-identity/pkg/mcp"
	"github.com/ekaya-inc/ekaya-identity/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-identity/pkg/middleware"
	"github.com/ekaya-inc/ekaya-identity/pkg/repositories"
	"github.com/ekaya-inc/ekaya-identity/pkg/retry"
	"github.com/ekaya-inc/ekaya-identity/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server stopped with error", zap.String("error", logging.SanitizeError(err)))
		os.Exit(1)
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "test" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Env),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.URL())),
		zap.String("redis", cfg.Redis.Host),
		zap.String("classifier", cfg.Classifier.Provider),
		zap.Float64("serving_threshold", cfg.Engine.ServingThreshold),
		zap.Int("max_depth", cfg.Engine.MaxDepth))

	// Postgres may still be starting when the server comes up under compose.
	db, err := retry.DoWithResultIf(ctx, retry.StartupConfig(), func() (*database.DB, error) {
		db, err := database.NewConnection(ctx, &database.Config{
			URL:            cfg.Database.ConnectionString(),
			MaxConnections: cfg.Database.MaxConnections,
		})
		if err != nil {
			logger.Warn("Database not ready", zap.String("error", logging.SanitizeError(err)))
		}
		return db, err
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if err := database.RunMigrations(cfg.Database.URL(), cfg.MigrationsPath, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	cache, closeCache, err := newSummaryCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	classifier, err := newClassifier(cfg, logger)
	if err != nil {
		return err
	}

	identityRepo := repositories.NewIdentityRepository()
	categoryRepo := repositories.NewCategoryRepository()
	influenceRepo := repositories.NewInfluenceRepository()
	transactor := database.NewTransactor()

	treeService := services.NewTreeService(identityRepo, categoryRepo, cfg.Engine.MaxDepth, logger)
	ledgerService := services.NewLedgerService(categoryRepo, influenceRepo, transactor, logger)
	aggregatorService := services.NewAggregatorService(categoryRepo, influenceRepo, treeService, ledgerService, transactor, cfg.Engine.MaxDepth, logger)
	preferenceService := services.NewPreferenceService(identityRepo, categoryRepo, influenceRepo, treeService, aggregatorService,
		cache, cfg.Engine.ServingThreshold, cfg.Engine.MaxDepth, cfg.Engine.SummaryCacheTTL(), logger)
	identityService := services.NewIdentityService(identityRepo, categoryRepo, influenceRepo, transactor, logger)
	addInterestService := services.NewAddInterestService(identityRepo, treeService, ledgerService, classifier, transactor, cfg.Engine.MaxDepth, logger)

	mux := http.NewServeMux()
	owner := handlers.OwnerMiddleware(database.WithOwnerContext(db, logger))
	access := handlers.NewAccess(identityService, treeService, ledgerService, logger)

	handlers.NewHealthHandler(cfg, db, logger).RegisterRoutes(mux)
	handlers.NewIdentityHandler(identityService, access, logger).RegisterRoutes(mux, owner)
	handlers.NewTreeHandler(treeService, access, logger).RegisterRoutes(mux, owner)
	handlers.NewInfluenceHandler(ledgerService, aggregatorService, access, logger).RegisterRoutes(mux, owner)
	handlers.NewPreferenceHandler(preferenceService, access, logger).RegisterRoutes(mux, owner)
	handlers.NewInterestHandler(addInterestService, access, logger).RegisterRoutes(mux, owner)

	mcpServer := mcp.NewServer("ekaya-identity", cfg.Version, logger)
	tools.RegisterHealthTool(mcpServer.MCP(), cfg.Version, db)
	tools.RegisterPreferenceTools(mcpServer.MCP(), &tools.PreferenceToolDeps{
		DB:          db,
		Identities:  identityService,
		Tree:        treeService,
		Preferences: preferenceService,
		Logger:      logger,
	})
	handlers.NewMCPHandler(mcpServer, logger).RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = middleware.RequestLogger(logger)(handler)
	handler = middleware.Recoverer(logger)(handler)

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-identity", zap.String("addr", server.Addr), zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newSummaryCache uses Redis when configured and an in-process cache otherwise.
func newSummaryCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (services.SummaryCache, func(), error) {
	client, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	if client == nil {
		logger.Info("Redis not configured; using in-process summary cache")
		return services.NewMemorySummaryCache(services.DefaultMemoryCacheEntries), func() {}, nil
	}
	return services.NewRedisSummaryCache(client), func() { _ = client.Close() }, nil
}

func newClassifier(cfg *config.Config, logger *zap.Logger) (services.Classifier, error) {
	client, err := llm.NewClassifierClient(&cfg.Classifier, logger)
	if err != nil {
		return nil, fmt.Errorf("configure classifier: %w", err)
	}
	if client == nil {
		if cfg.Classifier.StubRulesPath == "" {
			return services.NewStubClassifier(), nil
		}
		stub, err := services.LoadStubClassifier(cfg.Classifier.StubRulesPath)
		if err != nil {
			return nil, fmt.Errorf("configure classifier: %w", err)
		}
		logger.Info("Loaded stub classifier rules",
			zap.String("path", cfg.Classifier.StubRulesPath),
			zap.Int("rules", len(stub.Rules)))
		return stub, nil
	}
	return services.NewLLMClassifier(client, cfg.Classifier.Timeout(), logger), nil
}
