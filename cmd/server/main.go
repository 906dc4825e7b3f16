// Package main is the entrypoint for the Kairo control plane server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/kairo/internal/api"
	"github.com/kiranshivaraju/kairo/internal/api/handler"
	mw "github.com/kiranshivaraju/kairo/internal/api/middleware"
	"github.com/kiranshivaraju/kairo/internal/api/response"
	"github.com/kiranshivaraju/kairo/internal/cache"
	"github.com/kiranshivaraju/kairo/internal/config"
	"github.com/kiranshivaraju/kairo/internal/integration"
	"github.com/kiranshivaraju/kairo/internal/provider"
	"github.com/kiranshivaraju/kairo/internal/provision"
	"github.com/kiranshivaraju/kairo/internal/railway"
	"github.com/kiranshivaraju/kairo/internal/session"
	"github.com/kiranshivaraju/kairo/internal/store"
	"github.com/kiranshivaraju/kairo/internal/vault"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	shutdownTimeout = 30 * time.Second
	upstreamTimeout = 15 * time.Second
	writeTimeout    = provision.DefaultTimeout + 15*time.Second
)

var _ provision.Backend = (*railway.Client)(nil)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "app_url", cfg.Server.AppURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Credential vault
	v, err := vault.NewFromBase64(cfg.Vault.Key)
	if err != nil {
		return fmt.Errorf("create vault: %w", err)
	}

	// 6. Providers, registry and orchestrator
	httpClient := &http.Client{Timeout: upstreamTimeout}
	providers := provider.NewBrokers(cfg, httpClient)
	brokers := providers.Brokers()
	slog.Info("oauth providers configured", "count", len(brokers))

	pgStore := store.NewPostgresStore(pool)
	registry := integration.NewRegistry(pgStore, v, providers.Refreshers())
	orch := provision.NewOrchestrator(pgStore, registry, railway.NewClient(cfg.Railway), provision.SettingsFromConfig(cfg))

	verifier, err := handler.NewWebhookVerifier(cfg.Auth.WebhookSecret)
	if err != nil {
		return fmt.Errorf("create webhook verifier: %w", err)
	}
	if verifier == nil {
		slog.Warn("AUTH_WEBHOOK_SECRET not set, account webhooks are not verified")
	}

	// Unconfigured brokers stay nil interfaces.
	var (
		jiraDir   handler.JiraDirectory
		githubDir handler.GitHubDirectory
	)
	if providers.Jira != nil {
		jiraDir = providers.Jira
	}
	if providers.GitHub != nil {
		githubDir = providers.GitHub
	}

	oauth := handler.OAuthDeps{
		Brokers:      brokers,
		Sessions:     session.New(redisCache),
		Integrations: registry,
		Jira:         jiraDir,
		AppURL:       cfg.Server.AppURL,
	}

	// 7. Build router with dependencies
	deps := api.Dependencies{
		TenantAuth:  mw.NewTenantAuth(cfg.Auth.SessionSecret, cfg.Auth.SessionIssuer),
		GatewayAuth: mw.NewGatewayAuth(pgStore),
		RateLimit:   mw.NewRateLimit(redisCache, cfg.Server.RequestsPerMinute),

		HealthHandler:  healthHandler(pgStore, redisCache),
		MetricsHandler: promhttp.Handler(),

		OAuthStart:     handler.NewOAuthStartHandler(oauth),
		OAuthCallback:  handler.NewOAuthCallbackHandler(oauth),
		JiraValidate:   handler.NewJiraValidateHandler(providers.JiraBasic, registry),
		GitHubValidate: handler.NewGitHubValidateHandler(providers.GitHubPAT, registry),
		JiraProjects:   handler.NewJiraProjectsHandler(jiraDir, registry),
		JiraProject:    handler.NewJiraProjectHandler(registry),
		GitHubRepos:    handler.NewGitHubReposHandler(githubDir, registry),
		GitHubRepo:     handler.NewGitHubRepoHandler(registry),
		Integrations:   handler.NewListIntegrationsHandler(registry),

		Provision:      handler.NewProvisionHandler(orch),
		InstanceStatus: handler.NewInstanceStatusHandler(orch),
		ConfirmRunning: handler.NewConfirmRunningHandler(orch),
		DeleteInstance: handler.NewDeleteInstanceHandler(orch),

		AccountWebhook: handler.NewAccountWebhookHandler(verifier, orch),
		GatewayToken:   handler.NewGatewayTokenHandler(registry),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and redis connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"redis":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["redis"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["redis"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
