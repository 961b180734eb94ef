// agentdesk - agent registry and chat relay server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ashureev/agentdesk/internal/api"
	"github.com/ashureev/agentdesk/internal/chat"
	"github.com/ashureev/agentdesk/internal/clientcfg"
	"github.com/ashureev/agentdesk/internal/config"
	"github.com/ashureev/agentdesk/internal/identity"
	"github.com/ashureev/agentdesk/internal/ratelimit"
	"github.com/ashureev/agentdesk/internal/registry"
	"github.com/ashureev/agentdesk/internal/store"
	"github.com/ashureev/agentdesk/web"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "env", cfg.AppEnv)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	tokens := identity.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	verifier := identity.NewVerifier(repo)
	authenticator := identity.NewAuthenticator(tokens, repo)
	agents := registry.NewService(repo, nil)

	limiters := api.Limiters{
		Login: ratelimit.NewFixedWindow(cfg.RateLimits.Login.Limit, cfg.RateLimits.Login.Window),
		API:   ratelimit.NewFixedWindow(cfg.RateLimits.API.Limit, cfg.RateLimits.API.Window),
		Admin: ratelimit.NewFixedWindow(cfg.RateLimits.Admin.Limit, cfg.RateLimits.Admin.Window),
	}
	defer limiters.Login.Close()
	defer limiters.API.Close()
	defer limiters.Admin.Close()

	sm := chat.NewSessionManager()
	defaults := clientcfg.Config{
		APIURL:      cfg.LangGraph.APIURL,
		AssistantID: cfg.LangGraph.AssistantID,
		APIKey:      cfg.LangGraph.APIKey,
	}
	if cfg.LangGraph.APIURL == "" {
		slog.Info("Chat relay disabled until LANGGRAPH_API_URL is set")
	}
	wsHandler := chat.NewWSHandler(sm, repo, defaults, chat.ClientBackend, cfg.CORSOrigins, cfg.IsDevelopment())

	// Initialize handlers.
	baseHandler := api.NewHandler(cfg.IsDevelopment())
	r := api.NewRouter(api.RouterConfig{
		Auth:          api.NewAuthHandler(baseHandler, verifier, tokens, repo),
		Agents:        api.NewAgentHandler(baseHandler, agents),
		Health:        api.NewHealthHandler(baseHandler, repo),
		Authenticator: authenticator,
		Limiters:      limiters,
		CORSOrigins:   cfg.CORSOrigins,
		TrustProxy:    cfg.TrustProxy,
		ChatWS:        wsHandler,
		SPA:           web.SPAHandler(),
	})

	// Streaming chat frames need a long write window (no WriteTimeout).
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	sm.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
