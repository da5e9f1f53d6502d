// Gembridge - cookie-authenticated session bridge server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/avdeyev/gembridge/internal/api"
	"github.com/avdeyev/gembridge/internal/bridge"
	"github.com/avdeyev/gembridge/internal/config"
	"github.com/avdeyev/gembridge/internal/credential"
	"github.com/avdeyev/gembridge/internal/middleware"
	"github.com/avdeyev/gembridge/internal/notify"
	"github.com/avdeyev/gembridge/internal/reminder"
	"github.com/avdeyev/gembridge/internal/store"
	"github.com/avdeyev/gembridge/internal/upstream"
	"github.com/avdeyev/gembridge/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

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
	slog.Info("Database connected")

	// Initialize services.
	hub := notify.NewHub(cfg.FrontendURL, cfg.IsDevelopment())

	life := credential.NewLifecycle(cfg.StalenessThreshold,
		credential.WithObserver(func(state credential.State) {
			hub.Publish(notify.EventCredentialStatus, state)
		}),
	)

	gateway := upstream.NewClient(upstream.Config{
		Endpoint:   cfg.UpstreamEndpoint,
		HTTPClient: &http.Client{Timeout: 2 * time.Minute},
		Generation: cfg.Generation,
	})

	svc := bridge.New(repo, gateway, life, cfg.CredentialSecret)
	if err := svc.Rehydrate(context.Background()); err != nil {
		slog.Error("Failed to rehydrate credential", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := reminder.NewScheduler(repo, svc, hub)
	if err := sched.Start(ctx); err != nil {
		slog.Error("Failed to start reminder scheduler", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	// Initialize handlers.
	handler := api.NewHandler(svc, repo, sched)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(corsOrigins(cfg)))

	// API routes.
	handler.RegisterHealth(r)
	handler.RegisterChatRoutes(r)
	handler.RegisterCredentialRoutes(r)
	handler.RegisterConversationRoutes(r)
	handler.RegisterReminderRoutes(r)

	// WebSocket endpoint for server-pushed events.
	r.Get("/ws/events", hub.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Create server. WriteTimeout stays 0 because chat exchanges can hold the
	// response open for as long as the upstream call runs.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func corsOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() || cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
