// Specdesk - chat-driven specification editor server
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

	"github.com/specdesk/specdesk/internal/agent"
	"github.com/specdesk/specdesk/internal/api"
	"github.com/specdesk/specdesk/internal/config"
	"github.com/specdesk/specdesk/internal/identity"
	"github.com/specdesk/specdesk/internal/live"
	"github.com/specdesk/specdesk/internal/middleware"
	"github.com/specdesk/specdesk/internal/readmodel"
	"github.com/specdesk/specdesk/internal/remediation"
	"github.com/specdesk/specdesk/internal/store"
	"github.com/specdesk/specdesk/internal/stream"
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

	cache := readmodel.NewCache(repo)
	agentClient := agent.NewSSEClient(cfg.AgentEndpoint, logger)

	// Panels are notified per project; reply events are keyed per chat
	// session, so the sink resolves the session's project on delivery.
	panels := live.NewPanelHandler(cfg.FrontendURL, cfg.IsDevelopment())
	panelSink := live.NewPanelSink(panels, func(sessionID string) string {
		session, err := repo.GetChatSession(context.Background(), sessionID)
		if err != nil || session == nil {
			return ""
		}
		return session.ProjectID
	})

	hub := live.NewHub(live.HubConfig{
		KeepaliveInterval: cfg.SSE.KeepaliveInterval,
		RetryDelay:        cfg.SSE.RetryDelay,
		ReplayQueueSize:   cfg.SSE.ReplayQueueSize,
	}, nil)

	coordinator := stream.NewCoordinator(agentClient, cache, live.MultiSink{hub, panelSink}, stream.Config{
		ReconcilePollInterval: cfg.Reconcile.PollInterval,
		ReconcileTimeout:      cfg.Reconcile.Timeout,
	}, logger)
	defer coordinator.Shutdown()
	hub.SetActivator(coordinator)

	policyContent := remediation.DefaultPolicy
	if cfg.PolicyPath != "" {
		data, err := os.ReadFile(cfg.PolicyPath)
		if err != nil {
			slog.Error("Failed to read remediation policy", "path", cfg.PolicyPath, "error", err)
			os.Exit(1)
		}
		policyContent = string(data)
	}
	gate, err := remediation.NewGate(context.Background(), policyContent)
	if err != nil {
		slog.Error("Failed to compile remediation policy", "error", err)
		os.Exit(1)
	}
	slog.Info("Remediation policy ready", "custom", cfg.PolicyPath != "")

	executor := remediation.NewExecutorClient(cfg.ExecutorEndpoint, logger)
	rateLimiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)

	handler := api.NewHandler(repo, cache, coordinator, gate, executor, rateLimiter)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handler.Health)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", handler.CreateSession)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", handler.GetSession)
				r.Get("/messages", handler.ListMessages)
				r.Post("/messages", handler.PostMessage)
				r.Get("/highlights", handler.GetHighlights)
				r.Get("/transcript", handler.GetTranscript)
				r.Get("/events", hub.HandleEvents)
			})
		})

		r.Route("/projects/{projectID}", func(r chi.Router) {
			r.Get("/spec", handler.GetSpec)
			r.Get("/world-model", handler.GetWorldModel)
		})

		r.Route("/issues", func(r chi.Router) {
			r.Post("/", handler.CreateIssue)
			r.Route("/{issueID}", func(r chi.Router) {
				r.Get("/", handler.GetIssue)
				r.Post("/remediate", handler.RemediateIssue)
			})
		})
	})

	// WebSocket endpoint for panel refresh notifications.
	r.Get("/ws/panels", panels.ServeHTTP)

	// Create server.
	// Note: SSE connections require long timeouts (no WriteTimeout)
	// Keepalive runs every 10s to maintain connection
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // 0 = no timeout for SSE support
		IdleTimeout:  120 * time.Second, // 2 minutes for idle connections
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
