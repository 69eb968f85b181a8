// Sistemas - system design mock interview server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/sistemas-dev/sistemas/internal/api"
	"github.com/sistemas-dev/sistemas/internal/catalog"
	"github.com/sistemas-dev/sistemas/internal/config"
	"github.com/sistemas-dev/sistemas/internal/gemini"
	"github.com/sistemas-dev/sistemas/internal/health"
	"github.com/sistemas-dev/sistemas/internal/interview"
	"github.com/sistemas-dev/sistemas/internal/live"
	"github.com/sistemas-dev/sistemas/internal/middleware"
	"github.com/sistemas-dev/sistemas/internal/session"
	"github.com/sistemas-dev/sistemas/internal/store"
	"github.com/sistemas-dev/sistemas/internal/transcript"
	"github.com/sistemas-dev/sistemas/internal/voice"
	"github.com/sistemas-dev/sistemas/web"
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

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"credential_source", cfg.CredentialSource,
		"text_model", cfg.Text.Model,
		"voice_model", cfg.Voice.Model)

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

	conversationLogger, err := transcript.NewConversationLogger(cfg.ConversationLog, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Warn("Failed to close conversation logger", "error", closeErr)
		}
	}()

	problems := catalog.Default()
	sessions := session.NewManager(problems, repo, conversationLogger)
	sockets := live.NewSessionManager()
	slog.Info("Problem catalog loaded", "problems", len(problems.List()))

	textOpts := interview.Options{
		Model:       cfg.Text.Model,
		Temperature: cfg.Text.Temperature,
		TopP:        cfg.Text.TopP,
	}
	turners := func(ctx context.Context, apiKey string) (session.Turner, error) {
		client, err := gemini.NewClient(ctx, apiKey)
		if err != nil {
			return nil, err
		}
		return interview.NewTextClient(client, textOpts, logger), nil
	}
	connectors := func(ctx context.Context, apiKey string) (voice.Connector, error) {
		client, err := gemini.NewClient(ctx, apiKey)
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	// Initialize handlers.
	healthHandler := api.NewHealthHandler(repo)
	sessionHandler := api.NewSessionHandler(sessions, turners, cfg)
	sessionHandler.SetExitHook(sockets.CloseSession)
	wsHandler := live.NewWebSocketHandler(sessions, sockets, connectors, cfg)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	healthHandler.RegisterHealth(r)
	sessionHandler.RegisterRoutes(r)
	wsHandler.RegisterRoutes(r)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Text turns can take a while; voice runs over the socket, so no
	// WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session.StartTTLWorker(ctx, repo, sessions, cfg.SessionTTL, cfg.SweepInterval, sockets.CloseSession)

	var grpcHealth *health.Server
	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			slog.Error("Failed to listen for gRPC health", "error", err, "port", cfg.GRPCPort)
			os.Exit(1)
		}
		grpcHealth = health.NewServer(repo, health.DefaultConfig(), logger)
		go func() {
			if err := grpcHealth.Serve(ctx, lis); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
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

	if grpcHealth != nil {
		grpcHealth.Stop()
	}
	sockets.CloseAll()
	sessions.Shutdown(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// allowedOrigins opens CORS fully in development and pins it to the
// frontend otherwise.
func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
