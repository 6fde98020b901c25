package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace-chat/internal/auth"
	"marketplace-chat/internal/cache"
	"marketplace-chat/internal/config"
	"marketplace-chat/internal/database"
	"marketplace-chat/internal/handlers"
	"marketplace-chat/internal/presence"
	"marketplace-chat/internal/services"
	"marketplace-chat/internal/telemetry"
	"marketplace-chat/internal/websocket"
	"marketplace-chat/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("%v", err)
		return err
	}
	logger.GlobalLogger.SetLevel(cfg.LogLevel)

	// Metrics
	provider, err := telemetry.NewProvider(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		logger.Error("Failed to set up telemetry: %v", err)
		return err
	}
	provider.SetGlobal()
	metrics, err := telemetry.NewMetrics(provider.MeterProvider)
	if err != nil {
		logger.Error("Failed to create instruments: %v", err)
		return err
	}

	// Initialize database
	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database: %v", err)
		return err
	}
	defer db.Close()

	// Initialize services
	authService := auth.NewService(db, cfg.JWT)
	registry := presence.NewRegistry()
	directory := websocket.NewDirectory(metrics)
	permissions := cache.NewPermissionCache()

	notificationService := services.NewNotificationService(db, authService, directory, metrics, cfg.Realtime.NotifyConcurrency)
	conversationService := services.NewConversationService(services.ConversationDeps{
		Rooms:     db,
		Messages:  db,
		Cache:     permissions,
		Directory: directory,
		Presence:  registry,
		Notifier:  notificationService,
		Metrics:   metrics,
		MaxLength: cfg.Realtime.MessageMaxLength,
	})

	// Initialize handlers
	gateway := handlers.NewWebSocketHandlers(authService, registry, directory, conversationService, notificationService, metrics, handlers.GatewayConfig{
		AuthTimeout:    cfg.Realtime.AuthTimeout,
		EventTimeout:   cfg.Realtime.EventTimeout,
		SendBuffer:     cfg.Realtime.SendBuffer,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	internal := handlers.NewInternalHandlers(conversationService, notificationService, gateway, registry, cfg.Internal.APIKey)

	// Setup routes
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gateway.HandleWebSocket)
	internal.Register(mux)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      corsMiddleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server started on %s", cfg.Server.Addr)
		logger.Info("WebSocket endpoint: ws://%s/ws", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Server shutting down...")
	case err := <-errCh:
		if err != nil {
			logger.Error("Server error: %v", err)
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by http.Server.
	gateway.Shutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown: %v", err)
	}
	if err := provider.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Telemetry shutdown: %v", err)
	}
	logger.Info("Server stopped")
	return nil
}

// openDatabase uses Postgres when a URL is configured and the in-memory
// store otherwise.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (database.Database, error) {
	if cfg.URL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		return database.NewMemoryDB(), nil
	}
	db, err := database.NewPostgresDB(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Internal-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
