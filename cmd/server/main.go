package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/flowtrack/be-sales-approvals/internal/client"
	"github.com/flowtrack/be-sales-approvals/internal/config"
	"github.com/flowtrack/be-sales-approvals/internal/database"
	"github.com/flowtrack/be-sales-approvals/internal/handler"
	"github.com/flowtrack/be-sales-approvals/internal/logger"
	"github.com/flowtrack/be-sales-approvals/internal/service"
	"github.com/flowtrack/be-sales-approvals/internal/store"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Int("approval_levels", cfg.Approvals.Levels).
		Msg("Starting Sales Approvals Service")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Select store backend: Postgres when configured, in-memory otherwise
	var st store.Store
	if cfg.Database.Host != "" {
		db, err := database.New(ctx, database.Config{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			Database:    cfg.Database.Database,
			SSLMode:     cfg.Database.SSLMode,
			MaxConns:    cfg.Database.MaxConns,
			MinConns:    cfg.Database.MinConns,
			MaxConnTime: cfg.Database.MaxConnTime,
			MaxIdleTime: cfg.Database.MaxIdleTime,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()

		pg := store.NewPostgresStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure database schema")
		}
		st = pg
		log.Info().Msg("Database connection established")
	} else {
		st = store.NewMemoryStore()
		log.Warn().Msg("No database configured; using in-memory store")
	}

	// Seed default users and role labels on first run
	if err := store.Seed(ctx, st); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed store")
	}

	// Connect NATS event publisher (optional)
	var events *client.EventPublisher
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS")
		}
		defer nc.Drain()
		events = client.NewEventPublisher(nc, log.Logger)
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS event publisher initialized")
	} else {
		log.Info().Msg("NATS not configured; workflow events disabled")
	}

	// Risk-analysis adapter (optional)
	var analyzer service.RiskAnalyzer
	if cfg.RiskAnalysis.BaseURL != "" {
		analyzer = client.NewRiskClient(cfg.RiskAnalysis.BaseURL, cfg.RiskAnalysis.Timeout)
		log.Info().Str("url", cfg.RiskAnalysis.BaseURL).Msg("Risk-analysis client initialized")
	} else {
		log.Info().Msg("Risk analysis not configured; requests will carry no assessment")
	}

	// Initialize services
	notifications := service.NewNotificationService(st, log)
	workflow := service.NewWorkflowService(st, notifications, events, analyzer,
		cfg.Approvals.Levels, cfg.RiskAnalysis.Timeout, log)
	users := service.NewUserService(st, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(workflow, notifications, users, log)
	mux := http.NewServeMux()
	httpHandler.Routes(mux)

	// Apply middleware
	var hdl http.Handler = mux
	hdl = handler.RequestID(hdl)
	hdl = handler.Logger(&log.Logger)(hdl)
	hdl = handler.Recovery(&log.Logger)(hdl)
	hdl = handler.CORS([]string{"*"})(hdl)
	hdl = handler.Timeout(30 * time.Second)(hdl)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      hdl,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
