package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	adapterhttp "github.com/dublintech/callbridge/internal/callserver/adapters/http"
	"github.com/dublintech/callbridge/internal/callserver/adapters/ws"
	"github.com/dublintech/callbridge/internal/callserver/app"
	customerdomain "github.com/dublintech/callbridge/internal/customer/domain"
	"github.com/dublintech/callbridge/internal/customer/repository/memory"
	"github.com/dublintech/callbridge/internal/customer/repository/postgres"
	"github.com/dublintech/callbridge/internal/platform/config"
	"github.com/dublintech/callbridge/internal/platform/database"
	"github.com/dublintech/callbridge/internal/platform/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel)
	appLogger.Info("Call server starting...", "port", cfg.ServerPort)

	var customerRepo customerdomain.Repository
	var dbPool *pgxpool.Pool
	if cfg.PostgresDSN != "" {
		dbPool, err = database.NewDBPool(context.Background(), cfg.PostgresDSN)
		if err != nil {
			appLogger.Error("Failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()
		customerRepo = postgres.NewPgCustomerRepository(dbPool, appLogger)
		appLogger.Info("Customer store: PostgreSQL")
	} else {
		customerRepo = memory.NewRepository(nil, appLogger)
		appLogger.Info("Customer store: seeded in-memory (no POSTGRES_DSN configured)")
	}

	hub := app.NewHub(appLogger, cfg.HubSendBuffer)

	twilioHandler := adapterhttp.NewTwilioHandler(hub, adapterhttp.TwilioConfig{
		AccountSid:   cfg.TwilioAccountSid,
		APIKeySid:    cfg.TwilioAPIKeySid,
		APIKeySecret: cfg.TwilioAPIKeySecret,
		TwimlAppSid:  cfg.TwilioTwimlAppSid,
		HoldMusicURL: cfg.HoldMusicURL,
	}, appLogger)
	customerHandler := adapterhttp.NewCustomerHandler(customerRepo, appLogger)
	wsHandler := ws.NewSubscriberHandler(hub, appLogger)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	// Request-scoped endpoints get a timeout; the WS route below must not,
	// its connections are long-lived.
	r.Group(func(gr chi.Router) {
		gr.Use(chimiddleware.Timeout(60 * time.Second))

		gr.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		})
		gr.Handle("/metrics", promhttp.Handler())

		// Provider-facing and harness ingest.
		gr.Post("/voice/webhook", twilioHandler.VoiceWebhook)
		gr.Post("/test/incoming-call", twilioHandler.TestIncomingCall)

		// Operator-facing API.
		gr.Get("/api/twilio/token", twilioHandler.Token)
		gr.Route("/api/customers", func(cr chi.Router) {
			cr.Get("/", customerHandler.GetAll)
			cr.Get("/by-phone", customerHandler.GetByPhone)
			cr.Post("/", customerHandler.Create)
		})
	})

	// Persistent event channel, outside the timeout group.
	r.Get("/hubs/calls", wsHandler.ServeHTTP)

	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.ServerPort), Handler: r}
	go func() {
		appLogger.Info(fmt.Sprintf("Call server listening on port %d", cfg.ServerPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("HTTP server failed to serve", "error", err)
		}
	}()

	quitChan := make(chan os.Signal, 1)
	signal.Notify(quitChan, syscall.SIGINT, syscall.SIGTERM)
	<-quitChan
	appLogger.Info("Shutdown signal received, shutting down HTTP server...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		appLogger.Error("HTTP server graceful shutdown failed", "error", err)
	}
	appLogger.Info("Call server stopped.")
}
