package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/divulgaai/prospecting-engine/internal/config"
	"github.com/divulgaai/prospecting-engine/internal/crm/agendor"
	"github.com/divulgaai/prospecting-engine/internal/leads"
	"github.com/divulgaai/prospecting-engine/internal/messaging/zapiclient"
	"github.com/divulgaai/prospecting-engine/internal/observability/metrics"
	"github.com/divulgaai/prospecting-engine/internal/prospecting"
	"github.com/divulgaai/prospecting-engine/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		logger.Error("failed to connect mongodb", "error", err)
		os.Exit(1)
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = client.Disconnect(disconnectCtx)
	}()

	pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err = client.Ping(pingCtx, nil)
	cancel()
	if err != nil {
		logger.Error("mongodb unreachable", "error", err)
		os.Exit(1)
	}

	store := leads.NewStore(client.Database(cfg.MongoDatabase), logger)
	if err := store.Migrate(ctx); err != nil {
		logger.Error("lead store migration failed", "error", err)
		os.Exit(1)
	}

	var crm prospecting.DealUpdater
	if cfg.AgendorToken != "" {
		agendorClient, err := agendor.New(agendor.Config{
			BaseURL: cfg.AgendorBaseURL,
			Token:   cfg.AgendorToken,
			Logger:  logger.Logger,
		})
		if err != nil {
			logger.Error("failed to create agendor client", "error", err)
			os.Exit(1)
		}
		crm = agendorClient
	} else {
		logger.Warn("agendor token not configured, deal stages will not be updated")
	}

	prospectingMetrics := metrics.NewProspectingMetrics(nil)

	fleet, err := prospecting.BuildFleet(cfg, prospecting.FleetDeps{
		Store:      store,
		StaleStore: store,
		CRM:        crm,
		Metrics:    prospectingMetrics,
		Logger:     logger,
		NewGateway: func(instanceID, token string) (prospecting.Gateway, error) {
			return zapiclient.New(zapiclient.Config{
				BaseURL:     cfg.ZAPIBaseURL,
				InstanceID:  instanceID,
				Token:       token,
				ClientToken: cfg.ZAPIClientToken,
				Logger:      logger.Logger,
			})
		},
	})
	if err != nil {
		logger.Error("fleet launch aborted", "error", err)
		os.Exit(1)
	}

	go serveMetrics(cfg.MetricsAddr, logger)

	logger.Info("prospecting fleet starting", "workers", fleet.Workers())
	if err := fleet.Run(ctx); err != nil {
		logger.Error("fleet stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("prospecting fleet drained, shutting down")
}

func serveMetrics(addr string, logger *logging.Logger) {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Error("metrics listener failed", "error", err)
	}
}
