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

	"github.com/couchcryptid/weather-telemetry-api/internal/adapter/googlemaps"
	httpadapter "github.com/couchcryptid/weather-telemetry-api/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/weather-telemetry-api/internal/adapter/kafka"
	"github.com/couchcryptid/weather-telemetry-api/internal/adapter/storage"
	"github.com/couchcryptid/weather-telemetry-api/internal/config"
	"github.com/couchcryptid/weather-telemetry-api/internal/domain"
	"github.com/couchcryptid/weather-telemetry-api/internal/observability"
	"github.com/couchcryptid/weather-telemetry-api/internal/pipeline"
	"github.com/couchcryptid/weather-telemetry-api/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(ctx, cfg)
	if err != nil {
		logger.Error("failed to open database", "driver", cfg.DBDriver, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	executor := storage.NewExecutor(db, cfg.DBDriver, cfg.QueryTimeout, logger, metrics)

	decoder := domain.NewDecoder(cfg.UnknownDevicePolicy, cfg.DecodeWorkers)

	// Location enrichment is feature-flagged via GCAPIKEY.
	var locator *domain.Locator
	if cfg.GeocodeEnabled {
		client := googlemaps.NewClient(cfg.GeocodeAPIKey, cfg.GeocodeTimeout, metrics, logger)
		geocoder, err := googlemaps.NewCachedGeocoder(client, cfg.GeocodeCacheSize, cfg.GeocodeNegativeTTL, metrics)
		if err != nil {
			logger.Error("failed to build geocode cache", "error", err)
			os.Exit(1)
		}
		extractor := domain.ComponentAtIndex{Index: cfg.GeocodeComponentIndex}
		locator = domain.NewLocator(geocoder, extractor, cfg.GeocodeConcurrency, logger)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("location enrichment enabled",
			"cache_size", cfg.GeocodeCacheSize, "negative_ttl", cfg.GeocodeNegativeTTL, "timeout", cfg.GeocodeTimeout, "component_index", cfg.GeocodeComponentIndex)
	} else {
		logger.Info("location enrichment disabled")
	}

	svc := telemetry.NewService(executor, decoder, locator, metrics, logger)

	ready := httpadapter.Readiness{executor}

	var (
		relay  *pipeline.Relay
		writer *kafkaadapter.Writer
	)
	if cfg.LiveFeedEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		relay = pipeline.New(svc, svc, writer, logger, metrics, pipeline.Options{
			Interval: cfg.LiveFeedInterval,
			Start:    time.Now().UTC(),
		})
		ready = append(ready, relay)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, svc, ready, metrics, logger)

	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	if relay != nil {
		go func() {
			if err := relay.Run(ctx); err != nil {
				logger.Error("live feed error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
