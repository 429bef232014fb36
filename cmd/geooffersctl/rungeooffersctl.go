// --- File: cmd/geooffersctl/rungeooffersctl.go ---
package main

import (
	"context"
	_ "embed"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tinywideclouds/go-geooffers-sdk/geooffers"
	"github.com/tinywideclouds/go-geooffers-sdk/geooffers/config"
	"github.com/tinywideclouds/go-geooffers-sdk/pkg/dispatch"
	"github.com/tinywideclouds/go-geooffers-sdk/pkg/model"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-geooffers-sdk")
	slog.SetDefault(logger)

	listingPath := flag.String("listing", "", "nearby-offers response (JSON) to load")
	pushPaths := flag.String("push", "", "comma-separated push payload files to replay in order")
	lat := flag.Float64("lat", 0, "device latitude")
	lng := flag.Float64("lng", 0, "device longitude")
	interval := flag.Duration("interval", 0, "re-process the location at this interval until interrupted")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Config mapping failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Dispatcher ---
	dispatcher := dispatch.DispatcherFunc(func(_ context.Context, n model.LocalNotification) error {
		logger.Info("Local notification", "id", n.ID, "title", n.Title, "body", n.Body, "silent", n.Silent)
		return nil
	})

	// --- SDK ---
	sdk, err := geooffers.Open(ctx, cfg, dispatcher, logger)
	if err != nil {
		logger.Error("SDK creation failed", "err", err)
		os.Exit(1)
	}
	sdk.Start(ctx)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sdk.Shutdown(shutdownCtx); err != nil {
			logger.Error("SDK shutdown with error", "err", err)
		}
	}()

	if *listingPath != "" {
		data, err := os.ReadFile(*listingPath)
		if err != nil {
			logger.Error("Failed to read listing", "path", *listingPath, "err", err)
			return
		}
		if err := sdk.ReplaceListingJSON(data); err != nil {
			logger.Error("Failed to load listing", "path", *listingPath, "err", err)
			return
		}
	}

	for _, path := range strings.Split(*pushPaths, ",") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		payload, err := os.ReadFile(path)
		if err != nil {
			logger.Error("Failed to read push payload", "path", path, "err", err)
			continue
		}
		logger.Info("Push payload replayed", "path", path, "accepted", sdk.HandlePushPayload(ctx, payload))
	}

	loc := model.Location{Latitude: *lat, Longitude: *lng}
	process := func() {
		if sdk.ShouldPollNearbyOffers(loc) {
			logger.Info("Nearby offers poll due", "lat", loc.Latitude, "lng", loc.Longitude)
		}
		if err := sdk.ProcessLocation(ctx, loc); err != nil {
			logger.Warn("Location processing reported errors", "err", err)
		}
	}
	process()

	if *interval > 0 {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-ticker.C:
				process()
			}
		}
	}

	for _, region := range sdk.RegionsToMonitor(loc) {
		logger.Info("Monitoring region", "key", region.Key(), "radius_m", region.RadiusMeters())
	}
	logger.Info("Offers", "confirmed", len(sdk.Offers()), "tracking_pending", sdk.HasCachedEvents(), "offer_list", sdk.OfferListFragment())
}
