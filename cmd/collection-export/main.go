package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/hzen9499/Squidle-Imaging-Processing/internal/config"
	"github.com/hzen9499/Squidle-Imaging-Processing/internal/download"
	"github.com/hzen9499/Squidle-Imaging-Processing/internal/export"
	"github.com/hzen9499/Squidle-Imaging-Processing/internal/manifest"
	"github.com/hzen9499/Squidle-Imaging-Processing/internal/pipeline"
	"github.com/hzen9499/Squidle-Imaging-Processing/internal/sqapi"
)

func main() {
	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfgPath := flag.String("config", "configs/config.yml", "path to the YAML config file")
	flag.Parse()

	logger.Info("Starting collection export...")

	// Load configuration
	cfg, err := config.LoadConfig(*cfgPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if err := cfg.ValidateCollection(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	// Context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Initialize the annotation-service client
	api, err := sqapi.NewClient(cfg.Host, cfg.APIToken, logger)
	if err != nil {
		logger.Fatal("Failed to create API client", zap.Error(err))
	}

	username, err := api.CurrentUser(ctx)
	if err != nil {
		logger.Fatal("Failed to authenticate", zap.Error(err))
	}
	logger.Info("Authenticated against annotation service", zap.String("username", username))

	// Optional run manifest
	var store *manifest.Store
	var ledger download.Ledger
	if cfg.ManifestPath != "" {
		store, err = manifest.Open(cfg.ManifestPath, logger)
		if err != nil {
			logger.Fatal("Failed to open manifest store", zap.Error(err))
		}
		defer store.Close()
		ledger = store
	}

	exporter := export.NewExporter(api, logger)
	downloader := download.New(cfg.MaxWorkers, ledger, logger)

	p := pipeline.New(cfg, api, exporter, downloader, store, logger)
	if err := p.RunCollectionBundle(ctx); err != nil {
		logger.Fatal("Collection export failed", zap.Error(err))
	}

	logger.Info("Collection export finished")
}
