package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"property-valuation/config"
	"property-valuation/models"
	"property-valuation/services"
	"property-valuation/storage"
	"property-valuation/utils"
)

func main() {
	cfg := config.Load()
	logger := utils.NewLoggerWith(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	logger.Info("=== Property Valuation batch runner starting ===")
	logger.Info("Config: store=%s | workers=%d | checkpoint every %d rows | inputs=%d",
		cfg.StoreDriver, cfg.MaxConcurrentTasks, cfg.CheckpointEvery, len(cfg.InputFiles))

	if len(cfg.InputFiles) == 0 {
		logger.Error("No input files. Set INPUT_FILES to a comma separated list of .csv/.xlsx/.json paths.")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	weights, err := config.LoadWeights(cfg.ModelWeightsFile)
	if err != nil {
		logger.Error("Failed to load model weights: %v", err)
		os.Exit(1)
	}
	if _, err := services.ResolveWeights(weights); err != nil {
		logger.Error("Model weights in %s are invalid: %v", cfg.ModelWeightsFile, err)
		os.Exit(1)
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open task store: %v", err)
		if cfg.StoreDriver == "postgres" {
			logger.Error("Make sure Docker is running: docker compose up -d")
		}
		os.Exit(1)
	}
	defer store.Close()

	artifacts, err := openArtifacts(ctx, cfg)
	if err != nil {
		logger.Error("Failed to prepare artifact store: %v", err)
		os.Exit(1)
	}

	retry := utils.RetryConfig{
		MaxAttempts: cfg.StoreRetries,
		BaseDelay:   time.Duration(cfg.StoreRetryDelayMs) * time.Millisecond,
		Logger:      logger,
	}
	notifiers := services.MultiNotifier{services.NewLogNotifier(logger)}
	if cfg.WebhookURL != "" {
		webhook, err := services.NewWebhookNotifier(cfg.WebhookURL, nil, retry)
		if err != nil {
			logger.Error("Invalid webhook: %v", err)
			os.Exit(1)
		}
		notifiers = append(notifiers, webhook)
	}

	cleaner := services.NewCleaner(logger, services.WithMarketPrice(cfg.MarketPricePerSqm))
	valuer := services.NewValuer(cleaner, services.NewBank(services.BankOptions{}))
	batch := services.NewBatchService(services.BatchConfig{
		MaxConcurrentTasks: cfg.MaxConcurrentTasks,
		CheckpointEvery:    cfg.CheckpointEvery,
		StoreRetry:         retry,
	}, services.BatchDeps{
		Store:    store,
		Emitter:  services.NewEmitter(artifacts),
		Notifier: notifiers,
		Valuer:   valuer,
		Logger:   logger,
	})
	batch.Start(ctx)

	var ids []string
	for _, path := range cfg.InputFiles {
		id, err := batch.SubmitSource(ctx, storage.FileSource{Path: path}, weights)
		if err != nil {
			logger.Error("Submit %s failed: %v", path, err)
			continue
		}
		ids = append(ids, id)
	}

	insightSvc := services.NewInsightService(logger)
	exitCode := 0
	for _, id := range ids {
		task, err := batch.Wait(ctx, id)
		if err != nil {
			logger.Error("Interrupted while waiting for task %s: %v", id, err)
			exitCode = 1
			break
		}
		if task.Status != models.TaskCompleted {
			logger.Error("Task %s (%s) ended %s: %s", id, task.Filename, task.Status, task.Error)
			exitCode = 1
			continue
		}
		artifact, err := batch.Result(ctx, id)
		if err != nil {
			logger.Error("Failed to fetch result of task %s: %v", id, err)
			exitCode = 1
			continue
		}
		insightSvc.Print(insightSvc.Generate(artifact))
		fmt.Printf("  Done. %s → %s\n\n", task.Filename, task.ResultRef)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := batch.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown did not finish cleanly: %v", err)
		exitCode = 1
	}
	if exitCode != 0 {
		store.Close()
		os.Exit(exitCode)
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *utils.Logger) (storage.TaskStore, error) {
	switch cfg.StoreDriver {
	case "postgres":
		return storage.NewPostgresStore(ctx, cfg.DSN(), logger)
	case "sqlite":
		return storage.NewSQLiteStore(ctx, cfg.SQLitePath)
	case "memory":
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q (want postgres, sqlite or memory)", cfg.StoreDriver)
	}
}

func openArtifacts(ctx context.Context, cfg *config.Config) (storage.ArtifactStore, error) {
	if !cfg.MinIOEnabled() {
		return storage.NewFileArtifactStore(cfg.ArtifactDir)
	}
	return storage.NewMinIOArtifactStore(ctx, storage.MinIOConfig{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		Bucket:    cfg.MinIOBucket,
		UseSSL:    cfg.MinIOUseSSL,
		Region:    cfg.MinIORegion,
	})
}
