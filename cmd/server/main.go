package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/MothTrain/CambridgeSignallingMap/internal/config"
	"github.com/MothTrain/CambridgeSignallingMap/internal/storage"
	"github.com/MothTrain/CambridgeSignallingMap/internal/system"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration")
	flag.Parse()

	// Config laden
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Logger initialisieren
	var logger *zap.Logger
	if cfg.Logging.Development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Config loaded successfully",
		zap.String("path", *configPath),
		zap.String("feed_source", cfg.Feed.Source))

	var opts []system.Option

	// PostgreSQL nur für Replay
	if cfg.Feed.Source == config.SourceReplay {
		db, err := storage.NewPostgresClient(context.Background(), cfg.Database)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		if total, err := db.CountLogs(context.Background()); err == nil {
			logger.Info("Database connected successfully", zap.Int64("logged_messages", total))
		}
		opts = append(opts, system.WithLogSource(db))
	}

	lifecycle, err := system.NewLifecycleManager(cfg, logger, opts...)
	if err != nil {
		logger.Fatal("Failed to initialise decoder", zap.Error(err))
	}

	// System starten
	if err := lifecycle.Start(); err != nil {
		logger.Fatal("Failed to start system", zap.Error(err))
	}

	logger.Info("Signalling decoder started successfully")

	// Graceful Shutdown auf Signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := lifecycle.Shutdown(ctx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("Signalling decoder stopped successfully")
}
