package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"github.com/VisoroGroup/Voice-to-text/internal/config"
	"github.com/VisoroGroup/Voice-to-text/internal/dedup"
	"github.com/VisoroGroup/Voice-to-text/internal/httpserver"
	"github.com/VisoroGroup/Voice-to-text/internal/notify"
	"github.com/VisoroGroup/Voice-to-text/internal/pipeline"
	"github.com/VisoroGroup/Voice-to-text/internal/store"
	"github.com/VisoroGroup/Voice-to-text/internal/whatsapp"
	"github.com/VisoroGroup/Voice-to-text/internal/whisper"
	"github.com/VisoroGroup/Voice-to-text/pkg/jwt"
	"github.com/VisoroGroup/Voice-to-text/pkg/s3storage"
)

func main() {
	_ = godotenv.Load()

	// Setting up logger
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportCaller:    true,
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02 15:04:05",
		Level:           log.DebugLevel,
	})

	// Initializing config manager
	configPath := os.Getenv("APP_CONFIG")
	if configPath == "" {
		configPath = "internal/config/config.yaml"
	}
	cm, err := config.NewConfigManager(configPath)
	if err != nil {
		logger.Error("Error getting config file", "error", err)
		os.Exit(1)
	}

	c := cm.GetConfig()

	// Validating configuration
	if err := c.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger.Info(
		"Configuration loaded",
		"env", c.GeneralParams.Env,
		"http_addr", c.GeneralParams.HTTPaddress,
		"data_dir", c.GeneralParams.DataDir,
	)

	// Opening the transcription store
	recordStore, err := store.New(filepath.Join(c.GeneralParams.DataDir, "transcriptions.json"))
	if err != nil {
		logger.Error("Failed to open store", "error", err)
		os.Exit(1)
	}

	// Wiring new-record notifications into the fan-out hub
	hub := notify.NewHub()
	recordStore.SetNotifier(hub.Publish)

	logger.Info("Store initialized")

	// WhatsApp and Whisper API clients
	waClient := whatsapp.NewClient(
		c.WhatsAppParams.APIBaseURL,
		c.WhatsAppParams.AccessToken,
		c.WhatsAppParams.PhoneNumberID,
		logger,
	)

	whisperClient := whisper.NewClient(
		c.WhisperParams.BaseURL,
		c.WhisperParams.APIKey,
		c.WhisperParams.Model,
		c.WhisperParams.MaxRetries,
		logger,
	)

	// Optional webhook dedup cache
	var dedupCache *dedup.Cache
	if c.ValkeyParams.Host != "" {
		dedupCache, err = dedup.New(c.ValkeyParams.Host, c.ValkeyParams.Password, dedup.DefaultTTL)
		if err != nil {
			logger.Error("Failed to create dedup cache", "error", err)
			os.Exit(1)
		}
		defer dedupCache.Close()
		logger.Info("Webhook dedup cache initialized", "host", c.ValkeyParams.Host)
	}

	// Optional voice note archive
	var archiver pipeline.Archiver
	var archive httpserver.Archive
	if c.S3Params.Endpoint != "" {
		s3Client, err := s3storage.NewMinIOClient(
			c.S3Params.Endpoint,
			c.S3Params.AccessKeyID,
			c.S3Params.SecretAccessKey,
			c.S3Params.BucketName,
			c.S3Params.UseSSL,
		)
		if err != nil {
			logger.Error("Failed to create S3 client", "error", err)
			os.Exit(1)
		}
		archiver = s3Client
		archive = s3Client
		logger.Info("Voice note archive initialized", "bucket", c.S3Params.BucketName)
	}

	// Per-item processor and the sequential queue feeding it
	processor := pipeline.NewProcessor(
		waClient,
		whisperClient,
		waClient,
		recordStore,
		archiver,
		cm.ForwardDestinations,
		c.WhatsAppParams.TemplateName,
		c.WhatsAppParams.TemplateLanguage,
		logger,
	)
	queue := pipeline.NewQueue(processor.Process, logger)

	// Initializing JWT service for the dashboard
	jwtService := jwt.NewService(c.GeneralParams.SecretKey, 12*time.Hour)

	// Creates HTTP server
	server := httpserver.New(
		httpserver.Options{
			Addr:              c.GeneralParams.HTTPaddress,
			VerifyToken:       c.WhatsAppParams.VerifyToken,
			AdminPasswordHash: c.GeneralParams.AdminPasswordHash,
		},
		recordStore,
		hub,
		queue,
		whisperClient,
		archive,
		dedupCache,
		jwtService,
		logger,
	)

	// Channel to listen for errors coming from the server
	serverErrors := make(chan error, 1)

	go func() {
		serverErrors <- server.Start()
	}()

	logger.Info("Server started successfully")

	// Channel to listen for interrupt signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we recieve a signal or error
	select {
	case err := <-serverErrors:
		logger.Error("Server error", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig)

		// Give outstanding requests 10s to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		logger.Info("Shutting down HTTP server...")
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", "error", err)
		}

		// Let the in-flight queue item run to completion
		logger.Info("Draining message queue...")
		queue.Wait()

		hub.Close()
		logger.Info("Server stopped gracefully")
	}
}
