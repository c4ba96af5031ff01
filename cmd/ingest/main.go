// Command ingest runs one ingestion of the unstable upstream API into a
// local CSV artifact and hands it to object storage. Configuration comes
// from the environment (and an optional .env file).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/datakettle/unstable-ingest/pkg/auth"
	"github.com/datakettle/unstable-ingest/pkg/client"
	"github.com/datakettle/unstable-ingest/pkg/config"
	"github.com/datakettle/unstable-ingest/pkg/ingest"
	"github.com/datakettle/unstable-ingest/pkg/logging"
	"github.com/datakettle/unstable-ingest/pkg/storage"
)

// Exit codes
const (
	ExitSuccess     = 0
	ExitRunFailed   = 1
	ExitConfigError = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return ExitConfigError
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})

	authCfg := auth.DefaultConfig(cfg.AuthURL, cfg.Username, cfg.Password)
	authCfg.Timeout = cfg.Timeout()
	provider, err := auth.New(authCfg)
	if err != nil {
		logger.Error().Err(err).Msg("Invalid auth configuration")
		return ExitConfigError
	}

	retry := client.DefaultRetryConfig()
	retry.MaxRetries = cfg.MaxRetries

	fetcher, err := client.New(client.Config{
		BaseURL:     cfg.APIURL,
		Credentials: provider,
		PageLimit:   cfg.PageLimit,
		MaxPages:    cfg.MaxPages,
		Timeout:     cfg.Timeout(),
		Retry:       retry,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Invalid fetcher configuration")
		return ExitConfigError
	}

	store, err := storage.New(storage.Config{
		Endpoint:        cfg.StorageEndpoint,
		AccessKeyID:     cfg.StorageAccessKey,
		SecretAccessKey: cfg.StorageSecretKey,
		Region:          cfg.StorageRegion,
		UseSSL:          cfg.StorageUseSSL,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Invalid storage configuration")
		return ExitConfigError
	}

	pipeline, err := ingest.New(ingest.Config{
		Fetcher:        fetcher,
		Uploader:       store,
		Bucket:         cfg.Bucket,
		Key:            cfg.Key,
		OutputDir:      cfg.OutputDir,
		CSVFilename:    cfg.CSVFilename,
		ReportFilename: cfg.ReportFilename,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Invalid pipeline configuration")
		return ExitConfigError
	}

	// One run-scoped cancellation signal covers network waits and backoff
	// sleeps alike.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := pipeline.Run(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Ingestion pipeline failed")
		return ExitRunFailed
	}

	logger.Info().
		Str("artifact", result.ArtifactPath).
		Str("report", result.ReportPath).
		Bool("uploaded", result.Uploaded).
		Msg("Ingestion completed")

	return ExitSuccess
}
