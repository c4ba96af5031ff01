// Package ingest orchestrates one ingestion run: it drains the page fetcher
// into the tabular sink, accumulates run metrics, hands the artifact to the
// durable-storage collaborator, and writes a summary report.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/datakettle/unstable-ingest/pkg/client"
	"github.com/datakettle/unstable-ingest/pkg/sink"
)

// Uploader is the narrow contract of the durable-storage collaborator the
// pipeline depends on. The collaborator also supports Exists and Download,
// but the pipeline only hands off.
type Uploader interface {
	Upload(ctx context.Context, localPath, bucket, key string) bool
}

// Config holds the pipeline configuration.
type Config struct {
	// Fetcher produces the page sequence.
	Fetcher *client.Client

	// Uploader receives the finished artifact.
	Uploader Uploader

	// Bucket is the destination bucket.
	Bucket string

	// Key is the configured destination key; its folder is combined with
	// the timestamped artifact filename to form the object key.
	Key string

	// OutputDir holds the artifact and report; created when absent.
	OutputDir string

	// CSVFilename overrides the timestamped default artifact filename.
	CSVFilename string

	// ReportFilename overrides the timestamped default report filename.
	ReportFilename string
}

// RunMetrics are the monotonic counters of one run.
type RunMetrics struct {
	PagesRequested  int
	SuccessfulPages int
	FailedPages     int
	Retries         int
	RecordsIngested int
	Elapsed         time.Duration
}

// RunResult describes a completed run. Uploaded is surfaced separately from
// the run outcome: a failed upload leaves a valid local artifact.
type RunResult struct {
	ArtifactPath   string
	ReportPath     string
	DestinationURI string
	Uploaded       bool
	Metrics        RunMetrics
}

// Pipeline drives the fetch-and-sink loop for one run.
type Pipeline struct {
	config Config
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if cfg.Uploader == nil {
		return nil, fmt.Errorf("uploader is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "./data"
	}

	return &Pipeline{
		config: cfg,
		logger: log.With().Str("component", "pipeline").Logger(),
		now:    time.Now,
	}, nil
}

// Run executes the ingestion. Credential failures and output stream
// failures abort the run; per-page retry exhaustion and upload failure do
// not.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	start := p.now()
	stamp := start.Format("20060102_150405")

	p.logger.Info().Msg("Starting unstable API ingestion pipeline")

	if err := os.MkdirAll(p.config.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	csvName := p.config.CSVFilename
	if csvName == "" {
		csvName = "unstable_raw_" + stamp + ".csv"
	}
	reportName := p.config.ReportFilename
	if reportName == "" {
		reportName = "report_" + stamp + ".txt"
	}
	artifactPath := filepath.Join(p.config.OutputDir, csvName)
	reportPath := filepath.Join(p.config.OutputDir, reportName)

	writer, err := sink.Create(artifactPath)
	if err != nil {
		return nil, err
	}

	rows, pager, runErr := p.drain(ctx, writer)
	closeErr := writer.Close()
	if runErr != nil {
		return nil, runErr
	}
	if closeErr != nil {
		return nil, closeErr
	}

	stats := pager.Stats()
	p.logger.Info().
		Int("pages", stats.PagesRequested).
		Int("records", rows).
		Msg("Retrieval complete")

	// Hand-off. The folder of the configured key is kept; the object name
	// is the timestamped artifact filename.
	destKey := csvName
	if folder := path.Dir(p.config.Key); folder != "." && folder != "/" {
		destKey = folder + "/" + csvName
	}
	uploaded := p.config.Uploader.Upload(ctx, artifactPath, p.config.Bucket, destKey)
	destinationURI := fmt.Sprintf("s3://%s/%s", p.config.Bucket, destKey)
	if uploaded {
		p.logger.Info().Str("destination", destinationURI).Msg("Upload complete")
	} else {
		p.logger.Warn().
			Str("destination", destinationURI).
			Msg("Upload failed, keeping local artifact")
	}

	metrics := RunMetrics{
		PagesRequested:  stats.PagesRequested,
		SuccessfulPages: stats.SuccessfulPages,
		FailedPages:     stats.FailedPages,
		Retries:         stats.Retries,
		RecordsIngested: stats.RecordsFetched,
		Elapsed:         p.now().Sub(start),
	}

	report := composeReport(metrics, artifactPath, uploaded, destinationURI, p.now())
	if err := os.WriteFile(reportPath, []byte(report), 0o644); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}
	p.logger.Info().Str("path", reportPath).Msg("Report written")

	p.logger.Info().
		Dur("elapsed", metrics.Elapsed).
		Int("records", metrics.RecordsIngested).
		Msg("Ingestion pipeline finished")

	return &RunResult{
		ArtifactPath:   artifactPath,
		ReportPath:     reportPath,
		DestinationURI: destinationURI,
		Uploaded:       uploaded,
		Metrics:        metrics,
	}, nil
}

// drain consumes the page sequence into the sink and returns the rows
// written alongside the pager for its stats.
func (p *Pipeline) drain(ctx context.Context, writer *sink.Writer) (int, *client.Pager, error) {
	pager := p.config.Fetcher.Pages()
	total := 0

	for {
		page, err := pager.Next(ctx)
		if err != nil {
			return total, pager, err
		}
		if page == nil {
			return total, pager, nil
		}

		n, err := writer.AppendPage(page)
		if err != nil {
			return total, pager, err
		}
		total += n

		if page.Failed {
			p.logger.Warn().Int("page", page.Number).Msg("Page lost, continuing")
			continue
		}
		p.logger.Info().
			Int("page", page.Number).
			Int("records", len(page.Records)).
			Int("total", total).
			Msg("Page ingested")
	}
}
