// Package config loads and validates pipeline configuration from env and an
// optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds pipeline configuration loaded from the environment.
type Config struct {
	// APIURL is the base URL of the paginated data endpoint.
	APIURL string `mapstructure:"API_URL"`
	// AuthURL is the identity endpoint used for the login exchange.
	AuthURL string `mapstructure:"AUTH_URL"`
	// Username for the identity endpoint.
	Username string `mapstructure:"API_USERNAME"`
	// Password for the identity endpoint.
	Password string `mapstructure:"API_PASSWORD"`

	// Bucket is the destination bucket for the finished artifact.
	Bucket string `mapstructure:"S3_BUCKET"`
	// Key is the destination key; its folder is kept and the final object name
	// is the timestamped artifact filename.
	Key string `mapstructure:"S3_KEY"`
	// StorageEndpoint is the object storage endpoint (e.g. s3.amazonaws.com or
	// a MinIO host:port).
	StorageEndpoint string `mapstructure:"STORAGE_ENDPOINT"`
	// StorageAccessKey is the object storage access key ID.
	StorageAccessKey string `mapstructure:"STORAGE_ACCESS_KEY"`
	// StorageSecretKey is the object storage secret access key.
	StorageSecretKey string `mapstructure:"STORAGE_SECRET_KEY"`
	// StorageRegion is the object storage region.
	StorageRegion string `mapstructure:"STORAGE_REGION"`
	// StorageUseSSL enables TLS for the object storage endpoint.
	StorageUseSSL bool `mapstructure:"STORAGE_USE_SSL"`

	// OutputDir is the local directory for the artifact and report.
	OutputDir string `mapstructure:"OUTPUT_DIR"`
	// CSVFilename overrides the timestamped default artifact filename.
	CSVFilename string `mapstructure:"CSV_FILENAME"`
	// ReportFilename overrides the timestamped default report filename.
	ReportFilename string `mapstructure:"REPORT_FILENAME"`

	// PageLimit is the page size requested from the data endpoint.
	PageLimit int `mapstructure:"PAGE_LIMIT"`
	// MaxRetries is the per-page transient retry budget.
	MaxRetries int `mapstructure:"MAX_RETRIES"`
	// MaxPages is the safety ceiling on pages requested in one run.
	MaxPages int `mapstructure:"MAX_PAGES"`
	// RequestTimeout bounds each HTTP request (e.g. "10s").
	RequestTimeout string `mapstructure:"REQUEST_TIMEOUT"`

	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogPretty enables human-readable console logging.
	LogPretty bool `mapstructure:"LOG_PRETTY"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment via Viper. Missing .env is ignored (e.g. in CI); env vars
// override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("API_URL", "")
	v.SetDefault("AUTH_URL", "")
	v.SetDefault("API_USERNAME", "")
	v.SetDefault("API_PASSWORD", "")
	v.SetDefault("S3_BUCKET", "")
	v.SetDefault("S3_KEY", "")
	v.SetDefault("STORAGE_ENDPOINT", "s3.amazonaws.com")
	v.SetDefault("STORAGE_ACCESS_KEY", "")
	v.SetDefault("STORAGE_SECRET_KEY", "")
	v.SetDefault("STORAGE_REGION", "us-west-2")
	v.SetDefault("STORAGE_USE_SSL", true)
	v.SetDefault("OUTPUT_DIR", "./data")
	v.SetDefault("CSV_FILENAME", "")
	v.SetDefault("REPORT_FILENAME", "")
	v.SetDefault("PAGE_LIMIT", 1000)
	v.SetDefault("MAX_RETRIES", 5)
	v.SetDefault("MAX_PAGES", 10000)
	v.SetDefault("REQUEST_TIMEOUT", "10s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks required fields and numeric ranges.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return errors.New("config: API_URL must be set")
	}
	if c.AuthURL == "" {
		return errors.New("config: AUTH_URL must be set")
	}
	if c.Username == "" || c.Password == "" {
		return errors.New("config: API_USERNAME and API_PASSWORD must be set")
	}
	if c.Bucket == "" {
		return errors.New("config: S3_BUCKET must be set")
	}
	if c.PageLimit <= 0 {
		return fmt.Errorf("config: PAGE_LIMIT must be positive (got %d)", c.PageLimit)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: MAX_RETRIES must not be negative (got %d)", c.MaxRetries)
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("config: MAX_PAGES must be positive (got %d)", c.MaxPages)
	}
	if _, err := time.ParseDuration(c.RequestTimeout); err != nil {
		return fmt.Errorf("config: REQUEST_TIMEOUT is not a valid duration: %w", err)
	}
	return nil
}

// Timeout parses RequestTimeout as a time.Duration. Returns 10s if unset or
// invalid.
func (c *Config) Timeout() time.Duration {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}
