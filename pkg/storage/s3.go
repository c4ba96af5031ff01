// Package storage provides the durable-storage collaborator backed by
// MinIO/S3-compatible object storage.
//
// Operations report outcomes as booleans and log the underlying error: an
// upload failure never invalidates the locally produced artifact, so the
// caller only branches on success.
package storage

import (
	"context"
	"fmt"
	"net/url"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds the object storage configuration.
type Config struct {
	// Endpoint is the storage host, with or without a scheme
	// (e.g. "s3.amazonaws.com", "http://localhost:9000").
	Endpoint string

	// AccessKeyID and SecretAccessKey authenticate against the endpoint.
	AccessKeyID     string
	SecretAccessKey string

	// Region of the target bucket.
	Region string

	// UseSSL enables TLS; an https scheme in Endpoint also enables it.
	UseSSL bool
}

// Client is an object storage client for artifact hand-off.
type Client struct {
	mc     *minio.Client
	logger zerolog.Logger
}

// New creates an object storage client.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("storage endpoint is required")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("storage credentials are required")
	}

	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		if u.Scheme == "https" {
			useSSL = true
		} else if u.Scheme == "http" {
			useSSL = false
		}
	}

	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	return &Client{
		mc:     mc,
		logger: log.With().Str("component", "storage").Logger(),
	}, nil
}

// Upload copies a local file to the bucket. Returns true on success.
func (c *Client) Upload(ctx context.Context, localPath, bucket, key string) bool {
	c.logger.Info().
		Str("local_path", localPath).
		Str("bucket", bucket).
		Str("key", key).
		Msg("Uploading artifact")

	_, err := c.mc.FPutObject(ctx, bucket, key, localPath, minio.PutObjectOptions{
		ContentType: "text/csv",
	})
	if err != nil {
		c.logger.Error().Err(err).
			Str("bucket", bucket).
			Str("key", key).
			Msg("Upload failed")
		return false
	}
	return true
}

// Exists reports whether the object is present in the bucket.
func (c *Client) Exists(ctx context.Context, bucket, key string) bool {
	_, err := c.mc.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	return err == nil
}

// Download copies an object to a local file. Returns true on success.
func (c *Client) Download(ctx context.Context, bucket, key, localPath string) bool {
	c.logger.Info().
		Str("bucket", bucket).
		Str("key", key).
		Str("local_path", localPath).
		Msg("Downloading object")

	if err := c.mc.FGetObject(ctx, bucket, key, localPath, minio.GetObjectOptions{}); err != nil {
		c.logger.Error().Err(err).
			Str("bucket", bucket).
			Str("key", key).
			Msg("Download failed")
		return false
	}
	return true
}

// EnsureBucket creates the bucket when it does not exist yet.
func (c *Client) EnsureBucket(ctx context.Context, bucket, region string) error {
	exists, err := c.mc.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := c.mc.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}
