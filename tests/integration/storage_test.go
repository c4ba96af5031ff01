package integration

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/datakettle/unstable-ingest/pkg/storage"
)

// setupMinIO creates a MinIO container for integration testing.
func setupMinIO(t *testing.T) (*storage.Client, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping container-backed test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     "ingest-test",
			"MINIO_ROOT_PASSWORD": "ingest-test-secret",
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Failed to start MinIO container (is Docker available?): %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	client, err := storage.New(storage.Config{
		Endpoint:        host + ":" + port.Port(),
		AccessKeyID:     "ingest-test",
		SecretAccessKey: "ingest-test-secret",
		Region:          "us-east-1",
	})
	if err != nil {
		t.Fatalf("Failed to create storage client: %v", err)
	}

	cleanup := func() {
		container.Terminate(ctx)
	}

	return client, cleanup
}

// TestUploadRoundTrip pushes an artifact into MinIO and pulls it back.
func TestUploadRoundTrip(t *testing.T) {
	client, cleanup := setupMinIO(t)
	defer cleanup()

	ctx := context.Background()

	if err := client.EnsureBucket(ctx, "data-lake", "us-east-1"); err != nil {
		t.Fatalf("EnsureBucket failed: %v", err)
	}

	dir := t.TempDir()
	artifact := filepath.Join(dir, "customers.csv")
	content := []byte("id,name\n1,alice\n2,bob\n")
	if err := os.WriteFile(artifact, content, 0o644); err != nil {
		t.Fatalf("Failed to write artifact: %v", err)
	}

	key := "customers/raw/customers.csv"
	if !client.Upload(ctx, artifact, "data-lake", key) {
		t.Fatal("Upload failed")
	}

	if !client.Exists(ctx, "data-lake", key) {
		t.Error("Exists = false after upload")
	}

	restored := filepath.Join(dir, "restored.csv")
	if !client.Download(ctx, "data-lake", key, restored) {
		t.Fatal("Download failed")
	}

	got, err := os.ReadFile(restored)
	if err != nil {
		t.Fatalf("Failed to read downloaded file: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("Downloaded content = %q, want %q", got, content)
	}
}

// TestUploadMissingBucket verifies an upload into a nonexistent bucket
// reports failure instead of erroring out of the run.
func TestUploadMissingBucket(t *testing.T) {
	client, cleanup := setupMinIO(t)
	defer cleanup()

	dir := t.TempDir()
	artifact := filepath.Join(dir, "customers.csv")
	if err := os.WriteFile(artifact, []byte("id\n1\n"), 0o644); err != nil {
		t.Fatalf("Failed to write artifact: %v", err)
	}

	if client.Upload(context.Background(), artifact, "no-such-bucket", "x.csv") {
		t.Error("Upload into a missing bucket should report failure")
	}
}
