package integration

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/datakettle/unstable-ingest/internal/testutil"
	"github.com/datakettle/unstable-ingest/pkg/auth"
	"github.com/datakettle/unstable-ingest/pkg/client"
	"github.com/datakettle/unstable-ingest/pkg/ingest"
)

// memoryUploader records uploads without touching real storage.
type memoryUploader struct {
	calls  int
	bucket string
	key    string
	data   []byte
}

func (u *memoryUploader) Upload(_ context.Context, localPath, bucket, key string) bool {
	u.calls++
	u.bucket = bucket
	u.key = key
	body, err := os.ReadFile(localPath)
	if err != nil {
		return false
	}
	u.data = body
	return true
}

// newFetcher wires a real credential provider and fetcher against the mocks.
func newFetcher(t *testing.T, identity *testutil.MockIdentity, api *testutil.MockDataAPI, limit, maxPages int) *client.Client {
	t.Helper()

	provider, err := auth.New(auth.Config{
		AuthURL:       identity.URL(),
		Username:      "svc-ingest",
		Password:      "hunter2",
		Timeout:       5 * time.Second,
		RefreshMargin: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	retry := client.DefaultRetryConfig()
	retry.InitialBackoff = 5 * time.Millisecond
	retry.MaxBackoff = 20 * time.Millisecond

	fetcher, err := client.New(client.Config{
		BaseURL:     api.URL(),
		Credentials: provider,
		PageLimit:   limit,
		MaxPages:    maxPages,
		Timeout:     5 * time.Second,
		Retry:       retry,
	})
	if err != nil {
		t.Fatalf("Failed to create fetcher: %v", err)
	}
	return fetcher
}

// TestFullIngestionFlow drives the complete run: login, paged fetch with a
// transient failure, CSV artifact, upload, and report.
func TestFullIngestionFlow(t *testing.T) {
	identity := testutil.NewMockIdentity("svc-ingest", "hunter2")
	defer identity.Close()

	api := testutil.NewMockDataAPI()
	defer api.Close()

	// Page 2 fails once before succeeding; page 3 ends the sequence short.
	api.Script(1, testutil.OKPage(testutil.Records(2, "id", "name"), nil))
	api.Script(2, testutil.ServerError(), testutil.OKPage(testutil.Records(2, "id", "name", "email"), nil))
	api.Script(3, testutil.OKPage(testutil.Records(1, "id", "name"), nil))

	fetcher := newFetcher(t, identity, api, 2, 100)
	uploader := &memoryUploader{}

	dir := t.TempDir()
	pipeline, err := ingest.New(ingest.Config{
		Fetcher:        fetcher,
		Uploader:       uploader,
		Bucket:         "data-lake",
		Key:            "customers/raw/customers.csv",
		OutputDir:      dir,
		CSVFilename:    "customers.csv",
		ReportFilename: "report.txt",
	})
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	result, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if identity.Logins() != 1 {
		t.Errorf("Logins = %d, want 1", identity.Logins())
	}
	if result.Metrics.RecordsIngested != 5 {
		t.Errorf("RecordsIngested = %d, want 5", result.Metrics.RecordsIngested)
	}
	if result.Metrics.Retries != 1 {
		t.Errorf("Retries = %d, want 1", result.Metrics.Retries)
	}
	if result.Metrics.FailedPages != 0 {
		t.Errorf("FailedPages = %d, want 0", result.Metrics.FailedPages)
	}

	// Artifact made it to the uploader with the derived key.
	if uploader.calls != 1 {
		t.Fatalf("Upload calls = %d, want 1", uploader.calls)
	}
	if uploader.key != "customers/raw/customers.csv" {
		t.Errorf("Upload key = %q, want %q", uploader.key, "customers/raw/customers.csv")
	}

	lines := strings.Split(strings.TrimRight(string(uploader.data), "\n"), "\n")
	if len(lines) != 6 {
		t.Fatalf("Artifact lines = %d, want 6 (header + 5 rows):\n%s", len(lines), uploader.data)
	}
	// The header is emitted with page 1 and never rewritten, so it predates
	// the email column discovered on page 2.
	if lines[0] != "id,name" {
		t.Errorf("Header = %q, want %q", lines[0], "id,name")
	}
	if got := strings.Count(lines[3], ","); got != 2 {
		t.Errorf("Post-growth row %q has %d commas, want 2", lines[3], got)
	}
	// Page 3 lacks email; the gap is filled with the sentinel.
	if !strings.HasSuffix(lines[5], ",N/A") {
		t.Errorf("Post-growth row %q should end with the N/A sentinel", lines[5])
	}

	report, err := os.ReadFile(result.ReportPath)
	if err != nil {
		t.Fatalf("Failed to read report: %v", err)
	}
	for _, want := range []string{
		"--- Execution Report ---",
		"Records Ingested: 5",
		"Total Retries: 1",
		"Upload: OK",
	} {
		if !strings.Contains(string(report), want) {
			t.Errorf("Report missing %q:\n%s", want, report)
		}
	}
}

// TestCredentialRefreshMidRun forces a token rotation between pages and
// verifies the run completes with exactly one re-login.
func TestCredentialRefreshMidRun(t *testing.T) {
	identity := testutil.NewMockIdentity("svc-ingest", "hunter2")
	defer identity.Close()

	api := testutil.NewMockDataAPI()
	defer api.Close()
	api.RequireToken("token-2")

	api.Script(1, testutil.OKPage(testutil.Records(2, "id"), nil))
	api.Script(2, testutil.OKPage(testutil.Records(1, "id"), nil))

	fetcher := newFetcher(t, identity, api, 2, 100)
	uploader := &memoryUploader{}

	pipeline, err := ingest.New(ingest.Config{
		Fetcher:     fetcher,
		Uploader:    uploader,
		Bucket:      "data-lake",
		Key:         "customers/raw/customers.csv",
		OutputDir:   t.TempDir(),
		CSVFilename: "customers.csv",
	})
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	result, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if identity.Logins() != 2 {
		t.Errorf("Logins = %d, want 2 (initial + one refresh)", identity.Logins())
	}
	if result.Metrics.RecordsIngested != 3 {
		t.Errorf("RecordsIngested = %d, want 3", result.Metrics.RecordsIngested)
	}
	if result.Metrics.Retries != 0 {
		t.Errorf("Retries = %d, want 0 (credential refresh is not a retry)", result.Metrics.Retries)
	}
}

// TestRevokedCredentialsAbortRun rejects every login and verifies the run
// aborts before any artifact or upload is produced.
func TestRevokedCredentialsAbortRun(t *testing.T) {
	identity := testutil.NewMockIdentity("svc-ingest", "hunter2")
	defer identity.Close()
	identity.RejectAll = true

	api := testutil.NewMockDataAPI()
	defer api.Close()

	fetcher := newFetcher(t, identity, api, 2, 100)
	uploader := &memoryUploader{}

	dir := t.TempDir()
	pipeline, err := ingest.New(ingest.Config{
		Fetcher:     fetcher,
		Uploader:    uploader,
		Bucket:      "data-lake",
		Key:         "customers/raw/customers.csv",
		OutputDir:   dir,
		CSVFilename: "customers.csv",
	})
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	if _, err := pipeline.Run(context.Background()); err == nil {
		t.Fatal("Run should fail when every login is rejected")
	}

	if api.Requests() != 0 {
		t.Errorf("Data requests = %d, want 0", api.Requests())
	}
	if uploader.calls != 0 {
		t.Errorf("Upload calls = %d, want 0", uploader.calls)
	}

	// The empty artifact must not survive an aborted run as data.
	artifact := filepath.Join(dir, "customers.csv")
	if data, err := os.ReadFile(artifact); err == nil && len(data) > 0 {
		t.Errorf("Aborted run left artifact content: %q", data)
	}
}
