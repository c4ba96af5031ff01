// Package metrics provides the centralized Prometheus registry reference for
// the ingestion pipeline. All metrics are defined in their respective
// packages via promauto to maintain modularity; this package documents what
// is available.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the pipeline.
// All metrics are automatically registered via promauto in their respective
// packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - ingest_requests_total{status} (Counter): Data endpoint requests by HTTP status
//   - ingest_request_duration_seconds (Histogram): Data endpoint request duration
//   - ingest_errors_total{kind} (Counter): Errors by kind (auth, transient)
//   - ingest_pages_total{result} (Counter): Pages finished by result (success, failed)
//
// Retry Metrics (pkg/client):
//   - ingest_retries_total{error_kind} (Counter): Retry attempts by error kind
//   - ingest_retry_backoff_seconds{error_kind} (Histogram): Backoff duration by error kind
//   - ingest_retry_exhausted_total{error_kind} (Counter): Pages that exhausted the retry budget
//
// Example Prometheus Queries:
//
//   # Request Error Rate
//   rate(ingest_errors_total[5m])
//
//   # Share of pages lost to retry exhaustion
//   rate(ingest_pages_total{result="failed"}[5m]) / rate(ingest_pages_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(ingest_request_duration_seconds_bucket[5m]))
