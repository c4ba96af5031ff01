package client

import (
	"context"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_retries_total",
		Help: "Total number of retry attempts by error kind",
	}, []string{"error_kind"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ingest_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error kind",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_kind"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_retry_exhausted_total",
		Help: "Total number of times a page exhausted its retry budget by error kind",
	}, []string{"error_kind"})
)

// RetryConfig holds the configuration for per-page retry logic.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// InitialBackoff is the backoff before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        5,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryState tracks the retry lifecycle of a single page. It is created when
// a page request begins and discarded when the page succeeds or the budget
// is exhausted.
type RetryState struct {
	Attempt     int
	NextBackoff time.Duration
	LastKind    ErrorKind
}

// newRetryState creates the retry state for a page.
func newRetryState(cfg RetryConfig) *RetryState {
	return &RetryState{
		NextBackoff: cfg.InitialBackoff,
	}
}

// fail registers a failed attempt.
func (s *RetryState) fail(kind ErrorKind) {
	s.Attempt++
	s.LastKind = kind
}

// shouldRetry reports whether the retry budget allows another attempt.
func (s *RetryState) shouldRetry(cfg RetryConfig) bool {
	return s.Attempt <= cfg.MaxRetries
}

// backoff returns the wait before the next attempt, with ±20% jitter to
// avoid hammering a struggling upstream, and advances the exponential
// schedule (base * 2^(attempt-1), capped). MaxBackoff bounds the actual
// sleep, jitter included.
func (s *RetryState) backoff(cfg RetryConfig) time.Duration {
	jitter := time.Duration(float64(s.NextBackoff) * (0.8 + rand.Float64()*0.4))
	if jitter > cfg.MaxBackoff {
		jitter = cfg.MaxBackoff
	}

	s.NextBackoff = time.Duration(float64(s.NextBackoff) * cfg.BackoffMultiplier)
	if s.NextBackoff > cfg.MaxBackoff {
		s.NextBackoff = cfg.MaxBackoff
	}

	retriesTotal.WithLabelValues(string(s.LastKind)).Inc()
	retryBackoffSeconds.WithLabelValues(string(s.LastKind)).Observe(jitter.Seconds())

	return jitter
}

// exhaust records that the page's retry budget was spent without success.
func (s *RetryState) exhaust() {
	retryExhaustedTotal.WithLabelValues(string(s.LastKind)).Inc()
}

// sleep waits for the given duration or until the context is cancelled,
// whichever comes first. Cancellation therefore takes effect within one
// backoff interval.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ErrContextCancelled
	case <-timer.C:
		return nil
	}
}
