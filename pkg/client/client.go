// Package client provides the resilient page fetcher for the unstable
// upstream API: per-page retry with exponential backoff, credential refresh
// on rejection, and a lazy sequential page iterator.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/datakettle/unstable-ingest/pkg/auth"
)

// Prometheus metrics for page requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_requests_total",
		Help: "Total data endpoint requests by status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_request_duration_seconds",
		Help:    "Data endpoint request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_errors_total",
		Help: "Total data endpoint errors by kind",
	}, []string{"kind"})

	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_pages_total",
		Help: "Pages finished by result (success, failed)",
	}, []string{"result"})
)

// Record is one upstream record; its shape varies page-to-page.
type Record map[string]any

// Page is one batch of records. A Failed page carries no records and keeps
// the sequence going (HasMore stays true) so a single unrecoverable page
// does not abort the run.
type Page struct {
	Number  int
	Records []Record
	HasMore bool
	Failed  bool

	// Retries is the number of retry attempts this page consumed.
	Retries int
}

// pageResponse mirrors the data endpoint body. HasMore is a pointer so an
// absent continuation flag is distinguishable from an explicit false; when
// absent, len(Data) == limit is used as the continuation heuristic.
type pageResponse struct {
	Data    []Record `json:"data"`
	HasMore *bool    `json:"hasMore"`
	Total   *int     `json:"total"`
}

// CredentialSource supplies authorization headers. Implemented by
// auth.Provider.
type CredentialSource interface {
	// Header returns the authorization header value and the generation of
	// the credential backing it.
	Header(ctx context.Context) (string, uint64, error)

	// Invalidate discards the credential with the given generation.
	Invalidate(generation uint64)
}

// Config holds the fetcher configuration.
type Config struct {
	// BaseURL is the data endpoint.
	BaseURL string

	// Credentials supplies the authorization header per request.
	Credentials CredentialSource

	// PageLimit is the page size requested per page.
	PageLimit int

	// MaxPages is the safety ceiling on pages per run; it bounds a
	// misbehaving upstream that never signals completion.
	MaxPages int

	// Timeout bounds each page request.
	Timeout time.Duration

	// Retry configures the per-page transient retry budget.
	Retry RetryConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string, creds CredentialSource) Config {
	return Config{
		BaseURL:     baseURL,
		Credentials: creds,
		PageLimit:   1000,
		MaxPages:    10000,
		Timeout:     10 * time.Second,
		Retry:       DefaultRetryConfig(),
	}
}

// Client fetches pages from the unstable upstream API.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new fetcher client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("credential source is required")
	}
	if cfg.PageLimit <= 0 {
		return nil, fmt.Errorf("page limit must be positive (got %d)", cfg.PageLimit)
	}
	if cfg.MaxPages <= 0 {
		return nil, fmt.Errorf("max pages must be positive (got %d)", cfg.MaxPages)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	// Fill only unset retry fields. MaxRetries: 0 is a deliberate
	// no-retry budget and must survive defaulting.
	def := DefaultRetryConfig()
	if cfg.Retry.MaxRetries < 0 {
		cfg.Retry.MaxRetries = def.MaxRetries
	}
	if cfg.Retry.InitialBackoff <= 0 {
		cfg.Retry.InitialBackoff = def.InitialBackoff
	}
	if cfg.Retry.MaxBackoff <= 0 {
		cfg.Retry.MaxBackoff = def.MaxBackoff
	}
	if cfg.Retry.BackoffMultiplier <= 0 {
		cfg.Retry.BackoffMultiplier = def.BackoffMultiplier
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: log.With().Str("component", "fetcher").Logger(),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// request issues a single page request and parses the body. It returns the
// generation of the credential used so a rejection can invalidate precisely
// that credential.
func (c *Client) request(ctx context.Context, page int) (*pageResponse, uint64, error) {
	header, generation, err := c.config.Credentials.Header(ctx)
	if err != nil {
		return nil, 0, err
	}

	u, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, generation, fmt.Errorf("parse base URL: %w", err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(c.config.PageLimit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, generation, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", header)
	req.Header.Set("Accept", "application/json")

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	requestDuration.Observe(time.Since(startTime).Seconds())

	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorKindTransient)).Inc()
		requestsTotal.WithLabelValues("network_error").Inc()
		return nil, generation, &APIError{
			Kind:    ErrorKindTransient,
			Message: "request failed",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := classifyStatus(resp.StatusCode)
		errorsTotal.WithLabelValues(string(kind)).Inc()
		return nil, generation, &APIError{
			StatusCode: resp.StatusCode,
			Kind:       kind,
			Message:    resp.Status,
		}
	}

	var pr pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		errorsTotal.WithLabelValues(string(ErrorKindTransient)).Inc()
		return nil, generation, &APIError{
			StatusCode: resp.StatusCode,
			Kind:       ErrorKindTransient,
			Message:    "malformed body",
			Err:        err,
		}
	}

	return &pr, generation, nil
}

// fetchPage runs the per-page state machine: transient failures consume the
// retry budget with exponential backoff; a credential rejection refreshes
// the credential and retries the same page once for free; two consecutive
// rejections are fatal.
func (c *Client) fetchPage(ctx context.Context, number int) (*Page, error) {
	state := newRetryState(c.config.Retry)
	authStrikes := 0

	for {
		if ctx.Err() != nil {
			return nil, ErrContextCancelled
		}

		resp, generation, err := c.request(ctx, number)
		if err == nil {
			page := &Page{
				Number:  number,
				Records: resp.Data,
				HasMore: c.hasMore(resp),
				Retries: state.Attempt,
			}
			pagesTotal.WithLabelValues("success").Inc()
			if state.Attempt > 0 {
				c.logger.Info().
					Int("page", number).
					Int("attempt", state.Attempt+1).
					Msg("Page succeeded after retry")
			}
			return page, nil
		}

		// Credential acquisition failures are already fatal.
		var authErr *auth.Error
		if errors.As(err, &authErr) {
			return nil, err
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			// Request construction failed; not recoverable by retrying.
			return nil, err
		}

		if apiErr.Kind == ErrorKindAuth {
			authStrikes++
			if authStrikes >= 2 {
				c.logger.Error().
					Int("page", number).
					Int("status", apiErr.StatusCode).
					Msg("Credential rejected twice, aborting run")
				return nil, &auth.Error{
					Op:         "request",
					StatusCode: apiErr.StatusCode,
					Err:        err,
				}
			}

			// One free retry with a fresh credential. Tolerates a token
			// expiring between acquisition and use without touching the
			// transient retry budget.
			c.logger.Warn().
				Int("page", number).
				Int("status", apiErr.StatusCode).
				Msg("Credential rejected, refreshing and retrying page")
			c.config.Credentials.Invalidate(generation)
			continue
		}

		authStrikes = 0
		state.fail(apiErr.Kind)

		if !state.shouldRetry(c.config.Retry) {
			state.exhaust()
			pagesTotal.WithLabelValues("failed").Inc()
			c.logger.Warn().
				Int("page", number).
				Int("attempts", state.Attempt).
				Str("error_kind", string(state.LastKind)).
				Msg("Page abandoned after exhausting retries")
			// HasMore stays true: the run continues past an unrecoverable
			// page instead of treating it as the end of the dataset.
			return &Page{
				Number:  number,
				HasMore: true,
				Failed:  true,
				Retries: c.config.Retry.MaxRetries,
			}, nil
		}

		backoff := state.backoff(c.config.Retry)
		c.logger.Warn().
			Int("page", number).
			Int("attempt", state.Attempt).
			Dur("backoff", backoff).
			Str("error_kind", string(apiErr.Kind)).
			Msg("Retrying page after backoff")

		if err := sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}
}

// hasMore derives the continuation signal: the explicit flag when the API
// supplies one, otherwise the items-count-equals-limit heuristic.
func (c *Client) hasMore(resp *pageResponse) bool {
	if resp.HasMore != nil {
		return *resp.HasMore
	}
	return len(resp.Data) == c.config.PageLimit
}
