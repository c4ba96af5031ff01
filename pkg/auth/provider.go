// Package auth manages the credential lifecycle for the upstream API: the
// initial login exchange, caching, and 401-driven refresh.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Credential is an opaque token obtained from the identity endpoint.
type Credential struct {
	Token      string
	ObtainedAt time.Time

	// ExpiresAt is zero when the identity endpoint reports no expiry.
	ExpiresAt time.Time
}

// Error represents a fatal authentication failure. No amount of page-level
// retry can substitute for a valid credential, so callers abort the run.
type Error struct {
	Op         string // "login", "refresh", or "request"
	StatusCode int    // 0 for network failures
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("auth %s failed (status %d)", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("auth %s failed: %v", e.Op, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Config holds the credential provider configuration.
type Config struct {
	// AuthURL is the identity endpoint.
	AuthURL string

	// Username and Password for the login exchange.
	Username string
	Password string

	// Timeout bounds the login exchange.
	Timeout time.Duration

	// RefreshMargin triggers a proactive refresh this long before a known
	// expiry. Ignored when the endpoint reports no expiry.
	RefreshMargin time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(authURL, username, password string) Config {
	return Config{
		AuthURL:       authURL,
		Username:      username,
		Password:      password,
		Timeout:       10 * time.Second,
		RefreshMargin: 30 * time.Second,
	}
}

// Provider obtains and caches a credential from the identity endpoint.
//
// The mutex is held across the login exchange, so concurrent callers collapse
// into a single refresh and all waiters receive the same credential.
type Provider struct {
	config     Config
	httpClient *http.Client
	logger     zerolog.Logger

	mu         sync.Mutex
	cred       *Credential
	generation uint64
}

// New creates a new credential provider.
func New(cfg Config) (*Provider, error) {
	if cfg.AuthURL == "" {
		return nil, fmt.Errorf("auth URL is required")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("username and password are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Provider{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: log.With().Str("component", "auth").Logger(),
	}, nil
}

// loginRequest is the identity endpoint request body.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse is the identity endpoint response body. ExpiresIn is optional.
type loginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in,omitempty"`
}

// Header returns the Authorization header value for the current credential,
// performing the login exchange on first use or after invalidation. The
// returned generation identifies the credential; pass it to Invalidate when
// the upstream rejects it.
func (p *Provider) Header(ctx context.Context) (string, uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cred != nil && !p.expiredLocked() {
		return "Bearer " + p.cred.Token, p.generation, nil
	}

	op := "login"
	if p.generation > 0 {
		op = "refresh"
	}

	cred, err := p.exchange(ctx, op)
	if err != nil {
		return "", 0, err
	}

	p.cred = cred
	p.generation++

	p.logger.Info().
		Str("op", op).
		Uint64("generation", p.generation).
		Bool("expiry_known", !cred.ExpiresAt.IsZero()).
		Msg("Credential obtained")

	return "Bearer " + p.cred.Token, p.generation, nil
}

// Invalidate discards the cached credential identified by generation. A stale
// generation is a no-op, so an invalidation racing a completed refresh never
// discards the fresh credential.
func (p *Provider) Invalidate(generation uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if generation != p.generation {
		p.logger.Debug().
			Uint64("generation", generation).
			Uint64("current", p.generation).
			Msg("Ignoring stale invalidation")
		return
	}

	p.cred = nil
	p.logger.Warn().
		Uint64("generation", generation).
		Msg("Credential invalidated by caller")
}

// expiredLocked reports whether the cached credential is within the refresh
// margin of a known expiry. Caller must hold p.mu.
func (p *Provider) expiredLocked() bool {
	if p.cred.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(p.cred.ExpiresAt.Add(-p.config.RefreshMargin))
}

// exchange performs the login request. Caller must hold p.mu.
func (p *Provider) exchange(ctx context.Context, op string) (*Credential, error) {
	body, err := json.Marshal(loginRequest{
		Username: p.config.Username,
		Password: p.config.Password,
	})
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.AuthURL, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Error().Err(err).Str("op", op).Msg("Identity endpoint unreachable")
		return nil, &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.logger.Error().
			Str("op", op).
			Int("status", resp.StatusCode).
			Msg("Identity endpoint rejected credentials")
		return nil, &Error{Op: op, StatusCode: resp.StatusCode}
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, &Error{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if lr.Token == "" {
		return nil, &Error{Op: op, Err: fmt.Errorf("identity endpoint returned empty token")}
	}

	cred := &Credential{
		Token:      lr.Token,
		ObtainedAt: time.Now(),
	}
	if lr.ExpiresIn > 0 {
		cred.ExpiresAt = cred.ObtainedAt.Add(time.Duration(lr.ExpiresIn) * time.Second)
	}

	return cred, nil
}
