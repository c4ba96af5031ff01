package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		APIURL:         "https://api.example.com/customers",
		AuthURL:        "https://auth.example.com/login",
		Username:       "svc-ingest",
		Password:       "secret",
		Bucket:         "raw-data",
		Key:            "customers/raw/",
		PageLimit:      1000,
		MaxRetries:     5,
		MaxPages:       10000,
		RequestTimeout: "10s",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing API URL",
			mutate:  func(c *Config) { c.APIURL = "" },
			wantErr: "API_URL",
		},
		{
			name:    "missing auth URL",
			mutate:  func(c *Config) { c.AuthURL = "" },
			wantErr: "AUTH_URL",
		},
		{
			name:    "missing credentials",
			mutate:  func(c *Config) { c.Password = "" },
			wantErr: "API_USERNAME and API_PASSWORD",
		},
		{
			name:    "missing bucket",
			mutate:  func(c *Config) { c.Bucket = "" },
			wantErr: "S3_BUCKET",
		},
		{
			name:    "zero page limit",
			mutate:  func(c *Config) { c.PageLimit = 0 },
			wantErr: "PAGE_LIMIT",
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.MaxRetries = -1 },
			wantErr: "MAX_RETRIES",
		},
		{
			name:    "zero max pages",
			mutate:  func(c *Config) { c.MaxPages = 0 },
			wantErr: "MAX_PAGES",
		},
		{
			name:    "bad timeout",
			mutate:  func(c *Config) { c.RequestTimeout = "soon" },
			wantErr: "REQUEST_TIMEOUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("API_URL", "https://api.example.com/customers")
	t.Setenv("AUTH_URL", "https://auth.example.com/login")
	t.Setenv("API_USERNAME", "svc-ingest")
	t.Setenv("API_PASSWORD", "secret")
	t.Setenv("S3_BUCKET", "raw-data")
	t.Setenv("PAGE_LIMIT", "250")
	t.Setenv("REQUEST_TIMEOUT", "3s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.APIURL != "https://api.example.com/customers" {
		t.Errorf("APIURL = %q", cfg.APIURL)
	}
	if cfg.PageLimit != 250 {
		t.Errorf("PageLimit = %d, want 250", cfg.PageLimit)
	}
	if cfg.Timeout() != 3*time.Second {
		t.Errorf("Timeout() = %v, want 3s", cfg.Timeout())
	}

	// Defaults survive when unset
	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want default 5", cfg.MaxRetries)
	}
	if cfg.OutputDir != "./data" {
		t.Errorf("OutputDir = %q, want default ./data", cfg.OutputDir)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("API_URL", "")
	t.Setenv("AUTH_URL", "")

	if _, err := Load(); err == nil {
		t.Error("Load() expected error for missing required fields")
	}
}

func TestTimeout_FallsBackOnInvalid(t *testing.T) {
	c := Config{RequestTimeout: "bogus"}
	if got := c.Timeout(); got != 10*time.Second {
		t.Errorf("Timeout() = %v, want 10s fallback", got)
	}
}
