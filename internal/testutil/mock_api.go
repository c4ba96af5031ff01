// Package testutil provides testing utilities for the ingestion pipeline.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockIdentity is a configurable mock identity endpoint.
type MockIdentity struct {
	server *httptest.Server
	mu     sync.Mutex

	// Username and Password accepted by the endpoint.
	Username string
	Password string

	// ExpiresIn, when positive, is returned as the token lifetime in seconds.
	ExpiresIn int64

	// RejectAll makes every login attempt fail with 401.
	RejectAll bool

	// Tracking
	LoginCount int
}

// NewMockIdentity creates a mock identity endpoint accepting the given
// credentials. Each successful login issues a distinct token
// ("token-1", "token-2", ...).
func NewMockIdentity(username, password string) *MockIdentity {
	mock := &MockIdentity{
		Username: username,
		Password: password,
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		defer mock.mu.Unlock()

		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if mock.RejectAll || body.Username != mock.Username || body.Password != mock.Password {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		mock.LoginCount++
		resp := map[string]any{"token": "token-" + strconv.Itoa(mock.LoginCount)}
		if mock.ExpiresIn > 0 {
			resp["expires_in"] = mock.ExpiresIn
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))

	return mock
}

// URL returns the mock identity endpoint URL.
func (m *MockIdentity) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockIdentity) Close() {
	m.server.Close()
}

// CurrentToken returns the most recently issued token.
func (m *MockIdentity) CurrentToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return "token-" + strconv.Itoa(m.LoginCount)
}

// Logins returns the number of successful logins.
func (m *MockIdentity) Logins() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LoginCount
}

// MockPageResponse defines the behavior of the mock data endpoint for one
// request to a given page, in arrival order. When a page's script is
// exhausted, the last entry repeats.
type MockPageResponse struct {
	StatusCode int
	Records    []map[string]any
	HasMore    *bool
	RawBody    string // overrides the JSON body when set (for malformed bodies)
	Delay      time.Duration
}

// MockDataAPI is a configurable mock data endpoint serving scripted
// paginated responses.
type MockDataAPI struct {
	server *httptest.Server
	mu     sync.Mutex

	// ValidTokens, when non-empty, restricts accepted bearer tokens; any
	// other Authorization header gets a 401.
	ValidTokens map[string]bool

	scripts map[int][]MockPageResponse
	served  map[int]int

	// Tracking
	RequestCount int
	authHeaders  []string
}

// NewMockDataAPI creates a mock data endpoint with no scripted pages. An
// unscripted page returns an empty page with hasMore=false.
func NewMockDataAPI() *MockDataAPI {
	mock := &MockDataAPI{
		scripts: make(map[int][]MockPageResponse),
		served:  make(map[int]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))

	return mock
}

// URL returns the mock data endpoint URL.
func (m *MockDataAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockDataAPI) Close() {
	m.server.Close()
}

// Script appends scripted responses for a page, served in order.
func (m *MockDataAPI) Script(page int, responses ...MockPageResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[page] = append(m.scripts[page], responses...)
}

// RequireToken restricts accepted bearer tokens.
func (m *MockDataAPI) RequireToken(tokens ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ValidTokens = make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		m.ValidTokens[tok] = true
	}
}

// Requests returns the number of data requests served.
func (m *MockDataAPI) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RequestCount
}

// AuthHeaders returns the Authorization header of every request, in order.
func (m *MockDataAPI) AuthHeaders() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.authHeaders))
	copy(out, m.authHeaders)
	return out
}

func (m *MockDataAPI) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.RequestCount++
	m.authHeaders = append(m.authHeaders, r.Header.Get("Authorization"))

	if m.ValidTokens != nil {
		token := r.Header.Get("Authorization")
		if len(token) > 7 {
			token = token[7:] // strip "Bearer "
		}
		if !m.ValidTokens[token] {
			m.mu.Unlock()
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}

	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil {
		m.mu.Unlock()
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	script, ok := m.scripts[page]
	if !ok {
		m.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"data":    []map[string]any{},
			"hasMore": false,
		})
		return
	}

	idx := m.served[page]
	if idx >= len(script) {
		idx = len(script) - 1
	}
	m.served[page]++
	resp := script[idx]
	m.mu.Unlock()

	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}

	if resp.RawBody != "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		w.Write([]byte(resp.RawBody))
		return
	}

	if resp.StatusCode != http.StatusOK {
		w.WriteHeader(resp.StatusCode)
		return
	}

	body := map[string]any{"data": resp.Records}
	if resp.HasMore != nil {
		body["hasMore"] = *resp.HasMore
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// OKPage builds a successful scripted page.
func OKPage(records []map[string]any, hasMore *bool) MockPageResponse {
	return MockPageResponse{
		StatusCode: http.StatusOK,
		Records:    records,
		HasMore:    hasMore,
	}
}

// ServerError builds a 500 scripted response.
func ServerError() MockPageResponse {
	return MockPageResponse{StatusCode: http.StatusInternalServerError}
}

// Unauthorized builds a 401 scripted response.
func Unauthorized() MockPageResponse {
	return MockPageResponse{StatusCode: http.StatusUnauthorized}
}

// MalformedBody builds a 200 response with an unparseable body.
func MalformedBody() MockPageResponse {
	return MockPageResponse{
		StatusCode: http.StatusOK,
		RawBody:    `{"data": [`,
	}
}

// Bool returns a pointer to b, for scripting explicit hasMore flags.
func Bool(b bool) *bool {
	return &b
}

// Records builds n records with the given fields, numbering an "id" field.
func Records(n int, fields ...string) []map[string]any {
	out := make([]map[string]any, n)
	for i := 0; i < n; i++ {
		rec := map[string]any{"id": i + 1}
		for _, f := range fields {
			rec[f] = f + "-" + strconv.Itoa(i+1)
		}
		out[i] = rec
	}
	return out
}
