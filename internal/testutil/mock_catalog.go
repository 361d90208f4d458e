// Package testutil provides testing utilities for the catalog ingestion service.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Credentials accepted by the mock catalog.
const (
	MockClientID    = "test-client-id"
	MockAccessToken = "test-access-token"
)

var (
	offsetPattern = regexp.MustCompile(`offset (\d+);`)
	limitPattern  = regexp.MustCompile(`limit (\d+);`)
)

// MockResponse defines the behavior for a mock catalog endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockCatalog is a configurable mock catalog API holding Total games with
// ids 1..Total. Page requests are served by offset and limit parsed from
// the query body.
type MockCatalog struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	total      int
	delay      time.Duration
	failOffset map[int]MockResponse
	emptyFrom  int

	// Tracking
	requestCount int
	offsets      []int
	lastHeader   http.Header
}

// NewMockCatalog creates a mock catalog with total games.
func NewMockCatalog(total int) *MockCatalog {
	mock := &MockCatalog{
		handlers:   make(map[string]func(w http.ResponseWriter, r *http.Request)),
		total:      total,
		failOffset: make(map[int]MockResponse),
		emptyFrom:  -1,
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.lastHeader = r.Header.Clone()
		mock.mu.Unlock()

		if r.Header.Get("Client-ID") != MockClientID || r.Header.Get("Authorization") != "Bearer "+MockAccessToken {
			writeJSON(w, http.StatusUnauthorized, `{"message":"Authorization Failure"}`)
			return
		}

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		switch r.URL.Path {
		case "/games":
			mock.gamesHandler(w, r)
		case "/multiquery":
			mock.countHandler(w, r)
		default:
			writeJSON(w, http.StatusNotFound, `{"message":"not found"}`)
		}
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockCatalog) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockCatalog) Close() {
	m.server.Close()
}

// SetHandler sets a custom handler for a specific path.
func (m *MockCatalog) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockCatalog) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetDelay delays every page response.
func (m *MockCatalog) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// FailAtOffset makes the page at offset answer with resp.
func (m *MockCatalog) FailAtOffset(offset int, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOffset[offset] = resp
}

// EmptyFrom makes every page at or beyond offset return no rows, as if the
// catalog shrank after it was counted.
func (m *MockCatalog) EmptyFrom(offset int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emptyFrom = offset
}

// RequestCount returns the number of requests made to the server.
func (m *MockCatalog) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// Offsets returns the page offsets requested so far, sorted.
func (m *MockCatalog) Offsets() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]int(nil), m.offsets...)
	sort.Ints(out)
	return out
}

// LastHeader returns the headers of the most recent request.
func (m *MockCatalog) LastHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader
}

func (m *MockCatalog) gamesHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	offset := parseInt(offsetPattern, string(body), 0)
	limit := parseInt(limitPattern, string(body), 10)

	m.mu.Lock()
	m.offsets = append(m.offsets, offset)
	delay := m.delay
	failure, fail := m.failOffset[offset]
	emptyFrom := m.emptyFrom
	total := m.total
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if fail {
		for key, value := range failure.Headers {
			w.Header().Set(key, value)
		}
		writeJSON(w, failure.StatusCode, failure.Body)
		return
	}

	games := make([]map[string]any, 0, limit)
	if emptyFrom < 0 || offset < emptyFrom {
		for id := offset + 1; id <= offset+limit && id <= total; id++ {
			games = append(games, Game(id))
		}
	}

	data, _ := json.Marshal(games)
	writeJSON(w, http.StatusOK, string(data))
}

func (m *MockCatalog) countHandler(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	total := m.total
	m.mu.RUnlock()

	writeJSON(w, http.StatusOK, fmt.Sprintf(`[{"name":"total","count":%d}]`, total))
}

// Game returns the mock payload for id.
func Game(id int) map[string]any {
	return map[string]any{
		"id":                 id,
		"name":               fmt.Sprintf("Game %d", id),
		"slug":               fmt.Sprintf("game-%d", id),
		"first_release_date": 946684800 + int64(id)*86400,
		"total_rating":       float64(id%100) + 0.5,
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"message":"Too Many Requests"}`,
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"message":"Internal server error"}`,
	}
}

// NewBadRequestResponse creates a 400 response for a malformed query.
func NewBadRequestResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusBadRequest,
		Body:       `[{"title":"Syntax Error","status":400}]`,
	}
}

func parseInt(pattern *regexp.Regexp, body string, fallback int) int {
	match := pattern.FindStringSubmatch(body)
	if match == nil {
		return fallback
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(body))
}
