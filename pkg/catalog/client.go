// Package catalog provides the HTTP client for the remote game catalog API.
//
// Requests are POSTed with a plain-text query body (see package query) and
// answered with JSON arrays. Transient failures (429, 5xx, network) are
// retried with exponential backoff; any other failure is returned to the
// caller.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/game-catalog-ingest/pkg/logging"
)

// Prometheus metrics for catalog client operations.
var (
	catalogRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_requests_total",
		Help: "Total catalog API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	catalogRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_request_duration_seconds",
		Help:    "Catalog API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	catalogErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_errors_total",
		Help: "Total catalog API errors by class",
	}, []string{"class"})
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// Endpoints used by the ingestion subsystem.
const (
	EndpointGames      = "games"
	EndpointMultiquery = "multiquery"
)

// maxErrorBody bounds how much of an error response is kept in APIError.
const maxErrorBody = 512

// Client is the remote catalog API client.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the catalog API, e.g. "https://api.igdb.com/v4".
	BaseURL string

	// ClientID is sent in the Client-ID header (REQUIRED).
	ClientID string

	// AccessToken is sent as a Bearer token (REQUIRED). Token issuance
	// happens outside this client.
	AccessToken string

	// UserAgent header.
	UserAgent string

	// Timeout per HTTP request.
	Timeout time.Duration

	// Retry for transient failures.
	Retry RetryConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(clientID, accessToken string) Config {
	return Config{
		BaseURL:     "https://api.igdb.com/v4",
		ClientID:    clientID,
		AccessToken: accessToken,
		UserAgent:   "game-catalog-ingest/0.1.0",
		Timeout:     30 * time.Second,
		Retry:       DefaultRetryConfig(),
	}
}

// New creates a new catalog client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: logging.NewLogger(logging.ComponentCatalogClient),
	}, nil
}

// Fetch runs query against endpoint and decodes the returned records.
func (c *Client) Fetch(ctx context.Context, endpoint, query string) ([]Record, error) {
	body, err := c.post(ctx, endpoint, query)
	if err != nil {
		return nil, err
	}

	var records []Record
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return records, nil
}

// Count runs a multiquery count query and returns the first count.
// Returns ErrNoData if the response holds no rows.
func (c *Client) Count(ctx context.Context, query string) (int, error) {
	body, err := c.post(ctx, EndpointMultiquery, query)
	if err != nil {
		return 0, err
	}

	var results []countResult
	if err := json.Unmarshal(body, &results); err != nil {
		return 0, fmt.Errorf("decode count response: %w", err)
	}
	if len(results) == 0 {
		return 0, ErrNoData
	}
	return results[0].Count, nil
}

// post sends one query with retry and returns the raw 2xx body.
func (c *Client) post(ctx context.Context, endpoint, query string) ([]byte, error) {
	startTime := time.Now()
	defer func() {
		catalogRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	url := c.config.BaseURL + "/" + strings.TrimLeft(endpoint, "/")

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("query", query).
		Msg("Executing catalog request")

	var body []byte
	err := retryWithBackoff(ctx, c.config.Retry, func() error {
		var reqErr error
		body, reqErr = c.attempt(ctx, url, endpoint, query)
		return reqErr
	}, classify)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// attempt performs exactly one HTTP round trip.
func (c *Client) attempt(ctx context.Context, url, endpoint, query string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(query))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Client-ID", c.config.ClientID)
	req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "text/plain")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		catalogErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		catalogRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, &APIError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		catalogErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &APIError{StatusCode: resp.StatusCode, ErrorClass: ErrorClassNetwork, Message: "read body", Err: err}
	}

	status := strconv.Itoa(resp.StatusCode)
	catalogRequestsTotal.WithLabelValues(endpoint, status).Inc()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	errClass := classifyStatus(resp.StatusCode)
	catalogErrorsTotal.WithLabelValues(string(errClass)).Inc()

	c.logger.Warn().
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Str("error_class", string(errClass)).
		Msg("Catalog request error")

	return nil, &APIError{
		StatusCode: resp.StatusCode,
		ErrorClass: errClass,
		Message:    strings.TrimSpace(string(truncate(body, maxErrorBody))),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// classify categorizes an attempt error for retry decisions.
func classify(err error) ErrorClass {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.ErrorClass
	}
	return ErrorClassNetwork
}

// classifyStatus maps a non-2xx status code to an error class.
func classifyStatus(statusCode int) ErrorClass {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case statusCode >= 400 && statusCode < 500:
		return ErrorClassClient
	case statusCode >= 500:
		return ErrorClassServer
	default:
		// 1xx/3xx are unexpected for a POST API; treat as server misbehaviour.
		return ErrorClassServer
	}
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return append(bytes.Clone(b[:n]), "..."...)
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
