// Package client provides a REST client for the ARITANA API.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/raphaelgruber/aritana/internal/metrics"
	"github.com/raphaelgruber/aritana/internal/models"
)

// Defaults used when no option overrides them.
const (
	DefaultBaseURL   = "http://localhost:8000"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10.0
)

// maxResponseBody caps how much of a response is read into memory.
const maxResponseBody = 32 << 20

// Client is a REST client for the ARITANA API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     *slog.Logger
	metrics    metrics.Recorder
	maxBody    int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRateLimit sets the token bucket rate in requests per second.
// Burst equals the rate rounded up. A non-positive rate disables limiting.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		burst := int(perSecond)
		if float64(burst) < perSecond {
			burst++
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics sets the timing recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(c *Client) { c.metrics = r }
}

// New creates a new API client. If baseURL is empty, DefaultBaseURL is used.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     slog.Default(),
		metrics:    metrics.Nop,
		maxBody:    maxResponseBody,
	}
	WithRateLimit(DefaultRateLimit)(c)
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = newBreaker("aritana-api", c.logger)

	return c
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do sends one request through the limiter and the breaker and returns the
// response body of a 2xx reply.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, contentType string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	requestID := uuid.New().String()

	start := time.Now()
	data, err := c.breaker.Execute(func() ([]byte, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Request-ID", requestID)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		tooLarge := int64(len(respBody)) > c.maxBody
		if tooLarge {
			respBody = respBody[:c.maxBody]
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &StatusError{
				StatusCode: resp.StatusCode,
				Status:     resp.Status,
				Body:       string(respBody),
			}
		}
		if tooLarge {
			return nil, fmt.Errorf("%w: over %d bytes", ErrResponseTooLarge, c.maxBody)
		}
		return respBody, nil
	})
	duration := time.Since(start)
	err = breakerErr(err)

	c.metrics.RecordTiming(metrics.OpHTTPRequest, duration, err)
	c.logger.Debug("api request",
		"method", method,
		"path", path,
		"request_id", requestID,
		"duration_ms", duration.Milliseconds(),
		"error", err)

	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return data, nil
}

// getJSON performs a GET and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.do(ctx, http.MethodGet, path, query, nil, "")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// GetCache fetches the combined vessel and statistics payload.
func (c *Client) GetCache(ctx context.Context) (*models.CacheData, error) {
	var data models.CacheData
	if err := c.getJSON(ctx, "/api/cache/", nil, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetMap fetches the vessel list used by the map page.
func (c *Client) GetMap(ctx context.Context) ([]models.Vessel, error) {
	var resp struct {
		Embarcacoes []models.Vessel `json:"embarcacoes"`
	}
	if err := c.getJSON(ctx, "/api/mapa/", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Embarcacoes, nil
}

// GetCharts fetches the aggregate statistics used by the charts page.
func (c *Client) GetCharts(ctx context.Context) (*models.Statistics, error) {
	var stats models.Statistics
	if err := c.getJSON(ctx, "/api/graficos/", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetHistory fetches one server-paginated history page.
func (c *Client) GetHistory(ctx context.Context, q models.HistoryQuery) (*models.HistoryPage, error) {
	var page models.HistoryPage
	if err := c.getJSON(ctx, "/api/historico/", q.Values(), &page); err != nil {
		return nil, err
	}
	if page.Error != "" {
		return nil, fmt.Errorf("history: %s", page.Error)
	}
	return &page, nil
}

// ListJobs lists the jobs the server knows about.
func (c *Client) ListJobs(ctx context.Context) ([]models.JobSummary, error) {
	var resp struct {
		Jobs []models.JobSummary `json:"jobs"`
	}
	if err := c.getJSON(ctx, "/api/jobs/", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// GetJobStatus fetches the status of one analysis job.
func (c *Client) GetJobStatus(ctx context.Context, id string) (*models.JobStatus, error) {
	var status models.JobStatus
	path := "/api/jobs/" + url.PathEscape(id) + "/status/"
	if err := c.getJSON(ctx, path, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Ping checks that the API answers {"message":"pong"}.
func (c *Client) Ping(ctx context.Context) error {
	var resp struct {
		Message string `json:"message"`
	}
	if err := c.getJSON(ctx, "/ping", nil, &resp); err != nil {
		return err
	}
	if resp.Message != "pong" {
		return fmt.Errorf("unexpected ping reply %q", resp.Message)
	}
	return nil
}
