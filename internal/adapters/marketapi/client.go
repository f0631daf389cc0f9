package marketapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/Amund211/marketcache/internal/constants"
	"github.com/Amund211/marketcache/internal/domain"
	"github.com/Amund211/marketcache/internal/logging"
	"github.com/Amund211/marketcache/internal/ratelimiting"
	"github.com/Amund211/marketcache/internal/reporting"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type marketAPIMetricsCollection struct {
	requestCount metric.Int64Counter
}

func setupMarketAPIMetrics(meter metric.Meter) (marketAPIMetricsCollection, error) {
	requestCount, err := meter.Int64Counter(
		"marketapi/request_count",
		metric.WithDescription("Requests sent to the marketplace backend"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return marketAPIMetricsCollection{}, fmt.Errorf("failed to create request count metric: %w", err)
	}

	return marketAPIMetricsCollection{
		requestCount: requestCount,
	}, nil
}

// Client talks to the marketplace REST backend.
type Client struct {
	httpClient HttpClient
	baseURL    string
	token      string
	limiter    ratelimiting.RateLimiter

	metrics marketAPIMetricsCollection
	tracer  trace.Tracer
}

// NewClient creates a client for the backend at baseURL. An empty token sends
// no Authorization header.
func NewClient(httpClient HttpClient, baseURL string, token string, limiter ratelimiting.RateLimiter) (*Client, error) {
	const name = "marketcache/adapters/marketapi"

	metrics, err := setupMarketAPIMetrics(otel.Meter(name))
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		limiter:    limiter,

		metrics: metrics,
		tracer:  otel.Tracer(name),
	}, nil
}

func (c *Client) GetPlatforms(ctx context.Context) ([]domain.Platform, error) {
	var platforms []domain.Platform
	if err := c.get(ctx, "GetPlatforms", "/platforms", &platforms); err != nil {
		return nil, err
	}
	if platforms == nil {
		platforms = []domain.Platform{}
	}
	return platforms, nil
}

func (c *Client) GetSkills(ctx context.Context) ([]domain.Skill, error) {
	var skills []domain.Skill
	if err := c.get(ctx, "GetSkills", "/skills", &skills); err != nil {
		return nil, err
	}
	if skills == nil {
		skills = []domain.Skill{}
	}
	return skills, nil
}

// GetJSON decodes the response for path into out. path is relative to the base
// URL and may carry a query string.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.get(ctx, "GetJSON", path, out)
}

// Get returns the decoded response for path.
func Get[T any](ctx context.Context, c *Client, path string) (T, error) {
	var result T
	if err := c.GetJSON(ctx, path, &result); err != nil {
		var empty T
		return empty, err
	}
	return result, nil
}

func (c *Client) get(ctx context.Context, operation string, path string, out any) error {
	ctx, span := c.tracer.Start(ctx, "MarketAPI."+operation, trace.WithAttributes(
		attribute.String("marketapi.path", path),
	))
	defer span.End()

	err := c.doGet(ctx, operation, path, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) doGet(ctx context.Context, operation string, path string, out any) error {
	url := c.baseURL + "/" + strings.TrimLeft(path, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		err := fmt.Errorf("failed to create request: %w", err)
		reporting.Report(ctx, err, map[string]string{"path": path})
		return err
	}

	req.Header.Set("User-Agent", constants.USER_AGENT)
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	// One bucket per endpoint, and one shared by everything sent to the host
	for _, key := range []string{ratelimiting.EndpointKeyFunc(req), ratelimiting.HostKeyFunc(req)} {
		if err := c.limiter.Wait(ctx, key); err != nil {
			logging.FromContext(ctx).WarnContext(ctx, "Did not send request due to rate limiting", "path", path, "error", err.Error())
			c.recordRequest(ctx, operation, "rate_limited")
			return fmt.Errorf("%w: %w", domain.ErrTemporarilyUnavailable, err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err := fmt.Errorf("failed to send request: %w", err)
		c.recordRequest(ctx, operation, "send_error")
		if ctx.Err() == nil {
			reporting.Report(ctx, err, map[string]string{"path": path})
		}
		return fmt.Errorf("%w: %w", domain.ErrTemporarilyUnavailable, err)
	}

	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		err := fmt.Errorf("failed to read response body: %w", err)
		c.recordRequest(ctx, operation, "read_error")
		reporting.Report(ctx, err, map[string]string{"path": path})
		return fmt.Errorf("%w: %w", domain.ErrTemporarilyUnavailable, err)
	}

	c.recordRequest(ctx, operation, strconv.Itoa(resp.StatusCode))

	err = decodeResponse(resp.StatusCode, data, out)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrUnauthorized) || errors.Is(err, domain.ErrTemporarilyUnavailable) {
			// Pass through error but don't report
			return err
		}

		err := fmt.Errorf("failed to decode %s response: %w", path, err)
		reporting.Report(ctx, err, map[string]string{
			"path":   path,
			"data":   truncate(string(data), 1000),
			"status": strconv.Itoa(resp.StatusCode),
		})
		return err
	}

	return nil
}

func (c *Client) recordRequest(ctx context.Context, operation string, status string) {
	c.metrics.requestCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	))
}

func decodeResponse(statusCode int, data []byte, out any) error {
	switch statusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: marketplace API returned status code %d", domain.ErrTemporarilyUnavailable, statusCode)
	case http.StatusNotFound:
		return fmt.Errorf("%w: marketplace API returned status code %d", domain.ErrNotFound, statusCode)
	case http.StatusUnauthorized,
		http.StatusForbidden:
		return fmt.Errorf("%w: marketplace API returned status code %d", domain.ErrUnauthorized, statusCode)
	}

	if statusCode >= 500 {
		return fmt.Errorf("%w: marketplace API returned status code %d", domain.ErrTemporarilyUnavailable, statusCode)
	}

	if statusCode < 200 || statusCode > 299 {
		return fmt.Errorf("%w: marketplace API returned status code %d", domain.ErrInvalidResponse, statusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidResponse, err)
	}

	return nil
}

// IsRetriable reports whether a request failing with err may succeed if sent again.
func IsRetriable(err error) bool {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrInvalidResponse):
		return false
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
