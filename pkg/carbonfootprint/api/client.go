// Package api talks to the Electricity Maps carbon intensity API
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/config"
)

const maxBackoff = time.Minute

// HTTPClient interface allows mocking http.Client in tests
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ElectricityData is the latest carbon intensity reported for a zone
type ElectricityData struct {
	Zone            string    `json:"zone"`
	CarbonIntensity float64   `json:"carbonIntensity"` // gCO2eq/kWh
	Datetime        time.Time `json:"datetime"`
	IsEstimated     bool      `json:"isEstimated"`
}

// CacheInterface is the subset of the intensity cache used by the client
type CacheInterface interface {
	Get(zone string) (*ElectricityData, bool)
	Set(zone string, data *ElectricityData)
}

// StatusError is a non-200 answer from the API
type StatusError struct {
	Zone string
	Code int
}

func (e *StatusError) Error() string {
	switch e.Code {
	case http.StatusTooManyRequests:
		return "rate limit exceeded"
	case http.StatusUnauthorized, http.StatusForbidden:
		return "invalid API key"
	case http.StatusNotFound:
		return fmt.Sprintf("zone not found: %s", e.Zone)
	default:
		return fmt.Sprintf("unexpected status code: %d", e.Code)
	}
}

// Temporary reports whether repeating the request may succeed
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// Client fetches grid carbon intensity from the Electricity Maps API
type Client struct {
	endpoint   string
	apiKey     string
	retries    int
	retryDelay time.Duration
	httpClient HTTPClient
	limiter    *time.Ticker
	cache      CacheInterface
}

// ClientOption allows customizing the client
type ClientOption func(*Client)

// WithHTTPClient injects a custom HTTP client
func WithHTTPClient(client HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithCache puts a cache in front of the API
func WithCache(cache CacheInterface) ClientOption {
	return func(c *Client) {
		c.cache = cache
	}
}

// NewClient creates a client that issues at most RateLimit requests per
// second and retries temporary failures MaxRetries times
func NewClient(apiCfg config.ElectricityMapsAPIConfig, cacheCfg config.APICacheConfig, opts ...ClientOption) *Client {
	perSecond := max(cacheCfg.RateLimit, 1)

	c := &Client{
		endpoint:   apiCfg.URL,
		apiKey:     apiCfg.APIKey,
		retries:    max(cacheCfg.MaxRetries, 0),
		retryDelay: cacheCfg.RetryDelay,
		httpClient: &http.Client{Timeout: cacheCfg.Timeout},
		limiter:    time.NewTicker(time.Second / time.Duration(perSecond)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetCarbonIntensity returns the latest intensity for zone. Fresh cache
// entries are served without touching the API.
func (c *Client) GetCarbonIntensity(ctx context.Context, zone string) (*ElectricityData, error) {
	if zone == "" {
		return nil, fmt.Errorf("zone cannot be empty")
	}
	if c.cache != nil {
		if data, fresh := c.cache.Get(zone); fresh {
			klog.V(3).InfoS("Serving grid intensity from cache", "zone", zone, "intensity", data.CarbonIntensity)
			return data, nil
		}
	}

	data, err := c.fetchWithRetry(ctx, zone)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.Set(zone, data)
	}
	return data, nil
}

func (c *Client) fetchWithRetry(ctx context.Context, zone string) (*ElectricityData, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("grid intensity lookup cancelled: %w", ctx.Err())
		case <-c.limiter.C:
		}

		data, err := c.fetch(ctx, zone)
		if err == nil {
			return data, nil
		}
		lastErr = err

		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Temporary() {
			return nil, err
		}
		if attempt >= c.retries {
			break
		}

		wait := backoff(c.retryDelay, attempt)
		klog.V(2).InfoS("Retrying grid intensity lookup",
			"zone", zone,
			"attempt", attempt+1,
			"wait", wait,
			"err", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("grid intensity lookup cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("grid intensity lookup failed after %d attempts: %w", c.retries+1, lastErr)
}

func (c *Client) fetch(ctx context.Context, zone string) (*ElectricityData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+zone, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("auth-token", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Zone: zone, Code: resp.StatusCode}
	}

	var data ElectricityData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if data.CarbonIntensity < 0 {
		return nil, fmt.Errorf("invalid carbon intensity value: %f", data.CarbonIntensity)
	}
	if data.Zone == "" {
		data.Zone = zone
	}
	if data.Datetime.IsZero() {
		data.Datetime = time.Now()
	}
	return &data, nil
}

// backoff doubles base per attempt up to maxBackoff, with ±20% jitter
func backoff(base time.Duration, attempt int) time.Duration {
	d := maxBackoff
	if attempt < 16 {
		d = min(base<<attempt, maxBackoff)
	}
	return time.Duration(float64(d) * (0.8 + 0.4*rand.Float64()))
}

// Close stops the rate limiter
func (c *Client) Close() {
	c.limiter.Stop()
}
