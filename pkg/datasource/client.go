// Package datasource fetches raw profile, event, and odds records from the
// external provider.
package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/iddaa-lens/edge/pkg/logger"
	"github.com/iddaa-lens/edge/pkg/models"
)

const (
	resourceProfiles = "profiles"
	resourceEvents   = "events"
	resourceOdds     = "odds"

	maxBodyBytes  = 32 << 20
	maxErrorBytes = 512
)

// Request outcomes reported to the Observer
const (
	OutcomeSuccess     = "success"
	OutcomeError       = "error"
	OutcomeCircuitOpen = "circuit_open"
)

// Client is the provider boundary used by the sync service.
// Every call re-fetches; nothing is cached.
type Client interface {
	FetchProfiles(ctx context.Context) ([]models.RawProfile, error)
	FetchEvents(ctx context.Context) ([]models.RawEvent, error)
	FetchOdds(ctx context.Context) ([]models.RawOdds, error)
}

// Observer receives per-request telemetry
type Observer interface {
	ObserveSourceRequest(resource, outcome string, attempts int, duration time.Duration)
	ObserveBreakerState(name, state string)
}

// Config holds configuration for the HTTP client
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Retry   RetryPolicy
	// BreakerFailures consecutive exhausted calls open the circuit
	BreakerFailures uint32
	// BreakerCooldown is how long the circuit stays open before probing
	BreakerCooldown time.Duration
}

// DefaultConfig returns a configuration for the given base URL
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:         baseURL,
		Timeout:         30 * time.Second,
		Retry:           DefaultRetryPolicy(),
		BreakerFailures: 5,
		BreakerCooldown: 60 * time.Second,
	}
}

// HTTPClient talks JSON to the provider
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retry      RetryPolicy
	breaker    *gobreaker.CircuitBreaker
	observer   Observer
	logger     *logger.Logger
}

// NewHTTPClient creates a provider client. observer may be nil.
func NewHTTPClient(cfg Config, observer Observer) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 60 * time.Second
	}

	c := &HTTPClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry:      cfg.Retry.normalized(),
		observer:   observer,
		logger:     logger.New("datasource"),
	}

	failures := cfg.BreakerFailures
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "datasource",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Str("action", "breaker_state_change").
				Msg("Data source circuit breaker changed state")
			if c.observer != nil {
				c.observer.ObserveBreakerState(name, to.String())
			}
		},
	})

	return c
}

// BreakerState reports the circuit breaker state (closed, half-open, open)
func (c *HTTPClient) BreakerState() string {
	return c.breaker.State().String()
}

// FetchProfiles returns the full profile/ranking dataset
func (c *HTTPClient) FetchProfiles(ctx context.Context) ([]models.RawProfile, error) {
	return fetch[models.RawProfile](ctx, c, resourceProfiles)
}

// FetchEvents returns every event the provider currently lists
func (c *HTTPClient) FetchEvents(ctx context.Context) ([]models.RawEvent, error) {
	return fetch[models.RawEvent](ctx, c, resourceEvents)
}

// FetchOdds returns the current odds for all listed events
func (c *HTTPClient) FetchOdds(ctx context.Context) ([]models.RawOdds, error) {
	return fetch[models.RawOdds](ctx, c, resourceOdds)
}

func fetch[T any](ctx context.Context, c *HTTPClient, resource string) ([]T, error) {
	start := time.Now()

	var (
		result   []T
		callErr  error
		attempts int
	)
	_, cbErr := c.breaker.Execute(func() (interface{}, error) {
		attempts, callErr = c.retry.do(ctx, c.logger, resource, func(ctx context.Context) error {
			data, err := get[T](ctx, c, resource)
			if err != nil {
				return err
			}
			result = data
			return nil
		})
		// Only exhausted transient failures count against the breaker.
		if callErr != nil && ctx.Err() == nil && isRetryable(callErr) {
			return nil, callErr
		}
		return nil, nil
	})

	if errors.Is(cbErr, gobreaker.ErrOpenState) || errors.Is(cbErr, gobreaker.ErrTooManyRequests) {
		c.observe(resource, OutcomeCircuitOpen, 0, time.Since(start))
		return nil, fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, resource, cbErr)
	}
	if callErr != nil {
		c.observe(resource, OutcomeError, attempts, time.Since(start))
		return nil, fmt.Errorf("%w: %s after %d attempt(s): %w", ErrSourceUnavailable, resource, attempts, callErr)
	}

	c.observe(resource, OutcomeSuccess, attempts, time.Since(start))
	return result, nil
}

func get[T any](ctx context.Context, c *HTTPClient, resource string) ([]T, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, resource)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.LogAPICall(http.MethodGet, url, 0, time.Since(start), err)
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		statusErr := &StatusError{
			Resource:   resource,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
		c.logger.LogAPICall(http.MethodGet, url, resp.StatusCode, time.Since(start), statusErr)
		if statusErr.Temporary() {
			return nil, statusErr
		}
		return nil, permanent(statusErr)
	}

	var envelope models.SourceResponse[T]
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&envelope); err != nil {
		c.logger.LogAPICall(http.MethodGet, url, resp.StatusCode, time.Since(start), err)
		return nil, permanent(fmt.Errorf("failed to decode response: %w", err))
	}
	if !envelope.IsSuccess {
		err := fmt.Errorf("API request failed: %s", envelope.Message)
		c.logger.LogAPICall(http.MethodGet, url, resp.StatusCode, time.Since(start), err)
		return nil, permanent(err)
	}

	c.logger.LogAPICall(http.MethodGet, url, resp.StatusCode, time.Since(start), nil)
	return envelope.Data, nil
}

func (c *HTTPClient) observe(resource, outcome string, attempts int, d time.Duration) {
	if c.observer != nil {
		c.observer.ObserveSourceRequest(resource, outcome, attempts, d)
	}
}
