package datasource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
	states   []string
}

func (o *recordingObserver) ObserveSourceRequest(resource, outcome string, attempts int, duration time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, resource+":"+outcome)
}

func (o *recordingObserver) ObserveBreakerState(name, state string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

func testConfig(baseURL string) Config {
	cfg := DefaultConfig(baseURL)
	cfg.Timeout = 2 * time.Second
	cfg.Retry = RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
	}
	return cfg
}

func TestFetchEvents_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"isSuccess": true,
			"data": [
				{"id": "E1", "sport": "football", "league": "Super Lig", "start_time": "2026-05-01T18:00:00Z",
				 "home_id": "p1", "home_name": "Galatasaray", "away_id": "p2", "away_name": "Fenerbahce", "status": "scheduled"}
			],
			"message": ""
		}`))
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.APIKey = "secret"
	observer := &recordingObserver{}
	client := NewHTTPClient(cfg, observer)

	events, err := client.FetchEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "E1", events[0].ID)
	assert.Equal(t, "Galatasaray", events[0].HomeName)
	assert.Equal(t, []string{"events:success"}, observer.outcomes)
}

func TestFetchOdds_RetriesTransientFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"isSuccess": true, "data": [{"event_id": "E1", "bookmaker": "pinnacle", "market": "h2h", "prices": {"home": 2.1, "draw": 3.4, "away": 3.6}}]}`))
	}))
	defer server.Close()

	client := NewHTTPClient(testConfig(server.URL), nil)

	odds, err := client.FetchOdds(context.Background())
	require.NoError(t, err)
	require.Len(t, odds, 1)
	assert.Equal(t, 2.1, odds[0].Prices["home"])
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchProfiles_ExhaustedRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewHTTPClient(testConfig(server.URL), nil)

	_, err := client.FetchProfiles(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Equal(t, "upstream down", statusErr.Body)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchEvents_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewHTTPClient(testConfig(server.URL), nil)

	_, err := client.FetchEvents(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, "closed", client.BreakerState())
}

func TestFetchEvents_EnvelopeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"isSuccess": false, "data": null, "message": "maintenance"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(testConfig(server.URL), nil)

	_, err := client.FetchEvents(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Contains(t, err.Error(), "maintenance")
}

func TestFetchEvents_BreakerOpens(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Retry.MaxAttempts = 1
	cfg.BreakerFailures = 2
	cfg.BreakerCooldown = time.Minute
	observer := &recordingObserver{}
	client := NewHTTPClient(cfg, observer)

	for i := 0; i < 2; i++ {
		_, err := client.FetchEvents(context.Background())
		require.Error(t, err)
	}
	assert.Equal(t, "open", client.BreakerState())

	_, err := client.FetchEvents(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "open circuit must not reach the provider")
	assert.Equal(t, []string{"open"}, observer.states)
	assert.Equal(t, "events:circuit_open", observer.outcomes[len(observer.outcomes)-1])
}

func TestFetchEvents_ContextCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Retry.InitialBackoff = time.Second
	cfg.Retry.MaxBackoff = time.Second
	client := NewHTTPClient(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.FetchEvents(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "closed", client.BreakerState())
}
