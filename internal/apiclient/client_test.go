package apiclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andr-235/fullstack-parser-sub002/internal/domain"
	"github.com/andr-235/fullstack-parser-sub002/internal/platform/graphapi"
)

// fakeTransport answers lookups through fn and records every call.
type fakeTransport struct {
	mu    sync.Mutex
	calls [][]string
	times []time.Time
	fn    func(call int, ids []string) ([]graphapi.Group, error)
}

func (f *fakeTransport) GetGroupsByID(_ context.Context, ids []string) ([]graphapi.Group, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), ids...))
	f.times = append(f.times, time.Now())
	n := len(f.calls)
	f.mu.Unlock()
	return f.fn(n, ids)
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// echoGroups answers every numeric lookup with a group of that id.
func echoGroups(_ int, ids []string) ([]graphapi.Group, error) {
	out := make([]graphapi.Group, 0, len(ids))
	for _, id := range ids {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, graphapi.Group{ID: n, Name: "group " + id, ScreenName: "club" + id})
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RequestsPerSecond = 1000
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	cfg.Breaker.Interval = 0
	return cfg
}

func newTestClient(t *testing.T, transport Transport, cfg Config) *Client {
	t.Helper()
	c, err := New(transport, cfg, testLogger())
	require.NoError(t, err)
	return c
}

func numericIDs(ids ...int64) []domain.ExternalIdentifier {
	out := make([]domain.ExternalIdentifier, len(ids))
	for i, id := range ids {
		out[i] = domain.NumericIdentifier(id)
	}
	return out
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxBatchSize = 0
	_, err := New(&fakeTransport{fn: echoGroups}, cfg, testLogger())
	assert.Error(t, err)

	_, err = New(nil, testConfig(), testLogger())
	assert.Error(t, err)
}

func TestResolve_BatchesAndMaps(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{fn: func(_ int, ids []string) ([]graphapi.Group, error) {
		out := []graphapi.Group{}
		for _, id := range ids {
			switch id {
			case "1":
				out = append(out, graphapi.Group{ID: 1, Name: "One", IsClosed: 1, MembersCount: 5, Photo200: "p.jpg"})
			case "durov":
				out = append(out, graphapi.Group{ID: 2, Name: "Durov", ScreenName: "Durov", Deactivated: "banned"})
			case "3":
				out = append(out, graphapi.Group{ID: 3, Name: "Three"})
			}
		}
		return out, nil
	}}
	cfg := testConfig()
	cfg.MaxBatchSize = 2
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	client, err := New(transport, cfg, testLogger(), WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	ids := []domain.ExternalIdentifier{
		domain.NumericIdentifier(1),
		domain.ScreenNameIdentifier("durov"),
		domain.NumericIdentifier(3),
		domain.NumericIdentifier(4),
		domain.ScreenNameIdentifier("ghost"),
	}
	results := client.Resolve(context.Background(), ids)

	require.Len(t, results, 5)
	assert.Equal(t, 3, transport.callCount())
	assert.Equal(t, []string{"1", "durov"}, transport.calls[0])

	require.NoError(t, results[0].Err)
	assert.Equal(t, int64(1), results[0].Entity.ExternalID)
	assert.True(t, results[0].Entity.Closed)
	assert.Equal(t, "p.jpg", results[0].Entity.PhotoURL)
	assert.Equal(t, fixed, results[0].Entity.FetchedAt)
	assert.Equal(t, ids[0], results[0].Entity.Identifier)

	require.NoError(t, results[1].Err)
	assert.Equal(t, domain.EntityStatusInvalid, results[1].Entity.Status())

	require.NoError(t, results[2].Err)

	for _, r := range results[3:] {
		var apiErr *domain.ExternalAPIError
		require.True(t, errors.As(r.Err, &apiErr))
		assert.Equal(t, domain.Permanent, apiErr.Kind)
		assert.Equal(t, "not_found", apiErr.Code)
		assert.Equal(t, r.Identifier.Key(), apiErr.Target)
		assert.Nil(t, r.Entity)
	}
}

func TestResolve_RetriesTransientErrors(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{fn: func(call int, ids []string) ([]graphapi.Group, error) {
		if call < 3 {
			return nil, &graphapi.Error{Method: graphapi.MethodGroupsGetByID, HTTPStatus: 200, Code: graphapi.CodeTooManyRequests}
		}
		return echoGroups(call, ids)
	}}
	client := newTestClient(t, transport, testConfig())

	results := client.Resolve(context.Background(), numericIDs(10, 11))

	assert.Equal(t, 3, transport.callCount())
	for _, r := range results {
		assert.NoError(t, r.Err)
		assert.NotNil(t, r.Entity)
	}
}

func TestResolve_ExhaustedRetriesArePerItemFailures(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{fn: func(int, []string) ([]graphapi.Group, error) {
		return nil, &graphapi.Error{Method: graphapi.MethodGroupsGetByID, HTTPStatus: 200, Code: graphapi.CodeRateLimitReached}
	}}
	cfg := testConfig()
	cfg.Retry.MaxAttempts = 3
	cfg.Breaker.MinRequests = 100
	client := newTestClient(t, transport, cfg)

	results := client.Resolve(context.Background(), numericIDs(1, 2))

	assert.Equal(t, 3, transport.callCount())
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, domain.IsTransientAPIError(r.Err))
		assert.ErrorIs(t, r.Err, domain.ErrRateLimitExceeded)
		assert.Equal(t, domain.CodeRateLimited, domain.ClassifyError(r.Err))

		var apiErr *domain.ExternalAPIError
		require.True(t, errors.As(r.Err, &apiErr))
		assert.Equal(t, r.Identifier.Key(), apiErr.Target)
		assert.Equal(t, "29", apiErr.Code)
	}
}

func TestResolve_PermanentErrorsAreNotRetried(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{fn: func(int, []string) ([]graphapi.Group, error) {
		return nil, &graphapi.Error{Method: graphapi.MethodGroupsGetByID, HTTPStatus: 200, Code: graphapi.CodeAccessDenied, Message: "Access denied"}
	}}
	client := newTestClient(t, transport, testConfig())

	results := client.Resolve(context.Background(), numericIDs(5))

	assert.Equal(t, 1, transport.callCount())
	require.Len(t, results, 1)
	assert.Equal(t, domain.CodeExternalPermanent, domain.ClassifyError(results[0].Err))
	assert.Equal(t, "closed", client.State())
}

func TestResolve_CircuitBreakerOpensAndProbes(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	healthy := false
	transport := &fakeTransport{fn: func(call int, ids []string) ([]graphapi.Group, error) {
		mu.Lock()
		ok := healthy
		mu.Unlock()
		if !ok {
			return nil, &graphapi.Error{Method: graphapi.MethodGroupsGetByID, HTTPStatus: 503, Message: "unavailable"}
		}
		return echoGroups(call, ids)
	}}
	cfg := testConfig()
	cfg.Retry.MaxAttempts = 1
	cfg.Breaker.MinRequests = 2
	cfg.Breaker.FailureRatio = 0.5
	cfg.Breaker.Cooldown = 100 * time.Millisecond
	client := newTestClient(t, transport, cfg)

	client.Resolve(context.Background(), numericIDs(1))
	client.Resolve(context.Background(), numericIDs(2))
	require.Equal(t, "open", client.State())

	results := client.Resolve(context.Background(), numericIDs(3))
	assert.Equal(t, 2, transport.callCount(), "open breaker must not call the API")
	var apiErr *domain.ExternalAPIError
	require.True(t, errors.As(results[0].Err, &apiErr))
	assert.Equal(t, codeCircuitOpen, apiErr.Code)
	assert.True(t, apiErr.Transient())

	mu.Lock()
	healthy = true
	mu.Unlock()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, "half-open", client.State())

	results = client.Resolve(context.Background(), numericIDs(4))
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 3, transport.callCount())
	assert.Equal(t, "closed", client.State())
}

func TestResolve_CancelledContext(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{fn: echoGroups}
	client := newTestClient(t, transport, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := client.Resolve(ctx, numericIDs(1, 2))

	require.Len(t, results, 2)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
	assert.Equal(t, 0, transport.callCount())
}

func TestResolve_GlobalRateLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}
	t.Parallel()

	const rps = 50
	const calls = 60
	transport := &fakeTransport{fn: echoGroups}
	cfg := testConfig()
	cfg.RequestsPerSecond = rps
	client := newTestClient(t, transport, cfg)

	// Many concurrent "jobs" share one budget.
	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < calls/6; i++ {
				client.Resolve(context.Background(), numericIDs(int64(w*100+i+1)))
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	require.Equal(t, calls, transport.callCount())
	// 60 calls at 50/s with burst 1 need at least 59 intervals of 20ms.
	assert.GreaterOrEqual(t, elapsed, 1100*time.Millisecond)

	times := append([]time.Time(nil), transport.times...)
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	for i := 0; i+rps < len(times); i++ {
		window := times[i+rps].Sub(times[i])
		assert.GreaterOrEqual(t, window, 900*time.Millisecond, "more than %d calls inside one second", rps)
	}
}
