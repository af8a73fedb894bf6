// Package apiclient is the single gate through which every outbound call to
// the external API passes. It throttles all jobs against one shared budget,
// batches lookups, retries transient failures with exponential backoff and
// stops calling a failing API through a circuit breaker.
package apiclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/andr-235/fullstack-parser-sub002/internal/domain"
	"github.com/andr-235/fullstack-parser-sub002/internal/platform/graphapi"
	"github.com/andr-235/fullstack-parser-sub002/internal/platform/metrics"
)

// Transport performs one raw lookup call. *graphapi.Client implements it.
type Transport interface {
	GetGroupsByID(ctx context.Context, ids []string) ([]graphapi.Group, error)
}

// RetryConfig controls the exponential backoff between attempts.
type RetryConfig struct {
	MaxAttempts int           // total attempts including the first
	BaseDelay   time.Duration // delay before the second attempt
	Multiplier  float64       // growth factor per attempt
	MaxDelay    time.Duration // cap on a single delay
}

// BreakerConfig controls the circuit breaker.
type BreakerConfig struct {
	FailureRatio float64       // failures/requests that trips the breaker
	MinRequests  uint32        // requests needed in a window before tripping
	Cooldown     time.Duration // time spent open before the half-open probe
	Interval     time.Duration // closed-state counting window; 0 never resets
}

// Config configures the Client.
type Config struct {
	RequestsPerSecond float64
	MaxBatchSize      int
	Retry             RetryConfig
	Breaker           BreakerConfig
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 3,
		MaxBatchSize:      500,
		Retry: RetryConfig{
			MaxAttempts: 4,
			BaseDelay:   500 * time.Millisecond,
			Multiplier:  2,
			MaxDelay:    10 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureRatio: 0.6,
			MinRequests:  5,
			Cooldown:     30 * time.Second,
			Interval:     time.Minute,
		},
	}
}

func (c Config) validate() error {
	switch {
	case c.RequestsPerSecond <= 0:
		return fmt.Errorf("requests per second must be positive, got %v", c.RequestsPerSecond)
	case c.MaxBatchSize <= 0:
		return fmt.Errorf("max batch size must be positive, got %d", c.MaxBatchSize)
	case c.Retry.MaxAttempts <= 0:
		return fmt.Errorf("retry max attempts must be positive, got %d", c.Retry.MaxAttempts)
	case c.Retry.Multiplier < 1:
		return fmt.Errorf("retry multiplier must be >= 1, got %v", c.Retry.Multiplier)
	case c.Breaker.FailureRatio <= 0 || c.Breaker.FailureRatio > 1:
		return fmt.Errorf("breaker failure ratio must be in (0, 1], got %v", c.Breaker.FailureRatio)
	}
	return nil
}

// LookupResult is the outcome for one requested identifier. Exactly one of
// Entity and Err is set.
type LookupResult struct {
	Identifier domain.ExternalIdentifier
	Entity     *domain.ResolvedEntity
	Err        error
}

// Client is safe for concurrent use; share one instance across all jobs.
type Client struct {
	transport Transport
	cfg       Config
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker[[]graphapi.Group]
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures optional Client dependencies.
type Option func(*Client)

// WithMetrics records call outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithClock overrides time.Now, used for FetchedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// New creates a Client over transport.
func New(transport Transport, cfg Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	if transport == nil {
		return nil, errors.New("transport cannot be nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid api client config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		transport: transport,
		cfg:       cfg,
		// Burst 1 keeps every rolling second at or below the configured rate.
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:  logger.With("component", "api_client"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = c.newBreaker()
	c.metrics.SetBreakerState(breakerName, int(gobreaker.StateClosed))
	return c, nil
}

// State reports the breaker state: "closed", "half-open" or "open".
func (c *Client) State() string {
	return c.breaker.State().String()
}

// Resolve looks up ids in batches of at most MaxBatchSize. It never fails as
// a whole: per-item failures, including exhausted retries, are reported on
// the matching LookupResult. Results keep the order of ids.
func (c *Client) Resolve(ctx context.Context, ids []domain.ExternalIdentifier) []LookupResult {
	results := make([]LookupResult, 0, len(ids))
	for start := 0; start < len(ids); start += c.cfg.MaxBatchSize {
		end := min(start+c.cfg.MaxBatchSize, len(ids))
		results = append(results, c.resolveBatch(ctx, ids[start:end])...)
	}
	return results
}

func (c *Client) resolveBatch(ctx context.Context, ids []domain.ExternalIdentifier) []LookupResult {
	lookup := make([]string, len(ids))
	for i, id := range ids {
		lookup[i] = id.LookupValue()
	}

	groups, err := c.fetch(ctx, lookup)
	results := make([]LookupResult, len(ids))
	if err != nil {
		for i, id := range ids {
			results[i] = LookupResult{Identifier: id, Err: scopeError(err, id.Key())}
		}
		return results
	}

	fetchedAt := c.now().UTC()
	byID := make(map[int64]graphapi.Group, len(groups))
	byName := make(map[string]graphapi.Group, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
		if g.ScreenName != "" {
			byName[strings.ToLower(g.ScreenName)] = g
		}
	}

	for i, id := range ids {
		g, ok := matchGroup(id, byID, byName)
		if !ok {
			results[i] = LookupResult{Identifier: id, Err: notFound(id)}
			continue
		}
		entity := toResolvedEntity(g, id, fetchedAt)
		results[i] = LookupResult{Identifier: id, Entity: &entity}
	}
	return results
}

func matchGroup(id domain.ExternalIdentifier, byID map[int64]graphapi.Group, byName map[string]graphapi.Group) (graphapi.Group, bool) {
	if id.HasNumericID() {
		g, ok := byID[id.NumericID]
		return g, ok
	}
	g, ok := byName[id.ScreenName]
	return g, ok
}

// fetch runs one batched call under the limiter, the breaker and the retry
// policy. Returned errors are *domain.ExternalAPIError or a context error.
func (c *Client) fetch(ctx context.Context, lookup []string) ([]graphapi.Group, error) {
	var groups []graphapi.Group
	attempt := 0

	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			c.metrics.IncAPIRetry(graphapi.MethodGroupsGetByID)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// The deadline is closer than the next slot.
			return retry.RetryableError(&domain.ExternalAPIError{
				Kind:      domain.Transient,
				Operation: graphapi.MethodGroupsGetByID,
				Code:      "throttled",
				Err:       err,
			})
		}

		start := time.Now()
		res, err := c.breaker.Execute(func() ([]graphapi.Group, error) {
			return c.transport.GetGroupsByID(ctx, lookup)
		})
		if err == nil {
			c.metrics.ObserveAPICall(graphapi.MethodGroupsGetByID, "success", time.Since(start))
			groups = res
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		apiErr := classify(err)
		c.metrics.ObserveAPICall(graphapi.MethodGroupsGetByID, outcome(apiErr), time.Since(start))
		c.logger.WarnContext(ctx, "api call failed",
			"method", graphapi.MethodGroupsGetByID,
			"attempt", attempt,
			"batch_size", len(lookup),
			"kind", apiErr.Kind,
			"code", apiErr.Code,
			"error", apiErr.Error(),
		)
		if apiErr.Transient() {
			return retry.RetryableError(apiErr)
		}
		return apiErr
	})
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// backoff builds a fresh policy per call: base * multiplier^n capped at
// MaxDelay, with MaxAttempts-1 retries.
func (c *Client) backoff() retry.Backoff {
	rc := c.cfg.Retry
	n := 0
	var b retry.Backoff = retry.BackoffFunc(func() (time.Duration, bool) {
		d := float64(rc.BaseDelay) * math.Pow(rc.Multiplier, float64(n))
		n++
		if d > float64(math.MaxInt64) {
			d = float64(math.MaxInt64)
		}
		return time.Duration(d), false
	})
	if rc.MaxDelay > 0 {
		b = retry.WithCappedDuration(rc.MaxDelay, b)
	}
	return retry.WithMaxRetries(uint64(rc.MaxAttempts-1), b)
}

// scopeError attaches the identifier key to a batch-level failure.
func scopeError(err error, target string) error {
	var apiErr *domain.ExternalAPIError
	if errors.As(err, &apiErr) {
		return apiErr.WithTarget(target)
	}
	return err
}

func notFound(id domain.ExternalIdentifier) *domain.ExternalAPIError {
	return &domain.ExternalAPIError{
		Kind:      domain.Permanent,
		Operation: graphapi.MethodGroupsGetByID,
		Target:    id.Key(),
		Code:      "not_found",
		Message:   "entity not found or not accessible",
	}
}

func outcome(err *domain.ExternalAPIError) string {
	switch {
	case err.Code == codeCircuitOpen:
		return "rejected"
	case err.Transient():
		return "transient"
	default:
		return "permanent"
	}
}
