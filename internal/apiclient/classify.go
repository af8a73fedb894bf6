package apiclient

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/andr-235/fullstack-parser-sub002/internal/domain"
	"github.com/andr-235/fullstack-parser-sub002/internal/platform/graphapi"
)

const (
	breakerName     = "external_api"
	codeCircuitOpen = "circuit_open"
)

// classify maps a transport or breaker error onto the domain taxonomy.
func classify(err error) *domain.ExternalAPIError {
	op := graphapi.MethodGroupsGetByID

	var apiErr *graphapi.Error
	if errors.As(err, &apiErr) {
		out := &domain.ExternalAPIError{
			Kind:      domain.Permanent,
			Operation: apiErr.Method,
			Message:   apiErr.Message,
		}
		if apiErr.Code != 0 {
			out.Code = strconv.Itoa(apiErr.Code)
		} else {
			out.Code = "http_" + strconv.Itoa(apiErr.HTTPStatus)
		}
		if apiErr.Transient() {
			out.Kind = domain.Transient
		}
		if apiErr.RateLimited() {
			out.Err = domain.ErrRateLimitExceeded
		}
		return out
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.ExternalAPIError{
			Kind:      domain.Transient,
			Operation: op,
			Code:      codeCircuitOpen,
			Message:   "circuit breaker is not accepting calls",
			Err:       err,
		}
	}

	var tErr *graphapi.TransportError
	if errors.As(err, &tErr) {
		code := "network"
		if tErr.Timeout() || errors.Is(err, context.DeadlineExceeded) {
			code = "timeout"
		}
		return &domain.ExternalAPIError{Kind: domain.Transient, Operation: op, Code: code, Err: tErr.Err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.ExternalAPIError{Kind: domain.Transient, Operation: op, Code: "timeout", Err: err}
	}
	return &domain.ExternalAPIError{Kind: domain.Transient, Operation: op, Code: "unknown", Err: err}
}

// breakerSuccess decides what the breaker counts as a failure: only errors
// that say the API itself is unhealthy. Permanent answers (not found, access
// denied) prove the API is up.
func breakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	return !classify(err).Transient()
}

func (c *Client) newBreaker() *gobreaker.CircuitBreaker[[]graphapi.Group] {
	bc := c.cfg.Breaker
	return gobreaker.NewCircuitBreaker[[]graphapi.Group](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    bc.Interval,
		Timeout:     bc.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < bc.MinRequests || counts.Requests == 0 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= bc.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			c.metrics.SetBreakerState(name, int(to))
		},
		IsSuccessful: breakerSuccess,
	})
}

func toResolvedEntity(g graphapi.Group, id domain.ExternalIdentifier, fetchedAt time.Time) domain.ResolvedEntity {
	return domain.ResolvedEntity{
		ExternalID:   g.ID,
		ScreenName:   g.ScreenName,
		DisplayName:  g.Name,
		Closed:       g.IsClosed != 0,
		Deactivated:  g.Deactivated,
		EntityType:   g.Type,
		MembersCount: g.MembersCount,
		PhotoURL:     g.Photo200,
		Description:  g.Description,
		FetchedAt:    fetchedAt,
		Identifier:   id,
	}
}
