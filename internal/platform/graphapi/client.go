// Package graphapi is the raw HTTP transport to the external social-graph API.
// It knows the wire shapes and error codes of the API and nothing about
// throttling, retries or jobs; those live in the apiclient package.
package graphapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andr-235/fullstack-parser-sub002/internal/redact"
)

const (
	// DefaultBaseURL is the public API endpoint.
	DefaultBaseURL = "https://api.vk.com"

	// DefaultVersion is the API version sent with every call.
	DefaultVersion = "5.199"

	// DefaultTimeout bounds a single HTTP round trip.
	DefaultTimeout = 10 * time.Second

	// MethodGroupsGetByID resolves group ids and screen names.
	MethodGroupsGetByID = "groups.getById"

	// DefaultGroupFields are the optional fields requested for every group.
	DefaultGroupFields = "members_count,description,screen_name,type,photo_200"

	maxResponseBytes = 8 << 20
)

// Client performs raw API calls.
type Client struct {
	baseURL     string
	accessToken string
	version     string
	fields      string
	httpClient  *http.Client
	logger      *slog.Logger
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithVersion sets the API version parameter.
func WithVersion(version string) ClientOption {
	return func(c *Client) {
		c.version = version
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient = &http.Client{Timeout: timeout}
	}
}

// WithGroupFields overrides the fields requested from groups.getById.
func WithGroupFields(fields string) ClientOption {
	return func(c *Client) {
		c.fields = fields
	}
}

// WithLogger sets a logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client authenticated with accessToken.
func NewClient(accessToken string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     DefaultBaseURL,
		accessToken: accessToken,
		version:     DefaultVersion,
		fields:      DefaultGroupFields,
		httpClient:  &http.Client{Timeout: DefaultTimeout},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "graphapi")
	return c
}

// envelope is the outer shape of every API response.
type envelope struct {
	Response json.RawMessage `json:"response"`
	Error    *errorBody      `json:"error"`
}

type errorBody struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

// call performs one GET request and returns the raw "response" member.
// API-level failures come back as *Error; network failures are returned
// wrapped, with the access token redacted.
func (c *Client) call(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("access_token", c.accessToken)
	params.Set("v", c.version)

	reqURL := fmt.Sprintf("%s/method/%s?%s", c.baseURL, method, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Method: method, Err: errors.New(redact.Error(err)), cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Method: method, Err: fmt.Errorf("failed to read response: %w", err), cause: err}
	}

	c.logger.DebugContext(ctx, "api call finished",
		"method", method,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	var env envelope
	decodeErr := json.Unmarshal(body, &env)
	if decodeErr == nil && env.Error != nil {
		return nil, &Error{Method: method, HTTPStatus: resp.StatusCode, Code: env.Error.Code, Message: env.Error.Message}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Method: method, HTTPStatus: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	if decodeErr != nil {
		return nil, &Error{Method: method, HTTPStatus: resp.StatusCode, Message: "malformed response: " + decodeErr.Error()}
	}
	return env.Response, nil
}

// GetGroupsByID resolves up to the API's batch limit of ids or screen names
// in one call. Entries the API does not know are simply absent from the result.
func (c *Client) GetGroupsByID(ctx context.Context, ids []string) ([]Group, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	params := url.Values{}
	params.Set("group_ids", strings.Join(ids, ","))
	if c.fields != "" {
		params.Set("fields", c.fields)
	}

	raw, err := c.call(ctx, MethodGroupsGetByID, params)
	if err != nil {
		return nil, err
	}
	groups, err := decodeGroups(raw)
	if err != nil {
		return nil, &Error{Method: MethodGroupsGetByID, HTTPStatus: http.StatusOK, Message: "malformed response: " + err.Error()}
	}
	return groups, nil
}

// decodeGroups accepts both the list form and the newer {"groups": [...]} form.
func decodeGroups(raw json.RawMessage) ([]Group, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return []Group{}, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var groups []Group
		if err := json.Unmarshal(raw, &groups); err != nil {
			return nil, err
		}
		return groups, nil
	}
	var wrapped struct {
		Groups []Group `json:"groups"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Groups == nil {
		wrapped.Groups = []Group{}
	}
	return wrapped.Groups, nil
}
