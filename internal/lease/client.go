// Package lease talks to a validator's HTTP API to list exit regions and to
// negotiate time-bounded WireGuard peer configurations.
package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cochaviz/tpn/internal/logging"
)

const (
	DefaultTimeout = 30 * time.Second

	countriesPath = "/api/config/countries"
	newConfigPath = "/api/config/new"
	maxBodyBytes  = 1 << 20
)

var (
	// ErrUnreachableValidator marks a failed region listing. It is fatal to the run.
	ErrUnreachableValidator = errors.New("validator unreachable")
	// ErrLeaseDenied marks a failed lease negotiation. It is fatal to the run.
	ErrLeaseDenied = errors.New("lease denied")
)

// Request is the user's intent: a region and how long to hold it.
type Request struct {
	Region          string
	DurationMinutes float64
}

// Validate rejects requests that must never reach a validator.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Region) == "" {
		return errors.New("region is required")
	}
	if math.IsNaN(r.DurationMinutes) || math.IsInf(r.DurationMinutes, 0) || r.DurationMinutes <= 0 {
		return fmt.Errorf("lease duration must be a positive number of minutes, got %v", r.DurationMinutes)
	}
	return nil
}

// TotalSeconds is the lease length in whole seconds, never less than one.
func (r Request) TotalSeconds() int {
	seconds := int(math.Round(r.DurationMinutes * 60))
	if seconds < 1 {
		return 1
	}
	return seconds
}

// Config is the opaque peer configuration text returned by a validator.
type Config string

// Empty reports whether the configuration carries no content.
func (c Config) Empty() bool {
	return strings.TrimSpace(string(c)) == ""
}

// Client is a stateless validator API client.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds every request. Non-positive values keep the default.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient builds a Client with a bounded per-request timeout.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.Ensure(c.logger).With("component", "lease.client")
	return c
}

// ListRegions returns the region codes offered by the validator, in the
// order the validator lists them.
func (c *Client) ListRegions(ctx context.Context, endpoint string) ([]string, error) {
	target, err := buildURL(endpoint, countriesPath, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreachableValidator, err)
	}

	c.logger.Debug("listing regions", "url", target)
	body, err := c.get(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreachableValidator, err)
	}

	var codes []string
	if err := json.Unmarshal(body, &codes); err != nil {
		return nil, fmt.Errorf("%w: decode region list: %w", ErrUnreachableValidator, err)
	}
	c.logger.Debug("regions listed", "count", len(codes))
	return codes, nil
}

// Request negotiates a new lease. It returns either a non-empty Config or an
// error wrapping ErrLeaseDenied, never both.
func (c *Client) Request(ctx context.Context, endpoint string, req Request) (Config, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrLeaseDenied, err)
	}

	query := url.Values{}
	query.Set("format", "text")
	query.Set("geo", req.Region)
	query.Set("lease_minutes", strconv.FormatFloat(req.DurationMinutes, 'f', -1, 64))

	target, err := buildURL(endpoint, newConfigPath, query)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrLeaseDenied, err)
	}

	c.logger.Debug("requesting lease", "region", req.Region, "minutes", req.DurationMinutes)
	body, err := c.get(ctx, target)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrLeaseDenied, err)
	}

	config := Config(body)
	if config.Empty() {
		return "", fmt.Errorf("%w: validator returned an empty configuration", ErrLeaseDenied)
	}
	return config, nil
}

func (c *Client) get(ctx context.Context, target string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(body) > maxBodyBytes {
			body = body[:maxBodyBytes]
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", maxBodyBytes)
	}
	return body, nil
}

// StatusError describes a non-success HTTP response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("validator responded %d %s", e.Code, http.StatusText(e.Code))
	}
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "…"
	}
	return fmt.Sprintf("validator responded %d %s: %s", e.Code, http.StatusText(e.Code), body)
}

func buildURL(endpoint, path string, query url.Values) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", errors.New("validator endpoint is required")
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	base, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse validator endpoint: %w", err)
	}
	if base.Host == "" {
		return "", fmt.Errorf("validator endpoint %q has no host", endpoint)
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + path
	if query != nil {
		base.RawQuery = query.Encode()
	}
	return base.String(), nil
}
