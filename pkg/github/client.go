// Package github provides a quota-tracking client for the GitHub REST API.
// It is the only path through which pulse-engine talks to the metered
// upstream: it enforces the quota safety floor, backs off on secondary rate
// limits and counts every physical request for per-run budget accounting.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/osspulse/pulse-engine/pkg/apperrors"
	"github.com/osspulse/pulse-engine/pkg/logging"
	"github.com/osspulse/pulse-engine/pkg/retry"
)

// searchPoolWarnFloor is the level below which the search pool (only 30
// calls/minute) is logged as low. The search pool never aborts a run.
const searchPoolWarnFloor = 5

// Config holds client settings.
type Config struct {
	BaseURL         string
	Token           string
	SafetyThreshold int
	MaxRetries      int
	Timeout         time.Duration
}

// Stats is a point-in-time snapshot of quota state and call counts.
type Stats struct {
	Calls           int        `json:"calls"`
	CoreRemaining   int        `json:"core_remaining"` // -1 until first response
	CoreReset       *time.Time `json:"core_reset,omitempty"`
	SearchRemaining int        `json:"search_remaining"` // -1 until first response
	SearchReset     *time.Time `json:"search_reset,omitempty"`
}

// pool tracks one rate-limit pool from response headers.
type pool struct {
	remaining int // -1 means unknown
	reset     time.Time
}

// Client issues GitHub REST calls under quota tracking. The core and search
// pools are tracked separately because GitHub meters them separately; only
// the core pool enforces the safety floor.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	floor      int
	retryCfg   *retry.Config
	logger     *zap.Logger

	mu     sync.Mutex
	core   pool
	search pool
	calls  int
}

// NewClient creates a GitHub API client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	retryCfg := retry.DefaultConfig()
	if cfg.MaxRetries > 0 {
		retryCfg.MaxRetries = cfg.MaxRetries
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		token:      cfg.Token,
		floor:      cfg.SafetyThreshold,
		retryCfg:   retryCfg,
		logger:     logger.Named("github"),
		core:       pool{remaining: -1},
		search:     pool{remaining: -1},
	}
}

// throttledError marks a secondary rate limit as retryable for pkg/retry.
type throttledError struct {
	retryAfter time.Duration
}

func (e *throttledError) Error() string {
	return fmt.Sprintf("secondary rate limit, retry after %s", e.retryAfter)
}

func (e *throttledError) IsRetryable() bool { return true }

// RetryDelay surfaces the Retry-After header so backoff waits at least as
// long as the server asked.
func (e *throttledError) RetryDelay() time.Duration { return e.retryAfter }

var _ retry.DelayHinter = (*throttledError)(nil)

// Calls returns the number of physical HTTP requests issued so far,
// including retried attempts. Budget accounting depends on this being exact.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Stats returns a snapshot of quota state for JobRun sealing.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Calls:           c.calls,
		CoreRemaining:   c.core.remaining,
		SearchRemaining: c.search.remaining,
	}
	if !c.core.reset.IsZero() {
		t := c.core.reset
		s.CoreReset = &t
	}
	if !c.search.reset.IsZero() {
		t := c.search.reset
		s.SearchReset = &t
	}
	return s
}

// Get issues a GET request against the API and decodes the JSON response
// into v. It returns apperrors.ErrQuotaExhausted when the core pool is at or
// below the safety floor (without issuing the call), apperrors.ErrThrottled
// when backoff on a secondary limit is exhausted, apperrors.ErrNotFound on
// 404 and apperrors.ErrNotReady on 202.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values, v any) error {
	if err := c.checkFloor(endpoint); err != nil {
		return err
	}

	reqURL := c.baseURL + "/" + strings.TrimPrefix(endpoint, "/")
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	body, err := retry.DoWithResult(ctx, c.retryCfg, func() ([]byte, error) {
		return c.attempt(ctx, reqURL, endpoint)
	})
	if err != nil {
		var throttled *throttledError
		if errors.As(err, &throttled) {
			return fmt.Errorf("backoff exhausted for %s: %w", endpoint, apperrors.ErrThrottled)
		}
		return err
	}

	if v == nil {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// attempt performs exactly one physical HTTP request. Every attempt counts
// against the budget, even ones that are later retried.
func (c *Client) attempt(ctx context.Context, reqURL, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	c.countCall()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call github: %w", err)
	}
	defer resp.Body.Close()

	c.updatePool(endpoint, resp.Header)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", endpoint, apperrors.ErrNotFound)
	case resp.StatusCode == http.StatusAccepted:
		// Statistics endpoints return 202 while GitHub builds the aggregate.
		return nil, fmt.Errorf("%s: %w", endpoint, apperrors.ErrNotReady)
	case resp.StatusCode == http.StatusForbidden:
		if remaining := resp.Header.Get("X-RateLimit-Remaining"); remaining == "0" {
			return nil, fmt.Errorf("primary rate limit exceeded: %w", apperrors.ErrQuotaExhausted)
		}
		retryAfter := 60 * time.Second
		if ra, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && ra > 0 {
			retryAfter = time.Duration(ra) * time.Second
		}
		c.logger.Warn("Secondary rate limit hit",
			zap.String("endpoint", endpoint),
			zap.Duration("retry_after", retryAfter))
		return nil, &throttledError{retryAfter: retryAfter}
	default:
		return nil, fmt.Errorf("github returned status %d for %s: %s",
			resp.StatusCode, endpoint, logging.TruncateString(string(body), 200))
	}
}

// checkFloor fails fast when the core pool is at or below the safety floor.
// The search pool is only warned on: it is small (30/minute) and resets fast.
func (c *Client) checkFloor(endpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if isSearchEndpoint(endpoint) {
		if c.search.remaining >= 0 && c.search.remaining < searchPoolWarnFloor {
			c.logger.Warn("Search API quota low",
				zap.Int("remaining", c.search.remaining),
				zap.Time("reset", c.search.reset))
		}
		return nil
	}

	if c.core.remaining >= 0 && c.core.remaining <= c.floor {
		return fmt.Errorf("core quota %d at or below safety floor %d (resets %s): %w",
			c.core.remaining, c.floor, c.core.reset.Format(time.RFC3339), apperrors.ErrQuotaExhausted)
	}
	return nil
}

func (c *Client) countCall() {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

// updatePool records quota metadata from response headers.
func (c *Client) updatePool(endpoint string, h http.Header) {
	remainingStr := h.Get("X-RateLimit-Remaining")
	if remainingStr == "" {
		return
	}
	remaining, err := strconv.Atoi(remainingStr)
	if err != nil {
		return
	}
	var reset time.Time
	if resetUnix, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		reset = time.Unix(resetUnix, 0)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if isSearchEndpoint(endpoint) {
		c.search = pool{remaining: remaining, reset: reset}
	} else {
		c.core = pool{remaining: remaining, reset: reset}
	}
}

func isSearchEndpoint(endpoint string) bool {
	return strings.HasPrefix(strings.TrimPrefix(endpoint, "/"), "search/")
}
