// Package provider implements the HTTP client for the external fitness
// tracking API: a cheap bulk list endpoint and a rate-limited per-activity
// detail endpoint.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"example.com/activitysync/internal/domain"
)

// CredentialSource yields a bearer credential for an owner. Token refresh
// mechanics live with the identity layer; the engine only consumes tokens.
type CredentialSource interface {
	TokenSource(ctx context.Context, ownerID string) oauth2.TokenSource
}

// StaticCredentials is a CredentialSource backed by a single access token,
// used for local development and tests.
type StaticCredentials string

// TokenSource returns a static token source regardless of owner.
func (s StaticCredentials) TokenSource(_ context.Context, _ string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: string(s)})
}

// ListResult carries one page of summaries plus the provider's rate-limit
// counters echoed on every response.
type ListResult struct {
	Activities     []domain.ProviderSummary
	RateLimitUsage int
	RateLimitLimit int
}

// Client is the API client for the tracking provider.
type Client struct {
	baseURL     string
	credentials CredentialSource
	pageSize    int
	client      *http.Client
}

// NewClient creates a provider API client.
func NewClient(baseURL string, credentials CredentialSource, pageSize int) *Client {
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 200
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		credentials: credentials,
		pageSize:    pageSize,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListActivities retrieves summary-level activities for the owner inside the
// epoch-second window. A 429 maps to domain.ErrProviderThrottled; any other
// failure maps to domain.ErrProviderUnavailable.
func (c *Client) ListActivities(ctx context.Context, ownerID string, afterEpochSec, beforeEpochSec int64) (*ListResult, error) {
	query := url.Values{}
	query.Set("after", strconv.FormatInt(afterEpochSec, 10))
	query.Set("before", strconv.FormatInt(beforeEpochSec, 10))
	query.Set("per_page", strconv.Itoa(c.pageSize))

	resp, err := c.doRequest(ctx, ownerID, "/athlete/activities?"+query.Encode())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	usage, limit := parseRateLimit(resp.Header)

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: usage %d/%d", domain.ErrProviderThrottled, usage, limit)
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: API error %d: %s", domain.ErrProviderUnavailable, resp.StatusCode, body)
	}

	var payload []summaryPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode list response: %v", domain.ErrProviderUnavailable, err)
	}

	result := &ListResult{
		Activities:     make([]domain.ProviderSummary, 0, len(payload)),
		RateLimitUsage: usage,
		RateLimitLimit: limit,
	}
	for _, item := range payload {
		summary, err := item.toSummary()
		if err != nil {
			// A malformed entry would be invisible to every window query;
			// skip it rather than storing a zero start time.
			log.Printf("[provider] skipping malformed list entry: %v", err)
			continue
		}
		result.Activities = append(result.Activities, summary)
	}
	return result, nil
}

// GetActivityDetail retrieves the full record for one activity. A 429 maps to
// domain.ErrProviderThrottled so the orchestrator can stop further enrichment;
// other non-2xx responses are plain per-activity errors (skip and continue).
func (c *Client) GetActivityDetail(ctx context.Context, ownerID, activityID string) (*domain.ProviderDetail, error) {
	resp, err := c.doRequest(ctx, ownerID, "/activities/"+url.PathEscape(activityID))
	if err != nil {
		return nil, fmt.Errorf("fetch detail %s: %w", activityID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		usage, limit := parseRateLimit(resp.Header)
		return nil, fmt.Errorf("%w: usage %d/%d", domain.ErrProviderThrottled, usage, limit)
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("detail %s: API error %d: %s", activityID, resp.StatusCode, body)
	}

	var payload detailPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode detail response: %w", err)
	}
	detail := payload.toDetail()
	return &detail, nil
}

func (c *Client) doRequest(ctx context.Context, ownerID, path string) (*http.Response, error) {
	token, err := c.credentials.TokenSource(ctx, ownerID).Token()
	if err != nil {
		return nil, fmt.Errorf("obtain credential: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	token.SetAuthHeader(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	return resp, nil
}

// parseRateLimit reads the short-window usage counters the provider attaches
// to every response, e.g. "X-RateLimit-Usage: 87,1423".
func parseRateLimit(header http.Header) (usage, limit int) {
	usage = firstInt(header.Get("X-RateLimit-Usage"))
	limit = firstInt(header.Get("X-RateLimit-Limit"))
	return usage, limit
}

func firstInt(value string) int {
	if value == "" {
		return 0
	}
	if idx := strings.IndexByte(value, ','); idx >= 0 {
		value = value[:idx]
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return n
}
