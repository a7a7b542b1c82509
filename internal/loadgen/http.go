package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrUnexpectedStatus is returned for responses outside the expected codes.
var ErrUnexpectedStatus = errors.New("unexpected status")

// Client calls the signal API of one organization.
type Client struct {
	http       *http.Client
	orgURL     string
	baseURL    string
	maxRetries uint
}

// NewClient creates a client for cfg.OrgID at cfg.BaseURL.
func NewClient(cfg *Config) *Client {
	return &Client{
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL:    cfg.BaseURL,
		orgURL:     cfg.BaseURL + "/api/v1/orgs/" + url.PathEscape(cfg.OrgID),
		maxRetries: cfg.MaxRetries,
	}
}

// Health checks /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, c.baseURL+"/healthz", nil, http.StatusOK, nil)
}

// PostBatch submits signals to the batch endpoint. Rate limited and failed
// requests are retried with exponential backoff; client errors are not.
func (c *Client) PostBatch(ctx context.Context, signals []SignalInput) (BatchSummary, error) {
	body, err := json.Marshal(map[string]any{"signals": signals})
	if err != nil {
		return BatchSummary{}, fmt.Errorf("marshal batch: %w", err)
	}
	var out struct {
		Summary BatchSummary `json:"summary"`
	}
	err = c.retry(ctx, func() error {
		return c.call(ctx, http.MethodPost, c.orgURL+"/signals/batch", body, http.StatusOK, &out)
	})
	return out.Summary, err
}

// DedupStats fetches the dedup counters of window.
func (c *Client) DedupStats(ctx context.Context, window string) (DedupStats, error) {
	var out map[string]DedupStats
	err := c.retry(ctx, func() error {
		return c.call(ctx, http.MethodGet, c.orgURL+"/signals/dedup-stats", nil, http.StatusOK, &out)
	})
	if err != nil {
		return DedupStats{}, err
	}
	stats, ok := out[window]
	if !ok {
		return DedupStats{}, fmt.Errorf("dedup stats: window %s missing", window)
	}
	return stats, nil
}

// ComputeScore recomputes one account synchronously.
func (c *Client) ComputeScore(ctx context.Context, accountID string) error {
	return c.retry(ctx, func() error {
		return c.call(ctx, http.MethodPost, c.orgURL+"/accounts/"+url.PathEscape(accountID)+"/score", nil, http.StatusOK, nil)
	})
}

// TopAccounts fetches the ranked accounts.
func (c *Client) TopAccounts(ctx context.Context, limit int) ([]RankedAccount, error) {
	var out struct {
		Accounts []RankedAccount `json:"accounts"`
	}
	err := c.retry(ctx, func() error {
		return c.call(ctx, http.MethodGet, c.orgURL+"/accounts/top?limit="+strconv.Itoa(limit), nil, http.StatusOK, &out)
	})
	return out.Accounts, err
}

func (c *Client) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, op()
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxRetries+1),
	)
	return err
}

// call performs one request. 429 honours Retry-After, 5xx and transport
// errors are retryable, any other unexpected status is permanent.
func (c *Client) call(ctx context.Context, method, target string, body []byte, want int, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == want:
	case resp.StatusCode == http.StatusTooManyRequests:
		secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return backoff.RetryAfter(max(secs, 1))
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, bytes.TrimSpace(data))
	default:
		return backoff.Permanent(fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, bytes.TrimSpace(data)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}
