package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// Default HTTP behavior shared by the adapters.
const (
	DefaultTimeout    = 10 * time.Second
	defaultMaxBody    = 4 << 20
	defaultRetries    = 0
	defaultRetryDelay = 500 * time.Millisecond
)

// Client is the thin HTTP layer under every adapter: bounded body,
// browser-shaped headers. A transport failure surfaces after a single
// attempt so the fallback chain moves to the next provider; WithRetries
// opts a caller in to same-host retries. Per-request deadlines come
// from the caller's context.
type Client struct {
	http       *http.Client
	retries    int
	retryDelay time.Duration
	userAgent  string
	referer    string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the underlying http.Client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = d }
}

// WithRetries sets how many times a transport-level failure is retried.
func WithRetries(n int) ClientOption {
	return func(c *Client) { c.retries = n }
}

// WithRetryDelay sets the pause between same-host retries.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) { c.retryDelay = d }
}

// WithReferer sets the Referer header some quote hosts require.
func WithReferer(referer string) ClientOption {
	return func(c *Client) { c.referer = referer }
}

// WithHTTPClient swaps the transport, used by tests and by sessions
// pinned to a proxy.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// NewClient creates an adapter HTTP client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		http:       &http.Client{Timeout: DefaultTimeout},
		retries:    defaultRetries,
		retryDelay: defaultRetryDelay,
		userAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get fetches a URL and returns the body bytes. gbk decodes the legacy
// GBK-encoded quote hosts into UTF-8.
func (c *Client) Get(ctx context.Context, url string, gbk bool) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		body, err := c.get(ctx, url, gbk)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (c *Client) get(ctx context.Context, url string, gbk bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	if c.referer != "" {
		req.Header.Set("Referer", c.referer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var reader io.Reader = io.LimitReader(resp.Body, defaultMaxBody)
	if gbk {
		reader = transform.NewReader(reader, simplifiedchinese.GBK.NewDecoder())
	}
	return io.ReadAll(reader)
}
