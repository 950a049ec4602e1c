// Package fetch downloads upstream rule lists over HTTP.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/cinmou/singbox-rules/internal/errors"
	"github.com/cinmou/singbox-rules/internal/observability"
	"github.com/cinmou/singbox-rules/internal/retry"
)

// Client fetches URLs with a shared rate limit and per-request retry. All
// upstream hosts share one token bucket; rule lists are small text files so a
// single global limit is enough.
type Client struct {
	httpClient *http.Client
	userAgent  string
	limiter    *rate.Limiter
	retryCfg   retry.Config
}

type Options struct {
	Timeout     time.Duration
	UserAgent   string
	MaxAttempts int
	Rate        float64 // requests per second
	Burst       int
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Rate <= 0 {
		opts.Rate = 4.0
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}

	retryCfg := retry.DefaultConfig()
	if opts.MaxAttempts > 0 {
		retryCfg.MaxAttempts = opts.MaxAttempts
	}

	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		userAgent:  opts.UserAgent,
		limiter:    rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst),
		retryCfg:   retryCfg,
	}
}

// Get downloads url and returns the response body. Status 4xx fails
// immediately; 5xx and transport errors are retried with backoff.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, errors.CodeFetch, "rate limit wait")
	}

	start := time.Now()
	attempt := 0

	body, err := retry.DoWithResult(ctx, c.retryCfg, func() ([]byte, error) {
		attempt++
		if attempt > 1 {
			observability.FetchRetriesTotal.Inc()
		}
		return c.getOnce(ctx, url)
	})

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	observability.FetchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		return nil, errors.AddContext(
			errors.Wrap(err, errors.CodeFetch, "fetch rule list"), errors.CtxURL, url)
	}
	return body, nil
}

func (c *Client) getOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retry.NonRetryable(err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, retry.NonRetryable(fmt.Errorf("unexpected status %s", resp.Status))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	return io.ReadAll(resp.Body)
}
