// Package remote downloads the upstream GeoJSON document.
package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// DefaultMaxBodySize caps the upstream document size.
const DefaultMaxBodySize = 256 << 20

// Options configures the upstream client.
type Options struct {
	UserAgent string
	Timeout   time.Duration
	// MinGap is the minimum delay between two requests, 0 means unlimited.
	MinGap time.Duration
	// MaxBodySize rejects larger documents, 0 means DefaultMaxBodySize.
	MaxBodySize int64
}

// StatusError is returned for non-200 upstream responses.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// Client fetches the upstream document over HTTP.
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	url       string
	userAgent string
	maxBody   int64
}

// NewClient returns a client for the document at url.
func NewClient(url string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultMaxBodySize
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "geosync/1.0"
	}

	limit := rate.Inf
	if opts.MinGap > 0 {
		limit = rate.Every(opts.MinGap)
	}

	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: opts.Timeout,
		},
		limiter:   rate.NewLimiter(limit, 1),
		url:       url,
		userAgent: opts.UserAgent,
		maxBody:   opts.MaxBodySize,
	}
}

// URL returns the upstream document address.
func (c *Client) URL() string {
	return c.url
}

// Fetch downloads the upstream document and returns its body.
func (c *Client) Fetch(ctx context.Context) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "remote: rate limit")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "remote: build request for %s", c.url)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "remote: get %s", c.url)
	}
	// Explicitly ignore close error as it's a read-only operation
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: c.url, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, eris.Wrapf(err, "remote: read body from %s", c.url)
	}
	if int64(len(body)) > c.maxBody {
		return nil, eris.Errorf("remote: document from %s exceeds %d bytes", c.url, c.maxBody)
	}

	log.Debug().
		Str("url", c.url).
		Int("bytes", len(body)).
		Dur("duration", time.Since(start)).
		Msg("Upstream document downloaded")

	return body, nil
}
