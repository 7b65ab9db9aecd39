// Copyright 2026 The modelwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package transport implements the byte-transfer collaborator the catalog
// providers call out to. It owns authentication headers, client-side request
// pacing, and resumable downloads; providers only interpret the returned
// payload and the rate-limit signal embedded in StatusError.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const userAgent = "modelwatch/1.0"

// StatusError is returned for non-2xx responses. RetryAfter is populated from
// the Retry-After header on 429 responses so callers can translate it into a
// typed rate-limit condition.
type StatusError struct {
	Code       int
	Status     string
	RetryAfter time.Duration
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned status %d %s", e.Code, e.Status)
}

// IsNotFound reports whether the response was a 404/410.
func (e *StatusError) IsNotFound() bool {
	return e.Code == http.StatusNotFound || e.Code == http.StatusGone
}

// IsRateLimited reports whether the response was a 429.
func (e *StatusError) IsRateLimited() bool {
	return e.Code == http.StatusTooManyRequests
}

// Client performs authenticated HTTP requests against one catalog host.
type Client struct {
	http    *http.Client
	apiKey  string
	limiter *rate.Limiter
	headers map[string]string
}

// Option configures the Client.
type Option func(*Client)

// WithAPIKey sets the bearer token attached to authenticated requests.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithRateLimit caps outgoing requests per second. Zero or negative disables
// client-side pacing.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithHeader sets a default header on every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers[key] = value }
}

// WithTimeout overrides the default 30 second request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// NewClient creates a transport client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		headers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MakeRequest performs one HTTP round trip and returns the response body.
// params are appended to the URL's query string. Non-2xx responses surface as
// *StatusError; the body is still captured for diagnostics.
func (c *Client) MakeRequest(ctx context.Context, method, rawURL string, useAuth bool, params url.Values) ([]byte, http.Header, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	if len(params) > 0 {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse url: %w", err)
		}
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
		rawURL = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	reqID := uuid.NewString()[:8]
	req.Header.Set("User-Agent", userAgent)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if useAuth && c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	log.WithField("request_id", reqID).Debugf("%s %s", method, redact(rawURL))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.Header, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{
			Code:   resp.StatusCode,
			Status: resp.Status,
			Body:   body,
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			se.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			log.WithField("request_id", reqID).Warnf("rate limited, retry after %s", se.RetryAfter)
		}
		return body, resp.Header, se
	}

	return body, resp.Header, nil
}

// DownloadToMemory fetches a URL fully into memory, following the same auth
// and pacing rules as MakeRequest.
func (c *Client) DownloadToMemory(ctx context.Context, rawURL string, useAuth bool) ([]byte, http.Header, error) {
	return c.MakeRequest(ctx, http.MethodGet, rawURL, useAuth, nil)
}

// DownloadFile streams a URL to destPath, resuming from an existing partial
// file via a Range request. The file is written to destPath+".part" and
// renamed only on completion.
func (c *Client) DownloadFile(ctx context.Context, rawURL, destPath string, useAuth bool) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	partPath := destPath + ".part"
	var offset int64
	if fi, err := os.Stat(partPath); err == nil {
		offset = fi.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if useAuth && c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusPartialContent:
		flags |= os.O_APPEND
	case http.StatusOK:
		// Server ignored the range; start over.
		offset = 0
		flags |= os.O_TRUNC
	default:
		return &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	f, err := os.OpenFile(partPath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open partial file: %w", err)
	}
	written, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write download: %w", err)
	}

	log.Debugf("downloaded %d bytes to %s (resumed at %d)", written, destPath, offset)
	return os.Rename(partPath, destPath)
}

// parseRetryAfter interprets the Retry-After header as either delta-seconds
// or an HTTP date. Unparseable or absent values default to 30 seconds.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 30 * time.Second
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 30 * time.Second
}

// redact strips query strings before a URL reaches the logs; catalog hosts
// accept API keys as query parameters on some endpoints.
func redact(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
