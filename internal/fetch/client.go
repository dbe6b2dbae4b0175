// Package fetch downloads wallpaper payloads into local scoped files.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Config controls download behavior.
type Config struct {
	// Timeout bounds one whole download.
	Timeout time.Duration
	// MaxBytes caps the payload size; 0 means no cap.
	MaxBytes int64
	// UserAgent is sent with every request.
	UserAgent string
}

// Client streams payloads to disk without buffering them in memory.
type Client struct {
	http      *http.Client
	maxBytes  int64
	userAgent string
}

// New builds a Client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		maxBytes:  cfg.MaxBytes,
		userAgent: cfg.UserAgent,
	}
}

// FetchToFile downloads url into dest and returns the number of bytes
// written. dest is created (or truncated); the caller owns its lifetime and
// removal. Any non-200 response is an error.
func (c *Client) FetchToFile(ctx context.Context, url, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request for %s: %w", url, err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create payload file: %w", err)
	}
	defer f.Close()

	var body io.Reader = resp.Body
	if c.maxBytes > 0 {
		body = io.LimitReader(resp.Body, c.maxBytes+1)
	}
	n, err := io.Copy(f, body)
	if err != nil {
		return n, fmt.Errorf("stream %s: %w", url, err)
	}
	if c.maxBytes > 0 && n > c.maxBytes {
		return n, fmt.Errorf("fetch %s: payload exceeds %d bytes", url, c.maxBytes)
	}
	if err := f.Sync(); err != nil {
		return n, fmt.Errorf("sync payload file: %w", err)
	}
	return n, nil
}
