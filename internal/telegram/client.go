// Package telegram implements the delivery client over the Telegram Bot API.
// Each successful delivery attempt is two uploads: sendPhoto for the inline
// preview and sendDocument for the uncompressed archival copy.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.telegram.org"

// Config controls the Bot API client.
type Config struct {
	Token string
	// BaseURL overrides the API host (tests only).
	BaseURL string
	// Timeout bounds one upload end to end. Document uploads of large
	// wallpapers can take a while; keep this generous.
	Timeout time.Duration
	// SendsPerSecond throttles all sends across destinations to stay inside
	// platform limits. <= 0 disables throttling.
	SendsPerSecond float64
}

// Client talks to the Bot API over plain HTTP.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// New builds a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	limit := rate.Inf
	if cfg.SendsPerSecond > 0 {
		limit = rate.Limit(cfg.SendsPerSecond)
	}
	return &Client{
		token:   cfg.Token,
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// SendPreview uploads the payload as an inline photo. Telegram recompresses
// photo uploads, which is exactly what a lightweight preview wants.
func (c *Client) SendPreview(ctx context.Context, chatID int64, path, caption string) (json.RawMessage, error) {
	return c.send(ctx, "sendPhoto", "photo", chatID, path, caption)
}

// SendArchival uploads the payload as a document, preserving the original
// bytes for download.
func (c *Client) SendArchival(ctx context.Context, chatID int64, path, caption string) (json.RawMessage, error) {
	return c.send(ctx, "sendDocument", "document", chatID, path, caption)
}

// apiResponse is the Bot API envelope.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (c *Client) send(ctx context.Context, method, field string, chatID int64, path, caption string) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open payload: %w", err)
	}
	defer f.Close()

	body, contentType, err := buildForm(field, chatID, caption, filepath.Base(path), f)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%s: decode response (http %d): %w", method, resp.StatusCode, err)
	}
	if !parsed.OK {
		return nil, fmt.Errorf("%s rejected: %s (http %d)", method, parsed.Description, resp.StatusCode)
	}
	return parsed.Result, nil
}

// buildForm assembles the multipart body in memory. Wallpapers top out around
// tens of megabytes, which is acceptable for one in-flight attempt at a time.
func buildForm(field string, chatID int64, caption, filename string, payload io.Reader) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return nil, "", fmt.Errorf("write chat_id field: %w", err)
	}
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return nil, "", fmt.Errorf("write caption field: %w", err)
		}
	}
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return nil, "", fmt.Errorf("create %s part: %w", field, err)
	}
	if _, err := io.Copy(part, payload); err != nil {
		return nil, "", fmt.Errorf("copy payload into form: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("finalize form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
