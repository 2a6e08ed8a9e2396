// Package fetch performs the HTTP GETs against gather sites and bundle URLs.
//
// It is the only package that touches the network. Every failure mode
// (transport error, non-200 status, unreadable body) is retried a fixed
// number of times and then reported as ErrFetchFailed.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// ErrFetchFailed is returned once all attempts for a URL are exhausted.
// Transient and permanent failures are indistinguishable to callers.
var ErrFetchFailed = errors.New("fetch failed")

// Fetcher retrieves the decoded text served at a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Config configures the HTTP fetcher.
type Config struct {
	Tries     int           // Attempts per URL. Default: 5.
	Timeout   time.Duration // Per-attempt timeout. Default: 60s.
	UserAgent string
	// Encoding of fetched bodies: "windows-1252" (default) or "utf-8".
	Encoding string
}

func (c *Config) defaults() {
	if c.Tries <= 0 {
		c.Tries = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "fxf-vault/1.0"
	}
	if c.Encoding == "" {
		c.Encoding = "windows-1252"
	}
}

// Client is the HTTP implementation of Fetcher.
type Client struct {
	client   *http.Client
	config   Config
	encoding encoding.Encoding
}

// New creates a Client. An unknown encoding name is an error.
func New(cfg Config) (*Client, error) {
	cfg.defaults()

	enc, err := lookupEncoding(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	return &Client{
		client:   &http.Client{Timeout: cfg.Timeout},
		config:   cfg,
		encoding: enc,
	}, nil
}

func lookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(name) {
	case "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	case "utf-8", "utf8":
		return unicode.UTF8, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
}

// Fetch GETs url up to Config.Tries times without backoff and returns the
// decoded body of the first 200 response.
func (c *Client) Fetch(ctx context.Context, url string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.config.Tries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrFetchFailed, url, err)
		}

		body, err := c.get(ctx, url)
		if err == nil {
			return body, nil
		}

		lastErr = err
		slog.Debug("fetch attempt failed",
			slog.String("url", url),
			slog.Int("attempt", attempt),
			slog.Any("err", err),
		)
	}

	return "", fmt.Errorf("%w: %s after %d attempts: %w", ErrFetchFailed, url, c.config.Tries, lastErr)
}

func (c *Client) get(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("http %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	decoded, err := c.encoding.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("decode body: %w", err)
	}

	return string(decoded), nil
}
