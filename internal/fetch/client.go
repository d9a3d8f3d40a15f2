// Package fetch retrieves remote pages and files for the converters.
package fetch

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"
)

const (
	// DefaultMaxContentSize to prevent memory issues (20MB)
	DefaultMaxContentSize = 20 * 1024 * 1024

	acceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,text/plain;q=0.8,*/*;q=0.7"
)

// ErrTooLarge is returned when a download exceeds the configured size limit
var ErrTooLarge = errors.New("response exceeds maximum content size")

// StatusError is returned for HTTP responses with a 4xx or 5xx status
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error %d fetching %s: %s", e.StatusCode, e.URL, e.Status)
}

// Response is a fully read HTTP response
type Response struct {
	// URL is the final URL after redirects
	URL         *url.URL
	StatusCode  int
	ContentType string
	Body        []byte
	Truncated   bool
}

// MediaType returns the lower-cased content type without parameters
func (r *Response) MediaType() string {
	mediaType, _, err := mime.ParseMediaType(r.ContentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(r.ContentType, ";")[0]))
	}
	return mediaType
}

// Text decodes the body to UTF-8 using the declared or sniffed charset
func (r *Response) Text() string {
	_, params, _ := mime.ParseMediaType(r.ContentType)
	declared := strings.ToLower(params["charset"])
	if utf8.Valid(r.Body) && (declared == "" || declared == "utf-8" || declared == "utf8") {
		return string(r.Body)
	}

	reader, err := charset.NewReader(bytes.NewReader(r.Body), r.ContentType)
	if err == nil {
		if decoded, err := io.ReadAll(reader); err == nil {
			return strings.ToValidUTF8(string(decoded), "�")
		}
	}
	return strings.ToValidUTF8(string(r.Body), "�")
}

// Client performs size-limited, optionally rate-limited requests
type Client struct {
	httpClient *http.Client
	userAgent  string
	maxSize    int64
	limiter    *rate.Limiter
	logger     *logrus.Logger
}

// Option configures a Client
type Option func(*Client)

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithMaxSize limits response bodies to n bytes
func WithMaxSize(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithRateLimit allows perSecond requests per second with a burst of one
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// NewClient wraps httpClient. The http.Client carries timeouts, redirects and address guarding.
func NewClient(httpClient *http.Client, logger *logrus.Logger, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	c := &Client{
		httpClient: httpClient,
		maxSize:    DefaultMaxContentSize,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithLimit returns a copy sharing the underlying http.Client but with its own rate limit
func (c *Client) WithLimit(perSecond float64) *Client {
	clone := *c
	clone.limiter = nil
	WithRateLimit(perSecond)(&clone)
	return &clone
}

// Get fetches a URL and reads at most the size limit; larger bodies are truncated
func (c *Client) Get(ctx context.Context, target string, header http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", acceptHTML)
	req.Header.Set("Accept-Language", "en-GB,en;q=0.5")
	for key, values := range header {
		for _, v := range values {
			req.Header.Set(key, v)
		}
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer c.closeBody(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	truncated := int64(len(body)) > c.maxSize
	if truncated {
		body = body[:c.maxSize]
		c.logger.WithFields(logrus.Fields{
			"url":      target,
			"max_size": c.maxSize,
		}).Warn("Response body truncated")
	}

	// Some servers send gzip even when the transport did not ask for it
	if resp.Header.Get("Content-Encoding") == "gzip" && !resp.Uncompressed && len(body) > 2 && body[0] == 0x1f && body[1] == 0x8b {
		if decompressed, err := decompressGzip(body, c.maxSize); err == nil {
			body = decompressed
		} else {
			c.logger.WithError(err).Warn("Failed to decompress gzip content, using raw body")
		}
	}

	c.logger.WithFields(logrus.Fields{
		"url":          target,
		"status_code":  resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"body_size":    len(body),
	}).Debug("Fetched URL")

	return &Response{
		URL:         resp.Request.URL,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		Truncated:   truncated,
	}, nil
}

// PostJSON posts payload as JSON and decodes the JSON reply into out
func (c *Client) PostJSON(ctx context.Context, target string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer c.closeBody(resp)

	if err := json.NewDecoder(io.LimitReader(resp.Body, c.maxSize)).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", req.URL.Host, err)
	}
	return nil
}

// Download streams a remote file into a new temp file with the given extension.
// The caller removes the file.
func (c *Client) Download(ctx context.Context, u *url.URL, ext string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "*/*")

	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer c.closeBody(resp)

	tmp, err := os.CreateTemp("", "markdownify-*"+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	written, copyErr := io.Copy(tmp, io.LimitReader(resp.Body, c.maxSize+1))
	closeErr := tmp.Close()
	if copyErr == nil && written > c.maxSize {
		copyErr = fmt.Errorf("%w (%d bytes)", ErrTooLarge, c.maxSize)
	}
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to download %s: %w", u.Redacted(), copyErr)
	}

	c.logger.WithFields(logrus.Fields{
		"url":   u.Redacted(),
		"path":  tmp.Name(),
		"bytes": written,
	}).Debug("Downloaded file")

	return tmp.Name(), nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}

	if resp.StatusCode >= 400 {
		c.closeBody(resp)
		return nil, &StatusError{URL: req.URL.Redacted(), StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return resp, nil
}

func (c *Client) closeBody(resp *http.Response) {
	if closeErr := resp.Body.Close(); closeErr != nil {
		c.logger.WithError(closeErr).Warn("Failed to close response body")
	}
}

// decompressGzip decompresses gzip-compressed data
func decompressGzip(data []byte, limit int64) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer func() { _ = reader.Close() }()

	decompressed, err := io.ReadAll(io.LimitReader(reader, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress gzip data: %w", err)
	}
	return decompressed, nil
}
