package zerochan

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/PuerkitoBio/goquery"

	"zerowatch/pkg/logger"
)

// ErrorType classifies failures talking to the site
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeChallenge   ErrorType = "challenge"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Error represents a failure from the listing or asset host
type Error struct {
	Type    ErrorType
	Message string
	Code    int
}

func (e *Error) Error() string {
	return fmt.Sprintf("zerochan %s error (code %d): %s", e.Type, e.Code, e.Message)
}

// IsRetryableStatusCode reports whether an HTTP status is worth one more
// direct attempt before the rendering fallback takes over.
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // transport error
		return true
	case 500, 502, 504:
		return true
	default:
		return false
	}
}

// ClientOptions configures a Client
type ClientOptions struct {
	UserAgent  string
	Referer    string
	Timeout    time.Duration
	MaxRetries int

	// When DumpDir is non-empty, fetched listing bodies are written there
	// for diagnostics. Write failures are logged and ignored.
	DumpDir string
}

// Client talks to the listing and asset hosts with a fixed browser-like
// identity
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	maxRetries int
	dumpDir    string
	logger     logger.Logger
}

// NewClient creates a new site client
func NewClient(opts ClientOptions, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	headers := map[string]string{
		"User-Agent":      opts.UserAgent,
		"Referer":         opts.Referer,
		"Accept-Language": "en-US,en;q=0.9",
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		headers:    headers,
		maxRetries: opts.MaxRetries,
		dumpDir:    opts.DumpDir,
		logger:     log,
	}
}

// SetHeader sets a custom header for the client
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// doRequest performs an HTTP request with the configured headers
func (c *Client) doRequest(req *http.Request) (*http.Response, error) {
	for key, value := range c.headers {
		if value != "" {
			req.Header.Set(key, value)
		}
	}

	start := time.Now()
	c.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.WarnWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"url":      req.URL.String(),
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, &Error{
			Type:    ErrorTypeNetwork,
			Message: fmt.Sprintf("network error: %v", err),
			Code:    0,
		}
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   req.Method,
		"url":      req.URL.String(),
		"status":   resp.StatusCode,
		"duration": duration,
	})

	return resp, nil
}

// doRequestWithRetry re-issues a request a bounded number of times for
// transient transport failures. Challenge responses are never retried
// here; they go straight to the caller so the rendering path can engage.
func (c *Client) doRequestWithRetry(ctx context.Context, url string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WarnWithFields("retrying HTTP request", map[string]interface{}{
				"url":     url,
				"attempt": attempt,
			})
			select {
			case <-ctx.Done():
				return nil, &Error{Type: ErrorTypeNetwork, Message: ctx.Err().Error(), Code: 0}
			case <-time.After(time.Second * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, &Error{
				Type:    ErrorTypeUnknown,
				Message: fmt.Sprintf("failed to create request: %v", err),
				Code:    0,
			}
		}

		resp, err := c.doRequest(req)
		if err != nil {
			lastErr = err
			continue
		}

		if IsRetryableStatusCode(resp.StatusCode) && attempt < c.maxRetries {
			lastErr = statusError(resp.StatusCode)
			resp.Body.Close()
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}

// FetchListing retrieves one listing page and returns it as parsed markup.
// A challenge interstitial or 429/503 yields an ErrorTypeChallenge error so
// the caller can switch to the rendering fallback.
func (c *Client) FetchListing(ctx context.Context, pageURL string) (*goquery.Document, error) {
	resp, err := c.doRequestWithRetry(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{
			Type:    ErrorTypeNetwork,
			Message: fmt.Sprintf("failed to read response body: %v", err),
			Code:    resp.StatusCode,
		}
	}

	c.maybeDumpBody(pageURL, body)

	if IsChallenge(resp.StatusCode, body) {
		return nil, &Error{
			Type:    ErrorTypeChallenge,
			Message: "anti-bot challenge page served instead of listing",
			Code:    resp.StatusCode,
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &Error{
			Type:    ErrorTypeParsing,
			Message: fmt.Sprintf("failed to parse HTML: %v", err),
			Code:    resp.StatusCode,
		}
	}

	return doc, nil
}

// ParseListing parses pre-rendered markup, applying the same diagnostics
// dump as a direct fetch. Used with HTML produced by the rendering fallback.
func (c *Client) ParseListing(pageURL, html string) (*goquery.Document, error) {
	c.maybeDumpBody(pageURL, []byte(html))

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(html)))
	if err != nil {
		return nil, &Error{
			Type:    ErrorTypeParsing,
			Message: fmt.Sprintf("failed to parse rendered HTML: %v", err),
			Code:    0,
		}
	}
	return doc, nil
}

// OpenAsset performs a GET against one candidate asset URL and returns the
// body stream on 200. Any other status maps to a typed error; the caller
// treats it as "candidate absent".
func (c *Client) OpenAsset(ctx context.Context, assetURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return nil, &Error{
			Type:    ErrorTypeUnknown,
			Message: fmt.Sprintf("failed to create request: %v", err),
			Code:    0,
		}
	}

	resp, err := c.doRequest(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, statusError(resp.StatusCode)
	}

	return resp.Body, nil
}

// statusError maps a non-200 status to a typed error
func statusError(statusCode int) *Error {
	var errType ErrorType
	switch {
	case statusCode == http.StatusNotFound || statusCode == http.StatusForbidden:
		errType = ErrorTypeNotFound
	case statusCode == http.StatusTooManyRequests:
		errType = ErrorTypeRateLimit
	case statusCode >= 500:
		errType = ErrorTypeServerError
	default:
		errType = ErrorTypeUnknown
	}
	return &Error{
		Type:    errType,
		Message: http.StatusText(statusCode),
		Code:    statusCode,
	}
}

var dumpNameSanitizer = regexp.MustCompile(`[^\w]+`)

// maybeDumpBody persists a raw listing body for diagnostics when a dump
// directory is configured. Never fatal.
func (c *Client) maybeDumpBody(pageURL string, body []byte) {
	if c.dumpDir == "" {
		return
	}
	if err := os.MkdirAll(c.dumpDir, 0755); err != nil {
		c.logger.WithError(err).Warn("could not create debug dump directory")
		return
	}
	name := dumpNameSanitizer.ReplaceAllString(pageURL, "_") + ".html"
	if err := os.WriteFile(filepath.Join(c.dumpDir, name), body, 0644); err != nil {
		c.logger.WithError(err).Warn("could not write debug HTML dump")
	}
}
