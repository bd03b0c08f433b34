package httpfetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/offline-stream/internal/port"
)

// maxPlaylistBytes bounds playlist bodies read into memory
const maxPlaylistBytes = 8 * 1024 * 1024

// Config holds HTTP client configuration
type Config struct {
	Timeout               time.Duration // Playlist and probe request timeout
	ResponseHeaderTimeout time.Duration // Segment request header timeout
	UserAgent             string
	MaxConnsPerHost       int
	SkipTLSVerify         bool
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Timeout:               30 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		UserAgent:             "offline-stream/1.0",
		MaxConnsPerHost:       16,
	}
}

// StatusError is returned for non-success HTTP responses
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

// Error returns the error message
func (e *StatusError) Error() string {
	return fmt.Sprintf("request %s failed with status: %s", e.URL, e.Status)
}

// Client is an HTTP implementation of port.Fetcher
type Client struct {
	config         Config
	httpClient     *http.Client
	downloadClient *http.Client
	logger         *zap.Logger
}

// Ensure Client implements port.Fetcher
var _ port.Fetcher = (*Client)(nil)

// NewClient creates a new Client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = DefaultConfig().MaxConnsPerHost
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.SkipTLSVerify,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	downloadTransport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.SkipTLSVerify,
		},
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     120 * time.Second,
		ForceAttemptHTTP2:   true,

		// Segments are already compressed media
		DisableCompression: true,

		// Response header timeout (not total download timeout)
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
	}

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		downloadClient: &http.Client{
			Transport: downloadTransport,
			Timeout:   0, // No timeout for segment bodies; callers use ctx
		},
		logger: logger,
	}
}

// Get fetches a playlist body
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	resp, err := c.do(ctx, c.httpClient, http.MethodGet, url, headers, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", url, err)
	}
	return body, nil
}

// Probe returns the size of a resource. It issues a HEAD request and falls
// back to a one-byte ranged GET when the server does not report a length.
func (c *Client) Probe(ctx context.Context, url string, headers map[string]string) (int64, error) {
	resp, err := c.do(ctx, c.httpClient, http.MethodHead, url, headers, nil)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK && resp.ContentLength > 0 {
			return resp.ContentLength, nil
		}
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	resp, err = c.do(ctx, c.httpClient, http.MethodGet, url, headers, map[string]string{"Range": "bytes=0-0"})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		if size, ok := parseContentRangeTotal(resp.Header.Get("Content-Range")); ok {
			return size, nil
		}
	case http.StatusOK:
		if resp.ContentLength > 0 {
			return resp.ContentLength, nil
		}
	default:
		return 0, &StatusError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	return 0, fmt.Errorf("no size reported for %s", url)
}

// Open starts streaming a resource
func (c *Client) Open(ctx context.Context, url string, headers map[string]string) (io.ReadCloser, int64, error) {
	resp, err := c.do(ctx, c.downloadClient, http.MethodGet, url, headers, nil)
	if err != nil {
		return nil, 0, err
	}

	// Accept both 200 OK and 206 Partial Content
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, 0, &StatusError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	return resp.Body, resp.ContentLength, nil
}

func (c *Client) do(ctx context.Context, client *http.Client, method, url string, headers, extra map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	c.logger.Debug("http request",
		zap.String("method", method),
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
	)

	return resp, nil
}

// parseContentRangeTotal extracts the total from "bytes 0-0/12345"
func parseContentRangeTotal(value string) (int64, bool) {
	idx := strings.LastIndex(value, "/")
	if idx < 0 || idx == len(value)-1 {
		return 0, false
	}
	total := value[idx+1:]
	if total == "*" {
		return 0, false
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
