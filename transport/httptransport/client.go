// Package httptransport implements hivesync.Transport over the
// beekeeping server's JSON sync endpoints: POST /sync/pull and
// POST /sync/push. Authentication is the caller's concern — pass an
// *http.Client whose RoundTripper injects credentials.
package httptransport

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hivemark/hivesync"
	"github.com/hivemark/hivesync/cursor"
	syncErrors "github.com/hivemark/hivesync/errors"
	"github.com/hivemark/hivesync/logging"
)

const (
	defaultTimeout          = 30 * time.Second
	defaultMaxResponseBytes = 8 << 20
	defaultGzipMinBytes     = 1024
)

// Client talks to one sync server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger

	maxResponseBytes int64
	gzipMinBytes     int
}

var _ hivesync.Transport = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. This is where
// authenticated transports plug in.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithTimeout sets the per-request timeout on the underlying client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithMaxResponseBytes caps how large a pull response may be.
func WithMaxResponseBytes(n int64) Option {
	return func(c *Client) { c.maxResponseBytes = n }
}

// WithGzipMinBytes sets the body size above which requests are
// gzip-compressed. Zero disables compression.
func WithGzipMinBytes(n int) Option {
	return func(c *Client) { c.gzipMinBytes = n }
}

// WithLogger sets the transport logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) { c.logger = logger.WithComponent(logging.Component("http-transport")) }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("base URL %q must be http or https", baseURL)
	}

	c := &Client{
		baseURL:          strings.TrimRight(baseURL, "/"),
		httpClient:       &http.Client{Timeout: defaultTimeout},
		logger:           logging.Default().WithComponent(logging.Component("http-transport")),
		maxResponseBytes: defaultMaxResponseBytes,
		gzipMinBytes:     defaultGzipMinBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Pull fetches all remote changes since the given watermark.
func (c *Client) Pull(ctx context.Context, since cursor.Timestamp) (*hivesync.PullResponse, error) {
	var decoded pullResponse
	if err := c.post(ctx, syncErrors.OpPull, "/sync/pull", newPullRequest(since), &decoded); err != nil {
		return nil, err
	}
	if decoded.Changes == nil {
		decoded.Changes = hivesync.ChangeSet{}
	}
	c.logger.Debug("pull complete",
		"since", since,
		"records", decoded.Changes.RecordCount(),
		"timestamp", decoded.Timestamp,
	)
	return &hivesync.PullResponse{Changes: decoded.Changes, Timestamp: decoded.Timestamp}, nil
}

// Push sends local changes. The server answers 2xx for full acceptance
// and anything else for rejection; there is no partial application.
func (c *Client) Push(ctx context.Context, changes hivesync.ChangeSet, lastPulledAt cursor.Timestamp) error {
	body := pushRequest{Changes: changes, LastPulledAt: lastPulledAt.Millis}
	if err := c.post(ctx, syncErrors.OpPush, "/sync/push", body, nil); err != nil {
		return err
	}
	c.logger.Debug("push complete",
		"records", changes.RecordCount(),
		"last_pulled_at", lastPulledAt,
	)
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// post sends one JSON request and decodes the response into out when
// out is non-nil.
func (c *Client) post(ctx context.Context, op syncErrors.Operation, path string, payload any, out any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return syncErrors.New(op, fmt.Errorf("encode request: %w", err))
	}

	body, gzipped, err := c.compress(encoded)
	if err != nil {
		return syncErrors.New(op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return syncErrors.New(op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if gzipped {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return syncErrors.NewNetworkError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.rejection(op, resp)
	}
	if out == nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, c.maxResponseBytes))
		return nil
	}

	limited := io.LimitReader(resp.Body, c.maxResponseBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return syncErrors.NewNetworkError(op, fmt.Errorf("read response: %w", err))
	}
	if int64(len(raw)) > c.maxResponseBytes {
		return syncErrors.New(op, fmt.Errorf("response exceeds %d byte limit", c.maxResponseBytes))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return syncErrors.NewServerRejection(op, fmt.Errorf("malformed response: %w", err))
	}
	return nil
}

// compress gzips bodies above the threshold; small bodies go verbatim.
func (c *Client) compress(encoded []byte) (io.Reader, bool, error) {
	if c.gzipMinBytes <= 0 || len(encoded) < c.gzipMinBytes {
		return bytes.NewReader(encoded), false, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(encoded); err != nil {
		return nil, false, fmt.Errorf("compress request: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, false, fmt.Errorf("compress request: %w", err)
	}
	return &buf, true, nil
}

// rejection reads a bounded slice of the error body for the message.
func (c *Client) rejection(op syncErrors.Operation, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(snippet))
	if msg == "" {
		msg = resp.Status
	}
	return syncErrors.NewServerRejection(op,
		fmt.Errorf("server returned %d: %s", resp.StatusCode, msg))
}
