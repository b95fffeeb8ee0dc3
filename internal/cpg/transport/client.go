package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/etenlab/core/internal/cpg/cpgerr"
	"github.com/etenlab/core/internal/cpg/schema"
	"github.com/etenlab/core/internal/cpg/snapshot"
)

// DefaultTimeout bounds one request when no http.Client is supplied.
const DefaultTimeout = 60 * time.Second

// Client talks to one sync peer.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.client = h }
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the peer at baseURL. An empty baseURL is an
// InvalidState error: there is no peer to sync with.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, cpgerr.InvalidState("no sync server URL configured")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, cpgerr.Validation(fmt.Sprintf("invalid sync server URL %q", baseURL))
	}

	c := &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: DefaultTimeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the peer base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// PushEntries posts a row delta to the peer.
func (c *Client) PushEntries(ctx context.Context, entries []schema.Entry) error {
	body, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal entries: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, PathToServer, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// PullEntries fetches the peer rows changed after lastSync. An empty
// lastSync requests everything.
func (c *Client) PullEntries(ctx context.Context, lastSync string) (*schema.PullResponse, error) {
	path := PathFromServer
	if lastSync != "" {
		path += "?" + url.Values{LastSyncParam: {lastSync}}.Encode()
	}

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var out schema.PullResponse
	if err := dec.Decode(&out); err != nil {
		return nil, cpgerr.TransportFailure(err, "invalid pull response").
			WithContext(cpgerr.CtxURL, req.URL.String())
	}
	return &out, nil
}

// PushSnapshot uploads a compressed snapshot and returns the peer's
// compressed snapshot from the response body.
func (c *Client) PushSnapshot(ctx context.Context, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(SnapshotField, snapshot.FileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, PathToServerViaJSON, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return c.readAll(req)
}

// PullSnapshot downloads the peer's compressed snapshot.
func (c *Client) PullSnapshot(ctx context.Context) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, PathFromServerViaJSON, nil)
	if err != nil {
		return nil, err
	}
	return c.readAll(req)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(ProtocolHeader, ProtocolVersion)
	return req, nil
}

// do sends req and turns network errors, non-2xx statuses and incompatible
// peers into TransportFailure errors. On success the caller owns resp.Body.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, cpgerr.TransportFailure(err, "sync request failed").
			WithContext(cpgerr.CtxURL, req.URL.String())
	}

	c.logger.Debug("sync request",
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, cpgerr.TransportFailure(
			fmt.Errorf("peer returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
			"sync request rejected").
			WithContext(cpgerr.CtxURL, req.URL.String())
	}

	if v := resp.Header.Get(ProtocolHeader); !Compatible(v) {
		resp.Body.Close()
		return nil, cpgerr.TransportFailure(
			fmt.Errorf("peer speaks protocol %s, want major %s", v, ProtocolVersion),
			"incompatible sync peer").
			WithContext(cpgerr.CtxURL, req.URL.String())
	}
	return resp, nil
}

func (c *Client) readAll(req *http.Request) ([]byte, error) {
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, snapshot.MaxSize))
	if err != nil {
		return nil, cpgerr.TransportFailure(err, "failed to read snapshot response").
			WithContext(cpgerr.CtxURL, req.URL.String())
	}
	return data, nil
}
