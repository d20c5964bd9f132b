// Package probe is a small client for a running bughouse server: an HTTP
// client for the listing and creation endpoints, and a websocket client
// that joins a session and streams its events.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/bughouse-server/pkg/bughousedto"
)

// HeaderProvider allows injecting per-request headers
type HeaderProvider func() map[string]string

type Client struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WebSocketURL maps the HTTP base URL onto a session's websocket endpoint.
func (c *Client) WebSocketURL(session string) string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/session/" + url.PathEscape(session) + "/ws"
}

func (c *Client) Health(ctx context.Context) error {
	_, _, err := c.do(ctx, fasthttp.MethodGet, "/healthz", "", nil, true)
	return err
}

func (c *Client) ListSessions(ctx context.Context) (*bughousedto.SessionList, error) {
	var out bughousedto.SessionList
	body, _, err := c.do(ctx, fasthttp.MethodGet, "/api/sessions", "", nil, true)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// State fetches the join snapshot of a session, creating it if needed.
func (c *Client) State(ctx context.Context, session string) (*bughousedto.InitGame, error) {
	var out bughousedto.InitGame
	body, _, err := c.do(ctx, fasthttp.MethodGet, "/session/"+url.PathEscape(session), "", nil, true)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// CreateSession posts the creation form and returns the redirect target.
func (c *Client) CreateSession(ctx context.Context, name string) (string, error) {
	payload, err := json.Marshal(bughousedto.CreateSessionRequest{NewSessionName: name})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	_, location, err := c.do(ctx, fasthttp.MethodPost, "/session", "application/json", payload, false)
	if err != nil {
		return "", err
	}
	if location == "" {
		return "", errors.New("create session: missing redirect location")
	}
	return location, nil
}

// do returns the body and, for redirects, the Location header.
func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte, retry bool) ([]byte, string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	if contentType != "" {
		req.Header.SetContentType(contentType)
	}
	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}
	if body != nil {
		req.SetBody(body)
	}

	attempts := 1
	if retry && c.retryMax > 0 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt == attempts {
				return nil, "", lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return nil, "", lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status >= 300 && status < 400 {
			return nil, string(resp.Header.Peek(fasthttp.HeaderLocation)), nil
		}
		if status < 200 || status >= 300 {
			lastErr = fmt.Errorf("bughouse api error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
			if attempt == attempts || !shouldRetryStatus(status) {
				return nil, "", lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return nil, "", lastErr
			}
			continue
		}
		return append([]byte(nil), resp.Body()...), "", nil
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return nil, "", lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond // 100ms, 200ms ...
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
