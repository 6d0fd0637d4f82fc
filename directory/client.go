package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a directory Server over HTTP. It satisfies Directory.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a directory client. timeout bounds each request in addition to
// the caller's context.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Register implements Directory.
func (c *Client) Register(ctx context.Context, reg Registration) error {
	return c.do(ctx, OpRegister, http.MethodPut, "/users/"+url.PathEscape(reg.Username), reg, nil)
}

// Heartbeat implements Directory.
func (c *Client) Heartbeat(ctx context.Context, username, address string) error {
	return c.do(ctx, OpHeartbeat, http.MethodPost, "/users/"+url.PathEscape(username)+"/heartbeat",
		heartbeatRequest{Address: address}, nil)
}

// Lookup implements Directory.
func (c *Client) Lookup(ctx context.Context, username string) (*Record, error) {
	var rec Record
	if err := c.do(ctx, OpLookup, http.MethodGet, "/users/"+url.PathEscape(username), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Push implements Directory.
func (c *Client) Push(ctx context.Context, to, from string, bundle Bundle) error {
	bundle.To = to
	bundle.From = from
	return c.do(ctx, OpPush, http.MethodPost, "/relay/"+url.PathEscape(to), bundle, nil)
}

// Drain implements Directory.
func (c *Client) Drain(ctx context.Context, username string) ([]Bundle, error) {
	var resp drainResponse
	if err := c.do(ctx, OpDrain, http.MethodPost, "/relay/"+url.PathEscape(username)+"/drain", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Bundles, nil
}

// Ping implements Pinger against /health.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "health", http.MethodGet, "/health", nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &Error{Op: op, Err: fmt.Errorf("%w: %v", ErrInvalidRequest, err)}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("%w: %v", ErrInvalidRequest, err)}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &Error{Op: op, Err: errorFromResponse(resp)}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, Err: fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)}
	}
	return nil
}

// errorFromResponse maps an HTTP error status back onto a sentinel.
func errorFromResponse(resp *http.Response) error {
	var er errorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&er)
	msg := er.Error
	if msg == "" {
		msg = resp.Status
	}

	var sentinel error
	switch resp.StatusCode {
	case http.StatusNotFound:
		sentinel = ErrNotFound
	case http.StatusConflict:
		sentinel = ErrConflict
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnauthorized:
		sentinel = ErrInvalidRequest
	case http.StatusTooManyRequests:
		sentinel = ErrQuotaExceeded
	default:
		sentinel = ErrUnavailable
	}
	return fmt.Errorf("%w: %s", sentinel, msg)
}
