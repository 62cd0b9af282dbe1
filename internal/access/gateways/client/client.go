// Package client talks to a running gracegated over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/haukened/gracegate/internal/access/gateways/wire"
)

// APIError is a non-2xx answer that carried no usable result body.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type Client struct {
	base *url.URL
	http *http.Client
}

// New returns a Client for the server at baseURL, e.g. "http://127.0.0.1:8088".
func New(baseURL string, hc *http.Client) (*Client, error) {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: u, http: hc}, nil
}

func (c *Client) Check(ctx context.Context, rawURL string) (wire.Verdict, error) {
	var v wire.Verdict
	err := c.do(ctx, http.MethodPost, "/v1/check", map[string]any{"url": rawURL}, &v, false)
	return v, err
}

// RequestGrant asks for a grace period. A refusal such as an exhausted
// quota comes back as an Outcome with Success false, not as an error.
func (c *Client) RequestGrant(ctx context.Context, rawURL string) (wire.Outcome, error) {
	var o wire.Outcome
	err := c.do(ctx, http.MethodPost, "/v1/grants", map[string]any{"url": rawURL}, &o, true)
	return o, err
}

// Verify checks a key. An invalid key is an Outcome with Success false.
func (c *Client) Verify(ctx context.Context, key string) (wire.Outcome, error) {
	var o wire.Outcome
	err := c.do(ctx, http.MethodPost, "/v1/verify", map[string]any{"key": key}, &o, true)
	return o, err
}

func (c *Client) Navigate(ctx context.Context, tab int, rawURL string) (wire.NavigateOutcome, error) {
	var o wire.NavigateOutcome
	err := c.do(ctx, http.MethodPost, "/v1/navigate", map[string]any{"tab": tab, "url": rawURL}, &o, false)
	return o, err
}

func (c *Client) Grants(ctx context.Context) ([]wire.Grant, error) {
	var gs []wire.Grant
	err := c.do(ctx, http.MethodGet, "/v1/grants", nil, &gs, false)
	return gs, err
}

func (c *Client) Quota(ctx context.Context) (wire.Quota, error) {
	var q wire.Quota
	err := c.do(ctx, http.MethodGet, "/v1/quota", nil, &q, false)
	return q, err
}

func (c *Client) Rules(ctx context.Context) ([]wire.Rule, error) {
	var rs []wire.Rule
	err := c.do(ctx, http.MethodGet, "/v1/rules", nil, &rs, false)
	return rs, err
}

func (c *Client) AddRule(ctx context.Context, input string) (wire.Rule, error) {
	var r wire.Rule
	err := c.do(ctx, http.MethodPost, "/v1/rules", map[string]any{"input": input}, &r, false)
	return r, err
}

func (c *Client) RemoveRule(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/rules/"+url.PathEscape(id), nil, nil, false)
}

// do sends one request. With outcomeOnError set, a non-2xx body that
// decodes into out is returned without error.
func (c *Client) do(ctx context.Context, method, path string, in, out any, outcomeOnError bool) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok && !(outcomeOnError && isOutcome(raw)) {
		return apiError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func isOutcome(raw []byte) bool {
	var probe struct {
		Success *bool `json:"success"`
	}
	return json.Unmarshal(raw, &probe) == nil && probe.Success != nil
}

func apiError(status int, raw []byte) error {
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{Status: status, Message: msg}
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
