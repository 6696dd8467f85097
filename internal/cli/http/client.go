// Package httpclient talks to a runner service on behalf of the CLI.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"nextgen/internal/cli/command"
	"nextgen/pkg/utils/response"
)

// maxReplyBytes caps how much of a reply the CLI buffers.
const maxReplyBytes = 4 << 20

// Client sends built commands to one runner base URL.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: trimBase(baseURL),
		http:    &http.Client{Timeout: timeout},
	}
}

func trimBase(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = trimBase(baseURL)
}

// SetTimeout ignores non-positive values.
func (c *Client) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.http.Timeout = timeout
	}
}

// Reply is what the service answered and how long the round trip took.
type Reply struct {
	StatusCode int
	Body       []byte
	Elapsed    time.Duration
}

// RunBody decodes the run envelope. ok is false when the reply is not one,
// for example the plain text of /metrics.
func (r Reply) RunBody() (body response.Body, ok bool) {
	if err := json.Unmarshal(r.Body, &body); err != nil || body.Status == "" {
		return response.Body{}, false
	}
	return body, true
}

// Send performs req against the base URL. Request bodies are always JSON.
func (c *Client) Send(ctx context.Context, req command.RequestSpec) (Reply, error) {
	var payload io.Reader
	if len(req.Body) > 0 {
		payload = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, payload)
	if err != nil {
		return Reply{}, fmt.Errorf("build %s %s: %w", req.Method, req.Path, err)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for key, value := range req.Headers {
		if value != "" {
			httpReq.Header.Set(key, value)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Reply{Elapsed: time.Since(start)}, fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	reply := Reply{StatusCode: resp.StatusCode, Body: data, Elapsed: time.Since(start)}
	if err != nil {
		return reply, fmt.Errorf("read %s reply: %w", req.Path, err)
	}
	return reply, nil
}
