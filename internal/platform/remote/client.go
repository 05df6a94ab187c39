// Package remote talks to the commerce API.
package remote

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

	"github.com/odyssey-erp/odyssey-pos/internal/platform/envelope"
)

const maxBodyBytes = 16 << 20

// Client wraps interactions with the commerce API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// NewClient constructs a new client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  "odyssey-pos",
	}
}

// WithHTTPClient swaps the transport, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Request describes one call.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Body    any
	Token   string
	Headers map[string]string
}

// Response is a completed 2xx exchange.
type Response struct {
	Status int
	Body   []byte
}

// Envelope decodes the body through the normalizer.
func (r *Response) Envelope() (envelope.Envelope, error) {
	return envelope.Decode(r.Body)
}

// Do performs the request. Non-2xx statuses are returned as *StatusError.
func (c *Client) Do(ctx context.Context, in Request) (*Response, error) {
	target := c.baseURL + "/" + strings.TrimLeft(in.Path, "/")
	if len(in.Query) > 0 {
		target += "?" + in.Query.Encode()
	}

	var body io.Reader
	if in.Body != nil {
		raw, err := json.Marshal(in.Body)
		if err != nil {
			return nil, fmt.Errorf("remote: encode %s body: %w", in.Path, err)
		}
		body = bytes.NewReader(raw)
	}

	method := in.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if in.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if in.Token != "" {
		req.Header.Set("Authorization", "Bearer "+in.Token)
	}
	for k, v := range in.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("remote: read %s %s: %w", method, in.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newStatusError(method, in.Path, resp.StatusCode, raw)
	}
	return &Response{Status: resp.StatusCode, Body: raw}, nil
}

// GetJSON issues a GET and normalizes the JSON body.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, token string) (envelope.Envelope, error) {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query, Token: token})
	if err != nil {
		return envelope.Envelope{}, err
	}
	return resp.Envelope()
}

// PostJSON issues a POST with a JSON body.
func (c *Client) PostJSON(ctx context.Context, path string, body any, token string, headers map[string]string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body, Token: token, Headers: headers})
}
