// Package testutil provides helpers shared by package and integration tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
)

// Client calls a running server and optionally validates every exchange
// against the OpenAPI spec.
type Client struct {
	BaseURL    string
	Token      string // sent as a bearer token to the /functions/v1 endpoints
	HTTPClient *http.Client
	Validator  *OpenAPIValidator
	t          *testing.T
}

// NewClient creates a client without validation.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{},
	}
}

// NewClientWithValidator creates a client that validates responses.
func NewClientWithValidator(t *testing.T, baseURL string, validator *OpenAPIValidator) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{},
		Validator:  validator,
		t:          t,
	}
}

// GET performs a GET request.
func (c *Client) GET(path string) (*http.Response, error) {
	return c.Do(http.MethodGet, path, nil, nil)
}

// POST performs a POST request with JSON body.
func (c *Client) POST(path string, body any) (*http.Response, error) {
	return c.Do(http.MethodPost, path, body, nil)
}

// PUT performs a PUT request with JSON body.
func (c *Client) PUT(path string, body any) (*http.Response, error) {
	return c.Do(http.MethodPut, path, body, nil)
}

// Do sends a request with optional JSON body and extra headers.
func (c *Client) Do(method, path string, body any, headers map[string]string) (*http.Response, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}

	if c.Validator != nil && c.t != nil {
		respBody, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		resp.Body = io.NopCloser(bytes.NewReader(respBody))

		routeReq, _ := http.NewRequest(method, path, bytes.NewReader(bodyBytes))
		routeReq.Header = req.Header.Clone()
		c.Validator.ValidateResponse(c.t, routeReq, resp.StatusCode, resp.Header, respBody)
	}

	return resp, nil
}

// DecodeJSON decodes resp's body into v and closes it.
func DecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}
