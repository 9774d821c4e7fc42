// Package httputil provides HTTP client abstractions for testability and
// small helpers shared by the dashboard handlers.
package httputil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// ErrBodyTooLarge is returned by ReadBody when a response exceeds its limit.
var ErrBodyTooLarge = errors.New("response body too large")

// HTTPClient abstracts HTTP operations for testability.
// Use StandardClient in production and MockHTTPClient in tests.
type HTTPClient interface {
	// Do sends an HTTP request and returns an HTTP response.
	Do(req *http.Request) (*http.Response, error)
}

// StandardClient wraps *http.Client to implement HTTPClient and stamps a
// User-Agent on outgoing requests that do not carry one.
type StandardClient struct {
	*http.Client
	UserAgent string
}

// NewStandardClient creates a new StandardClient wrapping the given http.Client.
func NewStandardClient(c *http.Client, userAgent string) *StandardClient {
	if c == nil {
		c = http.DefaultClient
	}
	return &StandardClient{Client: c, UserAgent: userAgent}
}

// Do sends an HTTP request.
func (c *StandardClient) Do(req *http.Request) (*http.Response, error) {
	if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	return c.Client.Do(req)
}

// ReadBody reads at most limit bytes of resp.Body and closes it.
func ReadBody(resp *http.Response, limit int64) ([]byte, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit)
	}
	return data, nil
}

// MockHTTPClient provides a testable HTTP client implementation.
type MockHTTPClient struct {
	mu          sync.Mutex
	DoFunc      func(req *http.Request) (*http.Response, error)
	Requests    []*http.Request
	Responses   []*MockResponse
	responseIdx int
}

// MockResponse defines a canned HTTP response for testing.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    http.Header
	Error      error
}

// NewMockHTTPClient creates a new mock HTTP client.
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{
		Requests:  []*http.Request{},
		Responses: []*MockResponse{},
	}
}

// AddResponse queues a response to be returned by subsequent requests.
func (m *MockHTTPClient) AddResponse(statusCode int, body string) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, &MockResponse{
		StatusCode: statusCode,
		Body:       body,
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
	})
	return m
}

// AddErrorResponse queues a transport error.
func (m *MockHTTPClient) AddErrorResponse(err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, &MockResponse{Error: err})
	return m
}

// Do records the request and returns the next queued response. A request
// whose context is already done fails with the context error.
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)

	if err := req.Context().Err(); err != nil {
		return nil, err
	}
	if m.DoFunc != nil {
		return m.DoFunc(req)
	}
	if m.responseIdx < len(m.Responses) {
		resp := m.Responses[m.responseIdx]
		m.responseIdx++

		if resp.Error != nil {
			return nil, resp.Error
		}

		return &http.Response{
			StatusCode: resp.StatusCode,
			Body:       io.NopCloser(bytes.NewBufferString(resp.Body)),
			Header:     resp.Headers,
			Request:    req,
		}, nil
	}

	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewBufferString("")),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// GetRequest returns the nth recorded request.
func (m *MockHTTPClient) GetRequest(n int) *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.Requests) {
		return nil
	}
	return m.Requests[n]
}

// RequestCount returns the number of recorded requests.
func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
