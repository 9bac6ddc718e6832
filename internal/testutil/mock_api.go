// Package testutil provides testing utilities for the book metadata client.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// BasePath is the lookup endpoint prefix served by MockAPI.
const BasePath = "/v2/book/isbn"

// MockResponse defines the behavior for a single mock API response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockAPI is a configurable mock metadata API server for testing.
// Responses are registered per key; a registered sequence is served in
// order and its last response repeats once exhausted.
type MockAPI struct {
	server *httptest.Server

	mu        sync.Mutex
	sequences map[string][]MockResponse
	served    map[string]int
	handlers  map[string]http.HandlerFunc

	// Tracking
	requestCount      int
	userAgents        []string
	lastRequestHeader http.Header
}

// NewMockAPI creates a new mock metadata API server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		sequences: make(map[string][]MockResponse),
		served:    make(map[string]int),
		handlers:  make(map[string]http.HandlerFunc),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

// URL returns the mock server root URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// BaseURL returns the lookup endpoint a client should be configured with.
func (m *MockAPI) BaseURL() string {
	return m.server.URL + BasePath
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears all tracking counters. Registered responses are kept.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.userAgents = nil
	m.lastRequestHeader = nil
	m.served = make(map[string]int)
}

// SetHandler sets a custom handler for a specific key.
func (m *MockAPI) SetHandler(key string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[key] = handler
}

// SetResponse configures a single response served for every request to key.
func (m *MockAPI) SetResponse(key string, resp MockResponse) {
	m.SetSequence(key, resp)
}

// SetSequence configures responses served in order for key.
func (m *MockAPI) SetSequence(key string, resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[key] = resps
	m.served[key] = 0
}

// RequestCount returns the number of requests made to the server.
func (m *MockAPI) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// RequestsFor returns the number of requests made for key.
func (m *MockAPI) RequestsFor(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.served[key]
}

// UserAgents returns the User-Agent header of every request in arrival order.
func (m *MockAPI) UserAgents() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.userAgents))
	copy(out, m.userAgents)
	return out
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockAPI) LastRequestHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRequestHeader
}

func (m *MockAPI) serve(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, BasePath+"/")

	m.mu.Lock()
	m.requestCount++
	m.userAgents = append(m.userAgents, r.Header.Get("User-Agent"))
	m.lastRequestHeader = r.Header.Clone()

	handler, hasHandler := m.handlers[key]
	seq, hasSeq := m.sequences[key]
	n := m.served[key]
	m.served[key] = n + 1
	m.mu.Unlock()

	if hasHandler {
		handler(w, r)
		return
	}

	resp := NewNotFoundResponse()
	if hasSeq && len(seq) > 0 {
		if n >= len(seq) {
			n = len(seq) - 1
		}
		resp = seq[n]
	}
	writeResponse(w, r, resp)
}

func writeResponse(w http.ResponseWriter, r *http.Request, resp MockResponse) {
	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}

	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// NewBookResponse creates a 200 OK response carrying a minimal book record.
func NewBookResponse(isbn, title string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       fmt.Sprintf(`{"isbn13":%q,"title":%q,"rating":{"average":"8.5","numRaters":120}}`, isbn, title),
	}
}

// NewNotFoundResponse creates a 404 response as the API returns for unknown keys.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"msg":"book_not_found","code":6000,"request":"GET /v2/book/isbn"}`,
	}
}

// NewBusinessErrorResponse creates a 200 OK response carrying a business error.
func NewBusinessErrorResponse(code int, msg string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       fmt.Sprintf(`{"msg":%q,"code":%d,"request":"GET /v2/book/isbn"}`, msg, code),
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"msg":"rate_limit_exceeded2","code":1998}`,
		Headers: map[string]string{
			"Retry-After": "1",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"msg":"internal_error","code":1000}`,
	}
}

// NewMalformedResponse creates a 200 OK response whose body is not JSON.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `<html>captcha</html>`,
		Headers: map[string]string{
			"Content-Type": "text/html",
		},
	}
}
