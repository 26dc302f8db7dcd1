// Package funnel is the HTTP client for the funnel backend's AI page
// generation endpoints.
package funnel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/funnel-draftkit/internal/sse"
)

const userAgent = "funnel-draftkit/1.0"

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTokenProvider sets where bearer credentials come from.
func WithTokenProvider(tokens TokenProvider) ClientOption {
	return func(c *Client) {
		if tokens != nil {
			c.tokens = tokens
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMalformedHandler observes stream payloads that fail to parse as JSON.
func WithMalformedHandler(fn func(payload []byte)) ClientOption {
	return func(c *Client) {
		c.onMalformed = fn
	}
}

// Client talks to the funnel backend.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	tokens      TokenProvider
	logger      *slog.Logger
	onMalformed func([]byte)
}

// NewClient creates a client for the backend rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		tokens:     StaticToken(""),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stream yields the raw JSON payload of each generation event in arrival order.
type Stream interface {
	// Next returns io.EOF when the stream is exhausted.
	Next() (json.RawMessage, error)
	Close() error
}

// StartGeneration posts req to the streaming endpoint. When that endpoint is
// not deployed (404) the same body is posted to the non-streaming endpoint and
// its JSON result is replayed as a single done event.
func (c *Client) StartGeneration(ctx context.Context, page PageRef, req *GenerateRequest) (Stream, error) {
	if !page.Valid() {
		return nil, fmt.Errorf("invalid page reference %q", page.String())
	}
	payload := *req
	if payload.Messages == nil {
		payload.Messages = []Message{}
	}

	body, err := json.Marshal(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.post(ctx, c.pageURL(page, "ai/generate/stream"), body, "text/event-stream")
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		c.logger.Info("streaming endpoint unavailable, using fallback",
			slog.String("funnel_id", page.FunnelID),
			slog.String("page_id", page.PageID),
		)
		return c.generateOnce(ctx, page, body)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, newHTTPError(resp)
	}

	// Transports such as otelhttp wrap the body, so NoBody alone is not
	// enough to spot an empty response.
	if resp.Body == nil || resp.Body == http.NoBody || resp.ContentLength == 0 {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return nil, ErrInvalidResponse
	}

	s := &eventStream{body: resp.Body}
	s.dec = sse.NewDecoder(&countingReader{r: resp.Body, n: &s.read},
		sse.WithLogger(c.logger),
		sse.WithMalformedHandler(c.onMalformed),
	)
	return s, nil
}

// generateOnce calls the non-streaming endpoint with an already encoded body.
func (c *Client) generateOnce(ctx context.Context, page PageRef, body []byte) (Stream, error) {
	resp, err := c.post(ctx, c.pageURL(page, "ai/generate"), body, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newHTTPError(resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	payload, err := synthesizeDone(respBody)
	if err != nil {
		return nil, err
	}
	return &singleEventStream{payload: payload}, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte, accept string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	httpReq.Header.Set("User-Agent", userAgent)
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) pageURL(page PageRef, suffix string) string {
	return fmt.Sprintf("%s/funnels/%s/pages/%s/%s",
		c.baseURL, url.PathEscape(page.FunnelID), url.PathEscape(page.PageID), suffix)
}

// synthesizeDone turns a non-streaming result object into a done event payload.
func synthesizeDone(body []byte) (json.RawMessage, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrInvalidResponse
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return nil, ErrInvalidResponse
	}
	fields["type"] = json.RawMessage(`"done"`)
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode done event: %w", err)
	}
	return payload, nil
}

type eventStream struct {
	body io.ReadCloser
	dec  *sse.Decoder
	read int64
}

// Next reports ErrInvalidResponse for a body of unknown length that turns out
// to be empty.
func (s *eventStream) Next() (json.RawMessage, error) {
	payload, err := s.dec.Next()
	if errors.Is(err, io.EOF) && s.read == 0 {
		return nil, ErrInvalidResponse
	}
	return payload, err
}

func (s *eventStream) Close() error {
	return s.body.Close()
}

type countingReader struct {
	r io.Reader
	n *int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	*c.n += int64(n)
	return n, err
}

type singleEventStream struct {
	payload json.RawMessage
	sent    bool
}

func (s *singleEventStream) Next() (json.RawMessage, error) {
	if s.sent {
		return nil, io.EOF
	}
	s.sent = true
	return s.payload, nil
}

func (s *singleEventStream) Close() error {
	return nil
}
