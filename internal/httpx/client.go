// Package httpx is the shared outbound HTTP layer for provider adapters:
// bounded timeouts, a per-provider circuit breaker, tracing spans, and the
// transport/business error split from the gateway error taxonomy.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/edoardok-cmd/BoomCard-sub001/internal/gateway/domain"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "boomcard/gateway/httpx"

// Response is a fully-read provider response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the provider answered with a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Client issues requests to one provider endpoint family.
type Client struct {
	provider string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
	tracer   trace.Tracer
}

// New builds a client for the named provider with a bounded per-call
// timeout. The breaker trips after consecutive transport failures so a dead
// provider fails fast instead of tying up callers.
func New(provider string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		provider: provider,
		http:     &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: provider,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			Timeout: 30 * time.Second,
		}),
		tracer: otel.Tracer(tracerName),
	}
}

// Do sends the request and reads the full response. Network failures,
// timeouts and an open breaker surface as *domain.TransportError; any HTTP
// response, success or not, is returned for the adapter to interpret.
func (c *Client) Do(ctx context.Context, operation, method, rawURL string, header http.Header, body []byte) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, operation, trace.WithAttributes(
		attribute.String("provider", c.provider),
		attribute.String("http.method", method),
	))
	defer span.End()

	result, err := c.breaker.Execute(func() (any, error) {
		var reader io.Reader
		if len(body) > 0 {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return nil, err
		}
		for key, values := range header {
			for _, value := range values {
				req.Header.Add(key, value)
			}
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, err
		}
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: payload}, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, &domain.TransportError{Provider: c.provider, Operation: operation, Err: err}
	}

	resp := result.(*Response)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp, nil
}

// JSON sends a JSON request and decodes a JSON response. Non-2xx statuses
// come back as *domain.TransportError alongside the raw response so adapters
// can promote provider-declared declines to *domain.ProviderError.
func (c *Client) JSON(ctx context.Context, operation, method, rawURL string, header http.Header, in any, out any) (*Response, error) {
	var body []byte
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = encoded
	}

	if header == nil {
		header = http.Header{}
	}
	if header.Get("Content-Type") == "" && len(body) > 0 {
		header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(ctx, operation, method, rawURL, header, body)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return resp, &domain.TransportError{Provider: c.provider, Operation: operation, StatusCode: resp.StatusCode}
	}
	if out != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return resp, &domain.TransportError{Provider: c.provider, Operation: operation, Err: err}
		}
	}
	return resp, nil
}

// Form posts url-encoded parameters and returns the raw response. Used by
// the checksum- and signature-based gateways that never speak JSON.
func (c *Client) Form(ctx context.Context, operation, rawURL string, values url.Values) (*Response, error) {
	header := http.Header{}
	header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.Do(ctx, operation, http.MethodPost, rawURL, header, []byte(values.Encode()))
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return resp, &domain.TransportError{Provider: c.provider, Operation: operation, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// XML posts an XML document and returns the raw response body. The R-Keeper
// RK7 interface answers 200 even for protocol errors, so status handling
// stays with the adapter.
func (c *Client) XML(ctx context.Context, operation, rawURL string, payload []byte) (*Response, error) {
	header := http.Header{}
	header.Set("Content-Type", "application/xml")

	resp, err := c.Do(ctx, operation, http.MethodPost, rawURL, header, payload)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return resp, &domain.TransportError{Provider: c.provider, Operation: operation, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// Text returns the trimmed response body as a string.
func (r *Response) Text() string {
	return strings.TrimSpace(string(r.Body))
}
