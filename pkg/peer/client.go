// Package peer holds the HTTP clients the workflows use to read from the cart,
// catalog and order services on behalf of the caller.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/commerce-pipeline/pkg/circuitbreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	ServiceCart    = "cart"
	ServiceCatalog = "catalog"
	ServiceOrders  = "orders"

	DefaultTimeout = 5 * time.Second

	maxBodySize = 1 << 20 // 1MB
)

// UpstreamError reports a failed call to a peer service. Status is zero when no
// response was received (transport error, timeout, open breaker).
type UpstreamError struct {
	Service string
	Status  int
	Body    []byte
	Err     error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s service returned %d", e.Service, e.Status)
	}
	return fmt.Sprintf("%s service unreachable: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// HTTPStatus is the status to relay to the caller: the upstream status, or 502
// when the upstream never answered.
func (e *UpstreamError) HTTPStatus() int {
	if e.Status == 0 {
		return http.StatusBadGateway
	}
	return e.Status
}

// Message extracts the upstream's "message" field, falling back to a generic text.
func (e *UpstreamError) Message() string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(e.Body, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	if e.Status == 0 {
		return "unable to reach " + e.Service + " service"
	}
	return "upstream " + e.Service + " service error"
}

type Option func(*client)

func WithTimeout(d time.Duration) Option {
	return func(c *client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) { c.http = hc }
}

// WithBreaker overrides the breaker thresholds. Upstream 4xx answers never count
// as failures.
func WithBreaker(cfg circuitbreaker.Config) Option {
	return func(c *client) { c.breakerCfg = cfg }
}

type client struct {
	service    string
	baseURL    string
	http       *http.Client
	timeout    time.Duration
	breakerCfg circuitbreaker.Config
	breaker    *circuitbreaker.Breaker
}

func newClient(service, baseURL string, opts ...Option) *client {
	c := &client{
		service:    service,
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		timeout:    DefaultTimeout,
		breakerCfg: circuitbreaker.DefaultConfig(service),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breakerCfg.Name = service
	c.breakerCfg.IsSuccessful = countsAsSuccess
	c.breaker = circuitbreaker.New(c.breakerCfg)
	return c
}

func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Status >= 400 && ue.Status < 500
}

func (c *client) getJSON(ctx context.Context, token, path string, out any) error {
	_, err := circuitbreaker.Execute(c.breaker, func() (struct{}, error) {
		return struct{}{}, c.do(ctx, token, path, out)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return &UpstreamError{Service: c.service, Err: err}
	}
	return err
}

func (c *client) do(ctx context.Context, token, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &UpstreamError{Service: c.service, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &UpstreamError{Service: c.service, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return &UpstreamError{Service: c.service, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UpstreamError{Service: c.service, Status: resp.StatusCode, Body: body}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &UpstreamError{Service: c.service, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
