// Package gateway talks to the Razorpay Orders API and checks callback signatures.
package gateway

import (
	"bytes"
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
	DefaultBaseURL = "https://api.razorpay.com"
	DefaultTimeout = 10 * time.Second

	maxBodySize = 1 << 20 // 1MB
)

var ErrUnavailable = errors.New("payment gateway unavailable")

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	Status int
	Body   []byte
}

func (e *APIError) Error() string {
	var body struct {
		Error struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	}
	if json.Unmarshal(e.Body, &body) == nil && body.Error.Description != "" {
		return fmt.Sprintf("gateway returned %d: %s", e.Status, body.Error.Description)
	}
	return fmt.Sprintf("gateway returned %d", e.Status)
}

// Order is a gateway order. Amount is in minor units.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type createOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt,omitempty"`
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithBreaker(cfg circuitbreaker.Config) Option {
	return func(c *Client) { c.breakerCfg = cfg }
}

type Client struct {
	baseURL    string
	keyID      string
	keySecret  string
	http       *http.Client
	timeout    time.Duration
	breakerCfg circuitbreaker.Config
	breaker    *circuitbreaker.Breaker
}

func NewClient(keyID, keySecret string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		keyID:      keyID,
		keySecret:  keySecret,
		http:       &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		timeout:    DefaultTimeout,
		breakerCfg: circuitbreaker.DefaultConfig("razorpay"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breakerCfg.Name = "razorpay"
	c.breakerCfg.IsSuccessful = countsAsSuccess
	c.breaker = circuitbreaker.New(c.breakerCfg)
	return c
}

// CreateOrder raises a gateway order for amount minor units. Receipt is our order id.
func (c *Client) CreateOrder(ctx context.Context, amount int64, currency, receipt string) (Order, error) {
	order, err := circuitbreaker.Execute(c.breaker, func() (Order, error) {
		return c.createOrder(ctx, createOrderRequest{Amount: amount, Currency: currency, Receipt: receipt})
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return Order{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return order, err
}

func (c *Client) createOrder(ctx context.Context, in createOrderRequest) (Order, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(in)
	if err != nil {
		return Order{}, fmt.Errorf("marshal order request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(payload))
	if err != nil {
		return Order{}, fmt.Errorf("build order request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Order{}, fmt.Errorf("%w: read response: %w", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Order{}, &APIError{Status: resp.StatusCode, Body: body}
	}

	var out Order
	if err := json.Unmarshal(body, &out); err != nil {
		return Order{}, fmt.Errorf("decode order response: %w", err)
	}
	if out.ID == "" {
		return Order{}, errors.New("gateway order response has no id")
	}
	return out, nil
}

// Rejected requests (bad amount, bad credentials) say nothing about gateway health.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500
}
