// Package shopify publishes catalog items through the Shopify Admin REST API.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultAPIVersion is the Admin API version used when none is configured.
	DefaultAPIVersion = "2024-04"
	// DefaultRatePerSecond matches the REST leaky bucket refill rate.
	DefaultRatePerSecond = 2.0
	defaultMaxRetries    = 3
)

// Product is the subset of the Shopify product resource we write.
type Product struct {
	ID          int64     `json:"id,omitempty"`
	Title       string    `json:"title,omitempty"`
	BodyHTML    string    `json:"body_html,omitempty"`
	Vendor      string    `json:"vendor,omitempty"`
	ProductType string    `json:"product_type,omitempty"`
	Status      string    `json:"status,omitempty"`
	Handle      string    `json:"handle,omitempty"`
	Tags        string    `json:"tags,omitempty"`
	Variants    []Variant `json:"variants,omitempty"`
	Images      []Image   `json:"images,omitempty"`
}

// Variant is a product variant.
type Variant struct {
	SKU   string `json:"sku"`
	Price string `json:"price,omitempty"`
}

// Image is a product image reference.
type Image struct {
	Src string `json:"src"`
}

// Metafield is a product metafield.
type Metafield struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Type      string `json:"type"`
	Value     string `json:"value"`
}

// APIError is a non-2xx answer from the Admin API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shopify: status %d: %s", e.Status, e.Body)
}

// Client is a rate limited Admin API client bound to one shop.
type Client struct {
	baseURL    string
	token      string
	http       *http.Client
	limiter    *rate.Limiter
	maxRetries int
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithBaseURL points the client at a different API root.
func WithBaseURL(base string) ClientOption {
	return func(c *Client) {
		if base != "" {
			c.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithRateLimit sets the sustained request rate.
func WithRateLimit(perSecond float64) ClientOption {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))
		}
	}
}

// NewClient constructs a client for shop.
func NewClient(shop, token, apiVersion string, opts ...ClientOption) *Client {
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	c := &Client{
		baseURL:    fmt.Sprintf("https://%s/admin/api/%s", strings.TrimSpace(shop), apiVersion),
		token:      token,
		http:       &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRatePerSecond), 2),
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateProduct creates a product and returns the stored resource.
func (c *Client) CreateProduct(ctx context.Context, p Product) (Product, error) {
	var out struct {
		Product Product `json:"product"`
	}
	err := c.do(ctx, http.MethodPost, "/products.json", map[string]any{"product": p}, &out)
	return out.Product, err
}

// UpdateProduct updates the fields set on p.
func (c *Client) UpdateProduct(ctx context.Context, id int64, p Product) (Product, error) {
	p.ID = id
	var out struct {
		Product Product `json:"product"`
	}
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("/products/%d.json", id), map[string]any{"product": p}, &out)
	return out.Product, err
}

// SetMetafield creates or replaces a product metafield.
func (c *Client) SetMetafield(ctx context.Context, productID int64, m Metafield) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/products/%d/metafields.json", productID), map[string]any{"metafield": m}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Shopify-Access-Token", c.token)

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("shopify: %s %s: %w", method, path, err)
		}
		data, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < c.maxRetries {
			if err := sleep(ctx, retryAfter(resp.Header.Get("Retry-After"))); err != nil {
				return err
			}
			continue
		}
		if resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		}
		if out == nil || len(data) == 0 {
			return nil
		}
		return json.Unmarshal(data, out)
	}
}

func retryAfter(header string) time.Duration {
	secs, err := strconv.ParseFloat(strings.TrimSpace(header), 64)
	if err != nil || secs <= 0 {
		return time.Second
	}
	return time.Duration(secs * float64(time.Second))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
