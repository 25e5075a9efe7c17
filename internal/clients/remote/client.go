package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ordersight/ordersight-backend/internal/platform/httpx"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
)

// Client pushes finished orders and products to the merchant's commerce
// platform. The sync stage is the only caller.
type Client interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)
	CreateProduct(ctx context.Context, req ProductRequest) (*ProductResponse, error)
}

type OrderRequest struct {
	ExternalRef  string      `json:"external_ref"`
	OrderNumber  string      `json:"order_number"`
	SupplierName string      `json:"supplier_name,omitempty"`
	Currency     string      `json:"currency,omitempty"`
	Total        float64     `json:"total"`
	Lines        []OrderLine `json:"lines"`
}

type OrderLine struct {
	SKU       string  `json:"sku"`
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

type OrderResponse struct {
	ID string `json:"id"`
}

type ProductRequest struct {
	ExternalRef string `json:"external_ref"`
	SKU         string `json:"sku"`
	Title       string `json:"title,omitempty"`
}

type ProductResponse struct {
	ID string `json:"id"`
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client

	maxRetries int
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("REMOTE_PLATFORM_URL")), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("missing REMOTE_PLATFORM_URL")
	}
	apiKey := strings.TrimSpace(os.Getenv("REMOTE_PLATFORM_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing REMOTE_PLATFORM_API_KEY")
	}

	timeoutSec := 30
	if v := os.Getenv("REMOTE_PLATFORM_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}
	maxRetries := 3
	if v := os.Getenv("REMOTE_PLATFORM_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	return &client{
		log:        log.With("service", "RemotePlatformClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
	}, nil
}

// NewClientWith builds a client against an explicit endpoint; tests use it
// with httptest servers.
func NewClientWith(log *logger.Logger, baseURL, apiKey string) Client {
	return &client{
		log:        log.With("service", "RemotePlatformClient"),
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: 3,
	}
}

func (c *client) CreateOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	var resp OrderResponse
	if err := c.do(ctx, "POST", "/v1/orders", req, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("remote order create returned no id")
	}
	return &resp, nil
}

func (c *client) CreateProduct(ctx context.Context, req ProductRequest) (*ProductResponse, error) {
	var resp ProductResponse
	if err := c.do(ctx, "POST", "/v1/products", req, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("remote product create returned no id")
	}
	return &resp, nil
}

type remoteHTTPError struct {
	StatusCode int
	Body       string
}

func (e *remoteHTTPError) Error() string {
	return fmt.Sprintf("remote platform http %d: %s", e.StatusCode, e.Body)
}

func (e *remoteHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (c *client) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &remoteHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	backoff := 500 * time.Millisecond

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("remote decode error: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}

		if !httpx.IsRetryableError(err) {
			return err
		}
		if attempt == c.maxRetries {
			return err
		}

		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 5*time.Second))
		c.log.Warn("remote platform request retrying",
			"path", path, "attempt", attempt+1, "sleep", sleepFor.String(), "error", err.Error())
		time.Sleep(sleepFor)
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}
