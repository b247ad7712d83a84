// Package shopify fetches pickup-ready orders from the Shopify Admin REST API.
package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/foxzi/pickup/internal/metrics"
)

// ErrMissingToken is returned when the client is built without an access token
var ErrMissingToken = errors.New("SHOPIFY_ACCESS_TOKEN is not configured")

const (
	// DefaultAPIVersion is the Admin API version used when none is configured
	DefaultAPIVersion = "2024-01"

	// pageLimit is the maximum page size the Admin API accepts
	pageLimit = 250
)

// Options configures a Client
type Options struct {
	ShopDomain  string
	AccessToken string
	APIVersion  string
	Timeout     time.Duration

	// RequestsPerSecond throttles outgoing requests. Zero disables throttling.
	RequestsPerSecond float64

	// BaseURL overrides https://{ShopDomain}/admin/api/{APIVersion}
	BaseURL string
}

// Client is a Shopify Admin API client
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// NewClient creates a new Shopify client
func NewClient(opts Options, logger *slog.Logger) (*Client, error) {
	if opts.AccessToken == "" {
		return nil, ErrMissingToken
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		if opts.ShopDomain == "" {
			return nil, errors.New("shopify shop domain is required")
		}
		version := opts.APIVersion
		if version == "" {
			version = DefaultAPIVersion
		}
		domain := strings.TrimSuffix(opts.ShopDomain, "/")
		if !strings.Contains(domain, "://") {
			domain = "https://" + domain
		}
		baseURL = domain + "/admin/api/" + version
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		accessToken: opts.AccessToken,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
	}
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return c, nil
}

// request performs a GET against the Admin API and decodes the JSON body
func (c *Client) request(ctx context.Context, path string, query url.Values, result any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.IncShopifyRequests("error")
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	metrics.IncShopifyRequests(strconv.Itoa(resp.StatusCode))

	if resp.StatusCode >= 400 {
		return responseError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// APIError is a non-2xx response from the Admin API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("shopify: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("shopify: HTTP %d: %s", e.StatusCode, e.Message)
}

func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var errResp errorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Errors != nil {
		switch v := errResp.Errors.(type) {
		case string:
			apiErr.Message = v
		default:
			data, _ := json.Marshal(v)
			apiErr.Message = string(data)
		}
	}
	return apiErr
}

// ReadyOrders returns fulfilled, paid orders that have an email address
func (c *Client) ReadyOrders(ctx context.Context) ([]Order, error) {
	query := url.Values{}
	query.Set("status", "any")
	query.Set("fulfillment_status", "fulfilled")
	query.Set("financial_status", "paid")
	query.Set("limit", strconv.Itoa(pageLimit))

	var resp ordersResponse
	if err := c.request(ctx, "/orders.json", query, &resp); err != nil {
		return nil, fmt.Errorf("fetch orders: %w", err)
	}

	orders := make([]Order, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		if o.Email != "" && o.FulfillmentStatus == "fulfilled" {
			orders = append(orders, o)
		}
	}

	c.logger.Debug("fetched orders", "total", len(resp.Orders), "ready", len(orders))
	return orders, nil
}

// Order returns a single order by id, or nil, nil if it does not exist
func (c *Client) Order(ctx context.Context, id string) (*Order, error) {
	var resp orderResponse
	err := c.request(ctx, "/orders/"+url.PathEscape(id)+".json", nil, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch order %s: %w", id, err)
	}
	return resp.Order, nil
}
