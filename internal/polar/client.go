package polar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

const (
	productionBaseURL = "https://api.polar.sh"
	sandboxBaseURL    = "https://sandbox-api.polar.sh"
)

// Customer is a Polar customer record. ExternalID carries our user id when
// the checkout linked it; it can lag behind on freshly created customers.
type Customer struct {
	ID         string  `json:"id"`
	Email      string  `json:"email"`
	ExternalID *string `json:"external_id"`
}

// Product identifies the purchased product/price.
type Product struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Subscription is a recurring subscription as reported by the provider.
type Subscription struct {
	ID                string     `json:"id"`
	Status            string     `json:"status"`
	CurrentPeriodEnd  *time.Time `json:"current_period_end"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	Customer          Customer   `json:"customer"`
	Product           *Product   `json:"product"`
}

// Order is a one-time purchase as reported by the provider.
type Order struct {
	ID       string   `json:"id"`
	Paid     bool     `json:"paid"`
	Customer Customer `json:"customer"`
	Product  *Product `json:"product"`
}

// Checkout is a created checkout session.
type Checkout struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateCheckoutParams describes a checkout session to create.
type CreateCheckoutParams struct {
	Products           []string `json:"products"`
	CustomerEmail      string   `json:"customer_email,omitempty"`
	ExternalCustomerID string   `json:"external_customer_id,omitempty"`
	SuccessURL         string   `json:"success_url,omitempty"`
}

// Client is the billing provider API consumed by the reconciler and the
// checkout flow. The concrete implementation talks to Polar's REST API.
type Client interface {
	ListActiveSubscriptions(ctx context.Context, customerID string) ([]Subscription, error)
	ListOrders(ctx context.Context, customerID string) ([]Order, error)
	GetCustomerByExternalID(ctx context.Context, externalID string) (*Customer, error)
	CreateCheckout(ctx context.Context, params CreateCheckoutParams) (*Checkout, error)
}

type httpClient struct {
	baseURL     string
	accessToken string
	client      *http.Client
	logger      zerolog.Logger
}

// NewClient builds a Polar API client for the given server ("production" or
// "sandbox"). The http.Client default timeout policy applies; callers bound
// requests via context.
func NewClient(accessToken, server string, logger zerolog.Logger) Client {
	baseURL := sandboxBaseURL
	if server == "production" {
		baseURL = productionBaseURL
	}
	return &httpClient{
		baseURL:     baseURL,
		accessToken: accessToken,
		client:      &http.Client{},
		logger:      logger.With().Str("service", "PolarClient").Logger(),
	}
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

func (c *httpClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("making request to Polar API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("polar api returned status %d", resp.StatusCode)
		}
		c.logger.Error().
			Int("status_code", resp.StatusCode).
			Str("path", path).
			Str("error_body", string(bodyBytes)).
			Msg("Polar API returned error")
		return fmt.Errorf("polar api returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding Polar response: %w", err)
		}
	}
	return nil
}

// ListActiveSubscriptions returns the customer's currently active subscriptions.
func (c *httpClient) ListActiveSubscriptions(ctx context.Context, customerID string) ([]Subscription, error) {
	query := url.Values{}
	query.Set("customer_id", customerID)
	query.Set("active", "true")

	var resp listResponse[Subscription]
	if err := c.do(ctx, http.MethodGet, "/v1/subscriptions", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// ListOrders returns the customer's orders, paid or not.
func (c *httpClient) ListOrders(ctx context.Context, customerID string) ([]Order, error) {
	query := url.Values{}
	query.Set("customer_id", customerID)

	var resp listResponse[Order]
	if err := c.do(ctx, http.MethodGet, "/v1/orders", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// GetCustomerByExternalID looks up the customer linked to our user id.
func (c *httpClient) GetCustomerByExternalID(ctx context.Context, externalID string) (*Customer, error) {
	var customer Customer
	path := "/v1/customers/external/" + url.PathEscape(externalID)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

// CreateCheckout creates a checkout session and returns its URL.
func (c *httpClient) CreateCheckout(ctx context.Context, params CreateCheckoutParams) (*Checkout, error) {
	var checkout Checkout
	if err := c.do(ctx, http.MethodPost, "/v1/checkouts", nil, params, &checkout); err != nil {
		return nil, err
	}
	return &checkout, nil
}
