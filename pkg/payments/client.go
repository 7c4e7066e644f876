package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// CheckoutParams describe the purchase a checkout session is created for.
type CheckoutParams struct {
	// Reference is echoed back as client_reference_id in webhook events;
	// the promotion id goes here.
	Reference   string `json:"client_reference_id"`
	ProductName string `json:"product_name"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	SuccessURL  string `json:"success_url"`
	CancelURL   string `json:"cancel_url"`
}

// CheckoutSession is the provider's created session.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Client calls the payment provider's HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient constructs a provider client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// CreateCheckoutSession opens a hosted checkout for the given purchase.
func (c *Client) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (CheckoutSession, error) {
	if strings.TrimSpace(params.Reference) == "" {
		return CheckoutSession{}, errors.New("checkout reference required")
	}
	if params.AmountCents <= 0 {
		return CheckoutSession{}, errors.New("checkout amount must be positive")
	}
	data, err := json.Marshal(params)
	if err != nil {
		return CheckoutSession{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkout/sessions", bytes.NewReader(data))
	if err != nil {
		return CheckoutSession{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return CheckoutSession{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error != "" {
			return CheckoutSession{}, fmt.Errorf("payment provider: %s", errResp.Error)
		}
		return CheckoutSession{}, fmt.Errorf("payment provider returned %s", resp.Status)
	}

	var session CheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return CheckoutSession{}, fmt.Errorf("decode checkout session: %w", err)
	}
	if session.ID == "" || session.URL == "" {
		return CheckoutSession{}, errors.New("provider returned incomplete session")
	}
	return session, nil
}
