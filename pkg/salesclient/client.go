package salesclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"yardhop/pkg/domain"
	"yardhop/pkg/geo"
)

// Client calls the yardhop API over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError is a decoded API error envelope.
type APIError struct {
	Status  int
	Message string
	Code    string
	Hint    string
}

func (e *APIError) Error() string {
	return e.Message
}

// SearchFilters narrow list and viewport queries.
type SearchFilters struct {
	Query        string
	Category     string
	StartsAfter  time.Time
	EndsBefore   time.Time
	PromotedOnly bool
	Limit        int
}

// SaleDetail is the public detail payload: the sale plus its items and
// presigned photo URLs.
type SaleDetail struct {
	domain.Sale
	Items  []domain.Item  `json:"items"`
	Photos []domain.Photo `json:"photos"`
}

// NewClient constructs an API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Login exchanges credentials for an access and refresh token pair.
func (c *Client) Login(ctx context.Context, email, password string) (domain.User, string, string, error) {
	payload := map[string]string{"email": email, "password": password}
	var resp struct {
		Token        string      `json:"token"`
		RefreshToken string      `json:"refreshToken"`
		User         domain.User `json:"user"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", "", payload, &resp); err != nil {
		return domain.User{}, "", "", err
	}
	return resp.User, resp.Token, resp.RefreshToken, nil
}

// SearchSales queries the list view around a zip.
func (c *Client) SearchSales(ctx context.Context, nearZip string, radiusKm float64, filters SearchFilters) ([]domain.Sale, error) {
	params := filters.values()
	if nearZip != "" {
		params.Set("near", nearZip)
	}
	if radiusKm > 0 {
		params.Set("radius_km", strconv.FormatFloat(radiusKm, 'f', -1, 64))
	}
	var resp listSalesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/sales?"+params.Encode(), "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// SearchViewport queries the map view for one bounding box.
func (c *Client) SearchViewport(ctx context.Context, box geo.BBox, filters SearchFilters) ([]domain.Sale, error) {
	params := filters.values()
	params.Set("bbox", formatBBox(box))
	var resp listSalesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/sales/viewport?"+params.Encode(), "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// GetSale fetches the public detail for one sale.
func (c *Client) GetSale(ctx context.Context, token, saleID string) (SaleDetail, error) {
	var detail SaleDetail
	if err := c.doJSON(ctx, http.MethodGet, "/api/sales/"+url.PathEscape(saleID), token, nil, &detail); err != nil {
		return SaleDetail{}, err
	}
	return detail, nil
}

// Favorite saves a sale to the user's favorites.
func (c *Client) Favorite(ctx context.Context, token, saleID string) error {
	return c.doJSON(ctx, http.MethodPut, "/api/sales/"+url.PathEscape(saleID)+"/favorite", token, nil, nil)
}

// Unfavorite removes a sale from the user's favorites.
func (c *Client) Unfavorite(ctx context.Context, token, saleID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/sales/"+url.PathEscape(saleID)+"/favorite", token, nil, nil)
}

// ListFavorites returns the user's favorited sales.
func (c *Client) ListFavorites(ctx context.Context, token string) ([]domain.Sale, error) {
	var resp listSalesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/me/favorites", token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (f SearchFilters) values() url.Values {
	params := url.Values{}
	if f.Query != "" {
		params.Set("q", f.Query)
	}
	if f.Category != "" {
		params.Set("category", f.Category)
	}
	if !f.StartsAfter.IsZero() {
		params.Set("starts_after", f.StartsAfter.UTC().Format(time.RFC3339))
	}
	if !f.EndsBefore.IsZero() {
		params.Set("ends_before", f.EndsBefore.UTC().Format(time.RFC3339))
	}
	if f.PromotedOnly {
		params.Set("promoted", "true")
	}
	if f.Limit > 0 {
		params.Set("limit", strconv.Itoa(f.Limit))
	}
	return params
}

// formatBBox renders minLng,minLat,maxLng,maxLat, the order the viewport
// endpoint expects.
func formatBBox(box geo.BBox) string {
	return strings.Join([]string{
		strconv.FormatFloat(box.MinLng, 'f', -1, 64),
		strconv.FormatFloat(box.MinLat, 'f', -1, 64),
		strconv.FormatFloat(box.MaxLng, 'f', -1, 64),
		strconv.FormatFloat(box.MaxLat, 'f', -1, 64),
	}, ",")
}

func (c *Client) doJSON(ctx context.Context, method, path, token string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
			Code  string `json:"code"`
			Hint  string `json:"hint"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{
			Status:  resp.StatusCode,
			Message: msg,
			Code:    strings.TrimSpace(errResp.Code),
			Hint:    strings.TrimSpace(errResp.Hint),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type listSalesResponse struct {
	Items []domain.Sale `json:"items"`
	Count int           `json:"count"`
}
