package squaresync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	productionBaseURL = "https://connect.squareup.com"
	sandboxBaseURL    = "https://connect.squareupsandbox.com"

	// Rate limiting is expected steady-state behavior under load; it is
	// absorbed here with a small doubling backoff. Everything else is
	// surfaced immediately.
	maxRateLimitRetries = 3
	backoffBase         = time.Second

	searchPageSize = 100
)

type posClient struct {
	baseURL      string
	clientID     string
	clientSecret string
	http         *http.Client
	sleep        func(time.Duration)
}

func newPosClient() (*posClient, error) {
	baseURL := strings.TrimSpace(os.Getenv("SQUARE_API_BASE_URL"))
	if baseURL == "" {
		if strings.EqualFold(strings.TrimSpace(os.Getenv("SQUARE_ENV")), "production") {
			baseURL = productionBaseURL
		} else {
			baseURL = sandboxBaseURL
		}
	}

	clientID := strings.TrimSpace(os.Getenv("SQUARE_CLIENT_ID"))
	clientSecret := strings.TrimSpace(os.Getenv("SQUARE_CLIENT_SECRET"))
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("SQUARE_CLIENT_ID/SQUARE_CLIENT_SECRET not set")
	}

	return &posClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		http:         &http.Client{Timeout: 30 * time.Second},
		sleep:        time.Sleep,
	}, nil
}

// doJSON issues one authenticated request and decodes the response into out.
// HTTP 429 is retried with 1s, 2s, 4s delays; every other failure is raised
// immediately as *APIError.
func (c *posClient) doJSON(ctx context.Context, method string, path string, accessToken string, body interface{}, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= maxRateLimitRetries; attempt++ {
		if attempt > 0 {
			c.sleep(backoffBase << (attempt - 1))
		}

		var reqBody io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return err
			}
			reqBody = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if accessToken != "" {
			req.Header.Set("Authorization", "Bearer "+accessToken)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}

		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out == nil {
				return nil
			}
			return json.Unmarshal(respBody, out)
		}

		apiErr := parseAPIError(resp.StatusCode, respBody)
		if !Retryable(apiErr) {
			return apiErr
		}
		lastErr = apiErr
	}
	return lastErr
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status, RawBody: string(body)}

	var parsed struct {
		Errors []ErrorDetail `json:"errors"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Errors) > 0 {
		apiErr.Errors = parsed.Errors
		apiErr.Code = parsed.Errors[0].Code
		apiErr.Detail = parsed.Errors[0].Detail
	}
	return apiErr
}

// --- OAuth ---

func (c *posClient) exchangeAuthCode(ctx context.Context, code string) (tokenResponse, error) {
	body := map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"grant_type":    "authorization_code",
		"code":          code,
	}
	var resp tokenResponse
	err := c.doJSON(ctx, http.MethodPost, "/oauth2/token", "", body, &resp)
	return resp, err
}

func (c *posClient) refreshToken(ctx context.Context, refreshToken string) (tokenResponse, error) {
	body := map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	}
	var resp tokenResponse
	err := c.doJSON(ctx, http.MethodPost, "/oauth2/token", "", body, &resp)
	return resp, err
}

// authorizeURL builds the provider consent page URL for the OAuth
// authorization-code flow.
func (c *posClient) authorizeURL(state string) string {
	params := url.Values{}
	params.Set("client_id", c.clientID)
	params.Set("scope", "ORDERS_READ MERCHANT_PROFILE_READ")
	params.Set("session", "false")
	params.Set("state", state)
	return c.baseURL + "/oauth2/authorize?" + params.Encode()
}

// --- orders ---

// searchOrders fetches one page of completed orders, filtered on the closed
// timestamp and sorted ascending by it. The cursor is the provider's opaque
// pagination token; issuing the next request only after the previous page
// completes is the documented-safe pattern.
func (c *posClient) searchOrders(ctx context.Context, accessToken string, locationID string, from time.Time, to time.Time, cursor string) (ordersPage, error) {
	body := map[string]interface{}{
		"location_ids":   []string{locationID},
		"limit":          searchPageSize,
		"return_entries": false,
		"query": map[string]interface{}{
			"filter": map[string]interface{}{
				"state_filter": map[string]interface{}{
					"states": []string{"COMPLETED"},
				},
				"date_time_filter": map[string]interface{}{
					"closed_at": map[string]string{
						"start_at": from.UTC().Format(time.RFC3339),
						"end_at":   to.UTC().Format(time.RFC3339),
					},
				},
			},
			"sort": map[string]string{
				"sort_field": "CLOSED_AT",
				"sort_order": "ASC",
			},
		},
	}
	if cursor != "" {
		body["cursor"] = cursor
	}

	var page ordersPage
	err := c.doJSON(ctx, http.MethodPost, "/v2/orders/search", accessToken, body, &page)
	return page, err
}

func (c *posClient) retrieveOrder(ctx context.Context, accessToken string, orderID string) (squareOrder, error) {
	var resp struct {
		Order squareOrder `json:"order"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/v2/orders/"+url.PathEscape(orderID), accessToken, nil, &resp)
	return resp.Order, err
}

func (c *posClient) listLocations(ctx context.Context, accessToken string) ([]squareLocation, error) {
	var resp struct {
		Locations []squareLocation `json:"locations"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/v2/locations", accessToken, nil, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Locations, nil
}
