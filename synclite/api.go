package synclite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIClient issues resource CRUD calls against the remote API:
//
//	{base}/resources/{businessId}-{locationId}[/{id}]
//
// with the resource type carried in the X-Resource-Type header. Token is
// optional; when set, its result is forwarded as a bearer token.
type APIClient struct {
	BaseURL    string
	BusinessID string
	LocationID string
	Token      func(ctx context.Context) (string, error)
	HTTP       *http.Client

	logger *slog.Logger
}

// NewAPIClient creates an API client with a 30 second request timeout.
func NewAPIClient(baseURL, businessID, locationID string) *APIClient {
	return &APIClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		BusinessID: businessID,
		LocationID: locationID,
		HTTP:       &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
}

// SetLogger overrides the default logger.
func (c *APIClient) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

type apiResponse struct {
	StatusCode int
	Body       []byte
}

// accepted reports whether the server acknowledged the write without a
// concrete result (HTTP 202).
func (r *apiResponse) accepted() bool {
	return r.StatusCode == http.StatusAccepted
}

func (c *APIClient) endpoint(id string, params url.Values) string {
	u := fmt.Sprintf("%s/resources/%s-%s", c.BaseURL, c.BusinessID, c.LocationID)
	if id != "" {
		u += "/" + url.PathEscape(id)
	}
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// Do performs one resource request. Mutation bodies are wrapped as
// {"data": ...} unless already wrapped; DELETE carries no body. Non-2xx
// statuses are returned as errors.
func (c *APIClient) Do(ctx context.Context, method, resourceType, id string, params url.Values, body any) (*apiResponse, error) {
	var reader io.Reader
	if body != nil && method != http.MethodDelete {
		jsonData, err := json.Marshal(wrapRequestBody(body))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.endpoint(id, params), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Resource-Type", resourceType)

	if c.Token != nil {
		token, err := c.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get auth token: %w", err)
		}
		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(respBody))
	}

	return &apiResponse{StatusCode: resp.StatusCode, Body: respBody}, nil
}
