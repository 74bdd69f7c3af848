package client

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

	"github.com/alfredjeanlab/chatd/internal/counter"
	"github.com/alfredjeanlab/chatd/internal/model"
	"github.com/alfredjeanlab/chatd/internal/presence"
)

// HTTPClient implements ChatClient using the chatd HTTP/JSON REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ ChatClient = (*HTTPClient)(nil)

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Events ---

func (c *HTTPClient) AppendEvent(ctx context.Context, req *AppendEventRequest) (*AppendEventResponse, error) {
	var resp AppendEventResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/events", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) GetEvent(ctx context.Context, ref string) (*model.Event, error) {
	var e model.Event
	if err := c.doJSON(ctx, http.MethodGet, "/v1/events/"+url.PathEscape(ref), nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// --- Updates ---

func (c *HTTPClient) ListUpdates(ctx context.Context, req *ListUpdatesRequest) (*ListUpdatesResponse, error) {
	q := url.Values{}
	q.Set("tenant_id", req.TenantID)
	if req.UserID != "" {
		q.Set("user_id", req.UserID)
	}
	if req.DialogID != "" {
		q.Set("dialog_id", req.DialogID)
	}
	if len(req.EventType) > 0 {
		q.Set("event_type", strings.Join(req.EventType, ","))
	}
	if req.Published != nil {
		q.Set("published", strconv.FormatBool(*req.Published))
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	if req.Offset > 0 {
		q.Set("offset", strconv.Itoa(req.Offset))
	}

	var resp ListUpdatesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/updates?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Counters ---

func (c *HTTPClient) GetUserStats(ctx context.Context, tenantID, userID string) (*model.UserStats, error) {
	var st model.UserStats
	if err := c.doJSON(ctx, http.MethodGet, userPath(tenantID, userID)+"/stats", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *HTTPClient) Reconcile(ctx context.Context, tenantID, userID string) (*counter.ReconcileReport, error) {
	var report counter.ReconcileReport
	if err := c.doJSON(ctx, http.MethodPost, userPath(tenantID, userID)+"/reconcile", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func userPath(tenantID, userID string) string {
	return "/v1/users/" + url.PathEscape(tenantID) + "/" + url.PathEscape(userID)
}

// --- Dialogs ---

func (c *HTTPClient) Typing(ctx context.Context, tenantID, dialogID string) ([]presence.Entry, error) {
	var resp struct {
		Typing []presence.Entry `json:"typing"`
	}
	path := "/v1/dialogs/" + url.PathEscape(tenantID) + "/" + url.PathEscape(dialogID) + "/typing"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Typing, nil
}

// --- Broker ---

func (c *HTTPClient) ReconnectBroker(ctx context.Context) (string, error) {
	var resp struct {
		Broker string `json:"broker"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/broker/reconnect", nil, &resp); err != nil {
		return "", err
	}
	return resp.Broker, nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
