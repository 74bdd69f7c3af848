package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

// testHandler captures the incoming request details and returns a canned response.
type testHandler struct {
	// captured from the request
	method      string
	path        string
	rawPath     string
	query       url.Values
	body        string
	contentType string
	auth        string

	// canned response
	statusCode   int
	responseBody string
}

func (h *testHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.method = r.Method
	h.path = r.URL.Path
	h.rawPath = r.URL.RawPath
	h.query = r.URL.Query()
	h.contentType = r.Header.Get("Content-Type")
	h.auth = r.Header.Get("Authorization")
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		h.body = string(data)
	}

	w.Header().Set("Content-Type", "application/json")
	if h.statusCode != 0 {
		w.WriteHeader(h.statusCode)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if h.responseBody != "" {
		_, _ = w.Write([]byte(h.responseBody))
	}
}

// newTestClient creates an HTTPClient pointed at a test server with the given handler.
func newTestClient(t *testing.T, h http.Handler, token string) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL+"/", token)
}

func TestAppendEvent(t *testing.T) {
	h := &testHandler{
		statusCode:   http.StatusCreated,
		responseBody: `{"event":{"id":1,"event_id":"evt-abc","tenant_id":"t1"},"updates":3}`,
	}
	c := newTestClient(t, h, "secret")

	resp, err := c.AppendEvent(context.Background(), &AppendEventRequest{
		TenantID: "t1", EventType: "message.create", EntityType: "message", EntityID: "m1",
		Data: json.RawMessage(`{"message":{"id":"m1"}}`),
	})
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if h.method != http.MethodPost || h.path != "/v1/events" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if h.contentType != "application/json" || h.auth != "Bearer secret" {
		t.Errorf("headers: content-type %q, auth %q", h.contentType, h.auth)
	}
	var sent map[string]any
	if err := json.Unmarshal([]byte(h.body), &sent); err != nil || sent["entity_id"] != "m1" {
		t.Errorf("body = %s", h.body)
	}
	if resp.Event.EventID != "evt-abc" || resp.Updates != 3 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestGetEventEscapesRef(t *testing.T) {
	h := &testHandler{responseBody: `{"event_id":"evt/odd"}`}
	c := newTestClient(t, h, "")

	if _, err := c.GetEvent(context.Background(), "evt/odd"); err != nil {
		t.Fatal(err)
	}
	if h.rawPath != "/v1/events/evt%2Fodd" {
		t.Errorf("raw path = %q", h.rawPath)
	}
	if h.auth != "" {
		t.Errorf("unexpected auth header %q", h.auth)
	}
}

func TestListUpdatesQuery(t *testing.T) {
	h := &testHandler{responseBody: `{"updates":[{"id":1,"user_id":"u1"}],"total":7}`}
	c := newTestClient(t, h, "")
	published := false

	resp, err := c.ListUpdates(context.Background(), &ListUpdatesRequest{
		TenantID:  "t1",
		UserID:    "u1",
		EventType: []string{"message.create", "dialog.typing"},
		Published: &published,
		Limit:     10,
	})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"tenant_id":  "t1",
		"user_id":    "u1",
		"event_type": "message.create,dialog.typing",
		"published":  "false",
		"limit":      "10",
	}
	for k, v := range want {
		if got := h.query.Get(k); got != v {
			t.Errorf("query %s = %q, want %q", k, got, v)
		}
	}
	if h.query.Has("offset") || h.query.Has("dialog_id") {
		t.Errorf("unexpected query %v", h.query)
	}
	if resp.Total != 7 || len(resp.Updates) != 1 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestUserEndpoints(t *testing.T) {
	h := &testHandler{responseBody: `{"tenant_id":"t1","user_id":"u 1","total_unread_count":4}`}
	c := newTestClient(t, h, "")

	st, err := c.GetUserStats(context.Background(), "t1", "u 1")
	if err != nil {
		t.Fatal(err)
	}
	if h.path != "/v1/users/t1/u 1/stats" || st.TotalUnreadCount != 4 {
		t.Errorf("path %q stats %+v", h.path, st)
	}

	h.responseBody = `{"tenant_id":"t1","user_id":"u1","corrections":[{"field":"dialogs_count","old":0,"new":2}]}`
	report, err := c.Reconcile(context.Background(), "t1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if h.method != http.MethodPost || h.path != "/v1/users/t1/u1/reconcile" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if len(report.Corrections) != 1 || report.Corrections[0].New != 2 {
		t.Errorf("report = %+v", report)
	}
}

func TestTyping(t *testing.T) {
	h := &testHandler{responseBody: `{"typing":[{"user_id":"a","event_count":2}]}`}
	c := newTestClient(t, h, "")

	entries, err := c.Typing(context.Background(), "t1", "d1")
	if err != nil {
		t.Fatal(err)
	}
	if h.method != http.MethodGet || h.path != "/v1/dialogs/t1/d1/typing" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if len(entries) != 1 || entries[0].UserID != "a" || entries[0].EventCount != 2 {
		t.Errorf("entries = %+v", entries)
	}
}

func TestHealthAndReconnect(t *testing.T) {
	h := &testHandler{responseBody: `{"status":"ok","broker":"disabled"}`}
	c := newTestClient(t, h, "")

	health, err := c.Health(context.Background())
	if err != nil || health.Status != "ok" || health.Broker != "disabled" {
		t.Fatalf("Health = %+v, %v", health, err)
	}

	h.responseBody = `{"broker":"connected"}`
	state, err := c.ReconnectBroker(context.Background())
	if err != nil || state != "connected" {
		t.Fatalf("ReconnectBroker = %q, %v", state, err)
	}
}

func TestAPIError(t *testing.T) {
	for _, tc := range []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"json error", http.StatusBadRequest, `{"error":"tenant_id is required"}`, "tenant_id is required"},
		{"plain body", http.StatusBadGateway, `upstream down`, "upstream down"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, &testHandler{statusCode: tc.status, responseBody: tc.body}, "")
			_, err := c.Health(context.Background())
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v, want *APIError", err)
			}
			if apiErr.StatusCode != tc.status || apiErr.Message != tc.message {
				t.Errorf("APIError = %+v", apiErr)
			}
		})
	}
}
