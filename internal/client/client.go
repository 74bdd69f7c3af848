// Package client provides a transport-agnostic interface for the chatd
// service and an HTTP/JSON implementation that talks to its REST API.
package client

import (
	"context"
	"encoding/json"

	"github.com/alfredjeanlab/chatd/internal/counter"
	"github.com/alfredjeanlab/chatd/internal/model"
	"github.com/alfredjeanlab/chatd/internal/presence"
)

// ChatClient is the interface the chatd CLI commands use to talk to a
// running server.
type ChatClient interface {
	// Events
	AppendEvent(ctx context.Context, req *AppendEventRequest) (*AppendEventResponse, error)
	GetEvent(ctx context.Context, ref string) (*model.Event, error)

	// Updates
	ListUpdates(ctx context.Context, req *ListUpdatesRequest) (*ListUpdatesResponse, error)

	// Counters
	GetUserStats(ctx context.Context, tenantID, userID string) (*model.UserStats, error)
	Reconcile(ctx context.Context, tenantID, userID string) (*counter.ReconcileReport, error)

	// Dialogs
	Typing(ctx context.Context, tenantID, dialogID string) ([]presence.Entry, error)

	// Broker
	ReconnectBroker(ctx context.Context) (string, error)

	// Health
	Health(ctx context.Context) (*HealthResponse, error)

	// Lifecycle
	Close() error
}

// AppendEventRequest is the body of POST /v1/events.
type AppendEventRequest struct {
	TenantID   string          `json:"tenant_id"`
	EventType  string          `json:"event_type"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	ActorID    string          `json:"actor_id,omitempty"`
	ActorType  string          `json:"actor_type,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// AppendEventResponse reports the stored event and its fan-out.
type AppendEventResponse struct {
	Event    *model.Event `json:"event"`
	Updates  int          `json:"updates"`
	Warnings []string     `json:"warnings,omitempty"`
}

// ListUpdatesRequest filters GET /v1/updates.
type ListUpdatesRequest struct {
	TenantID  string
	UserID    string
	DialogID  string
	EventType []string
	Published *bool
	Limit     int
	Offset    int
}

// ListUpdatesResponse is a page of updates.
type ListUpdatesResponse struct {
	Updates []*model.Update `json:"updates"`
	Total   int             `json:"total"`
}

// HealthResponse is the body of GET /v1/health.
type HealthResponse struct {
	Status string `json:"status"`
	Broker string `json:"broker,omitempty"`
}
