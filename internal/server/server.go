// Package server exposes the chat core over HTTP and a gRPC health service.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/alfredjeanlab/chatd/internal/counter"
	"github.com/alfredjeanlab/chatd/internal/eventlog"
	"github.com/alfredjeanlab/chatd/internal/fanout"
	"github.com/alfredjeanlab/chatd/internal/model"
	"github.com/alfredjeanlab/chatd/internal/presence"
	"github.com/alfredjeanlab/chatd/internal/store"
)

// BrokerControl is the part of the broker client the server drives.
type BrokerControl interface {
	Connected() bool
	Disabled() bool
	Reconnect(ctx context.Context) error
}

// Deps are the components a Server routes to.
type Deps struct {
	Store    store.Store
	Events   *eventlog.Log
	Counters *counter.Engine
	Policy   *counter.Policy
	Fanout   *fanout.Service
	Broker   BrokerControl     // optional
	Stream   *Hub              // optional
	Presence *presence.Tracker // optional
	Logger   *slog.Logger
}

// Server handles inbound events and read queries.
type Server struct {
	store    store.Store
	events   *eventlog.Log
	counters *counter.Engine
	policy   *counter.Policy
	fanout   *fanout.Service
	broker   BrokerControl
	hub      *Hub
	presence *presence.Tracker
	log      *slog.Logger
}

// New returns a Server wired to d.
func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Server{
		store:    d.Store,
		events:   d.Events,
		counters: d.Counters,
		policy:   d.Policy,
		fanout:   d.Fanout,
		broker:   d.Broker,
		hub:      d.Stream,
		presence: d.Presence,
		log:      d.Logger.With("component", "server"),
	}
}

// inputError indicates invalid user input.
// Transport layers map this to 400.
type inputError string

func (e inputError) Error() string { return string(e) }

// errStoreUnavailable is returned when the event could not be stored.
var errStoreUnavailable = errors.New("failed to store event")

// IngestResult is the outcome of ingesting one event.
type IngestResult struct {
	Event   *model.Event `json:"event"`
	Updates int          `json:"updates"`
	// Warnings lists non-fatal failures after the event was stored.
	Warnings []string `json:"warnings,omitempty"`
}

// Ingest stores an event, applies its counter mutations and fans it out.
// Once the event is stored the call succeeds; counter and fan-out failures
// are logged and reported as warnings.
func (s *Server) Ingest(ctx context.Context, in eventlog.AppendInput) (*IngestResult, error) {
	if err := in.Validate(); err != nil {
		return nil, inputError(err.Error())
	}
	e := s.events.Append(ctx, in)
	if e == nil {
		return nil, errStoreUnavailable
	}

	res := &IngestResult{Event: e}
	if s.presence != nil {
		s.presence.Observe(e)
	}
	if s.policy != nil {
		if err := s.policy.ApplyEvent(ctx, e); err != nil {
			s.log.Warn("applying counters", "tenant_id", e.TenantID, "event_id", e.EventID, "error", err)
			res.Warnings = append(res.Warnings, "counters: "+err.Error())
		}
	}
	if s.fanout != nil {
		updates, err := s.fanout.HandleEvent(ctx, e)
		if err != nil {
			res.Warnings = append(res.Warnings, "fanout: "+err.Error())
		}
		res.Updates = len(updates)
	}
	return res, nil
}

// userStats returns the aggregates and per-dialog counters of one user. A
// user without counters has all-zero stats.
func (s *Server) userStats(ctx context.Context, tenantID, userID string) (*model.UserStats, error) {
	st, err := s.store.GetUserStats(ctx, tenantID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		st = &model.UserStats{TenantID: tenantID, UserID: userID}
	} else if err != nil {
		return nil, err
	}
	dialogs, err := s.store.ListUserDialogStats(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	if dialogs == nil {
		dialogs = []model.UserDialogStats{}
	}
	st.Dialogs = dialogs
	return st, nil
}

// appendRequest is the JSON body of POST /v1/events.
type appendRequest struct {
	TenantID   string          `json:"tenant_id"`
	EventType  string          `json:"event_type"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	ActorID    string          `json:"actor_id"`
	ActorType  string          `json:"actor_type"`
	Data       json.RawMessage `json:"data"`
	Metadata   json.RawMessage `json:"metadata"`
}

func (r appendRequest) input() eventlog.AppendInput {
	return eventlog.AppendInput{
		TenantID:   r.TenantID,
		EventType:  model.EventType(r.EventType),
		EntityType: r.EntityType,
		EntityID:   r.EntityID,
		ActorID:    r.ActorID,
		ActorType:  r.ActorType,
		Data:       r.Data,
		Metadata:   r.Metadata,
	}
}
