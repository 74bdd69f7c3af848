// Package eventlog is the append-only source of truth for domain events.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/alfredjeanlab/chatd/internal/broker"
	"github.com/alfredjeanlab/chatd/internal/idgen"
	"github.com/alfredjeanlab/chatd/internal/model"
	"github.com/alfredjeanlab/chatd/internal/store"
)

// ErrEventNotFound is returned when a reference matches no stored event.
var ErrEventNotFound = errors.New("event not found")

// AppendInput carries the caller-supplied fields of a new event. Data must
// be a complete snapshot of the affected entities.
type AppendInput struct {
	TenantID   string          `json:"tenant_id"`
	EventType  model.EventType `json:"event_type"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	ActorID    string          `json:"actor_id,omitempty"`
	ActorType  string          `json:"actor_type,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

func (in AppendInput) event() *model.Event {
	return &model.Event{
		TenantID:   in.TenantID,
		EventType:  in.EventType,
		EntityType: in.EntityType,
		EntityID:   in.EntityID,
		ActorID:    in.ActorID,
		ActorType:  in.ActorType,
		Data:       in.Data,
		Metadata:   in.Metadata,
	}
}

// Validate checks the input without storing anything.
func (in AppendInput) Validate() error {
	return model.ValidateEvent(in.event())
}

// Log appends events and publishes them on the events exchange.
type Log struct {
	store store.EventStore
	pub   broker.Publisher
	bg    *broker.Background
	log   *slog.Logger
}

// New returns a Log. pub may be a broker.NoopPublisher.
func New(st store.EventStore, pub broker.Publisher, bg *broker.Background, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{store: st, pub: pub, bg: bg, log: logger.With("component", "eventlog")}
}

// Append stores a new event and schedules its publish. It never fails the
// caller: on invalid input or store failure it logs and returns nil.
func (l *Log) Append(ctx context.Context, in AppendInput) *model.Event {
	e := in.event()
	if err := model.ValidateEvent(e); err != nil {
		l.log.Error("rejecting event", "tenant_id", in.TenantID, "event_type", in.EventType, "error", err)
		return nil
	}

	id, err := idgen.Generate()
	if err != nil {
		l.log.Error("generating event id", "error", err)
		return nil
	}
	e.EventID = id

	if err := l.store.AppendEvent(ctx, e); err != nil {
		l.log.Error("appending event", "tenant_id", e.TenantID, "event_type", e.EventType, "error", err)
		return nil
	}

	published := *e
	l.bg.Go(ctx, "publish-event", func(ctx context.Context) {
		err := l.pub.PublishEvent(ctx, &published)
		switch {
		case errors.Is(err, broker.ErrDisabled):
			l.log.Debug("broker disabled, event not published", "event_id", published.EventID)
		case err != nil:
			l.log.Warn("publishing event", "event_id", published.EventID, "error", err)
		}
	})
	return e
}

// ResolveExternalID normalizes a reference to the external event id. The
// reference may be the external id itself or the internal numeric id.
func (l *Log) ResolveExternalID(ctx context.Context, ref string) (string, error) {
	e, err := l.Get(ctx, ref)
	if err != nil {
		return "", err
	}
	return e.EventID, nil
}

// Get loads an event by external id or internal numeric id.
func (l *Log) Get(ctx context.Context, ref string) (*model.Event, error) {
	if ref == "" {
		return nil, ErrEventNotFound
	}
	e, err := l.store.GetEvent(ctx, ref)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get event %s: %w", ref, err)
	}

	id, perr := strconv.ParseInt(ref, 10, 64)
	if perr != nil || id <= 0 {
		return nil, ErrEventNotFound
	}
	e, err = l.store.GetEventByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event %d: %w", id, err)
	}
	return e, nil
}

// ListAfter returns up to limit events appended after the given internal id.
func (l *Log) ListAfter(ctx context.Context, afterID int64, limit int) ([]*model.Event, error) {
	return l.store.ListEventsAfter(ctx, afterID, limit)
}
