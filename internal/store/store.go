package store

import (
	"context"
	"time"

	"github.com/alfredjeanlab/chatd/internal/model"
)

// EventStore persists the append-only event log.
type EventStore interface {
	// AppendEvent inserts e and fills in its ID and CreatedAt.
	AppendEvent(ctx context.Context, e *model.Event) error
	GetEvent(ctx context.Context, eventID string) (*model.Event, error)
	GetEventByID(ctx context.Context, id int64) (*model.Event, error)
	// ListEventsAfter returns up to limit events with an internal id greater
	// than afterID, in id order.
	ListEventsAfter(ctx context.Context, afterID int64, limit int) ([]*model.Event, error)
}

// UpdateStore persists per-recipient Updates.
type UpdateStore interface {
	// CreateUpdate inserts u and fills in its ID and CreatedAt. It reports
	// false without error when an Update with the same (tenant, user, event,
	// event type) already exists.
	CreateUpdate(ctx context.Context, u *model.Update) (bool, error)
	UpdateExists(ctx context.Context, tenantID, userID, eventID string, eventType model.EventType) (bool, error)
	MarkUpdatePublished(ctx context.Context, id int64, at time.Time) error
	ListUpdates(ctx context.Context, filter model.UpdateFilter) ([]*model.Update, int, error) // returns updates, total count, error
}

// CounterStore persists the denormalized counters and their history ledger.
type CounterStore interface {
	// IncrementCounter atomically adds delta to the counter cell, creating it
	// when absent, and returns the resulting value.
	IncrementCounter(ctx context.Context, key model.CounterKey, delta int64) (int64, error)
	// SetCounter overwrites the counter cell with an absolute value.
	SetCounter(ctx context.Context, key model.CounterKey, value int64) error
	GetUserStats(ctx context.Context, tenantID, userID string) (*model.UserStats, error)
	ListUserDialogStats(ctx context.Context, tenantID, userID string) ([]model.UserDialogStats, error)
	RecordCounterHistory(ctx context.Context, h *model.CounterHistory) error
	ListCounterHistory(ctx context.Context, tenantID, entityID string, limit int) ([]*model.CounterHistory, error)
}

// Directory is the read-only view of the primary chat tables.
type Directory interface {
	ListDialogMembers(ctx context.Context, tenantID, dialogID string) ([]model.Member, error)
	GetMessage(ctx context.Context, tenantID, messageID string) (*model.Message, error)
	ListMessageStatuses(ctx context.Context, tenantID, messageID string) ([]model.MessageStatus, error)
	// GetUserProfiles returns the profiles (including meta) of the given
	// users keyed by user id. Unknown users are absent from the map.
	GetUserProfiles(ctx context.Context, tenantID string, userIDs []string) (map[string]*model.UserProfile, error)

	// Full rescans used only by counter reconciliation.
	CountUserDialogs(ctx context.Context, tenantID, userID string) (int64, error)
	CountUserMessages(ctx context.Context, tenantID, userID string) (int64, error)
	CountUnreadByDialog(ctx context.Context, tenantID, userID string) (map[string]int64, error)
}

// Store is the full persistence interface of the service.
type Store interface {
	EventStore
	UpdateStore
	CounterStore
	Directory

	// Lifecycle
	Close() error
}
