// Package counter maintains the denormalized chat counters. Every mutation is
// one atomic increment-or-create in the store; negative results are clamped
// back to zero and every realized change is written to the history ledger.
package counter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alfredjeanlab/chatd/internal/model"
	"github.com/alfredjeanlab/chatd/internal/store"
)

// Source attributes a mutation to the operation that caused it.
type Source struct {
	Operation string // e.g. "message.create"
	EntityID  string
	ActorID   string
	ActorType string
	// EventID groups user-scoped mutations into one batching context. Empty
	// means the mutation is not batched.
	EventID string
}

// SourceFromEvent attributes mutations to a stored event.
func SourceFromEvent(e *model.Event) Source {
	return Source{
		Operation: string(e.EventType),
		EntityID:  e.EntityID,
		ActorID:   e.ActorID,
		ActorType: e.ActorType,
		EventID:   e.EventID,
	}
}

// Mutation is one requested counter change.
type Mutation struct {
	Key   model.CounterKey
	Delta int64
	// UserType of the counter's owner; routes the stats update of a batch.
	UserType string
}

// Result describes what a mutation actually did.
type Result struct {
	Old       int64
	New       int64
	Operation string
}

// Realized is the change that reached the stored value.
func (r Result) Realized() int64 { return r.New - r.Old }

// Engine applies counter mutations.
type Engine struct {
	store   store.CounterStore
	dir     store.Directory
	batches *Registry
	log     *slog.Logger
}

// NewEngine returns an Engine. dir is read only by Reconcile and the event
// policy. batches may be nil to disable batching.
func NewEngine(st store.CounterStore, dir store.Directory, batches *Registry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: st, dir: dir, batches: batches, log: logger.With("component", "counter")}
}

// Apply performs one atomic mutation. The old value is derived from the
// store's result (new - delta), never read separately. A negative result is
// corrected to zero and recorded as a clamp.
func (e *Engine) Apply(ctx context.Context, m Mutation, src Source) (Result, error) {
	return e.apply(ctx, m, src, OpFor(m.Delta))
}

func (e *Engine) apply(ctx context.Context, m Mutation, src Source, op string) (Result, error) {
	if m.Delta == 0 {
		return Result{}, nil
	}
	raw, err := e.store.IncrementCounter(ctx, m.Key, m.Delta)
	if err != nil {
		return Result{}, fmt.Errorf("apply %s.%s: %w", m.Key.Kind, m.Key.Field, err)
	}

	res := Result{Old: max(raw-m.Delta, 0), New: raw, Operation: op}
	if raw < 0 {
		if err := e.store.SetCounter(ctx, m.Key, 0); err != nil {
			return Result{}, fmt.Errorf("clamp %s.%s: %w", m.Key.Kind, m.Key.Field, err)
		}
		res.New = 0
		res.Operation = model.OpClamp
		e.log.Info("counter clamped", "tenant_id", m.Key.TenantID, "kind", m.Key.Kind,
			"entity_id", m.Key.EntityID(), "field", m.Key.Field, "raw", raw)
	}

	if res.Realized() != 0 {
		e.record(ctx, m.Key, res, src)
		e.register(m, src)
	}
	return res, nil
}

// OpFor names the history operation of a plain increment.
func OpFor(delta int64) string {
	if delta < 0 {
		return model.OpDecrement
	}
	return model.OpIncrement
}

// record writes one history row. Failures are logged and swallowed.
func (e *Engine) record(ctx context.Context, k model.CounterKey, res Result, src Source) {
	h := &model.CounterHistory{
		TenantID:        k.TenantID,
		CounterType:     string(k.Kind),
		EntityType:      k.Kind.EntityType(),
		EntityID:        k.EntityID(),
		Field:           historyField(k),
		OldValue:        res.Old,
		NewValue:        res.New,
		Delta:           res.Realized(),
		Operation:       res.Operation,
		SourceOperation: src.Operation,
		SourceEntityID:  src.EntityID,
		ActorID:         src.ActorID,
		ActorType:       src.ActorType,
	}
	if err := e.store.RecordCounterHistory(ctx, h); err != nil {
		e.log.Warn("writing counter history", "tenant_id", k.TenantID, "entity_id", h.EntityID,
			"field", h.Field, "error", err)
	}
}

// historyField qualifies per-user and per-name cells so the ledger row
// identifies the exact cell ("u1:unread_count", "like:count").
func historyField(k model.CounterKey) string {
	switch k.Kind {
	case model.CounterUserDialog:
		return k.UserID + ":" + k.Field
	case model.CounterReaction, model.CounterStatus:
		return k.Name + ":" + k.Field
	}
	return k.Field
}

// register marks a user-scoped field dirty in the source's batch.
func (e *Engine) register(m Mutation, src Source) {
	if e.batches == nil || src.EventID == "" || m.Key.UserID == "" {
		return
	}
	switch m.Key.Kind {
	case model.CounterUser, model.CounterUserDialog:
	default:
		return
	}
	e.batches.Register(BatchKey{TenantID: m.Key.TenantID, UserID: m.Key.UserID, EventID: src.EventID}, m.UserType, m.Key.Field)
}

// IncrementUnread changes a user's unread count in one dialog and keeps the
// user's aggregates in step: unread_dialogs_count moves by one when the
// dialog count crosses zero, total_unread_count by the realized delta.
func (e *Engine) IncrementUnread(ctx context.Context, tenantID, userID, userType, dialogID string, delta int64, src Source) (Result, error) {
	res, err := e.Apply(ctx, Mutation{
		Key: model.CounterKey{
			Kind: model.CounterUserDialog, TenantID: tenantID, UserID: userID,
			DialogID: dialogID, Field: model.FieldUnreadCount,
		},
		Delta:    delta,
		UserType: userType,
	}, src)
	if err != nil {
		return res, err
	}

	var crossing int64
	switch {
	case res.Old == 0 && res.New > 0:
		crossing = 1
	case res.Old > 0 && res.New == 0:
		crossing = -1
	}
	if crossing != 0 {
		if _, err := e.applyUser(ctx, tenantID, userID, userType, model.FieldUnreadDialogsCount, crossing, src); err != nil {
			return res, err
		}
	}
	if d := res.Realized(); d != 0 {
		if _, err := e.applyUser(ctx, tenantID, userID, userType, model.FieldTotalUnreadCount, d, src); err != nil {
			return res, err
		}
	}
	return res, nil
}

// IncrementDialogs changes the number of dialogs a user belongs to.
func (e *Engine) IncrementDialogs(ctx context.Context, tenantID, userID, userType string, delta int64, src Source) (Result, error) {
	return e.applyUser(ctx, tenantID, userID, userType, model.FieldDialogsCount, delta, src)
}

// IncrementMessages changes the number of messages a user has sent.
func (e *Engine) IncrementMessages(ctx context.Context, tenantID, userID, userType string, delta int64, src Source) (Result, error) {
	return e.applyUser(ctx, tenantID, userID, userType, model.FieldMessagesCount, delta, src)
}

// IncrementReaction changes the tally of one reaction on a message.
func (e *Engine) IncrementReaction(ctx context.Context, tenantID, messageID, reaction string, delta int64, src Source) (Result, error) {
	return e.Apply(ctx, Mutation{
		Key: model.CounterKey{
			Kind: model.CounterReaction, TenantID: tenantID, MessageID: messageID,
			Name: reaction, Field: model.FieldCount,
		},
		Delta: delta,
	}, src)
}

// IncrementStatus changes the tally of one delivery status on a message.
func (e *Engine) IncrementStatus(ctx context.Context, tenantID, messageID, status string, delta int64, src Source) (Result, error) {
	return e.Apply(ctx, Mutation{
		Key: model.CounterKey{
			Kind: model.CounterStatus, TenantID: tenantID, MessageID: messageID,
			Name: status, Field: model.FieldCount,
		},
		Delta: delta,
	}, src)
}

func (e *Engine) applyUser(ctx context.Context, tenantID, userID, userType, field string, delta int64, src Source) (Result, error) {
	return e.Apply(ctx, Mutation{
		Key:      model.CounterKey{Kind: model.CounterUser, TenantID: tenantID, UserID: userID, Field: field},
		Delta:    delta,
		UserType: userType,
	}, src)
}
