package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alfredjeanlab/chatd/internal/broker"
	"github.com/alfredjeanlab/chatd/internal/counter"
	"github.com/alfredjeanlab/chatd/internal/eventlog"
	"github.com/alfredjeanlab/chatd/internal/model"
	"github.com/alfredjeanlab/chatd/internal/store"
)

// Store is what the fan-out service persists to and reads from.
type Store interface {
	store.UpdateStore
	StatsReader
}

// EventResolver resolves an external or internal event reference.
type EventResolver interface {
	Get(ctx context.Context, ref string) (*model.Event, error)
}

// Service persists the Updates of an event and publishes them.
type Service struct {
	builder *Builder
	store   Store
	events  EventResolver
	pub     broker.Publisher
	bg      *broker.Background
	log     *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// NewService wires a Service. events may be nil when only stored events are
// handed in directly.
func NewService(builder *Builder, st Store, events EventResolver, pub broker.Publisher, bg *broker.Background, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = &broker.NoopPublisher{}
	}
	if bg == nil {
		bg = &broker.Background{}
	}
	return &Service{
		builder: builder,
		store:   st,
		events:  events,
		pub:     pub,
		bg:      bg,
		log:     logger.With("component", "fanout"),
		tracer:  otel.Tracer("github.com/alfredjeanlab/chatd/internal/fanout"),
		now:     time.Now,
	}
}

// HandleEventRef resolves ref and fans the event out. An unresolvable
// reference produces no Updates and no error.
func (s *Service) HandleEventRef(ctx context.Context, ref string) ([]*model.Update, error) {
	if s.events == nil {
		return nil, errors.New("fanout: no event resolver configured")
	}
	e, err := s.events.Get(ctx, ref)
	if errors.Is(err, eventlog.ErrEventNotFound) {
		s.log.Warn("event not found, nothing to fan out", "event_ref", ref)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.HandleEvent(ctx, e)
}

// HandleEvent builds, stores and schedules publication of the Updates of e.
// It returns the Updates created by this call; rows that already existed are
// skipped. A missing mandatory section aborts the whole fan-out.
func (s *Service) HandleEvent(ctx context.Context, e *model.Event) ([]*model.Update, error) {
	ctx, span := s.tracer.Start(ctx, "fanout.event", trace.WithAttributes(
		attribute.String("chat.tenant_id", e.TenantID),
		attribute.String("chat.event_id", e.EventID),
		attribute.String("chat.event_type", e.EventType.String()),
	))
	defer span.End()

	updates, err := s.builder.Build(ctx, e)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Error("building updates", "tenant_id", e.TenantID, "event_id", e.EventID,
			"event_type", e.EventType, "error", err)
		return nil, err
	}
	if len(updates) == 0 {
		s.log.Info("no recipients", "tenant_id", e.TenantID, "event_id", e.EventID, "event_type", e.EventType)
		return nil, nil
	}

	created := make([]*model.Update, 0, len(updates))
	var storeErr error
	for _, u := range updates {
		ok, err := s.store.CreateUpdate(ctx, u)
		if err != nil {
			span.RecordError(err)
			storeErr = fmt.Errorf("storing update for %s: %w", u.UserID, err)
			break
		}
		if !ok {
			s.log.Debug("update exists, skipping", "key", u.Key())
			continue
		}
		created = append(created, u)
	}
	span.SetAttributes(attribute.Int("chat.updates", len(created)))

	// Rows already stored are published even when a later write failed; a
	// re-run skips them as duplicates and would never publish them.
	for _, u := range created {
		s.publish(ctx, u)
	}
	return created, storeErr
}

// HandleStatsBatch emits the stats Update of a finalized counter batch. It
// is a counter.Finalizer. A batch whose stats Update already exists is
// skipped.
func (s *Service) HandleStatsBatch(ctx context.Context, b counter.Batch) error {
	k := b.Key
	exists, err := s.store.UpdateExists(ctx, k.TenantID, k.UserID, k.EventID, model.EventUserStatsUpdate)
	if err != nil {
		return fmt.Errorf("checking stats update: %w", err)
	}
	if exists {
		s.log.Debug("stats update exists, skipping", "tenant_id", k.TenantID, "user_id", k.UserID, "event_id", k.EventID)
		return nil
	}

	u, err := s.builder.BuildStats(ctx, s.store, b)
	if err != nil {
		return err
	}
	ok, err := s.store.CreateUpdate(ctx, u)
	if err != nil {
		return fmt.Errorf("storing stats update: %w", err)
	}
	if ok {
		s.publish(ctx, u)
	}
	return nil
}

// publish sends u in the background and marks it published on success. A
// broker failure leaves the row unpublished.
func (s *Service) publish(ctx context.Context, u *model.Update) {
	s.bg.Go(ctx, "publish update", func(ctx context.Context) {
		if err := s.pub.PublishUpdate(ctx, u); err != nil {
			if errors.Is(err, broker.ErrDisabled) {
				s.log.Debug("broker disabled, update left unpublished", "key", u.Key())
				return
			}
			s.log.Warn("publishing update", "key", u.Key(), "error", err)
			return
		}
		if err := s.store.MarkUpdatePublished(ctx, u.ID, s.now()); err != nil {
			s.log.Warn("marking update published", "update_id", u.ID, "error", err)
		}
	})
}

// Wait blocks until every scheduled publish has finished.
func (s *Service) Wait() {
	s.bg.Wait()
}
