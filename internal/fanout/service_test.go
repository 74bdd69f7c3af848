package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alfredjeanlab/chatd/internal/broker"
	"github.com/alfredjeanlab/chatd/internal/counter"
	"github.com/alfredjeanlab/chatd/internal/eventlog"
	"github.com/alfredjeanlab/chatd/internal/model"
	"github.com/alfredjeanlab/chatd/internal/store/memstore"
)

// switchPublisher fails publishes while down is set.
type switchPublisher struct {
	broker.NoopPublisher
	mu      sync.Mutex
	down    bool
	updates []string
}

func (p *switchPublisher) PublishUpdate(_ context.Context, u *model.Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.down {
		return broker.ErrNotConnected
	}
	p.updates = append(p.updates, u.Key())
	return nil
}

func (p *switchPublisher) setDown(down bool) {
	p.mu.Lock()
	p.down = down
	p.mu.Unlock()
}

func (p *switchPublisher) published() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.updates)
}

type fixture struct {
	st  *memstore.Store
	log *eventlog.Log
	svc *Service
	pub *switchPublisher
}

func newFixture(t *testing.T, members ...string) *fixture {
	t.Helper()
	st := newTestStore(members...)
	pub := &switchPublisher{}
	bg := &broker.Background{}
	log := eventlog.New(st, pub, bg, nil)
	svc := NewService(NewBuilder(st, nil), st, log, pub, bg, nil)
	return &fixture{st: st, log: log, svc: svc, pub: pub}
}

func (f *fixture) append(t *testing.T, typ model.EventType, entityID string, data model.EventData) *model.Event {
	t.Helper()
	src := testEvent(typ, entityID, "a", data)
	e := f.log.Append(context.Background(), eventlog.AppendInput{
		TenantID: src.TenantID, EventType: typ, EntityType: src.EntityType,
		EntityID: entityID, ActorID: "a", ActorType: "user", Data: src.Data,
	})
	if e == nil {
		t.Fatal("append failed")
	}
	return e
}

func publishedCount(us []model.Update) (published, pending int) {
	for _, u := range us {
		if u.Published {
			published++
		} else {
			pending++
		}
	}
	return
}

func TestHandleEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "a", "b", "c")
	e := f.append(t, model.EventMessageCreate, "m1", model.EventData{Dialog: dialogD1, Message: msgM1})

	created, err := f.svc.HandleEvent(ctx, e)
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("created = %d, want 3", len(created))
	}
	f.svc.Wait()

	if pub, pending := publishedCount(f.st.Updates()); pub != 3 || pending != 0 {
		t.Errorf("published=%d pending=%d", pub, pending)
	}

	// A replay creates nothing new.
	again, err := f.svc.HandleEvent(ctx, e)
	if err != nil {
		t.Fatal(err)
	}
	f.svc.Wait()
	if len(again) != 0 || len(f.st.Updates()) != 3 || f.pub.published() != 3 {
		t.Errorf("replay created %d updates, %d rows, %d publishes", len(again), len(f.st.Updates()), f.pub.published())
	}
}

func TestHandleEventMemberRemove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "a", "b", "c")
	// The primary write removed c before the event was appended.
	f.st.RemoveMember("t1", "d1", "c")
	e := f.append(t, model.EventDialogMemberRemove, "d1", model.EventData{
		Dialog: dialogD1, Member: &model.MemberSnapshot{UserID: "c"},
	})

	created, err := f.svc.HandleEvent(ctx, e)
	if err != nil {
		t.Fatal(err)
	}
	f.svc.Wait()
	if r := recipients(created); len(r) != 3 || r[2] != "c" {
		t.Errorf("recipients = %v, want [a b c]", r)
	}
}

func TestHandleEventMissingSection(t *testing.T) {
	f := newFixture(t, "a", "b")
	e := f.append(t, model.EventDialogUpdate, "d1", model.EventData{})

	_, err := f.svc.HandleEvent(context.Background(), e)
	if !errors.Is(err, ErrMissingSection) {
		t.Fatalf("err = %v, want ErrMissingSection", err)
	}
	if n := len(f.st.Updates()); n != 0 {
		t.Errorf("updates = %d, want 0", n)
	}
}

func TestHandleEventWithoutDialog(t *testing.T) {
	tests := []struct {
		name string
		typ  model.EventType
		id   string
		data model.EventData
	}{
		{"message create", model.EventMessageCreate, "m1", model.EventData{Message: msgM1}},
		{"reaction update", model.EventMessageReactionUpdate, "m1", model.EventData{Message: msgM1}},
		{"typing", model.EventDialogTyping, "d1", model.EventData{Typing: &model.TypingSnapshot{UserID: "a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "a", "b", "c")
			e := f.append(t, tt.typ, tt.id, tt.data)

			created, err := f.svc.HandleEvent(context.Background(), e)
			if !errors.Is(err, ErrMissingSection) {
				t.Fatalf("err = %v, want ErrMissingSection", err)
			}
			f.svc.Wait()
			if len(created) != 0 || len(f.st.Updates()) != 0 || f.pub.published() != 0 {
				t.Errorf("created %d, stored %d, published %d; want none", len(created), len(f.st.Updates()), f.pub.published())
			}
		})
	}
}

func TestHandleEventRef(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "a", "b")
	e := f.append(t, model.EventDialogUpdate, "d1", model.EventData{Dialog: dialogD1})

	created, err := f.svc.HandleEventRef(ctx, "evt-doesnotexist")
	if err != nil || created != nil {
		t.Fatalf("unresolvable ref = %v, %v", created, err)
	}
	if len(f.st.Updates()) != 0 {
		t.Fatal("unresolvable ref produced updates")
	}

	created, err = f.svc.HandleEventRef(ctx, e.EventID)
	if err != nil || len(created) != 2 {
		t.Fatalf("HandleEventRef = %d, %v", len(created), err)
	}
	f.svc.Wait()
	for _, u := range f.st.Updates() {
		if _, err := f.st.GetEvent(ctx, u.EventID); err != nil {
			t.Errorf("update %d references missing event %s", u.ID, u.EventID)
		}
	}
}

func TestBrokerDownLeavesUnpublished(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "a", "b")
	f.pub.setDown(true)

	first := f.append(t, model.EventMessageCreate, "m1", model.EventData{Dialog: dialogD1, Message: msgM1})
	if _, err := f.svc.HandleEvent(ctx, first); err != nil {
		t.Fatalf("HandleEvent while broker down: %v", err)
	}
	f.svc.Wait()
	if pub, pending := publishedCount(f.st.Updates()); pub != 0 || pending != 2 {
		t.Fatalf("published=%d pending=%d, want 0/2", pub, pending)
	}

	f.pub.setDown(false)
	second := f.append(t, model.EventMessageUpdate, "m1", model.EventData{Dialog: dialogD1, Message: msgM1})
	if _, err := f.svc.HandleEvent(ctx, second); err != nil {
		t.Fatal(err)
	}
	f.svc.Wait()

	for _, u := range f.st.Updates() {
		switch u.EventID {
		case first.EventID:
			if u.Published {
				t.Errorf("stuck update %d was republished", u.ID)
			}
		case second.EventID:
			if !u.Published || u.PublishedAt == nil {
				t.Errorf("update %d not published after reconnect", u.ID)
			}
		}
	}
}

func TestPublishedFlag(t *testing.T) {
	tests := []struct {
		name string
		pub  broker.Publisher
		want bool
	}{
		{"broker delivers", &switchPublisher{}, true},
		{"broker down", &switchPublisher{down: true}, false},
		{"no broker configured", &broker.NoopPublisher{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			st := newTestStore("a", "b")
			bg := &broker.Background{}
			log := eventlog.New(st, tt.pub, bg, nil)
			svc := NewService(NewBuilder(st, nil), st, log, tt.pub, bg, nil)

			src := testEvent(model.EventDialogUpdate, "d1", "a", model.EventData{Dialog: dialogD1})
			e := log.Append(ctx, eventlog.AppendInput{
				TenantID: "t1", EventType: src.EventType, EntityType: "dialog", EntityID: "d1", ActorID: "a", Data: src.Data,
			})
			if e == nil {
				t.Fatal("append failed")
			}
			if _, err := svc.HandleEvent(ctx, e); err != nil {
				t.Fatal(err)
			}
			svc.Wait()

			us := st.Updates()
			if len(us) != 2 {
				t.Fatalf("updates = %d, want 2", len(us))
			}
			for _, u := range us {
				if u.Published != tt.want || (u.PublishedAt != nil) != tt.want {
					t.Errorf("update for %s published=%v at=%v, want %v", u.UserID, u.Published, u.PublishedAt, tt.want)
				}
			}
		})
	}
}

// flakyStore fails every CreateUpdate after the first okWrites.
type flakyStore struct {
	*memstore.Store
	mu       sync.Mutex
	okWrites int
}

func (s *flakyStore) CreateUpdate(ctx context.Context, u *model.Update) (bool, error) {
	s.mu.Lock()
	if s.okWrites == 0 {
		s.mu.Unlock()
		return false, errors.New("disk full")
	}
	s.okWrites--
	s.mu.Unlock()
	return s.Store.CreateUpdate(ctx, u)
}

func TestHandleEventStoreFailurePublishesStored(t *testing.T) {
	ctx := context.Background()
	st := newTestStore("a", "b", "c")
	pub := &switchPublisher{}
	bg := &broker.Background{}
	log := eventlog.New(st, pub, bg, nil)
	svc := NewService(NewBuilder(st, nil), &flakyStore{Store: st, okWrites: 2}, log, pub, bg, nil)

	e := log.Append(ctx, eventlog.AppendInput{
		TenantID: "t1", EventType: model.EventDialogUpdate, EntityType: "dialog", EntityID: "d1",
		ActorID: "a", Data: testEvent(model.EventDialogUpdate, "d1", "a", model.EventData{Dialog: dialogD1}).Data,
	})
	if e == nil {
		t.Fatal("append failed")
	}

	created, err := svc.HandleEvent(ctx, e)
	if err == nil {
		t.Fatal("expected store error")
	}
	svc.Wait()
	if len(created) != 2 {
		t.Fatalf("created = %d, want 2", len(created))
	}
	if pub, pending := publishedCount(st.Updates()); pub != 2 || pending != 0 {
		t.Errorf("published=%d pending=%d, want 2/0", pub, pending)
	}
}

func TestHandleStatsBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "a", "b")
	e := f.append(t, model.EventMessageCreate, "m1", model.EventData{Dialog: dialogD1, Message: msgM1})

	reg := counter.NewRegistry(counter.RegistryConfig{Finalizer: f.svc.HandleStatsBatch})
	engine := counter.NewEngine(f.st, f.st, reg, nil)
	if _, err := engine.IncrementUnread(ctx, "t1", "b", "bot", "d1", 1, counter.SourceFromEvent(e)); err != nil {
		t.Fatal(err)
	}

	key := counter.BatchKey{TenantID: "t1", UserID: "b", EventID: e.EventID}
	for range 2 {
		if _, err := reg.Finalize(ctx, key); err != nil {
			t.Fatalf("Finalize: %v", err)
		}
	}
	// A stray batch for the same key after the first stats update is skipped.
	if err := f.svc.HandleStatsBatch(ctx, counter.Batch{Key: key, Fields: []string{model.FieldUnreadCount}}); err != nil {
		t.Fatal(err)
	}
	f.svc.Wait()

	var stats []model.Update
	for _, u := range f.st.Updates() {
		if u.EventType == model.EventUserStatsUpdate {
			stats = append(stats, u)
		}
	}
	if len(stats) != 1 {
		t.Fatalf("stats updates = %d, want 1", len(stats))
	}
	u := stats[0]
	if u.UserID != "b" || u.UserType != "bot" || u.Type() != model.UpdateUserStats || !u.Published {
		t.Errorf("stats update = %+v", u)
	}
	s := u.Data.User.Stats
	if s.TotalUnreadCount != 1 || s.UnreadDialogsCount != 1 || len(s.Dialogs) != 1 {
		t.Errorf("stats = %+v", s)
	}
	if len(u.Data.Context.ChangedFields) != 3 {
		t.Errorf("changed fields = %v", u.Data.Context.ChangedFields)
	}
}
