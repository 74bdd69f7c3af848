package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alfredjeanlab/chatd/internal/model"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

var eventRowColumns = []string{
	"id", "tenant_id", "event_id", "event_type", "entity_type", "entity_id",
	"actor_id", "actor_type", "data", "metadata", "created_at",
}

var updateWithTotalColumns = []string{
	"total_count",
	"id", "tenant_id", "user_id", "user_type", "dialog_id", "entity_id",
	"event_id", "event_type", "data", "published", "published_at", "created_at",
}

func TestJSONBBytes(t *testing.T) {
	if jsonbBytes(nil) != nil {
		t.Error("jsonbBytes(nil) should be nil")
	}
	if jsonbBytes(json.RawMessage{}) != nil {
		t.Error("jsonbBytes({}) should be nil")
	}
	input := json.RawMessage(`{"key":"value"}`)
	if string(jsonbBytes(input)) != `{"key":"value"}` {
		t.Errorf("jsonbBytes = %s", jsonbBytes(input))
	}
}

func TestQueryAppendEvent(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	e := &model.Event{
		TenantID: "t1", EventID: "evt-1", EventType: model.EventMessageCreate,
		EntityType: "message", EntityID: "m1", ActorID: "u1", ActorType: "user",
		Data: json.RawMessage(`{"message":{"id":"m1"}}`),
	}
	mock.ExpectQuery("INSERT INTO events").
		WithArgs("t1", "evt-1", "message.create", "message", "m1", "u1", "user", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), now))

	if err := queryAppendEvent(context.Background(), db, e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.ID != 7 || !e.CreatedAt.Equal(now) {
		t.Errorf("got id=%d created_at=%v", e.ID, e.CreatedAt)
	}
}

func TestQueryGetEvent(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(eventRowColumns).AddRow(
		int64(7), "t1", "evt-1", "dialog.create", "dialog", "d1",
		"u1", "user", []byte(`{"dialog":{"id":"d1"}}`), nil, now,
	)
	mock.ExpectQuery("SELECT .+ FROM events WHERE event_id = \\$1").WithArgs("evt-1").WillReturnRows(rows)

	e, err := queryGetEvent(context.Background(), db, "evt-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.EventType != model.EventDialogCreate || e.EntityID != "d1" {
		t.Errorf("got type=%q entity=%q", e.EventType, e.EntityID)
	}
	if string(e.Data) != `{"dialog":{"id":"d1"}}` {
		t.Errorf("Data = %s", e.Data)
	}
	if e.Metadata != nil {
		t.Errorf("Metadata = %s, want nil", e.Metadata)
	}
}

func TestQueryGetEvent_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM events WHERE id = \\$1").WithArgs(int64(99)).WillReturnError(sql.ErrNoRows)

	if _, err := queryGetEventByID(context.Background(), db, 99); err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestQueryListEventsAfter(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(eventRowColumns).
		AddRow(int64(11), "t1", "evt-a", "user.add", "user", "u1", "", "", nil, nil, now).
		AddRow(int64(12), "t1", "evt-b", "user.update", "user", "u1", "", "", nil, nil, now)
	mock.ExpectQuery("SELECT .+ FROM events\\s+WHERE id > \\$1").WithArgs(int64(10), 50).WillReturnRows(rows)

	events, err := queryListEventsAfter(context.Background(), db, 10, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 || events[1].EventID != "evt-b" {
		t.Fatalf("got %d events", len(events))
	}
}

func TestQueryCreateUpdate(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	u := &model.Update{
		TenantID: "t1", UserID: "u2", UserType: "user", DialogID: "d1", EntityID: "m1",
		EventID: "evt-1", EventType: model.EventMessageCreate,
	}
	mock.ExpectQuery("INSERT INTO updates .+ON CONFLICT \\(tenant_id, user_id, event_id, event_type\\) DO NOTHING").
		WithArgs("t1", "u2", "user", "d1", "m1", "evt-1", "message.create", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(3), now))

	created, err := queryCreateUpdate(context.Background(), db, u)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created || u.ID != 3 {
		t.Errorf("created=%v id=%d, want true/3", created, u.ID)
	}
}

func TestQueryCreateUpdate_Duplicate(t *testing.T) {
	db, mock := newMockDB(t)
	u := &model.Update{TenantID: "t1", UserID: "u2", EventID: "evt-1", EventType: model.EventMessageCreate}
	mock.ExpectQuery("INSERT INTO updates").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}))

	created, err := queryCreateUpdate(context.Background(), db, u)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("expected created=false on conflict")
	}
}

func TestQueryUpdateExists(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("t1", "u1", "evt-1", "user.stats.update").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := queryUpdateExists(context.Background(), db, "t1", "u1", "evt-1", model.EventUserStatsUpdate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected exists=true")
	}
}

func TestQueryMarkUpdatePublished(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectExec("UPDATE updates SET published = TRUE").WithArgs(int64(3), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE updates SET published = TRUE").WithArgs(int64(4), now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := queryMarkUpdatePublished(context.Background(), db, 3, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := queryMarkUpdatePublished(context.Background(), db, 4, now); err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestQueryListUpdates(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	published := false
	rows := sqlmock.NewRows(updateWithTotalColumns).AddRow(
		5,
		int64(1), "t1", "u1", "user", "d1", "m1",
		"evt-1", "message.create", []byte(`{"context":{"event_type":"message.create","entity_id":"m1","sections":["message"]}}`),
		false, nil, now,
	)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) OVER\\(\\) AS total_count, .+ FROM updates WHERE tenant_id = \\$1 AND user_id = \\$2 AND event_type IN \\(\\$3, \\$4\\) AND published = \\$5 ORDER BY id ASC LIMIT \\$6").
		WithArgs("t1", "u1", "message.create", "message.update", false, 10).
		WillReturnRows(rows)

	updates, total, err := queryListUpdates(context.Background(), db, model.UpdateFilter{
		TenantID:  "t1",
		UserID:    "u1",
		EventType: []model.EventType{model.EventMessageCreate, model.EventMessageUpdate},
		Published: &published,
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 5 || len(updates) != 1 {
		t.Fatalf("total=%d len=%d", total, len(updates))
	}
	u := updates[0]
	if u.Data.Context.EntityID != "m1" || len(u.Data.Context.Sections) != 1 {
		t.Errorf("decoded context = %+v", u.Data.Context)
	}
	if u.PublishedAt != nil {
		t.Errorf("PublishedAt = %v, want nil", u.PublishedAt)
	}
}

func TestQueryIncrementCounter(t *testing.T) {
	for _, tc := range []struct {
		name  string
		key   model.CounterKey
		query string
		args  []driver.Value
	}{
		{
			name:  "UserDialog",
			key:   model.CounterKey{Kind: model.CounterUserDialog, TenantID: "t1", UserID: "u1", DialogID: "d1", Field: model.FieldUnreadCount},
			query: "INSERT INTO user_dialog_stats \\(tenant_id, user_id, dialog_id, unread_count\\).+ON CONFLICT \\(tenant_id, user_id, dialog_id\\) DO UPDATE.+RETURNING unread_count",
			args:  []driver.Value{"t1", "u1", "d1", int64(1)},
		},
		{
			name:  "User",
			key:   model.CounterKey{Kind: model.CounterUser, TenantID: "t1", UserID: "u1", Field: model.FieldUnreadDialogsCount},
			query: "INSERT INTO user_stats \\(tenant_id, user_id, unread_dialogs_count\\).+user_stats.unread_dialogs_count \\+ EXCLUDED.unread_dialogs_count",
			args:  []driver.Value{"t1", "u1", int64(1)},
		},
		{
			name:  "Reaction",
			key:   model.CounterKey{Kind: model.CounterReaction, TenantID: "t1", MessageID: "m1", Name: "like", Field: model.FieldCount},
			query: "INSERT INTO message_reaction_stats \\(tenant_id, message_id, reaction, count\\)",
			args:  []driver.Value{"t1", "m1", "like", int64(1)},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			mock.ExpectQuery(tc.query).WithArgs(tc.args...).
				WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow(int64(4)))

			got, err := queryIncrementCounter(context.Background(), db, tc.key, 1)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != 4 {
				t.Errorf("got %d, want 4", got)
			}
		})
	}
}

func TestQueryIncrementCounter_InvalidField(t *testing.T) {
	db, _ := newMockDB(t)
	key := model.CounterKey{Kind: model.CounterUser, TenantID: "t1", UserID: "u1", Field: "count; DROP TABLE users"}
	if _, err := queryIncrementCounter(context.Background(), db, key, 1); err == nil {
		t.Fatal("expected error for field outside the whitelist")
	}
}

func TestQuerySetCounter(t *testing.T) {
	db, mock := newMockDB(t)
	key := model.CounterKey{Kind: model.CounterStatus, TenantID: "t1", MessageID: "m1", Name: "read", Field: model.FieldCount}
	mock.ExpectExec("UPDATE message_status_stats SET count = \\$4, updated_at = NOW\\(\\) WHERE tenant_id = \\$1 AND message_id = \\$2 AND status = \\$3").
		WithArgs("t1", "m1", "read", int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := querySetCounter(context.Background(), db, key, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueryRecordCounterHistory(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	h := &model.CounterHistory{
		TenantID: "t1", CounterType: "user_dialog", EntityType: "dialog", EntityID: "d1",
		Field: "unread_count", OldValue: 0, NewValue: 1, Delta: 1, Operation: model.OpIncrement,
		SourceOperation: "message.create", SourceEntityID: "m1", ActorID: "u2", ActorType: "user",
	}
	mock.ExpectQuery("INSERT INTO counter_history").
		WithArgs("t1", "user_dialog", "dialog", "d1", "unread_count", int64(0), int64(1), int64(1),
			"increment", "message.create", "m1", "u2", "user").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), now))

	if err := queryRecordCounterHistory(context.Background(), db, h); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.ID != 1 {
		t.Errorf("ID = %d, want 1", h.ID)
	}
}

func TestQueryGetUserProfiles(t *testing.T) {
	db, mock := newMockDB(t)

	// No ids: no query.
	got, err := queryGetUserProfiles(context.Background(), db, "t1", nil)
	if err != nil || len(got) != 0 {
		t.Fatalf("empty ids: got (%v, %v)", got, err)
	}

	mock.ExpectQuery("SELECT user_id, user_type, name, avatar, meta\\s+FROM users").
		WithArgs("t1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "user_type", "name", "avatar", "meta"}).
			AddRow("u1", "user", "Ann", "", []byte(`{"lang":"en"}`)).
			AddRow("b1", "bot", "Helper", "", nil))

	got, err = queryGetUserProfiles(context.Background(), db, "t1", []string{"u1", "b1", "ghost"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d profiles, want 2", len(got))
	}
	if got["u1"].Meta["lang"] != "en" {
		t.Errorf("u1 meta = %v", got["u1"].Meta)
	}
	if got["b1"].UserType != "bot" {
		t.Errorf("b1 type = %q", got["b1"].UserType)
	}
}

func TestQueryCountUnreadByDialog(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT dm.dialog_id, COUNT\\(m.id\\)").WithArgs("t1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"dialog_id", "count"}).
			AddRow("d1", int64(3)).
			AddRow("d2", int64(0)))

	got, err := queryCountUnreadByDialog(context.Background(), db, "t1", "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["d1"] != 3 || got["d2"] != 0 || len(got) != 2 {
		t.Errorf("got %v", got)
	}
}
