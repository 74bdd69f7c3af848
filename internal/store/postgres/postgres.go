// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/chatd/internal/model"
	"github.com/alfredjeanlab/chatd/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) AppendEvent(ctx context.Context, e *model.Event) error {
	return queryAppendEvent(ctx, s.db, e)
}

func (s *PostgresStore) GetEvent(ctx context.Context, eventID string) (*model.Event, error) {
	return queryGetEvent(ctx, s.db, eventID)
}

func (s *PostgresStore) GetEventByID(ctx context.Context, id int64) (*model.Event, error) {
	return queryGetEventByID(ctx, s.db, id)
}

func (s *PostgresStore) ListEventsAfter(ctx context.Context, afterID int64, limit int) ([]*model.Event, error) {
	return queryListEventsAfter(ctx, s.db, afterID, limit)
}

func (s *PostgresStore) CreateUpdate(ctx context.Context, u *model.Update) (bool, error) {
	return queryCreateUpdate(ctx, s.db, u)
}

func (s *PostgresStore) UpdateExists(ctx context.Context, tenantID, userID, eventID string, eventType model.EventType) (bool, error) {
	return queryUpdateExists(ctx, s.db, tenantID, userID, eventID, eventType)
}

func (s *PostgresStore) MarkUpdatePublished(ctx context.Context, id int64, at time.Time) error {
	return queryMarkUpdatePublished(ctx, s.db, id, at)
}

func (s *PostgresStore) ListUpdates(ctx context.Context, filter model.UpdateFilter) ([]*model.Update, int, error) {
	return queryListUpdates(ctx, s.db, filter)
}

func (s *PostgresStore) IncrementCounter(ctx context.Context, key model.CounterKey, delta int64) (int64, error) {
	return queryIncrementCounter(ctx, s.db, key, delta)
}

func (s *PostgresStore) SetCounter(ctx context.Context, key model.CounterKey, value int64) error {
	return querySetCounter(ctx, s.db, key, value)
}

func (s *PostgresStore) GetUserStats(ctx context.Context, tenantID, userID string) (*model.UserStats, error) {
	return queryGetUserStats(ctx, s.db, tenantID, userID)
}

func (s *PostgresStore) ListUserDialogStats(ctx context.Context, tenantID, userID string) ([]model.UserDialogStats, error) {
	return queryListUserDialogStats(ctx, s.db, tenantID, userID)
}

func (s *PostgresStore) RecordCounterHistory(ctx context.Context, h *model.CounterHistory) error {
	return queryRecordCounterHistory(ctx, s.db, h)
}

func (s *PostgresStore) ListCounterHistory(ctx context.Context, tenantID, entityID string, limit int) ([]*model.CounterHistory, error) {
	return queryListCounterHistory(ctx, s.db, tenantID, entityID, limit)
}

func (s *PostgresStore) ListDialogMembers(ctx context.Context, tenantID, dialogID string) ([]model.Member, error) {
	return queryListDialogMembers(ctx, s.db, tenantID, dialogID)
}

func (s *PostgresStore) GetMessage(ctx context.Context, tenantID, messageID string) (*model.Message, error) {
	return queryGetMessage(ctx, s.db, tenantID, messageID)
}

func (s *PostgresStore) ListMessageStatuses(ctx context.Context, tenantID, messageID string) ([]model.MessageStatus, error) {
	return queryListMessageStatuses(ctx, s.db, tenantID, messageID)
}

func (s *PostgresStore) GetUserProfiles(ctx context.Context, tenantID string, userIDs []string) (map[string]*model.UserProfile, error) {
	return queryGetUserProfiles(ctx, s.db, tenantID, userIDs)
}

func (s *PostgresStore) CountUserDialogs(ctx context.Context, tenantID, userID string) (int64, error) {
	return queryCountUserDialogs(ctx, s.db, tenantID, userID)
}

func (s *PostgresStore) CountUserMessages(ctx context.Context, tenantID, userID string) (int64, error) {
	return queryCountUserMessages(ctx, s.db, tenantID, userID)
}

func (s *PostgresStore) CountUnreadByDialog(ctx context.Context, tenantID, userID string) (map[string]int64, error) {
	return queryCountUnreadByDialog(ctx, s.db, tenantID, userID)
}
