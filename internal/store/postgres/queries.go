package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alfredjeanlab/chatd/internal/model"
)

// eventColumns is the column list used for SELECT statements on the events table.
const eventColumns = `id, tenant_id, event_id, event_type, entity_type, entity_id,
	actor_id, actor_type, data, metadata, created_at`

// updateColumns is the column list used for SELECT statements on the updates table.
const updateColumns = `id, tenant_id, user_id, user_type, dialog_id, entity_id,
	event_id, event_type, data, published, published_at, created_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryAppendEvent(ctx context.Context, db executor, e *model.Event) error {
	return db.QueryRowContext(ctx, `
		INSERT INTO events (
			tenant_id, event_id, event_type, entity_type, entity_id,
			actor_id, actor_type, data, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`,
		e.TenantID,
		e.EventID,
		string(e.EventType),
		e.EntityType,
		e.EntityID,
		e.ActorID,
		e.ActorType,
		jsonbBytes(e.Data),
		jsonbBytes(e.Metadata),
	).Scan(&e.ID, &e.CreatedAt)
}

func queryGetEvent(ctx context.Context, db executor, eventID string) (*model.Event, error) {
	row := db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE event_id = $1`, eventID)
	return scanEvent(row)
}

func queryGetEventByID(ctx context.Context, db executor, id int64) (*model.Event, error) {
	row := db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	return scanEvent(row)
}

func queryListEventsAfter(ctx context.Context, db executor, afterID int64, limit int) ([]*model.Event, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2`,
		afterID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func queryCreateUpdate(ctx context.Context, db executor, u *model.Update) (bool, error) {
	data, err := u.MarshalData()
	if err != nil {
		return false, fmt.Errorf("marshal update data: %w", err)
	}
	err = db.QueryRowContext(ctx, `
		INSERT INTO updates (
			tenant_id, user_id, user_type, dialog_id, entity_id,
			event_id, event_type, data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, user_id, event_id, event_type) DO NOTHING
		RETURNING id, created_at`,
		u.TenantID,
		u.UserID,
		u.UserType,
		u.DialogID,
		u.EntityID,
		u.EventID,
		string(u.EventType),
		data,
	).Scan(&u.ID, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict: the row already exists.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func queryUpdateExists(ctx context.Context, db executor, tenantID, userID, eventID string, eventType model.EventType) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM updates
			WHERE tenant_id = $1 AND user_id = $2 AND event_id = $3 AND event_type = $4
		)`,
		tenantID, userID, eventID, string(eventType),
	).Scan(&exists)
	return exists, err
}

func queryMarkUpdatePublished(ctx context.Context, db executor, id int64, at time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE updates SET published = TRUE, published_at = $2
		WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func queryListUpdates(ctx context.Context, db executor, filter model.UpdateFilter) ([]*model.Update, int, error) {
	var (
		whereClauses []string
		args         []any
		argIdx       int
	)

	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	if filter.TenantID != "" {
		whereClauses = append(whereClauses, "tenant_id = "+nextArg())
		args = append(args, filter.TenantID)
	}

	if filter.UserID != "" {
		whereClauses = append(whereClauses, "user_id = "+nextArg())
		args = append(args, filter.UserID)
	}

	if filter.DialogID != "" {
		whereClauses = append(whereClauses, "dialog_id = "+nextArg())
		args = append(args, filter.DialogID)
	}

	if len(filter.EventType) > 0 {
		placeholders := make([]string, len(filter.EventType))
		for i, t := range filter.EventType {
			placeholders[i] = nextArg()
			args = append(args, string(t))
		}
		whereClauses = append(whereClauses, "event_type IN ("+strings.Join(placeholders, ", ")+")")
	}

	if filter.Published != nil {
		whereClauses = append(whereClauses, "published = "+nextArg())
		args = append(args, *filter.Published)
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	// Single query with COUNT(*) OVER() to get total and rows atomically.
	dataQuery := "SELECT COUNT(*) OVER() AS total_count, " + updateColumns + " FROM updates" + whereSQL + " ORDER BY id ASC"

	if filter.Limit > 0 {
		dataQuery += " LIMIT " + nextArg()
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		dataQuery += " OFFSET " + nextArg()
		args = append(args, filter.Offset)
	}

	rows, err := db.QueryContext(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list updates: %w", err)
	}
	defer rows.Close()

	var updates []*model.Update
	var total int
	for rows.Next() {
		u, t, err := scanUpdateWithTotal(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan updates: %w", err)
		}
		total = t
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan updates: %w", err)
	}

	return updates, total, nil
}
