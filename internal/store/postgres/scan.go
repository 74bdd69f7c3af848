package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/alfredjeanlab/chatd/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanEvent scans a single row into a model.Event.
// The row must contain columns in the order defined by eventColumns.
func scanEvent(row scannable) (*model.Event, error) {
	var e model.Event
	var (
		data     []byte
		metadata []byte
	)
	err := row.Scan(
		&e.ID,
		&e.TenantID,
		&e.EventID,
		&e.EventType,
		&e.EntityType,
		&e.EntityID,
		&e.ActorID,
		&e.ActorType,
		&data,
		&metadata,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		e.Data = json.RawMessage(data)
	}
	if len(metadata) > 0 {
		e.Metadata = json.RawMessage(metadata)
	}
	return &e, nil
}

// scanEvents scans multiple rows into a slice of model.Event pointers.
func scanEvents(rows *sql.Rows) ([]*model.Event, error) {
	var events []*model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// scanUpdateWithTotal scans a row that has a leading total_count column
// followed by the standard update columns. Used by queryListUpdates with
// COUNT(*) OVER().
func scanUpdateWithTotal(row scannable) (*model.Update, int, error) {
	var total int
	var u model.Update
	var (
		data        []byte
		publishedAt sql.NullTime
	)
	err := row.Scan(
		&total,
		&u.ID,
		&u.TenantID,
		&u.UserID,
		&u.UserType,
		&u.DialogID,
		&u.EntityID,
		&u.EventID,
		&u.EventType,
		&data,
		&u.Published,
		&publishedAt,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, 0, err
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		u.PublishedAt = &t
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &u.Data); err != nil {
			return nil, 0, fmt.Errorf("decode update %d data: %w", u.ID, err)
		}
	}
	return &u, total, nil
}

// scanMessage scans a single row into a model.Message.
func scanMessage(row scannable) (*model.Message, error) {
	var m model.Message
	var meta []byte
	err := row.Scan(
		&m.ID,
		&m.TenantID,
		&m.DialogID,
		&m.SenderID,
		&m.SenderType,
		&m.Type,
		&m.Content,
		&meta,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &m.Meta); err != nil {
			return nil, fmt.Errorf("decode message %s meta: %w", m.ID, err)
		}
	}
	return &m, nil
}

// scanCounterHistories scans multiple rows into a slice of model.CounterHistory pointers.
func scanCounterHistories(rows *sql.Rows) ([]*model.CounterHistory, error) {
	var out []*model.CounterHistory
	for rows.Next() {
		var h model.CounterHistory
		err := rows.Scan(
			&h.ID,
			&h.TenantID,
			&h.CounterType,
			&h.EntityType,
			&h.EntityID,
			&h.Field,
			&h.OldValue,
			&h.NewValue,
			&h.Delta,
			&h.Operation,
			&h.SourceOperation,
			&h.SourceEntityID,
			&h.ActorID,
			&h.ActorType,
			&h.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// jsonbBytes converts json.RawMessage to a []byte suitable for JSONB columns.
func jsonbBytes(m json.RawMessage) []byte {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}
