package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/alfredjeanlab/chatd/internal/model"
)

// counterTable describes where a counter kind lives.
type counterTable struct {
	name string
	keys []string
}

var counterTables = map[model.CounterKind]counterTable{
	model.CounterUser:       {name: "user_stats", keys: []string{"tenant_id", "user_id"}},
	model.CounterUserDialog: {name: "user_dialog_stats", keys: []string{"tenant_id", "user_id", "dialog_id"}},
	model.CounterReaction:   {name: "message_reaction_stats", keys: []string{"tenant_id", "message_id", "reaction"}},
	model.CounterStatus:     {name: "message_status_stats", keys: []string{"tenant_id", "message_id", "status"}},
}

// counterTarget resolves the table and key arguments of k. Field names are
// checked against the kind's whitelist before they are spliced into SQL.
func counterTarget(k model.CounterKey) (counterTable, []any, error) {
	tbl, ok := counterTables[k.Kind]
	if !ok {
		return counterTable{}, nil, fmt.Errorf("unknown counter kind %q", k.Kind)
	}
	if !k.Kind.IsValidField(k.Field) {
		return counterTable{}, nil, fmt.Errorf("invalid field %q for counter kind %q", k.Field, k.Kind)
	}
	var args []any
	switch k.Kind {
	case model.CounterUser:
		args = []any{k.TenantID, k.UserID}
	case model.CounterUserDialog:
		args = []any{k.TenantID, k.UserID, k.DialogID}
	default:
		args = []any{k.TenantID, k.MessageID, k.Name}
	}
	return tbl, args, nil
}

// placeholders returns "$from, ..., $from+n-1".
func placeholders(from, n int) string {
	p := make([]string, n)
	for i := range p {
		p[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(p, ", ")
}

func queryIncrementCounter(ctx context.Context, db executor, k model.CounterKey, delta int64) (int64, error) {
	tbl, args, err := counterTarget(k)
	if err != nil {
		return 0, err
	}
	n := len(tbl.keys)
	q := fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s, %[3]s)
		VALUES (%[4]s, $%[5]d)
		ON CONFLICT (%[2]s) DO UPDATE
		SET %[3]s = %[1]s.%[3]s + EXCLUDED.%[3]s, updated_at = NOW()
		RETURNING %[3]s`,
		tbl.name, strings.Join(tbl.keys, ", "), k.Field, placeholders(1, n), n+1)

	var value int64
	if err := db.QueryRowContext(ctx, q, append(args, delta)...).Scan(&value); err != nil {
		return 0, fmt.Errorf("increment %s.%s: %w", tbl.name, k.Field, err)
	}
	return value, nil
}

func querySetCounter(ctx context.Context, db executor, k model.CounterKey, value int64) error {
	tbl, args, err := counterTarget(k)
	if err != nil {
		return err
	}
	where := make([]string, len(tbl.keys))
	for i, col := range tbl.keys {
		where[i] = fmt.Sprintf("%s = $%d", col, i+1)
	}
	q := fmt.Sprintf(`UPDATE %s SET %s = $%d, updated_at = NOW() WHERE %s`,
		tbl.name, k.Field, len(tbl.keys)+1, strings.Join(where, " AND "))

	res, err := db.ExecContext(ctx, q, append(args, value)...)
	if err != nil {
		return fmt.Errorf("set %s.%s: %w", tbl.name, k.Field, err)
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

func queryGetUserStats(ctx context.Context, db executor, tenantID, userID string) (*model.UserStats, error) {
	s := model.UserStats{TenantID: tenantID, UserID: userID}
	err := db.QueryRowContext(ctx, `
		SELECT dialogs_count, unread_dialogs_count, total_unread_count, messages_count, updated_at
		FROM user_stats WHERE tenant_id = $1 AND user_id = $2`,
		tenantID, userID,
	).Scan(&s.DialogsCount, &s.UnreadDialogsCount, &s.TotalUnreadCount, &s.MessagesCount, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func queryListUserDialogStats(ctx context.Context, db executor, tenantID, userID string) ([]model.UserDialogStats, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT dialog_id, unread_count
		FROM user_dialog_stats
		WHERE tenant_id = $1 AND user_id = $2
		ORDER BY dialog_id`,
		tenantID, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []model.UserDialogStats
	for rows.Next() {
		var d model.UserDialogStats
		if err := rows.Scan(&d.DialogID, &d.UnreadCount); err != nil {
			return nil, err
		}
		stats = append(stats, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

func queryRecordCounterHistory(ctx context.Context, db executor, h *model.CounterHistory) error {
	return db.QueryRowContext(ctx, `
		INSERT INTO counter_history (
			tenant_id, counter_type, entity_type, entity_id, field,
			old_value, new_value, delta, operation,
			source_operation, source_entity_id, actor_id, actor_type
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at`,
		h.TenantID,
		h.CounterType,
		h.EntityType,
		h.EntityID,
		h.Field,
		h.OldValue,
		h.NewValue,
		h.Delta,
		h.Operation,
		h.SourceOperation,
		h.SourceEntityID,
		h.ActorID,
		h.ActorType,
	).Scan(&h.ID, &h.CreatedAt)
}

func queryListCounterHistory(ctx context.Context, db executor, tenantID, entityID string, limit int) ([]*model.CounterHistory, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, tenant_id, counter_type, entity_type, entity_id, field,
			old_value, new_value, delta, operation,
			source_operation, source_entity_id, actor_id, actor_type, created_at
		FROM counter_history
		WHERE tenant_id = $1 AND entity_id = $2
		ORDER BY id ASC
		LIMIT $3`,
		tenantID, entityID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCounterHistories(rows)
}
