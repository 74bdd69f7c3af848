package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/chatd/internal/model"
)

func queryListDialogMembers(ctx context.Context, db executor, tenantID, dialogID string) ([]model.Member, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT tenant_id, dialog_id, user_id, user_type, role, joined_at
		FROM dialog_members
		WHERE tenant_id = $1 AND dialog_id = $2
		ORDER BY joined_at, user_id`,
		tenantID, dialogID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []model.Member
	for rows.Next() {
		var m model.Member
		if err := rows.Scan(&m.TenantID, &m.DialogID, &m.UserID, &m.UserType, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return members, nil
}

func queryGetMessage(ctx context.Context, db executor, tenantID, messageID string) (*model.Message, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, tenant_id, dialog_id, sender_id, sender_type, type, content, meta, created_at, updated_at
		FROM messages WHERE tenant_id = $1 AND id = $2`,
		tenantID, messageID,
	)
	return scanMessage(row)
}

func queryListMessageStatuses(ctx context.Context, db executor, tenantID, messageID string) ([]model.MessageStatus, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT user_id, status, updated_at
		FROM message_statuses
		WHERE tenant_id = $1 AND message_id = $2
		ORDER BY user_id`,
		tenantID, messageID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statuses []model.MessageStatus
	for rows.Next() {
		var s model.MessageStatus
		if err := rows.Scan(&s.UserID, &s.Status, &s.UpdatedAt); err != nil {
			return nil, err
		}
		statuses = append(statuses, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return statuses, nil
}

func queryGetUserProfiles(ctx context.Context, db executor, tenantID string, userIDs []string) (map[string]*model.UserProfile, error) {
	profiles := make(map[string]*model.UserProfile, len(userIDs))
	if len(userIDs) == 0 {
		return profiles, nil
	}
	rows, err := db.QueryContext(ctx, `
		SELECT user_id, user_type, name, avatar, meta
		FROM users
		WHERE tenant_id = $1 AND user_id = ANY($2)`,
		tenantID, pq.Array(userIDs),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p    model.UserProfile
			meta []byte
		)
		if err := rows.Scan(&p.UserID, &p.UserType, &p.Name, &p.Avatar, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &p.Meta); err != nil {
				return nil, fmt.Errorf("decode meta of user %s: %w", p.UserID, err)
			}
		}
		profiles[p.UserID] = &p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return profiles, nil
}

func queryCountUserDialogs(ctx context.Context, db executor, tenantID, userID string) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM dialog_members WHERE tenant_id = $1 AND user_id = $2`,
		tenantID, userID,
	).Scan(&n)
	return n, err
}

func queryCountUserMessages(ctx context.Context, db executor, tenantID, userID string) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE tenant_id = $1 AND sender_id = $2`,
		tenantID, userID,
	).Scan(&n)
	return n, err
}

// queryCountUnreadByDialog counts, per dialog the user belongs to, the
// messages from other senders the user has not marked read.
func queryCountUnreadByDialog(ctx context.Context, db executor, tenantID, userID string) (map[string]int64, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT dm.dialog_id, COUNT(m.id)
		FROM dialog_members dm
		LEFT JOIN messages m
			ON m.tenant_id = dm.tenant_id AND m.dialog_id = dm.dialog_id AND m.sender_id <> dm.user_id
		LEFT JOIN message_statuses s
			ON s.tenant_id = m.tenant_id AND s.message_id = m.id AND s.user_id = dm.user_id
		WHERE dm.tenant_id = $1 AND dm.user_id = $2
			AND (s.status IS NULL OR s.status <> 'read')
		GROUP BY dm.dialog_id`,
		tenantID, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	unread := make(map[string]int64)
	for rows.Next() {
		var (
			dialogID string
			n        int64
		)
		if err := rows.Scan(&dialogID, &n); err != nil {
			return nil, err
		}
		unread[dialogID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return unread, nil
}
