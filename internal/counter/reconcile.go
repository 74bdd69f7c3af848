package counter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/alfredjeanlab/chatd/internal/model"
)

// Correction is one counter cell changed by a reconcile.
type Correction struct {
	Field    string `json:"field"`
	DialogID string `json:"dialog_id,omitempty"`
	Old      int64  `json:"old"`
	New      int64  `json:"new"`
}

// ReconcileReport lists the corrections made for one user.
type ReconcileReport struct {
	TenantID    string       `json:"tenant_id"`
	UserID      string       `json:"user_id"`
	Corrections []Correction `json:"corrections"`
}

// Reconcile rescans the user's dialogs, messages and unread messages and
// moves every drifted counter to its expected value. Corrections are written
// to history with operation "reconcile". This is the only full rescan; the
// hot path never calls it.
func (e *Engine) Reconcile(ctx context.Context, tenantID, userID string) (*ReconcileReport, error) {
	dialogs, err := e.dir.CountUserDialogs(ctx, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("count dialogs: %w", err)
	}
	messages, err := e.dir.CountUserMessages(ctx, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	unread, err := e.dir.CountUnreadByDialog(ctx, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("count unread: %w", err)
	}

	current, err := e.store.GetUserStats(ctx, tenantID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		current = &model.UserStats{TenantID: tenantID, UserID: userID}
	} else if err != nil {
		return nil, fmt.Errorf("get user stats: %w", err)
	}
	perDialog, err := e.store.ListUserDialogStats(ctx, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("list dialog stats: %w", err)
	}

	var unreadDialogs, totalUnread int64
	for _, n := range unread {
		if n > 0 {
			unreadDialogs++
		}
		totalUnread += n
	}

	report := &ReconcileReport{TenantID: tenantID, UserID: userID}
	src := Source{Operation: model.OpReconcile, EntityID: userID}

	fix := func(k model.CounterKey, have, want int64) error {
		if have == want {
			return nil
		}
		res, err := e.apply(ctx, Mutation{Key: k, Delta: want - have}, src, model.OpReconcile)
		if err != nil {
			return err
		}
		report.Corrections = append(report.Corrections, Correction{
			Field: k.Field, DialogID: k.DialogID, Old: have, New: res.New,
		})
		return nil
	}

	userKey := func(field string) model.CounterKey {
		return model.CounterKey{Kind: model.CounterUser, TenantID: tenantID, UserID: userID, Field: field}
	}
	for _, c := range []struct {
		field      string
		have, want int64
	}{
		{model.FieldDialogsCount, current.DialogsCount, dialogs},
		{model.FieldMessagesCount, current.MessagesCount, messages},
		{model.FieldUnreadDialogsCount, current.UnreadDialogsCount, unreadDialogs},
		{model.FieldTotalUnreadCount, current.TotalUnreadCount, totalUnread},
	} {
		if err := fix(userKey(c.field), c.have, c.want); err != nil {
			return report, err
		}
	}

	// Dialog cells the user no longer belongs to are expected to be zero.
	have := make(map[string]int64, len(perDialog))
	for _, d := range perDialog {
		have[d.DialogID] = d.UnreadCount
	}
	ids := make([]string, 0, len(have)+len(unread))
	for id := range have {
		ids = append(ids, id)
	}
	for id := range unread {
		if _, ok := have[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		k := model.CounterKey{
			Kind: model.CounterUserDialog, TenantID: tenantID, UserID: userID,
			DialogID: id, Field: model.FieldUnreadCount,
		}
		if err := fix(k, have[id], unread[id]); err != nil {
			return report, err
		}
	}

	if len(report.Corrections) > 0 {
		e.log.Info("counters reconciled", "tenant_id", tenantID, "user_id", userID,
			"corrections", len(report.Corrections))
	}
	return report, nil
}
