package fanout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alfredjeanlab/chatd/internal/counter"
	"github.com/alfredjeanlab/chatd/internal/model"
)

// BuildStats returns the stats Update for a finalized counter batch: the
// user's current aggregates and per-dialog unread counts, with the batch's
// dirty fields as the changed fields.
func (b *Builder) BuildStats(ctx context.Context, st StatsReader, batch counter.Batch) (*model.Update, error) {
	k := batch.Key
	stats, err := st.GetUserStats(ctx, k.TenantID, k.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		stats = &model.UserStats{TenantID: k.TenantID, UserID: k.UserID}
	} else if err != nil {
		return nil, fmt.Errorf("load stats of %s: %w", k.UserID, err)
	}
	dialogs, err := st.ListUserDialogStats(ctx, k.TenantID, k.UserID)
	if err != nil {
		return nil, fmt.Errorf("load dialog stats of %s: %w", k.UserID, err)
	}
	stats.Dialogs = dialogs

	ut := userType(batch.UserType)
	return &model.Update{
		TenantID:  k.TenantID,
		UserID:    k.UserID,
		UserType:  ut,
		EntityID:  k.UserID,
		EventID:   k.EventID,
		EventType: model.EventUserStatsUpdate,
		Data: model.UpdateData{
			User: &model.UserSection{UserID: k.UserID, UserType: ut, Stats: stats},
			Context: model.UpdateContext{
				EventType:     model.EventUserStatsUpdate,
				EntityID:      k.UserID,
				Sections:      []string{model.SectionUser},
				ChangedFields: batch.Fields,
			},
		},
	}, nil
}

// StatsReader reads the counters a stats Update reports.
type StatsReader interface {
	GetUserStats(ctx context.Context, tenantID, userID string) (*model.UserStats, error)
	ListUserDialogStats(ctx context.Context, tenantID, userID string) ([]model.UserDialogStats, error)
}
