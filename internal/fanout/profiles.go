package fanout

import (
	"context"
	"time"

	"github.com/graph-gophers/dataloader"

	"github.com/alfredjeanlab/chatd/internal/model"
	"github.com/alfredjeanlab/chatd/internal/store"
)

// newProfileLoader returns a loader that batches and caches user profile
// lookups for the lifetime of one fan-out call. Unknown users load as nil.
func newProfileLoader(dir store.Directory, tenantID string) *dataloader.Loader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		profiles, err := dir.GetUserProfiles(ctx, tenantID, keys.Keys())
		results := make([]*dataloader.Result, len(keys))
		for i, k := range keys {
			if err != nil {
				results[i] = &dataloader.Result{Error: err}
				continue
			}
			if p, ok := profiles[k.String()]; ok {
				results[i] = &dataloader.Result{Data: p}
			} else {
				results[i] = &dataloader.Result{Data: nil}
			}
		}
		return results
	}
	return dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(time.Millisecond))
}

// loadProfile returns the cached profile of userID, or nil when unknown.
func loadProfile(ctx context.Context, l *dataloader.Loader, userID string) (*model.UserProfile, error) {
	if userID == "" {
		return nil, nil
	}
	v, err := l.Load(ctx, dataloader.StringKey(userID))()
	if err != nil {
		return nil, err
	}
	p, _ := v.(*model.UserProfile)
	return p, nil
}
