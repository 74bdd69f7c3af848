// Package presence tracks who is currently typing in each dialog.
//
// The Tracker keeps an in-memory roster fed by dialog.typing events as the
// server ingests them. Entries expire after the expiry carried by the event;
// expired entries are hidden from reads at once and removed by a background
// reaper.
package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/chatd/internal/model"
)

// DefaultExpiry applies when a typing event carries no expiry.
const DefaultExpiry = 5 * time.Second

// Entry is one user currently typing in a dialog.
type Entry struct {
	UserID     string    `json:"user_id"`
	UserType   string    `json:"user_type,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	LastSeen   time.Time `json:"last_seen"`
	ExpiresAt  time.Time `json:"expires_at"`
	EventCount int64     `json:"event_count"`
}

// ReaperConfig configures the background reaper.
type ReaperConfig struct {
	// SweepInterval is how often the reaper drops expired entries.
	// Default: 10 seconds.
	SweepInterval time.Duration

	// OnExpire is called for each entry the reaper removes.
	// Called outside the lock.
	OnExpire func(tenantID, dialogID, userID string)
}

type dialogKey struct {
	tenantID string
	dialogID string
}

type typist struct {
	userType   string
	startedAt  time.Time
	lastSeen   time.Time
	expiresAt  time.Time
	eventCount int64
}

// Tracker maintains the typing roster of every dialog.
type Tracker struct {
	mu      sync.RWMutex
	dialogs map[dialogKey]map[string]*typist
	now     func() time.Time

	reaperStop chan struct{}
	reaperDone chan struct{}
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		dialogs: make(map[dialogKey]map[string]*typist),
		now:     time.Now,
	}
}

// Observe feeds an ingested event to the tracker: typing events refresh the
// roster and a new message ends its sender's typing in that dialog.
func (t *Tracker) Observe(e *model.Event) {
	switch e.EventType {
	case model.EventDialogTyping:
		t.Record(e)
	case model.EventMessageCreate:
		data, err := e.ParseData()
		if err != nil || data.Message == nil {
			return
		}
		sender := data.Message.SenderID
		if sender == "" {
			sender = e.ActorID
		}
		t.Clear(e.TenantID, data.Message.DialogID, sender)
	}
}

// Record updates the roster from a dialog.typing event and reports whether
// the event was usable. The typist is the typing section's user, falling
// back to the actor; the dialog is the dialog section's id, falling back to
// the entity id.
func (t *Tracker) Record(e *model.Event) bool {
	if e.EventType != model.EventDialogTyping {
		return false
	}
	data, err := e.ParseData()
	if err != nil || data.Typing == nil {
		return false
	}

	userID := data.Typing.UserID
	if userID == "" {
		userID = e.ActorID
	}
	dialogID := e.EntityID
	if data.Dialog != nil && data.Dialog.ID != "" {
		dialogID = data.Dialog.ID
	}
	if userID == "" || dialogID == "" {
		return false
	}

	expiry := DefaultExpiry
	if data.Typing.ExpiresInMs > 0 {
		expiry = time.Duration(data.Typing.ExpiresInMs) * time.Millisecond
	}

	now := t.now()
	key := dialogKey{tenantID: e.TenantID, dialogID: dialogID}

	t.mu.Lock()
	defer t.mu.Unlock()

	roster, ok := t.dialogs[key]
	if !ok {
		roster = make(map[string]*typist)
		t.dialogs[key] = roster
	}
	st, ok := roster[userID]
	if !ok || !now.Before(st.expiresAt) {
		st = &typist{startedAt: now}
		roster[userID] = st
	}
	if userID == e.ActorID {
		st.userType = e.ActorType
	}
	st.lastSeen = now
	st.expiresAt = now.Add(expiry)
	st.eventCount++
	return true
}

// Clear removes a user from a dialog's roster, e.g. when they send the message
// they were typing.
func (t *Tracker) Clear(tenantID, dialogID, userID string) {
	key := dialogKey{tenantID: tenantID, dialogID: dialogID}
	t.mu.Lock()
	defer t.mu.Unlock()
	if roster, ok := t.dialogs[key]; ok {
		delete(roster, userID)
		if len(roster) == 0 {
			delete(t.dialogs, key)
		}
	}
}

// Typing returns the unexpired typists of one dialog, most recently active
// first.
func (t *Tracker) Typing(tenantID, dialogID string) []Entry {
	now := t.now()

	t.mu.RLock()
	defer t.mu.RUnlock()

	roster := t.dialogs[dialogKey{tenantID: tenantID, dialogID: dialogID}]
	entries := make([]Entry, 0, len(roster))
	for userID, st := range roster {
		if !now.Before(st.expiresAt) {
			continue
		}
		entries = append(entries, Entry{
			UserID:     userID,
			UserType:   st.userType,
			StartedAt:  st.startedAt,
			LastSeen:   st.lastSeen,
			ExpiresAt:  st.expiresAt,
			EventCount: st.eventCount,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].LastSeen.Equal(entries[j].LastSeen) {
			return entries[i].LastSeen.After(entries[j].LastSeen)
		}
		return entries[i].UserID < entries[j].UserID
	})
	return entries
}

// StartReaper launches a background goroutine that periodically drops
// expired entries. Call StopReaper to shut it down.
func (t *Tracker) StartReaper(cfg *ReaperConfig) {
	if cfg == nil {
		cfg = &ReaperConfig{}
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 10 * time.Second
	}

	t.reaperStop = make(chan struct{})
	t.reaperDone = make(chan struct{})

	go t.reapLoop(cfg)
	slog.Info("presence: reaper started", "sweep_interval", cfg.SweepInterval)
}

// StopReaper shuts down the reaper goroutine.
func (t *Tracker) StopReaper() {
	if t.reaperStop != nil {
		close(t.reaperStop)
		<-t.reaperDone
		t.reaperStop = nil
		t.reaperDone = nil
	}
}

func (t *Tracker) reapLoop(cfg *ReaperConfig) {
	defer close(t.reaperDone)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.reaperStop:
			return
		case <-ticker.C:
			t.sweep(cfg)
		}
	}
}

type expired struct {
	key    dialogKey
	userID string
}

// sweep drops expired entries and empty dialogs. It returns how many
// entries it removed.
func (t *Tracker) sweep(cfg *ReaperConfig) int {
	now := t.now()
	var gone []expired

	t.mu.Lock()
	for key, roster := range t.dialogs {
		for userID, st := range roster {
			if !now.Before(st.expiresAt) {
				delete(roster, userID)
				gone = append(gone, expired{key: key, userID: userID})
			}
		}
		if len(roster) == 0 {
			delete(t.dialogs, key)
		}
	}
	t.mu.Unlock()

	if cfg.OnExpire != nil {
		for _, g := range gone {
			cfg.OnExpire(g.key.tenantID, g.key.dialogID, g.userID)
		}
	}
	return len(gone)
}
