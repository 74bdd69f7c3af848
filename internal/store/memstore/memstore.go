// Package memstore is an in-memory store.Store used by tests and local runs
// without a database.
package memstore

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/chatd/internal/model"
	"github.com/alfredjeanlab/chatd/internal/store"
)

// Store keeps every table in maps guarded by one mutex. Counter increments
// are atomic with respect to each other, like the SQL upsert they stand in for.
type Store struct {
	mu sync.Mutex

	events   []*model.Event
	eventIdx map[string]*model.Event
	updates  []*model.Update
	counters map[model.CounterKey]int64
	history  []*model.CounterHistory

	members  map[string][]model.Member // tenant/dialog -> members
	messages map[string]*model.Message // tenant/message
	statuses map[string][]model.MessageStatus
	users    map[string]*model.UserProfile // tenant/user

	// Injected failures for tests.
	AppendErr  error
	HistoryErr error
	UpdateErr  error
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		eventIdx: make(map[string]*model.Event),
		counters: make(map[model.CounterKey]int64),
		members:  make(map[string][]model.Member),
		messages: make(map[string]*model.Message),
		statuses: make(map[string][]model.MessageStatus),
		users:    make(map[string]*model.UserProfile),
	}
}

func key(a, b string) string { return a + "/" + b }

func (s *Store) Close() error { return nil }

// --- seeding helpers for the read-only primary tables ---

// AddMember adds a dialog member.
func (s *Store) AddMember(m model.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.UserType == "" {
		m.UserType = model.DefaultUserType
	}
	k := key(m.TenantID, m.DialogID)
	s.members[k] = slices.DeleteFunc(s.members[k], func(x model.Member) bool { return x.UserID == m.UserID })
	s.members[k] = append(s.members[k], m)
}

// RemoveMember removes a dialog member.
func (s *Store) RemoveMember(tenantID, dialogID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(tenantID, dialogID)
	s.members[k] = slices.DeleteFunc(s.members[k], func(x model.Member) bool { return x.UserID == userID })
}

// AddMessage stores a primary message record.
func (s *Store) AddMessage(m *model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[key(m.TenantID, m.ID)] = m
}

// SetMessageStatus records a per-user message status.
func (s *Store) SetMessageStatus(tenantID, messageID string, st model.MessageStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(tenantID, messageID)
	s.statuses[k] = slices.DeleteFunc(s.statuses[k], func(x model.MessageStatus) bool { return x.UserID == st.UserID })
	s.statuses[k] = append(s.statuses[k], st)
}

// AddUser stores a user profile.
func (s *Store) AddUser(tenantID string, p *model.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[key(tenantID, p.UserID)] = p
}

// Counter returns the raw stored value of a counter cell.
func (s *Store) Counter(k model.CounterKey) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[k]
}

// History returns a copy of all history rows in insertion order.
func (s *Store) History() []model.CounterHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.CounterHistory, len(s.history))
	for i, h := range s.history {
		out[i] = *h
	}
	return out
}

// Updates returns a copy of all update rows in insertion order.
func (s *Store) Updates() []model.Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Update, len(s.updates))
	for i, u := range s.updates {
		out[i] = *u
	}
	return out
}

// --- store.EventStore ---

func (s *Store) AppendEvent(_ context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendErr != nil {
		return s.AppendErr
	}
	if _, dup := s.eventIdx[e.EventID]; dup {
		return fmt.Errorf("duplicate event_id %q", e.EventID)
	}
	e.ID = int64(len(s.events) + 1)
	e.CreatedAt = time.Now().UTC()
	cp := *e
	s.events = append(s.events, &cp)
	s.eventIdx[e.EventID] = &cp
	return nil
}

func (s *Store) GetEvent(_ context.Context, eventID string) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.eventIdx[eventID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *e
	return &cp, nil
}

func (s *Store) GetEventByID(_ context.Context, id int64) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 1 || id > int64(len(s.events)) {
		return nil, sql.ErrNoRows
	}
	cp := *s.events[id-1]
	return &cp, nil
}

func (s *Store) ListEventsAfter(_ context.Context, afterID int64, limit int) ([]*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Event
	for _, e := range s.events {
		if e.ID <= afterID {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// --- store.UpdateStore ---

func (s *Store) CreateUpdate(_ context.Context, u *model.Update) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpdateErr != nil {
		return false, s.UpdateErr
	}
	if _, ok := s.eventIdx[u.EventID]; !ok {
		return false, fmt.Errorf("update references unknown event %q", u.EventID)
	}
	for _, x := range s.updates {
		if x.Key() == u.Key() {
			return false, nil
		}
	}
	u.ID = int64(len(s.updates) + 1)
	u.CreatedAt = time.Now().UTC()
	cp := *u
	s.updates = append(s.updates, &cp)
	return true, nil
}

func (s *Store) UpdateExists(_ context.Context, tenantID, userID, eventID string, eventType model.EventType) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.updates {
		if u.TenantID == tenantID && u.UserID == userID && u.EventID == eventID && u.EventType == eventType {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) MarkUpdatePublished(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 1 || id > int64(len(s.updates)) {
		return sql.ErrNoRows
	}
	u := s.updates[id-1]
	u.Published = true
	u.PublishedAt = &at
	return nil
}

func (s *Store) ListUpdates(_ context.Context, f model.UpdateFilter) ([]*model.Update, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*model.Update
	for _, u := range s.updates {
		switch {
		case f.TenantID != "" && u.TenantID != f.TenantID,
			f.UserID != "" && u.UserID != f.UserID,
			f.DialogID != "" && u.DialogID != f.DialogID,
			len(f.EventType) > 0 && !slices.Contains(f.EventType, u.EventType),
			f.Published != nil && u.Published != *f.Published:
			continue
		}
		cp := *u
		matched = append(matched, &cp)
	}
	total := len(matched)
	if f.Offset > 0 {
		matched = matched[min(f.Offset, len(matched)):]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

// --- store.CounterStore ---

func (s *Store) IncrementCounter(_ context.Context, k model.CounterKey, delta int64) (int64, error) {
	if !k.Kind.IsValidField(k.Field) {
		return 0, fmt.Errorf("invalid field %q for counter kind %q", k.Field, k.Kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[k] += delta
	return s.counters[k], nil
}

func (s *Store) SetCounter(_ context.Context, k model.CounterKey, value int64) error {
	if !k.Kind.IsValidField(k.Field) {
		return fmt.Errorf("invalid field %q for counter kind %q", k.Field, k.Kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.counters[k]; !ok {
		return sql.ErrNoRows
	}
	s.counters[k] = value
	return nil
}

func (s *Store) GetUserStats(_ context.Context, tenantID, userID string) (*model.UserStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := model.CounterKey{Kind: model.CounterUser, TenantID: tenantID, UserID: userID}
	found := false
	get := func(field string) int64 {
		k := base
		k.Field = field
		v, ok := s.counters[k]
		found = found || ok
		return v
	}
	st := &model.UserStats{
		TenantID:           tenantID,
		UserID:             userID,
		DialogsCount:       get(model.FieldDialogsCount),
		UnreadDialogsCount: get(model.FieldUnreadDialogsCount),
		TotalUnreadCount:   get(model.FieldTotalUnreadCount),
		MessagesCount:      get(model.FieldMessagesCount),
	}
	if !found {
		return nil, sql.ErrNoRows
	}
	return st, nil
}

func (s *Store) ListUserDialogStats(_ context.Context, tenantID, userID string) ([]model.UserDialogStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.UserDialogStats
	for k, v := range s.counters {
		if k.Kind == model.CounterUserDialog && k.TenantID == tenantID && k.UserID == userID {
			out = append(out, model.UserDialogStats{DialogID: k.DialogID, UnreadCount: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DialogID < out[j].DialogID })
	return out, nil
}

func (s *Store) RecordCounterHistory(_ context.Context, h *model.CounterHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.HistoryErr != nil {
		return s.HistoryErr
	}
	h.ID = int64(len(s.history) + 1)
	h.CreatedAt = time.Now().UTC()
	cp := *h
	s.history = append(s.history, &cp)
	return nil
}

func (s *Store) ListCounterHistory(_ context.Context, tenantID, entityID string, limit int) ([]*model.CounterHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.CounterHistory
	for _, h := range s.history {
		if h.TenantID != tenantID || h.EntityID != entityID {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		cp := *h
		out = append(out, &cp)
	}
	return out, nil
}

// --- store.Directory ---

func (s *Store) ListDialogMembers(_ context.Context, tenantID, dialogID string) ([]model.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.members[key(tenantID, dialogID)]), nil
}

func (s *Store) GetMessage(_ context.Context, tenantID, messageID string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[key(tenantID, messageID)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *m
	return &cp, nil
}

func (s *Store) ListMessageStatuses(_ context.Context, tenantID, messageID string) ([]model.MessageStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.statuses[key(tenantID, messageID)]), nil
}

func (s *Store) GetUserProfiles(_ context.Context, tenantID string, userIDs []string) (map[string]*model.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*model.UserProfile, len(userIDs))
	for _, id := range userIDs {
		if p, ok := s.users[key(tenantID, id)]; ok {
			cp := *p
			out[id] = &cp
		}
	}
	return out, nil
}

func (s *Store) CountUserDialogs(_ context.Context, tenantID, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, ms := range s.members {
		for _, m := range ms {
			if m.TenantID == tenantID && m.UserID == userID && k == key(tenantID, m.DialogID) {
				n++
			}
		}
	}
	return n, nil
}

func (s *Store) CountUserMessages(_ context.Context, tenantID, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages {
		if m.TenantID == tenantID && m.SenderID == userID {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountUnreadByDialog(_ context.Context, tenantID, userID string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64)
	for _, ms := range s.members {
		for _, m := range ms {
			if m.TenantID == tenantID && m.UserID == userID {
				out[m.DialogID] = 0
			}
		}
	}
	for _, msg := range s.messages {
		if msg.TenantID != tenantID || msg.SenderID == userID {
			continue
		}
		if _, member := out[msg.DialogID]; !member {
			continue
		}
		read := slices.ContainsFunc(s.statuses[key(tenantID, msg.ID)], func(st model.MessageStatus) bool {
			return st.UserID == userID && st.Status == model.StatusRead
		})
		if !read {
			out[msg.DialogID]++
		}
	}
	return out, nil
}
