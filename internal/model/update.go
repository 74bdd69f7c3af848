package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// UpdateType classifies an Update for routing.
type UpdateType string

const (
	UpdateDialog       UpdateType = "DialogUpdate"
	UpdateDialogMember UpdateType = "DialogMemberUpdate"
	UpdateMessage      UpdateType = "MessageUpdate"
	UpdateTyping       UpdateType = "TypingUpdate"
	UpdateUser         UpdateType = "UserUpdate"
	UpdateUserStats    UpdateType = "UserStatsUpdate"
)

// Routing categories.
const (
	CategoryDialog = "dialog"
	CategoryUser   = "user"
)

// UpdateTypeFor maps an event type to the update type consumers receive.
// Unknown event types map to the empty string.
func UpdateTypeFor(t EventType) UpdateType {
	switch t {
	case EventDialogCreate, EventDialogUpdate, EventDialogDelete,
		EventDialogMemberAdd, EventDialogMemberRemove:
		return UpdateDialog
	case EventDialogMemberUpdate:
		return UpdateDialogMember
	case EventMessageCreate, EventMessageUpdate,
		EventMessageReactionUpdate, EventMessageStatusUpdate:
		return UpdateMessage
	case EventDialogTyping:
		return UpdateTyping
	case EventUserAdd, EventUserUpdate, EventUserRemove:
		return UpdateUser
	case EventUserStatsUpdate:
		return UpdateUserStats
	}
	return ""
}

// Category returns the routing category: "user" for user and stats updates,
// "dialog" for everything else.
func (t UpdateType) Category() string {
	switch t {
	case UpdateUser, UpdateUserStats:
		return CategoryUser
	}
	return CategoryDialog
}

// String returns the string representation of the update type.
func (t UpdateType) String() string {
	return string(t)
}

// Update is one delivery unit addressed to one recipient. It is created once
// and afterwards only ever marked published.
type Update struct {
	ID          int64      `json:"id"`
	TenantID    string     `json:"tenant_id"`
	UserID      string     `json:"user_id"`
	UserType    string     `json:"user_type"`
	DialogID    string     `json:"dialog_id,omitempty"`
	EntityID    string     `json:"entity_id"`
	EventID     string     `json:"event_id"`
	EventType   EventType  `json:"event_type"`
	Data        UpdateData `json:"data"`
	Published   bool       `json:"published"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Type returns the update type derived from the event type.
func (u *Update) Type() UpdateType {
	return UpdateTypeFor(u.EventType)
}

// Key identifies the update for idempotency (one per recipient, event and type).
func (u *Update) Key() string {
	return fmt.Sprintf("%s:%s:%s:%s", u.TenantID, u.UserID, u.EventID, u.EventType)
}

// UpdateData holds the sections of an update plus its context descriptor.
type UpdateData struct {
	Dialog  *DialogSnapshot  `json:"dialog,omitempty"`
	Member  *MemberSnapshot  `json:"member,omitempty"`
	Message *MessageSnapshot `json:"message,omitempty"`
	Typing  *TypingSnapshot  `json:"typing,omitempty"`
	User    *UserSection     `json:"user,omitempty"`
	Context UpdateContext    `json:"context"`
}

// UserSection carries a user profile and, for stats updates, the counters.
type UserSection struct {
	UserID   string         `json:"user_id"`
	UserType string         `json:"user_type,omitempty"`
	Name     string         `json:"name,omitempty"`
	Avatar   string         `json:"avatar,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
	Stats    *UserStats     `json:"stats,omitempty"`
}

// UpdateContext lets thin consumers patch rather than replace.
type UpdateContext struct {
	EventType     EventType `json:"event_type"`
	EntityID      string    `json:"entity_id"`
	Sections      []string  `json:"sections"`
	ChangedFields []string  `json:"changed_fields,omitempty"`
}

// Section names recorded in UpdateContext.Sections.
const (
	SectionDialog  = "dialog"
	SectionMember  = "member"
	SectionMessage = "message"
	SectionTyping  = "typing"
	SectionUser    = "user"
)

// UpdateEnvelope is the broker representation of an update; internal row ids
// are stripped.
type UpdateEnvelope struct {
	TenantID   string     `json:"tenant_id"`
	UserID     string     `json:"user_id"`
	UserType   string     `json:"user_type"`
	DialogID   string     `json:"dialog_id,omitempty"`
	EntityID   string     `json:"entity_id"`
	EventID    string     `json:"event_id"`
	EventType  EventType  `json:"event_type"`
	UpdateType UpdateType `json:"update_type"`
	Data       UpdateData `json:"data"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Envelope returns the broker representation of u.
func (u *Update) Envelope() UpdateEnvelope {
	return UpdateEnvelope{
		TenantID:   u.TenantID,
		UserID:     u.UserID,
		UserType:   u.UserType,
		DialogID:   u.DialogID,
		EntityID:   u.EntityID,
		EventID:    u.EventID,
		EventType:  u.EventType,
		UpdateType: u.Type(),
		Data:       u.Data,
		CreatedAt:  u.CreatedAt,
	}
}

// MarshalData encodes the update sections for storage.
func (u *Update) MarshalData() ([]byte, error) {
	return json.Marshal(u.Data)
}

// UpdateFilter narrows an update listing.
type UpdateFilter struct {
	TenantID  string
	UserID    string
	DialogID  string
	EventType []EventType
	Published *bool
	Limit     int
	Offset    int
}

// ParseEventTypes splits a comma-separated list of event types.
func ParseEventTypes(s string) []EventType {
	var out []EventType
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, EventType(part))
		}
	}
	return out
}
