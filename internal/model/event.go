package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventType names a domain occurrence, e.g. "message.create".
type EventType string

// Dialog-level events.
const (
	EventDialogCreate       EventType = "dialog.create"
	EventDialogUpdate       EventType = "dialog.update"
	EventDialogDelete       EventType = "dialog.delete"
	EventDialogMemberAdd    EventType = "dialog.member.add"
	EventDialogMemberRemove EventType = "dialog.member.remove"
	EventDialogMemberUpdate EventType = "dialog.member.update"
	EventDialogTyping       EventType = "dialog.typing"
)

// Message-level events.
const (
	EventMessageCreate         EventType = "message.create"
	EventMessageUpdate         EventType = "message.update"
	EventMessageReactionUpdate EventType = "message.reaction.update"
	EventMessageStatusUpdate   EventType = "message.status.update"
)

// User-level events.
const (
	EventUserAdd    EventType = "user.add"
	EventUserUpdate EventType = "user.update"
	EventUserRemove EventType = "user.remove"

	// EventUserStatsUpdate is synthetic: it is never appended to the log, it
	// only labels the stats Updates built when a counter batch is finalized.
	EventUserStatsUpdate EventType = "user.stats.update"
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}

// Action returns the trailing dot-separated segment ("create" for
// "dialog.member.create").
func (t EventType) Action() string {
	s := string(t)
	if i := strings.LastIndex(s, "."); i >= 0 {
		return s[i+1:]
	}
	return s
}

// IsValid reports whether the event type has at least an entity and an action
// segment.
func (t EventType) IsValid() bool {
	s := string(t)
	if s == "" || strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") {
		return false
	}
	return strings.Contains(s, ".")
}

// Event is an immutable record of a domain occurrence. Data must be a
// self-sufficient snapshot of the affected entities.
type Event struct {
	ID         int64           `json:"id"`
	TenantID   string          `json:"tenant_id"`
	EventID    string          `json:"event_id"`
	EventType  EventType       `json:"event_type"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	ActorID    string          `json:"actor_id,omitempty"`
	ActorType  string          `json:"actor_type,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ParseData decodes the event snapshot. An empty payload yields an empty
// EventData rather than an error.
func (e *Event) ParseData() (*EventData, error) {
	var d EventData
	if len(e.Data) == 0 {
		return &d, nil
	}
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return nil, fmt.Errorf("decode event %s data: %w", e.EventID, err)
	}
	return &d, nil
}

// EventData is the snapshot embedded in an event by the emitting write path.
type EventData struct {
	Dialog   *DialogSnapshot  `json:"dialog,omitempty"`
	Member   *MemberSnapshot  `json:"member,omitempty"`
	Message  *MessageSnapshot `json:"message,omitempty"`
	Typing   *TypingSnapshot  `json:"typing,omitempty"`
	User     *UserSnapshot    `json:"user,omitempty"`
	Reaction *ReactionChange  `json:"reaction,omitempty"`
	Status   *StatusChange    `json:"status,omitempty"`

	// Changes lists the field names touched by a partial update.
	Changes []string `json:"changes,omitempty"`
}

// DialogSnapshot is the dialog section of an event or update.
type DialogSnapshot struct {
	ID        string         `json:"id"`
	Name      string         `json:"name,omitempty"`
	Type      string         `json:"type,omitempty"`
	CreatedBy string         `json:"created_by,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"created_at,omitzero"`
	UpdatedAt time.Time      `json:"updated_at,omitzero"`
}

// MemberSnapshot is the member section of an event or update.
type MemberSnapshot struct {
	UserID   string         `json:"user_id"`
	UserType string         `json:"user_type,omitempty"`
	Role     string         `json:"role,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
	JoinedAt time.Time      `json:"joined_at,omitzero"`
}

// MessageSnapshot is the message section of an event or update.
type MessageSnapshot struct {
	ID         string          `json:"id"`
	DialogID   string          `json:"dialog_id"`
	SenderID   string          `json:"sender_id"`
	SenderType string          `json:"sender_type,omitempty"`
	Type       string          `json:"type,omitempty"`
	Content    string          `json:"content,omitempty"`
	Meta       map[string]any  `json:"meta,omitempty"`
	Statuses   []MessageStatus `json:"statuses,omitempty"`
	Reactions  map[string]int  `json:"reactions,omitempty"`
	Sender     *UserProfile    `json:"sender,omitempty"`
	CreatedAt  time.Time       `json:"created_at,omitzero"`
	UpdatedAt  time.Time       `json:"updated_at,omitzero"`
}

// TypingSnapshot is an ephemeral typing descriptor. Consumers expire it
// client-side after ExpiresInMs.
type TypingSnapshot struct {
	UserID      string       `json:"user_id"`
	ExpiresInMs int64        `json:"expires_in_ms"`
	Timestamp   time.Time    `json:"timestamp"`
	Profile     *UserProfile `json:"profile,omitempty"`
}

// UserSnapshot is the user section of an event.
type UserSnapshot struct {
	UserID   string         `json:"user_id"`
	UserType string         `json:"user_type,omitempty"`
	Name     string         `json:"name,omitempty"`
	Avatar   string         `json:"avatar,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// ReactionChange describes a toggled reaction.
type ReactionChange struct {
	Reaction string `json:"reaction"`
	UserID   string `json:"user_id"`
	Removed  bool   `json:"removed,omitempty"`
}

// StatusChange describes a per-user message status transition.
type StatusChange struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
	Prev   string `json:"prev,omitempty"`
}
