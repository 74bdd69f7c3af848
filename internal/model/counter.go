package model

import "time"

// CounterKind selects the denormalized counter table.
type CounterKind string

const (
	CounterUser       CounterKind = "user"
	CounterUserDialog CounterKind = "user_dialog"
	CounterReaction   CounterKind = "message_reaction"
	CounterStatus     CounterKind = "message_status"
)

// Counter fields. Each kind accepts only its own fields.
const (
	FieldDialogsCount       = "dialogs_count"
	FieldUnreadDialogsCount = "unread_dialogs_count"
	FieldTotalUnreadCount   = "total_unread_count"
	FieldMessagesCount      = "messages_count"
	FieldUnreadCount        = "unread_count"
	FieldCount              = "count"
)

var counterFields = map[CounterKind]map[string]bool{
	CounterUser: {
		FieldDialogsCount:       true,
		FieldUnreadDialogsCount: true,
		FieldTotalUnreadCount:   true,
		FieldMessagesCount:      true,
	},
	CounterUserDialog: {FieldUnreadCount: true},
	CounterReaction:   {FieldCount: true},
	CounterStatus:     {FieldCount: true},
}

// IsValidField reports whether field belongs to the counter kind.
func (k CounterKind) IsValidField(field string) bool {
	return counterFields[k][field]
}

// EntityType returns the entity type recorded in counter history rows.
func (k CounterKind) EntityType() string {
	switch k {
	case CounterUser:
		return "user"
	case CounterUserDialog:
		return "dialog"
	}
	return "message"
}

// CounterKey is the natural key of one counter cell.
type CounterKey struct {
	Kind      CounterKind `json:"kind"`
	TenantID  string      `json:"tenant_id"`
	UserID    string      `json:"user_id,omitempty"`
	DialogID  string      `json:"dialog_id,omitempty"`
	MessageID string      `json:"message_id,omitempty"`
	// Name is the reaction or status value for message tallies.
	Name  string `json:"name,omitempty"`
	Field string `json:"field"`
}

// EntityID returns the id recorded in counter history rows.
func (k CounterKey) EntityID() string {
	switch k.Kind {
	case CounterUser:
		return k.UserID
	case CounterUserDialog:
		return k.DialogID
	}
	return k.MessageID
}

// Counter history operations.
const (
	OpIncrement = "increment"
	OpDecrement = "decrement"
	OpClamp     = "clamp"
	OpReconcile = "reconcile"
)

// CounterHistory is an append-only audit row for one realized mutation.
type CounterHistory struct {
	ID              int64     `json:"id"`
	TenantID        string    `json:"tenant_id"`
	CounterType     string    `json:"counter_type"`
	EntityType      string    `json:"entity_type"`
	EntityID        string    `json:"entity_id"`
	Field           string    `json:"field"`
	OldValue        int64     `json:"old_value"`
	NewValue        int64     `json:"new_value"`
	Delta           int64     `json:"delta"`
	Operation       string    `json:"operation"`
	SourceOperation string    `json:"source_operation,omitempty"`
	SourceEntityID  string    `json:"source_entity_id,omitempty"`
	ActorID         string    `json:"actor_id,omitempty"`
	ActorType       string    `json:"actor_type,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// UserStats are the per-user aggregate counters.
type UserStats struct {
	TenantID           string            `json:"tenant_id"`
	UserID             string            `json:"user_id"`
	DialogsCount       int64             `json:"dialogs_count"`
	UnreadDialogsCount int64             `json:"unread_dialogs_count"`
	TotalUnreadCount   int64             `json:"total_unread_count"`
	MessagesCount      int64             `json:"messages_count"`
	Dialogs            []UserDialogStats `json:"dialogs,omitempty"`
	UpdatedAt          time.Time         `json:"updated_at,omitzero"`
}

// UserDialogStats are the per-user, per-dialog counters.
type UserDialogStats struct {
	DialogID    string `json:"dialog_id"`
	UnreadCount int64  `json:"unread_count"`
}
