package model

import "time"

// DefaultUserType is used when a member or user snapshot omits its type.
const DefaultUserType = "user"

// Member is one row of the read-only dialog membership lookup.
type Member struct {
	TenantID string    `json:"tenant_id"`
	DialogID string    `json:"dialog_id"`
	UserID   string    `json:"user_id"`
	UserType string    `json:"user_type"`
	Role     string    `json:"role,omitempty"`
	JoinedAt time.Time `json:"joined_at,omitzero"`
}

// Message is the primary message record, read only by the legacy rebuild path.
type Message struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	DialogID   string         `json:"dialog_id"`
	SenderID   string         `json:"sender_id"`
	SenderType string         `json:"sender_type"`
	Type       string         `json:"type"`
	Content    string         `json:"content"`
	Meta       map[string]any `json:"meta,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// MessageStatus is a per-recipient delivery status of a message.
type MessageStatus struct {
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// Well-known message statuses.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// UserProfile is the public profile of a user.
type UserProfile struct {
	UserID   string         `json:"user_id"`
	UserType string         `json:"user_type,omitempty"`
	Name     string         `json:"name,omitempty"`
	Avatar   string         `json:"avatar,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}
