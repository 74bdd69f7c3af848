package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ValidateEvent checks an Event before it is appended.
// It returns a *ValidationError if any rules fail, or nil if the event is valid.
func ValidateEvent(e *Event) error {
	var ve ValidationError

	required := []struct {
		field string
		value string
	}{
		{"tenant_id", e.TenantID},
		{"entity_type", e.EntityType},
		{"entity_id", e.EntityID},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			ve.Errors = append(ve.Errors, FieldError{Field: r.field, Message: "is required"})
		}
	}

	if !e.EventType.IsValid() {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "event_type",
			Message: fmt.Sprintf("invalid value %q", e.EventType),
		})
	}

	// The synthetic stats type labels Updates only.
	if e.EventType == EventUserStatsUpdate {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "event_type",
			Message: "is reserved for stats updates",
		})
	}

	if len(e.Data) > 0 && !json.Valid(e.Data) {
		ve.Errors = append(ve.Errors, FieldError{Field: "data", Message: "contains invalid JSON"})
	}
	if len(e.Metadata) > 0 && !json.Valid(e.Metadata) {
		ve.Errors = append(ve.Errors, FieldError{Field: "metadata", Message: "contains invalid JSON"})
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}
