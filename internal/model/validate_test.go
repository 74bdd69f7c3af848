package model

import (
	"encoding/json"
	"strings"
	"testing"
)

// validEvent returns an Event that passes all validation rules.
func validEvent() Event {
	return Event{
		TenantID:   "t1",
		EventType:  EventMessageCreate,
		EntityType: "message",
		EntityID:   "m1",
		Data:       json.RawMessage(`{"message":{"id":"m1","dialog_id":"d1","sender_id":"u1"}}`),
	}
}

// fieldErrors extracts a *ValidationError from err or fails the test.
func fieldErrors(t *testing.T, err error) []FieldError {
	t.Helper()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	return ve.Errors
}

// hasFieldError reports whether the error list contains an error for the given field.
func hasFieldError(errs []FieldError, field string) bool {
	for _, fe := range errs {
		if fe.Field == field {
			return true
		}
	}
	return false
}

func TestValidateEvent_Valid(t *testing.T) {
	e := validEvent()
	if err := ValidateEvent(&e); err != nil {
		t.Fatalf("expected valid event, got %v", err)
	}
}

func TestValidateEvent_RequiredFields(t *testing.T) {
	for _, tc := range []struct {
		field  string
		mutate func(*Event)
	}{
		{"tenant_id", func(e *Event) { e.TenantID = "" }},
		{"tenant_id", func(e *Event) { e.TenantID = "  \t" }},
		{"entity_type", func(e *Event) { e.EntityType = "" }},
		{"entity_id", func(e *Event) { e.EntityID = "" }},
		{"event_type", func(e *Event) { e.EventType = "" }},
		{"event_type", func(e *Event) { e.EventType = "message" }},
		{"event_type", func(e *Event) { e.EventType = "message." }},
		{"event_type", func(e *Event) { e.EventType = EventUserStatsUpdate }},
	} {
		t.Run(tc.field, func(t *testing.T) {
			e := validEvent()
			tc.mutate(&e)
			errs := fieldErrors(t, ValidateEvent(&e))
			if !hasFieldError(errs, tc.field) {
				t.Errorf("expected error on field %q, got %v", tc.field, errs)
			}
		})
	}
}

func TestValidateEvent_InvalidJSON(t *testing.T) {
	e := validEvent()
	e.Data = json.RawMessage(`{not json`)
	e.Metadata = json.RawMessage(`[1,`)
	errs := fieldErrors(t, ValidateEvent(&e))
	if !hasFieldError(errs, "data") {
		t.Error("expected error on field 'data'")
	}
	if !hasFieldError(errs, "metadata") {
		t.Error("expected error on field 'metadata'")
	}
}

func TestValidateEvent_MultipleErrors(t *testing.T) {
	e := Event{}
	err := ValidateEvent(&e)
	errs := fieldErrors(t, err)
	if len(errs) < 4 {
		t.Errorf("expected at least 4 errors, got %d: %v", len(errs), errs)
	}
	if !strings.HasPrefix(err.Error(), "validation failed: ") {
		t.Errorf("Error() = %q, want prefix %q", err.Error(), "validation failed: ")
	}
}
