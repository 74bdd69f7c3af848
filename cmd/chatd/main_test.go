package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/chatd/internal/counter"
	"github.com/alfredjeanlab/chatd/internal/model"
)

// runCLI executes the root command against a test server and returns stdout.
func runCLI(t *testing.T, h http.Handler, args ...string) (string, error) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--http-url", srv.URL, "--no-color"}, args...))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestReadJSONArg(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "data.json")
	if err := os.WriteFile(file, []byte(`{"typing":{"user_id":"u1"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		arg     string
		stdin   string
		want    string
		wantErr bool
	}{
		{"empty", "", "", "", false},
		{"inline", `{"a":1}`, "", `{"a":1}`, false},
		{"file", "@" + file, "", `{"typing":{"user_id":"u1"}}`, false},
		{"stdin", "-", `{"b":2}`, `{"b":2}`, false},
		{"invalid", `{nope`, "", "", true},
		{"missing file", "@" + filepath.Join(dir, "absent.json"), "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readJSONArg(tt.arg, strings.NewReader(tt.stdin))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if string(got) != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEmitCommand(t *testing.T) {
	var body map[string]any
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/events" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"event":    model.Event{ID: 7, EventID: "evt_abc", EventType: model.EventMessageCreate},
			"updates":  3,
			"warnings": []string{"counters: boom"},
		})
	})

	out, err := runCLI(t, h, "emit", "message.create",
		"--tenant", "t1", "--entity-id", "m1", "--actor", "u1",
		"--data", `{"message":{"message_id":"m1","dialog_id":"d1"}}`)
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if body["tenant_id"] != "t1" || body["entity_type"] != "message" || body["event_type"] != "message.create" {
		t.Fatalf("unexpected request body: %v", body)
	}
	if !strings.Contains(out, "Appended message.create evt_abc (3 updates)") {
		t.Errorf("missing summary line:\n%s", out)
	}
	if !strings.Contains(out, "warning: counters: boom") {
		t.Errorf("missing warning:\n%s", out)
	}
}

func TestStatsCommand(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/users/t1/u1/stats" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(model.UserStats{
			TenantID: "t1", UserID: "u1", DialogsCount: 2, UnreadDialogsCount: 1, TotalUnreadCount: 4,
			Dialogs: []model.UserDialogStats{{DialogID: "d1", UnreadCount: 4}},
		})
	})
	out, err := runCLI(t, h, "stats", "t1", "u1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	for _, want := range []string{"User:            t1/u1", "Total unread:    4", "d1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestHealthCommandUnhealthy(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "degraded", "broker": "disconnected"})
	})
	out, err := runCLI(t, h, "health")
	if err == nil {
		t.Fatal("expected error for degraded status")
	}
	if !strings.Contains(out, "Broker: disconnected") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestPrintReconcileReport(t *testing.T) {
	var buf bytes.Buffer
	printReconcileReport(&buf, &counter.ReconcileReport{TenantID: "t1", UserID: "u1"})
	if got := buf.String(); got != "t1/u1: counters consistent\n" {
		t.Errorf("got %q", got)
	}

	buf.Reset()
	printReconcileReport(&buf, &counter.ReconcileReport{
		TenantID: "t1", UserID: "u1",
		Corrections: []counter.Correction{
			{Field: model.FieldTotalUnreadCount, Old: 5, New: 3},
			{Field: model.FieldUnreadCount, DialogID: "d1", Old: 5, New: 3},
		},
	})
	want := "t1/u1: 2 corrections\n  total_unread_count 5 -> 3\n  d1:unread_count 5 -> 3\n"
	if got := buf.String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestPrintEnvelope(t *testing.T) {
	var buf bytes.Buffer
	printEnvelope(&buf, &model.UpdateEnvelope{
		EntityID:   "u1",
		EventType:  model.EventUserStatsUpdate,
		UpdateType: model.UpdateUserStats,
		Data: model.UpdateData{Context: model.UpdateContext{
			ChangedFields: []string{"total_unread_count", "unread_count"},
		}},
		CreatedAt: time.Date(2026, 1, 1, 12, 30, 0, 0, time.UTC),
	})
	want := "12:30:00 UserStatsUpdate user.stats.update u1 [total_unread_count,unread_count]\n"
	if got := buf.String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
