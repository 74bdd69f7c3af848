package ui

import (
	"strings"
	"testing"

	"github.com/alfredjeanlab/chatd/internal/model"
)

func TestShouldUseColor(t *testing.T) {
	tests := []struct {
		name    string
		noColor string
		force   string
		cli     string
		want    bool
	}{
		{"no_color wins", "1", "1", "", false},
		{"force", "", "1", "", true},
		{"clicolor off", "", "", "0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NO_COLOR", tt.noColor)
			t.Setenv("CLICOLOR_FORCE", tt.force)
			t.Setenv("CLICOLOR", tt.cli)
			if got := ShouldUseColor(); got != tt.want {
				t.Fatalf("ShouldUseColor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"hello", 10, "hello"},
		{"hello world", 8, "hello..."},
		{"héllo wörld", 8, "héllo..."},
		{"hello", 2, "he"},
		{"hello", 0, "hello"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.width); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}

func TestRenderBrokerState(t *testing.T) {
	prev := noColor
	t.Cleanup(func() { noColor = prev })

	noColor = false
	if got := RenderBrokerState("connected"); !strings.Contains(got, "\x1b[38;5;114m") {
		t.Errorf("connected not green: %q", got)
	}
	if got := RenderBrokerState("disconnected"); !strings.Contains(got, "\x1b[38;5;203m") {
		t.Errorf("disconnected not red: %q", got)
	}

	ForceNoColor()
	if got := RenderEventType(model.EventMessageCreate); got != "message.create" {
		t.Errorf("plain render = %q", got)
	}
}
