// Package ui renders CLI output with optional ANSI colour.
package ui

import (
	"fmt"
	"strings"

	"github.com/alfredjeanlab/chatd/internal/model"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorMuted  = 245 // medium gray
	colorOK     = 114 // green
	colorWarn   = 179 // amber
	colorError  = 203 // red
)

var noColor bool

func render(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return render(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return render(colorMuted, s) }

// RenderOK returns s in green.
func RenderOK(s string) string { return render(colorOK, s) }

// RenderWarn returns s in amber.
func RenderWarn(s string) string { return render(colorWarn, s) }

// RenderError returns s in red.
func RenderError(s string) string { return render(colorError, s) }

// RenderBrokerState colours a broker state reported by the health endpoint.
func RenderBrokerState(state string) string {
	switch state {
	case "connected":
		return RenderOK(state)
	case "disabled":
		return RenderWarn(state)
	}
	return RenderError(state)
}

// RenderEventType colours an event type by its entity family.
func RenderEventType(t model.EventType) string {
	s := string(t)
	switch {
	case strings.HasPrefix(s, "message."):
		return RenderAccent(s)
	case strings.HasPrefix(s, "user."):
		return RenderOK(s)
	case strings.HasPrefix(s, "dialog.typing"):
		return RenderMuted(s)
	}
	return s
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
