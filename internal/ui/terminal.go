package ui

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// ShouldUseColor returns true when ANSI colors should be used on stdout.
// It respects NO_COLOR, CLICOLOR_FORCE, CLICOLOR, and TTY detection.
func ShouldUseColor() bool {
	// https://no-color.org: any non-empty value disables color.
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR_FORCE")) == "1" {
		return true
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR")) == "0" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Width returns the stdout terminal width, or fallback when stdout is not a
// terminal.
func Width(fallback int) int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return fallback
	}
	return w
}

// Truncate shortens s to at most width runes, marking the cut with "...".
func Truncate(s string, width int) string {
	r := []rune(s)
	if width <= 0 || len(r) <= width {
		return s
	}
	if width <= 3 {
		return string(r[:width])
	}
	return string(r[:width-3]) + "..."
}
