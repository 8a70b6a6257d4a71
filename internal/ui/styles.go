// Package ui renders CLI output: ANSI colors when stdout is a terminal and
// aligned key/value listings for status commands.
package ui

import (
	"fmt"
	"io"
	"strings"
)

// ANSI256 color codes.
const (
	colorAccent = 74  // blue
	colorCmd    = 250 // light gray
	colorMuted  = 245 // medium gray
	colorOK     = 71  // green
	colorWarn   = 179 // amber
	colorFail   = 167 // red
)

var noColor bool

func render(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent color.
func RenderAccent(s string) string { return render(colorAccent, s) }

// RenderCommand returns s styled as a command name.
func RenderCommand(s string) string { return render(colorCmd, s) }

// RenderMuted returns s in gray.
func RenderMuted(s string) string { return render(colorMuted, s) }

// RenderOK returns s in green.
func RenderOK(s string) string { return render(colorOK, s) }

// RenderWarn returns s in amber.
func RenderWarn(s string) string { return render(colorWarn, s) }

// RenderFail returns s in red.
func RenderFail(s string) string { return render(colorFail, s) }

// RenderCount colors n green when zero and amber otherwise, for backlog
// style counters where zero is the healthy value.
func RenderCount(n int64) string {
	s := fmt.Sprint(n)
	if n == 0 {
		return RenderOK(s)
	}
	return RenderWarn(s)
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}

// Field is one line of a key/value listing.
type Field struct {
	Key   string
	Value string
}

// PrintFields writes fields with keys padded to a common width and muted.
func PrintFields(w io.Writer, fields []Field) {
	width := 0
	for _, f := range fields {
		width = max(width, len(f.Key))
	}
	for _, f := range fields {
		key := f.Key + ":" + strings.Repeat(" ", width-len(f.Key))
		fmt.Fprintf(w, "%s  %s\n", RenderMuted(key), f.Value)
	}
}
