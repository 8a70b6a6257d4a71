package ui

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// ColorMode is the value of the --color flag and CRATES_COLOR.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

// ParseColorMode accepts auto, always or never. Empty means auto.
func ParseColorMode(s string) (ColorMode, error) {
	switch m := ColorMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ColorAuto, nil
	case ColorAuto, ColorAlways, ColorNever:
		return m, nil
	default:
		return "", fmt.Errorf("color mode %q: want auto, always or never", s)
	}
}

var colorMode = ColorAuto

// ShouldUseColor reports whether output to stdout gets ANSI colors under the
// mode passed to Setup.
func ShouldUseColor() bool {
	return colorEnabled(colorMode, os.Getenv, term.IsTerminal(int(os.Stdout.Fd())))
}

// colorEnabled applies, in order: an explicit mode, NO_COLOR, CRATES_COLOR,
// CLICOLOR_FORCE, CLICOLOR, and finally whether stdout is a terminal.
func colorEnabled(mode ColorMode, getenv func(string) string, tty bool) bool {
	switch mode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}
	if getenv("NO_COLOR") != "" {
		return false
	}
	if m, err := ParseColorMode(getenv("CRATES_COLOR")); err == nil && m != ColorAuto {
		return m == ColorAlways
	}
	if strings.TrimSpace(getenv("CLICOLOR_FORCE")) == "1" {
		return true
	}
	if strings.TrimSpace(getenv("CLICOLOR")) == "0" {
		return false
	}
	return tty
}

// Setup records mode and disables colors unless ShouldUseColor allows them.
func Setup(mode ColorMode) {
	colorMode = mode
	if !ShouldUseColor() {
		ForceNoColor()
	}
}
