// Package term detects interactive terminals so report rendering can
// decide whether ANSI color is welcome. Detection is per-platform; the
// portable surface is two functions.
package term

import "os"

// IsTerminal reports whether f refers to an interactive terminal.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return isTerminal(f.Fd())
}

// ShouldColor resolves a color mode against the writer: "always" and
// "never" are absolute, "auto" colors interactive terminals unless
// NO_COLOR is set.
func ShouldColor(mode string, f *os.File) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return IsTerminal(f)
}
