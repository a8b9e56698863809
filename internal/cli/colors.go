package cli

import "os"

// ANSI escape codes used by the summary table. Color output is disabled when
// NO_COLOR is set or stdout is not a terminal-like destination.
const (
	ansiGreen     = "\033[38;5;82m"
	ansiRed       = "\033[38;5;196m"
	ansiYellow    = "\033[38;5;220m"
	ansiBlue      = "\033[38;5;39m"
	ansiUnderline = "\033[4m"
	ansiReset     = "\033[0m"
)

var colorsEnabled = os.Getenv("NO_COLOR") == ""

// SetColorsEnabled toggles ANSI color output globally.
func SetColorsEnabled(enabled bool) {
	colorsEnabled = enabled
}

func color(code string) string {
	if !colorsEnabled {
		return ""
	}
	return code
}

// ColorGreen returns the success color escape code, or empty when disabled.
func ColorGreen() string { return color(ansiGreen) }

// ColorRed returns the failure color escape code, or empty when disabled.
func ColorRed() string { return color(ansiRed) }

// ColorYellow returns the highlight color escape code, or empty when disabled.
func ColorYellow() string { return color(ansiYellow) }

// ColorBlue returns the primary color escape code, or empty when disabled.
func ColorBlue() string { return color(ansiBlue) }

// ColorUnderline returns the underline escape code, or empty when disabled.
func ColorUnderline() string { return color(ansiUnderline) }

// ColorReset returns the reset escape code, or empty when disabled.
func ColorReset() string { return color(ansiReset) }
