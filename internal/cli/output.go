package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/agbru/imgloader/internal/config"
	apperrors "github.com/agbru/imgloader/internal/errors"
)

// LoadResult captures the outcome of a single load for presentation.
type LoadResult struct {
	// URL is the requested resource.
	URL string
	// OutputPath is the file the decoded image was written to, empty on failure.
	OutputPath string
	// Width and Height are the dimensions of the delivered image.
	Width  int
	Height int
	// Duration is the wall time from submission to completion.
	Duration time.Duration
	// Err is the terminal error, nil on success.
	Err error
}

// PrintRunConfig displays the effective configuration before loading starts.
func PrintRunConfig(cfg config.AppConfig, out io.Writer) {
	fmt.Fprintf(out, "Loading %d image(s)\n", len(cfg.URLs))
	if cfg.TargetWidth > 0 {
		mode := "fit"
		if cfg.Fill {
			mode = "fill"
		}
		fmt.Fprintf(out, "  Target size:  %dx%d (aspect-%s)\n", cfg.TargetWidth, cfg.TargetHeight, mode)
	}
	if cfg.CacheDir != "" {
		fmt.Fprintf(out, "  Disk cache:   %s\n", cfg.CacheDir)
	}
	fmt.Fprintf(out, "  Output dir:   %s\n", cfg.OutputDir)
	fmt.Fprintf(out, "  Concurrency:  %d fetches, %d lookups, %d decodes, %d processes\n",
		cfg.MaxFetches, cfg.MaxLookups, cfg.MaxDecodes, cfg.MaxProcesses)
}

// PrintSummaryTable displays the per-URL outcome table with durations and
// status in a formatted tabular layout. Uses manual padding to correctly
// handle ANSI color codes.
func PrintSummaryTable(results []LoadResult, out io.Writer) {
	fmt.Fprintf(out, "\n--- Load Summary ---\n")

	// Find the maximum column widths for proper alignment
	maxURLLen := 3 // "URL" header length
	maxDurationLen := 8
	for _, res := range results {
		u := truncateURL(res.URL)
		if len(u) > maxURLLen {
			maxURLLen = len(u)
		}
		d := FormatExecutionDuration(res.Duration)
		if len(d) > maxDurationLen {
			maxDurationLen = len(d)
		}
	}

	fmt.Fprintf(out, "%sURL%s%s   %sDuration%s%s   %sStatus%s\n",
		ColorUnderline(), ColorReset(), padRight("", maxURLLen-3),
		ColorUnderline(), ColorReset(), padRight("", maxDurationLen-8),
		ColorUnderline(), ColorReset())

	for _, res := range results {
		var status string
		if res.Err != nil {
			status = fmt.Sprintf("%s✗ %v%s", ColorRed(), res.Err, ColorReset())
		} else {
			status = fmt.Sprintf("%s✓ %dx%d → %s%s", ColorGreen(), res.Width, res.Height, res.OutputPath, ColorReset())
		}
		u := truncateURL(res.URL)
		duration := FormatExecutionDuration(res.Duration)
		fmt.Fprintf(out, "%s%s%s%s   %s%s%s%s   %s\n",
			ColorBlue(), u, ColorReset(), padRight("", maxURLLen-len(u)),
			ColorYellow(), duration, ColorReset(), padRight("", maxDurationLen-len(duration)),
			status)
	}
}

// padRight returns s followed by spaces up to the given padding length.
func padRight(s string, length int) string {
	if length <= 0 {
		return s
	}
	return s + fmt.Sprintf("%*s", length, "")
}

// ExitCodeFor derives the process exit code from a batch of load results.
// All failures map to a generic error, a mix of failures and successes to a
// partial error, and context cancellation anywhere to the canceled code.
func ExitCodeFor(results []LoadResult) int {
	failures := 0
	canceled := false
	for _, res := range results {
		if res.Err != nil {
			failures++
			if apperrors.IsContextError(res.Err) {
				canceled = true
			}
		}
	}
	switch {
	case failures == 0:
		return apperrors.ExitSuccess
	case canceled:
		return apperrors.ExitErrorCanceled
	case failures == len(results):
		return apperrors.ExitErrorGeneric
	default:
		return apperrors.ExitErrorPartial
	}
}
