package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/briandowns/spinner"
)

// FormatExecutionDuration formats a time.Duration for display.
// It shows microseconds for durations less than a millisecond, milliseconds for
// durations less than a second, and the default string representation otherwise.
//
// Parameters:
//   - d: The duration to format.
//
// Returns:
//   - string: A formatted string representing the duration.
func FormatExecutionDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	} else if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.String()
}

const (
	// ProgressRefreshRate defines the refresh frequency of the progress bar.
	ProgressRefreshRate = 200 * time.Millisecond
	// ProgressBarWidth defines the width in characters of the progress bar.
	ProgressBarWidth = 40
	// URLDisplayLimit is the character threshold from which a URL is truncated
	// in the summary table to avoid cluttering the terminal.
	URLDisplayLimit = 60
)

// Spinner is an interface that abstracts the behavior of a terminal spinner.
// This allows the DisplayProgress function to be decoupled from a specific
// spinner implementation, facilitating easier testing.
type Spinner interface {
	// Start begins the spinner animation.
	Start()
	// Stop halts the spinner animation.
	Stop()
	// UpdateSuffix sets the text that is displayed after the spinner.
	//
	// Parameters:
	//   - suffix: The text string to display.
	UpdateSuffix(suffix string)
}

// realSpinner is a wrapper for the `spinner.Spinner` that implements the
// `Spinner` interface.
type realSpinner struct {
	s *spinner.Spinner
}

// Start begins the spinner animation.
func (rs *realSpinner) Start() {
	rs.s.Start()
}

// Stop halts the spinner animation.
func (rs *realSpinner) Stop() {
	rs.s.Stop()
}

// UpdateSuffix sets the text that is displayed after the spinner.
func (rs *realSpinner) UpdateSuffix(suffix string) {
	rs.s.Suffix = suffix
}

var newSpinner = func(options ...spinner.Option) Spinner {
	// Using the same interval as ProgressRefreshRate to synchronize
	s := spinner.New(spinner.CharSets[11], ProgressRefreshRate, options...)
	return &realSpinner{s}
}

// ProgressState encapsulates the aggregated progress of concurrent loads.
// It maintains the individual fraction of each tracked load and computes the
// average, providing a consolidated view when multiple loads run in parallel.
type ProgressState struct {
	fractions []float64
	numLoads  int
}

// NewProgressState creates and initializes a new ProgressState.
//
// Parameters:
//   - numLoads: The number of loads to track.
//
// Returns:
//   - *ProgressState: A pointer to the new progress state object.
func NewProgressState(numLoads int) *ProgressState {
	return &ProgressState{
		fractions: make([]float64, numLoads),
		numLoads:  numLoads,
	}
}

// Update records a new progress fraction for a specific load. Updates are only
// applied for valid load indices.
//
// Parameters:
//   - index: The index of the load (0 to numLoads-1).
//   - value: The progress fraction (0.0 to 1.0).
func (ps *ProgressState) Update(index int, value float64) {
	if index >= 0 && index < len(ps.fractions) {
		ps.fractions[index] = value
	}
}

// CalculateAverage computes the average progress across all tracked loads.
//
// Returns:
//   - float64: The average progress (0.0 to 1.0).
func (ps *ProgressState) CalculateAverage() float64 {
	var total float64
	for _, p := range ps.fractions {
		total += p
	}
	if ps.numLoads == 0 {
		return 0.0
	}
	return total / float64(ps.numLoads)
}

// progressBar generates a string representing a textual progress bar.
//
// Parameters:
//   - progress: The normalized progress value (0.0 to 1.0).
//   - length: The total character width of the progress bar.
//
// Returns:
//   - string: A string representation of the progress bar.
func progressBar(progress float64, length int) string {
	if progress > 1.0 {
		progress = 1.0
	}
	if progress < 0.0 {
		progress = 0.0
	}
	count := int(progress * float64(length))
	var builder strings.Builder
	builder.Grow(length)
	for i := 0; i < length; i++ {
		if i < count {
			builder.WriteRune('█')
		} else {
			builder.WriteRune('░')
		}
	}
	return builder.String()
}

// truncateURL shortens a URL for tabular display, keeping the start and end.
func truncateURL(u string) string {
	if len(u) <= URLDisplayLimit {
		return u
	}
	edge := (URLDisplayLimit - 3) / 2
	return u[:edge] + "..." + u[len(u)-edge:]
}
