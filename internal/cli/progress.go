package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/briandowns/spinner"
)

// ProgressUpdate carries the progress of a single load to the display loop.
type ProgressUpdate struct {
	// Index identifies the load (0 to numLoads-1).
	Index int
	// Fraction is the normalized progress (0.0 to 1.0). Loads with an unknown
	// total length report 0 until completion.
	Fraction float64
}

// DisplayProgress renders a spinner and an aggregated progress bar for a set
// of concurrent loads. It consumes updates from progressChan until the channel
// is closed, then stops the spinner and signals wg.
//
// Parameters:
//   - wg: WaitGroup signalled when the display loop terminates.
//   - progressChan: Source of per-load progress updates.
//   - numLoads: The number of loads being tracked.
//   - out: Destination writer for the spinner output.
func DisplayProgress(wg *sync.WaitGroup, progressChan <-chan ProgressUpdate, numLoads int, out io.Writer) {
	defer wg.Done()

	state := NewProgressState(numLoads)
	sp := newSpinner(spinner.WithWriter(out))
	sp.UpdateSuffix(fmt.Sprintf(" Loading... [%s] 0.0%%", progressBar(0, ProgressBarWidth)))
	sp.Start()
	defer sp.Stop()

	for update := range progressChan {
		state.Update(update.Index, update.Fraction)
		avg := state.CalculateAverage()
		sp.UpdateSuffix(fmt.Sprintf(" Loading... [%s] %.1f%%",
			progressBar(avg, ProgressBarWidth), avg*100))
	}
}
