// Package reporter contains the sinks that correlation results are
// written to.
package reporter

import (
	"fmt"

	"github.com/kpaschen/windowjoin/lib/datatypes"
)

// A Reporter receives the results of a run, one window at a time.
// For every processed window the calls arrive in the order
// InitializeWindow, AddConstantRows, AddCorrelatedPairs, Flush.
// Skipped windows only get SkipWindow. Calls for one window are never
// interleaved with calls for another window, but windows may arrive out
// of order when they are processed in parallel.
type Reporter interface {
	// InitializeWindow is called before any results for window are
	// reported. start and end are the sample offsets of the window.
	InitializeWindow(window int, start int, end int, tsids []datatypes.TsId) error

	AddConstantRows(window int, constantRows []bool) error

	AddCorrelatedPairs(result datatypes.CorrjoinResult) error

	// SkipWindow records that window produced no results because of reason.
	SkipWindow(window int, reason error)

	Flush(window int) error
}

// fileSuffix names the result files of a window, e.g. 3_30-330, or
// 1727164800000_3_30-330 when the window belongs to batch 1727164800000.
// Batch 0 is left out.
func fileSuffix(batch int64, window int, start int, end int) string {
	if batch == 0 {
		return fmt.Sprintf("%d_%d-%d", window, start, end)
	}
	return fmt.Sprintf("%d_%d_%d-%d", batch, window, start, end)
}
