package reporter

import (
	"log"

	"github.com/kpaschen/windowjoin/lib/datatypes"
)

// LogReporter writes one line per correlated pair.
type LogReporter struct {
	logger *log.Logger
}

func NewLogReporter(logger *log.Logger) *LogReporter {
	if logger == nil {
		logger = log.Default()
	}
	return &LogReporter{logger: logger}
}

func (r *LogReporter) InitializeWindow(window int, start int, end int, _ []datatypes.TsId) error {
	r.logger.Printf("window %d covers samples [%d, %d)\n", window, start, end)
	return nil
}

func (r *LogReporter) AddConstantRows(window int, constantRows []bool) error {
	ctr := 0
	for _, c := range constantRows {
		if c {
			ctr++
		}
	}
	if ctr > 0 {
		r.logger.Printf("window %d: %d constant rows\n", window, ctr)
	}
	return nil
}

func (r *LogReporter) AddCorrelatedPairs(result datatypes.CorrjoinResult) error {
	for _, pair := range result.Records() {
		r.logger.Printf("window %d: rows %d and %d correlated with %f\n",
			pair.Window, pair.R1, pair.R2, pair.Pearson)
	}
	return nil
}

func (r *LogReporter) SkipWindow(window int, reason error) {
	r.logger.Printf("window %d skipped: %v\n", window, reason)
}

func (r *LogReporter) Flush(_ int) error {
	return nil
}
