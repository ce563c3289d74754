package lib

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kpaschen/windowjoin/lib/settings"
)

// Columns of the per-step timings in a run summary file, in milliseconds.
var summaryStages = []string{"normalize", "paa", "svd", "all_pairs", "bucketing", "euclid", "pearson", "window"}

func summaryHeader() []string {
	header := []string{
		"m", "n", "h", "T", "ks", "ke", "kb", "algorithm", "correlationMode",
		"windows", "windowsProcessed", "windowsSkipped", "correlatedPairs",
		"meanPruningRate", "meanJoinPruningRate", "runtimeMs",
	}
	for _, stage := range summaryStages {
		header = append(header, stage+"Ms")
	}
	return header
}

func milliseconds(d time.Duration) string {
	return strconv.FormatFloat(float64(d.Microseconds())/1000.0, 'f', 3, 64)
}

// AppendRunSummary appends one line describing a run over rows timeseries
// to the csv file at path. A new file starts with a header line.
func AppendRunSummary(path string, config settings.CorrjoinSettings, rows int, summary *RunSummary,
	elapsed time.Duration) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("failed to open run summary file: %w", err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return err
	}

	writer := csv.NewWriter(file)
	if info.Size() == 0 {
		if err = writer.Write(summaryHeader()); err != nil {
			return err
		}
	}
	record := []string{
		strconv.Itoa(rows),
		strconv.Itoa(config.WindowSize),
		strconv.Itoa(config.StrideLength),
		strconv.FormatFloat(config.CorrelationThreshold, 'f', -1, 64),
		strconv.Itoa(config.SvdDimensions),
		strconv.Itoa(config.EuclidDimensions),
		strconv.Itoa(config.SvdOutputDimensions),
		config.Algorithm,
		config.CorrelationMode,
		strconv.Itoa(summary.WindowCount),
		strconv.Itoa(summary.WindowsProcessed),
		strconv.Itoa(summary.WindowsSkipped),
		strconv.Itoa(summary.CorrelatedPairs),
		strconv.FormatFloat(summary.MeanPruningRate, 'f', 6, 64),
		strconv.FormatFloat(summary.MeanJoinPruningRate, 'f', 6, 64),
		milliseconds(elapsed),
	}
	for _, stage := range summaryStages {
		record = append(record, milliseconds(summary.StageTimings[stage]))
	}
	if err = writer.Write(record); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}
