package reporter

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/kpaschen/windowjoin/lib/datatypes"
)

// CsvReporter writes one correlations file, one constant rows file and
// one timeseries ids file per window into a directory.
type CsvReporter struct {
	filenameBase string
	suffixes     map[int]string
	logger       *log.Logger

	// Batch, when not zero, is part of every file name.
	Batch int64
}

var csvPrefixes = []string{"tsids", "constant_rows", "correlations"}

func NewCsvReporter(filenameBase string, logger *log.Logger) *CsvReporter {
	if logger == nil {
		logger = log.Default()
	}
	return &CsvReporter{
		filenameBase: filenameBase,
		suffixes:     make(map[int]string),
		logger:       logger,
	}
}

func (c *CsvReporter) InitializeWindow(window int, start int, end int, tsids []datatypes.TsId) error {
	c.suffixes[window] = fileSuffix(c.Batch, window, start, end)
	// The writers append, so drop what an earlier run left behind.
	for _, prefix := range csvPrefixes {
		path, _ := c.path(prefix, window)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove old results file %s: %w", path, err)
		}
	}
	if len(tsids) == 0 {
		return nil
	}
	return c.recordTimeseriesIds(window, tsids)
}

func (c *CsvReporter) path(prefix string, window int) (string, error) {
	suffix, ok := c.suffixes[window]
	if !ok {
		return "", fmt.Errorf("window %d has not been initialized", window)
	}
	return filepath.Join(c.filenameBase, fmt.Sprintf("%s_%s.csv", prefix, suffix)), nil
}

func (c *CsvReporter) writeRecords(path string, records [][]string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0640)
	if err != nil {
		return err
	}
	defer file.Close()
	writer := csv.NewWriter(file)
	for i, record := range records {
		if err = writer.Write(record); err != nil {
			return err
		}
		if i%1000 == 999 {
			writer.Flush()
			if err = writer.Error(); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

func (c *CsvReporter) recordTimeseriesIds(window int, tsids []datatypes.TsId) error {
	idsfile, err := c.path("tsids", window)
	if err != nil {
		return err
	}
	records := make([][]string, len(tsids))
	for i, tsid := range tsids {
		records[i] = []string{strconv.Itoa(i), tsid.MetricName}
	}
	return c.writeRecords(idsfile, records)
}

func (c *CsvReporter) AddConstantRows(window int, constantRows []bool) error {
	records := make([][]string, 0)
	for i, isConstant := range constantRows {
		if isConstant {
			records = append(records, []string{strconv.Itoa(i)})
		}
	}
	if len(records) == 0 {
		return nil
	}
	resultsPath, err := c.path("constant_rows", window)
	if err != nil {
		return err
	}
	return c.writeRecords(resultsPath, records)
}

func csvRecordFromCorrelatedPair(pair datatypes.CorrelatedPair) []string {
	return []string{strconv.Itoa(pair.R1), strconv.Itoa(pair.R2),
		strconv.FormatFloat(pair.Pearson, 'f', 6, 64)}
}

func (c *CsvReporter) AddCorrelatedPairs(result datatypes.CorrjoinResult) error {
	resultsPath, err := c.path("correlations", result.StrideCounter)
	if err != nil {
		return err
	}
	pairs := result.Records()
	records := make([][]string, len(pairs))
	for i, pair := range pairs {
		records[i] = csvRecordFromCorrelatedPair(pair)
	}
	return c.writeRecords(resultsPath, records)
}

func (c *CsvReporter) SkipWindow(window int, reason error) {
	c.logger.Printf("csv reporter: no results for window %d: %v\n", window, reason)
}

func (c *CsvReporter) Flush(window int) error {
	// This reporter does no internal buffering, so Flush only forgets the window.
	delete(c.suffixes, window)
	return nil
}
