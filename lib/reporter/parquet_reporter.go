package reporter

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/kpaschen/windowjoin/lib/datatypes"
	"github.com/parquet-go/parquet-go"
	"github.com/prometheus/common/model"
)

// Timeseries is one row of a parquet results file. A file holds three
// kinds of rows: metadata rows (Correlated == ID, Metric set), constant
// rows (Constant set) and correlation rows. Every correlated pair is
// written twice, once from each side, so lookups by ID find all partners.
type Timeseries struct {
	ID                int               `parquet:"id"`
	Metric            string            `parquet:"metric,optional,zstd"`
	MetricFingerprint uint64            `parquet:"metricFingerprint,optional"`
	Labels            map[string]string `parquet:"labels,optional"`

	// Cannot make this optional, as then '0' will be written as null.
	// Instead, when you want to say "no correlation information", leave the Pearson
	// field blank and set Correlated to be the same as ID.
	Correlated int `parquet:"correlated"`
	// There is no float16 datatype in go, but maybe a fixed-precision representation would be best.
	Pearson  float32 `parquet:"pearson,optional"`
	Constant bool    `parquet:"constant,optional"`
}

type windowWriter struct {
	file   *os.File
	writer *parquet.GenericWriter[Timeseries]
}

// ParquetReporter writes one parquet file per window.
type ParquetReporter struct {
	filenameBase string
	// I tried a SortingWriter but it used too much memory.
	writers            map[int]*windowWriter
	maxRowsPerRowGroup int64
	logger             *log.Logger

	// Batch, when not zero, is part of every file name so the windows of
	// consecutive runs into one directory do not overwrite each other.
	Batch int64
}

func NewParquetReporter(filenameBase string, maxRows int64, logger *log.Logger) *ParquetReporter {
	if logger == nil {
		logger = log.Default()
	}
	return &ParquetReporter{
		filenameBase:       filenameBase,
		writers:            make(map[int]*windowWriter),
		maxRowsPerRowGroup: maxRows,
		logger:             logger,
	}
}

// ResultsFileName is the name of the parquet file for a window.
func ResultsFileName(batch int64, window int, start int, end int) string {
	return fmt.Sprintf("correlations_%s.pq", fileSuffix(batch, window, start, end))
}

func (r *ParquetReporter) InitializeWindow(window int, start int, end int, tsids []datatypes.TsId) error {
	if w, exists := r.writers[window]; exists && w != nil {
		return nil
	}
	path := filepath.Join(r.filenameBase, ResultsFileName(r.Batch, window, start, end))
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("failed to open parquet file for window %d: %w", window, err)
	}

	// max rows per row group 10k is good for memory use but the files are about 3.5G per stride.
	r.writers[window] = &windowWriter{
		file:   file,
		writer: parquet.NewGenericWriter[Timeseries](file, parquet.MaxRowsPerRowGroup(r.maxRowsPerRowGroup)),
	}
	return r.recordTimeseriesIds(window, tsids)
}

func (r *ParquetReporter) writer(window int) (*parquet.GenericWriter[Timeseries], error) {
	w, exists := r.writers[window]
	if !exists || w == nil {
		return nil, fmt.Errorf("missing writer for window %d", window)
	}
	return w.writer, nil
}

// MetadataRow turns a timeseries id into a metadata row. Ids that are
// json-encoded prometheus metrics are split into name and labels.
func MetadataRow(id int, tsid datatypes.TsId) Timeseries {
	row := Timeseries{
		ID:                id,
		Correlated:        id, // See above, this field is not optional.
		Metric:            tsid.MetricName,
		MetricFingerprint: tsid.MetricFingerprint,
	}
	var metricModel model.Metric
	if err := json.Unmarshal([]byte(tsid.MetricName), &metricModel); err != nil {
		return row
	}
	row.Metric = string(metricModel[model.MetricNameLabel])
	row.MetricFingerprint = uint64(metricModel.Fingerprint())
	row.Labels = make(map[string]string)
	for key, value := range metricModel {
		if key == model.MetricNameLabel {
			continue
		}
		row.Labels[string(key)] = string(value)
	}
	return row
}

func (r *ParquetReporter) recordTimeseriesIds(window int, tsids []datatypes.TsId) error {
	if len(tsids) == 0 {
		return nil
	}
	writer, err := r.writer(window)
	if err != nil {
		return err
	}
	metadataRows := make([]Timeseries, len(tsids))
	for i, tsid := range tsids {
		metadataRows[i] = MetadataRow(i, tsid)
	}
	n, err := writer.Write(metadataRows)
	r.logger.Printf("wrote %d timeseries ids for window %d\n", n, window)
	return err
}

func (r *ParquetReporter) AddConstantRows(window int, constantRows []bool) error {
	writer, err := r.writer(window)
	if err != nil {
		return err
	}
	newRows := make([]Timeseries, 0, len(constantRows)/10)
	for rowid, isConstant := range constantRows {
		if isConstant {
			newRows = append(newRows, Timeseries{
				ID:         rowid,
				Correlated: rowid,
				Constant:   isConstant,
			})
		}
	}
	if len(newRows) == 0 {
		return nil
	}
	n, err := writer.Write(newRows)
	r.logger.Printf("recorded %d constant rows for window %d\n", n, window)
	return err
}

func extractRowsFromResult(result datatypes.CorrjoinResult) []Timeseries {
	ret := make([]Timeseries, 0, 2*len(result.CorrelatedPairs))
	for _, pair := range result.Records() {
		ret = append(ret, Timeseries{
			ID:         pair.R1,
			Correlated: pair.R2,
			Pearson:    float32(pair.Pearson),
		}, Timeseries{
			ID:         pair.R2,
			Correlated: pair.R1,
			Pearson:    float32(pair.Pearson),
		})
	}
	return ret
}

func (r *ParquetReporter) AddCorrelatedPairs(result datatypes.CorrjoinResult) error {
	writer, err := r.writer(result.StrideCounter)
	if err != nil {
		return err
	}
	_, err = writer.Write(extractRowsFromResult(result))
	return err
}

func (r *ParquetReporter) SkipWindow(window int, reason error) {
	r.logger.Printf("parquet reporter: no results for window %d: %v\n", window, reason)
}

func (r *ParquetReporter) Flush(window int) error {
	w, exists := r.writers[window]
	if !exists || w == nil {
		return nil
	}
	delete(r.writers, window)
	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
