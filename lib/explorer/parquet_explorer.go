package explorer

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/kpaschen/windowjoin/lib/reporter"
	"github.com/parquet-go/parquet-go"
	"github.com/prometheus/common/model"
)

const readBatchSize = 1000

// ParquetExplorer reads the results file that a reporter.ParquetReporter
// wrote for one window.
type ParquetExplorer struct {
	filenameBase string
	file         *parquet.File
	osFile       *os.File
	logger       *log.Logger
}

func NewParquetExplorer(filenameBase string, logger *log.Logger) *ParquetExplorer {
	if logger == nil {
		logger = log.Default()
	}
	return &ParquetExplorer{
		filenameBase: filenameBase,
		logger:       logger,
	}
}

func (p *ParquetExplorer) Initialize(filename string) error {
	schema := parquet.SchemaOf(reporter.Timeseries{})
	found := 0
	for _, path := range schema.Columns() {
		if len(path) != 1 {
			continue
		}
		switch path[0] {
		case "id", "correlated", "pearson":
			found++
		}
	}
	if found != 3 {
		return fmt.Errorf("bad schema: missing columns for id, correlated, or pearson")
	}

	pqfile, err := os.Open(filepath.Join(p.filenameBase, filename))
	if err != nil {
		p.logger.Printf("failed to open parquet file %s: %v\n", filename, err)
		return err
	}
	stat, err := pqfile.Stat()
	if err != nil {
		pqfile.Close()
		return err
	}
	p.file, err = parquet.OpenFile(pqfile, stat.Size())
	if err != nil {
		pqfile.Close()
		p.logger.Printf("failed to read parquet file %s: %v\n", filename, err)
		return err
	}
	p.osFile = pqfile
	return nil
}

func (p *ParquetExplorer) Close() error {
	if p.osFile == nil {
		return nil
	}
	err := p.osFile.Close()
	p.osFile = nil
	p.file = nil
	return err
}

// NumRows is the number of rows in the file, of all kinds.
func (p *ParquetExplorer) NumRows() int64 {
	if p.file == nil {
		return 0
	}
	return p.file.NumRows()
}

// scan calls visit for every row in the file until visit returns false.
func (p *ParquetExplorer) scan(visit func(row *reporter.Timeseries) bool) error {
	if p.file == nil {
		return fmt.Errorf("parquet explorer has no parquet file")
	}
	reader := parquet.NewGenericReader[reporter.Timeseries](p.file)
	defer reader.Close()
	results := make([]reporter.Timeseries, readBatchSize)
	for {
		numRead, err := reader.Read(results)
		for i := 0; i < numRead; i++ {
			if !visit(&results[i]) {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if numRead == 0 {
			return nil
		}
	}
}

func isMetadataRow(row *reporter.Timeseries) bool {
	return row.ID == row.Correlated && !row.Constant
}

func metricFromRow(row *reporter.Timeseries) *Metric {
	labels := make(model.LabelSet, len(row.Labels)+1)
	if row.Metric != "" {
		labels[model.MetricNameLabel] = model.LabelValue(row.Metric)
	}
	for k, v := range row.Labels {
		labels[model.LabelName(k)] = model.LabelValue(v)
	}
	return &Metric{
		Fingerprint: row.MetricFingerprint,
		RowId:       row.ID,
		LabelSet:    labels,
	}
}

// LookupMetric returns the metric with the given row id. It returns nil
// if the file has no metadata for that id.
func (p *ParquetExplorer) LookupMetric(timeSeriesId int) (*Metric, error) {
	var ret *Metric
	constant := false
	err := p.scan(func(row *reporter.Timeseries) bool {
		if row.ID != timeSeriesId || row.ID != row.Correlated {
			return true
		}
		if row.Constant {
			constant = true
		} else {
			ret = metricFromRow(row)
		}
		return true
	})
	if ret != nil {
		ret.Constant = constant
	}
	return ret, err
}

// GetMetrics returns the metadata of every timeseries in the file by row id.
func (p *ParquetExplorer) GetMetrics() (map[int]*Metric, error) {
	ret := make(map[int]*Metric)
	constant := make([]int, 0)
	err := p.scan(func(row *reporter.Timeseries) bool {
		if isMetadataRow(row) {
			ret[row.ID] = metricFromRow(row)
		} else if row.Constant {
			constant = append(constant, row.ID)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	for _, id := range constant {
		if m, exists := ret[id]; exists {
			m.Constant = true
		} else {
			ret[id] = &Metric{RowId: id, Constant: true}
		}
	}
	return ret, nil
}

// CorrelatedWith returns the rows correlated with timeSeriesId and their
// pearson coefficients.
func (p *ParquetExplorer) CorrelatedWith(timeSeriesId int) (map[int]float32, error) {
	ret := make(map[int]float32)
	err := p.scan(func(row *reporter.Timeseries) bool {
		if row.ID == timeSeriesId && row.Correlated != row.ID {
			ret[row.Correlated] = row.Pearson
		}
		return true
	})
	return ret, err
}

// GetEdges sends the correlated pairs in batches and closes edgeChan when done.
// Every pair is sent once, with Source < Target.
func (p *ParquetExplorer) GetEdges(edgeChan chan<- []*Edge) error {
	defer close(edgeChan)
	batch := make([]*Edge, 0, readBatchSize)
	err := p.scan(func(row *reporter.Timeseries) bool {
		if row.ID >= row.Correlated {
			return true
		}
		batch = append(batch, &Edge{Source: row.ID, Target: row.Correlated, Pearson: row.Pearson})
		if len(batch) == readBatchSize {
			edgeChan <- batch
			batch = make([]*Edge, 0, readBatchSize)
		}
		return true
	})
	if len(batch) > 0 {
		edgeChan <- batch
	}
	return err
}

// GetSubgraphs computes the connected components of the correlation graph.
func (p *ParquetExplorer) GetSubgraphs() (*SubgraphMemberships, error) {
	ret := NewSubgraphMemberships()
	edgeChan := make(chan []*Edge, 1)
	errChan := make(chan error, 1)
	go func() {
		errChan <- p.GetEdges(edgeChan)
	}()
	for edges := range edgeChan {
		for _, e := range edges {
			ret.addEdge(e.Source, e.Target)
		}
	}
	if err := <-errChan; err != nil {
		return nil, err
	}
	return ret, nil
}
