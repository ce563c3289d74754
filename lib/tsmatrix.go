package lib

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/kpaschen/windowjoin/lib/datatypes"
	"gonum.org/v1/gonum/mat"
)

// A TimeseriesMatrix holds m timeseries of L samples each, one per row.
// It is read-only once created; windows are copied out of it.
type TimeseriesMatrix struct {
	data *mat.Dense

	// Optional ids of the rows, in order. Empty when the input had none.
	Tsids []datatypes.TsId
}

func shapeError(row int, format string, args ...interface{}) error {
	return datatypes.DataShapeError{Row: row, Reason: fmt.Sprintf(format, args...)}
}

// NewTimeseriesMatrix copies rows into a dense matrix. All rows must have
// the same, non-zero length and hold only finite values.
func NewTimeseriesMatrix(rows [][]float64) (*TimeseriesMatrix, error) {
	if len(rows) == 0 {
		return nil, shapeError(-1, "there are no timeseries")
	}
	columnCount := len(rows[0])
	if columnCount == 0 {
		return nil, shapeError(0, "timeseries has no samples")
	}
	data := mat.NewDense(len(rows), columnCount, nil)
	for i, row := range rows {
		if len(row) != columnCount {
			return nil, shapeError(i, "has %d samples but row 0 has %d", len(row), columnCount)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, shapeError(i, "sample %d is not a finite number", j)
			}
		}
		data.SetRow(i, row)
	}
	return &TimeseriesMatrix{data: data}, nil
}

// Dims returns the number of timeseries and the number of samples per timeseries.
func (m *TimeseriesMatrix) Dims() (int, int) {
	return m.data.Dims()
}

// Window returns a copy of columns [offset, offset+windowSize) of every row.
func (m *TimeseriesMatrix) Window(offset int, windowSize int) ([][]float64, error) {
	rowCount, columnCount := m.data.Dims()
	if offset < 0 || windowSize <= 0 || offset+windowSize > columnCount {
		return nil, datatypes.ConfigurationError{
			Parameter: "windowSize",
			Reason: fmt.Sprintf("window [%d, %d) does not fit into %d samples",
				offset, offset+windowSize, columnCount),
		}
	}
	ret := make([][]float64, rowCount)
	for i := 0; i < rowCount; i++ {
		row := m.data.RawRowView(i)
		ret[i] = make([]float64, windowSize)
		copy(ret[i], row[offset:offset+windowSize])
	}
	return ret, nil
}

// Row returns a copy of row i.
func (m *TimeseriesMatrix) Row(i int) []float64 {
	return mat.Row(nil, i, m.data)
}

// RowNames returns a printable id for every row: the metric name if there
// is one, otherwise the row index.
func (m *TimeseriesMatrix) RowNames() []string {
	rowCount, _ := m.data.Dims()
	ret := make([]string, rowCount)
	for i := range ret {
		if i < len(m.Tsids) && m.Tsids[i].MetricName != "" {
			ret[i] = m.Tsids[i].MetricName
		} else {
			ret[i] = strconv.Itoa(i)
		}
	}
	return ret
}

// WindowCount is the number of windows of size windowSize, moving by stride,
// that fit into columnCount samples.
func WindowCount(columnCount int, windowSize int, stride int) int {
	if windowSize <= 0 || stride <= 0 || windowSize > columnCount {
		return 0
	}
	return (columnCount-windowSize)/stride + 1
}

func isSeparator(r rune) bool {
	return r == ',' || r == ';' || unicode.IsSpace(r)
}

// ReadTimeseriesMatrix reads one timeseries per line. Samples are separated
// by commas or whitespace. Empty lines and lines starting with # are skipped.
func ReadTimeseriesMatrix(r io.Reader) (*TimeseriesMatrix, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	rows := make([][]float64, 0)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.FieldsFunc(line, isSeparator)
		row := make([]float64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, shapeError(len(rows), "line %d: %v", lineNumber, err)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return NewTimeseriesMatrix(rows)
}
