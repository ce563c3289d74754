package lib

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/kpaschen/windowjoin/lib/datatypes"
)

func TestNewTimeseriesMatrix(t *testing.T) {
	m, err := NewTimeseriesMatrix([][]float64{
		{0.1, 0.2, 0.3},
		{1.1, 1.2, 1.3},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r, c := m.Dims()
	if r != 2 || c != 3 {
		t.Errorf("expected a 2x3 matrix but got %dx%d", r, c)
	}
	names := m.RowNames()
	if names[0] != "0" || names[1] != "1" {
		t.Errorf("expected row indices as names but got %v", names)
	}
}

func TestNewTimeseriesMatrixShapeErrors(t *testing.T) {
	inputs := map[string][][]float64{
		"empty":      {},
		"ragged":     {{0.1, 0.2}, {0.1}},
		"nan":        {{0.1, 0.2}, {0.1, math.NaN()}},
		"no samples": {{}},
	}
	for name, rows := range inputs {
		_, err := NewTimeseriesMatrix(rows)
		var shapeErr datatypes.DataShapeError
		if !errors.As(err, &shapeErr) {
			t.Errorf("%s: expected a data shape error but got %v", name, err)
		}
	}
}

func TestWindow(t *testing.T) {
	m, _ := NewTimeseriesMatrix([][]float64{
		{0, 1, 2, 3, 4, 5},
		{10, 11, 12, 13, 14, 15},
	})
	w, err := m.Window(2, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w[0][0] != 2 || w[0][2] != 4 || w[1][0] != 12 || w[1][2] != 14 {
		t.Errorf("unexpected window contents %v", w)
	}
	// The window is a copy.
	w[0][0] = 100
	if m.Row(0)[2] != 2 {
		t.Errorf("changing the window changed the matrix")
	}
	for _, bad := range [][2]int{{-1, 3}, {4, 3}, {0, 0}, {0, 7}} {
		_, err := m.Window(bad[0], bad[1])
		var configErr datatypes.ConfigurationError
		if !errors.As(err, &configErr) {
			t.Errorf("window %v: expected a configuration error but got %v", bad, err)
		}
	}
}

func TestWindowCount(t *testing.T) {
	cases := []struct {
		columns, windowSize, stride, expected int
	}{
		{1000, 300, 10, 71},
		{10, 10, 1, 1},
		{10, 11, 1, 0},
		{12, 5, 3, 3},
		{12, 5, 0, 0},
	}
	for _, c := range cases {
		got := WindowCount(c.columns, c.windowSize, c.stride)
		if got != c.expected {
			t.Errorf("WindowCount(%d, %d, %d): expected %d but got %d",
				c.columns, c.windowSize, c.stride, c.expected, got)
		}
	}
}

func TestReadTimeseriesMatrix(t *testing.T) {
	input := `# two series
0.1 0.2 0.3
1.1,1.2, 1.3

`
	m, err := ReadTimeseriesMatrix(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r, c := m.Dims()
	if r != 2 || c != 3 {
		t.Fatalf("expected a 2x3 matrix but got %dx%d", r, c)
	}
	if m.Row(1)[2] != 1.3 {
		t.Errorf("expected 1.3 but got %f", m.Row(1)[2])
	}

	_, err = ReadTimeseriesMatrix(strings.NewReader("0.1 abc\n"))
	var shapeErr datatypes.DataShapeError
	if !errors.As(err, &shapeErr) {
		t.Errorf("expected a data shape error for a bad number but got %v", err)
	}
	_, err = ReadTimeseriesMatrix(strings.NewReader("0.1 0.2\n0.3\n"))
	if !errors.As(err, &shapeErr) {
		t.Errorf("expected a data shape error for ragged input but got %v", err)
	}
}
