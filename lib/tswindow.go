package lib

import (
	"log"
	"slices"
	"time"

	"github.com/kpaschen/windowjoin/lib/datatypes"
	"github.com/kpaschen/windowjoin/lib/paa"
	"github.com/kpaschen/windowjoin/lib/settings"
	"github.com/kpaschen/windowjoin/lib/svd"
	"gonum.org/v1/gonum/mat"
)

// A Projector reduces the rows of full to k columns using a basis
// fitted on fit.
type Projector interface {
	FitTransform(fit mat.Matrix, full mat.Matrix) (*mat.Dense, error)
}

// NewProjectorFunc creates the projector used for one window.
type NewProjectorFunc func(k int) Projector

func newTruncatedSVD(k int) Projector {
	return &svd.TruncatedSVD{K: k}
}

// A TimeseriesWindow holds the per-window buffers of one iteration:
// the raw window, its normalization and its reductions.
// It implements comparisons.Window.
type TimeseriesWindow struct {
	index int

	// This is the raw data.
	// Every row corresponds to a timeseries.
	buffers [][]float64

	normalized [][]float64

	constantRows []bool

	// PAA with ks columns, the svd input.
	postPAA [][]float64

	// PAA with ke columns, used by the euclidean filter.
	euclidPAA [][]float64

	postSVD [][]float64

	config       settings.CorrjoinSettings
	newProjector NewProjectorFunc
	logger       *log.Logger

	// How long each preparation step took.
	timings map[string]time.Duration
}

func NewTimeseriesWindow(index int, buffers [][]float64, config settings.CorrjoinSettings,
	newProjector NewProjectorFunc, logger *log.Logger) *TimeseriesWindow {
	if newProjector == nil {
		newProjector = newTruncatedSVD
	}
	if logger == nil {
		logger = log.Default()
	}
	return &TimeseriesWindow{
		index:        index,
		buffers:      buffers,
		config:       config,
		newProjector: newProjector,
		logger:       logger,
		timings:      make(map[string]time.Duration),
	}
}

func (w *TimeseriesWindow) Index() int                 { return w.index }
func (w *TimeseriesWindow) Normalized() [][]float64    { return w.normalized }
func (w *TimeseriesWindow) EuclidReduced() [][]float64 { return w.euclidPAA }
func (w *TimeseriesWindow) Projected() [][]float64     { return w.postSVD }
func (w *TimeseriesWindow) ConstantRows() []bool       { return w.constantRows }

// Timings returns the duration of the preparation steps that ran.
func (w *TimeseriesWindow) Timings() map[string]time.Duration {
	return w.timings
}

func (w *TimeseriesWindow) timed(name string, f func() error) error {
	start := time.Now()
	err := f()
	w.timings[name] += time.Since(start)
	return err
}

// Prepare computes what the configured algorithm needs from the raw
// buffers: the normalized rows always, the PAA reductions and the svd
// projection depending on the algorithm.
func (w *TimeseriesWindow) Prepare() error {
	if err := w.timed("normalize", w.normalizeWindow); err != nil {
		return err
	}
	switch w.config.Algorithm {
	case settings.ALGO_FULL_PEARSON:
		return nil
	case settings.ALGO_PAA_ONLY:
		return w.timed("paa", func() error {
			var err error
			w.euclidPAA, err = paa.PAAMatrix(w.normalized, w.config.EuclidDimensions)
			return err
		})
	}
	err := w.timed("paa", func() error {
		var err error
		if w.postPAA, err = paa.PAAMatrix(w.normalized, w.config.SvdDimensions); err != nil {
			return err
		}
		w.euclidPAA, err = paa.PAAMatrix(w.normalized, w.config.EuclidDimensions)
		return err
	})
	if err != nil {
		return err
	}
	return w.timed("svd", w.sVD)
}

// normalizeWindow copies the buffers and normalizes every row.
// Constant rows either fail the window or are marked, depending on
// SkipConstantRows.
func (w *TimeseriesWindow) normalizeWindow() error {
	w.normalized = make([][]float64, len(w.buffers))
	w.constantRows = make([]bool, len(w.buffers))
	constant := make([]int, 0)
	for i, b := range w.buffers {
		w.normalized[i] = slices.Clone(b)
		w.constantRows[i] = paa.NormalizeSlice(w.normalized[i])
		if w.constantRows[i] {
			constant = append(constant, i)
		}
	}
	if len(constant) > 0 {
		if !w.config.SkipConstantRows {
			return datatypes.DegenerateWindowError{Window: w.index, ConstantRows: constant}
		}
		w.logger.Printf("window %d: skipping %d constant rows\n", w.index, len(constant))
	}
	return nil
}

func (w *TimeseriesWindow) sVD() error {
	rowCount := len(w.postPAA)
	columnCount := w.config.SvdDimensions
	k := w.config.SvdOutputDimensions

	// I ran into failures (with no error messages) for svd on large
	// inputs (over 40k rows with 600 columns). It looks like some implementations
	// struggle at that size.
	// The following samples the data so we stay below maxRowsForSvd rows.
	eligible := make([]int, 0, rowCount)
	for i := range w.postPAA {
		if !w.constantRows[i] {
			eligible = append(eligible, i)
		}
	}
	maxRows := w.config.MaxRowsForSvd
	modulus := 1
	if maxRows > 0 && len(eligible) > maxRows {
		modulus = (len(eligible) + maxRows - 1) / maxRows
		w.logger.Printf("window %d: reducing matrix from %d to at most %d rows for svd\n",
			w.index, len(eligible), maxRows)
	}

	w.postSVD = make([][]float64, rowCount)
	if len(eligible) == 0 {
		// Nothing left to compare.
		for i := range w.postSVD {
			w.postSVD[i] = make([]float64, k)
		}
		return nil
	}

	fullData := make([]float64, 0, rowCount*columnCount)
	for _, r := range w.postPAA {
		fullData = append(fullData, r...)
	}
	svdData := make([]float64, 0, (len(eligible)/modulus+1)*columnCount)
	svdRowCount := 0
	for n, i := range eligible {
		if n%modulus == 0 {
			svdData = append(svdData, w.postPAA[i]...)
			svdRowCount++
		}
	}

	fullMatrix := mat.NewDense(rowCount, columnCount, fullData)
	svdMatrix := mat.NewDense(svdRowCount, columnCount, svdData)

	ret, err := w.newProjector(k).FitTransform(svdMatrix, fullMatrix)
	if err != nil {
		return datatypes.NonConvergenceError{Window: w.index, Err: err}
	}
	for i := 0; i < rowCount; i++ {
		w.postSVD[i] = ret.RawRowView(i)
	}
	return nil
}
