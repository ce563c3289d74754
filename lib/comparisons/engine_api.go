// Package comparisons contains the stages that turn one window of
// normalized timeseries into correlated row pairs.
//
// A pipeline has one candidate source, zero or more filters and an
// exact verifier. Filters may only discard pairs, so the verifier
// decides the final answer no matter which stages run before it.
package comparisons

import (
	"github.com/kpaschen/windowjoin/lib/datatypes"
)

// Window is the per-window data the stages read. Implementations must
// not change the data while a pipeline runs on it.
type Window interface {
	// Index is the stride counter of the window.
	Index() int

	// Normalized holds one mean-zero, unit-norm row per timeseries.
	Normalized() [][]float64

	// EuclidReduced is the PAA of Normalized with ke columns.
	EuclidReduced() [][]float64

	// Projected is the svd output with kb columns.
	Projected() [][]float64

	// ConstantRows marks rows that take no part in this window.
	// It may be empty.
	ConstantRows() []bool
}

// A CandidateSource produces the first set of candidate pairs.
// The pairs are ordered (R1 < R2), unique and sorted.
type CandidateSource interface {
	Name() string
	Candidates(w Window) ([]datatypes.RowPair, error)
}

// A Filter discards pairs that cannot be correlated.
// It must never discard a pair the verifier would accept.
type Filter interface {
	Name() string
	Keep(w Window, pair datatypes.RowPair) (bool, error)
}

// A Verifier computes the exact correlation of a pair and decides
// whether it is reported.
type Verifier interface {
	Name() string
	Verify(w Window, pair datatypes.RowPair) (float64, bool, error)
}
