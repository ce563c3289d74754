package comparisons

import (
	"fmt"
	"math"

	"github.com/kpaschen/windowjoin/lib/correlation"
	"github.com/kpaschen/windowjoin/lib/datatypes"
	"github.com/kpaschen/windowjoin/lib/settings"
)

// EuclidFilter keeps pairs whose ke-dimensional PAA vectors are within
// Epsilon of each other (or of each other's mirror image in absolute mode).
type EuclidFilter struct {
	Epsilon float64
	Mode    string
}

func (f EuclidFilter) Name() string {
	return "euclid"
}

func (f EuclidFilter) Keep(w Window, pair datatypes.RowPair) (bool, error) {
	reduced := w.EuclidReduced()
	if reduced == nil {
		return false, fmt.Errorf("window %d has no euclid reduced rows", w.Index())
	}
	vec1 := reduced[pair.R1]
	vec2 := reduced[pair.R2]
	distance, err := correlation.EuclideanDistance(vec1, vec2)
	if err != nil {
		return false, err
	}
	if distance <= f.Epsilon {
		return true, nil
	}
	if f.Mode != settings.CORRELATION_ABSOLUTE {
		return false, nil
	}
	distance, err = correlation.MirroredDistance(vec1, vec2)
	if err != nil {
		return false, err
	}
	return distance <= f.Epsilon, nil
}

// PearsonVerifier computes the exact Pearson correlation on the
// normalized rows.
type PearsonVerifier struct {
	Threshold float64
	Mode      string
}

func (v PearsonVerifier) Name() string {
	return "pearson"
}

func (v PearsonVerifier) Verify(w Window, pair datatypes.RowPair) (float64, bool, error) {
	normalized := w.Normalized()
	pearson, err := correlation.PearsonCorrelation(normalized[pair.R1], normalized[pair.R2])
	if err != nil {
		return 0.0, false, err
	}
	if v.Mode == settings.CORRELATION_ABSOLUTE {
		return pearson, math.Abs(pearson) >= v.Threshold, nil
	}
	return pearson, pearson >= v.Threshold, nil
}
