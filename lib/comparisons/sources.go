package comparisons

import (
	"github.com/kpaschen/windowjoin/lib/buckets"
	"github.com/kpaschen/windowjoin/lib/datatypes"
)

func IsConstantRow(index int, constantRows []bool) bool {
	if constantRows != nil && len(constantRows) > index {
		return constantRows[index]
	}
	return false
}

// AllPairs emits every pair of non-constant rows.
type AllPairs struct{}

func (AllPairs) Name() string {
	return "all_pairs"
}

func (AllPairs) Candidates(w Window) ([]datatypes.RowPair, error) {
	rows := len(w.Normalized())
	constantRows := w.ConstantRows()
	ret := make([]datatypes.RowPair, 0, rows*(rows-1)/2)
	for i := 0; i < rows; i++ {
		if IsConstantRow(i, constantRows) {
			continue
		}
		for j := i + 1; j < rows; j++ {
			if IsConstantRow(j, constantRows) {
				continue
			}
			ret = append(ret, datatypes.RowPair{R1: i, R2: j})
		}
	}
	return ret, nil
}

// BucketCandidates runs the bucketing filter on the projected rows.
type BucketCandidates struct {
	// Cell width, epsilon1.
	Epsilon float64
	// Also bucket the mirror image of every row, for |r| >= T.
	Mirrored bool
}

func (b BucketCandidates) Name() string {
	return "bucketing"
}

func (b BucketCandidates) Candidates(w Window) ([]datatypes.RowPair, error) {
	scheme := buckets.NewBucketingScheme(w.Projected(), w.ConstantRows(), b.Epsilon, b.Mirrored)
	if err := scheme.Initialize(); err != nil {
		return nil, err
	}
	return scheme.CorrelationCandidates()
}
