package buckets

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/kpaschen/windowjoin/lib/correlation"
	"github.com/kpaschen/windowjoin/lib/datatypes"
)

// A Bucket is a k-dimensional epsilon-grid cell.
// The coordinates are the cell indices along each dimension of
// the grid.
// members is a list of the point indices that ended up in this
// bucket.
type Bucket struct {
	coordinates []int
	members     []int
}

// bucketKey is the varint encoding of a coordinate vector.
type bucketKey string

func keyFor(coordinates []int) bucketKey {
	buf := make([]byte, 0, len(coordinates)*binary.MaxVarintLen64)
	for _, c := range coordinates {
		buf = binary.AppendVarint(buf, int64(c))
	}
	return bucketKey(buf)
}

// Stats describes one run of the bucketing filter.
type Stats struct {
	Buckets         int
	Points          int
	ComparedPairs   int
	RejectedPairs   int
	Candidates      int
	JoinPruningRate float64
}

// k-dimensional items are assigned into a k-dimensional grid of
// cells that are a tiny bit wider than epsilon.
// Two points closer than epsilon differ by at most one cell index
// in every dimension, so it is enough to compare points in the same
// cell and in the up to 3^k - 1 adjacent cells.
// The code creates only the non-empty cells.
type BucketingScheme struct {
	// the matrix that came out of SVD, one row per sequence.
	svdOutputMatrix [][]float64

	// Optional; when the ith entry in this slice is true,
	// that row is left out of the grid.
	excludedRows []bool

	// Distance threshold, epsilon1 = sqrt(2 ks (1 - correlationThreshold) / n)
	epsilon float64
	// Cells are slightly wider than epsilon so that two points exactly
	// epsilon apart never land two cells apart because of rounding.
	cellWidth float64

	// When true, every row is also inserted as its mirror image so that
	// strongly anticorrelated rows end up close to each other.
	mirrored bool

	rowCount   int
	dimensions int

	// grid geometry per dimension
	lower      []float64
	cellCounts []int

	buckets map[bucketKey]*Bucket

	stats Stats
}

// Relative amount by which cells are wider than epsilon.
const cellTolerance = 1e-9

// NewBucketingScheme creates a scheme for the rows of svdOutputMatrix.
func NewBucketingScheme(svdOutputMatrix [][]float64, excludedRows []bool,
	epsilon float64, mirrored bool) *BucketingScheme {
	dimensions := 0
	if len(svdOutputMatrix) > 0 {
		dimensions = len(svdOutputMatrix[0])
	}
	return &BucketingScheme{
		svdOutputMatrix: svdOutputMatrix,
		excludedRows:    excludedRows,
		epsilon:         epsilon,
		cellWidth:       epsilon * (1.0 + cellTolerance),
		mirrored:        mirrored,
		rowCount:        len(svdOutputMatrix),
		dimensions:      dimensions,
		buckets:         map[bucketKey]*Bucket{},
	}
}

func (s *BucketingScheme) excluded(row int) bool {
	return len(s.excludedRows) > 0 && s.excludedRows[row]
}

func (s *BucketingScheme) includedRows() int {
	ret := 0
	for row := 0; row < s.rowCount; row++ {
		if !s.excluded(row) {
			ret++
		}
	}
	return ret
}

func (s *BucketingScheme) pointCount() int {
	if s.mirrored {
		return 2 * s.rowCount
	}
	return s.rowCount
}

// rowOf maps a point index to the row it was created from.
func (s *BucketingScheme) rowOf(point int) int {
	return point % s.rowCount
}

func (s *BucketingScheme) value(point int, dim int) float64 {
	v := s.svdOutputMatrix[s.rowOf(point)][dim]
	if point >= s.rowCount {
		return -v
	}
	return v
}

func (s *BucketingScheme) point(point int) []float64 {
	row := s.svdOutputMatrix[s.rowOf(point)]
	if point < s.rowCount {
		return row
	}
	ret := make([]float64, len(row))
	for i, v := range row {
		ret[i] = -v
	}
	return ret
}

func (s *BucketingScheme) degenerate() bool {
	return s.epsilon <= 0.0 || math.IsNaN(s.epsilon) || math.IsInf(s.epsilon, 0)
}

// computeGrid derives the lower bound and the number of cells in every
// dimension from the range of the points.
func (s *BucketingScheme) computeGrid() {
	s.lower = make([]float64, s.dimensions)
	s.cellCounts = make([]int, s.dimensions)
	for d := 0; d < s.dimensions; d++ {
		s.cellCounts[d] = 1
		if s.degenerate() {
			continue
		}
		minValue := math.Inf(1)
		maxValue := math.Inf(-1)
		for p := 0; p < s.pointCount(); p++ {
			if s.excluded(s.rowOf(p)) {
				continue
			}
			v := s.value(p, d)
			minValue = math.Min(minValue, v)
			maxValue = math.Max(maxValue, v)
		}
		if math.IsInf(minValue, 0) {
			continue
		}
		lower := math.Floor(minValue/s.cellWidth) * s.cellWidth
		upper := math.Ceil(maxValue/s.cellWidth) * s.cellWidth
		s.lower[d] = lower
		if cells := int(math.Round((upper - lower) / s.cellWidth)); cells > 1 {
			s.cellCounts[d] = cells
		}
	}
}

// BucketIndex returns the index of the cell that value falls into
// along dimension dim.
func (s *BucketingScheme) BucketIndex(dim int, value float64) int {
	if s.degenerate() {
		return 0
	}
	index := int(math.Floor((value - s.lower[dim]) / s.cellWidth))
	if index < 0 {
		return 0
	}
	if index >= s.cellCounts[dim] {
		return s.cellCounts[dim] - 1
	}
	return index
}

func (s *BucketingScheme) Stats() Stats {
	return s.stats
}

func (s *BucketingScheme) Initialize() error {
	for i, row := range s.svdOutputMatrix {
		if len(row) != s.dimensions {
			return fmt.Errorf("svd output row %d needs to be length %d but is length %d",
				i, s.dimensions, len(row))
		}
	}
	if len(s.excludedRows) > 0 && len(s.excludedRows) != s.rowCount {
		return fmt.Errorf("got %d excluded row flags for %d rows", len(s.excludedRows), s.rowCount)
	}
	s.computeGrid()
	s.buckets = map[bucketKey]*Bucket{}
	s.stats = Stats{}
	for p := 0; p < s.pointCount(); p++ {
		if s.excluded(s.rowOf(p)) {
			continue
		}
		coordinates := make([]int, s.dimensions)
		for d := range coordinates {
			coordinates[d] = s.BucketIndex(d, s.value(p, d))
		}
		key := keyFor(coordinates)
		bucket, exists := s.buckets[key]
		if exists {
			bucket.members = append(bucket.members, p)
		} else {
			s.buckets[key] = &Bucket{
				coordinates: coordinates,
				members:     []int{p},
			}
		}
		s.stats.Points++
	}
	s.stats.Buckets = len(s.buckets)
	return nil
}

// CorrelationCandidates returns the sorted pairs of rows whose points are
// within epsilon of each other. In mirrored mode that includes pairs where
// one row is within epsilon of the mirror image of the other.
func (s *BucketingScheme) CorrelationCandidates() ([]datatypes.RowPair, error) {
	if s.lower == nil {
		return nil, fmt.Errorf("bucketing scheme has not been initialized")
	}
	found := map[datatypes.RowPair]bool{}
	s.stats.ComparedPairs = 0
	s.stats.RejectedPairs = 0
	for _, bucket := range s.buckets {
		if err := s.candidatesForBucket(bucket, found); err != nil {
			return nil, err
		}
	}
	ret := make([]datatypes.RowPair, 0, len(found))
	for pair := range found {
		ret = append(ret, pair)
	}
	datatypes.SortRowPairs(ret)

	s.stats.Candidates = len(ret)
	s.stats.JoinPruningRate = PruningRate(len(ret), s.includedRows())
	return ret, nil
}

// PruningRate is the share of the m(m-1)/2 row pairs that was
// discarded if only candidates pairs are left.
func PruningRate(candidates int, rowCount int) float64 {
	total := float64(rowCount) * float64(rowCount-1) / 2.0
	if total <= 0.0 {
		return 0.0
	}
	return 1.0 - float64(candidates)/total
}

// candidatesForBucket adds the close pairs of bucket and its neighbours
// to found.
func (s *BucketingScheme) candidatesForBucket(bucket *Bucket, found map[datatypes.RowPair]bool) error {
	for i := 0; i < len(bucket.members); i++ {
		for j := i + 1; j < len(bucket.members); j++ {
			if err := s.comparePoints(bucket.members[i], bucket.members[j], found); err != nil {
				return err
			}
		}
	}

	for _, d := range neighbourCoordinates(bucket.coordinates) {
		if !s.onGrid(d) {
			continue
		}
		neighbour, exists := s.buckets[keyFor(d)]
		if !exists {
			continue
		}
		for _, p := range bucket.members {
			for _, q := range neighbour.members {
				// Every neighbouring pair of buckets is visited from both sides.
				if p >= q {
					continue
				}
				if err := s.comparePoints(p, q, found); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (s *BucketingScheme) onGrid(coordinates []int) bool {
	for d, c := range coordinates {
		if c < 0 || c >= s.cellCounts[d] {
			return false
		}
	}
	return true
}

func (s *BucketingScheme) comparePoints(p int, q int, found map[datatypes.RowPair]bool) error {
	r1 := s.rowOf(p)
	r2 := s.rowOf(q)
	if r1 == r2 {
		return nil
	}
	pair := *datatypes.NewRowPair(r1, r2)
	if found[pair] {
		return nil
	}
	s.stats.ComparedPairs++
	distance, err := correlation.EuclideanDistance(s.point(p), s.point(q))
	if err != nil {
		return err
	}
	if distance > s.epsilon {
		s.stats.RejectedPairs++
		return nil
	}
	found[pair] = true
	return nil
}

func neighbourCoordinates(input []int) [][]int {
	// In every direction (~ dimension of input), we can either
	// leave the value as it is, or add one, or subtract 1.
	totalNeighbours := int(math.Pow(3, float64(len(input))))

	// modifyValues is a bitmap where the ith bit tells us
	// whether we're leaving that value alone or modifying it.
	modifyValues := 1 << len(input)
	ret := make([][]int, 0, totalNeighbours-1)
	for i := 1; i < modifyValues; i++ {
		bitCounter := 0
		for j := 0; j < len(input); j++ {
			if i&(1<<j) > 0 {
				bitCounter++
			}
		}
		// There are 2^bitCounter possible ways of assigning signs
		signsCount := 1 << bitCounter
		for k := 0; k < signsCount; k++ {
			neighbour := make([]int, len(input))
			copy(neighbour, input)
			c := 0
			for j := 0; j < len(input); j++ {
				if i&(1<<j) > 0 {
					if k&(1<<c) > 0 {
						neighbour[j]--
					} else {
						neighbour[j]++
					}
					c++
				}
			}
			ret = append(ret, neighbour)
		}
	}
	return ret
}
