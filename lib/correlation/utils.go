package correlation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

func EuclideanDistance(x []float64, y []float64) (float64, error) {
	if len(x) != len(y) {
		return 0.0, fmt.Errorf("euclidean distance needs arguments of the same length")
	}
	return floats.Distance(x, y, 2), nil
}

// MirroredDistance is the euclidean distance between x and -y.
// For normalized rows it is small when x and y are strongly
// anticorrelated.
func MirroredDistance(x []float64, y []float64) (float64, error) {
	if len(x) != len(y) {
		return 0.0, fmt.Errorf("euclidean distance needs arguments of the same length")
	}
	sum := 0.0
	for i, xi := range x {
		s := xi + y[i]
		sum += s * s
	}
	return math.Sqrt(sum), nil
}

// This is the formula for incremental pearson.
func PearsonCorrelation(x []float64, y []float64) (float64, error) {
	if len(x) != len(y) {
		return 0.0, fmt.Errorf("correlation needs arguments of the same length")
	}
	var s1, s2, s3, s4, s5 float64
	for i, xi := range x {
		s1 += xi
		s2 += xi * xi
		s3 += y[i]
		s4 += y[i] * y[i]
		s5 += xi * y[i]
	}
	n := float64(len(x))

	denominator := math.Sqrt((n*s2 - s1*s1) * (n*s4 - s3*s3))
	if denominator == 0.0 {
		return 0.0, nil
	}
	return (n*s5 - (s1 * s3)) / denominator, nil
}

// CorrelationFromDistance uses r = 1 - d^2/2, which holds for rows that
// have mean zero and unit norm.
func CorrelationFromDistance(distance float64) float64 {
	return 1.0 - 0.5*distance*distance
}

// DistanceThreshold is the largest euclidean distance two normalized rows
// can have when their correlation is at least threshold.
func DistanceThreshold(threshold float64) float64 {
	return math.Sqrt(2.0 * (1.0 - threshold))
}
