// Package paa normalizes window rows and reduces them with Piecewise
// Aggregate Approximation.
package paa

import (
	"fmt"
	"math"

	"github.com/kpaschen/windowjoin/lib/datatypes"
	"gonum.org/v1/gonum/floats"
)

func mean(slice []float64) float64 {
	return floats.Sum(slice) / float64(len(slice))
}

// NormalizeSlice shifts slice to mean zero and scales it to unit L2 norm,
// in place. This is not a z-score: the divisor is the norm of the centered
// vector, not the standard deviation.
// The return value is true if the slice is constant. Constant slices
// are set to all zeroes.
func NormalizeSlice(slice []float64) bool {
	length := len(slice)
	if length == 0 {
		return true
	}
	avg := mean(slice)
	var sumOfSquares float64

	for i := 0; i < length; i++ {
		diff := slice[i] - avg
		sumOfSquares += diff * diff
	}
	normalizingFactor := math.Sqrt(sumOfSquares)
	if normalizingFactor == 0.0 {
		for i := 0; i < length; i++ {
			slice[i] = 0.0
		}
		return true
	}
	for i := 0; i < length; i++ {
		diff := slice[i] - avg
		slice[i] = diff / normalizingFactor
	}
	return false
}

// CheckTargetColumnCount returns a ConfigurationError unless
// 0 < targetColumnCount < columnCount and targetColumnCount divides columnCount.
func CheckTargetColumnCount(columnCount int, targetColumnCount int) error {
	if targetColumnCount <= 0 || targetColumnCount >= columnCount || columnCount%targetColumnCount != 0 {
		return datatypes.ConfigurationError{
			Parameter: "k",
			Reason: fmt.Sprintf("choose k such that k < n and k divides n; got n = %d and k = %d",
				columnCount, targetColumnCount),
		}
	}
	return nil
}

// Reduce slice to targetColumnCount columns by dividing it into
// equi-length segments and using mean values.
func PAA(slice []float64, targetColumnCount int) ([]float64, error) {
	if err := CheckTargetColumnCount(len(slice), targetColumnCount); err != nil {
		return nil, err
	}
	windowSize := len(slice) / targetColumnCount
	ret := make([]float64, targetColumnCount)

	for i := 0; i < targetColumnCount; i++ {
		ret[i] = mean(slice[(i * windowSize):((i + 1) * windowSize)])
	}
	return ret, nil
}

// PAAMatrix applies PAA to every row.
func PAAMatrix(rows [][]float64, targetColumnCount int) ([][]float64, error) {
	ret := make([][]float64, len(rows))
	for i, row := range rows {
		reduced, err := PAA(row, targetColumnCount)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		ret[i] = reduced
	}
	return ret, nil
}
