package svd

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrNoConvergence is returned when the factorization fails.
var ErrNoConvergence = errors.New("failed to find SVD of input matrix")

// TruncatedSVD, inspired by sklearn's class of the same
// name, as well as github.com/james-bowman/nlp.
// SVD factors a matrix A as USV^T where S is a diagonal
// matrix of singular values.
// TruncatedSVD truncates the result to the top k singular
// values.
type TruncatedSVD struct {
	// Components is the truncated V of size c x k where c
	// is the number of columns in the training data, and k is
	// the minimum of the value to truncate to and the rank
	// of the original matrix.
	Components *mat.Dense

	// The number of dimensions to truncate to.
	K int
}

func checkFinite(m mat.Matrix) error {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: value at (%d, %d) is not finite", ErrNoConvergence, i, j)
			}
		}
	}
	return nil
}

// Fit computes the truncated right singular vectors of fit.
func (t *TruncatedSVD) Fit(fit mat.Matrix) error {
	if t.K <= 0 {
		return fmt.Errorf("svd needs a positive number of output dimensions, got %d", t.K)
	}
	if err := checkFinite(fit); err != nil {
		return err
	}
	var svd mat.SVD
	ok := svd.Factorize(fit, mat.SVDThinV)
	if !ok {
		return ErrNoConvergence
	}

	var v mat.Dense
	svd.VTo(&v)

	r, c := fit.Dims()
	actualK := min(t.K, min(r, c))

	truncatedV := v.Slice(0, c, 0, actualK)
	t.Components = mat.DenseCopyOf(truncatedV)
	return nil
}

// Transform projects m onto the fitted components.
func (t *TruncatedSVD) Transform(m mat.Matrix) (*mat.Dense, error) {
	if t.Components == nil {
		return nil, fmt.Errorf("svd has not been fitted")
	}
	_, c := m.Dims()
	vr, _ := t.Components.Dims()
	if c != vr {
		return nil, fmt.Errorf("matrix has %d columns but the svd was fitted on %d", c, vr)
	}
	var product mat.Dense
	product.Mul(m, t.Components)
	return &product, nil
}

// This is based on the code in james-bowman/nlp but it returns
// mat.Dense. The product full * V_k equals U_k S_k when fit == full,
// which matches python's sklearn.decomposition.TruncatedSVD.
// fit may be a row sample of full.
func (t *TruncatedSVD) FitTransform(fit mat.Matrix, full mat.Matrix) (*mat.Dense, error) {
	if err := t.Fit(fit); err != nil {
		return nil, err
	}
	return t.Transform(full)
}
