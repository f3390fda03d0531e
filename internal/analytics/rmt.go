package analytics

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/irfndi/correlation-regime-go/internal/models"
)

const (
	classNoise  = "noise"
	classSignal = "signal"

	// DefaultSymmetryTolerance is the largest |m[i][j]-m[j][i]| accepted as symmetric.
	DefaultSymmetryTolerance = 1e-9
)

type rmtOptions struct {
	denoise   bool
	tolerance float64
}

// RMTOption customises ComputeRMT.
type RMTOption func(*rmtOptions)

// WithDenoise asks ComputeRMT to also return the RMT-cleaned correlation matrix.
func WithDenoise() RMTOption {
	return func(o *rmtOptions) { o.denoise = true }
}

// WithSymmetryTolerance overrides DefaultSymmetryTolerance.
func WithSymmetryTolerance(tol float64) RMTOption {
	return func(o *rmtOptions) {
		if tol > 0 {
			o.tolerance = tol
		}
	}
}

// MarchenkoPasturBounds returns the theoretical eigenvalue band of a random
// correlation matrix built from t observations of n independent assets.
func MarchenkoPasturBounds(t, n int) (lambdaMin, lambdaMax float64, err error) {
	if t <= 0 || n <= 0 {
		return 0, 0, fmt.Errorf("%w: T=%d N=%d", ErrInvalidRatio, t, n)
	}
	q := float64(t) / float64(n)
	s := math.Sqrt(1 / q)
	return (1 - s) * (1 - s), (1 + s) * (1 + s), nil
}

// ComputeRMT eigen-decomposes an n x n correlation matrix estimated from t
// returns and classifies each eigenvalue against the Marchenko-Pastur band.
// Eigenvalues are returned in ascending order.
func ComputeRMT(corr [][]float64, t, n int, opts ...RMTOption) (*models.EigenSpectrum, error) {
	o := rmtOptions{tolerance: DefaultSymmetryTolerance}
	for _, opt := range opts {
		opt(&o)
	}

	lambdaMin, lambdaMax, err := MarchenkoPasturBounds(t, n)
	if err != nil {
		return nil, err
	}
	if len(corr) != n {
		return nil, fmt.Errorf("%w: matrix has %d rows, N=%d", ErrInvalidRatio, len(corr), n)
	}

	for i, row := range corr {
		if len(row) != n {
			return nil, fmt.Errorf("%w: row %d has %d columns, expected %d", ErrSingularInput, i, len(row), n)
		}
	}

	data := make([]float64, 0, n*n)
	for i, row := range corr {
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: non-finite entry at (%d,%d)", ErrSingularInput, i, j)
			}
			if math.Abs(v-corr[j][i]) > o.tolerance {
				return nil, fmt.Errorf("%w: |m[%d][%d]-m[%d][%d]| = %g exceeds %g",
					ErrSingularInput, i, j, j, i, math.Abs(v-corr[j][i]), o.tolerance)
			}
		}
		data = append(data, row...)
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(mat.NewSymDense(n, data), o.denoise); !ok {
		return nil, fmt.Errorf("%w: eigen-decomposition failed to converge", ErrSingularInput)
	}
	values := eig.Values(nil)

	classes := make([]string, n)
	noise := 0
	for i, v := range values {
		if v >= lambdaMin && v <= lambdaMax {
			classes[i] = classNoise
			noise++
		} else {
			classes[i] = classSignal
		}
	}

	spectrum := &models.EigenSpectrum{
		Eigenvalues:   values,
		LambdaMin:     lambdaMin,
		LambdaMax:     lambdaMax,
		Q:             float64(t) / float64(n),
		Classes:       classes,
		NoiseFraction: float64(noise) / float64(n),
		SignalCount:   n - noise,
	}

	if o.denoise {
		var vectors mat.Dense
		eig.VectorsTo(&vectors)
		spectrum.Denoised = denoise(values, classes, &vectors)
	}

	return spectrum, nil
}

// denoise replaces noise eigenvalues by their mean, rebuilds V diag(λ) Vᵀ and
// rescales it back to a correlation matrix.
func denoise(values []float64, classes []string, vectors *mat.Dense) [][]float64 {
	n := len(values)
	clean := append([]float64(nil), values...)

	var noiseSum float64
	noiseCount := 0
	for i, c := range classes {
		if c == classNoise {
			noiseSum += values[i]
			noiseCount++
		}
	}
	if noiseCount > 0 {
		avg := noiseSum / float64(noiseCount)
		for i, c := range classes {
			if c == classNoise {
				clean[i] = avg
			}
		}
	}

	var scaled, rebuilt mat.Dense
	scaled.Mul(vectors, mat.NewDiagDense(n, clean))
	rebuilt.Mul(&scaled, vectors.T())

	out := newIdentity(n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v := (rebuilt.At(i, j) + rebuilt.At(j, i)) / 2
			if di, dj := rebuilt.At(i, i), rebuilt.At(j, j); di > 0 && dj > 0 {
				v /= math.Sqrt(di * dj)
			}
			v = clamp(v, -1, 1)
			out[i][j] = v
			out[j][i] = v
		}
	}
	return out
}

// DescendingEigenvalues returns a sorted copy, largest first. Consumers must not
// rely on the producer's order.
func DescendingEigenvalues(values []float64) []float64 {
	sorted := append([]float64(nil), values...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	return sorted
}

// MarketMode returns the largest eigenvalue λ1 (market-mode strength) and the
// second largest λ2. ok is false for an empty spectrum; λ2 is 0 when N = 1.
func MarketMode(values []float64) (lambda1, lambda2 float64, ok bool) {
	if len(values) == 0 {
		return 0, 0, false
	}
	sorted := DescendingEigenvalues(values)
	lambda1 = sorted[0]
	if len(sorted) > 1 {
		lambda2 = sorted[1]
	}
	return lambda1, lambda2, true
}
