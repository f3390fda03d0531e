package analytics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/irfndi/correlation-regime-go/internal/models"
)

const flagZeroVariance = "zero_variance"

// ComputeCorrelation builds the Pearson correlation matrix of returns with rows
// and columns in tickers order. A pair involving a constant series is set to 0
// and flagged; the call fails only when every series is constant.
func ComputeCorrelation(tickers []string, returns ReturnSeries) (*models.CorrelationMatrix, error) {
	if len(tickers) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrEmptyBasket, len(tickers))
	}

	series := make([][]float64, len(tickers))
	length := -1
	for i, ticker := range tickers {
		x, ok := returns[ticker]
		if !ok {
			return nil, fmt.Errorf("%w: no returns for %s", ErrInsufficientData, ticker)
		}
		if length == -1 {
			length = len(x)
		}
		if len(x) != length {
			return nil, fmt.Errorf("%w: %s has %d returns, expected %d", ErrInsufficientData, ticker, len(x), length)
		}
		for _, v := range x {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: %s contains a non-finite return", ErrInsufficientData, ticker)
			}
		}
		series[i] = x
	}
	if length < 2 {
		return nil, fmt.Errorf("%w: %d returns per series, need at least 2", ErrInsufficientData, length)
	}

	constant := make([]bool, len(series))
	constantCount := 0
	for i, x := range series {
		if isConstant(x) {
			constant[i] = true
			constantCount++
		}
	}
	if constantCount == len(series) {
		return nil, fmt.Errorf("%w: all %d return series are constant", ErrDegenerateSeries, len(series))
	}

	n := len(tickers)
	matrix := newIdentity(n)
	var flags []models.PairFlag
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if constant[i] || constant[j] {
				flags = append(flags, models.PairFlag{A: tickers[i], B: tickers[j], Reason: flagZeroVariance})
				continue
			}
			r := clamp(stat.Correlation(series[i], series[j], nil), -1, 1)
			if math.IsNaN(r) {
				flags = append(flags, models.PairFlag{A: tickers[i], B: tickers[j], Reason: flagZeroVariance})
				r = 0
			}
			matrix[i][j] = r
			matrix[j][i] = r
		}
	}

	ordered := make([]string, n)
	copy(ordered, tickers)

	return &models.CorrelationMatrix{
		Tickers:      ordered,
		Correlation:  matrix,
		FlaggedPairs: flags,
		SampleSize:   length,
	}, nil
}

func isConstant(x []float64) bool {
	for _, v := range x[1:] {
		if v != x[0] {
			return false
		}
	}
	return true
}

func newIdentity(n int) [][]float64 {
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
		m[i][i] = 1
	}
	return m
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func copyMatrix(src [][]float64) [][]float64 {
	if src == nil {
		return nil
	}
	dst := make([][]float64, len(src))
	for i, row := range src {
		dst[i] = append([]float64(nil), row...)
	}
	return dst
}

// meanAbsUpper is the mean |m[i][j]| over the strict upper triangle.
func meanAbsUpper(m [][]float64) (float64, bool) {
	var sum float64
	count := 0
	for i := range m {
		for j := i + 1; j < len(m[i]); j++ {
			sum += math.Abs(m[i][j])
			count++
		}
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}
