package analytics

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeCorrelation_KnownValues(t *testing.T) {
	x := []float64{0.01, -0.02, 0.03, 0.015, -0.005}
	double := make([]float64, len(x))
	negated := make([]float64, len(x))
	for i, v := range x {
		double[i] = 2 * v
		negated[i] = -v
	}

	m, err := ComputeCorrelation([]string{"X", "DOUBLE", "NEG"}, ReturnSeries{
		"X": x, "DOUBLE": double, "NEG": negated,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"X", "DOUBLE", "NEG"}, m.Tickers)
	assert.Equal(t, 5, m.SampleSize)
	assert.InDelta(t, 1.0, m.Correlation[0][1], 1e-12)
	assert.InDelta(t, -1.0, m.Correlation[0][2], 1e-12)
	assert.InDelta(t, -1.0, m.Correlation[1][2], 1e-12)
	assert.Empty(t, m.FlaggedPairs)
}

func TestComputeCorrelation_MatrixInvariants(t *testing.T) {
	returns := randomReturns(rand.New(rand.NewSource(7)), []string{"A", "B", "C", "D", "E"}, 80, 0.4)
	m, err := ComputeCorrelation([]string{"A", "B", "C", "D", "E"}, returns)
	require.NoError(t, err)

	for i := range m.Correlation {
		assert.Equal(t, 1.0, m.Correlation[i][i], "diagonal must be exactly 1")
		for j := range m.Correlation[i] {
			assert.Equal(t, m.Correlation[i][j], m.Correlation[j][i], "matrix must be symmetric")
			assert.GreaterOrEqual(t, m.Correlation[i][j], -1.0)
			assert.LessOrEqual(t, m.Correlation[i][j], 1.0)
			assert.False(t, math.IsNaN(m.Correlation[i][j]))
		}
	}
}

func TestComputeCorrelation_Idempotent(t *testing.T) {
	tickers := []string{"A", "B", "C"}
	returns := randomReturns(rand.New(rand.NewSource(1)), tickers, 50, 0.5)

	first, err := ComputeCorrelation(tickers, returns)
	require.NoError(t, err)
	second, err := ComputeCorrelation(tickers, returns)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestComputeCorrelation_ZeroVarianceIsFlagged(t *testing.T) {
	m, err := ComputeCorrelation([]string{"FLAT", "A", "B"}, ReturnSeries{
		"FLAT": {0.01, 0.01, 0.01, 0.01},
		"A":    {0.01, -0.02, 0.03, 0.00},
		"B":    {0.02, -0.01, 0.02, 0.01},
	})
	require.NoError(t, err)

	assert.Equal(t, 0.0, m.Correlation[0][1])
	assert.Equal(t, 0.0, m.Correlation[0][2])
	assert.Equal(t, 1.0, m.Correlation[0][0])
	assert.NotZero(t, m.Correlation[1][2])
	require.Len(t, m.FlaggedPairs, 2)
	assert.Equal(t, "FLAT", m.FlaggedPairs[0].A)
	assert.Equal(t, "zero_variance", m.FlaggedPairs[0].Reason)
}

func TestComputeCorrelation_Errors(t *testing.T) {
	tests := []struct {
		name    string
		tickers []string
		returns ReturnSeries
		want    error
	}{
		{
			name:    "single ticker",
			tickers: []string{"A"},
			returns: ReturnSeries{"A": {0.1, 0.2}},
			want:    ErrEmptyBasket,
		},
		{
			name:    "all constant",
			tickers: []string{"A", "B"},
			returns: ReturnSeries{"A": {0.1, 0.1, 0.1}, "B": {0, 0, 0}},
			want:    ErrDegenerateSeries,
		},
		{
			name:    "missing ticker",
			tickers: []string{"A", "B"},
			returns: ReturnSeries{"A": {0.1, 0.2, 0.3}},
			want:    ErrInsufficientData,
		},
		{
			name:    "misaligned",
			tickers: []string{"A", "B"},
			returns: ReturnSeries{"A": {0.1, 0.2, 0.3}, "B": {0.1, 0.2}},
			want:    ErrInsufficientData,
		},
		{
			name:    "single return",
			tickers: []string{"A", "B"},
			returns: ReturnSeries{"A": {0.1}, "B": {0.2}},
			want:    ErrInsufficientData,
		},
		{
			name:    "nan return",
			tickers: []string{"A", "B"},
			returns: ReturnSeries{"A": {0.1, math.NaN(), 0.3}, "B": {0.1, 0.2, 0.3}},
			want:    ErrInsufficientData,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ComputeCorrelation(tc.tickers, tc.returns)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

// randomReturns draws returns that load on one common factor with the given weight.
func randomReturns(rng *rand.Rand, tickers []string, length int, factorWeight float64) ReturnSeries {
	factor := make([]float64, length)
	for i := range factor {
		factor[i] = rng.NormFloat64()
	}
	out := make(ReturnSeries, len(tickers))
	for _, ticker := range tickers {
		series := make([]float64, length)
		for i := range series {
			series[i] = 0.01 * (factorWeight*factor[i] + (1-factorWeight)*rng.NormFloat64())
		}
		out[ticker] = series
	}
	return out
}
