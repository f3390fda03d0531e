package analytics

import (
	"fmt"
	"math"
	"sort"
)

// ReturnSeries maps a ticker to its daily log returns. All series of one
// analysis share the same length and date index.
type ReturnSeries map[string][]float64

// Len returns the common series length, or 0 for an empty set.
func (r ReturnSeries) Len() int {
	for _, series := range r {
		return len(series)
	}
	return 0
}

// BuildReturns converts aligned close prices into log returns ln(p_t/p_{t-1}).
// Each output series has one element fewer than its price series; that length
// is the T used by every later stage.
func BuildReturns(prices map[string][]float64) (ReturnSeries, error) {
	if len(prices) == 0 {
		return nil, fmt.Errorf("%w: no price series supplied", ErrInsufficientData)
	}

	// Deterministic error reporting regardless of map order.
	tickers := make([]string, 0, len(prices))
	for ticker := range prices {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)

	length := len(prices[tickers[0]])
	returns := make(ReturnSeries, len(prices))
	for _, ticker := range tickers {
		series := prices[ticker]
		if len(series) < 2 {
			return nil, fmt.Errorf("%w: %s has %d observations, need at least 2", ErrInsufficientData, ticker, len(series))
		}
		if len(series) != length {
			return nil, fmt.Errorf("%w: %s has %d observations, expected %d (series are not aligned)",
				ErrInsufficientData, ticker, len(series), length)
		}
		out, err := logReturns(series)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ticker, err)
		}
		returns[ticker] = out
	}

	return returns, nil
}

func logReturns(series []float64) ([]float64, error) {
	out := make([]float64, len(series)-1)
	for i := 1; i < len(series); i++ {
		prev, curr := series[i-1], series[i]
		if prev <= 0 || curr <= 0 || math.IsNaN(prev) || math.IsNaN(curr) {
			return nil, fmt.Errorf("%w: non-positive price at index %d", ErrInsufficientData, i)
		}
		out[i-1] = math.Log(curr / prev)
	}
	return out, nil
}
