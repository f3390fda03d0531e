package analytics

import (
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
	"gonum.org/v1/gonum/stat"

	"github.com/irfndi/correlation-regime-go/internal/models"
)

const (
	momentumWindowDays = 7
	rsiPeriod          = 14
	tradingDaysPerYear = 252
)

// ComputeTickerMetrics derives momentum, RSI and annualized volatility for each
// ticker. Metrics that the history is too short for are left nil.
func ComputeTickerMetrics(prices map[string][]float64, returns ReturnSeries, sentiment SentimentVector) map[string]models.TickerMetrics {
	out := make(map[string]models.TickerMetrics, len(prices))
	for ticker, series := range prices {
		m := models.TickerMetrics{Sentiment: sentiment.Score(ticker)}
		m.Momentum7D = finite(Momentum(series, momentumWindowDays))
		m.RSI14 = finite(RSI(series, rsiPeriod))
		m.VolAnnualized = finite(AnnualizedVolatility(returns[ticker]))
		out[ticker] = m
	}
	return out
}

// Momentum is the simple return over the last window observations, NaN when
// the series is too short.
func Momentum(prices []float64, window int) float64 {
	if window <= 0 || len(prices) < window+1 {
		return math.NaN()
	}
	base := prices[len(prices)-1-window]
	if base == 0 {
		return math.NaN()
	}
	return prices[len(prices)-1]/base - 1
}

// RSI returns the latest relative strength index with gains and losses
// averaged by a simple rolling mean over period, not Wilder smoothing. It is
// NaN when the series is too short or the window holds no losses.
func RSI(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period+1 {
		return math.NaN()
	}
	gain, ok := lastRollingMean(helper.KeepPositives(helper.Change(helper.SliceToChan(prices), 1)), period)
	if !ok {
		return math.NaN()
	}
	loss, ok := lastRollingMean(helper.KeepNegatives(helper.Change(helper.SliceToChan(prices), 1)), period)
	if !ok || loss == 0 {
		return math.NaN()
	}
	rs := gain / -loss
	return 100 - 100/(1+rs)
}

func lastRollingMean(c <-chan float64, period int) (float64, bool) {
	values := helper.ChanToSlice(trend.NewSmaWithPeriod[float64](period).Compute(c))
	if len(values) == 0 {
		return 0, false
	}
	return values[len(values)-1], true
}

// AnnualizedVolatility scales the sample standard deviation of daily returns by sqrt(252).
func AnnualizedVolatility(returns []float64) float64 {
	if len(returns) < 2 {
		return math.NaN()
	}
	return stat.StdDev(returns, nil) * math.Sqrt(tradingDaysPerYear)
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
