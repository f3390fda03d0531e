package analytics

import (
	"fmt"
	"math"

	"github.com/irfndi/correlation-regime-go/internal/models"
)

// DefaultAlpha is the sentiment blend weight used when the caller supplies none.
const DefaultAlpha = 0.3

// SentimentVector maps a ticker to its news sentiment score. Scores are
// conventionally in [-1, 1]; values outside are clipped before use.
type SentimentVector map[string]float64

// Score returns the clipped score of ticker, 0.0 (neutral) when absent.
func (s SentimentVector) Score(ticker string) float64 {
	v, ok := s[ticker]
	if !ok || math.IsNaN(v) {
		return 0
	}
	return clamp(v, -1, 1)
}

// SentimentSimilarity is the co-movement term blended into correlation:
// the product of the two clipped scores. It is symmetric, bounded to [-1, 1],
// positive when both tickers share a narrative direction and 0 when either is neutral.
func SentimentSimilarity(a, b float64) float64 {
	return clamp(clamp(a, -1, 1)*clamp(b, -1, 1), -1, 1)
}

// ComputeSentimentAdjustedCorrelation estimates the raw correlation of returns
// and blends sentiment similarity into it.
func ComputeSentimentAdjustedCorrelation(
	tickers []string,
	returns ReturnSeries,
	sentiment SentimentVector,
	alpha float64,
	examples map[string][]models.NewsItem,
) (*models.AdjustedCorrelation, error) {
	if len(tickers) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrEmptyBasket, len(tickers))
	}
	raw, err := ComputeCorrelation(tickers, returns)
	if err != nil {
		return nil, err
	}
	return AdjustCorrelation(raw, sentiment, alpha, examples)
}

// AdjustCorrelation computes (1-alpha)*raw + alpha*sim for every pair. The raw
// matrix is not modified.
func AdjustCorrelation(
	raw *models.CorrelationMatrix,
	sentiment SentimentVector,
	alpha float64,
	examples map[string][]models.NewsItem,
) (*models.AdjustedCorrelation, error) {
	if raw == nil || len(raw.Tickers) < 2 {
		return nil, fmt.Errorf("%w: raw correlation covers fewer than 2 tickers", ErrEmptyBasket)
	}
	if math.IsNaN(alpha) || alpha < 0 || alpha > 1 {
		return nil, fmt.Errorf("%w: got %g", ErrInvalidAlpha, alpha)
	}

	n := len(raw.Tickers)
	if len(raw.Correlation) != n {
		return nil, fmt.Errorf("%w: raw matrix has %d rows for %d tickers", ErrSingularInput, len(raw.Correlation), n)
	}

	scores := make(map[string]float64, n)
	for _, ticker := range raw.Tickers {
		scores[ticker] = sentiment.Score(ticker)
	}

	adjusted := newIdentity(n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sim := SentimentSimilarity(scores[raw.Tickers[i]], scores[raw.Tickers[j]])
			v := clamp((1-alpha)*raw.Correlation[i][j]+alpha*sim, -1, 1)
			adjusted[i][j] = v
			adjusted[j][i] = v
		}
	}

	return &models.AdjustedCorrelation{
		Tickers:   append([]string(nil), raw.Tickers...),
		Raw:       copyMatrix(raw.Correlation),
		Adjusted:  adjusted,
		Alpha:     alpha,
		Sentiment: scores,
		Examples:  examples,
	}, nil
}
