package models

import "time"

// PairFlag marks a correlation cell that could not be estimated.
type PairFlag struct {
	A      string `json:"a"`
	B      string `json:"b"`
	Reason string `json:"reason"` // zero_variance
}

// CorrelationMatrix holds the pairwise Pearson correlation of a basket.
// Rows and columns follow Tickers order.
type CorrelationMatrix struct {
	Tickers      []string    `json:"tickers"`
	Correlation  [][]float64 `json:"correlation"`
	FlaggedPairs []PairFlag  `json:"flagged_pairs,omitempty"`
	SampleSize   int         `json:"sample_size"`
}

// EigenSpectrum is the RMT decomposition of a correlation matrix.
// Eigenvalues are in ascending order; Classes is aligned with Eigenvalues.
type EigenSpectrum struct {
	Eigenvalues   []float64   `json:"eigenvalues"`
	LambdaMin     float64     `json:"lambda_min"`
	LambdaMax     float64     `json:"lambda_max"`
	Q             float64     `json:"q"`
	Classes       []string    `json:"classes"` // noise, signal
	NoiseFraction float64     `json:"noise_fraction"`
	SignalCount   int         `json:"signal_count"`
	Denoised      [][]float64 `json:"denoised,omitempty"`
}

// AdjustedCorrelation is the raw matrix blended with sentiment similarity.
type AdjustedCorrelation struct {
	Tickers   []string              `json:"tickers"`
	Raw       [][]float64           `json:"raw"`
	Adjusted  [][]float64           `json:"adjusted"`
	Alpha     float64               `json:"alpha"`
	Sentiment map[string]float64    `json:"sentiment"`
	Examples  map[string][]NewsItem `json:"examples,omitempty"`
}

// Facet is one categorical judgement of the inference result.
type Facet struct {
	Level   string   `json:"level"`
	Summary string   `json:"summary"`
	Notes   []string `json:"notes"`
}

// InferenceResult is the plain-language reading of one analysis.
type InferenceResult struct {
	Correlation Facet    `json:"correlation"`
	Sentiment   Facet    `json:"sentiment"`
	Noise       Facet    `json:"noise"`
	Spectrum    Facet    `json:"spectrum"`
	Stress      Facet    `json:"stress"`
	Headline    string   `json:"headline"`
	Actions     []string `json:"actions"`
	SampleSize  int      `json:"sample_size"`
}

// TickerMetrics are per-ticker descriptive statistics shown next to the badges.
// Nil fields could not be computed from the available history.
type TickerMetrics struct {
	Momentum7D    *float64 `json:"momentum_7d,omitempty"`
	RSI14         *float64 `json:"rsi_14,omitempty"`
	VolAnnualized *float64 `json:"vol_annualized,omitempty"`
	Sentiment     float64  `json:"sentiment"`
}

// AnalysisResult bundles every stage output of one pipeline run.
type AnalysisResult struct {
	AnalysisID  string                   `json:"analysis_id"`
	Tickers     []string                 `json:"tickers"`
	Start       string                   `json:"start,omitempty"`
	End         string                   `json:"end,omitempty"`
	Alpha       float64                  `json:"alpha"`
	SampleSize  int                      `json:"sample_size"`
	Correlation *CorrelationMatrix       `json:"correlation"`
	RMT         *EigenSpectrum           `json:"rmt"`
	Adjusted    *AdjustedCorrelation     `json:"adjusted_correlation"`
	Inference   *InferenceResult         `json:"inference"`
	Predictions map[string]TickerMetrics `json:"predictions"`
	GeneratedAt time.Time                `json:"generated_at"`
}
