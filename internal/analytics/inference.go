package analytics

import (
	"fmt"
	"math"
	"strings"

	"github.com/irfndi/correlation-regime-go/internal/models"
)

// Categorical levels of an InferenceResult.
const (
	LevelNotAvailable = "not_available"

	CorrelationLow      = "low"
	CorrelationModerate = "moderate"
	CorrelationHigh     = "high"

	ImpactNone   = "none"
	ImpactSmall  = "small"
	ImpactMedium = "medium"
	ImpactLarge  = "large"

	NoiseMostly        = "mostly_noise"
	NoiseMixed         = "mixed"
	NoiseClearPatterns = "clear_patterns"

	SpectrumConcentrated = "concentrated"
	SpectrumDispersed    = "dispersed"

	StressCalm   = "calm"
	StressNormal = "normal"
	StressHigh   = "stress"
)

// DefaultLowConfidenceSampleSize is the sample length below which every facet
// carries a low-confidence caveat.
const DefaultLowConfidenceSampleSize = 30

// LowConfidenceNote is appended to each facet when the sample is short.
const LowConfidenceNote = "Low confidence: fewer than %d return observations; treat this reading as indicative only."

type inferenceOptions struct {
	lowConfidence int
}

// InferenceOption customises ComputeInference.
type InferenceOption func(*inferenceOptions)

// WithLowConfidenceSampleSize overrides DefaultLowConfidenceSampleSize.
func WithLowConfidenceSampleSize(n int) InferenceOption {
	return func(o *inferenceOptions) {
		if n > 0 {
			o.lowConfidence = n
		}
	}
}

// ComputeInference maps the numeric pipeline outputs to categorical, explainable
// judgements. Any input may be nil; the affected facets report not_available.
// It never fails and has no randomness.
func ComputeInference(
	raw *models.CorrelationMatrix,
	adjusted *models.AdjustedCorrelation,
	spectrum *models.EigenSpectrum,
	sentiment SentimentVector,
	sampleSize int,
	opts ...InferenceOption,
) *models.InferenceResult {
	o := inferenceOptions{lowConfidence: DefaultLowConfidenceSampleSize}
	for _, opt := range opts {
		opt(&o)
	}

	rawMatrix, tickers := rawMatrixOf(raw, adjusted)
	var adjustedMatrix [][]float64
	if adjusted != nil {
		adjustedMatrix = adjusted.Adjusted
	}

	result := &models.InferenceResult{
		Correlation: correlationFacet(rawMatrix, tickers),
		Sentiment:   sentimentFacet(rawMatrix, adjustedMatrix, sentiment),
		Noise:       noiseFacet(spectrum),
		Spectrum:    spectrumFacet(spectrum),
		Stress:      stressFacet(spectrum),
		SampleSize:  sampleSize,
	}

	lowConfidence := sampleSize < o.lowConfidence
	if lowConfidence {
		note := fmt.Sprintf(LowConfidenceNote, o.lowConfidence)
		for _, f := range []*models.Facet{&result.Correlation, &result.Sentiment, &result.Noise, &result.Spectrum, &result.Stress} {
			f.Notes = append(f.Notes, note)
		}
	}

	result.Headline = headline(result)
	result.Actions = actions(result, lowConfidence, o.lowConfidence)
	return result
}

func rawMatrixOf(raw *models.CorrelationMatrix, adjusted *models.AdjustedCorrelation) ([][]float64, []string) {
	if raw != nil && len(raw.Correlation) > 0 {
		return raw.Correlation, raw.Tickers
	}
	if adjusted != nil && len(adjusted.Raw) > 0 {
		return adjusted.Raw, adjusted.Tickers
	}
	return nil, nil
}

// ClassifyCorrelation buckets the mean absolute pairwise correlation.
func ClassifyCorrelation(meanAbs float64) string {
	switch {
	case meanAbs < 0.2:
		return CorrelationLow
	case meanAbs < 0.5:
		return CorrelationModerate
	default:
		return CorrelationHigh
	}
}

// ClassifySentimentImpact buckets |mean|adjusted| - mean|raw||.
func ClassifySentimentImpact(change float64) string {
	switch {
	case change < 0.01:
		return ImpactNone
	case change < 0.03:
		return ImpactSmall
	case change < 0.06:
		return ImpactMedium
	default:
		return ImpactLarge
	}
}

// ClassifyNoise buckets the noise fraction; exactly 0.5 is clear_patterns.
func ClassifyNoise(fraction float64) string {
	switch {
	case fraction > 0.8:
		return NoiseMostly
	case fraction > 0.5:
		return NoiseMixed
	default:
		return NoiseClearPatterns
	}
}

// ClassifyStress compares λ1 with the upper Marchenko-Pastur bound λ+.
func ClassifyStress(lambda1, lambdaPlus float64) string {
	switch {
	case lambda1 < 0.95*lambdaPlus:
		return StressCalm
	case lambda1 <= 1.05*lambdaPlus:
		return StressNormal
	default:
		return StressHigh
	}
}

func notAvailable(summary string) models.Facet {
	return models.Facet{Level: LevelNotAvailable, Summary: summary, Notes: []string{}}
}

func correlationFacet(raw [][]float64, tickers []string) models.Facet {
	meanAbs, ok := meanAbsUpper(raw)
	if !ok {
		return notAvailable("Correlation data is not available.")
	}

	level := ClassifyCorrelation(meanAbs)
	f := models.Facet{Level: level, Notes: []string{fmt.Sprintf("Mean absolute pairwise correlation is %.2f.", meanAbs)}}
	switch level {
	case CorrelationHigh:
		f.Summary = "Strong co-movement across the selected stocks."
	case CorrelationModerate:
		f.Summary = "Moderate correlation among the selected stocks."
	default:
		f.Summary = "Low correlation; diversification is beneficial."
	}

	if i, j, v, found := strongestPair(raw); found && len(tickers) == len(raw) {
		f.Notes = append(f.Notes, fmt.Sprintf("Strongest pair %s/%s has correlation %.2f.", tickers[i], tickers[j], v))
	}
	return f
}

func strongestPair(m [][]float64) (int, int, float64, bool) {
	bi, bj, best, found := 0, 0, 0.0, false
	for i := range m {
		for j := i + 1; j < len(m[i]); j++ {
			if !found || m[i][j] > best {
				bi, bj, best, found = i, j, m[i][j], true
			}
		}
	}
	return bi, bj, best, found
}

func sentimentFacet(raw, adjusted [][]float64, sentiment SentimentVector) models.Facet {
	rawMean, rawOK := meanAbsUpper(raw)
	adjMean, adjOK := meanAbsUpper(adjusted)

	var f models.Facet
	if !rawOK || !adjOK {
		f = notAvailable("Sentiment adjustment is not available.")
	} else {
		change := math.Abs(adjMean - rawMean)
		f = models.Facet{
			Level: ClassifySentimentImpact(change),
			Notes: []string{fmt.Sprintf("Sentiment moves mean absolute correlation from %.3f to %.3f (change %.3f).", rawMean, adjMean, change)},
		}
		switch f.Level {
		case ImpactNone:
			f.Summary = "News sentiment barely changes the correlation picture."
		case ImpactSmall:
			f.Summary = "News sentiment slightly shifts correlations."
		case ImpactMedium:
			f.Summary = "News sentiment noticeably shifts correlations."
		default:
			f.Summary = "News sentiment strongly reshapes correlations."
		}
	}

	f.Notes = append(f.Notes, sentimentMood(sentiment))
	return f
}

func sentimentMood(sentiment SentimentVector) string {
	if len(sentiment) == 0 {
		return "No sentiment scores supplied; all tickers treated as neutral."
	}
	var sum float64
	for ticker := range sentiment {
		sum += sentiment.Score(ticker)
	}
	avg := sum / float64(len(sentiment))
	switch {
	case avg > 0.4:
		return fmt.Sprintf("Basket sentiment is positive (average %.2f).", avg)
	case avg > 0.1:
		return fmt.Sprintf("Basket sentiment is mildly positive (average %.2f).", avg)
	case avg < -0.1:
		return fmt.Sprintf("Basket sentiment is negative (average %.2f).", avg)
	default:
		return fmt.Sprintf("Basket sentiment is neutral (average %.2f).", avg)
	}
}

func hasBand(spectrum *models.EigenSpectrum) bool {
	return spectrum != nil && len(spectrum.Eigenvalues) > 0 && spectrum.LambdaMax > 0
}

func noiseFacet(spectrum *models.EigenSpectrum) models.Facet {
	if !hasBand(spectrum) {
		return notAvailable("Noise analysis is not available.")
	}

	noise := 0
	for _, v := range spectrum.Eigenvalues {
		if v >= spectrum.LambdaMin && v <= spectrum.LambdaMax {
			noise++
		}
	}
	fraction := float64(noise) / float64(len(spectrum.Eigenvalues))

	f := models.Facet{
		Level: ClassifyNoise(fraction),
		Notes: []string{fmt.Sprintf("%d of %d eigenvalues lie inside the random band [%.3f, %.3f].",
			noise, len(spectrum.Eigenvalues), spectrum.LambdaMin, spectrum.LambdaMax)},
	}
	switch f.Level {
	case NoiseMostly:
		f.Summary = fmt.Sprintf("Mostly noise: %.0f%% of the correlation structure is indistinguishable from random.", fraction*100)
	case NoiseMixed:
		f.Summary = fmt.Sprintf("Mixed: %.0f%% of the correlation structure looks random.", fraction*100)
	default:
		f.Summary = fmt.Sprintf("Clear patterns: only %.0f%% of the correlation structure looks random.", fraction*100)
	}
	return f
}

func spectrumFacet(spectrum *models.EigenSpectrum) models.Facet {
	if spectrum == nil || len(spectrum.Eigenvalues) < 2 {
		return notAvailable("Eigen-spectrum is not available.")
	}

	lambda1, lambda2, _ := MarketMode(spectrum.Eigenvalues)
	spread := lambda1 - lambda2
	ratio := math.Inf(1)
	if lambda2 > 0 {
		ratio = lambda1 / lambda2
	}

	f := models.Facet{Notes: []string{fmt.Sprintf("λ1 = %.3f, λ2 = %.3f, spread = %.3f.", lambda1, lambda2, spread)}}
	if ratio > 2 {
		f.Level = SpectrumConcentrated
		f.Summary = "Returns are concentrated in a single dominant factor."
	} else {
		f.Level = SpectrumDispersed
		f.Summary = "No single factor dominates the eigen-spectrum."
	}
	if spread > 0.5*lambda1 {
		f.Notes = append(f.Notes, "A large gap between λ1 and λ2 points to one very strong mode; systemic risk may be elevated.")
	}
	if spectrum.LambdaMax > 0 && lambda1 > 0.8*spectrum.LambdaMax && lambda1 <= spectrum.LambdaMax {
		f.Notes = append(f.Notes, "λ1 is approaching the noise limit; correlations may be strengthening.")
	}
	return f
}

func stressFacet(spectrum *models.EigenSpectrum) models.Facet {
	if !hasBand(spectrum) {
		return notAvailable("Stress regime is not available.")
	}

	lambda1, _, _ := MarketMode(spectrum.Eigenvalues)
	f := models.Facet{
		Level: ClassifyStress(lambda1, spectrum.LambdaMax),
		Notes: []string{fmt.Sprintf("λ1 = %.3f against the noise limit λ+ = %.3f.", lambda1, spectrum.LambdaMax)},
	}
	switch f.Level {
	case StressHigh:
		f.Summary = "Market stress detected: a dominant market mode exceeds the noise limit."
	case StressNormal:
		f.Summary = "The market mode sits at the noise limit."
	default:
		f.Summary = "Market appears calm; the spectrum matches random-matrix expectations."
	}
	return f
}

func headline(r *models.InferenceResult) string {
	parts := []string{r.Correlation.Summary, r.Sentiment.Summary}
	if r.Stress.Level == StressHigh {
		parts = append(parts, r.Stress.Summary)
	}
	return strings.Join(parts, " ")
}

func actions(r *models.InferenceResult, lowConfidence bool, threshold int) []string {
	var urgent, rest []string

	if r.Stress.Level == StressHigh {
		urgent = append(urgent, "Urgent: review exposure to market and sector factors; consider hedging or reducing concentrated positions.")
	}
	if r.Sentiment.Level == ImpactLarge {
		urgent = append(urgent, "Urgent: check the latest headlines before acting; news flow is driving co-movement.")
	}

	switch r.Correlation.Level {
	case CorrelationHigh:
		rest = append(rest, "Diversify into less correlated names or sectors.")
	case CorrelationModerate:
		rest = append(rest, "Monitor the most correlated pairs for concentration risk.")
	case CorrelationLow:
		rest = append(rest, "Diversification appears effective; keep monitoring correlations.")
	}
	if r.Noise.Level == NoiseMostly {
		rest = append(rest, "Treat individual correlation readings with caution; most structure is statistical noise.")
	}
	if r.Spectrum.Level == SpectrumConcentrated {
		rest = append(rest, "Consider sector-specific risk; returns load on a single factor.")
	}
	if lowConfidence {
		rest = append(rest, fmt.Sprintf("Extend the date range to at least %d trading days for a reliable reading.", threshold))
	}
	if len(urgent)+len(rest) == 0 {
		rest = append(rest, "Continue monitoring correlations and news-driven shocks.")
	}

	return append(urgent, rest...)
}
