package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/correlation-regime-go/internal/analytics"
	"github.com/irfndi/correlation-regime-go/internal/logging"
	"github.com/irfndi/correlation-regime-go/internal/metrics"
	"github.com/irfndi/correlation-regime-go/internal/models"
	"github.com/irfndi/correlation-regime-go/internal/services"
	"github.com/irfndi/correlation-regime-go/internal/utils"
)

const dateLayout = "2006-01-02"

// AnalysisRunner runs the full pipeline against the stores.
type AnalysisRunner interface {
	Analyze(ctx context.Context, req services.AnalysisRequest) (*models.AnalysisResult, error)
}

// AnalysisSettings carries the analytics config the handlers enforce.
type AnalysisSettings struct {
	MinTickers              int
	MaxTickers              int
	DefaultAlpha            float64
	SymmetryTolerance       float64
	LowConfidenceSampleSize int
}

type AnalysisHandler struct {
	runner   AnalysisRunner
	settings AnalysisSettings
	logger   *logging.StandardLogger
}

type CorrelationRequest struct {
	Tickers []string             `json:"tickers"`
	Returns map[string][]float64 `json:"returns"`
}

type RMTRequest struct {
	Correlation [][]float64 `json:"correlation"`
	T           int         `json:"t"`
	N           int         `json:"n"`
	Denoise     bool        `json:"denoise"`
}

type SentimentAdjustedRequest struct {
	Tickers   []string                     `json:"tickers"`
	Returns   map[string][]float64         `json:"returns"`
	Sentiment map[string]float64           `json:"sentiment"`
	Alpha     *float64                     `json:"alpha"`
	Examples  map[string][]models.NewsItem `json:"examples"`
}

// InferenceRequest accepts precomputed stage outputs. Any of them may be
// omitted; the matching facets then report not_available.
type InferenceRequest struct {
	Tickers     []string           `json:"tickers"`
	Raw         [][]float64        `json:"raw"`
	Adjusted    [][]float64        `json:"adjusted"`
	Eigenvalues []float64          `json:"eigenvalues"`
	LambdaMin   *float64           `json:"lambda_min"`
	LambdaMax   *float64           `json:"lambda_max"`
	Sentiment   map[string]float64 `json:"sentiment"`
	SampleSize  int                `json:"sample_size"`
}

func NewAnalysisHandler(runner AnalysisRunner, settings AnalysisSettings, logger *logging.StandardLogger) *AnalysisHandler {
	if settings.MinTickers <= 0 {
		settings.MinTickers = 2
	}
	if settings.MaxTickers < settings.MinTickers {
		settings.MaxTickers = settings.MinTickers
	}
	return &AnalysisHandler{runner: runner, settings: settings, logger: logger}
}

// ComputeCorrelation handles POST /api/v1/analysis/correlation.
func (h *AnalysisHandler) ComputeCorrelation(c *gin.Context) {
	var req CorrelationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, utils.NewValidationErrorf("invalid request body: %v", err))
		return
	}
	tickers, err := h.validateBasket(req.Tickers)
	if err != nil {
		h.respondError(c, err)
		return
	}

	result, err := analytics.ComputeCorrelation(tickers, analytics.ReturnSeries(upperKeys(req.Returns)))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ComputeRMT handles POST /api/v1/analysis/rmt.
func (h *AnalysisHandler) ComputeRMT(c *gin.Context) {
	var req RMTRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, utils.NewValidationErrorf("invalid request body: %v", err))
		return
	}
	if len(req.Correlation) == 0 {
		h.respondError(c, utils.NewFieldError("correlation", "is required"))
		return
	}
	if err := h.checkDimension("correlation", len(req.Correlation)); err != nil {
		h.respondError(c, err)
		return
	}
	n := req.N
	if n == 0 {
		n = len(req.Correlation)
	}
	if n != len(req.Correlation) {
		h.respondError(c, utils.NewFieldError("n", "must equal the matrix dimension %d", len(req.Correlation)))
		return
	}
	if req.T <= 0 {
		h.respondError(c, utils.NewFieldError("t", "must be a positive sample length"))
		return
	}

	opts := []analytics.RMTOption{analytics.WithSymmetryTolerance(h.settings.SymmetryTolerance)}
	if req.Denoise {
		opts = append(opts, analytics.WithDenoise())
	}
	spectrum, err := analytics.ComputeRMT(req.Correlation, req.T, n, opts...)
	if err != nil {
		if errors.Is(err, analytics.ErrSingularInput) {
			err = utils.NewFieldError("correlation", "%v", err)
		}
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, spectrum)
}

// ComputeSentimentAdjusted handles POST /api/v1/analysis/sentiment-adjusted.
func (h *AnalysisHandler) ComputeSentimentAdjusted(c *gin.Context) {
	var req SentimentAdjustedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, utils.NewValidationErrorf("invalid request body: %v", err))
		return
	}
	tickers, err := h.validateBasket(req.Tickers)
	if err != nil {
		h.respondError(c, err)
		return
	}
	alpha := h.settings.DefaultAlpha
	if req.Alpha != nil {
		alpha = *req.Alpha
	}

	result, err := analytics.ComputeSentimentAdjustedCorrelation(
		tickers,
		analytics.ReturnSeries(upperKeys(req.Returns)),
		analytics.SentimentVector(upperKeys(req.Sentiment)),
		alpha,
		upperKeys(req.Examples),
	)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ComputeInference handles POST /api/v1/analysis/inference.
func (h *AnalysisHandler) ComputeInference(c *gin.Context) {
	var req InferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, utils.NewValidationErrorf("invalid request body: %v", err))
		return
	}
	tickers := normalizeTickers(req.Tickers)
	for name, m := range map[string][][]float64{"raw": req.Raw, "adjusted": req.Adjusted} {
		if m == nil {
			continue
		}
		if err := h.checkDimension(name, len(m)); err != nil {
			h.respondError(c, err)
			return
		}
		if len(m) != len(tickers) {
			h.respondError(c, utils.NewFieldError(name, "has %d rows for %d tickers", len(m), len(tickers)))
			return
		}
	}
	if len(req.Eigenvalues) > 0 {
		if err := h.checkDimension("eigenvalues", len(req.Eigenvalues)); err != nil {
			h.respondError(c, err)
			return
		}
	}

	var raw *models.CorrelationMatrix
	if len(req.Raw) > 0 {
		raw = &models.CorrelationMatrix{Tickers: tickers, Correlation: req.Raw, SampleSize: req.SampleSize}
	}
	var adjusted *models.AdjustedCorrelation
	if len(req.Adjusted) > 0 {
		adjusted = &models.AdjustedCorrelation{Tickers: tickers, Raw: req.Raw, Adjusted: req.Adjusted}
	}
	spectrum, err := spectrumFromRequest(req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	result := analytics.ComputeInference(raw, adjusted, spectrum,
		analytics.SentimentVector(upperKeys(req.Sentiment)), req.SampleSize,
		analytics.WithLowConfidenceSampleSize(h.settings.LowConfidenceSampleSize))
	c.JSON(http.StatusOK, result)
}

// GetAnalysis handles GET /api/v1/analysis?tickers=A,B&start=&end=&alpha=.
func (h *AnalysisHandler) GetAnalysis(c *gin.Context) {
	tickers, err := h.validateBasket(strings.Split(c.Query("tickers"), ","))
	if err != nil {
		h.respondError(c, err)
		return
	}
	req := services.AnalysisRequest{Tickers: tickers, Alpha: h.settings.DefaultAlpha}

	if v := c.Query("start"); v != "" {
		if req.Start, err = time.Parse(dateLayout, v); err != nil {
			h.respondError(c, utils.NewFieldError("start", "expected YYYY-MM-DD, got %q", v))
			return
		}
	}
	if v := c.Query("end"); v != "" {
		if req.End, err = time.Parse(dateLayout, v); err != nil {
			h.respondError(c, utils.NewFieldError("end", "expected YYYY-MM-DD, got %q", v))
			return
		}
	}
	if v := c.Query("alpha"); v != "" {
		if req.Alpha, err = strconv.ParseFloat(v, 64); err != nil {
			h.respondError(c, utils.NewFieldError("alpha", "not a number: %q", v))
			return
		}
	}

	result, err := h.runner.Analyze(c.Request.Context(), req)
	if err != nil {
		// the service has already counted this failure
		status, _, body := errorResponse(err)
		h.writeError(c, err, status, body)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *AnalysisHandler) validateBasket(raw []string) ([]string, error) {
	tickers := normalizeTickers(raw)
	if len(tickers) < h.settings.MinTickers || len(tickers) > h.settings.MaxTickers {
		return nil, utils.NewFieldError("tickers", "basket needs %d to %d distinct tickers, got %d",
			h.settings.MinTickers, h.settings.MaxTickers, len(tickers))
	}
	return tickers, nil
}

// checkDimension bounds matrix and spectrum sizes by the basket limits.
func (h *AnalysisHandler) checkDimension(field string, n int) error {
	if n < h.settings.MinTickers || n > h.settings.MaxTickers {
		return utils.NewFieldError(field, "dimension must be between %d and %d, got %d",
			h.settings.MinTickers, h.settings.MaxTickers, n)
	}
	return nil
}

// respondError records err against the error metrics and writes it.
func (h *AnalysisHandler) respondError(c *gin.Context, err error) {
	status, kind, body := errorResponse(err)
	metrics.RecordAnalysisError(kind)
	h.writeError(c, err, status, body)
}

func (h *AnalysisHandler) writeError(c *gin.Context, err error, status int, body gin.H) {
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).Error("Analysis failed", "path", c.FullPath(), "status", status)
	}
	c.JSON(status, body)
}

// errorResponse maps validation and pipeline errors to a status, a metrics
// kind and a body. Errors not caused by the request are surfaced generically.
func errorResponse(err error) (int, string, gin.H) {
	if ve, ok := utils.AsValidationError(err); ok {
		body := gin.H{"error": ve.Error()}
		if ve.Field != "" {
			body["field"] = ve.Field
		}
		return http.StatusBadRequest, metrics.ErrorKindUser, body
	}

	switch {
	case errors.Is(err, analytics.ErrEmptyBasket), errors.Is(err, analytics.ErrInvalidAlpha):
		return http.StatusBadRequest, metrics.ErrorKindUser, gin.H{"error": err.Error()}
	case errors.Is(err, analytics.ErrInsufficientData), errors.Is(err, analytics.ErrDegenerateSeries):
		return http.StatusUnprocessableEntity, metrics.ErrorKindUser, gin.H{"error": err.Error()}
	case errors.Is(err, services.ErrDataSource):
		return http.StatusServiceUnavailable, metrics.ErrorKindDataSource, gin.H{"error": "analysis unavailable"}
	default:
		return http.StatusInternalServerError, metrics.ErrorKindInternal, gin.H{"error": "analysis unavailable"}
	}
}

func spectrumFromRequest(req InferenceRequest) (*models.EigenSpectrum, error) {
	if len(req.Eigenvalues) == 0 {
		return nil, nil
	}
	spectrum := &models.EigenSpectrum{Eigenvalues: append([]float64(nil), req.Eigenvalues...)}
	switch {
	case req.LambdaMin != nil && req.LambdaMax != nil:
		spectrum.LambdaMin, spectrum.LambdaMax = *req.LambdaMin, *req.LambdaMax
	case req.SampleSize > 0:
		lo, hi, err := analytics.MarchenkoPasturBounds(req.SampleSize, len(req.Eigenvalues))
		if err != nil {
			return nil, err
		}
		spectrum.LambdaMin, spectrum.LambdaMax = lo, hi
		spectrum.Q = float64(req.SampleSize) / float64(len(req.Eigenvalues))
	default:
		return nil, utils.NewFieldError("lambda_max", "lambda_min and lambda_max, or sample_size, are required with eigenvalues")
	}
	if math.IsNaN(spectrum.LambdaMax) || spectrum.LambdaMax < spectrum.LambdaMin {
		return nil, utils.NewFieldError("lambda_max", "must be at least lambda_min")
	}
	return spectrum, nil
}

func normalizeTickers(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func upperKeys[V any](in map[string]V) map[string]V {
	if in == nil {
		return nil
	}
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	return out
}
