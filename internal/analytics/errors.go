package analytics

import "errors"

// Pipeline error taxonomy. Callers match with errors.Is; every returned error
// wraps one of these with request context.
var (
	// ErrInsufficientData is returned when a series has fewer than 2 aligned observations.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrDegenerateSeries is returned when every return series in the basket is constant.
	ErrDegenerateSeries = errors.New("degenerate series")
	// ErrInvalidRatio is returned when the sample length or asset count is not positive.
	ErrInvalidRatio = errors.New("invalid observation ratio")
	// ErrSingularInput is returned when a correlation matrix fails the symmetry check.
	ErrSingularInput = errors.New("correlation matrix is not symmetric")
	// ErrEmptyBasket is returned when fewer than 2 tickers are supplied.
	ErrEmptyBasket = errors.New("at least two tickers are required")
	// ErrInvalidAlpha is returned when the sentiment blend weight is outside [0, 1].
	ErrInvalidAlpha = errors.New("alpha must be within [0, 1]")
)

// IsUserCorrectable reports whether err stems from the request shape (the user can
// fix it by changing tickers, dates or alpha) rather than from an upstream bug.
func IsUserCorrectable(err error) bool {
	return errors.Is(err, ErrInsufficientData) ||
		errors.Is(err, ErrEmptyBasket) ||
		errors.Is(err, ErrDegenerateSeries) ||
		errors.Is(err, ErrInvalidAlpha)
}

// IsInternal reports whether err indicates a contract violation between pipeline
// collaborators. These are logged with full context and surfaced generically.
func IsInternal(err error) bool {
	return errors.Is(err, ErrSingularInput) || errors.Is(err, ErrInvalidRatio)
}
