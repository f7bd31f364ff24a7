package verdict

import "errors"

// ErrInsufficientSignal is returned when fewer sources than the quorum
// produced a usable result. No score is fabricated; the caller falls back to
// manual review.
var ErrInsufficientSignal = errors.New("insufficient signal: quorum of responding sources not met")

// ErrDegenerateAggregation is returned when every present source carries zero
// effective weight (confidence × weight), leaving the weighted mean undefined.
var ErrDegenerateAggregation = errors.New("degenerate aggregation: zero effective weight among present sources")

// ErrNarrativeUnavailable marks a failed or timed-out narrative enrichment.
// It never escapes the explainer; the deterministic template is used instead.
var ErrNarrativeUnavailable = errors.New("narrative service unavailable")

// IsAggregationFailure reports whether err requires a manual-review fallback.
func IsAggregationFailure(err error) bool {
	return errors.Is(err, ErrInsufficientSignal) || errors.Is(err, ErrDegenerateAggregation)
}
