package signal

import (
	"encoding/json"
	"fmt"
)

// DecodeResult parses a source reply. The reply must be a JSON
// AnalysisResult for the named source with in-range scores. A reply that
// carries its own failure marker is reported as ErrSourceError.
func DecodeResult(name string, data []byte) (AnalysisResult, error) {
	var res AnalysisResult
	if err := json.Unmarshal(data, &res); err != nil {
		return AnalysisResult{}, fmt.Errorf("%w: %s: %w", ErrMalformed, name, err)
	}
	if res.Failure != nil {
		return AnalysisResult{}, fmt.Errorf("%w: %s reported failure: %s", ErrSourceError, name, res.Failure.Message)
	}
	if res.Source == "" {
		res.Source = name
	}
	if res.Source != name {
		return AnalysisResult{}, fmt.Errorf("%w: reply from %q on %q", ErrMalformed, res.Source, name)
	}
	if err := res.Validate(); err != nil {
		return AnalysisResult{}, err
	}
	return res, nil
}
