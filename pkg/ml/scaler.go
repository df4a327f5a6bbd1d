// Package ml evaluates fitted tabular models exported from a training pipeline:
// a standard scaler followed by a random forest or logistic regression classifier.
package ml

import (
	"fmt"
)

// StandardScaler centers each feature on its training mean and divides by its
// training standard deviation.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// NFeatures returns the number of features the scaler was fitted on.
func (s *StandardScaler) NFeatures() int {
	return len(s.Mean)
}

// Validate checks that mean and scale line up.
func (s *StandardScaler) Validate() error {
	if len(s.Mean) == 0 {
		return fmt.Errorf("scaler has no features")
	}
	if len(s.Mean) != len(s.Scale) {
		return fmt.Errorf("scaler mean has %d entries, scale has %d", len(s.Mean), len(s.Scale))
	}
	return nil
}

// Transform returns a scaled copy of x. A zero scale is treated as 1, matching
// how constant training columns are handled at fit time.
func (s *StandardScaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.Mean) {
		return nil, fmt.Errorf("scaler expects %d features, got %d", len(s.Mean), len(x))
	}
	out := make([]float64, len(x))
	for i, v := range x {
		scale := s.Scale[i]
		if scale == 0 {
			scale = 1
		}
		out[i] = (v - s.Mean[i]) / scale
	}
	return out, nil
}
