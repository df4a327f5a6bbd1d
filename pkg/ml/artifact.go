package ml

import (
	"encoding/json"
	"fmt"
	"io"
)

// Classifier kinds accepted in an artifact.
const (
	KindRandomForest       = "random_forest"
	KindLogisticRegression = "logistic_regression"
)

// Artifact is the JSON export of a fitted scaler and classifier.
type Artifact struct {
	Version      string         `json:"version,omitempty"`
	FeatureNames []string       `json:"feature_names,omitempty"`
	Scaler       StandardScaler `json:"scaler"`
	Classifier   ClassifierSpec `json:"classifier"`
}

// ClassifierSpec carries the parameters of either supported classifier kind.
type ClassifierSpec struct {
	Kind               string         `json:"kind"`
	Trees              []DecisionTree `json:"trees,omitempty"`
	Coefficients       []float64      `json:"coefficients,omitempty"`
	Intercept          float64        `json:"intercept,omitempty"`
	FeatureImportances []float64      `json:"feature_importances,omitempty"`
}

// Model is a ready-to-evaluate scaler + classifier pair.
type Model struct {
	Version      string
	FeatureNames []string
	Scaler       *StandardScaler
	Classifier   Classifier
}

// Decode reads an artifact from r and builds the model it describes.
func Decode(r io.Reader) (*Model, error) {
	var a Artifact
	dec := json.NewDecoder(r)
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("failed to decode model artifact: %w", err)
	}
	return a.Build()
}

// Build validates the artifact and constructs the model.
func (a *Artifact) Build() (*Model, error) {
	if err := a.Scaler.Validate(); err != nil {
		return nil, err
	}
	n := a.Scaler.NFeatures()
	if len(a.FeatureNames) > 0 && len(a.FeatureNames) != n {
		return nil, fmt.Errorf("artifact names %d features but scaler has %d", len(a.FeatureNames), n)
	}

	var clf Classifier
	var err error
	switch a.Classifier.Kind {
	case KindRandomForest:
		clf, err = NewRandomForest(a.Classifier.Trees, a.Classifier.FeatureImportances)
	case KindLogisticRegression:
		clf, err = NewLogisticRegression(a.Classifier.Coefficients, a.Classifier.Intercept, a.Classifier.FeatureImportances)
	default:
		return nil, fmt.Errorf("unsupported classifier kind %q", a.Classifier.Kind)
	}
	if err != nil {
		return nil, err
	}
	if clf.NFeatures() != n {
		return nil, fmt.Errorf("classifier expects %d features but scaler has %d", clf.NFeatures(), n)
	}

	scaler := a.Scaler
	return &Model{
		Version:      a.Version,
		FeatureNames: a.FeatureNames,
		Scaler:       &scaler,
		Classifier:   clf,
	}, nil
}

// Probability scales x and returns the classifier's positive-class probability.
func (m *Model) Probability(x []float64) (float64, error) {
	scaled, err := m.Scaler.Transform(x)
	if err != nil {
		return 0, err
	}
	return m.Classifier.PredictProba(scaled)
}
