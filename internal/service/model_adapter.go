package service

import (
	"fmt"

	"github.com/cardio-risk-server/internal/domain"
	"github.com/cardio-risk-server/pkg/ml"
)

// featureAliases lists the column names older training exports used.
var featureAliases = map[string]string{
	"height": "height_cm",
	"weight": "weight_kg",
	"age":    "age_years",
}

// ModelService owns the fitted scaler and classifier. It is built once at
// startup and never mutated, so one instance serves all requests.
type ModelService struct {
	model *ml.Model
}

// NewModelService checks the model against the canonical feature layout.
func NewModelService(model *ml.Model) (*ModelService, error) {
	if model == nil || model.Scaler == nil || model.Classifier == nil {
		return nil, domain.ErrModelUnavailable
	}
	if n := model.Scaler.NFeatures(); n != domain.FeatureCount {
		return nil, fmt.Errorf("%w: model has %d features, want %d", domain.ErrModelUnavailable, n, domain.FeatureCount)
	}
	for i, name := range model.FeatureNames {
		if canonical, ok := featureAliases[name]; ok {
			name = canonical
		}
		if name != domain.FeatureNames[i] {
			return nil, fmt.Errorf("%w: feature %d is %q, want %q",
				domain.ErrModelUnavailable, i, model.FeatureNames[i], domain.FeatureNames[i])
		}
	}
	return &ModelService{model: model}, nil
}

// Probability scales the raw vector and returns the positive-class probability.
func (m *ModelService) Probability(vec domain.FeatureVector) (float64, error) {
	if m == nil || m.model == nil {
		return 0, domain.ErrModelUnavailable
	}
	return m.model.Probability(vec[:])
}

// FeatureImportances returns the classifier's global importances in feature order.
func (m *ModelService) FeatureImportances() []float64 {
	if m == nil || m.model == nil {
		return nil
	}
	return m.model.Classifier.FeatureImportances()
}

// Version returns the artifact version, if the export recorded one.
func (m *ModelService) Version() string {
	if m == nil || m.model == nil {
		return ""
	}
	return m.model.Version
}
