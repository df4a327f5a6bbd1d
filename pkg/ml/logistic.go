package ml

import (
	"fmt"
	"math"
)

// LogisticRegression is a fitted binary logistic model.
type LogisticRegression struct {
	Coefficients []float64
	Intercept    float64
	Importances  []float64
}

// NewLogisticRegression builds a model; importances default to normalized |coef|.
func NewLogisticRegression(coef []float64, intercept float64, importances []float64) (*LogisticRegression, error) {
	if len(coef) == 0 {
		return nil, fmt.Errorf("logistic regression has no coefficients")
	}
	if importances == nil {
		importances = normalizedMagnitudes(coef)
	}
	if len(importances) != len(coef) {
		return nil, fmt.Errorf("logistic regression has %d coefficients but %d importances", len(coef), len(importances))
	}
	return &LogisticRegression{Coefficients: coef, Intercept: intercept, Importances: importances}, nil
}

// PredictProba implements Classifier.
func (l *LogisticRegression) PredictProba(x []float64) (float64, error) {
	if len(x) != len(l.Coefficients) {
		return 0, fmt.Errorf("logistic regression expects %d features, got %d", len(l.Coefficients), len(x))
	}
	z := l.Intercept
	for i, w := range l.Coefficients {
		z += w * x[i]
	}
	return 1 / (1 + math.Exp(-z)), nil
}

// FeatureImportances implements Classifier.
func (l *LogisticRegression) FeatureImportances() []float64 {
	return l.Importances
}

// NFeatures implements Classifier.
func (l *LogisticRegression) NFeatures() int {
	return len(l.Coefficients)
}

func normalizedMagnitudes(coef []float64) []float64 {
	out := make([]float64, len(coef))
	total := 0.0
	for i, c := range coef {
		out[i] = math.Abs(c)
		total += out[i]
	}
	if total == 0 {
		return out
	}
	for i := range out {
		out[i] /= total
	}
	return out
}
