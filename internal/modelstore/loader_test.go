package modelstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardio-risk-server/internal/domain"
	"github.com/cardio-risk-server/pkg/ml"
)

func writeArtifact(t *testing.T, names []string) string {
	t.Helper()
	n := len(names)
	mean := make([]float64, n)
	scale := make([]float64, n)
	coef := make([]float64, n)
	for i := range mean {
		scale[i] = 1
	}
	coef[domain.FeatSystolic] = 0.02

	artifact := ml.Artifact{
		Version:      "lr-test",
		FeatureNames: names,
		Scaler:       ml.StandardScaler{Mean: mean, Scale: scale},
		Classifier: ml.ClassifierSpec{
			Kind:         ml.KindLogisticRegression,
			Coefficients: coef,
			Intercept:    -3,
		},
	}
	data, err := json.Marshal(artifact)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "cardio_model.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestLoad_LocalArtifact(t *testing.T) {
	path := writeArtifact(t, domain.FeatureNames[:])

	model, err := Load(context.Background(), domain.ModelConfig{ArtifactURI: path, Version: "lr-other"}, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, "lr-test", model.Version())

	var vec domain.FeatureVector
	vec[domain.FeatSystolic] = 150
	p, err := model.Probability(vec)
	require.NoError(t, err)
	// sigmoid(0.02*150 - 3) = 0.5
	assert.InDelta(t, 0.5, p, 1e-9)
	assert.Len(t, model.FeatureImportances(), domain.FeatureCount)
}

func TestLoad_Failures(t *testing.T) {
	tests := []struct {
		name string
		uri  func(t *testing.T) string
	}{
		{"unconfigured", func(*testing.T) string { return "" }},
		{"missing file", func(t *testing.T) string { return filepath.Join(t.TempDir(), "absent.json") }},
		{"wrong width", func(t *testing.T) string { return writeArtifact(t, []string{"age_years", "gender"}) }},
		{"corrupt", func(t *testing.T) string {
			path := filepath.Join(t.TempDir(), "bad.json")
			require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
			return path
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(context.Background(), domain.ModelConfig{ArtifactURI: tt.uri(t)}, quietLogger())
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrModelUnavailable))
		})
	}
}

func TestParseGCSURI(t *testing.T) {
	bucket, object, err := ParseGCSURI("gs://cardio-models/prod/v3/model.json")
	require.NoError(t, err)
	assert.Equal(t, "cardio-models", bucket)
	assert.Equal(t, "prod/v3/model.json", object)

	for _, bad := range []string{"/tmp/model.json", "gs://", "gs://bucket", "gs://bucket/", "gs:///object"} {
		_, _, err := ParseGCSURI(bad)
		assert.Error(t, err, bad)
	}
}
