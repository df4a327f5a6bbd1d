package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardio-risk-server/internal/domain"
)

func TestValidatePatientInput(t *testing.T) {
	t.Run("valid input", func(t *testing.T) {
		in, err := ValidatePatientInput(validRaw())
		require.NoError(t, err)
		assert.Equal(t, 45, in.Age)
		assert.Equal(t, domain.GenderMale, in.Gender)
		assert.Equal(t, 170.0, in.HeightCm)
		assert.Equal(t, domain.ChestPainNone, in.ChestPain)
		assert.Equal(t, domain.FlagNo, in.Nausea)
		assert.Equal(t, domain.DizzinessNo, in.Dizziness)
	})

	t.Run("loosely typed numbers are coerced", func(t *testing.T) {
		raw := validRaw()
		raw["age"] = "45"
		raw["weight"] = 80.5
		raw["ap_hi"] = 130.0
		in, err := ValidatePatientInput(raw)
		require.NoError(t, err)
		assert.Equal(t, 45, in.Age)
		assert.Equal(t, 80.5, in.WeightKg)
		assert.Equal(t, 130, in.Systolic)
	})

	t.Run("absent symptoms default to none", func(t *testing.T) {
		raw := validRaw()
		for _, k := range []string{"chest_pain", "nausea", "palpitations", "dizziness"} {
			delete(raw, k)
		}
		raw["nausea"] = nil
		in, err := ValidatePatientInput(raw)
		require.NoError(t, err)
		assert.Equal(t, domain.ChestPainNone, in.ChestPain)
		assert.Equal(t, domain.FlagNo, in.Nausea)
		assert.Equal(t, domain.FlagNo, in.Palpitations)
	})

	t.Run("does not mutate the raw map", func(t *testing.T) {
		raw := validRaw()
		raw["age"] = "45"
		_, err := ValidatePatientInput(raw)
		require.NoError(t, err)
		assert.Equal(t, "45", raw["age"])
		assert.Len(t, raw, 15)
	})

	tests := []struct {
		name  string
		edit  func(map[string]interface{})
		field string
	}{
		{"nil input", nil, "input"},
		{"missing age", func(r map[string]interface{}) { delete(r, "age") }, "age"},
		{"null gluc", func(r map[string]interface{}) { r["gluc"] = nil }, "gluc"},
		{"age too high", func(r map[string]interface{}) { r["age"] = 121 }, "age"},
		{"age zero", func(r map[string]interface{}) { r["age"] = 0 }, "age"},
		{"gender 3", func(r map[string]interface{}) { r["gender"] = 3 }, "gender"},
		{"height below range", func(r map[string]interface{}) { r["height"] = 99 }, "height"},
		{"weight above range", func(r map[string]interface{}) { r["weight"] = 301 }, "weight"},
		{"systolic not a number", func(r map[string]interface{}) { r["ap_hi"] = "high" }, "ap_hi"},
		{"diastolic equals systolic", func(r map[string]interface{}) { r["ap_lo"] = 120 }, "ap_lo"},
		{"cholesterol 4", func(r map[string]interface{}) { r["cholesterol"] = 4 }, "cholesterol"},
		{"smoke boolean", func(r map[string]interface{}) { r["smoke"] = true }, "smoke"},
		{"chest pain unknown", func(r map[string]interface{}) { r["chest_pain"] = "extreme" }, "chest_pain"},
		{"dizziness number", func(r map[string]interface{}) { r["dizziness"] = 1 }, "dizziness"},
		{"nausea maybe", func(r map[string]interface{}) { r["nausea"] = "maybe" }, "nausea"},
		{"palpitations 2", func(r map[string]interface{}) { r["palpitations"] = 2 }, "palpitations"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw map[string]interface{}
			if tt.edit != nil {
				raw = validRaw()
				tt.edit(raw)
			}
			_, err := ValidatePatientInput(raw)
			var ve *domain.ValidationError
			require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestEncode_KnownExample(t *testing.T) {
	in, err := ValidatePatientInput(validRaw())
	require.NoError(t, err)

	vec, bmi := Encode(in)
	assert.Equal(t, 27.68, bmi)

	want := []float64{45, 1, 170, 80, 80 / (1.7 * 1.7), 120, 80, 1, 1, 0, 0, 1, 0, 0, 0, 0}
	for i, w := range want {
		assert.InDelta(t, w, vec[i], 1e-9, "feature %s", domain.FeatureNames[i])
	}

	decoded := Decode(vec)
	require.Len(t, decoded, domain.FeatureCount)
	for i, name := range domain.FeatureNames {
		assert.Equal(t, vec[i], decoded[name], name)
	}
}

func TestEncode_SymptomCodes(t *testing.T) {
	raw := validRaw()
	raw["chest_pain"] = "severe"
	raw["dizziness"] = "mild"
	raw["nausea"] = "yes"
	raw["palpitations"] = 1
	in, err := ValidatePatientInput(raw)
	require.NoError(t, err)

	vec, _ := Encode(in)
	assert.Equal(t, 3.0, vec[domain.FeatChestPain])
	assert.Equal(t, 1.0, vec[domain.FeatDizziness])
	assert.Equal(t, 1.0, vec[domain.FeatNausea])
	assert.Equal(t, 1.0, vec[domain.FeatPalpitations])
}

func TestRiskLevelFor(t *testing.T) {
	tests := []struct {
		p    float64
		want domain.RiskLevel
	}{
		{0, domain.RiskLow},
		{0.29, domain.RiskLow},
		{0.30, domain.RiskMedium},
		{0.59, domain.RiskMedium},
		{0.60, domain.RiskHigh},
		{1, domain.RiskHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RiskLevelFor(tt.p), "p=%v", tt.p)
	}
}

func TestConfidenceFor(t *testing.T) {
	tests := []struct {
		p    float64
		want domain.ConfidenceLevel
	}{
		{0.15, domain.HIGH},
		{0.35, domain.MEDIUM},
		{0.50, domain.LOW},
		{0.85, domain.HIGH},
		{0.20, domain.MEDIUM},
		{0.40, domain.LOW},
		{0.60, domain.LOW},
		{0.65, domain.MEDIUM},
		{0.80, domain.MEDIUM},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ConfidenceFor(tt.p), "p=%v", tt.p)
	}
}

func TestTopFactors(t *testing.T) {
	imp := make([]float64, domain.FeatureCount)
	imp[domain.FeatSystolic] = 0.30004
	imp[domain.FeatAge] = 0.2
	imp[domain.FeatBMI] = 0.2
	imp[domain.FeatSmoke] = 0.1

	top := TopFactors(imp, DefaultTopFactors)
	require.Len(t, top, 5)
	assert.Equal(t, domain.FeatureImportance{Feature: "ap_hi", Importance: 0.3}, top[0])
	assert.Equal(t, "age_years", top[1].Feature)
	assert.Equal(t, "bmi", top[2].Feature)
	assert.Equal(t, "smoke", top[3].Feature)
	assert.Equal(t, "gender", top[4].Feature)
}

func TestSymptomInsights(t *testing.T) {
	in := &domain.PatientInput{
		ChestPain:    domain.ChestPainModerate,
		Nausea:       domain.FlagYes,
		Palpitations: domain.FlagYes,
		Dizziness:    domain.DizzinessSevere,
	}
	assert.Equal(t, []string{insightChestPain, insightPalpitations, insightNausea, insightDizziness}, SymptomInsights(in))

	mild := &domain.PatientInput{ChestPain: domain.ChestPainMild, Dizziness: domain.DizzinessNo}
	assert.Equal(t, []string{insightNoSymptoms}, SymptomInsights(mild))
}

func TestHumanExplanation(t *testing.T) {
	healthy := &domain.PatientInput{Systolic: 120, Diastolic: 80, Cholesterol: 1, Glucose: 1, Active: 1}
	assert.Equal(t, healthyExplanation, HumanExplanation(healthy, 22))

	risky := &domain.PatientInput{Systolic: 140, Diastolic: 95, Cholesterol: 3, Glucose: 3, Smoke: 1, Alco: 1, Active: 0}
	assert.Equal(t,
		"Risk is mainly influenced by very high blood pressure, obesity, high cholesterol, high blood glucose, smoking habit, alcohol consumption, low physical activity.",
		HumanExplanation(risky, 31))

	overweight := &domain.PatientInput{Systolic: 120, Diastolic: 80, Cholesterol: 1, Glucose: 1, Active: 1}
	assert.Equal(t, "Risk is mainly influenced by overweight.", HumanExplanation(overweight, 25))
}

func TestValidateECG(t *testing.T) {
	t.Run("empty is not recorded", func(t *testing.T) {
		ecg, err := ValidateECG(nil)
		require.NoError(t, err)
		assert.Nil(t, ecg)

		ecg, err = ValidateECG(map[string]interface{}{"heart_rate": nil, "qt_interval_ms": ""})
		require.NoError(t, err)
		assert.Nil(t, ecg)
	})

	t.Run("parses values", func(t *testing.T) {
		ecg, err := ValidateECG(map[string]interface{}{"heart_rate": 72.0, "qt_interval_ms": "410", "st_elevation": false})
		require.NoError(t, err)
		require.NotNil(t, ecg)
		assert.Equal(t, 72, *ecg.HeartRate)
		assert.Equal(t, 410, *ecg.QTIntervalMs)
		assert.False(t, *ecg.STElevation)
		assert.Nil(t, ecg.PRIntervalMs)
	})

	tests := []struct {
		name  string
		raw   map[string]interface{}
		field string
	}{
		{"heart rate too low", map[string]interface{}{"heart_rate": 29}, "heart_rate"},
		{"qrs too wide", map[string]interface{}{"qrs_duration_ms": 201}, "qrs_duration_ms"},
		{"pr not numeric", map[string]interface{}{"pr_interval_ms": "long"}, "pr_interval_ms"},
		{"arrhythmia as string", map[string]interface{}{"arrhythmia_detected": "true"}, "arrhythmia_detected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateECG(tt.raw)
			var ve *domain.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestEvaluateFlags(t *testing.T) {
	t.Run("tachycardia is abnormal", func(t *testing.T) {
		flags := EvaluateFlags(&domain.ECGReading{HeartRate: intPtr(110)}, domain.SexMale)
		assert.Equal(t, domain.ECGAbnormal, flags.Status)
		assert.Contains(t, flags.Flags, FlagTachycardia)
	})

	t.Run("arrhythmia is critical regardless of other fields", func(t *testing.T) {
		flags := EvaluateFlags(&domain.ECGReading{
			HeartRate:          intPtr(70),
			PRIntervalMs:       intPtr(160),
			ArrhythmiaDetected: boolPtr(true),
		}, domain.SexFemale)
		assert.Equal(t, domain.ECGCritical, flags.Status)
		assert.Equal(t, []string{FlagArrhythmia}, flags.Flags)
	})

	t.Run("not recorded differs from normal", func(t *testing.T) {
		none := EvaluateFlags(nil, domain.SexMale)
		assert.Equal(t, domain.ECGNotRecorded, none.Status)
		assert.Empty(t, none.Flags)

		normal := EvaluateFlags(&domain.ECGReading{
			HeartRate:          intPtr(72),
			PRIntervalMs:       intPtr(160),
			QRSDurationMs:      intPtr(90),
			QTIntervalMs:       intPtr(400),
			STElevation:        boolPtr(false),
			ArrhythmiaDetected: boolPtr(false),
		}, domain.SexMale)
		assert.Equal(t, domain.ECGNormal, normal.Status)
		assert.NotNil(t, normal.Flags)
		assert.Empty(t, normal.Flags)
	})

	t.Run("flags keep priority order", func(t *testing.T) {
		flags := EvaluateFlags(&domain.ECGReading{
			HeartRate:     intPtr(45),
			PRIntervalMs:  intPtr(220),
			QRSDurationMs: intPtr(130),
			QTIntervalMs:  intPtr(500),
		}, domain.SexFemale)
		assert.Equal(t, []string{FlagBradycardia, FlagProlongedPR, FlagWideQRS, FlagProlongedQT}, flags.Flags)
	})

	t.Run("qt limit depends on sex", func(t *testing.T) {
		ecg := &domain.ECGReading{QTIntervalMs: intPtr(475)}
		assert.Equal(t, domain.ECGAbnormal, EvaluateFlags(ecg, domain.SexMale).Status)
		assert.Equal(t, domain.ECGNormal, EvaluateFlags(ecg, domain.SexFemale).Status)
		assert.Equal(t, domain.ECGAbnormal, EvaluateFlags(ecg, domain.SexUnspecified).Status)
	})
}

func TestRiskDelta(t *testing.T) {
	t.Run("tachycardia plus prolonged QT", func(t *testing.T) {
		d := RiskDelta(&domain.ECGReading{HeartRate: intPtr(105), QTIntervalMs: intPtr(480)}, domain.SexMale)
		assert.Equal(t, 0.09, d.Delta)
		assert.Equal(t, []string{FlagTachycardia, FlagProlongedQT}, d.Reasons)
	})

	t.Run("female QT limit", func(t *testing.T) {
		d := RiskDelta(&domain.ECGReading{HeartRate: intPtr(105), QTIntervalMs: intPtr(480)}, domain.SexFemale)
		assert.Equal(t, 0.05, d.Delta)
		assert.Equal(t, []string{FlagTachycardia}, d.Reasons)
	})

	t.Run("all contributions", func(t *testing.T) {
		d := RiskDelta(&domain.ECGReading{
			HeartRate:          intPtr(40),
			QRSDurationMs:      intPtr(140),
			QTIntervalMs:       intPtr(520),
			ArrhythmiaDetected: boolPtr(true),
		}, domain.SexMale)
		assert.Equal(t, 0.17, d.Delta)
		assert.Equal(t, []string{FlagBradycardia, reasonWideQRS, FlagProlongedQT, FlagArrhythmia}, d.Reasons)
	})

	t.Run("no ECG", func(t *testing.T) {
		d := RiskDelta(nil, domain.SexMale)
		assert.Equal(t, 0.0, d.Delta)
		assert.NotNil(t, d.Reasons)
		assert.Empty(t, d.Reasons)
	})
}
