package service

import (
	"math"

	"github.com/cardio-risk-server/internal/domain"
)

// BMI returns weight / height_m² unrounded. Height is always positive after validation.
func BMI(heightCm, weightKg float64) float64 {
	heightM := heightCm / 100
	return weightKg / (heightM * heightM)
}

// Encode builds the canonical feature vector and returns it with BMI rounded to
// two decimals. The vector carries the unrounded BMI the scaler was fitted on.
func Encode(in *domain.PatientInput) (domain.FeatureVector, float64) {
	bmi := BMI(in.HeightCm, in.WeightKg)

	var vec domain.FeatureVector
	vec[domain.FeatAge] = float64(in.Age)
	vec[domain.FeatGender] = float64(in.Gender)
	vec[domain.FeatHeight] = in.HeightCm
	vec[domain.FeatWeight] = in.WeightKg
	vec[domain.FeatBMI] = bmi
	vec[domain.FeatSystolic] = float64(in.Systolic)
	vec[domain.FeatDiastolic] = float64(in.Diastolic)
	vec[domain.FeatCholesterol] = float64(in.Cholesterol)
	vec[domain.FeatGlucose] = float64(in.Glucose)
	vec[domain.FeatSmoke] = float64(in.Smoke)
	vec[domain.FeatAlco] = float64(in.Alco)
	vec[domain.FeatActive] = float64(in.Active)
	vec[domain.FeatChestPain] = float64(in.ChestPain.Code())
	vec[domain.FeatNausea] = float64(in.Nausea)
	vec[domain.FeatPalpitations] = float64(in.Palpitations)
	vec[domain.FeatDizziness] = float64(in.Dizziness.Code())

	return vec, round2(bmi)
}

// Decode returns the vector as a feature-name map in canonical order.
func Decode(vec domain.FeatureVector) map[string]float64 {
	out := make(map[string]float64, domain.FeatureCount)
	for i, name := range domain.FeatureNames {
		out[name] = vec[i]
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
