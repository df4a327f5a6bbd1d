package service

import (
	"sort"
	"strings"

	"github.com/cardio-risk-server/internal/domain"
)

// DefaultTopFactors is how many features an assessment reports.
const DefaultTopFactors = 5

// Symptom insight messages, in reporting order.
const (
	insightChestPain    = "Chest pain is a significant cardiac warning sign and requires clinical attention"
	insightPalpitations = "Palpitations may indicate irregular heart rhythm or cardiac stress"
	insightNausea       = "Nausea can be associated with cardiac events, especially when combined with chest discomfort"
	insightDizziness    = "Dizziness may suggest reduced blood flow or blood pressure instability"
	insightNoSymptoms   = "No major cardiac-related symptoms reported at this checkup"
)

const healthyExplanation = "Your inputs indicate generally healthy cardiovascular factors."

// TopFactors ranks features by global importance, highest first. Equal
// importances keep canonical feature order.
func TopFactors(importances []float64, n int) []domain.FeatureImportance {
	count := len(importances)
	if count > domain.FeatureCount {
		count = domain.FeatureCount
	}
	idx := make([]int, count)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return importances[idx[a]] > importances[idx[b]]
	})
	if n > count {
		n = count
	}

	out := make([]domain.FeatureImportance, 0, n)
	for _, i := range idx[:n] {
		out = append(out, domain.FeatureImportance{
			Feature:    domain.FeatureNames[i],
			Importance: round3(importances[i]),
		})
	}
	return out
}

// SymptomInsights explains the raw symptom answers independently of the model.
func SymptomInsights(in *domain.PatientInput) []string {
	var insights []string
	if in.ChestPain.IsSignificant() {
		insights = append(insights, insightChestPain)
	}
	if in.Palpitations == domain.FlagYes {
		insights = append(insights, insightPalpitations)
	}
	if in.Nausea == domain.FlagYes {
		insights = append(insights, insightNausea)
	}
	if in.Dizziness.IsPresent() {
		insights = append(insights, insightDizziness)
	}
	if len(insights) == 0 {
		insights = append(insights, insightNoSymptoms)
	}
	return insights
}

// HumanExplanation lists the triggered risk factors in fixed priority order.
func HumanExplanation(in *domain.PatientInput, bmi float64) string {
	var reasons []string

	if in.Systolic >= 150 || in.Diastolic >= 95 {
		reasons = append(reasons, "very high blood pressure")
	}
	switch {
	case bmi >= 30:
		reasons = append(reasons, "obesity")
	case bmi >= 25:
		reasons = append(reasons, "overweight")
	}
	if in.Cholesterol == 3 {
		reasons = append(reasons, "high cholesterol")
	}
	if in.Glucose == 3 {
		reasons = append(reasons, "high blood glucose")
	}
	if in.Smoke == 1 {
		reasons = append(reasons, "smoking habit")
	}
	if in.Alco == 1 {
		reasons = append(reasons, "alcohol consumption")
	}
	if in.Active == 0 {
		reasons = append(reasons, "low physical activity")
	}

	if len(reasons) == 0 {
		return healthyExplanation
	}
	return "Risk is mainly influenced by " + strings.Join(reasons, ", ") + "."
}
