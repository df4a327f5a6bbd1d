package service

import (
	"math"
	"sort"

	"github.com/cardio-risk-server/internal/domain"
)

// Trend thresholds on the first-to-last probability change.
const (
	trendThreshold   = 0.05
	trendScoreAdjust = 5
)

// SortRecordsForTimeline orders records by creation time, using the storage
// time for records without one. Ties keep their input order.
func SortRecordsForTimeline(records []*domain.AssessmentRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].OrderingTime().Before(records[j].OrderingTime())
	})
}

// ComputeTimeline summarizes an ordered record history. It performs no writes.
func ComputeTimeline(records []*domain.AssessmentRecord) *domain.Timeline {
	tl := &domain.Timeline{
		RecordsCount: len(records),
		Entries:      make([]domain.TimelineEntry, 0, len(records)),
	}

	var samples []float64
	var lastRisk *domain.RiskLevel
	for _, rec := range records {
		prob, hasProb := recordProbability(rec)
		risk, hasRisk := recordRiskLevel(rec)
		if hasProb {
			samples = append(samples, prob)
		}
		if hasRisk {
			r := risk
			lastRisk = &r
		} else {
			risk = domain.RiskUnknown
			lastRisk = nil
		}
		tl.Entries = append(tl.Entries, timelineEntry(rec, prob, risk))
	}

	tl.Trend = TrendFor(samples)
	if len(samples) > 0 {
		latest := samples[len(samples)-1]
		tl.LatestProbability = &latest
	}
	tl.LatestRiskLevel = lastRisk
	tl.HealthScore = HealthScore(tl.LatestProbability, tl.Trend.Status)
	return tl
}

// recordProbability prefers the nested prediction, then the legacy top-level field.
func recordProbability(rec *domain.AssessmentRecord) (float64, bool) {
	if rec.Prediction != nil {
		if p, ok := rec.Prediction.StoredProbability(); ok {
			return p, true
		}
	}
	if rec.LegacyProbability != nil {
		return *rec.LegacyProbability, true
	}
	return 0, false
}

func recordRiskLevel(rec *domain.AssessmentRecord) (domain.RiskLevel, bool) {
	if rec.Prediction != nil && rec.Prediction.RiskLevel != "" {
		return rec.Prediction.RiskLevel, true
	}
	if rec.LegacyRiskLevel != nil && *rec.LegacyRiskLevel != "" {
		return *rec.LegacyRiskLevel, true
	}
	return "", false
}

func timelineEntry(rec *domain.AssessmentRecord, prob float64, risk domain.RiskLevel) domain.TimelineEntry {
	entry := domain.TimelineEntry{
		RecordID:        rec.ID,
		Date:            rec.OrderingTime(),
		Probability:     prob,
		RiskLevel:       risk,
		ECGFlags:        rec.ECGFlags,
		DoctorNotes:     rec.DoctorNotes,
		SymptomInsights: nonNilStrings(rec.SymptomInsights),
		WhatIf:          rec.WhatIf,
		TopFactors:      rec.TopFactors,
	}
	if entry.WhatIf == nil {
		entry.WhatIf = []domain.WhatIfScenario{}
	}
	if entry.TopFactors == nil {
		entry.TopFactors = []domain.FeatureImportance{}
	}
	if rec.Prediction != nil && rec.Prediction.Confidence != "" {
		c := rec.Prediction.Confidence
		entry.Confidence = &c
	}
	if in := rec.Input; in != nil {
		sys, dia := in.Systolic, in.Diastolic
		w, h := in.WeightKg, in.HeightCm
		entry.Vitals.Systolic = &sys
		entry.Vitals.Diastolic = &dia
		entry.Vitals.WeightKg = &w
		entry.Vitals.HeightCm = &h
	}
	if d := rec.Derived; d != nil {
		bmi := d.BMI
		delta := d.ECGRiskDelta
		entry.Vitals.BMI = &bmi
		entry.ECGRiskDelta = &delta
	}
	return entry
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// TrendFor classifies last minus first. Fewer than two samples is insufficient data.
func TrendFor(samples []float64) domain.TrendSummary {
	if len(samples) < 2 {
		return domain.TrendSummary{Status: domain.TrendInsufficientData}
	}
	delta := round3(samples[len(samples)-1] - samples[0])
	status := domain.TrendStable
	switch {
	case delta > trendThreshold:
		status = domain.TrendWorsening
	case delta < -trendThreshold:
		status = domain.TrendImproving
	}
	return domain.TrendSummary{Status: status, Delta: &delta}
}

// HealthScore is 100 - round(latest*100), adjusted by 5 for the trend and
// clamped to [0,100]. It is nil without a latest probability.
func HealthScore(latest *float64, status domain.TrendStatus) *int {
	if latest == nil {
		return nil
	}
	score := 100 - int(math.Round(*latest*100))
	switch status {
	case domain.TrendImproving:
		score += trendScoreAdjust
	case domain.TrendWorsening:
		score -= trendScoreAdjust
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return &score
}
