package domain

import (
	"encoding/json"
	"time"
)

// Prediction is the classifier output stored with a record.
type Prediction struct {
	Probability float64         `json:"probability"`
	RiskLevel   RiskLevel       `json:"risk_level"`
	Confidence  ConfidenceLevel `json:"confidence"`

	// set when a stored prediction object has no probability key
	probabilityMissing bool
}

// StoredProbability returns the probability and whether one was present.
func (p *Prediction) StoredProbability() (float64, bool) {
	return p.Probability, !p.probabilityMissing
}

// UnmarshalJSON remembers whether the document carried a probability, so
// older records can fall back to their top-level value.
func (p *Prediction) UnmarshalJSON(data []byte) error {
	type plain Prediction
	var decoded struct {
		plain
		Probability *float64 `json:"probability"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*p = Prediction(decoded.plain)
	if decoded.Probability == nil {
		p.probabilityMissing = true
		return nil
	}
	p.Probability = *decoded.Probability
	return nil
}

// ECGRiskDelta is the additive adjustment contributed by ECG abnormalities.
type ECGRiskDelta struct {
	Delta   float64  `json:"delta"`
	Reasons []string `json:"reasons"`
}

// Derived holds values computed from the input rather than entered.
type Derived struct {
	BMI          float64      `json:"bmi"`
	ECGRiskDelta ECGRiskDelta `json:"ecg_risk_delta"`
}

// ECGFlags is the rule-based ECG summary.
type ECGFlags struct {
	Status ECGStatus `json:"status"`
	Flags  []string  `json:"flags"`
}

// FeatureImportance is one entry of the global feature ranking.
type FeatureImportance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// WhatIfScenario is a counterfactual probability under a single-factor change.
type WhatIfScenario struct {
	Change         string  `json:"change"`
	NewProbability float64 `json:"new_probability"`
}

// DoctorNote is the single clinician note a record may carry.
type DoctorNote struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	LockedAt  time.Time `json:"locked_at"`
}

// Outcome is the patient-level confirmed adverse event.
type Outcome struct {
	CardiacArrest int        `json:"cardiac_arrest"`
	ConfirmedBy   *string    `json:"confirmed_by"`
	ConfirmedAt   *time.Time `json:"confirmed_at"`
}

// AssessmentRecord is the durable output of one assessment.
// ID, PatientID and StoredAt are storage metadata and not part of the document.
type AssessmentRecord struct {
	ID        string    `json:"-"`
	PatientID string    `json:"-"`
	StoredAt  time.Time `json:"-"`

	CreatedAt       *time.Time          `json:"created_at"`
	Input           *PatientInput       `json:"input"`
	Derived         *Derived            `json:"derived"`
	Prediction      *Prediction         `json:"prediction"`
	ECG             *ECGReading         `json:"ecg"`
	ECGFlags        *ECGFlags           `json:"ecg_flags"`
	SymptomInsights []string            `json:"symptom_insights"`
	TopFactors      []FeatureImportance `json:"top_factors"`
	WhatIf          []WhatIfScenario    `json:"what_if"`
	DoctorNotes     *DoctorNote         `json:"doctor_notes"`
	Outcome         Outcome             `json:"outcome"`

	// Legacy documents duplicated the prediction at the top level.
	LegacyProbability *float64   `json:"probability,omitempty"`
	LegacyRiskLevel   *RiskLevel `json:"risk_level,omitempty"`
}

// OrderingTime returns the creation time, falling back to the storage time surrogate.
func (r *AssessmentRecord) OrderingTime() time.Time {
	if r.CreatedAt != nil && !r.CreatedAt.IsZero() {
		return *r.CreatedAt
	}
	return r.StoredAt
}

// AssessmentResult is the response of one assessment.
type AssessmentResult struct {
	RecordID        string              `json:"record_id,omitempty"`
	Probability     float64             `json:"probability"`
	RiskLevel       RiskLevel           `json:"risk_level"`
	Confidence      ConfidenceLevel     `json:"confidence"`
	BMI             float64             `json:"bmi"`
	TopFactors      []FeatureImportance `json:"top_factors"`
	SymptomInsights []string            `json:"symptom_insights"`
	Explanation     string              `json:"explanation"`
	WhatIf          []WhatIfScenario    `json:"what_if"`
	ECGFlags        ECGFlags            `json:"ecg_flags"`
	ECGRiskDelta    ECGRiskDelta        `json:"ecg_risk_delta"`
	Disclaimer      string              `json:"disclaimer"`
}

// Vitals is the subset of the input shown on a timeline entry.
type Vitals struct {
	Systolic  *int     `json:"ap_hi"`
	Diastolic *int     `json:"ap_lo"`
	BMI       *float64 `json:"bmi"`
	WeightKg  *float64 `json:"weight"`
	HeightCm  *float64 `json:"height"`
}

// TimelineEntry is the per-visit view of a record.
type TimelineEntry struct {
	RecordID        string              `json:"record_id"`
	Date            time.Time           `json:"date"`
	Probability     float64             `json:"probability"`
	RiskLevel       RiskLevel           `json:"risk_level"`
	Confidence      *ConfidenceLevel    `json:"confidence"`
	Vitals          Vitals              `json:"vitals"`
	ECGRiskDelta    *ECGRiskDelta       `json:"ecg_risk_delta"`
	ECGFlags        *ECGFlags           `json:"ecg_flags"`
	DoctorNotes     *DoctorNote         `json:"doctor_notes"`
	SymptomInsights []string            `json:"symptom_insights"`
	WhatIf          []WhatIfScenario    `json:"what_if"`
	TopFactors      []FeatureImportance `json:"top_factors"`
}

// TrendSummary is the first-to-last change in probability.
type TrendSummary struct {
	Status TrendStatus `json:"status"`
	Delta  *float64    `json:"delta"`
}

// Timeline is the derived longitudinal view of a patient's records.
type Timeline struct {
	RecordsCount      int             `json:"records_count"`
	LatestProbability *float64        `json:"latest_probability"`
	LatestRiskLevel   *RiskLevel      `json:"latest_risk_level"`
	Trend             TrendSummary    `json:"trend"`
	HealthScore       *int            `json:"health_score"`
	Entries           []TimelineEntry `json:"timeline"`
}

// PatientTimeline is a patient header with the timeline summary and entries.
type PatientTimeline struct {
	Patient *Patient `json:"patient"`
	*Timeline
}
