package domain

import "time"

// PatientInput is a validated set of vitals, lifestyle and symptom values for one assessment.
// Values are never mutated after validation; simulations work on copies.
type PatientInput struct {
	Age          int               `json:"age"`
	Gender       Gender            `json:"gender"`
	HeightCm     float64           `json:"height"`
	WeightKg     float64           `json:"weight"`
	Systolic     int               `json:"ap_hi"`
	Diastolic    int               `json:"ap_lo"`
	Cholesterol  int               `json:"cholesterol"`
	Glucose      int               `json:"gluc"`
	Smoke        int               `json:"smoke"`
	Alco         int               `json:"alco"`
	Active       int               `json:"active"`
	ChestPain    ChestPainSeverity `json:"chest_pain"`
	Nausea       BinaryFlag        `json:"nausea"`
	Palpitations BinaryFlag        `json:"palpitations"`
	Dizziness    DizzinessSeverity `json:"dizziness"`
}

// InputFields is the exact key set of a persisted input snapshot.
var InputFields = []string{
	"age", "gender",
	"height", "weight",
	"ap_hi", "ap_lo",
	"cholesterol", "gluc",
	"smoke", "alco", "active",
	"chest_pain", "nausea", "palpitations", "dizziness",
}

// FeatureCount is the width of the classifier's feature vector.
const FeatureCount = 16

// FeatureNames is the canonical feature order the scaler and classifier were fitted on.
var FeatureNames = [FeatureCount]string{
	"age_years", "gender", "height_cm", "weight_kg", "bmi",
	"ap_hi", "ap_lo", "cholesterol", "gluc",
	"smoke", "alco", "active",
	"chest_pain", "nausea", "palpitations", "dizziness",
}

// Feature indices into FeatureVector.
const (
	FeatAge = iota
	FeatGender
	FeatHeight
	FeatWeight
	FeatBMI
	FeatSystolic
	FeatDiastolic
	FeatCholesterol
	FeatGlucose
	FeatSmoke
	FeatAlco
	FeatActive
	FeatChestPain
	FeatNausea
	FeatPalpitations
	FeatDizziness
)

// FeatureVector is the raw (unscaled) model input in canonical order.
type FeatureVector [FeatureCount]float64

// ECGReading holds optional doctor-entered ECG parameters. A nil field was not recorded.
type ECGReading struct {
	HeartRate          *int  `json:"heart_rate"`
	PRIntervalMs       *int  `json:"pr_interval_ms"`
	QRSDurationMs      *int  `json:"qrs_duration_ms"`
	QTIntervalMs       *int  `json:"qt_interval_ms"`
	STElevation        *bool `json:"st_elevation"`
	ArrhythmiaDetected *bool `json:"arrhythmia_detected"`
}

// ECGFields is the exact key set of a persisted ECG object.
var ECGFields = []string{
	"heart_rate", "pr_interval_ms", "qrs_duration_ms",
	"qt_interval_ms", "st_elevation", "arrhythmia_detected",
}

// IsEmpty reports whether no ECG field was recorded.
func (e *ECGReading) IsEmpty() bool {
	if e == nil {
		return true
	}
	return e.HeartRate == nil && e.PRIntervalMs == nil && e.QRSDurationMs == nil &&
		e.QTIntervalMs == nil && e.STElevation == nil && e.ArrhythmiaDetected == nil
}

// Patient is a registered patient of a hospital.
type Patient struct {
	ID                string    `json:"patient_id"`
	HospitalID        string    `json:"hospital_id"`
	Name              string    `json:"name"`
	Age               int       `json:"age"`
	Gender            Gender    `json:"gender"`
	PrimaryMobile     string    `json:"primary_mobile"`
	PrimaryMobileNorm string    `json:"-"`
	PatientEmail      string    `json:"patient_email,omitempty"`
	GuardianEmail     string    `json:"guardian_email,omitempty"`
	Outcome           *Outcome  `json:"outcome,omitempty"`
	IsDeleted         bool      `json:"is_deleted"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at,omitempty"`
}

// OutcomeLocked reports whether a confirmed cardiac arrest has been recorded.
func (p *Patient) OutcomeLocked() bool {
	return p != nil && p.Outcome != nil && p.Outcome.CardiacArrest == 1
}
