// Package domain contains the core clinical entities used by the cardiovascular
// risk assessment engine: patient inputs, ECG readings, assessment records and the
// derived timeline views.
//
// Enumerations are typed and matched exhaustively so that adding a category is a
// compile-checked change rather than an edit to scattered lookup maps.
package domain

import (
	"encoding/json"
	"errors"
	"strings"
)

// Gender is the numeric gender code used by the classifier (1 = male, 2 = female).
type Gender int

const (
	GenderMale   Gender = 1
	GenderFemale Gender = 2
)

// IsValid reports whether the code is one of the documented values.
func (g Gender) IsValid() bool {
	switch g {
	case GenderMale, GenderFemale:
		return true
	default:
		return false
	}
}

// Sex returns the normalized sex indicator consumed by the ECG rules.
func (g Gender) Sex() Sex {
	switch g {
	case GenderMale:
		return SexMale
	case GenderFemale:
		return SexFemale
	default:
		return SexUnspecified
	}
}

// Sex is the explicit, already-normalized indicator used by gender-aware ECG thresholds.
type Sex string

const (
	SexMale        Sex = "male"
	SexFemale      Sex = "female"
	SexUnspecified Sex = ""
)

// ChestPainSeverity is the ordinal chest pain symptom.
type ChestPainSeverity string

const (
	ChestPainNone     ChestPainSeverity = "none"
	ChestPainMild     ChestPainSeverity = "mild"
	ChestPainModerate ChestPainSeverity = "moderate"
	ChestPainSevere   ChestPainSeverity = "severe"
)

// ErrUnknownSymptomValue is returned when a symptom literal is outside its domain.
var ErrUnknownSymptomValue = errors.New("unknown symptom value")

// ParseChestPain maps a wire literal onto the enumeration.
func ParseChestPain(s string) (ChestPainSeverity, error) {
	switch ChestPainSeverity(s) {
	case ChestPainNone, ChestPainMild, ChestPainModerate, ChestPainSevere:
		return ChestPainSeverity(s), nil
	default:
		return "", ErrUnknownSymptomValue
	}
}

// Code returns the encoded feature value (none=0 ... severe=3).
func (c ChestPainSeverity) Code() int {
	switch c {
	case ChestPainMild:
		return 1
	case ChestPainModerate:
		return 2
	case ChestPainSevere:
		return 3
	default:
		return 0
	}
}

// IsSignificant reports moderate or severe chest pain.
func (c ChestPainSeverity) IsSignificant() bool {
	return c == ChestPainModerate || c == ChestPainSevere
}

// DizzinessSeverity is the ordinal dizziness symptom.
type DizzinessSeverity string

const (
	DizzinessNo     DizzinessSeverity = "no"
	DizzinessMild   DizzinessSeverity = "mild"
	DizzinessSevere DizzinessSeverity = "severe"
)

// ParseDizziness maps a wire literal onto the enumeration.
func ParseDizziness(s string) (DizzinessSeverity, error) {
	switch DizzinessSeverity(s) {
	case DizzinessNo, DizzinessMild, DizzinessSevere:
		return DizzinessSeverity(s), nil
	default:
		return "", ErrUnknownSymptomValue
	}
}

// Code returns the encoded feature value (no=0, mild=1, severe=2).
func (d DizzinessSeverity) Code() int {
	switch d {
	case DizzinessMild:
		return 1
	case DizzinessSevere:
		return 2
	default:
		return 0
	}
}

// IsPresent reports mild or severe dizziness.
func (d DizzinessSeverity) IsPresent() bool {
	return d == DizzinessMild || d == DizzinessSevere
}

// BinaryFlag is a canonical 0/1 symptom value.
type BinaryFlag int

const (
	FlagNo  BinaryFlag = 0
	FlagYes BinaryFlag = 1
)

// ParseBinaryFlag normalizes the accepted literal set {"yes","no",0,1}.
// Anything else is reported as ErrUnknownSymptomValue together with FlagNo,
// so lenient callers can keep the historical default-to-zero behavior.
func ParseBinaryFlag(v interface{}) (BinaryFlag, error) {
	switch t := v.(type) {
	case string:
		switch strings.TrimSpace(t) {
		case "yes":
			return FlagYes, nil
		case "no":
			return FlagNo, nil
		}
	case int:
		if t == 0 || t == 1 {
			return BinaryFlag(t), nil
		}
	case int64:
		if t == 0 || t == 1 {
			return BinaryFlag(t), nil
		}
	case float64:
		if t == 0 || t == 1 {
			return BinaryFlag(int(t)), nil
		}
	case BinaryFlag:
		if t == FlagNo || t == FlagYes {
			return t, nil
		}
	}
	return FlagNo, ErrUnknownSymptomValue
}

// UnmarshalJSON reads stored flags leniently: historical documents carry
// "yes"/"no" strings as well as numbers, and unrecognized values decode as FlagNo.
func (b *BinaryFlag) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	flag, _ := ParseBinaryFlag(v)
	*b = flag
	return nil
}

// RiskLevel is the categorical risk derived from the probability.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"

	// RiskUnknown is shown for historical records that carry no risk level at all.
	RiskUnknown RiskLevel = "—"
)

// ConfidenceLevel represents how far a probability sits from the 0.5 decision boundary.
type ConfidenceLevel string

const (
	HIGH   ConfidenceLevel = "High"
	MEDIUM ConfidenceLevel = "Medium"
	LOW    ConfidenceLevel = "Low"
)

// String returns the string representation of ConfidenceLevel
func (c ConfidenceLevel) String() string {
	return string(c)
}

// ECGStatus summarises the ECG findings of a visit.
type ECGStatus string

const (
	ECGNormal      ECGStatus = "normal"
	ECGAbnormal    ECGStatus = "abnormal"
	ECGCritical    ECGStatus = "critical"
	ECGNotRecorded ECGStatus = "not_recorded"
)

// TrendStatus classifies the change of probability across visits.
type TrendStatus string

const (
	TrendWorsening        TrendStatus = "worsening"
	TrendImproving        TrendStatus = "improving"
	TrendStable           TrendStatus = "stable"
	TrendInsufficientData TrendStatus = "insufficient_data"
)
