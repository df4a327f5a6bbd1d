package service

import (
	"fmt"

	"github.com/spf13/cast"

	"github.com/cardio-risk-server/internal/domain"
)

// ECG flag labels, in priority order.
const (
	FlagBradycardia = "Bradycardia (low heart rate)"
	FlagTachycardia = "Tachycardia (high heart rate)"
	FlagProlongedPR = "Prolonged PR interval (AV conduction delay)"
	FlagWideQRS     = "Wide QRS complex (ventricular conduction abnormality)"
	FlagProlongedQT = "Prolonged QT interval"
	FlagArrhythmia  = "Arrhythmia detected"
	reasonWideQRS   = "Wide QRS complex"
)

// QT limits are sex-specific; unspecified sex uses the male limit.
const (
	qtLimitFemaleMs  = 480
	qtLimitDefaultMs = 470
)

// Risk delta contributions.
const (
	deltaTachycardia = 0.05
	deltaBradycardia = 0.04
	deltaProlongedQT = 0.04
	deltaWideQRS     = 0.03
	deltaArrhythmia  = 0.06
)

type ecgIntField struct {
	name     string
	label    string
	min, max int
	set      func(*domain.ECGReading, int)
}

var ecgIntFields = []ecgIntField{
	{"heart_rate", "heart rate", 30, 220, func(e *domain.ECGReading, v int) { e.HeartRate = &v }},
	{"pr_interval_ms", "PR interval", 80, 300, func(e *domain.ECGReading, v int) { e.PRIntervalMs = &v }},
	{"qrs_duration_ms", "QRS duration", 60, 200, func(e *domain.ECGReading, v int) { e.QRSDurationMs = &v }},
	{"qt_interval_ms", "QT interval", 300, 550, func(e *domain.ECGReading, v int) { e.QTIntervalMs = &v }},
}

// ValidateECG parses optional doctor-entered ECG values. Null and empty-string
// values are treated as not recorded. It returns nil when nothing was recorded.
func ValidateECG(raw map[string]interface{}) (*domain.ECGReading, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	ecg := &domain.ECGReading{}

	for _, f := range ecgIntFields {
		v, ok := raw[f.name]
		if !ok || isEmptyValue(v) {
			continue
		}
		if _, isBool := v.(bool); isBool {
			return nil, domain.NewValidationError(f.name, f.label+" must be a number", v)
		}
		n, err := cast.ToIntE(v)
		if err != nil {
			return nil, domain.NewValidationError(f.name, f.label+" must be a number", v)
		}
		if n < f.min || n > f.max {
			return nil, domain.NewValidationError(f.name,
				fmt.Sprintf("%s must be between %d and %d", f.label, f.min, f.max), v)
		}
		f.set(ecg, n)
	}

	for _, name := range []string{"st_elevation", "arrhythmia_detected"} {
		v, ok := raw[name]
		if !ok || isEmptyValue(v) {
			continue
		}
		b, isBool := v.(bool)
		if !isBool {
			return nil, domain.NewValidationError(name, name+" must be boolean", v)
		}
		if name == "st_elevation" {
			ecg.STElevation = &b
		} else {
			ecg.ArrhythmiaDetected = &b
		}
	}

	if ecg.IsEmpty() {
		return nil, nil
	}
	return ecg, nil
}

func isEmptyValue(v interface{}) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func qtLimit(sex domain.Sex) int {
	if sex == domain.SexFemale {
		return qtLimitFemaleMs
	}
	return qtLimitDefaultMs
}

// EvaluateFlags derives abnormality flags. A nil or empty reading is reported as
// not_recorded, which is distinct from a recorded reading with no findings.
func EvaluateFlags(ecg *domain.ECGReading, sex domain.Sex) domain.ECGFlags {
	flags := []string{}
	if ecg.IsEmpty() {
		return domain.ECGFlags{Status: domain.ECGNotRecorded, Flags: flags}
	}

	if hr := ecg.HeartRate; hr != nil {
		if *hr < 50 {
			flags = append(flags, FlagBradycardia)
		} else if *hr > 100 {
			flags = append(flags, FlagTachycardia)
		}
	}
	if pr := ecg.PRIntervalMs; pr != nil && *pr > 200 {
		flags = append(flags, FlagProlongedPR)
	}
	if qrs := ecg.QRSDurationMs; qrs != nil && *qrs > 120 {
		flags = append(flags, FlagWideQRS)
	}
	if qt := ecg.QTIntervalMs; qt != nil && *qt > qtLimit(sex) {
		flags = append(flags, FlagProlongedQT)
	}
	critical := false
	if a := ecg.ArrhythmiaDetected; a != nil && *a {
		flags = append(flags, FlagArrhythmia)
		critical = true
	}

	status := domain.ECGNormal
	switch {
	case critical:
		status = domain.ECGCritical
	case len(flags) > 0:
		status = domain.ECGAbnormal
	}
	return domain.ECGFlags{Status: status, Flags: flags}
}

// RiskDelta sums the additive ECG contributions, reasons in flag order.
func RiskDelta(ecg *domain.ECGReading, sex domain.Sex) domain.ECGRiskDelta {
	delta := 0.0
	reasons := []string{}
	if ecg.IsEmpty() {
		return domain.ECGRiskDelta{Delta: delta, Reasons: reasons}
	}

	if hr := ecg.HeartRate; hr != nil {
		if *hr > 100 {
			delta += deltaTachycardia
			reasons = append(reasons, FlagTachycardia)
		} else if *hr < 50 {
			delta += deltaBradycardia
			reasons = append(reasons, FlagBradycardia)
		}
	}
	if qrs := ecg.QRSDurationMs; qrs != nil && *qrs > 120 {
		delta += deltaWideQRS
		reasons = append(reasons, reasonWideQRS)
	}
	if qt := ecg.QTIntervalMs; qt != nil && *qt > qtLimit(sex) {
		delta += deltaProlongedQT
		reasons = append(reasons, FlagProlongedQT)
	}
	if a := ecg.ArrhythmiaDetected; a != nil && *a {
		delta += deltaArrhythmia
		reasons = append(reasons, FlagArrhythmia)
	}

	return domain.ECGRiskDelta{Delta: round3(delta), Reasons: reasons}
}
