package service

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"github.com/cardio-risk-server/internal/domain"
)

// requiredInputFields are checked for presence in this order.
var requiredInputFields = []string{
	"age", "gender",
	"height", "weight",
	"ap_hi", "ap_lo",
	"cholesterol", "gluc",
	"smoke", "alco", "active",
}

// ValidatePatientInput checks a raw request body and returns the typed input.
// The raw map is only read. Numbers may arrive as JSON numbers or numeric strings.
func ValidatePatientInput(raw map[string]interface{}) (*domain.PatientInput, error) {
	if raw == nil {
		return nil, domain.NewValidationError("input", "missing input data", nil)
	}
	for _, field := range requiredInputFields {
		if v, ok := raw[field]; !ok || v == nil {
			return nil, domain.NewValidationError(field, "missing field", nil)
		}
	}

	in := &domain.PatientInput{}
	var err error

	if in.Age, err = intInRange(raw, "age", 1, 120); err != nil {
		return nil, err
	}

	gender, err := toInt(raw, "gender")
	if err != nil {
		return nil, err
	}
	in.Gender = domain.Gender(gender)
	if !in.Gender.IsValid() {
		return nil, domain.NewValidationError("gender", "must be 1 (male) or 2 (female)", raw["gender"])
	}

	if in.HeightCm, err = floatInRange(raw, "height", 100, 250); err != nil {
		return nil, err
	}
	if in.WeightKg, err = floatInRange(raw, "weight", 20, 300); err != nil {
		return nil, err
	}
	if in.Systolic, err = intInRange(raw, "ap_hi", 50, 250); err != nil {
		return nil, err
	}
	if in.Diastolic, err = intInRange(raw, "ap_lo", 30, 150); err != nil {
		return nil, err
	}
	if in.Diastolic >= in.Systolic {
		return nil, domain.NewValidationError("ap_lo", "diastolic BP must be less than systolic BP", raw["ap_lo"])
	}

	if in.Cholesterol, err = intInSet(raw, "cholesterol", 1, 2, 3); err != nil {
		return nil, err
	}
	if in.Glucose, err = intInSet(raw, "gluc", 1, 2, 3); err != nil {
		return nil, err
	}
	if in.Smoke, err = intInSet(raw, "smoke", 0, 1); err != nil {
		return nil, err
	}
	if in.Alco, err = intInSet(raw, "alco", 0, 1); err != nil {
		return nil, err
	}
	if in.Active, err = intInSet(raw, "active", 0, 1); err != nil {
		return nil, err
	}

	if err := validateSymptoms(raw, in); err != nil {
		return nil, err
	}
	return in, nil
}

// validateSymptoms fills the optional symptom fields; absent or null means "none".
func validateSymptoms(raw map[string]interface{}, in *domain.PatientInput) error {
	in.ChestPain = domain.ChestPainNone
	if v, ok := raw["chest_pain"]; ok && v != nil {
		s, isString := v.(string)
		c, err := domain.ParseChestPain(strings.TrimSpace(s))
		if !isString || err != nil {
			return domain.NewValidationError("chest_pain", "must be one of none, mild, moderate, severe", v)
		}
		in.ChestPain = c
	}

	in.Dizziness = domain.DizzinessNo
	if v, ok := raw["dizziness"]; ok && v != nil {
		s, isString := v.(string)
		d, err := domain.ParseDizziness(strings.TrimSpace(s))
		if !isString || err != nil {
			return domain.NewValidationError("dizziness", "must be one of no, mild, severe", v)
		}
		in.Dizziness = d
	}

	for _, field := range []string{"nausea", "palpitations"} {
		v, ok := raw[field]
		if !ok || v == nil {
			continue
		}
		flag, err := domain.ParseBinaryFlag(v)
		if err != nil {
			return domain.NewValidationError(field, "must be yes, no, 0 or 1", v)
		}
		if field == "nausea" {
			in.Nausea = flag
		} else {
			in.Palpitations = flag
		}
	}
	return nil
}

func toInt(raw map[string]interface{}, field string) (int, error) {
	if _, isBool := raw[field].(bool); isBool {
		return 0, domain.NewValidationError(field, "must be a number", raw[field])
	}
	n, err := cast.ToIntE(raw[field])
	if err != nil {
		return 0, domain.NewValidationError(field, "must be a number", raw[field])
	}
	return n, nil
}

func intInRange(raw map[string]interface{}, field string, min, max int) (int, error) {
	n, err := toInt(raw, field)
	if err != nil {
		return 0, err
	}
	if n < min || n > max {
		return 0, domain.NewValidationError(field, fmt.Sprintf("must be between %d and %d", min, max), raw[field])
	}
	return n, nil
}

func floatInRange(raw map[string]interface{}, field string, min, max float64) (float64, error) {
	if _, isBool := raw[field].(bool); isBool {
		return 0, domain.NewValidationError(field, "must be a number", raw[field])
	}
	f, err := cast.ToFloat64E(raw[field])
	if err != nil {
		return 0, domain.NewValidationError(field, "must be a number", raw[field])
	}
	if f < min || f > max {
		return 0, domain.NewValidationError(field, fmt.Sprintf("must be between %g and %g", min, max), raw[field])
	}
	return f, nil
}

func intInSet(raw map[string]interface{}, field string, allowed ...int) (int, error) {
	n, err := toInt(raw, field)
	if err != nil {
		return 0, err
	}
	for _, a := range allowed {
		if n == a {
			return n, nil
		}
	}
	return 0, domain.NewValidationError(field, fmt.Sprintf("must be one of %v", allowed), raw[field])
}
