package service

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cardio-risk-server/internal/domain"
)

var (
	recordKeys = []string{
		"created_at", "input", "derived", "prediction", "ecg", "ecg_flags",
		"symptom_insights", "top_factors", "what_if", "doctor_notes", "outcome",
	}
	derivedKeys    = []string{"bmi", "ecg_risk_delta"}
	predictionKeys = []string{"probability", "risk_level", "confidence"}
	ecgFlagsKeys   = []string{"status", "flags"}
	outcomeKeys    = []string{"cardiac_arrest", "confirmed_by", "confirmed_at"}
)

// ValidateRecord checks a composed record against the persisted field contract.
func ValidateRecord(rec *domain.AssessmentRecord) error {
	if rec == nil {
		return &domain.SchemaViolation{Section: "record"}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}
	return ValidateRecordDocument(doc)
}

// ValidateRecordDocument checks exact key sets on a record document. Any
// deviation is a *domain.SchemaViolation naming the section.
func ValidateRecordDocument(doc map[string]interface{}) error {
	if err := exactKeys("record", doc, recordKeys); err != nil {
		return err
	}
	if err := requiredObject("input", doc["input"], domain.InputFields); err != nil {
		return err
	}
	if err := requiredObject("derived", doc["derived"], derivedKeys); err != nil {
		return err
	}
	if err := requiredObject("prediction", doc["prediction"], predictionKeys); err != nil {
		return err
	}
	if err := optionalObject("ecg", doc["ecg"], domain.ECGFields); err != nil {
		return err
	}
	if err := optionalObject("ecg_flags", doc["ecg_flags"], ecgFlagsKeys); err != nil {
		return err
	}
	if notes := doc["doctor_notes"]; notes != nil {
		if _, ok := notes.(map[string]interface{}); !ok {
			return &domain.SchemaViolation{Section: "doctor_notes"}
		}
	}
	return requiredObject("outcome", doc["outcome"], outcomeKeys)
}

func requiredObject(section string, v interface{}, keys []string) error {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return &domain.SchemaViolation{Section: section}
	}
	return exactKeys(section, obj, keys)
}

func optionalObject(section string, v interface{}, keys []string) error {
	if v == nil {
		return nil
	}
	return requiredObject(section, v, keys)
}

func exactKeys(section string, obj map[string]interface{}, keys []string) error {
	want := make(map[string]bool, len(keys))
	var missing []string
	for _, k := range keys {
		want[k] = true
		if _, ok := obj[k]; !ok {
			missing = append(missing, k)
		}
	}
	var extra []string
	for k := range obj {
		if !want[k] {
			extra = append(extra, k)
		}
	}
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	sort.Strings(extra)
	return &domain.SchemaViolation{Section: section, Missing: missing, Extra: extra}
}
