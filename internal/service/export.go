package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/cardio-risk-server/internal/domain"
)

// RetrainingColumns is the header of the retraining dataset.
var RetrainingColumns = []string{
	"patient_id",
	"age", "gender", "height", "weight",
	"ap_hi", "ap_lo", "cholesterol", "gluc",
	"smoke", "alco", "active",
	"bmi",
	"chest_pain", "nausea", "palpitations", "dizziness",
	"ecg_heart_rate", "ecg_pr_interval_ms", "ecg_qrs_duration_ms",
	"ecg_qt_interval_ms", "ecg_arrhythmia_detected",
	"cardio",
}

// RetrainingExporter writes stored records as a labelled training dataset.
type RetrainingExporter struct {
	logger *logrus.Logger
	store  domain.Store
}

// NewRetrainingExporter creates an exporter over the store
func NewRetrainingExporter(logger *logrus.Logger, store domain.Store) *RetrainingExporter {
	return &RetrainingExporter{logger: logger, store: store}
}

// Export writes one row per record of every patient of the given hospitals.
// The cardio label is the patient-level outcome. It returns the row count.
func (e *RetrainingExporter) Export(ctx context.Context, w io.Writer, hospitalIDs ...string) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(RetrainingColumns); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}

	rows := 0
	for _, hospitalID := range hospitalIDs {
		patients, err := e.store.ListPatients(ctx, hospitalID, true)
		if err != nil {
			return rows, fmt.Errorf("failed to list patients of %s: %w", hospitalID, err)
		}
		for _, p := range patients {
			records, err := e.store.ListRecords(ctx, hospitalID, p.ID)
			if err != nil {
				return rows, fmt.Errorf("failed to list records of %s: %w", p.ID, err)
			}
			label := 0
			if p.OutcomeLocked() {
				label = 1
			}
			for _, rec := range records {
				if rec.Input == nil {
					continue
				}
				if err := cw.Write(retrainingRow(p.ID, rec, label)); err != nil {
					return rows, fmt.Errorf("failed to write row: %w", err)
				}
				rows++
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return rows, fmt.Errorf("failed to flush csv: %w", err)
	}
	e.logger.WithFields(logrus.Fields{
		"rows":      rows,
		"hospitals": len(hospitalIDs),
	}).Info("Retraining dataset exported")
	return rows, nil
}

func retrainingRow(patientID string, rec *domain.AssessmentRecord, label int) []string {
	in := rec.Input
	bmi := ""
	if rec.Derived != nil {
		bmi = formatFloat(rec.Derived.BMI)
	}
	ecg := rec.ECG
	if ecg == nil {
		ecg = &domain.ECGReading{}
	}
	return []string{
		patientID,
		strconv.Itoa(in.Age),
		strconv.Itoa(int(in.Gender)),
		formatFloat(in.HeightCm),
		formatFloat(in.WeightKg),
		strconv.Itoa(in.Systolic),
		strconv.Itoa(in.Diastolic),
		strconv.Itoa(in.Cholesterol),
		strconv.Itoa(in.Glucose),
		strconv.Itoa(in.Smoke),
		strconv.Itoa(in.Alco),
		strconv.Itoa(in.Active),
		bmi,
		string(in.ChestPain),
		strconv.Itoa(int(in.Nausea)),
		strconv.Itoa(int(in.Palpitations)),
		string(in.Dizziness),
		optionalInt(ecg.HeartRate),
		optionalInt(ecg.PRIntervalMs),
		optionalInt(ecg.QRSDurationMs),
		optionalInt(ecg.QTIntervalMs),
		optionalBool(ecg.ArrhythmiaDetected),
		strconv.Itoa(label),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func optionalInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func optionalBool(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}
