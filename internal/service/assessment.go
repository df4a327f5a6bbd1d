package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cardio-risk-server/internal/domain"
)

// Disclaimer accompanies every assessment result.
const Disclaimer = "This is not a medical diagnosis"

const defaultConfirmedBy = "doctor"

// RiskModel is the read-only model an assessment runs against.
type RiskModel interface {
	Predictor
	FeatureImportances() []float64
}

// AssessRequest is one assessment call. Input and ECG are raw JSON objects.
type AssessRequest struct {
	HospitalID   string                 `json:"-"`
	PatientID    string                 `json:"patient_id"`
	Input        map[string]interface{} `json:"input"`
	ECG          map[string]interface{} `json:"ecg"`
	UseDeviceECG bool                   `json:"use_device_ecg"`
	DoctorNote   string                 `json:"-"`
	// CardiacArrest is the optional outcome reported with the visit.
	CardiacArrest *int   `json:"-"`
	ConfirmedBy   string `json:"-"`
	Save          bool   `json:"-"`
}

// AssessmentService runs the risk engine and persists the resulting record.
type AssessmentService struct {
	logger    *logrus.Logger
	model     RiskModel
	simulator *CounterfactualSimulator
	store     domain.Store
	cache     domain.TimelineCache
	events    domain.EventPublisher
	devices   domain.DeviceECGSource
	now       func() time.Time
}

// AssessmentOption configures optional collaborators.
type AssessmentOption func(*AssessmentService)

// WithStore enables record persistence.
func WithStore(store domain.Store) AssessmentOption {
	return func(s *AssessmentService) { s.store = store }
}

// WithTimelineCache invalidates cached timelines after writes.
func WithTimelineCache(cache domain.TimelineCache) AssessmentOption {
	return func(s *AssessmentService) { s.cache = cache }
}

// WithEventPublisher emits events after writes.
func WithEventPublisher(events domain.EventPublisher) AssessmentOption {
	return func(s *AssessmentService) { s.events = events }
}

// WithDeviceECG supplies device readings for requests that ask for them.
func WithDeviceECG(devices domain.DeviceECGSource) AssessmentOption {
	return func(s *AssessmentService) { s.devices = devices }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) AssessmentOption {
	return func(s *AssessmentService) { s.now = now }
}

// NewAssessmentService creates an assessment service over a loaded model
func NewAssessmentService(logger *logrus.Logger, model RiskModel, opts ...AssessmentOption) *AssessmentService {
	s := &AssessmentService{
		logger:    logger,
		model:     model,
		simulator: NewCounterfactualSimulator(model),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Assess validates the request, runs the model and rules, validates the composed
// record and, when requested, stores it for the patient.
func (s *AssessmentService) Assess(ctx context.Context, req *AssessRequest) (*domain.AssessmentResult, error) {
	if req == nil {
		return nil, domain.NewValidationError("input", "missing input data", nil)
	}
	in, err := ValidatePatientInput(req.Input)
	if err != nil {
		return nil, err
	}
	ecg, err := ValidateECG(req.ECG)
	if err != nil {
		return nil, err
	}
	if req.CardiacArrest != nil && *req.CardiacArrest != 0 && *req.CardiacArrest != 1 {
		return nil, domain.NewValidationError("cardiac_arrest", "cardiac_arrest must be 0 or 1", *req.CardiacArrest)
	}
	if req.Save && req.PatientID == "" {
		return nil, domain.NewValidationError("patient_id", "patient_id is required", nil)
	}

	now := s.now().UTC()
	if ecg == nil && req.UseDeviceECG && s.devices != nil && req.PatientID != "" {
		if reading, ok := s.devices.LatestECG(req.HospitalID, req.PatientID, now); ok {
			ecg = reading
		}
	}

	_, bmi := Encode(in)
	baseline, whatIf, err := s.simulator.Simulate(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to run model: %w", err)
	}

	sex := in.Gender.Sex()
	flags := EvaluateFlags(ecg, sex)
	delta := RiskDelta(ecg, sex)
	prediction := domain.Prediction{
		Probability: round3(baseline),
		RiskLevel:   RiskLevelFor(baseline),
		Confidence:  ConfidenceFor(baseline),
	}
	topFactors := TopFactors(s.model.FeatureImportances(), DefaultTopFactors)
	insights := SymptomInsights(in)

	record := &domain.AssessmentRecord{
		PatientID:       req.PatientID,
		CreatedAt:       &now,
		Input:           in,
		Derived:         &domain.Derived{BMI: bmi, ECGRiskDelta: delta},
		Prediction:      &prediction,
		ECG:             ecg,
		ECGFlags:        &flags,
		SymptomInsights: insights,
		TopFactors:      topFactors,
		WhatIf:          whatIf,
		Outcome:         requestOutcome(req, now),
	}
	if text := strings.TrimSpace(req.DoctorNote); text != "" {
		record.DoctorNotes = &domain.DoctorNote{Text: text, CreatedAt: now, LockedAt: now}
	}
	if err := ValidateRecord(record); err != nil {
		return nil, err
	}

	result := &domain.AssessmentResult{
		Probability:     prediction.Probability,
		RiskLevel:       prediction.RiskLevel,
		Confidence:      prediction.Confidence,
		BMI:             bmi,
		TopFactors:      topFactors,
		SymptomInsights: insights,
		Explanation:     HumanExplanation(in, bmi),
		WhatIf:          whatIf,
		ECGFlags:        flags,
		ECGRiskDelta:    delta,
		Disclaimer:      Disclaimer,
	}

	if req.Save && s.store != nil {
		recordID, err := s.persist(ctx, req.HospitalID, record)
		if err != nil {
			return nil, err
		}
		result.RecordID = recordID
	}

	s.logger.WithFields(logrus.Fields{
		"hospital_id": req.HospitalID,
		"patient_id":  req.PatientID,
		"record_id":   result.RecordID,
		"risk_level":  result.RiskLevel,
		"ecg_status":  flags.Status,
	}).Info("Assessment completed")
	return result, nil
}

func requestOutcome(req *AssessRequest, now time.Time) domain.Outcome {
	if req.CardiacArrest == nil || *req.CardiacArrest != 1 {
		return domain.Outcome{CardiacArrest: 0}
	}
	by := req.ConfirmedBy
	if by == "" {
		by = defaultConfirmedBy
	}
	return domain.Outcome{CardiacArrest: 1, ConfirmedBy: &by, ConfirmedAt: &now}
}

// persist stores the record and locks the patient outcome when the visit
// confirms a cardiac arrest. The store copies an existing lock onto the record
// and refuses to relock, so concurrent locks leave every record consistent.
func (s *AssessmentService) persist(ctx context.Context, hospitalID string, record *domain.AssessmentRecord) (string, error) {
	if _, err := s.store.GetPatient(ctx, hospitalID, record.PatientID); err != nil {
		return "", fmt.Errorf("failed to load patient: %w", err)
	}

	confirmsArrest := record.Outcome.CardiacArrest == 1
	recordID, err := s.store.SaveRecord(ctx, hospitalID, record)
	if err != nil {
		return "", fmt.Errorf("failed to save record: %w", err)
	}
	record.ID = recordID

	locking := false
	if confirmsArrest {
		err := s.store.SetPatientOutcome(ctx, hospitalID, record.PatientID, record.Outcome, true)
		switch {
		case err == nil:
			locking = true
		case !errors.Is(err, domain.ErrOutcomeLocked):
			return "", fmt.Errorf("failed to lock outcome: %w", err)
		}
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx, hospitalID, record.PatientID)
	}
	s.publish(ctx, domain.Event{
		Type:       domain.EventAssessmentRecorded,
		HospitalID: hospitalID,
		PatientID:  record.PatientID,
		RecordID:   recordID,
		OccurredAt: *record.CreatedAt,
		Payload: map[string]interface{}{
			"probability": record.Prediction.Probability,
			"risk_level":  record.Prediction.RiskLevel,
			"ecg_status":  record.ECGFlags.Status,
		},
	})
	if locking {
		s.publish(ctx, domain.Event{
			Type:       domain.EventOutcomeLocked,
			HospitalID: hospitalID,
			PatientID:  record.PatientID,
			RecordID:   recordID,
			OccurredAt: *record.CreatedAt,
		})
	}
	return recordID, nil
}

// publish delivers an event; failures are logged and never fail the request.
func (s *AssessmentService) publish(ctx context.Context, event domain.Event) {
	publishEvent(ctx, s.logger, s.events, event)
}

func publishEvent(ctx context.Context, logger *logrus.Logger, events domain.EventPublisher, event domain.Event) {
	if events == nil {
		return
	}
	if err := events.Publish(ctx, event); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).WithFields(logrus.Fields{
			"event_type": event.Type,
			"patient_id": event.PatientID,
		}).Warn("Failed to publish event")
	}
}
