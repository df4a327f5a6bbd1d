package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"

	"github.com/cardio-risk-server/internal/domain"
)

// NoteEditWindow is how long a doctor note stays editable.
const NoteEditWindow = 15 * time.Minute

const (
	mobileDigits    = 10
	minSearchLength = 3
	deletedName     = "DELETED_PATIENT"

	// DuplicateMatchLimit caps the possible duplicates shown at registration.
	DuplicateMatchLimit = 3
)

// Outcome lock messages.
const (
	MsgOutcomeAlreadyLocked = "Outcome already locked"
	MsgOutcomeLocked        = "Cardiac arrest outcome saved and locked"
	MsgOutcomeRecorded      = "Outcome recorded"
)

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

// CreatePatientRequest is the body of a patient registration.
type CreatePatientRequest struct {
	Name          string      `json:"name"`
	Age           interface{} `json:"age"`
	Gender        interface{} `json:"gender"`
	PrimaryMobile string      `json:"primary_mobile"`
	PatientEmail  string      `json:"patient_email"`
	GuardianEmail string      `json:"guardian_email"`
}

// UpdatePatientRequest holds the editable profile fields. Nil means unchanged.
type UpdatePatientRequest struct {
	Name          *string     `json:"name"`
	Age           interface{} `json:"age"`
	Gender        interface{} `json:"gender"`
	PatientEmail  *string     `json:"patient_email"`
	GuardianEmail *string     `json:"guardian_email"`
	PrimaryMobile *string     `json:"primary_mobile"`
}

// OutcomeResult reports the state of the patient outcome after a lock request.
type OutcomeResult struct {
	Locked        bool   `json:"locked"`
	Message       string `json:"message"`
	CardiacArrest int    `json:"cardiac_arrest"`
}

// PatientService manages the patient registry, outcomes, doctor notes and timelines.
type PatientService struct {
	logger *logrus.Logger
	store  domain.Store
	cache  domain.TimelineCache
	events domain.EventPublisher
	now    func() time.Time
}

// NewPatientService creates a patient service. cache and events may be nil.
func NewPatientService(logger *logrus.Logger, store domain.Store, cache domain.TimelineCache, events domain.EventPublisher) *PatientService {
	return &PatientService{
		logger: logger,
		store:  store,
		cache:  cache,
		events: events,
		now:    time.Now,
	}
}

// SetClock overrides the time source.
func (s *PatientService) SetClock(now func() time.Time) {
	s.now = now
}

// NormalizeMobile keeps the last ten digits of a phone number.
func NormalizeMobile(mobile string) (string, error) {
	var digits strings.Builder
	for _, r := range mobile {
		if unicode.IsDigit(r) {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) < mobileDigits {
		return "", domain.NewValidationError("primary_mobile", "Invalid mobile number", mobile)
	}
	return d[len(d)-mobileDigits:], nil
}

// ValidEmail accepts an empty address or a plausible one.
func ValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	return email == "" || emailPattern.MatchString(email)
}

// CreatePatient validates and registers a patient.
func (s *PatientService) CreatePatient(ctx context.Context, hospitalID string, req *CreatePatientRequest) (*domain.Patient, error) {
	if req == nil || strings.TrimSpace(req.Name) == "" || isBlank(req.Age) || isBlank(req.Gender) ||
		strings.TrimSpace(req.PrimaryMobile) == "" {
		return nil, domain.NewValidationError("patient", "name, age, gender, primary_mobile are required", nil)
	}
	age, err := patientAge(req.Age)
	if err != nil {
		return nil, err
	}
	gender, err := patientGender(req.Gender)
	if err != nil {
		return nil, err
	}
	norm, err := NormalizeMobile(req.PrimaryMobile)
	if err != nil {
		return nil, err
	}
	if !ValidEmail(req.PatientEmail) {
		return nil, domain.NewValidationError("patient_email", "Invalid patient email", req.PatientEmail)
	}
	if !ValidEmail(req.GuardianEmail) {
		return nil, domain.NewValidationError("guardian_email", "Invalid guardian email", req.GuardianEmail)
	}

	now := s.now().UTC()
	patient, err := s.store.CreatePatient(ctx, &domain.Patient{
		HospitalID:        hospitalID,
		Name:              strings.TrimSpace(req.Name),
		Age:               age,
		Gender:            gender,
		PrimaryMobile:     req.PrimaryMobile,
		PrimaryMobileNorm: norm,
		PatientEmail:      strings.TrimSpace(req.PatientEmail),
		GuardianEmail:     strings.TrimSpace(req.GuardianEmail),
		Outcome:           &domain.Outcome{CardiacArrest: 0},
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create patient: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"hospital_id": hospitalID,
		"patient_id":  patient.ID,
	}).Info("Patient registered")
	return patient, nil
}

// GetPatient returns one patient of the hospital.
func (s *PatientService) GetPatient(ctx context.Context, hospitalID, patientID string) (*domain.Patient, error) {
	return s.store.GetPatient(ctx, hospitalID, patientID)
}

// ListPatients returns all patients, newest first, including soft-deleted ones.
func (s *PatientService) ListPatients(ctx context.Context, hospitalID string) ([]*domain.Patient, error) {
	return s.store.ListPatients(ctx, hospitalID, true)
}

// SearchByMobile finds patients by exact normalized mobile. Queries shorter
// than three characters return no matches.
func (s *PatientService) SearchByMobile(ctx context.Context, hospitalID, q string) ([]*domain.Patient, error) {
	q = strings.TrimSpace(q)
	if len(q) < minSearchLength {
		return []*domain.Patient{}, nil
	}
	var digits strings.Builder
	for _, r := range q {
		if unicode.IsDigit(r) {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return []*domain.Patient{}, nil
	}
	return s.store.SearchPatientsByMobile(ctx, hospitalID, digits.String())
}

// DuplicateMatch is a registered patient that resembles a new registration.
type DuplicateMatch struct {
	PatientID     string `json:"patient_id"`
	Name          string `json:"name"`
	Age           int    `json:"age"`
	PrimaryMobile string `json:"primary_mobile"`
}

// DuplicateCheck lists up to DuplicateMatchLimit active patients with the same
// age whose name contains, or is contained in, the given name ignoring case.
// A blank name or an age that is not a whole number yields no matches.
func (s *PatientService) DuplicateCheck(ctx context.Context, hospitalID, name, age string) ([]DuplicateMatch, error) {
	matches := []DuplicateMatch{}
	name = strings.ToLower(strings.TrimSpace(name))
	years, err := strconv.Atoi(strings.TrimSpace(age))
	if name == "" || err != nil {
		return matches, nil
	}

	patients, err := s.store.FindPatientsByNameAge(ctx, hospitalID, name, years, DuplicateMatchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to check duplicates: %w", err)
	}
	for _, p := range patients {
		matches = append(matches, DuplicateMatch{
			PatientID:     p.ID,
			Name:          p.Name,
			Age:           p.Age,
			PrimaryMobile: p.PrimaryMobile,
		})
	}
	return matches, nil
}

// UpdatePatient applies profile edits. The mobile number cannot change and
// deleted patients cannot be edited. It returns the names of changed fields.
func (s *PatientService) UpdatePatient(ctx context.Context, hospitalID, patientID string, req *UpdatePatientRequest) ([]string, error) {
	if req == nil {
		return nil, nil
	}
	if req.PrimaryMobile != nil {
		return nil, domain.NewValidationError("primary_mobile", "Mobile number cannot be changed", *req.PrimaryMobile)
	}
	patient, err := s.store.GetPatient(ctx, hospitalID, patientID)
	if err != nil {
		return nil, err
	}
	if patient.IsDeleted {
		return nil, fmt.Errorf("deleted patient cannot be edited: %w", domain.ErrPatientDeleted)
	}

	var changed []string
	if req.Name != nil {
		if name := strings.TrimSpace(*req.Name); name != "" {
			patient.Name = name
			changed = append(changed, "name")
		}
	}
	if !isBlank(req.Age) {
		age, err := patientAge(req.Age)
		if err != nil {
			return nil, err
		}
		patient.Age = age
		changed = append(changed, "age")
	}
	if !isBlank(req.Gender) {
		gender, err := patientGender(req.Gender)
		if err != nil {
			return nil, err
		}
		patient.Gender = gender
		changed = append(changed, "gender")
	}
	if req.PatientEmail != nil {
		if !ValidEmail(*req.PatientEmail) {
			return nil, domain.NewValidationError("patient_email", "Invalid patient email", *req.PatientEmail)
		}
		patient.PatientEmail = strings.TrimSpace(*req.PatientEmail)
		changed = append(changed, "patient_email")
	}
	if req.GuardianEmail != nil {
		if !ValidEmail(*req.GuardianEmail) {
			return nil, domain.NewValidationError("guardian_email", "Invalid guardian email", *req.GuardianEmail)
		}
		patient.GuardianEmail = strings.TrimSpace(*req.GuardianEmail)
		changed = append(changed, "guardian_email")
	}
	if len(changed) == 0 {
		return changed, nil
	}

	patient.UpdatedAt = s.now().UTC()
	if err := s.store.UpdatePatient(ctx, patient); err != nil {
		return nil, fmt.Errorf("failed to update patient: %w", err)
	}
	s.invalidate(ctx, hospitalID, patientID)
	return changed, nil
}

// DeletePatient soft-deletes a patient and clears its personal details.
func (s *PatientService) DeletePatient(ctx context.Context, hospitalID, patientID string) error {
	patient, err := s.store.GetPatient(ctx, hospitalID, patientID)
	if err != nil {
		return err
	}
	if patient.IsDeleted {
		return domain.NewValidationError("patient_id", "Patient already deleted", patientID)
	}
	if err := s.store.DeletePatient(ctx, hospitalID, patientID); err != nil {
		return fmt.Errorf("failed to delete patient: %w", err)
	}
	s.invalidate(ctx, hospitalID, patientID)
	return nil
}

// SetOutcome records the patient outcome. A confirmed cardiac arrest locks the
// outcome permanently and is copied onto every stored record. Requests against a
// locked patient change nothing.
func (s *PatientService) SetOutcome(ctx context.Context, hospitalID, patientID string, cardiacArrest interface{}, confirmedBy string) (*OutcomeResult, error) {
	value, err := ParseOutcomeValue(cardiacArrest)
	if err != nil {
		return nil, err
	}
	patient, err := s.store.GetPatient(ctx, hospitalID, patientID)
	if err != nil {
		return nil, err
	}
	alreadyLocked := &OutcomeResult{Locked: true, Message: MsgOutcomeAlreadyLocked, CardiacArrest: 1}
	if patient.OutcomeLocked() {
		return alreadyLocked, nil
	}

	// the store re-checks the lock, so a concurrent lock is never overwritten
	if value == 0 {
		err := s.store.SetPatientOutcome(ctx, hospitalID, patientID, domain.Outcome{CardiacArrest: 0}, false)
		if errors.Is(err, domain.ErrOutcomeLocked) {
			return alreadyLocked, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to record outcome: %w", err)
		}
		s.invalidate(ctx, hospitalID, patientID)
		publishEvent(ctx, s.logger, s.events, domain.Event{
			Type:       domain.EventOutcomeRecorded,
			HospitalID: hospitalID,
			PatientID:  patientID,
			OccurredAt: s.now().UTC(),
			Payload:    map[string]interface{}{"cardiac_arrest": 0},
		})
		return &OutcomeResult{Locked: false, Message: MsgOutcomeRecorded, CardiacArrest: 0}, nil
	}

	now := s.now().UTC()
	if confirmedBy == "" {
		confirmedBy = defaultConfirmedBy
	}
	outcome := domain.Outcome{CardiacArrest: 1, ConfirmedBy: &confirmedBy, ConfirmedAt: &now}
	err = s.store.SetPatientOutcome(ctx, hospitalID, patientID, outcome, true)
	if errors.Is(err, domain.ErrOutcomeLocked) {
		return alreadyLocked, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock outcome: %w", err)
	}
	s.invalidate(ctx, hospitalID, patientID)
	publishEvent(ctx, s.logger, s.events, domain.Event{
		Type:       domain.EventOutcomeLocked,
		HospitalID: hospitalID,
		PatientID:  patientID,
		OccurredAt: now,
		Payload:    map[string]interface{}{"cardiac_arrest": 1, "confirmed_by": confirmedBy},
	})
	s.logger.WithFields(logrus.Fields{
		"hospital_id": hospitalID,
		"patient_id":  patientID,
	}).Info("Cardiac arrest outcome locked")
	return &OutcomeResult{Locked: true, Message: MsgOutcomeLocked, CardiacArrest: 1}, nil
}

// AddNote attaches the single doctor note a record may carry.
func (s *PatientService) AddNote(ctx context.Context, hospitalID, patientID, recordID, text string) (*domain.DoctorNote, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.NewValidationError("text", "Doctor note text is required", nil)
	}
	record, err := s.store.GetRecord(ctx, hospitalID, patientID, recordID)
	if err != nil {
		return nil, err
	}
	if record.DoctorNotes != nil {
		return nil, domain.ErrNoteExists
	}
	now := s.now().UTC()
	note := &domain.DoctorNote{Text: text, CreatedAt: now, LockedAt: now.Add(NoteEditWindow)}
	if err := s.store.SetDoctorNote(ctx, hospitalID, patientID, recordID, note); err != nil {
		return nil, fmt.Errorf("failed to save doctor note: %w", err)
	}
	s.invalidate(ctx, hospitalID, patientID)
	return note, nil
}

// EditNote replaces the note text while the edit window is open.
func (s *PatientService) EditNote(ctx context.Context, hospitalID, patientID, recordID, text string) (*domain.DoctorNote, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.NewValidationError("text", "Doctor note text is required", nil)
	}
	record, err := s.store.GetRecord(ctx, hospitalID, patientID, recordID)
	if err != nil {
		return nil, err
	}
	if record.DoctorNotes == nil {
		return nil, fmt.Errorf("doctor note: %w", domain.ErrNotFound)
	}
	if !s.now().UTC().Before(record.DoctorNotes.LockedAt) {
		return nil, domain.ErrNoteLocked
	}
	note := *record.DoctorNotes
	note.Text = text
	if err := s.store.SetDoctorNote(ctx, hospitalID, patientID, recordID, &note); err != nil {
		return nil, fmt.Errorf("failed to update doctor note: %w", err)
	}
	s.invalidate(ctx, hospitalID, patientID)
	return &note, nil
}

// GetNote returns the record's note, or nil when there is none.
func (s *PatientService) GetNote(ctx context.Context, hospitalID, patientID, recordID string) (*domain.DoctorNote, error) {
	record, err := s.store.GetRecord(ctx, hospitalID, patientID, recordID)
	if err != nil {
		return nil, err
	}
	return record.DoctorNotes, nil
}

// Timeline returns the patient's longitudinal view, served from cache when fresh.
func (s *PatientService) Timeline(ctx context.Context, hospitalID, patientID string) (*domain.PatientTimeline, error) {
	if s.cache != nil {
		if tl, ok := s.cache.Get(ctx, hospitalID, patientID); ok {
			return tl, nil
		}
	}
	var generation uint64
	if s.cache != nil {
		generation = s.cache.Generation(hospitalID, patientID)
	}
	patient, err := s.store.GetPatient(ctx, hospitalID, patientID)
	if err != nil {
		return nil, err
	}
	records, err := s.store.ListRecords(ctx, hospitalID, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	SortRecordsForTimeline(records)

	tl := &domain.PatientTimeline{Patient: patient, Timeline: ComputeTimeline(records)}
	if s.cache != nil {
		s.cache.Set(ctx, hospitalID, patientID, generation, tl)
	}
	return tl, nil
}

// Dashboard computes registry analytics for the hospital.
func (s *PatientService) Dashboard(ctx context.Context, hospitalID string) (*Analytics, error) {
	patients, err := s.store.ListPatients(ctx, hospitalID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	return AnalyticsFor(patients, s.now()), nil
}

func (s *PatientService) invalidate(ctx context.Context, hospitalID, patientID string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, hospitalID, patientID)
	}
}

func isBlank(v interface{}) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func patientAge(v interface{}) (int, error) {
	if _, isBool := v.(bool); isBool {
		return 0, domain.NewValidationError("age", "age must be a number", v)
	}
	age, err := cast.ToIntE(v)
	if err != nil || age < 1 || age > 120 {
		return 0, domain.NewValidationError("age", "age must be between 1 and 120", v)
	}
	return age, nil
}

func patientGender(v interface{}) (domain.Gender, error) {
	if _, isBool := v.(bool); isBool {
		return 0, domain.NewValidationError("gender", "must be 1 (male) or 2 (female)", v)
	}
	n, err := cast.ToIntE(v)
	g := domain.Gender(n)
	if err != nil || !g.IsValid() {
		return 0, domain.NewValidationError("gender", "must be 1 (male) or 2 (female)", v)
	}
	return g, nil
}

// ParseOutcomeValue accepts exactly the JSON numbers 0 and 1. Strings, booleans
// and fractions are rejected.
func ParseOutcomeValue(v interface{}) (int, error) {
	invalid := domain.NewValidationError("cardiac_arrest", "cardiac_arrest must be 0 or 1", v)
	switch n := v.(type) {
	case int:
		if n == 0 || n == 1 {
			return n, nil
		}
	case float64:
		if n == 0 || n == 1 {
			return int(n), nil
		}
	}
	return 0, invalid
}

// IsConflict reports errors that map to a conflicting write.
func IsConflict(err error) bool {
	return errors.Is(err, domain.ErrDuplicatePatient) || errors.Is(err, domain.ErrNoteExists)
}
