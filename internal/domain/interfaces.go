package domain

import (
	"context"
	"time"
)

// PatientRepository persists the hospital-scoped patient registry
type PatientRepository interface {
	// CreatePatient assigns the next per-hospital patient id and stores the patient.
	// It returns ErrDuplicatePatient when the normalized mobile is already registered.
	CreatePatient(ctx context.Context, patient *Patient) (*Patient, error)
	GetPatient(ctx context.Context, hospitalID, patientID string) (*Patient, error)
	ListPatients(ctx context.Context, hospitalID string, includeDeleted bool) ([]*Patient, error)
	// SearchPatientsByMobile returns patients whose normalized mobile equals mobileNorm, newest first.
	SearchPatientsByMobile(ctx context.Context, hospitalID, mobileNorm string) ([]*Patient, error)
	// FindPatientsByNameAge returns active patients of the given age whose
	// lowercased name contains nameLower or is contained in it, oldest id first.
	FindPatientsByNameAge(ctx context.Context, hospitalID, nameLower string, age, limit int) ([]*Patient, error)
	// UpdatePatient stores the editable profile fields (name, age, gender, emails).
	UpdatePatient(ctx context.Context, patient *Patient) error
	// DeletePatient soft-deletes the patient and clears its personal details.
	DeletePatient(ctx context.Context, hospitalID, patientID string) error
	// SetPatientOutcome stores the patient-level outcome. When backfill is true every
	// record of the patient receives the same outcome in the same transaction.
	// A locked outcome is never replaced; ErrOutcomeLocked is returned instead.
	SetPatientOutcome(ctx context.Context, hospitalID, patientID string, outcome Outcome, backfill bool) error
}

// RecordRepository persists assessment records
type RecordRepository interface {
	// SaveRecord stores the record. A locked patient outcome is copied onto it first.
	SaveRecord(ctx context.Context, hospitalID string, record *AssessmentRecord) (string, error)
	GetRecord(ctx context.Context, hospitalID, patientID, recordID string) (*AssessmentRecord, error)
	// ListRecords returns records ordered by created_at, falling back to storage time.
	ListRecords(ctx context.Context, hospitalID, patientID string) ([]*AssessmentRecord, error)
	SetDoctorNote(ctx context.Context, hospitalID, patientID, recordID string, note *DoctorNote) error
}

// Store is a complete persistence backend
type Store interface {
	PatientRepository
	RecordRepository
	Health(ctx context.Context) error
	Close() error
}

// Event is a domain notification emitted after a state change
type Event struct {
	Type       string                 `json:"type"`
	HospitalID string                 `json:"hospital_id"`
	PatientID  string                 `json:"patient_id"`
	RecordID   string                 `json:"record_id,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// Event types
const (
	EventAssessmentRecorded = "assessment.recorded"
	EventOutcomeLocked      = "outcome.locked"
	EventOutcomeRecorded    = "outcome.recorded"
)

// EventPublisher delivers domain events to downstream consumers
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
	Close()
}

// DeviceECGSource supplies the latest ECG captured by a bedside device for a hospital patient
type DeviceECGSource interface {
	LatestECG(hospitalID, patientID string, now time.Time) (*ECGReading, bool)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetDatabaseURL() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}

// TimelineCache holds computed patient timelines between writes
type TimelineCache interface {
	Get(ctx context.Context, hospitalID, patientID string) (*PatientTimeline, bool)
	// Generation changes on every Invalidate of the patient.
	Generation(hospitalID, patientID string) uint64
	// Set stores the timeline only if the generation is still current.
	Set(ctx context.Context, hospitalID, patientID string, generation uint64, timeline *PatientTimeline)
	Invalidate(ctx context.Context, hospitalID, patientID string)
}
