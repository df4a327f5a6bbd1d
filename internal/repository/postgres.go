package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/cardio-risk-server/internal/domain"
)

const (
	// DeletedPatientName replaces the name of a soft-deleted patient.
	DeletedPatientName = "DELETED_PATIENT"

	patientIDFormat   = "%012d"
	uniqueViolation   = "23505"
	searchResultLimit = 50
)

const patientColumns = `
	patient_id, hospital_id, name, age, gender, primary_mobile, primary_mobile_norm,
	patient_email, guardian_email, outcome, is_deleted, created_at, updated_at`

// PostgresStore persists patients and assessment records in PostgreSQL
type PostgresStore struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPostgresStore creates a new PostgreSQL-backed store
func NewPostgresStore(db *pgxpool.Pool, logger *logrus.Logger) *PostgresStore {
	return &PostgresStore{
		db:  db,
		log: logger,
	}
}

// CreatePatient allocates the next per-hospital id and inserts the patient atomically
func (r *PostgresStore) CreatePatient(ctx context.Context, patient *domain.Patient) (*domain.Patient, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM patients WHERE hospital_id = $1 AND primary_mobile_norm = $2)`,
		patient.HospitalID, patient.PrimaryMobileNorm,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("checking duplicate mobile: %w", err)
	}
	if exists {
		return nil, domain.ErrDuplicatePatient
	}

	var seq int64
	err = tx.QueryRow(ctx, `
		INSERT INTO hospital_counters (hospital_id, last_patient_id) VALUES ($1, 1)
		ON CONFLICT (hospital_id) DO UPDATE SET last_patient_id = hospital_counters.last_patient_id + 1
		RETURNING last_patient_id`, patient.HospitalID).Scan(&seq)
	if err != nil {
		return nil, fmt.Errorf("allocating patient id: %w", err)
	}

	created := *patient
	created.ID = fmt.Sprintf(patientIDFormat, seq)
	if created.Outcome == nil {
		created.Outcome = &domain.Outcome{}
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}
	created.UpdatedAt = created.CreatedAt

	outcome, err := json.Marshal(created.Outcome)
	if err != nil {
		return nil, fmt.Errorf("encoding outcome: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO patients (
			patient_id, hospital_id, name, age, gender, primary_mobile, primary_mobile_norm,
			patient_email, guardian_email, outcome, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11, $12)`,
		created.ID, created.HospitalID, created.Name, created.Age, int(created.Gender),
		created.PrimaryMobile, created.PrimaryMobileNorm,
		nullString(created.PatientEmail), nullString(created.GuardianEmail),
		string(outcome), created.CreatedAt, created.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, domain.ErrDuplicatePatient
		}
		r.log.WithFields(logrus.Fields{
			"hospital_id": created.HospitalID,
			"error":       err,
		}).Error("Failed to create patient")
		return nil, fmt.Errorf("creating patient: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing patient: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"hospital_id": created.HospitalID,
		"patient_id":  created.ID,
	}).Info("Patient registered")

	return &created, nil
}

// GetPatient retrieves a patient, deleted or not
func (r *PostgresStore) GetPatient(ctx context.Context, hospitalID, patientID string) (*domain.Patient, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+patientColumns+` FROM patients WHERE hospital_id = $1 AND patient_id = $2`,
		hospitalID, patientID)

	patient, err := scanPatient(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("patient not found: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting patient: %w", err)
	}
	return patient, nil
}

// ListPatients returns the hospital's patients, newest first
func (r *PostgresStore) ListPatients(ctx context.Context, hospitalID string, includeDeleted bool) ([]*domain.Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE hospital_id = $1`
	if !includeDeleted {
		query += ` AND is_deleted = FALSE`
	}
	query += ` ORDER BY created_at DESC, patient_id DESC`

	rows, err := r.db.Query(ctx, query, hospitalID)
	if err != nil {
		return nil, fmt.Errorf("listing patients: %w", err)
	}
	defer rows.Close()
	return collectPatients(rows)
}

// SearchPatientsByMobile returns patients registered with the normalized mobile
func (r *PostgresStore) SearchPatientsByMobile(ctx context.Context, hospitalID, mobileNorm string) ([]*domain.Patient, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+patientColumns+` FROM patients
		WHERE hospital_id = $1 AND primary_mobile_norm = $2
		ORDER BY created_at DESC
		LIMIT $3`, hospitalID, mobileNorm, searchResultLimit)
	if err != nil {
		return nil, fmt.Errorf("searching patients: %w", err)
	}
	defer rows.Close()
	return collectPatients(rows)
}

// FindPatientsByNameAge matches names in either direction, case-insensitively
func (r *PostgresStore) FindPatientsByNameAge(ctx context.Context, hospitalID, nameLower string, age, limit int) ([]*domain.Patient, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+patientColumns+` FROM patients
		WHERE hospital_id = $1 AND age = $2 AND NOT is_deleted AND name <> ''
		  AND (strpos(lower(name), $3) > 0 OR strpos($3, lower(name)) > 0)
		ORDER BY patient_id
		LIMIT $4`, hospitalID, age, nameLower, limit)
	if err != nil {
		return nil, fmt.Errorf("finding duplicate patients: %w", err)
	}
	defer rows.Close()
	return collectPatients(rows)
}

// UpdatePatient stores the editable profile fields
func (r *PostgresStore) UpdatePatient(ctx context.Context, patient *domain.Patient) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE patients SET
			name = $3, age = $4, gender = $5,
			primary_mobile = $6, primary_mobile_norm = $7,
			patient_email = $8, guardian_email = $9, updated_at = NOW()
		WHERE hospital_id = $1 AND patient_id = $2`,
		patient.HospitalID, patient.ID, patient.Name, patient.Age, int(patient.Gender),
		nullString(patient.PrimaryMobile), nullString(patient.PrimaryMobileNorm),
		nullString(patient.PatientEmail), nullString(patient.GuardianEmail),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicatePatient
		}
		return fmt.Errorf("updating patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("patient not found: %w", domain.ErrNotFound)
	}
	return nil
}

// DeletePatient marks the patient deleted and clears personal details
func (r *PostgresStore) DeletePatient(ctx context.Context, hospitalID, patientID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE patients SET
			is_deleted = TRUE, deleted_at = NOW(), updated_at = NOW(), name = $3,
			primary_mobile = NULL, primary_mobile_norm = NULL,
			patient_email = NULL, guardian_email = NULL
		WHERE hospital_id = $1 AND patient_id = $2`,
		hospitalID, patientID, DeletedPatientName)
	if err != nil {
		return fmt.Errorf("deleting patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("patient not found: %w", domain.ErrNotFound)
	}

	r.log.WithFields(logrus.Fields{
		"hospital_id": hospitalID,
		"patient_id":  patientID,
	}).Info("Patient soft-deleted")
	return nil
}

// SetPatientOutcome stores the outcome and optionally copies it onto every record.
// A locked outcome (cardiac_arrest = 1) is never overwritten: the guarded UPDATE
// re-checks the row after waiting on a concurrent writer and ErrOutcomeLocked is returned.
func (r *PostgresStore) SetPatientOutcome(ctx context.Context, hospitalID, patientID string, outcome domain.Outcome, backfill bool) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encoding outcome: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE patients SET outcome = $3::jsonb, updated_at = NOW()
		WHERE hospital_id = $1 AND patient_id = $2
		  AND COALESCE(outcome->>'cardiac_arrest', '0') <> '1'`,
		hospitalID, patientID, string(payload))
	if err != nil {
		return fmt.Errorf("setting patient outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM patients WHERE hospital_id = $1 AND patient_id = $2)`,
			hospitalID, patientID).Scan(&exists); err != nil {
			return fmt.Errorf("checking patient: %w", err)
		}
		if !exists {
			return fmt.Errorf("patient not found: %w", domain.ErrNotFound)
		}
		return domain.ErrOutcomeLocked
	}

	if backfill {
		tag, err = tx.Exec(ctx, `
			UPDATE assessment_records SET document = jsonb_set(document, '{outcome}', $3::jsonb)
			WHERE hospital_id = $1 AND patient_id = $2`,
			hospitalID, patientID, string(payload))
		if err != nil {
			r.log.WithFields(logrus.Fields{
				"hospital_id": hospitalID,
				"patient_id":  patientID,
				"error":       err,
			}).Error("Failed to backfill record outcomes")
			return fmt.Errorf("backfilling record outcomes: %w", err)
		}
		r.log.WithFields(logrus.Fields{
			"hospital_id": hospitalID,
			"patient_id":  patientID,
			"records":     tag.RowsAffected(),
		}).Info("Outcome backfilled to records")
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing outcome: %w", err)
	}
	return nil
}

// SaveRecord inserts a record document and returns its id. The patient row is
// locked for the insert so a concurrent outcome lock either waits for the record
// and backfills it, or commits first and the record inherits the locked outcome.
func (r *PostgresStore) SaveRecord(ctx context.Context, hospitalID string, record *domain.AssessmentRecord) (string, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var rawOutcome []byte
	err = tx.QueryRow(ctx, `
		SELECT outcome FROM patients
		WHERE hospital_id = $1 AND patient_id = $2
		FOR UPDATE`,
		hospitalID, record.PatientID).Scan(&rawOutcome)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("patient not found: %w", domain.ErrNotFound)
		}
		return "", fmt.Errorf("locking patient: %w", err)
	}
	current, err := decodeOutcome(rawOutcome)
	if err != nil {
		return "", err
	}
	if current != nil && current.CardiacArrest == 1 {
		record.Outcome = *current
	}

	document, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("encoding record: %w", err)
	}

	id := uuid.New().String()
	_, err = tx.Exec(ctx, `
		INSERT INTO assessment_records (id, hospital_id, patient_id, document, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5)`,
		id, hospitalID, record.PatientID, string(document), record.CreatedAt)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"hospital_id": hospitalID,
			"patient_id":  record.PatientID,
			"error":       err,
		}).Error("Failed to save assessment record")
		return "", fmt.Errorf("saving record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("committing record: %w", err)
	}
	return id, nil
}

// GetRecord retrieves a single record of a patient
func (r *PostgresStore) GetRecord(ctx context.Context, hospitalID, patientID, recordID string) (*domain.AssessmentRecord, error) {
	if _, err := uuid.Parse(recordID); err != nil {
		return nil, fmt.Errorf("record not found: %w", domain.ErrNotFound)
	}

	row := r.db.QueryRow(ctx, `
		SELECT id, patient_id, document, stored_at FROM assessment_records
		WHERE hospital_id = $1 AND patient_id = $2 AND id = $3`,
		hospitalID, patientID, recordID)

	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("record not found: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting record: %w", err)
	}
	return record, nil
}

// ListRecords returns a patient's records in visit order
func (r *PostgresStore) ListRecords(ctx context.Context, hospitalID, patientID string) ([]*domain.AssessmentRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, patient_id, document, stored_at FROM assessment_records
		WHERE hospital_id = $1 AND patient_id = $2
		ORDER BY COALESCE(created_at, stored_at) ASC, stored_at ASC`,
		hospitalID, patientID)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	records := []*domain.AssessmentRecord{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// SetDoctorNote writes the note object of a record
func (r *PostgresStore) SetDoctorNote(ctx context.Context, hospitalID, patientID, recordID string, note *domain.DoctorNote) error {
	if _, err := uuid.Parse(recordID); err != nil {
		return fmt.Errorf("record not found: %w", domain.ErrNotFound)
	}
	payload, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("encoding note: %w", err)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE assessment_records SET document = jsonb_set(document, '{doctor_notes}', $4::jsonb)
		WHERE hospital_id = $1 AND patient_id = $2 AND id = $3`,
		hospitalID, patientID, recordID, string(payload))
	if err != nil {
		return fmt.Errorf("setting doctor note: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record not found: %w", domain.ErrNotFound)
	}
	return nil
}

// Health pings the pool
func (r *PostgresStore) Health(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// Close is a no-op; the pool is owned by database.DB
func (r *PostgresStore) Close() error {
	return nil
}

func collectPatients(rows pgx.Rows) ([]*domain.Patient, error) {
	patients := []*domain.Patient{}
	for rows.Next() {
		patient, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning patient: %w", err)
		}
		patients = append(patients, patient)
	}
	return patients, rows.Err()
}

func scanPatient(row pgx.Row) (*domain.Patient, error) {
	var p domain.Patient
	var gender int
	var mobile, mobileNorm, email, guardian *string
	var outcome []byte
	err := row.Scan(
		&p.ID, &p.HospitalID, &p.Name, &p.Age, &gender,
		&mobile, &mobileNorm, &email, &guardian,
		&outcome, &p.IsDeleted, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Gender = domain.Gender(gender)
	p.PrimaryMobile = deref(mobile)
	p.PrimaryMobileNorm = deref(mobileNorm)
	p.PatientEmail = deref(email)
	p.GuardianEmail = deref(guardian)
	p.Outcome, err = decodeOutcome(outcome)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanRecord(row pgx.Row) (*domain.AssessmentRecord, error) {
	var (
		id, patientID string
		document      []byte
		storedAt      time.Time
	)
	if err := row.Scan(&id, &patientID, &document, &storedAt); err != nil {
		return nil, err
	}
	return decodeRecord(id, patientID, document, storedAt)
}

func decodeRecord(id, patientID string, document []byte, storedAt time.Time) (*domain.AssessmentRecord, error) {
	var record domain.AssessmentRecord
	if err := json.Unmarshal(document, &record); err != nil {
		return nil, fmt.Errorf("decoding record %s: %w", id, err)
	}
	record.ID = id
	record.PatientID = patientID
	record.StoredAt = storedAt
	return &record, nil
}

func decodeOutcome(raw []byte) (*domain.Outcome, error) {
	outcome := &domain.Outcome{}
	if len(raw) == 0 {
		return outcome, nil
	}
	if err := json.Unmarshal(raw, outcome); err != nil {
		return nil, fmt.Errorf("decoding outcome: %w", err)
	}
	return outcome, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
