package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cardio-risk-server/internal/domain"
)

// SQLiteStore implements domain.Store on a single SQLite file.
// It backs the lite MCP server, which runs without PostgreSQL.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database file and its schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serializes transactions on the file and keeps the pragmas below in effect
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// NewSQLiteStoreWithDB wraps an already opened handle whose schema is managed elsewhere.
func NewSQLiteStoreWithDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS hospital_counters (
		hospital_id TEXT PRIMARY KEY,
		last_patient_id INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS patients (
		hospital_id TEXT NOT NULL,
		patient_id TEXT NOT NULL,
		name TEXT NOT NULL,
		age INTEGER NOT NULL,
		gender INTEGER NOT NULL,
		primary_mobile TEXT,
		primary_mobile_norm TEXT,
		patient_email TEXT,
		guardian_email TEXT,
		outcome TEXT NOT NULL,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		deleted_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (hospital_id, patient_id)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_patients_mobile_norm
		ON patients(hospital_id, primary_mobile_norm) WHERE primary_mobile_norm IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_patients_age ON patients(hospital_id, age) WHERE is_deleted = 0;

	CREATE TABLE IF NOT EXISTS assessment_records (
		id TEXT PRIMARY KEY,
		hospital_id TEXT NOT NULL,
		patient_id TEXT NOT NULL,
		document TEXT NOT NULL,
		created_at DATETIME,
		stored_at DATETIME NOT NULL,
		FOREIGN KEY (hospital_id, patient_id) REFERENCES patients(hospital_id, patient_id)
	);

	CREATE INDEX IF NOT EXISTS idx_records_patient ON assessment_records(hospital_id, patient_id);
	`

	_, err := db.Exec(schema)
	return err
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// CreatePatient allocates the next per-hospital id and inserts the patient atomically.
func (s *SQLiteStore) CreatePatient(ctx context.Context, patient *domain.Patient) (*domain.Patient, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing string
	err = tx.QueryRowContext(ctx,
		"SELECT patient_id FROM patients WHERE hospital_id = ? AND primary_mobile_norm = ?",
		patient.HospitalID, patient.PrimaryMobileNorm,
	).Scan(&existing)
	if err == nil {
		return nil, domain.ErrDuplicatePatient
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to check duplicate mobile: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO hospital_counters (hospital_id, last_patient_id) VALUES (?, 1)
		ON CONFLICT(hospital_id) DO UPDATE SET last_patient_id = last_patient_id + 1
		RETURNING last_patient_id`, patient.HospitalID).Scan(&seq)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate patient id: %w", err)
	}

	created := *patient
	created.ID = fmt.Sprintf(patientIDFormat, seq)
	if created.Outcome == nil {
		created.Outcome = &domain.Outcome{}
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now()
	}
	created.CreatedAt = created.CreatedAt.UTC()
	created.UpdatedAt = created.CreatedAt

	outcome, err := json.Marshal(created.Outcome)
	if err != nil {
		return nil, fmt.Errorf("failed to encode outcome: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO patients (
			patient_id, hospital_id, name, age, gender, primary_mobile, primary_mobile_norm,
			patient_email, guardian_email, outcome, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		created.ID, created.HospitalID, created.Name, created.Age, int(created.Gender),
		created.PrimaryMobile, created.PrimaryMobileNorm,
		nullString(created.PatientEmail), nullString(created.GuardianEmail),
		string(outcome), created.CreatedAt, created.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, domain.ErrDuplicatePatient
		}
		return nil, fmt.Errorf("failed to insert patient: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit patient: %w", err)
	}
	return &created, nil
}

// GetPatient retrieves a patient, deleted or not.
func (s *SQLiteStore) GetPatient(ctx context.Context, hospitalID, patientID string) (*domain.Patient, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+patientColumns+" FROM patients WHERE hospital_id = ? AND patient_id = ?",
		hospitalID, patientID)

	patient, err := scanSQLitePatient(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("patient not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return patient, nil
}

// ListPatients returns the hospital's patients, newest first.
func (s *SQLiteStore) ListPatients(ctx context.Context, hospitalID string, includeDeleted bool) ([]*domain.Patient, error) {
	query := "SELECT " + patientColumns + " FROM patients WHERE hospital_id = ?"
	if !includeDeleted {
		query += " AND is_deleted = 0"
	}
	query += " ORDER BY created_at DESC, patient_id DESC"

	rows, err := s.db.QueryContext(ctx, query, hospitalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	defer rows.Close()
	return collectSQLitePatients(rows)
}

// SearchPatientsByMobile returns patients registered with the normalized mobile.
func (s *SQLiteStore) SearchPatientsByMobile(ctx context.Context, hospitalID, mobileNorm string) ([]*domain.Patient, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+patientColumns+` FROM patients
		WHERE hospital_id = ? AND primary_mobile_norm = ?
		ORDER BY created_at DESC LIMIT ?`,
		hospitalID, mobileNorm, searchResultLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to search patients: %w", err)
	}
	defer rows.Close()
	return collectSQLitePatients(rows)
}

// FindPatientsByNameAge matches names in either direction, case-insensitively.
func (s *SQLiteStore) FindPatientsByNameAge(ctx context.Context, hospitalID, nameLower string, age, limit int) ([]*domain.Patient, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+patientColumns+` FROM patients
		WHERE hospital_id = ? AND age = ? AND is_deleted = 0 AND name <> ''
		  AND (instr(lower(name), ?) > 0 OR instr(?, lower(name)) > 0)
		ORDER BY patient_id LIMIT ?`,
		hospitalID, age, nameLower, nameLower, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find duplicate patients: %w", err)
	}
	defer rows.Close()
	return collectSQLitePatients(rows)
}

// UpdatePatient stores the editable profile fields.
func (s *SQLiteStore) UpdatePatient(ctx context.Context, patient *domain.Patient) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE patients SET
			name = ?, age = ?, gender = ?, primary_mobile = ?, primary_mobile_norm = ?,
			patient_email = ?, guardian_email = ?, updated_at = ?
		WHERE hospital_id = ? AND patient_id = ?`,
		patient.Name, patient.Age, int(patient.Gender),
		nullString(patient.PrimaryMobile), nullString(patient.PrimaryMobileNorm),
		nullString(patient.PatientEmail), nullString(patient.GuardianEmail),
		time.Now().UTC(), patient.HospitalID, patient.ID,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.ErrDuplicatePatient
		}
		return fmt.Errorf("failed to update patient: %w", err)
	}
	return requireAffected(result, "patient")
}

// DeletePatient marks the patient deleted and clears personal details.
func (s *SQLiteStore) DeletePatient(ctx context.Context, hospitalID, patientID string) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE patients SET
			is_deleted = 1, deleted_at = ?, updated_at = ?, name = ?,
			primary_mobile = NULL, primary_mobile_norm = NULL,
			patient_email = NULL, guardian_email = NULL
		WHERE hospital_id = ? AND patient_id = ?`,
		now, now, DeletedPatientName, hospitalID, patientID)
	if err != nil {
		return fmt.Errorf("failed to delete patient: %w", err)
	}
	return requireAffected(result, "patient")
}

// SetPatientOutcome stores the outcome and optionally copies it onto every record.
// A locked outcome (cardiac_arrest = 1) is never overwritten; ErrOutcomeLocked is returned instead.
func (s *SQLiteStore) SetPatientOutcome(ctx context.Context, hospitalID, patientID string, outcome domain.Outcome, backfill bool) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to encode outcome: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE patients SET outcome = ?, updated_at = ?
		WHERE hospital_id = ? AND patient_id = ?
		  AND COALESCE(json_extract(outcome, '$.cardiac_arrest'), 0) <> 1`,
		string(payload), time.Now().UTC(), hospitalID, patientID)
	if err != nil {
		return fmt.Errorf("failed to set outcome: %w", err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	} else if affected == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM patients WHERE hospital_id = ? AND patient_id = ?",
			hospitalID, patientID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check patient: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("patient not found: %w", domain.ErrNotFound)
		}
		return domain.ErrOutcomeLocked
	}

	if backfill {
		_, err = tx.ExecContext(ctx, `
			UPDATE assessment_records SET document = json_set(document, '$.outcome', json(?))
			WHERE hospital_id = ? AND patient_id = ?`,
			string(payload), hospitalID, patientID)
		if err != nil {
			return fmt.Errorf("failed to backfill outcomes: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit outcome: %w", err)
	}
	return nil
}

// SaveRecord inserts a record document and returns its id. The patient outcome
// is read in the same transaction; a locked outcome is copied onto the record.
func (s *SQLiteStore) SaveRecord(ctx context.Context, hospitalID string, record *domain.AssessmentRecord) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rawOutcome string
	err = tx.QueryRowContext(ctx,
		"SELECT outcome FROM patients WHERE hospital_id = ? AND patient_id = ?",
		hospitalID, record.PatientID).Scan(&rawOutcome)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("patient not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read patient outcome: %w", err)
	}
	current, err := decodeOutcome([]byte(rawOutcome))
	if err != nil {
		return "", err
	}
	if current != nil && current.CardiacArrest == 1 {
		record.Outcome = *current
	}

	document, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to encode record: %w", err)
	}

	var createdAt interface{}
	if record.CreatedAt != nil {
		createdAt = record.CreatedAt.UTC()
	}

	id := uuid.New().String()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO assessment_records (id, hospital_id, patient_id, document, created_at, stored_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, hospitalID, record.PatientID, string(document), createdAt, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to save record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit record: %w", err)
	}
	return id, nil
}

// GetRecord retrieves a single record of a patient.
func (s *SQLiteStore) GetRecord(ctx context.Context, hospitalID, patientID, recordID string) (*domain.AssessmentRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, patient_id, document, stored_at FROM assessment_records
		WHERE hospital_id = ? AND patient_id = ? AND id = ?`,
		hospitalID, patientID, recordID)

	record, err := scanSQLiteRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("record not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return record, nil
}

// ListRecords returns a patient's records in visit order.
func (s *SQLiteStore) ListRecords(ctx context.Context, hospitalID, patientID string) ([]*domain.AssessmentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, patient_id, document, stored_at FROM assessment_records
		WHERE hospital_id = ? AND patient_id = ?
		ORDER BY COALESCE(created_at, stored_at) ASC, stored_at ASC`,
		hospitalID, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records := []*domain.AssessmentRecord{}
	for rows.Next() {
		record, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// SetDoctorNote writes the note object of a record.
func (s *SQLiteStore) SetDoctorNote(ctx context.Context, hospitalID, patientID, recordID string, note *domain.DoctorNote) error {
	payload, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("failed to encode note: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE assessment_records SET document = json_set(document, '$.doctor_notes', json(?))
		WHERE hospital_id = ? AND patient_id = ? AND id = ?`,
		string(payload), hospitalID, patientID, recordID)
	if err != nil {
		return fmt.Errorf("failed to set doctor note: %w", err)
	}
	return requireAffected(result, "record")
}

// Health pings the database.
func (s *SQLiteStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func requireAffected(result sql.Result, entity string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s not found: %w", entity, domain.ErrNotFound)
	}
	return nil
}

func collectSQLitePatients(rows *sql.Rows) ([]*domain.Patient, error) {
	patients := []*domain.Patient{}
	for rows.Next() {
		patient, err := scanSQLitePatient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan patient: %w", err)
		}
		patients = append(patients, patient)
	}
	return patients, rows.Err()
}

func scanSQLitePatient(sc scanner) (*domain.Patient, error) {
	var p domain.Patient
	var gender int
	var mobile, mobileNorm, email, guardian sql.NullString
	var outcome string

	err := sc.Scan(
		&p.ID, &p.HospitalID, &p.Name, &p.Age, &gender,
		&mobile, &mobileNorm, &email, &guardian,
		&outcome, &p.IsDeleted, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Gender = domain.Gender(gender)
	p.PrimaryMobile = mobile.String
	p.PrimaryMobileNorm = mobileNorm.String
	p.PatientEmail = email.String
	p.GuardianEmail = guardian.String
	p.Outcome, err = decodeOutcome([]byte(outcome))
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanSQLiteRecord(sc scanner) (*domain.AssessmentRecord, error) {
	var id, patientID, document string
	var storedAt time.Time
	if err := sc.Scan(&id, &patientID, &document, &storedAt); err != nil {
		return nil, err
	}
	return decodeRecord(id, patientID, []byte(document), storedAt)
}
