package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardio-risk-server/internal/domain"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "data", "cardio.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	return store
}

func TestNewSQLiteStore(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "cardio-store-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "nested", "cardio.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "Database file should exist")
}

func TestSQLiteStore_PatientLifecycle(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	first, err := store.CreatePatient(ctx, newTestPatient("hosp-a", "9876543210"))
	require.NoError(t, err)
	assert.Equal(t, "000000000001", first.ID)
	require.NotNil(t, first.Outcome)

	second, err := store.CreatePatient(ctx, newTestPatient("hosp-a", "9123456780"))
	require.NoError(t, err)
	assert.Equal(t, "000000000002", second.ID)

	other, err := store.CreatePatient(ctx, newTestPatient("hosp-b", "9876543210"))
	require.NoError(t, err)
	assert.Equal(t, "000000000001", other.ID)

	_, err = store.CreatePatient(ctx, newTestPatient("hosp-a", "9876543210"))
	assert.True(t, errors.Is(err, domain.ErrDuplicatePatient))

	got, err := store.GetPatient(ctx, "hosp-a", first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ravi Kumar", got.Name)
	assert.Equal(t, domain.GenderMale, got.Gender)
	assert.Equal(t, "ravi@example.com", got.PatientEmail)
	assert.Empty(t, got.GuardianEmail)
	assert.True(t, first.CreatedAt.Equal(got.CreatedAt))

	found, err := store.SearchPatientsByMobile(ctx, "hosp-a", "9123456780")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, second.ID, found[0].ID)

	got.GuardianEmail = "family@example.com"
	require.NoError(t, store.UpdatePatient(ctx, got))
	got, err = store.GetPatient(ctx, "hosp-a", first.ID)
	require.NoError(t, err)
	assert.Equal(t, "family@example.com", got.GuardianEmail)

	require.NoError(t, store.DeletePatient(ctx, "hosp-a", second.ID))
	deleted, err := store.GetPatient(ctx, "hosp-a", second.ID)
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)
	assert.Equal(t, DeletedPatientName, deleted.Name)
	assert.Empty(t, deleted.PrimaryMobileNorm)

	active, err := store.ListPatients(ctx, "hosp-a", false)
	require.NoError(t, err)
	assert.Len(t, active, 1)
	all, err := store.ListPatients(ctx, "hosp-a", true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	err = store.DeletePatient(ctx, "hosp-a", "000000000042")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestSQLiteStore_RecordsAndBackfill(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	patient, err := store.CreatePatient(ctx, newTestPatient("hosp-a", "9876543210"))
	require.NoError(t, err)

	base := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	laterID, err := store.SaveRecord(ctx, "hosp-a", newTestRecord(patient.ID, base.Add(24*time.Hour), 0.4))
	require.NoError(t, err)
	earlierID, err := store.SaveRecord(ctx, "hosp-a", newTestRecord(patient.ID, base, 0.25))
	require.NoError(t, err)

	records, err := store.ListRecords(ctx, "hosp-a", patient.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, earlierID, records[0].ID)
	assert.Equal(t, laterID, records[1].ID)
	assert.Equal(t, patient.ID, records[0].PatientID)
	assert.False(t, records[0].StoredAt.IsZero())

	note := &domain.DoctorNote{Text: "Repeat lipid panel", CreatedAt: base, LockedAt: base.Add(15 * time.Minute)}
	require.NoError(t, store.SetDoctorNote(ctx, "hosp-a", patient.ID, laterID, note))

	confirmedBy := "Dr. Menon"
	outcome := domain.Outcome{CardiacArrest: 1, ConfirmedBy: &confirmedBy, ConfirmedAt: &base}
	require.NoError(t, store.SetPatientOutcome(ctx, "hosp-a", patient.ID, outcome, true))

	records, err = store.ListRecords(ctx, "hosp-a", patient.ID)
	require.NoError(t, err)
	for _, rec := range records {
		assert.Equal(t, 1, rec.Outcome.CardiacArrest)
		require.NotNil(t, rec.Outcome.ConfirmedBy)
		assert.Equal(t, "Dr. Menon", *rec.Outcome.ConfirmedBy)
	}
	require.NotNil(t, records[1].DoctorNotes)
	assert.Equal(t, "Repeat lipid panel", records[1].DoctorNotes.Text)

	err = store.SetDoctorNote(ctx, "hosp-a", patient.ID, "missing", note)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = store.GetRecord(ctx, "hosp-a", "000000000077", earlierID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestSQLiteStore_OutcomeWithoutBackfill(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	patient, err := store.CreatePatient(ctx, newTestPatient("hosp-a", "9876543210"))
	require.NoError(t, err)
	recID, err := store.SaveRecord(ctx, "hosp-a", newTestRecord(patient.ID, time.Now(), 0.1))
	require.NoError(t, err)

	require.NoError(t, store.SetPatientOutcome(ctx, "hosp-a", patient.ID, domain.Outcome{}, false))

	rec, err := store.GetRecord(ctx, "hosp-a", patient.ID, recID)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Outcome.CardiacArrest)
	assert.Nil(t, rec.Outcome.ConfirmedBy)
}

func TestSQLiteStore_LockedOutcomeIsFinal(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	patient, err := store.CreatePatient(ctx, newTestPatient("hosp-a", "9876543210"))
	require.NoError(t, err)

	confirmedBy := "Dr. Menon"
	locked := domain.Outcome{CardiacArrest: 1, ConfirmedBy: &confirmedBy}
	require.NoError(t, store.SetPatientOutcome(ctx, "hosp-a", patient.ID, locked, true))

	err = store.SetPatientOutcome(ctx, "hosp-a", patient.ID, domain.Outcome{}, false)
	assert.True(t, errors.Is(err, domain.ErrOutcomeLocked))
	err = store.SetPatientOutcome(ctx, "hosp-a", patient.ID, domain.Outcome{CardiacArrest: 1}, true)
	assert.True(t, errors.Is(err, domain.ErrOutcomeLocked))
	err = store.SetPatientOutcome(ctx, "hosp-a", "000000000404", domain.Outcome{}, false)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	got, err := store.GetPatient(ctx, "hosp-a", patient.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Outcome.CardiacArrest)
	assert.Equal(t, "Dr. Menon", *got.Outcome.ConfirmedBy)

	// a record saved after the lock carries it even when the visit said otherwise
	rec := newTestRecord(patient.ID, time.Now(), 0.2)
	rec.Outcome = domain.Outcome{CardiacArrest: 0}
	recID, err := store.SaveRecord(ctx, "hosp-a", rec)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Outcome.CardiacArrest)
	stored, err := store.GetRecord(ctx, "hosp-a", patient.ID, recID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Outcome.CardiacArrest)
	assert.Equal(t, "Dr. Menon", *stored.Outcome.ConfirmedBy)

	_, err = store.SaveRecord(ctx, "hosp-a", newTestRecord("000000000404", time.Now(), 0.1))
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestSQLiteStore_ConcurrentOutcomeWriters(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	patient, err := store.CreatePatient(ctx, newTestPatient("hosp-a", "9876543210"))
	require.NoError(t, err)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		locks  int
		others []error
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome := domain.Outcome{CardiacArrest: i % 2}
			err := store.SetPatientOutcome(ctx, "hosp-a", patient.ID, outcome, outcome.CardiacArrest == 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && outcome.CardiacArrest == 1:
				locks++
			case err != nil && !errors.Is(err, domain.ErrOutcomeLocked):
				others = append(others, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, others)
	assert.Equal(t, 1, locks)
	got, err := store.GetPatient(ctx, "hosp-a", patient.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Outcome.CardiacArrest)
}

func TestSQLiteStore_SaveRecordUnknownPatientMock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT outcome FROM patients").
		WithArgs("hosp-a", "000000000001").
		WillReturnRows(sqlmock.NewRows([]string{"outcome"}))
	mock.ExpectRollback()

	store := NewSQLiteStoreWithDB(db)
	_, err = store.SaveRecord(context.Background(), "hosp-a", newTestRecord("000000000001", time.Now(), 0.1))
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_FindPatientsByNameAge(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	create := func(hospitalID, name string, age int, mobile string) *domain.Patient {
		p := newTestPatient(hospitalID, mobile)
		p.Name, p.Age = name, age
		created, err := store.CreatePatient(ctx, p)
		require.NoError(t, err)
		return created
	}
	first := create("hosp-a", "Ravi Kumar", 52, "9000000001")
	create("hosp-a", "RAVI KUMAR REDDY", 52, "9000000002")
	create("hosp-a", "Ravi", 52, "9000000003")
	create("hosp-a", "Ravi Kumar", 53, "9000000004")
	create("hosp-b", "Ravi Kumar", 52, "9000000005")
	gone := create("hosp-a", "Ravi Kumar", 52, "9000000006")
	require.NoError(t, store.DeletePatient(ctx, "hosp-a", gone.ID))

	found, err := store.FindPatientsByNameAge(ctx, "hosp-a", "ravi kumar", 52, 10)
	require.NoError(t, err)
	require.Len(t, found, 3)
	assert.Equal(t, first.ID, found[0].ID)
	for _, p := range found {
		assert.Equal(t, "hosp-a", p.HospitalID)
		assert.False(t, p.IsDeleted)
	}

	found, err = store.FindPatientsByNameAge(ctx, "hosp-a", "ravi kumar", 52, 2)
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = store.FindPatientsByNameAge(ctx, "hosp-a", "suresh", 52, 10)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cardio.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	patient, err := store.CreatePatient(context.Background(), newTestPatient("hosp-a", "9876543210"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetPatient(context.Background(), "hosp-a", patient.ID)
	require.NoError(t, err)
	assert.Equal(t, patient.Name, got.Name)

	next, err := reopened.CreatePatient(context.Background(), newTestPatient("hosp-a", "9000000001"))
	require.NoError(t, err)
	assert.Equal(t, "000000000002", next.ID)
}

func TestSQLiteStore_GetPatientNotFoundMock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM patients WHERE hospital_id").
		WithArgs("hosp-a", "000000000001").
		WillReturnRows(sqlmock.NewRows([]string{"patient_id"}))

	store := NewSQLiteStoreWithDB(db)
	_, err = store.GetPatient(context.Background(), "hosp-a", "000000000001")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_DuplicateMobileRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT patient_id FROM patients").
		WithArgs("hosp-a", "9876543210").
		WillReturnRows(sqlmock.NewRows([]string{"patient_id"}).AddRow("000000000001"))
	mock.ExpectRollback()

	store := NewSQLiteStoreWithDB(db)
	_, err = store.CreatePatient(context.Background(), newTestPatient("hosp-a", "9876543210"))
	assert.True(t, errors.Is(err, domain.ErrDuplicatePatient))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_BackfillFailureRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE patients SET outcome").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE assessment_records SET document").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	store := NewSQLiteStoreWithDB(db)
	err = store.SetPatientOutcome(context.Background(), "hosp-a", "000000000001", domain.Outcome{CardiacArrest: 1}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to backfill outcomes")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_GetRecordDecodesDocumentMock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	stored := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	document := `{"created_at":null,"probability":0.42,"risk_level":"Medium","outcome":{"cardiac_arrest":0,"confirmed_by":null,"confirmed_at":null}}`
	mock.ExpectQuery("SELECT id, patient_id, document, stored_at FROM assessment_records").
		WillReturnRows(sqlmock.NewRows([]string{"id", "patient_id", "document", "stored_at"}).
			AddRow("rec-1", "000000000001", document, stored))

	store := NewSQLiteStoreWithDB(db)
	rec, err := store.GetRecord(context.Background(), "hosp-a", "000000000001", "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "rec-1", rec.ID)
	assert.Nil(t, rec.CreatedAt)
	assert.Equal(t, stored, rec.OrderingTime())
	require.NotNil(t, rec.LegacyProbability)
	assert.Equal(t, 0.42, *rec.LegacyProbability)
	assert.NoError(t, mock.ExpectationsWereMet())
}
