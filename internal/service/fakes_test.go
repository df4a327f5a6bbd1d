package service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"

	"github.com/cardio-risk-server/internal/domain"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

// linearModel is a transparent stand-in for the fitted classifier.
type linearModel struct {
	importances []float64
}

func (m *linearModel) Probability(vec domain.FeatureVector) (float64, error) {
	p := 0.10 +
		0.20*vec[domain.FeatSmoke] +
		0.004*(vec[domain.FeatSystolic]-120) +
		0.05*vec[domain.FeatChestPain] +
		0.002*(vec[domain.FeatAge]-40)
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return p, nil
}

func (m *linearModel) FeatureImportances() []float64 {
	if m.importances != nil {
		return m.importances
	}
	imp := make([]float64, domain.FeatureCount)
	imp[domain.FeatSystolic] = 0.30
	imp[domain.FeatAge] = 0.20
	imp[domain.FeatBMI] = 0.15
	imp[domain.FeatCholesterol] = 0.10
	imp[domain.FeatSmoke] = 0.08
	imp[domain.FeatChestPain] = 0.05
	return imp
}

// inverseModel rewards risk factors being present, so every scenario would
// raise the probability without the clamp.
type inverseModel struct{}

func (inverseModel) Probability(vec domain.FeatureVector) (float64, error) {
	p := 0.9 - 0.3*vec[domain.FeatSmoke] - 0.1*vec[domain.FeatChestPain]/3
	if vec[domain.FeatSystolic] > 130 {
		p -= 0.1
	}
	return p, nil
}

func (inverseModel) FeatureImportances() []float64 { return make([]float64, domain.FeatureCount) }

type failingModel struct{}

func (failingModel) Probability(domain.FeatureVector) (float64, error) {
	return 0, domain.ErrModelUnavailable
}

func (failingModel) FeatureImportances() []float64 { return nil }

// memoryStore is an in-memory domain.Store.
type memoryStore struct {
	mu       sync.Mutex
	patients map[string]*domain.Patient
	records  map[string][]*domain.AssessmentRecord
	counter  map[string]int
	nextRec  int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		patients: make(map[string]*domain.Patient),
		records:  make(map[string][]*domain.AssessmentRecord),
		counter:  make(map[string]int),
	}
}

func key(hospitalID, patientID string) string { return hospitalID + "/" + patientID }

func (s *memoryStore) CreatePatient(_ context.Context, p *domain.Patient) (*domain.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.patients {
		if existing.HospitalID == p.HospitalID && existing.PrimaryMobileNorm == p.PrimaryMobileNorm && !existing.IsDeleted {
			return nil, domain.ErrDuplicatePatient
		}
	}
	s.counter[p.HospitalID]++
	cp := *p
	cp.ID = fmt.Sprintf("%012d", s.counter[p.HospitalID])
	s.patients[key(p.HospitalID, cp.ID)] = &cp
	out := cp
	return &out, nil
}

func (s *memoryStore) GetPatient(_ context.Context, hospitalID, patientID string) (*domain.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[key(hospitalID, patientID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memoryStore) ListPatients(_ context.Context, hospitalID string, includeDeleted bool) ([]*domain.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Patient
	for _, p := range s.patients {
		if p.HospitalID != hospitalID || (p.IsDeleted && !includeDeleted) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *memoryStore) SearchPatientsByMobile(ctx context.Context, hospitalID, mobileNorm string) ([]*domain.Patient, error) {
	all, _ := s.ListPatients(ctx, hospitalID, true)
	out := []*domain.Patient{}
	for _, p := range all {
		if p.PrimaryMobileNorm == mobileNorm {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memoryStore) FindPatientsByNameAge(ctx context.Context, hospitalID, nameLower string, age, limit int) ([]*domain.Patient, error) {
	all, _ := s.ListPatients(ctx, hospitalID, false)
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	out := []*domain.Patient{}
	for _, p := range all {
		existing := strings.ToLower(p.Name)
		if p.Age != age || existing == "" {
			continue
		}
		if strings.Contains(existing, nameLower) || strings.Contains(nameLower, existing) {
			out = append(out, p)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memoryStore) UpdatePatient(_ context.Context, p *domain.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patients[key(p.HospitalID, p.ID)]; !ok {
		return domain.ErrNotFound
	}
	cp := *p
	s.patients[key(p.HospitalID, p.ID)] = &cp
	return nil
}

func (s *memoryStore) DeletePatient(_ context.Context, hospitalID, patientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[key(hospitalID, patientID)]
	if !ok {
		return domain.ErrNotFound
	}
	p.IsDeleted = true
	p.Name = "DELETED_PATIENT"
	p.PrimaryMobile, p.PrimaryMobileNorm, p.PatientEmail, p.GuardianEmail = "", "", "", ""
	return nil
}

func (s *memoryStore) SetPatientOutcome(_ context.Context, hospitalID, patientID string, outcome domain.Outcome, backfill bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[key(hospitalID, patientID)]
	if !ok {
		return domain.ErrNotFound
	}
	if p.OutcomeLocked() {
		return domain.ErrOutcomeLocked
	}
	o := outcome
	p.Outcome = &o
	if backfill {
		for _, rec := range s.records[key(hospitalID, patientID)] {
			rec.Outcome = outcome
		}
	}
	return nil
}

func (s *memoryStore) SaveRecord(_ context.Context, hospitalID string, rec *domain.AssessmentRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[key(hospitalID, rec.PatientID)]
	if !ok {
		return "", domain.ErrNotFound
	}
	if p.OutcomeLocked() {
		rec.Outcome = *p.Outcome
	}
	s.nextRec++
	cp := *rec
	cp.ID = fmt.Sprintf("rec-%d", s.nextRec)
	cp.StoredAt = time.Now()
	k := key(hospitalID, rec.PatientID)
	s.records[k] = append(s.records[k], &cp)
	return cp.ID, nil
}

func (s *memoryStore) GetRecord(_ context.Context, hospitalID, patientID, recordID string) (*domain.AssessmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records[key(hospitalID, patientID)] {
		if rec.ID == recordID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memoryStore) ListRecords(_ context.Context, hospitalID, patientID string) ([]*domain.AssessmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.AssessmentRecord
	for _, rec := range s.records[key(hospitalID, patientID)] {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memoryStore) SetDoctorNote(_ context.Context, hospitalID, patientID, recordID string, note *domain.DoctorNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records[key(hospitalID, patientID)] {
		if rec.ID == recordID {
			n := *note
			rec.DoctorNotes = &n
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *memoryStore) Health(context.Context) error { return nil }

func (s *memoryStore) Close() error { return nil }

// interleavingStore runs a concurrent write once, right after the service has
// read from the store and before it acts on what it read.
type interleavingStore struct {
	domain.Store
	patientOnce      sync.Once
	afterGetPatient  func()
	recordsOnce      sync.Once
	afterListRecords func()
}

func (s *interleavingStore) GetPatient(ctx context.Context, hospitalID, patientID string) (*domain.Patient, error) {
	p, err := s.Store.GetPatient(ctx, hospitalID, patientID)
	if err == nil && s.afterGetPatient != nil {
		s.patientOnce.Do(s.afterGetPatient)
	}
	return p, err
}

func (s *interleavingStore) ListRecords(ctx context.Context, hospitalID, patientID string) ([]*domain.AssessmentRecord, error) {
	records, err := s.Store.ListRecords(ctx, hospitalID, patientID)
	if err == nil && s.afterListRecords != nil {
		s.recordsOnce.Do(s.afterListRecords)
	}
	return records, err
}

// MockEventPublisher is a testify mock of domain.EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, event domain.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockEventPublisher) Close() {}

// recordingCache counts invalidations
type recordingCache struct {
	mu          sync.Mutex
	entries     map[string]*domain.PatientTimeline
	generations map[string]uint64
	invalidated int
}

func newRecordingCache() *recordingCache {
	return &recordingCache{
		entries:     make(map[string]*domain.PatientTimeline),
		generations: make(map[string]uint64),
	}
}

func (c *recordingCache) Generation(hospitalID, patientID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[key(hospitalID, patientID)]
}

func (c *recordingCache) Get(_ context.Context, hospitalID, patientID string) (*domain.PatientTimeline, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tl, ok := c.entries[key(hospitalID, patientID)]
	return tl, ok
}

func (c *recordingCache) Set(_ context.Context, hospitalID, patientID string, generation uint64, tl *domain.PatientTimeline) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[key(hospitalID, patientID)] != generation {
		return
	}
	c.entries[key(hospitalID, patientID)] = tl
}

func (c *recordingCache) Invalidate(_ context.Context, hospitalID, patientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key(hospitalID, patientID))
	c.generations[key(hospitalID, patientID)]++
	c.invalidated++
}

// staticDevice holds one reading for one hospital patient
type staticDevice struct {
	hospitalID string
	patientID  string
	reading    *domain.ECGReading
}

func (d staticDevice) LatestECG(hospitalID, patientID string, _ time.Time) (*domain.ECGReading, bool) {
	if hospitalID != d.hospitalID || patientID != d.patientID || d.reading == nil {
		return nil, false
	}
	return d.reading, true
}

func validRaw() map[string]interface{} {
	return map[string]interface{}{
		"age":          45,
		"gender":       1,
		"height":       170,
		"weight":       80,
		"ap_hi":        120,
		"ap_lo":        80,
		"cholesterol":  1,
		"gluc":         1,
		"smoke":        0,
		"alco":         0,
		"active":       1,
		"chest_pain":   "none",
		"nausea":       "no",
		"palpitations": "no",
		"dizziness":    "no",
	}
}

func intPtr(v int) *int { return &v }

func boolPtr(v bool) *bool { return &v }

func floatPtr(v float64) *float64 { return &v }
