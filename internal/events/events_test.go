package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardio-risk-server/internal/domain"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// fakeProducer acknowledges every message with the configured error
type fakeProducer struct {
	sent       []*kafka.Message
	deliverErr error
	produceErr error
	silent     bool
	closed     bool
}

func (f *fakeProducer) Produce(msg *kafka.Message, delivery chan kafka.Event) error {
	if f.produceErr != nil {
		return f.produceErr
	}
	f.sent = append(f.sent, msg)
	if !f.silent {
		report := *msg
		report.TopicPartition.Error = f.deliverErr
		delivery <- &report
	}
	return nil
}

func (f *fakeProducer) Flush(int) int { return 0 }

func (f *fakeProducer) Close() { f.closed = true }

func sampleEvent() domain.Event {
	return domain.Event{
		Type:       domain.EventOutcomeLocked,
		HospitalID: "hosp-1",
		PatientID:  "000000000007",
		OccurredAt: time.Date(2026, 5, 10, 8, 30, 0, 0, time.UTC),
		Payload:    map[string]interface{}{"cardiac_arrest": 1},
	}
}

func TestKafkaPublisher_Publish(t *testing.T) {
	fake := &fakeProducer{}
	pub := newKafkaPublisher(fake, "cardio.events", quietLogger())

	require.NoError(t, pub.Publish(context.Background(), sampleEvent()))
	require.Len(t, fake.sent, 1)

	msg := fake.sent[0]
	assert.Equal(t, "cardio.events", *msg.TopicPartition.Topic)
	assert.Equal(t, "hosp-1:000000000007", string(msg.Key))
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, domain.EventOutcomeLocked, string(msg.Headers[0].Value))

	var decoded domain.Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "000000000007", decoded.PatientID)

	pub.Close()
	assert.True(t, fake.closed)
}

func TestKafkaPublisher_Errors(t *testing.T) {
	pub := newKafkaPublisher(&fakeProducer{deliverErr: errors.New("leader not available")}, "t", quietLogger())
	err := pub.Publish(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader not available")

	pub = newKafkaPublisher(&fakeProducer{produceErr: errors.New("queue full")}, "t", quietLogger())
	assert.Error(t, pub.Publish(context.Background(), sampleEvent()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pub = newKafkaPublisher(&fakeProducer{silent: true}, "t", quietLogger())
	assert.ErrorIs(t, pub.Publish(ctx, sampleEvent()), context.Canceled)
}

func TestNoopPublisher(t *testing.T) {
	pub := NewNoopPublisher(quietLogger())
	assert.NoError(t, pub.Publish(context.Background(), sampleEvent()))
	pub.Close()
}

func TestDeviceECGStore_IngestAndFreshness(t *testing.T) {
	store := NewDeviceECGStore(5*time.Minute, quietLogger())
	received := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

	err := store.Ingest("devices/clinic-1/000000000001/ecg", []byte(`{"heart_rate": 112, "st_elevation": false}`), received)
	require.NoError(t, err)

	ecg, ok := store.LatestECG("clinic-1", "000000000001", received.Add(4*time.Minute))
	require.True(t, ok)
	require.NotNil(t, ecg.HeartRate)
	assert.Equal(t, 112, *ecg.HeartRate)
	assert.Nil(t, ecg.QTIntervalMs)

	_, ok = store.LatestECG("clinic-1", "000000000001", received.Add(6*time.Minute))
	assert.False(t, ok)
	_, ok = store.LatestECG("clinic-1", "000000000002", received)
	assert.False(t, ok)
}

func TestDeviceECGStore_ScopesPatientsByHospital(t *testing.T) {
	store := NewDeviceECGStore(time.Hour, quietLogger())
	now := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

	require.NoError(t, store.Ingest("devices/hospital-a/000000000001/ecg",
		[]byte(`{"heart_rate": 140, "arrhythmia_detected": true}`), now))

	_, ok := store.LatestECG("hospital-b", "000000000001", now)
	assert.False(t, ok, "reading must not leak to another hospital's patient")

	require.NoError(t, store.Ingest("devices/hospital-b/000000000001/ecg", []byte(`{"heart_rate": 72}`), now))

	a, ok := store.LatestECG("hospital-a", "000000000001", now)
	require.True(t, ok)
	assert.Equal(t, 140, *a.HeartRate)
	b, ok := store.LatestECG("hospital-b", "000000000001", now)
	require.True(t, ok)
	assert.Equal(t, 72, *b.HeartRate)
}

func TestDeviceECGStore_PayloadIdsAndOrdering(t *testing.T) {
	store := NewDeviceECGStore(time.Hour, quietLogger())
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Ingest("ward/3", []byte(`{"hospital_id": "clinic-1", "patient_id": "000000000005", "captured_at": "2026-05-10T08:50:00Z", "heart_rate": 80}`), now))
	// an older reading arriving late does not replace the newer one
	require.NoError(t, store.Ingest("ward/3", []byte(`{"hospital_id": "clinic-1", "patient_id": "000000000005", "captured_at": "2026-05-10T08:40:00Z", "heart_rate": 140}`), now))

	ecg, ok := store.LatestECG("clinic-1", "000000000005", now)
	require.True(t, ok)
	assert.Equal(t, 80, *ecg.HeartRate)
}

func TestDeviceECGStore_RejectsBadPayloads(t *testing.T) {
	store := NewDeviceECGStore(time.Hour, quietLogger())
	now := time.Now()

	tests := []struct {
		name    string
		topic   string
		payload string
	}{
		{"not json", "devices/h/1/ecg", `heart_rate=80`},
		{"no patient", "ward/3", `{"hospital_id": "h", "heart_rate": 80}`},
		{"no hospital", "ward/3", `{"patient_id": "1", "heart_rate": 80}`},
		{"legacy topic without hospital", "devices/1/ecg", `{"heart_rate": 80}`},
		{"out of range", "devices/h/1/ecg", `{"heart_rate": 400}`},
		{"no values", "devices/h/1/ecg", `{"captured_at": "2026-05-10T08:50:00Z"}`},
		{"bad timestamp", "devices/h/1/ecg", `{"heart_rate": 80, "captured_at": "yesterday"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, store.Ingest(tt.topic, []byte(tt.payload), now))
		})
	}
	_, ok := store.LatestECG("h", "1", now)
	assert.False(t, ok)
}

func TestIdsFromTopic(t *testing.T) {
	hospital, patient := idsFromTopic("devices/clinic-1/000000000001/ecg")
	assert.Equal(t, "clinic-1", hospital)
	assert.Equal(t, "000000000001", patient)

	hospital, patient = idsFromTopic("devices/clinic-1/000000000001/spo2")
	assert.Empty(t, hospital)
	assert.Empty(t, patient)

	hospital, patient = idsFromTopic("devices/000000000001/ecg")
	assert.Empty(t, hospital)
	assert.Empty(t, patient)
}
