package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"

	"github.com/cardio-risk-server/internal/domain"
	"github.com/cardio-risk-server/internal/service"
)

const (
	defaultFreshness   = 10 * time.Minute
	defaultConnTimeout = 10 * time.Second
	disconnectQuiesce  = 250
)

type deviceKey struct {
	hospitalID string
	patientID  string
}

type deviceReading struct {
	ecg        *domain.ECGReading
	capturedAt time.Time
}

// DeviceECGStore keeps the latest bedside ECG per hospital patient as published over MQTT.
// Device payloads carry the same fields as a doctor-entered ECG plus optional
// hospital_id, patient_id and captured_at; missing ids come from the topic
// (devices/{hospital_id}/{patient_id}/ecg). Patient ids are only unique within a hospital.
type DeviceECGStore struct {
	mu        sync.RWMutex
	latest    map[deviceKey]deviceReading
	freshness time.Duration
	log       *logrus.Logger
	client    mqtt.Client
}

// NewDeviceECGStore creates an empty store; readings older than freshness are ignored
func NewDeviceECGStore(freshness time.Duration, logger *logrus.Logger) *DeviceECGStore {
	if freshness <= 0 {
		freshness = defaultFreshness
	}
	return &DeviceECGStore{
		latest:    make(map[deviceKey]deviceReading),
		freshness: freshness,
		log:       logger,
	}
}

// ConnectDeviceECG subscribes a new store to the configured device topic
func ConnectDeviceECG(cfg domain.MQTTConfig, logger *logrus.Logger) (*DeviceECGStore, error) {
	store := NewDeviceECGStore(cfg.Freshness, logger)

	timeout := cfg.ConnTimeout
	if timeout <= 0 {
		timeout = defaultConnTimeout
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(timeout)
	opts.OnConnect = func(client mqtt.Client) {
		token := client.Subscribe(cfg.Topic, cfg.QoS, store.HandleMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			logger.WithError(err).WithField("topic", cfg.Topic).Error("Failed to subscribe to device ECG topic")
			return
		}
		logger.WithField("topic", cfg.Topic).Info("Subscribed to device ECG topic")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.WithError(err).Warn("MQTT connection lost")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("connecting to MQTT broker %s: timed out", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", cfg.BrokerURL, err)
	}
	store.client = client
	return store, nil
}

// HandleMessage is the MQTT callback for device readings
func (s *DeviceECGStore) HandleMessage(_ mqtt.Client, msg mqtt.Message) {
	if err := s.Ingest(msg.Topic(), msg.Payload(), time.Now()); err != nil {
		s.log.WithError(err).WithField("topic", msg.Topic()).Warn("Rejected device ECG reading")
	}
}

// Ingest validates one device payload and keeps it when it is the newest for the patient
func (s *DeviceECGStore) Ingest(topic string, payload []byte, received time.Time) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return fmt.Errorf("decoding device payload: %w", err)
	}

	topicHospital, topicPatient := idsFromTopic(topic)
	key := deviceKey{
		hospitalID: strings.TrimSpace(cast.ToString(raw["hospital_id"])),
		patientID:  strings.TrimSpace(cast.ToString(raw["patient_id"])),
	}
	if key.hospitalID == "" {
		key.hospitalID = topicHospital
	}
	if key.patientID == "" {
		key.patientID = topicPatient
	}
	if key.hospitalID == "" {
		return domain.NewValidationError("hospital_id", "device reading has no hospital", topic)
	}
	if key.patientID == "" {
		return domain.NewValidationError("patient_id", "device reading has no patient", topic)
	}

	capturedAt := received
	if v, ok := raw["captured_at"]; ok && v != nil {
		t, err := time.Parse(time.RFC3339, cast.ToString(v))
		if err != nil {
			return domain.NewValidationError("captured_at", "captured_at must be RFC3339", v)
		}
		capturedAt = t
	}

	ecg, err := service.ValidateECG(raw)
	if err != nil {
		return err
	}
	if ecg == nil {
		return domain.NewValidationError("ecg", "device reading has no ECG values", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.latest[key]; ok && prev.capturedAt.After(capturedAt) {
		return nil
	}
	s.latest[key] = deviceReading{ecg: ecg, capturedAt: capturedAt}
	return nil
}

// LatestECG returns the newest reading captured within the freshness window
func (s *DeviceECGStore) LatestECG(hospitalID, patientID string, now time.Time) (*domain.ECGReading, bool) {
	s.mu.RLock()
	r, ok := s.latest[deviceKey{hospitalID: hospitalID, patientID: patientID}]
	s.mu.RUnlock()
	if !ok || now.Sub(r.capturedAt) > s.freshness {
		return nil, false
	}
	ecg := *r.ecg
	return &ecg, true
}

// Close disconnects from the broker
func (s *DeviceECGStore) Close() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(disconnectQuiesce)
	}
}

// idsFromTopic reads devices/{hospital_id}/{patient_id}/ecg
func idsFromTopic(topic string) (hospitalID, patientID string) {
	parts := strings.Split(topic, "/")
	if len(parts) == 4 && parts[0] == "devices" && parts[3] == "ecg" {
		return parts[1], parts[2]
	}
	return "", ""
}
