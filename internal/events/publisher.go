// Package events delivers domain notifications to Kafka and ingests bedside
// device ECG readings from MQTT.
package events

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/cardio-risk-server/internal/domain"
)

// NoopPublisher discards events. It is used when no broker is configured.
type NoopPublisher struct {
	log *logrus.Logger
}

// NewNoopPublisher creates a publisher that only logs at debug level
func NewNoopPublisher(logger *logrus.Logger) *NoopPublisher {
	return &NoopPublisher{log: logger}
}

// Publish drops the event
func (p *NoopPublisher) Publish(_ context.Context, event domain.Event) error {
	if p.log != nil {
		p.log.WithFields(logrus.Fields{
			"type":       event.Type,
			"patient_id": event.PatientID,
		}).Debug("Event dropped, no publisher configured")
	}
	return nil
}

// Close is a no-op
func (p *NoopPublisher) Close() {}
