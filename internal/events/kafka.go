package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/sirupsen/logrus"

	"github.com/cardio-risk-server/internal/domain"
)

const flushTimeoutMs = 5000

// producer is the part of *kafka.Producer the publisher uses
type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// KafkaPublisher writes domain events to a Kafka topic as JSON.
// Messages are keyed by hospital and patient so one patient's events stay ordered.
type KafkaPublisher struct {
	producer producer
	topic    string
	log      *logrus.Logger
}

// NewKafkaPublisher connects a producer from configuration
func NewKafkaPublisher(cfg domain.KafkaConfig, logger *logrus.Logger) (*KafkaPublisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.BootstrapServers,
		"client.id":          cfg.ClientID,
		"acks":               "all",
		"enable.idempotence": true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"bootstrap_servers": cfg.BootstrapServers,
		"topic":             cfg.Topic,
	}).Info("Kafka event publisher ready")

	return newKafkaPublisher(p, cfg.Topic, logger), nil
}

func newKafkaPublisher(p producer, topic string, logger *logrus.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		producer: p,
		topic:    topic,
		log:      logger,
	}
}

// Publish produces the event and waits for the broker acknowledgement
func (k *KafkaPublisher) Publish(ctx context.Context, event domain.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	delivery := make(chan kafka.Event, 1)
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &k.topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.HospitalID + ":" + event.PatientID),
		Value:          value,
		Headers:        []kafka.Header{{Key: "event_type", Value: []byte(event.Type)}},
	}
	if err := k.producer.Produce(msg, delivery); err != nil {
		return fmt.Errorf("producing event: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case e := <-delivery:
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				return fmt.Errorf("delivering event: %w", ev.TopicPartition.Error)
			}
			k.log.WithFields(logrus.Fields{
				"type":      event.Type,
				"partition": ev.TopicPartition.Partition,
				"offset":    ev.TopicPartition.Offset,
			}).Debug("Event delivered")
			return nil
		case kafka.Error:
			return fmt.Errorf("delivering event: %w", ev)
		default:
			return fmt.Errorf("unexpected delivery report %T", e)
		}
	}
}

// Close flushes outstanding messages and closes the producer
func (k *KafkaPublisher) Close() {
	if remaining := k.producer.Flush(flushTimeoutMs); remaining > 0 {
		k.log.WithField("remaining", remaining).Warn("Kafka producer closed with undelivered events")
	}
	k.producer.Close()
}
