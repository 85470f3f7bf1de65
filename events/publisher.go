package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mediaguard/reviewcenter/metrics"
	kafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type Type string

const (
	TaskCreated         Type = "task.created"
	TaskStarted         Type = "task.started"
	TaskProgressUpdated Type = "task.progress_updated"
	TaskCompleted       Type = "task.completed"
	TaskFailed          Type = "task.failed"
	TaskCancelled       Type = "task.cancelled"
)

// Event is the task lifecycle signal published for the API layer.
type Event struct {
	Type           Type      `json:"type"`
	TaskID         string    `json:"task_id"`
	Status         string    `json:"status"`
	Progress       int       `json:"progress"`
	ProcessedFiles int       `json:"processed_files"`
	TotalFiles     int       `json:"total_files"`
	ViolationCount int       `json:"violation_count"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

type KafkaPublisher struct {
	writer *kafka.Writer
	log    *logrus.Logger
}

func NewKafkaPublisher(brokers []string, topic string, log *logrus.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: kafka.NewWriter(kafka.WriterConfig{
			Brokers:  brokers,
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		}),
		log: log,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.TaskID),
		Value: payload,
	})
	if err != nil {
		metrics.KafkaMessagesTotal.WithLabelValues(p.writer.Topic, "error").Inc()
		p.log.WithError(err).WithField("type", ev.Type).Warn("publish task event")
		return err
	}
	metrics.KafkaMessagesTotal.WithLabelValues(p.writer.Topic, "ok").Inc()
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher is used when Kafka is not configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
