package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mediaguard/reviewcenter/metrics"
	kafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// TaskRunner is the slice of the orchestrator the command consumer drives.
type TaskRunner interface {
	Start(ctx context.Context, taskID uuid.UUID) error
	Cancel(ctx context.Context, taskID uuid.UUID) error
}

// Command is the message schema on the task command topic, published by the
// API layer.
type Command struct {
	Action string `json:"action"` // "start" or "cancel"
	TaskID string `json:"task_id"`
}

type CommandConsumer struct {
	reader *kafka.Reader
	runner TaskRunner
	log    *logrus.Logger
}

func NewCommandConsumer(brokers []string, topic, groupID string, runner TaskRunner, log *logrus.Logger) *CommandConsumer {
	return &CommandConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			GroupID:  groupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10 << 20,
		}),
		runner: runner,
		log:    log,
	}
}

// Run consumes commands until ctx is cancelled. Malformed or stale messages
// are committed and skipped; command failures are logged and committed so a
// bad task cannot wedge the partition.
func (c *CommandConsumer) Run(ctx context.Context) {
	defer c.reader.Close()
	c.log.Infof("task command consumer started: topic=%s", c.reader.Config().Topic)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.WithError(err).Warn("kafka fetch")
			time.Sleep(time.Second)
			continue
		}
		metrics.KafkaMessagesTotal.WithLabelValues(c.reader.Config().Topic, "consumed").Inc()

		var cmd Command
		if err := json.Unmarshal(msg.Value, &cmd); err != nil {
			c.log.WithError(err).Warn("bad command json")
			_ = c.reader.CommitMessages(context.Background(), msg)
			continue
		}
		taskID, err := uuid.Parse(cmd.TaskID)
		if err != nil {
			c.log.WithField("task_id", cmd.TaskID).Warn("bad task id in command")
			_ = c.reader.CommitMessages(context.Background(), msg)
			continue
		}

		switch strings.ToLower(cmd.Action) {
		case "start":
			err = c.runner.Start(ctx, taskID)
		case "cancel":
			err = c.runner.Cancel(ctx, taskID)
		default:
			c.log.WithField("action", cmd.Action).Warn("unknown command action")
		}
		if err != nil {
			c.log.WithError(err).WithFields(logrus.Fields{
				"action":  cmd.Action,
				"task_id": cmd.TaskID,
			}).Warn("command failed")
		}

		_ = c.reader.CommitMessages(context.Background(), msg)
	}
}
