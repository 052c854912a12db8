package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"dealhealth/internal/config"
	"dealhealth/internal/constants"
	"dealhealth/internal/logger"
	"dealhealth/pkg/models"
)

// KafkaQueue adapts a Kafka consumer group to the pull/ack Queue contract.
// Fetched messages are held in a pending set until the pipeline acks them;
// Ack commits the offset. Safe for concurrent Ack/Publish from the
// pipeline's worker goroutines; Pull is called from the single pull loop.
type KafkaQueue struct {
	cfg    config.KafkaConfig
	reader *kafka.Reader
	writer *kafka.Writer
	logger logger.Logger

	mu      sync.Mutex
	pending map[string]kafka.Message
}

func NewKafkaQueue(cfg config.KafkaConfig, log logger.Logger) *KafkaQueue {
	eventsTopic := cfg.EventsTopic
	if eventsTopic == "" {
		eventsTopic = constants.DefaultEventsTopic
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    eventsTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		Async:        false,
	}

	return &KafkaQueue{
		cfg:     cfg,
		reader:  reader,
		writer:  writer,
		logger:  log,
		pending: make(map[string]kafka.Message),
	}
}

// Pull fetches up to maxMessages from the events topic. It returns fewer
// (possibly zero) messages when the fetch deadline passes, so an empty topic
// does not block the pull loop.
func (q *KafkaQueue) Pull(ctx context.Context, maxMessages int) ([]models.QueueMessage, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, constants.KafkaPullTimeout)
	defer cancel()

	out := make([]models.QueueMessage, 0, maxMessages)
	for len(out) < maxMessages {
		m, err := q.reader.FetchMessage(fetchCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				break
			}
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			return out, fmt.Errorf("failed to fetch kafka message: %w", err)
		}

		var msg models.QueueMessage
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			q.logger.ErrorwCtx(ctx, "Failed to unmarshal queue message, committing to skip",
				"error", err,
				"offset", m.Offset,
				"partition", m.Partition,
			)
			_ = q.reader.CommitMessages(ctx, m)
			continue
		}

		q.mu.Lock()
		q.pending[msg.ID] = m
		q.mu.Unlock()

		out = append(out, msg)
	}

	return out, nil
}

func (q *KafkaQueue) Ack(ctx context.Context, messageID string) error {
	q.mu.Lock()
	m, ok := q.pending[messageID]
	if ok {
		delete(q.pending, messageID)
	}
	q.mu.Unlock()

	if !ok {
		return fmt.Errorf("no pending message with id %s", messageID)
	}

	if err := q.reader.CommitMessages(ctx, m); err != nil {
		return fmt.Errorf("failed to commit kafka message: %w", err)
	}
	return nil
}

func (q *KafkaQueue) Publish(ctx context.Context, msg models.QueueMessage) error {
	topic := q.cfg.EventsTopic
	if topic == "" {
		topic = constants.DefaultEventsTopic
	}
	return q.publish(ctx, topic, msg)
}

func (q *KafkaQueue) PublishToDLQ(ctx context.Context, msg models.QueueMessage) error {
	topic := q.cfg.DLQTopic
	if topic == "" {
		topic = constants.DefaultDLQTopic
	}
	return q.publish(ctx, topic, msg)
}

func (q *KafkaQueue) publish(ctx context.Context, topic string, msg models.QueueMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	err = q.writer.WriteMessages(ctx,
		kafka.Message{
			Topic: topic,
			Key:   []byte(msg.ID),
			Value: body,
			Time:  time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	return nil
}

func (q *KafkaQueue) Close() error {
	var err error
	if q.reader != nil {
		err = q.reader.Close()
	}
	if q.writer != nil {
		if closeErr := q.writer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}
