package broker

import (
	"context"

	"dealhealth/pkg/models"
)

// Queue is the transport the ingestion pipeline consumes from. A pulled
// message stays pending until Ack; retries are re-published by the pipeline,
// never redelivered by the transport.
type Queue interface {
	Pull(ctx context.Context, maxMessages int) ([]models.QueueMessage, error)
	Ack(ctx context.Context, messageID string) error
	Publish(ctx context.Context, msg models.QueueMessage) error
	PublishToDLQ(ctx context.Context, msg models.QueueMessage) error
	Close() error
}
