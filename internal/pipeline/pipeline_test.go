package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealhealth/internal/config"
	"dealhealth/internal/logger"
	"dealhealth/pkg/errors"
	"dealhealth/pkg/logging"
	"dealhealth/pkg/models"
	"dealhealth/pkg/retry"
)

type fakeQueue struct {
	mu        sync.Mutex
	batches   [][]models.QueueMessage
	published []models.QueueMessage
	dlq       []models.QueueMessage
	acked     []string
	dlqErr    error
}

func (q *fakeQueue) Pull(ctx context.Context, maxMessages int) ([]models.QueueMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.batches) == 0 {
		return nil, nil
	}
	batch := q.batches[0]
	q.batches = q.batches[1:]
	return batch, nil
}

func (q *fakeQueue) Ack(ctx context.Context, messageID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, messageID)
	return nil
}

func (q *fakeQueue) Publish(ctx context.Context, msg models.QueueMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, msg)
	return nil
}

func (q *fakeQueue) PublishToDLQ(ctx context.Context, msg models.QueueMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dlqErr != nil {
		return q.dlqErr
	}
	q.dlq = append(q.dlq, msg)
	return nil
}

func (q *fakeQueue) Close() error { return nil }

func (q *fakeQueue) ackedIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, len(q.acked))
	copy(ids, q.acked)
	return ids
}

func (q *fakeQueue) publishedMessages() []models.QueueMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs := make([]models.QueueMessage, len(q.published))
	copy(msgs, q.published)
	return msgs
}

func (q *fakeQueue) dlqMessages() []models.QueueMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs := make([]models.QueueMessage, len(q.dlq))
	copy(msgs, q.dlq)
	return msgs
}

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		BatchSize:             10,
		MaxConcurrentMessages: 5,
		IdleDelay:             time.Millisecond,
		RetryBaseDelay:        time.Millisecond,
		MaxRetryDelay:         10 * time.Millisecond,
		MaxDeliveryAttempts:   3,
		EnableDLQ:             true,
	}
}

func validMessage(id string, attempts int) models.QueueMessage {
	return *models.NewQueueMessageBuilder().
		WithID(id).
		WithType(models.EventTypeAutomatedTest).
		WithTimestamp(time.Now().UTC()).
		WithSource("act").
		WithDeliveryAttempts(attempts).
		WithDataField("promotionId", "promo-1").
		WithDataField("success", true).
		Build()
}

func TestProcessMessageEnrichesHandlerContext(t *testing.T) {
	queue := &fakeQueue{}
	var gotMessageID, gotCorrelationID string
	p := New(queue, func(ctx context.Context, msg *models.QueueMessage) error {
		gotMessageID = logging.GetMessageID(ctx)
		gotCorrelationID = logging.GetCorrelationID(ctx)
		return nil
	}, testPipelineConfig(), logger.NopLogger())

	msg := validMessage("msg-1", 0)
	msg.CorrelationID = "corr-1"
	p.processMessage(context.Background(), &msg)

	assert.Equal(t, "msg-1", gotMessageID)
	assert.Equal(t, "corr-1", gotCorrelationID)
}

func TestProcessMessageAcksOnSuccess(t *testing.T) {
	queue := &fakeQueue{}
	p := New(queue, func(ctx context.Context, msg *models.QueueMessage) error {
		return nil
	}, testPipelineConfig(), logger.NopLogger())

	msg := validMessage("msg-1", 0)
	p.processMessage(context.Background(), &msg)

	assert.Equal(t, []string{"msg-1"}, queue.ackedIDs())
	assert.Equal(t, int64(1), p.stats.Processed.Load())
	assert.Empty(t, queue.publishedMessages())
	assert.Empty(t, queue.dlqMessages())
}

func TestProcessMessageAcksInvalidWithoutHandler(t *testing.T) {
	queue := &fakeQueue{}
	handlerCalled := false
	p := New(queue, func(ctx context.Context, msg *models.QueueMessage) error {
		handlerCalled = true
		return nil
	}, testPipelineConfig(), logger.NopLogger())

	msg := models.QueueMessage{ID: "bad-1", Type: models.EventType("Nonsense")}
	p.processMessage(context.Background(), &msg)

	assert.False(t, handlerCalled, "invalid messages must not reach the handler")
	assert.Equal(t, []string{"bad-1"}, queue.ackedIDs())
	assert.Equal(t, int64(1), p.stats.Invalid.Load())
	assert.Empty(t, queue.dlqMessages())
}

func TestProcessMessageSchedulesRetryOnTransientFailure(t *testing.T) {
	queue := &fakeQueue{}
	p := New(queue, func(ctx context.Context, msg *models.QueueMessage) error {
		return fmt.Errorf("store temporarily down")
	}, testPipelineConfig(), logger.NopLogger())

	msg := validMessage("msg-1", 0)
	p.processMessage(context.Background(), &msg)
	p.wg.Wait()

	assert.Equal(t, []string{"msg-1"}, queue.ackedIDs())
	assert.Equal(t, int64(1), p.stats.Retried.Load())

	published := queue.publishedMessages()
	require.Len(t, published, 1)
	assert.Equal(t, "msg-1", published[0].ID)
	assert.Equal(t, 1, published[0].DeliveryAttempts)
	assert.Empty(t, queue.dlqMessages())
}

func TestProcessMessageSendsToDLQWhenAttemptsExhausted(t *testing.T) {
	queue := &fakeQueue{}
	cause := fmt.Errorf("still failing")
	p := New(queue, func(ctx context.Context, msg *models.QueueMessage) error {
		return cause
	}, testPipelineConfig(), logger.NopLogger())

	msg := validMessage("msg-1", 3)
	p.processMessage(context.Background(), &msg)
	p.wg.Wait()

	assert.Empty(t, queue.publishedMessages(), "exhausted messages must not be re-published")
	assert.Equal(t, []string{"msg-1"}, queue.ackedIDs())
	assert.Equal(t, int64(1), p.stats.Failed.Load())
	assert.Equal(t, int64(1), p.stats.DeadLettered.Load())

	dlq := queue.dlqMessages()
	require.Len(t, dlq, 1)
	assert.Equal(t, "dlq_msg-1", dlq[0].ID)
	assert.Equal(t, models.SourceDLQ, dlq[0].Source)
	assert.Equal(t, "msg-1", dlq[0].Data["originalMessageId"])
	assert.Equal(t, "still failing", dlq[0].Data["error"])
	assert.Equal(t, 3, dlq[0].Data["deliveryAttempts"])
	assert.NotEmpty(t, dlq[0].Data["failedAt"])
	assert.Equal(t, "promo-1", dlq[0].Data["promotionId"], "DLQ record preserves the original payload")
}

func TestProcessMessageFatalErrorSkipsRetries(t *testing.T) {
	queue := &fakeQueue{}
	p := New(queue, func(ctx context.Context, msg *models.QueueMessage) error {
		return errors.ErrValidation.WithDetail("message", "undecodable event")
	}, testPipelineConfig(), logger.NopLogger())

	msg := validMessage("msg-1", 0)
	p.processMessage(context.Background(), &msg)
	p.wg.Wait()

	assert.Empty(t, queue.publishedMessages(), "fatal failures must not burn retry attempts")
	require.Len(t, queue.dlqMessages(), 1)
	assert.Equal(t, []string{"msg-1"}, queue.ackedIDs())
}

func TestProcessMessageDLQDisabledStillAcks(t *testing.T) {
	queue := &fakeQueue{}
	cfg := testPipelineConfig()
	cfg.EnableDLQ = false
	p := New(queue, func(ctx context.Context, msg *models.QueueMessage) error {
		return fmt.Errorf("boom")
	}, cfg, logger.NopLogger())

	msg := validMessage("msg-1", 3)
	p.processMessage(context.Background(), &msg)

	assert.Empty(t, queue.dlqMessages())
	assert.Equal(t, []string{"msg-1"}, queue.ackedIDs())
	assert.Equal(t, int64(1), p.stats.Failed.Load())
	assert.Equal(t, int64(0), p.stats.DeadLettered.Load())
}

func TestProcessMessageDLQPublishFailureStillAcks(t *testing.T) {
	queue := &fakeQueue{dlqErr: fmt.Errorf("dlq topic gone")}
	p := New(queue, func(ctx context.Context, msg *models.QueueMessage) error {
		return fmt.Errorf("boom")
	}, testPipelineConfig(), logger.NopLogger())

	msg := validMessage("msg-1", 3)
	p.processMessage(context.Background(), &msg)

	assert.Equal(t, []string{"msg-1"}, queue.ackedIDs(), "forward progress beats one lost audit record")
	assert.Equal(t, int64(0), p.stats.DeadLettered.Load())
}

func TestRetryDelayDoublesPerAttempt(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.RetryBaseDelay = time.Second
	cfg.MaxRetryDelay = 60 * time.Second

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{6, 60 * time.Second},
		{10, 60 * time.Second},
	}

	for _, tt := range tests {
		got := retry.CalculateBackoffDuration(tt.attempts, cfg.RetryBaseDelay, 2.0, cfg.MaxRetryDelay)
		assert.Equal(t, tt.want, got, "attempts=%d", tt.attempts)
	}
}

func TestRunProcessesBatchAndStops(t *testing.T) {
	queue := &fakeQueue{
		batches: [][]models.QueueMessage{
			{validMessage("msg-1", 0), validMessage("msg-2", 0)},
		},
	}

	var processed sync.WaitGroup
	processed.Add(2)
	p := New(queue, func(ctx context.Context, msg *models.QueueMessage) error {
		processed.Done()
		return nil
	}, testPipelineConfig(), logger.NopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	processed.Wait()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop after cancellation")
	}

	stats := p.Snapshot()
	assert.Equal(t, int64(2), stats["messages_processed"])
	assert.ElementsMatch(t, []string{"msg-1", "msg-2"}, queue.ackedIDs())
}

func TestShutdownDropsPendingRetries(t *testing.T) {
	queue := &fakeQueue{}
	cfg := testPipelineConfig()
	cfg.RetryBaseDelay = time.Hour
	cfg.MaxRetryDelay = time.Hour

	p := New(queue, func(ctx context.Context, msg *models.QueueMessage) error {
		return fmt.Errorf("transient")
	}, cfg, logger.NopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	msg := validMessage("msg-1", 0)
	p.processMessage(ctx, &msg)

	assert.Equal(t, int64(1), p.stats.Retried.Load())

	// Cancel before the hour-long delay elapses; the retry must be dropped,
	// not fired late.
	cancel()
	p.wg.Wait()

	assert.Empty(t, queue.publishedMessages())
}
