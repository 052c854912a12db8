package pipeline

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"dealhealth/internal/broker"
	"dealhealth/internal/config"
	"dealhealth/internal/logger"
	"dealhealth/pkg/errors"
	"dealhealth/pkg/logging"
	"dealhealth/pkg/metrics"
	"dealhealth/pkg/models"
	"dealhealth/pkg/retry"
)

// Handler processes one validated queue message. A nil return acks the
// message; a transient error sends it through the re-publish retry path; a
// fatal error routes it straight to the DLQ.
type Handler func(ctx context.Context, msg *models.QueueMessage) error

// Stats are the pipeline's shared counters. All increments are atomic.
type Stats struct {
	Processed    atomic.Int64
	Failed       atomic.Int64
	Retried      atomic.Int64
	Invalid      atomic.Int64
	DeadLettered atomic.Int64
}

// Snapshot returns a point-in-time copy of the counters.
func (s *Stats) Snapshot() map[string]int64 {
	return map[string]int64{
		"messages_processed": s.Processed.Load(),
		"messages_failed":    s.Failed.Load(),
		"messages_retried":   s.Retried.Load(),
		"messages_invalid":   s.Invalid.Load(),
		"dlq_messages":       s.DeadLettered.Load(),
	}
}

// Pipeline pulls verification event messages, fans them out to bounded
// concurrent workers, and owns the retry/DLQ decision. Attempt-count capping
// lives here, not in the transport: a failed message is re-published with an
// incremented DeliveryAttempts after a backoff delay, and after
// MaxDeliveryAttempts it goes to the DLQ and is never redelivered through
// the primary path.
type Pipeline struct {
	queue   broker.Queue
	handler Handler
	cfg     config.PipelineConfig
	logger  logger.Logger

	stats Stats
	sem   *semaphore.Weighted
	wg    sync.WaitGroup
}

func New(queue broker.Queue, handler Handler, cfg config.PipelineConfig, log logger.Logger) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.DefaultPipelineConfig().BatchSize
	}
	if cfg.MaxConcurrentMessages <= 0 {
		cfg.MaxConcurrentMessages = config.DefaultPipelineConfig().MaxConcurrentMessages
	}
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = config.DefaultPipelineConfig().IdleDelay
	}

	return &Pipeline{
		queue:   queue,
		handler: handler,
		cfg:     cfg,
		logger:  log,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrentMessages)),
	}
}

// Stats exposes the pipeline counters for the query surface.
func (p *Pipeline) Snapshot() map[string]int64 {
	return p.stats.Snapshot()
}

// Run is the pull loop. It blocks until ctx is cancelled, then waits for
// in-flight workers; scheduled retries that have not fired yet are dropped
// rather than re-published after shutdown.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.InfowCtx(ctx, "Ingestion pipeline starting",
		"batch_size", p.cfg.BatchSize,
		"max_concurrent", p.cfg.MaxConcurrentMessages,
		"max_delivery_attempts", p.cfg.MaxDeliveryAttempts,
	)

	defer p.wg.Wait()

	for {
		if err := ctx.Err(); err != nil {
			p.logger.InfowCtx(ctx, "Pipeline pull loop stopping")
			return nil
		}

		messages, err := p.queue.Pull(ctx, p.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.ErrorwCtx(ctx, "Failed to pull messages", "error", err)
			p.idle(ctx, time.Second)
			continue
		}

		if len(messages) == 0 {
			p.idle(ctx, p.cfg.IdleDelay)
			continue
		}

		for i := range messages {
			if err := p.sem.Acquire(ctx, 1); err != nil {
				return nil
			}

			msg := messages[i]
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				defer p.sem.Release(1)
				p.processMessage(ctx, &msg)
			}()
		}
	}
}

func (p *Pipeline) idle(ctx context.Context, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (p *Pipeline) processMessage(ctx context.Context, msg *models.QueueMessage) {
	ctx = logging.WithMessageID(ctx, msg.ID)
	if msg.CorrelationID != "" {
		ctx = logging.WithCorrelationID(ctx, msg.CorrelationID)
	}

	defer func() {
		if r := recover(); r != nil {
			err := errors.RecoverPanic(r)
			p.logger.ErrorwCtx(ctx, "Panic while processing message", "error", err)
			p.handleFailure(ctx, msg, err)
		}
	}()

	if err := models.ValidateQueueMessage(msg); err != nil {
		p.stats.Invalid.Add(1)
		field := "message"
		var vErr *models.ValidationError
		if stderrors.As(err, &vErr) {
			field = vErr.Field
		}
		metrics.MessagesInvalidTotal.WithLabelValues(field).Inc()
		p.logger.WarnwCtx(ctx, "Invalid message acked without processing", "error", err)
		p.ack(ctx, msg.ID)
		return
	}

	start := time.Now()
	err := p.handler(ctx, msg)
	if err == nil {
		p.ack(ctx, msg.ID)
		p.stats.Processed.Add(1)
		metrics.MessagesProcessedTotal.WithLabelValues(string(msg.Type)).Inc()
		metrics.ObserveProcessingDuration(string(msg.Type), "success", time.Since(start))
		p.logger.DebugwCtx(ctx, "Message processed")
		return
	}

	metrics.ObserveProcessingDuration(string(msg.Type), "error", time.Since(start))
	p.logger.ErrorwCtx(ctx, "Failed to process message",
		"delivery_attempts", msg.DeliveryAttempts,
		"error", err,
	)

	p.handleFailure(ctx, msg, err)
}

func (p *Pipeline) handleFailure(ctx context.Context, msg *models.QueueMessage, cause error) {
	if errors.IsTransient(cause) && msg.DeliveryAttempts < p.cfg.MaxDeliveryAttempts {
		p.scheduleRetry(ctx, msg)
		return
	}

	p.sendToDLQ(ctx, msg, cause)
}

// scheduleRetry re-publishes the message with an incremented attempt count
// after min(base * 2^attempts, max). The original is acked immediately so
// the transport never redelivers it; the delayed re-publish is cancelled by
// shutdown.
func (p *Pipeline) scheduleRetry(ctx context.Context, msg *models.QueueMessage) {
	delay := retry.CalculateBackoffDuration(msg.DeliveryAttempts, p.cfg.RetryBaseDelay, 2.0, p.cfg.MaxRetryDelay)

	retried := *msg
	retried.DeliveryAttempts++

	p.logger.InfowCtx(ctx, "Scheduling message retry",
		"attempt", retried.DeliveryAttempts,
		"max_attempts", p.cfg.MaxDeliveryAttempts,
		"delay", delay,
	)

	p.ack(ctx, msg.ID)
	p.stats.Retried.Add(1)
	metrics.MessagesRetriedTotal.WithLabelValues(string(msg.Type)).Inc()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			p.logger.WarnwCtx(ctx, "Dropping scheduled retry on shutdown")
			return
		case <-timer.C:
		}

		if err := p.queue.Publish(ctx, retried); err != nil {
			p.logger.ErrorwCtx(ctx, "Failed to re-publish message for retry", "error", err)
		}
	}()
}

// sendToDLQ publishes the dead-letter record and always acks the original,
// even when the DLQ publish fails: forward progress over one audit record.
func (p *Pipeline) sendToDLQ(ctx context.Context, msg *models.QueueMessage, cause error) {
	p.stats.Failed.Add(1)
	metrics.MessagesFailedTotal.WithLabelValues(string(msg.Type), failureReason(cause)).Inc()

	defer p.ack(ctx, msg.ID)

	if !p.cfg.EnableDLQ {
		p.logger.ErrorwCtx(ctx, "Message failed permanently, DLQ disabled", "error", cause)
		return
	}

	dlqMsg := msg.DeadLetter(cause, time.Now().UTC())
	if err := p.queue.PublishToDLQ(ctx, dlqMsg); err != nil {
		p.logger.ErrorwCtx(ctx, "Failed to publish message to DLQ", "error", err)
		return
	}

	p.stats.DeadLettered.Add(1)
	metrics.DLQMessagesTotal.WithLabelValues(string(msg.Type), failureReason(cause)).Inc()
	p.logger.WarnwCtx(ctx, "Message sent to DLQ",
		"delivery_attempts", msg.DeliveryAttempts,
		"error", cause,
	)
}

func (p *Pipeline) ack(ctx context.Context, messageID string) {
	if err := p.queue.Ack(ctx, messageID); err != nil {
		p.logger.ErrorwCtx(ctx, "Failed to acknowledge message", "error", err)
	}
}

func failureReason(err error) string {
	if errors.IsValidation(err) {
		return "validation"
	}
	if errors.IsTransient(err) {
		return "exhausted"
	}
	return "fatal"
}
