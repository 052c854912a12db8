package promotion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"dealhealth/internal/config"
	"dealhealth/internal/constants"
	"dealhealth/internal/logger"
	"dealhealth/pkg/metrics"
	"dealhealth/pkg/models"
)

// DedupCache answers whether an event identity has been seen before.
// Exists is a read-only probe; SetNX records the identity and returns true
// when the key was newly written.
type DedupCache interface {
	Exists(ctx context.Context, key string) (bool, error)
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
}

type redisDedupCache struct {
	client *redis.Client
}

func NewRedisDedupCache(client *redis.Client) DedupCache {
	return &redisDedupCache{client: client}
}

func (c *redisDedupCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis Exists failed: %w", err)
	}
	return n > 0, nil
}

func (c *redisDedupCache) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SetNX failed: %w", err)
	}
	return ok, nil
}

// Deduplicator skips replayed events so re-published retries and at-least-once
// delivery never double-count a verification.
type Deduplicator struct {
	cache  DedupCache
	cfg    config.DeduplicationConfig
	logger logger.Logger
}

func NewDeduplicator(cache DedupCache, cfg config.DeduplicationConfig, log logger.Logger) *Deduplicator {
	return &Deduplicator{
		cache:  cache,
		cfg:    cfg,
		logger: log,
	}
}

// Seen reports whether this event identity was already processed. It never
// writes: a transient failure after the check must leave the identity
// unrecorded so the pipeline's retry copy is not mistaken for a replay.
// When disabled every event is treated as new. On a cache error the
// configured fallback decides: allow reprocesses the event (scoring a
// replay only risks one duplicate count), deny drops it.
func (d *Deduplicator) Seen(ctx context.Context, event models.VerificationEvent) (bool, error) {
	if !d.cfg.Enabled || d.cache == nil {
		return false, nil
	}

	key := constants.CacheKeyPrefixEvent + eventIdentityHash(event)

	seen, err := d.cache.Exists(ctx, key)
	if err != nil {
		if d.cfg.OnRedisError == constants.FallbackAllow {
			metrics.FallbackUsageTotal.WithLabelValues("deduplication", "allow_on_error").Inc()
			d.logger.WarnwCtx(ctx, "Dedup cache error, allowing event", "error", err)
			return false, nil
		}

		metrics.FallbackUsageTotal.WithLabelValues("deduplication", "deny_on_error").Inc()
		return false, fmt.Errorf("dedup check failed for promotion %s: %w", event.PromotionID(), err)
	}

	if seen {
		metrics.DuplicateEventsTotal.Inc()
	}
	return seen, nil
}

// Mark records the event identity after processing committed. A failed mark
// is logged and swallowed: the event is already scored, and failing the
// message here would make the pipeline re-process it on retry.
func (d *Deduplicator) Mark(ctx context.Context, event models.VerificationEvent) {
	if !d.cfg.Enabled || d.cache == nil {
		return
	}

	key := constants.CacheKeyPrefixEvent + eventIdentityHash(event)
	ttl := time.Duration(d.cfg.TTLSeconds) * time.Second

	if _, err := d.cache.SetNX(ctx, key, time.Now().Unix(), ttl); err != nil {
		metrics.FallbackUsageTotal.WithLabelValues("deduplication", "mark_failed").Inc()
		d.logger.WarnwCtx(ctx, "Failed to record event identity, a later replay may be reprocessed", "error", err)
	}
}

// eventIdentityHash derives a stable identity from the fields that make two
// events "the same observation": kind, promotion, timestamp, and the
// kind-specific actor.
func eventIdentityHash(event models.VerificationEvent) string {
	identity := fmt.Sprintf("%s|%s|%s|", event.Type(), event.PromotionID(), event.OccurredAt().UTC().Format(time.RFC3339Nano))

	switch e := event.(type) {
	case models.AutomatedTestResult:
		identity += fmt.Sprintf("%s|%t", e.TestEnvironment, e.Success)
	case models.CommunityVerification:
		identity += fmt.Sprintf("%s|%t", e.VerifierID, e.IsValid)
	case models.CommunityTip:
		identity += e.UserID + "|" + e.TipText
	}

	sum := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:])
}
