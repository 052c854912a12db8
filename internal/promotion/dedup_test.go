package promotion

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealhealth/internal/config"
	"dealhealth/internal/constants"
	"dealhealth/internal/logger"
	"dealhealth/pkg/models"
)

type fakeCache struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{seen: make(map[string]bool)}
}

func (c *fakeCache) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return false, c.err
	}
	return c.seen[key], nil
}

func (c *fakeCache) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return false, c.err
	}
	if c.seen[key] {
		return false, nil
	}
	c.seen[key] = true
	return true, nil
}

func (c *fakeCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func dedupConfig(onError string) config.DeduplicationConfig {
	return config.DeduplicationConfig{
		Enabled:      true,
		TTLSeconds:   60,
		OnRedisError: onError,
	}
}

func verificationAt(verifier string, at time.Time) models.CommunityVerification {
	return models.CommunityVerification{
		PromotionRef: "promo-1",
		VerifierID:   verifier,
		IsValid:      true,
		Timestamp:    models.NewUTCTime(at),
	}
}

func TestDeduplicatorSeenAfterMark(t *testing.T) {
	d := NewDeduplicator(newFakeCache(), dedupConfig(constants.FallbackDeny), logger.NopLogger())
	event := verificationAt("user-1", time.Now().UTC())

	seen, err := d.Seen(context.Background(), event)
	require.NoError(t, err)
	assert.False(t, seen)

	d.Mark(context.Background(), event)

	seen, err = d.Seen(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestDeduplicatorSeenDoesNotRecord(t *testing.T) {
	cache := newFakeCache()
	d := NewDeduplicator(cache, dedupConfig(constants.FallbackDeny), logger.NopLogger())
	event := verificationAt("user-1", time.Now().UTC())

	// Checking repeatedly without Mark must never turn the event into a
	// replay; only a committed Mark does that.
	for i := 0; i < 3; i++ {
		seen, err := d.Seen(context.Background(), event)
		require.NoError(t, err)
		assert.False(t, seen)
	}
	assert.Zero(t, cache.size())
}

func TestDeduplicatorDistinguishesEvents(t *testing.T) {
	d := NewDeduplicator(newFakeCache(), dedupConfig(constants.FallbackDeny), logger.NopLogger())
	now := time.Now().UTC()

	d.Mark(context.Background(), verificationAt("user-1", now))

	// Same promotion and time, different verifier: a distinct observation.
	seen, err := d.Seen(context.Background(), verificationAt("user-2", now))
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestDeduplicatorDisabledAllowsEverything(t *testing.T) {
	d := NewDeduplicator(newFakeCache(), config.DeduplicationConfig{Enabled: false}, logger.NopLogger())
	event := verificationAt("user-1", time.Now().UTC())

	d.Mark(context.Background(), event)

	for i := 0; i < 3; i++ {
		seen, err := d.Seen(context.Background(), event)
		require.NoError(t, err)
		assert.False(t, seen)
	}
}

func TestDeduplicatorCacheErrorFallbacks(t *testing.T) {
	cache := newFakeCache()
	cache.err = fmt.Errorf("connection refused")
	event := verificationAt("user-1", time.Now().UTC())

	allow := NewDeduplicator(cache, dedupConfig(constants.FallbackAllow), logger.NopLogger())
	seen, err := allow.Seen(context.Background(), event)
	require.NoError(t, err)
	assert.False(t, seen)

	deny := NewDeduplicator(cache, dedupConfig(constants.FallbackDeny), logger.NopLogger())
	_, err = deny.Seen(context.Background(), event)
	require.Error(t, err)

	// A failed Mark is swallowed; the event was already scored.
	allow.Mark(context.Background(), event)
}
