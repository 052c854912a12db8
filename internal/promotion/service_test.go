package promotion

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealhealth/internal/config"
	"dealhealth/internal/extractor"
	"dealhealth/internal/logger"
	"dealhealth/internal/scoring"
	"dealhealth/pkg/errors"
	"dealhealth/pkg/logging"
	"dealhealth/pkg/models"
)

func newTestService(store Store, dedup *Deduplicator) *Service {
	engine := scoring.NewEngine(config.DefaultScoringConfig())
	ext := extractor.New(config.ExtractorConfig{MaxRetries: 1}, nil, logger.NopLogger())
	return NewService(store, engine, ext, dedup, logger.NopLogger())
}

func testTimestamp() models.UTCTime {
	return models.NewUTCTime(time.Now().UTC())
}

func successfulTest(promotionID string) models.AutomatedTestResult {
	return models.AutomatedTestResult{
		PromotionRef:    promotionID,
		MerchantID:      42,
		Success:         true,
		Timestamp:       testTimestamp(),
		TestEnvironment: "production",
	}
}

func TestProcessSingleEventCreatesPromotion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := newTestService(store, nil)

	update, err := svc.ProcessSingleEvent(ctx, "promo-1", successfulTest("promo-1"))
	require.NoError(t, err)

	assert.Equal(t, "promo-1", update.PromotionID)
	assert.Equal(t, 50, update.OldScore)
	assert.Greater(t, update.NewScore, 50)
	assert.Equal(t, 1, update.EventsProcessed)
	assert.Greater(t, update.ConfidenceScore, 0.0)

	state, err := store.Get(ctx, "promo-1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, int64(42), state.MerchantID)
	assert.Equal(t, update.NewScore, state.HealthScore)
	assert.Equal(t, 1, state.TotalVerifications)
	assert.Equal(t, 1, state.SuccessfulVerifications)
	assert.NotNil(t, state.LastVerifiedAt)
	assert.NotNil(t, state.LastAutomatedTestAt)
	assert.Len(t, state.RawVerificationSignals, 1)
}

func TestProcessEventsAccumulatesSignals(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := newTestService(store, nil)

	first, err := svc.ProcessSingleEvent(ctx, "promo-1", successfulTest("promo-1"))
	require.NoError(t, err)

	second, err := svc.ProcessSingleEvent(ctx, "promo-1", models.CommunityVerification{
		PromotionRef:       "promo-1",
		VerifierID:         "user-9",
		VerifierReputation: 80,
		IsValid:            true,
		Timestamp:          testTimestamp(),
	})
	require.NoError(t, err)

	// The second pass scores over both stored signals.
	assert.Equal(t, first.NewScore, second.OldScore)
	assert.Greater(t, second.ConfidenceScore, first.ConfidenceScore)

	state, err := store.Get(ctx, "promo-1")
	require.NoError(t, err)
	assert.Len(t, state.RawVerificationSignals, 2)
	assert.Equal(t, 2, state.TotalVerifications)
	assert.NotNil(t, state.LastCommunityVerificationAt)
}

func TestProcessEventsEmptyBatch(t *testing.T) {
	svc := newTestService(NewMemoryStore(), nil)

	update, err := svc.ProcessEvents(context.Background(), "promo-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, update.EventsProcessed)
	assert.Equal(t, "no events to process", update.ChangeReason)
}

func TestProcessEventsExtractsTipStructuredData(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := newTestService(store, nil)

	tip := models.CommunityTip{
		PromotionRef: "promo-1",
		TipText:      "Code worked great on my order",
		UserID:       "user-1",
		Timestamp:    testTimestamp(),
	}

	_, err := svc.ProcessSingleEvent(ctx, "promo-1", tip)
	require.NoError(t, err)

	state, err := store.Get(ctx, "promo-1")
	require.NoError(t, err)
	require.Len(t, state.RawVerificationSignals, 1)

	signal := state.RawVerificationSignals[0]
	assert.Equal(t, string(models.EventTypeCommunityTip), signal["type"])
	assert.NotNil(t, signal["structuredData"], "tip should be stored with extracted data")
}

func TestProcessEventsAppendsHistory(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := newTestService(store, nil)

	_, err := svc.ProcessSingleEvent(ctx, "promo-1", successfulTest("promo-1"))
	require.NoError(t, err)

	history, err := svc.GetPromotionHistory(ctx, "promo-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)

	entry := history[0]
	assert.Equal(t, "promo-1", entry.PromotionID)
	assert.Equal(t, models.EventTypeAutomatedTest, entry.EventType)
	assert.Equal(t, 50, entry.HealthScoreBefore)
	assert.Greater(t, entry.HealthScoreAfter, 50)
	assert.True(t, entry.Success)
}

func TestHandleMessageProcessesEnvelope(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := newTestService(store, nil)

	msg := &models.QueueMessage{
		ID:        "msg-1",
		Type:      models.EventTypeAutomatedTest,
		Timestamp: testTimestamp(),
		Source:    "act",
		Data: map[string]interface{}{
			"promotionId": "promo-1",
			"merchantId":  float64(42),
			"success":     true,
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
		},
	}

	require.NoError(t, svc.HandleMessage(ctx, msg))

	state, err := store.Get(ctx, "promo-1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Greater(t, state.HealthScore, 50)
}

func TestHandleMessageRejectsUndecodableData(t *testing.T) {
	svc := newTestService(NewMemoryStore(), nil)

	msg := &models.QueueMessage{
		ID:        "msg-1",
		Type:      models.EventType("Bogus"),
		Timestamp: testTimestamp(),
		Data:      map[string]interface{}{"promotionId": "promo-1"},
	}

	err := svc.HandleMessage(context.Background(), msg)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.False(t, errors.IsTransient(err))
}

func TestHandleMessageSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	dedup := NewDeduplicator(newFakeCache(), config.DeduplicationConfig{
		Enabled:    true,
		TTLSeconds: 60,
	}, logger.NopLogger())
	svc := newTestService(store, dedup)

	occurred := time.Now().UTC().Format(time.RFC3339)
	msg := func(id string) *models.QueueMessage {
		return &models.QueueMessage{
			ID:        id,
			Type:      models.EventTypeAutomatedTest,
			Timestamp: testTimestamp(),
			Data: map[string]interface{}{
				"promotionId":     "promo-1",
				"success":         true,
				"timestamp":       occurred,
				"testEnvironment": "production",
			},
		}
	}

	require.NoError(t, svc.HandleMessage(ctx, msg("msg-1")))

	state, err := store.Get(ctx, "promo-1")
	require.NoError(t, err)
	scoreAfterFirst := state.HealthScore

	// Redelivery of the same observation must not double-count it.
	require.NoError(t, svc.HandleMessage(ctx, msg("msg-1-redelivered")))

	state, err = store.Get(ctx, "promo-1")
	require.NoError(t, err)
	assert.Equal(t, scoreAfterFirst, state.HealthScore)
	assert.Len(t, state.RawVerificationSignals, 1)
}

// contextCapturingStore records the promotion id carried by the context of
// each Update call.
type contextCapturingStore struct {
	Store
	promotionIDs []string
}

func (s *contextCapturingStore) Update(ctx context.Context, state *State) error {
	s.promotionIDs = append(s.promotionIDs, logging.GetPromotionID(ctx))
	return s.Store.Update(ctx, state)
}

func TestProcessEventsThreadsPromotionIDThroughContext(t *testing.T) {
	ctx := context.Background()
	store := &contextCapturingStore{Store: NewMemoryStore()}
	svc := newTestService(store, nil)

	_, err := svc.ProcessSingleEvent(ctx, "promo-ctx", successfulTest("promo-ctx"))
	require.NoError(t, err)

	require.Len(t, store.promotionIDs, 1)
	assert.Equal(t, "promo-ctx", store.promotionIDs[0])
}

// flakyStore fails the first n Update calls, then behaves normally.
type flakyStore struct {
	Store
	updateFailures int
}

func (s *flakyStore) Update(ctx context.Context, state *State) error {
	if s.updateFailures > 0 {
		s.updateFailures--
		return fmt.Errorf("store temporarily unavailable")
	}
	return s.Store.Update(ctx, state)
}

func TestHandleMessageRetryAfterTransientStoreFailure(t *testing.T) {
	ctx := context.Background()
	memory := NewMemoryStore()
	store := &flakyStore{Store: memory, updateFailures: 1}
	dedup := NewDeduplicator(newFakeCache(), config.DeduplicationConfig{
		Enabled:    true,
		TTLSeconds: 60,
	}, logger.NopLogger())
	svc := newTestService(store, dedup)

	occurred := time.Now().UTC().Format(time.RFC3339)
	msg := func(id string, attempts int) *models.QueueMessage {
		return &models.QueueMessage{
			ID:               id,
			Type:             models.EventTypeAutomatedTest,
			Timestamp:        testTimestamp(),
			DeliveryAttempts: attempts,
			Data: map[string]interface{}{
				"promotionId":     "promo-1",
				"success":         true,
				"timestamp":       occurred,
				"testEnvironment": "production",
			},
		}
	}

	// First delivery fails on the store write; the error must surface so
	// the pipeline schedules a retry, and the event's identity must not be
	// recorded as processed.
	err := svc.HandleMessage(ctx, msg("msg-1", 0))
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))

	// The pipeline's re-published copy of the same event must be processed,
	// not skipped as a replay.
	require.NoError(t, svc.HandleMessage(ctx, msg("msg-1", 1)))

	state, err := memory.Get(ctx, "promo-1")
	require.NoError(t, err)
	require.NotNil(t, state)
	require.Len(t, state.RawVerificationSignals, 1)
	assert.Greater(t, state.HealthScore, 50)

	// And once committed, a genuine redelivery is still suppressed.
	require.NoError(t, svc.HandleMessage(ctx, msg("msg-1-redelivered", 0)))
	state, err = memory.Get(ctx, "promo-1")
	require.NoError(t, err)
	assert.Len(t, state.RawVerificationSignals, 1)
}

func TestGetPromotionsByHealthRange(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := newTestService(store, nil)

	require.NoError(t, store.Create(ctx, &State{ID: "low", HealthScore: 20}))
	require.NoError(t, store.Create(ctx, &State{ID: "mid", HealthScore: 55}))
	require.NoError(t, store.Create(ctx, &State{ID: "high", HealthScore: 90}))

	states, err := svc.GetPromotionsByHealthRange(ctx, 0, 60)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "low", states[0].ID)
	assert.Equal(t, "mid", states[1].ID)
}
