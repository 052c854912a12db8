package promotion

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"dealhealth/internal/extractor"
	"dealhealth/internal/logger"
	"dealhealth/internal/scoring"
	"dealhealth/pkg/errors"
	"dealhealth/pkg/logging"
	"dealhealth/pkg/metrics"
	"dealhealth/pkg/models"
)

// Service recomputes promotion health from verification evidence. All writes
// for one promotion go through a per-promotion lock so concurrent pipeline
// workers cannot lose updates.
type Service struct {
	store     Store
	engine    *scoring.Engine
	extractor *extractor.Extractor
	dedup     *Deduplicator
	logger    logger.Logger

	locks sync.Map // promotion id -> *sync.Mutex
}

func NewService(store Store, engine *scoring.Engine, ext *extractor.Extractor, dedup *Deduplicator, log logger.Logger) *Service {
	return &Service{
		store:     store,
		engine:    engine,
		extractor: ext,
		dedup:     dedup,
		logger:    log,
	}
}

// HandleMessage is the pipeline entry point: decode the envelope, skip
// replays, and fold the event into its promotion's score. Errors other than
// validation failures are retryable from the pipeline's point of view.
func (s *Service) HandleMessage(ctx context.Context, msg *models.QueueMessage) error {
	event, err := msg.DecodeEvent()
	if err != nil {
		return errors.ErrValidation.WithCause(err).WithDetail("message_id", msg.ID)
	}

	ctx = logging.WithPromotionID(ctx, event.PromotionID())

	if s.dedup != nil {
		seen, err := s.dedup.Seen(ctx, event)
		if err != nil {
			return err
		}
		if seen {
			s.logger.DebugwCtx(ctx, "Skipping replayed event")
			return nil
		}
	}

	if _, err := s.ProcessEvents(ctx, event.PromotionID(), []models.VerificationEvent{event}); err != nil {
		return err
	}

	// Marked only after the store update committed, so a transient failure
	// above leaves the identity unrecorded and the pipeline's retry copy
	// gets processed instead of skipped.
	if s.dedup != nil {
		s.dedup.Mark(ctx, event)
	}
	return nil
}

// ProcessEvents folds a batch of events for one promotion into its stored
// signal set and recomputes the score over everything seen so far.
func (s *Service) ProcessEvents(ctx context.Context, promotionID string, events []models.VerificationEvent) (*HealthScoreUpdate, error) {
	ctx = logging.WithPromotionID(ctx, promotionID)

	if len(events) == 0 {
		s.logger.WarnwCtx(ctx, "No events provided")
		return &HealthScoreUpdate{
			PromotionID:  promotionID,
			ChangeReason: "no events to process",
		}, nil
	}

	lock := s.promotionLock(promotionID)
	lock.Lock()
	defer lock.Unlock()

	state, err := s.getOrCreate(ctx, promotionID, events[0])
	if err != nil {
		return nil, err
	}

	oldScore := state.HealthScore

	processed := make([]models.VerificationEvent, 0, len(events))
	for _, event := range events {
		processed = append(processed, s.processTip(ctx, event))
	}

	history, err := s.applyEvents(ctx, state, processed)
	if err != nil {
		return nil, err
	}

	for i := range history {
		if err := s.store.AppendHistory(ctx, &history[i]); err != nil {
			// The score is already committed; a lost audit entry is not
			// worth failing the message over.
			s.logger.ErrorwCtx(ctx, "Failed to store processing history", "error", err)
		}
	}

	metrics.SetHealthScore(promotionID, state.HealthScore)
	metrics.HealthScoreUpdatesTotal.WithLabelValues(string(processed[len(processed)-1].Type())).Inc()

	s.logger.InfowCtx(ctx, "Health score updated",
		"old_score", oldScore,
		"new_score", state.HealthScore,
		"confidence", state.ConfidenceScore,
		"events_processed", len(processed),
	)

	return &HealthScoreUpdate{
		PromotionID:     promotionID,
		OldScore:        oldScore,
		NewScore:        state.HealthScore,
		ChangeReason:    fmt.Sprintf("processed %d verification events", len(processed)),
		EventsProcessed: len(processed),
		ConfidenceScore: state.ConfidenceScore,
	}, nil
}

// ProcessSingleEvent scores one event for a promotion.
func (s *Service) ProcessSingleEvent(ctx context.Context, promotionID string, event models.VerificationEvent) (*HealthScoreUpdate, error) {
	return s.ProcessEvents(ctx, promotionID, []models.VerificationEvent{event})
}

func (s *Service) GetPromotionHealth(ctx context.Context, promotionID string) (*State, error) {
	return s.store.Get(ctx, promotionID)
}

func (s *Service) GetPromotionHistory(ctx context.Context, promotionID string, limit int) ([]EventProcessingResult, error) {
	return s.store.GetHistory(ctx, promotionID, limit)
}

func (s *Service) GetMerchantPromotions(ctx context.Context, merchantID int64) ([]State, error) {
	return s.store.ListByMerchant(ctx, merchantID)
}

func (s *Service) GetPromotionsByHealthRange(ctx context.Context, minHealth, maxHealth int) ([]State, error) {
	return s.store.ListByHealthRange(ctx, minHealth, maxHealth)
}

func (s *Service) promotionLock(promotionID string) *sync.Mutex {
	actual, _ := s.locks.LoadOrStore(promotionID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func (s *Service) getOrCreate(ctx context.Context, promotionID string, event models.VerificationEvent) (*State, error) {
	state, err := s.store.Get(ctx, promotionID)
	if err != nil {
		return nil, err
	}
	if state != nil {
		return state, nil
	}

	var merchantID int64
	if test, ok := event.(models.AutomatedTestResult); ok {
		merchantID = test.MerchantID
	}

	state = NewState(promotionID, merchantID)
	if err := s.store.Create(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// processTip runs community tips through the extractor; other event kinds
// pass through untouched. Already-structured tips are not re-extracted.
func (s *Service) processTip(ctx context.Context, event models.VerificationEvent) models.VerificationEvent {
	tip, ok := event.(models.CommunityTip)
	if !ok || s.extractor == nil || tip.StructuredData != nil {
		return event
	}

	result := s.extractor.Extract(ctx, tip.TipText, tip.Reputation())
	tip.StructuredData = &result.StructuredData
	tip.ConfidenceScore = result.ConfidenceScore
	return tip
}

// applyEvents appends the processed events to the stored signal set,
// recomputes score and confidence over all accumulated signals, updates the
// bookkeeping fields, and commits the state. Returns the audit entries for
// the new events.
func (s *Service) applyEvents(ctx context.Context, state *State, events []models.VerificationEvent) ([]EventProcessingResult, error) {
	before := state.HealthScore

	for _, event := range events {
		signal, err := eventToSignal(event)
		if err != nil {
			return nil, err
		}
		state.RawVerificationSignals = append(state.RawVerificationSignals, signal)
		s.recordBookkeeping(state, event)
	}

	allEvents, err := decodeSignals(state.RawVerificationSignals)
	if err != nil {
		return nil, err
	}

	score, confidence := s.engine.Calculate(allEvents)
	state.HealthScore = score
	state.ConfidenceScore = confidence

	if err := s.store.Update(ctx, state); err != nil {
		return nil, err
	}

	history := make([]EventProcessingResult, 0, len(events))
	for _, event := range events {
		history = append(history, EventProcessingResult{
			PromotionID:       state.ID,
			EventType:         event.Type(),
			ProcessedAt:       time.Now().UTC(),
			HealthScoreBefore: before,
			HealthScoreAfter:  score,
			Success:           true,
		})
	}
	return history, nil
}

func (s *Service) recordBookkeeping(state *State, event models.VerificationEvent) {
	occurred := event.OccurredAt().UTC()
	state.LastVerifiedAt = &occurred
	state.LastVerificationSource = string(event.Type())

	switch e := event.(type) {
	case models.AutomatedTestResult:
		state.TotalVerifications++
		if e.Success {
			state.SuccessfulVerifications++
		}
		state.LastAutomatedTestAt = &occurred
	case models.CommunityVerification:
		state.TotalVerifications++
		if e.IsValid {
			state.SuccessfulVerifications++
		}
		state.LastCommunityVerificationAt = &occurred
	}
}

func eventToSignal(event models.VerificationEvent) (map[string]interface{}, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}

	var signal map[string]interface{}
	if err := json.Unmarshal(raw, &signal); err != nil {
		return nil, fmt.Errorf("failed to build signal record: %w", err)
	}

	signal["type"] = string(event.Type())
	return signal, nil
}

func decodeSignals(signals []map[string]interface{}) ([]models.VerificationEvent, error) {
	events := make([]models.VerificationEvent, 0, len(signals))
	for _, signal := range signals {
		eventType, _ := signal["type"].(string)
		event, err := models.DecodeEventData(models.EventType(eventType), signal)
		if err != nil {
			return nil, fmt.Errorf("failed to decode stored signal: %w", err)
		}
		events = append(events, event)
	}
	return events, nil
}
