package promotion

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"dealhealth/internal/constants"
)

// MemoryStore is an in-process Store used by tests and local runs without a
// database.
type MemoryStore struct {
	mu      sync.RWMutex
	states  map[string]State
	history map[string][]EventProcessingResult
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:  make(map[string]State),
		history: make(map[string][]EventProcessingResult),
	}
}

func (s *MemoryStore) Get(ctx context.Context, promotionID string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[promotionID]
	if !ok {
		return nil, nil
	}
	copied := state
	return &copied, nil
}

func (s *MemoryStore) Create(ctx context.Context, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.states[state.ID]; exists {
		return fmt.Errorf("promotion already exists: %s", state.ID)
	}

	now := time.Now().UTC()
	state.CreatedAt = now
	state.UpdatedAt = now
	s.states[state.ID] = *state
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.states[state.ID]; !exists {
		return fmt.Errorf("promotion not found: %s", state.ID)
	}

	state.UpdatedAt = time.Now().UTC()
	s.states[state.ID] = *state
	return nil
}

func (s *MemoryStore) AppendHistory(ctx context.Context, result *EventProcessingResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	if result.ProcessedAt.IsZero() {
		result.ProcessedAt = time.Now().UTC()
	}

	s.history[result.PromotionID] = append(s.history[result.PromotionID], *result)
	return nil
}

func (s *MemoryStore) GetHistory(ctx context.Context, promotionID string, limit int) ([]EventProcessingResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = constants.DefaultHistoryLimit
	}

	entries := s.history[promotionID]
	results := make([]EventProcessingResult, len(entries))
	copy(results, entries)

	// Newest first, matching the database store.
	sort.Slice(results, func(i, j int) bool {
		return results[i].ProcessedAt.After(results[j].ProcessedAt)
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *MemoryStore) ListByMerchant(ctx context.Context, merchantID int64) ([]State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var states []State
	for _, state := range s.states {
		if state.MerchantID == merchantID {
			states = append(states, state)
		}
	}

	sort.Slice(states, func(i, j int) bool {
		return states[i].UpdatedAt.After(states[j].UpdatedAt)
	})
	return states, nil
}

func (s *MemoryStore) ListByHealthRange(ctx context.Context, minHealth, maxHealth int) ([]State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var states []State
	for _, state := range s.states {
		if state.HealthScore >= minHealth && state.HealthScore <= maxHealth {
			states = append(states, state)
		}
	}

	sort.Slice(states, func(i, j int) bool {
		return states[i].HealthScore < states[j].HealthScore
	})
	return states, nil
}
