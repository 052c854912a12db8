package promotion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"dealhealth/internal/constants"
)

// Store persists promotion states and their processing history. Get returns
// (nil, nil) when the promotion does not exist.
type Store interface {
	Get(ctx context.Context, promotionID string) (*State, error)
	Create(ctx context.Context, state *State) error
	Update(ctx context.Context, state *State) error
	AppendHistory(ctx context.Context, result *EventProcessingResult) error
	GetHistory(ctx context.Context, promotionID string, limit int) ([]EventProcessingResult, error)
	ListByMerchant(ctx context.Context, merchantID int64) ([]State, error)
	ListByHealthRange(ctx context.Context, minHealth, maxHealth int) ([]State, error)
}

type mongoStore struct {
	promotions *mongo.Collection
	history    *mongo.Collection
}

func NewMongoStore(db *mongo.Database) Store {
	return &mongoStore{
		promotions: db.Collection(constants.CollectionPromotions),
		history:    db.Collection(constants.CollectionProcessingHistory),
	}
}

func (s *mongoStore) Get(ctx context.Context, promotionID string) (*State, error) {
	filter := bson.M{"_id": promotionID}

	var state State
	err := s.promotions.FindOne(ctx, filter).Decode(&state)
	if err == mongo.ErrNoDocuments {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get promotion: %w", err)
	}

	return &state, nil
}

func (s *mongoStore) Create(ctx context.Context, state *State) error {
	now := time.Now().UTC()
	state.CreatedAt = now
	state.UpdatedAt = now

	_, err := s.promotions.InsertOne(ctx, state)
	if err != nil {
		return fmt.Errorf("failed to create promotion: %w", err)
	}

	return nil
}

func (s *mongoStore) Update(ctx context.Context, state *State) error {
	state.UpdatedAt = time.Now().UTC()

	filter := bson.M{"_id": state.ID}
	update := bson.M{"$set": state}

	result, err := s.promotions.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update promotion: %w", err)
	}

	if result.MatchedCount == 0 {
		return fmt.Errorf("promotion not found: %s", state.ID)
	}

	return nil
}

func (s *mongoStore) AppendHistory(ctx context.Context, result *EventProcessingResult) error {
	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	if result.ProcessedAt.IsZero() {
		result.ProcessedAt = time.Now().UTC()
	}

	_, err := s.history.InsertOne(ctx, result)
	if err != nil {
		return fmt.Errorf("failed to store processing result: %w", err)
	}

	return nil
}

func (s *mongoStore) GetHistory(ctx context.Context, promotionID string, limit int) ([]EventProcessingResult, error) {
	if limit <= 0 {
		limit = constants.DefaultHistoryLimit
	}

	filter := bson.M{"promotion_id": promotionID}
	opts := options.Find().
		SetSort(bson.D{{Key: "processed_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.history.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get promotion history: %w", err)
	}
	defer cursor.Close(ctx)

	var results []EventProcessingResult
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode promotion history: %w", err)
	}

	return results, nil
}

func (s *mongoStore) ListByMerchant(ctx context.Context, merchantID int64) ([]State, error) {
	filter := bson.M{"merchant_id": merchantID}
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})

	cursor, err := s.promotions.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list merchant promotions: %w", err)
	}
	defer cursor.Close(ctx)

	var states []State
	if err := cursor.All(ctx, &states); err != nil {
		return nil, fmt.Errorf("failed to decode merchant promotions: %w", err)
	}

	return states, nil
}

func (s *mongoStore) ListByHealthRange(ctx context.Context, minHealth, maxHealth int) ([]State, error) {
	filter := bson.M{"health_score": bson.M{"$gte": minHealth, "$lte": maxHealth}}
	opts := options.Find().SetSort(bson.D{{Key: "health_score", Value: 1}})

	cursor, err := s.promotions.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list promotions by health range: %w", err)
	}
	defer cursor.Close(ctx)

	var states []State
	if err := cursor.All(ctx, &states); err != nil {
		return nil, fmt.Errorf("failed to decode promotions: %w", err)
	}

	return states, nil
}
