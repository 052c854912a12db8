package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"dealhealth/internal/constants"
)

// EnsureIndexes creates the indexes the promotion store queries depend on.
// Safe to run on every startup; existing indexes are left alone.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	promotionIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "merchant_id", Value: 1}, {Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("idx_promotions_merchant_updated"),
		},
		{
			Keys:    bson.D{{Key: "health_score", Value: 1}},
			Options: options.Index().SetName("idx_promotions_health_score"),
		},
	}
	if err := createIndexes(ctx, db.Collection(constants.CollectionPromotions), promotionIndexes); err != nil {
		return err
	}

	historyIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "promotion_id", Value: 1}, {Key: "processed_at", Value: -1}},
			Options: options.Index().SetName("idx_history_promotion_processed"),
		},
	}
	return createIndexes(ctx, db.Collection(constants.CollectionProcessingHistory), historyIndexes)
}

func createIndexes(ctx context.Context, collection *mongo.Collection, indexes []mongo.IndexModel) error {
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create indexes on %s: %w", collection.Name(), err)
	}
	return nil
}
