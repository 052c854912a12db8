package promotion

import (
	"time"

	"dealhealth/internal/constants"
	"dealhealth/pkg/models"
)

// State is the persisted record for one promotion. Scores are derived from
// the raw verification signals kept alongside them, so a score can always be
// recomputed from the stored events.
type State struct {
	ID                          string                   `bson:"_id" json:"id"`
	MerchantID                  int64                    `bson:"merchant_id" json:"merchantId"`
	Title                       string                   `bson:"title" json:"title"`
	Code                        string                   `bson:"code,omitempty" json:"code,omitempty"`
	HealthScore                 int                      `bson:"health_score" json:"healthScore"`
	ConfidenceScore             float64                  `bson:"confidence_score" json:"confidenceScore"`
	RawVerificationSignals      []map[string]interface{} `bson:"raw_verification_signals" json:"rawVerificationSignals"`
	LastVerifiedAt              *time.Time               `bson:"last_verified_at,omitempty" json:"lastVerifiedAt,omitempty"`
	LastVerificationSource      string                   `bson:"last_verification_source,omitempty" json:"lastVerificationSource,omitempty"`
	TotalVerifications          int                      `bson:"total_verifications" json:"totalVerifications"`
	SuccessfulVerifications     int                      `bson:"successful_verifications" json:"successfulVerifications"`
	LastAutomatedTestAt         *time.Time               `bson:"last_automated_test_at,omitempty" json:"lastAutomatedTestAt,omitempty"`
	LastCommunityVerificationAt *time.Time               `bson:"last_community_verification_at,omitempty" json:"lastCommunityVerificationAt,omitempty"`
	CreatedAt                   time.Time                `bson:"created_at" json:"createdAt"`
	UpdatedAt                   time.Time                `bson:"updated_at" json:"updatedAt"`
}

// NewState returns a promotion at the neutral starting point, before any
// verification evidence has arrived.
func NewState(promotionID string, merchantID int64) *State {
	now := time.Now().UTC()
	return &State{
		ID:                     promotionID,
		MerchantID:             merchantID,
		Title:                  "Promotion " + promotionID,
		HealthScore:            constants.NeutralHealthScore,
		ConfidenceScore:        0.0,
		RawVerificationSignals: []map[string]interface{}{},
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

// HealthScoreUpdate reports the outcome of one scoring pass.
type HealthScoreUpdate struct {
	PromotionID     string  `json:"promotionId"`
	OldScore        int     `json:"oldScore"`
	NewScore        int     `json:"newScore"`
	ChangeReason    string  `json:"changeReason"`
	EventsProcessed int     `json:"eventsProcessed"`
	ConfidenceScore float64 `json:"confidenceScore"`
}

// EventProcessingResult is one audit-trail entry, stored per event.
type EventProcessingResult struct {
	ID                string           `bson:"_id" json:"id"`
	PromotionID       string           `bson:"promotion_id" json:"promotionId"`
	EventType         models.EventType `bson:"event_type" json:"eventType"`
	ProcessedAt       time.Time        `bson:"processed_at" json:"processedAt"`
	HealthScoreBefore int              `bson:"health_score_before" json:"healthScoreBefore"`
	HealthScoreAfter  int              `bson:"health_score_after" json:"healthScoreAfter"`
	Success           bool             `bson:"success" json:"success"`
	ErrorMessage      string           `bson:"error_message,omitempty" json:"errorMessage,omitempty"`
}
