package scoring

import (
	"math"
	"time"

	"dealhealth/internal/config"
	"dealhealth/internal/constants"
	"dealhealth/pkg/models"
)

const (
	// minDecayFactor keeps an aged event from ever contributing exactly
	// zero, so scores shift continuously as evidence ages out.
	minDecayFactor = 0.1

	// weightSaturation is the total adjusted weight at which the score is
	// no longer pulled back toward neutral.
	weightSaturation = 2.0

	// confidenceSaturation is the total adjusted weight treated as full
	// evidence for the weight half of the confidence score.
	confidenceSaturation = 10.0

	distinctEventKinds = 3
)

// Engine converts a set of verification events into a health score and a
// confidence value. It is pure: no I/O, no shared state. Config updates mean
// constructing a new engine, not mutating one in flight.
type Engine struct {
	cfg config.ScoringConfig
	now func() time.Time
}

func NewEngine(cfg config.ScoringConfig) *Engine {
	return &Engine{cfg: cfg, now: time.Now}
}

// Calculate returns the health score (0-100) and confidence (0-1) for the
// given events. An empty input yields the neutral prior (50, 0.0).
func (e *Engine) Calculate(events []models.VerificationEvent) (int, float64) {
	if len(events) == 0 {
		return constants.NeutralHealthScore, 0.0
	}

	now := e.now().UTC()

	var totalWeight, weightedSum float64
	kinds := make(map[models.EventType]struct{}, distinctEventKinds)

	for _, event := range events {
		adjusted := e.eventWeight(event) * e.temporalDecay(event.OccurredAt(), now)
		if adjusted <= 0 {
			continue
		}

		if isPositive(event) {
			weightedSum += adjusted
		} else {
			weightedSum -= adjusted
		}
		totalWeight += adjusted
		kinds[event.Type()] = struct{}{}
	}

	if totalWeight == 0 {
		return constants.NeutralHealthScore, 0.0
	}

	// rawScore is in [-1, 1]; map to [0, 100], then pull sparse or stale
	// evidence back toward neutral so one weak signal cannot produce an
	// extreme score.
	rawScore := weightedSum / totalWeight
	mapped := 50 + 50*rawScore

	weightFactor := math.Min(1.0, totalWeight/weightSaturation)
	scaled := 50 + (mapped-50)*weightFactor

	score := int(math.Max(0, math.Min(100, scaled)))

	weightConfidence := math.Min(1.0, totalWeight/confidenceSaturation)
	diversityConfidence := math.Min(1.0, float64(len(kinds))/distinctEventKinds)
	confidence := (weightConfidence + diversityConfidence) / 2.0

	return score, confidence
}

// eventWeight is the configured base weight for the event's kind times a
// reliability factor derived from the event itself.
func (e *Engine) eventWeight(event models.VerificationEvent) float64 {
	switch ev := event.(type) {
	case models.AutomatedTestResult:
		weight := e.cfg.AutomatedTestWeight
		if ev.Success {
			weight *= 1.2
		} else {
			weight *= 0.8
		}
		return weight

	case models.CommunityVerification:
		return e.cfg.CommunityVerificationWeight * float64(ev.VerifierReputation) / 100.0

	case models.CommunityTip:
		weight := e.cfg.CommunityTipWeight * float64(ev.Reputation()) / 100.0
		if ev.ConfidenceScore > 0 {
			weight *= ev.ConfidenceScore
		}
		return weight
	}

	return 0
}

// temporalDecay is exp(-decayRate * ageDays) floored at minDecayFactor.
// Events dated in the future decay at 1.0 rather than amplifying.
func (e *Engine) temporalDecay(occurredAt, now time.Time) float64 {
	ageDays := now.Sub(occurredAt.UTC()).Hours() / 24
	if ageDays < 0 {
		return 1.0
	}

	decay := math.Exp(-e.cfg.DecayRatePerDay * ageDays)
	return math.Max(minDecayFactor, math.Min(1.0, decay))
}

// isPositive reports whether the event argues for the promotion working.
// Tips without structured data default to positive; the extractor's judgment
// takes over once present.
func isPositive(event models.VerificationEvent) bool {
	switch ev := event.(type) {
	case models.AutomatedTestResult:
		return ev.Success
	case models.CommunityVerification:
		return ev.IsValid
	case models.CommunityTip:
		if ev.StructuredData != nil {
			return ev.StructuredData.Effectiveness > 5
		}
		return true
	}
	return true
}
