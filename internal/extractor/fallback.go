package extractor

import (
	"strings"

	"dealhealth/pkg/models"
)

var (
	positiveKeywords = []string{"works", "great", "good", "valid", "successful", "applied"}
	negativeKeywords = []string{"broken", "invalid", "expired", "doesn't work", "failed"}
)

// fallbackExtract is the deterministic keyword heuristic used when the
// reasoning provider is unusable. It produces the same structured shape as
// the provider path, at medium structured confidence.
func fallbackExtract(tipText string) models.StructuredTipData {
	text := strings.ToLower(tipText)

	conditions := []string{}
	if strings.Contains(text, "over $") || strings.Contains(text, "minimum") || strings.Contains(text, "spend") {
		conditions = append(conditions, "Minimum spend required")
	}
	if strings.Contains(text, "sale") {
		conditions = append(conditions, "Only works on sale items")
	}
	if strings.Contains(text, "first time") || strings.Contains(text, "new customer") {
		conditions = append(conditions, "First-time customers only")
	}

	exclusions := []string{}
	if strings.Contains(text, "expired") || strings.Contains(text, "doesn't work") {
		exclusions = append(exclusions, "Code may be expired")
	}
	if strings.Contains(text, "electronics") {
		exclusions = append(exclusions, "Excludes electronics")
	}
	if strings.Contains(text, "clearance") {
		exclusions = append(exclusions, "Excludes clearance items")
	}

	positiveCount := 0
	for _, word := range positiveKeywords {
		if strings.Contains(text, word) {
			positiveCount++
		}
	}
	negativeCount := 0
	for _, word := range negativeKeywords {
		if strings.Contains(text, word) {
			negativeCount++
		}
	}

	var effectiveness int
	var sentiment models.Sentiment
	switch {
	case positiveCount > negativeCount:
		effectiveness = 7
		sentiment = models.SentimentPositive
	case negativeCount > positiveCount:
		effectiveness = 3
		sentiment = models.SentimentNegative
	default:
		effectiveness = 5
		sentiment = models.SentimentNeutral
	}

	// Restrictions make a promotion less useful; requirements make it less
	// convenient.
	if len(exclusions) > 0 {
		effectiveness -= 2
	}
	if len(conditions) > 0 {
		effectiveness--
	}
	if effectiveness < 1 {
		effectiveness = 1
	}

	return models.StructuredTipData{
		Conditions:    conditions,
		Exclusions:    exclusions,
		Effectiveness: effectiveness,
		Confidence:    5,
		Sentiment:     sentiment,
		KeyPhrases:    []string{},
	}
}
