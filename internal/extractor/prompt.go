package extractor

import (
	"encoding/json"
	"fmt"
	"strings"

	"dealhealth/pkg/models"
)

func buildAnalysisPrompt(tipText string) string {
	return fmt.Sprintf(`Analyze the following community tip about a promotion and extract structured information:

Tip: %q

Extract the following information in JSON format:
{
    "conditions": ["List of conditions that must be met (e.g., minimum spend, specific items)"],
    "exclusions": ["List of exclusions or limitations"],
    "effectiveness": <number 1-10 indicating how well the promotion works>,
    "confidence": <number 1-10 indicating your confidence in this analysis>,
    "sentiment": "<positive|negative|neutral>",
    "keyPhrases": ["Important phrases or keywords from the tip"]
}

Rules:
- effectiveness: 1=completely broken, 5=neutral, 10=works perfectly
- confidence: 1=very uncertain, 10=very confident
- Return only valid JSON, no additional text
- If unclear, use neutral values (effectiveness=5, confidence=5)`, tipText)
}

// parseProviderResponse validates the provider's JSON, tolerating markdown
// code fences around the payload. Out-of-range or missing numeric fields
// default to neutral rather than failing the whole extraction.
func parseProviderResponse(response string) (models.StructuredTipData, error) {
	raw := strings.TrimSpace(response)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var data models.StructuredTipData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return models.StructuredTipData{}, fmt.Errorf("invalid provider response format: %w", err)
	}

	if data.Effectiveness < 1 || data.Effectiveness > 10 {
		data.Effectiveness = 5
	}
	if data.Confidence < 1 || data.Confidence > 10 {
		data.Confidence = 5
	}
	switch data.Sentiment {
	case models.SentimentPositive, models.SentimentNegative, models.SentimentNeutral:
	default:
		data.Sentiment = models.SentimentNeutral
	}
	if data.Conditions == nil {
		data.Conditions = []string{}
	}
	if data.Exclusions == nil {
		data.Exclusions = []string{}
	}
	if data.KeyPhrases == nil {
		data.KeyPhrases = []string{}
	}

	return data, nil
}
