package extractor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealhealth/internal/config"
	"dealhealth/internal/logger"
	"dealhealth/pkg/models"
)

type stubProvider struct {
	response string
	err      error
	calls    int
}

func (p *stubProvider) Complete(ctx context.Context, prompt string) (string, error) {
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	return p.response, nil
}

func (p *stubProvider) Name() string { return "stub" }

func fastConfig() config.ExtractorConfig {
	return config.ExtractorConfig{
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	}
}

func TestExtractUsesProviderResponse(t *testing.T) {
	provider := &stubProvider{
		response: `{"conditions":["Minimum spend of $50"],"exclusions":[],"effectiveness":8,"confidence":9,"sentiment":"positive","keyPhrases":["worked instantly"]}`,
	}

	e := New(fastConfig(), provider, logger.NopLogger())
	result := e.Extract(context.Background(), "Worked instantly on my $60 order", 80)

	assert.False(t, result.FallbackUsed)
	assert.Equal(t, 8, result.StructuredData.Effectiveness)
	assert.Equal(t, models.SentimentPositive, result.StructuredData.Sentiment)
	assert.InDelta(t, 0.9, result.ConfidenceScore, 0.001)
	assert.Positive(t, result.HealthImpact)
	assert.False(t, result.ProcessedAt.IsZero())
}

func TestExtractStripsMarkdownFences(t *testing.T) {
	provider := &stubProvider{
		response: "```json\n{\"conditions\":[],\"exclusions\":[],\"effectiveness\":6,\"confidence\":7,\"sentiment\":\"neutral\",\"keyPhrases\":[]}\n```",
	}

	e := New(fastConfig(), provider, logger.NopLogger())
	result := e.Extract(context.Background(), "seems fine", 50)

	assert.False(t, result.FallbackUsed)
	assert.Equal(t, 6, result.StructuredData.Effectiveness)
	assert.Equal(t, 7, result.StructuredData.Confidence)
}

func TestExtractFallsBackWhenProviderUnreachable(t *testing.T) {
	provider := &stubProvider{err: errors.New("connection refused")}

	e := New(fastConfig(), provider, logger.NopLogger())
	result := e.Extract(context.Background(), "This code is expired and doesn't work anymore", 50)

	assert.True(t, result.FallbackUsed)
	assert.Equal(t, 2, provider.calls)
	assert.Equal(t, models.SentimentNegative, result.StructuredData.Sentiment)
	assert.Less(t, result.StructuredData.Effectiveness, 5)
	assert.Contains(t, result.StructuredData.Exclusions, "Code may be expired")
	assert.InDelta(t, fallbackConfidenceScore, result.ConfidenceScore, 0.001)
	assert.Negative(t, result.HealthImpact)
}

func TestExtractFallsBackOnUnparseableResponse(t *testing.T) {
	provider := &stubProvider{response: "I could not analyze this tip."}

	e := New(fastConfig(), provider, logger.NopLogger())
	result := e.Extract(context.Background(), "works great", 50)

	assert.True(t, result.FallbackUsed)
	assert.Equal(t, models.SentimentPositive, result.StructuredData.Sentiment)
	assert.Equal(t, 7, result.StructuredData.Effectiveness)
}

func TestExtractWithoutProviderUsesFallback(t *testing.T) {
	e := New(fastConfig(), nil, logger.NopLogger())
	result := e.Extract(context.Background(), "code worked great, applied without issues", 50)

	assert.True(t, result.FallbackUsed)
	assert.Equal(t, models.SentimentPositive, result.StructuredData.Sentiment)
	assert.Equal(t, 7, result.StructuredData.Effectiveness)
	assert.Empty(t, result.StructuredData.Exclusions)
}

func TestFallbackExtractDetectsConditions(t *testing.T) {
	data := fallbackExtract("Only works on sale items over $100 for first time customers")

	assert.ElementsMatch(t, []string{
		"Minimum spend required",
		"Only works on sale items",
		"First-time customers only",
	}, data.Conditions)
	// "works" counts as positive; conditions knock effectiveness down.
	assert.Equal(t, 6, data.Effectiveness)
	assert.Equal(t, 5, data.Confidence)
}

func TestFallbackExtractFloorsEffectiveness(t *testing.T) {
	data := fallbackExtract("expired, broken, invalid, doesn't work on sale or clearance items, minimum spend applies")

	assert.Equal(t, models.SentimentNegative, data.Sentiment)
	// 3 base, -2 exclusions, -1 conditions, floored at 1.
	assert.Equal(t, 1, data.Effectiveness)
	assert.Contains(t, data.Exclusions, "Excludes clearance items")
}

func TestFallbackExtractNeutralWhenBalanced(t *testing.T) {
	data := fallbackExtract("Nothing to report here")

	assert.Equal(t, models.SentimentNeutral, data.Sentiment)
	assert.Equal(t, 5, data.Effectiveness)
	assert.Empty(t, data.Conditions)
	assert.Empty(t, data.Exclusions)
}

func TestHealthImpactClampedAndSigned(t *testing.T) {
	tests := []struct {
		name       string
		data       models.StructuredTipData
		reputation int
		check      func(t *testing.T, impact float64)
	}{
		{
			name:       "strong positive clamps below one",
			data:       models.StructuredTipData{Effectiveness: 10, Confidence: 10, Sentiment: models.SentimentPositive},
			reputation: 100,
			check: func(t *testing.T, impact float64) {
				assert.InDelta(t, 1.0, impact, 0.001)
			},
		},
		{
			name:       "negative sentiment dampens magnitude",
			data:       models.StructuredTipData{Effectiveness: 1, Confidence: 10, Sentiment: models.SentimentNegative},
			reputation: 50,
			check: func(t *testing.T, impact float64) {
				assert.Negative(t, impact)
				assert.GreaterOrEqual(t, impact, -1.0)
			},
		},
		{
			name:       "middling judgment has no impact",
			data:       models.StructuredTipData{Effectiveness: 5, Confidence: 5, Sentiment: models.SentimentNeutral},
			reputation: 50,
			check: func(t *testing.T, impact float64) {
				assert.Zero(t, impact)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, healthImpact(tt.data, tt.reputation))
		})
	}
}

func TestParseProviderResponseDefaultsOutOfRangeValues(t *testing.T) {
	data, err := parseProviderResponse(`{"effectiveness":42,"confidence":-3,"sentiment":"ecstatic"}`)
	require.NoError(t, err)

	assert.Equal(t, 5, data.Effectiveness)
	assert.Equal(t, 5, data.Confidence)
	assert.Equal(t, models.SentimentNeutral, data.Sentiment)
	assert.NotNil(t, data.Conditions)
	assert.NotNil(t, data.KeyPhrases)
}

func TestParseProviderResponseRejectsNonJSON(t *testing.T) {
	_, err := parseProviderResponse("not a json document")
	require.Error(t, err)
}
