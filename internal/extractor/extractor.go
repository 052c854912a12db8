package extractor

import (
	"context"
	"time"

	"dealhealth/internal/config"
	"dealhealth/internal/logger"
	"dealhealth/pkg/circuitbreaker"
	"dealhealth/pkg/metrics"
	"dealhealth/pkg/models"
	"dealhealth/pkg/retry"
)

// fallbackConfidenceScore marks results produced by the keyword heuristic.
const fallbackConfidenceScore = 0.3

// ReasoningProvider is the external capability that turns free text into a
// structured judgment. Implementations fail with transport or timeout
// errors; the extractor owns retries and degradation.
type ReasoningProvider interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Name() string
}

// Result is the outcome of processing one tip. Always populated: when the
// provider is unreachable the keyword fallback substitutes with reduced
// confidence.
type Result struct {
	StructuredData  models.StructuredTipData
	HealthImpact    float64
	ConfidenceScore float64
	FallbackUsed    bool
	ProcessedAt     time.Time
}

// Extractor runs the two-stage strategy: provider with retry/backoff first,
// keyword heuristic second. Callers never see an error.
type Extractor struct {
	provider ReasoningProvider
	breaker  *circuitbreaker.Wrapper
	policy   retry.Policy
	logger   logger.Logger
}

func New(cfg config.ExtractorConfig, provider ReasoningProvider, log logger.Logger) *Extractor {
	policy := retry.Policy{
		MaxAttempts:     cfg.MaxRetries,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
		Multiplier:      2.0,
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = 1 * time.Second
	}
	if policy.MaxInterval <= 0 {
		policy.MaxInterval = 30 * time.Second
	}

	return &Extractor{
		provider: provider,
		policy:   policy,
		logger:   log,
	}
}

// NewWithBreaker wraps provider calls in a circuit breaker so a dead
// provider short-circuits to the fallback instead of burning the retry
// budget on every tip.
func NewWithBreaker(cfg config.ExtractorConfig, provider ReasoningProvider, cbCfg config.CircuitBreakerConfig, log logger.Logger) *Extractor {
	e := New(cfg, provider, log)

	breakerCfg := circuitbreaker.DefaultConfig("tip-extractor")
	if cbCfg.MaxRequests > 0 {
		breakerCfg.MaxRequests = cbCfg.MaxRequests
	}
	if cbCfg.Interval > 0 {
		breakerCfg.Interval = cbCfg.Interval
	}
	if cbCfg.Timeout > 0 {
		breakerCfg.Timeout = cbCfg.Timeout
	}
	e.breaker = circuitbreaker.NewWrapper(breakerCfg)

	return e
}

// Extract produces the structured judgment and health impact for one tip.
func (e *Extractor) Extract(ctx context.Context, tipText string, userReputation int) Result {
	if e.provider != nil {
		data, err := e.extractFromProvider(ctx, tipText)
		if err == nil {
			return Result{
				StructuredData:  data,
				HealthImpact:    healthImpact(data, userReputation),
				ConfidenceScore: float64(data.Confidence) / 10.0,
				ProcessedAt:     time.Now().UTC(),
			}
		}

		e.logger.WarnwCtx(ctx, "Tip extraction degraded to keyword fallback",
			"error", err,
			"provider", e.provider.Name(),
		)
		metrics.FallbackUsageTotal.WithLabelValues("extractor", "provider_failed").Inc()
	} else {
		metrics.FallbackUsageTotal.WithLabelValues("extractor", "no_provider").Inc()
	}

	data := fallbackExtract(tipText)
	return Result{
		StructuredData:  data,
		HealthImpact:    healthImpact(data, userReputation),
		ConfidenceScore: fallbackConfidenceScore,
		FallbackUsed:    true,
		ProcessedAt:     time.Now().UTC(),
	}
}

func (e *Extractor) extractFromProvider(ctx context.Context, tipText string) (models.StructuredTipData, error) {
	prompt := buildAnalysisPrompt(tipText)

	var data models.StructuredTipData
	err := retry.RetryWithCallback(ctx, e.policy, func() error {
		start := time.Now()
		response, err := e.complete(ctx, prompt)
		metrics.ObserveExtractionDuration(e.provider.Name(), time.Since(start))

		if err != nil {
			metrics.ExtractionRequestsTotal.WithLabelValues(e.provider.Name(), "error").Inc()
			return err
		}

		parsed, err := parseProviderResponse(response)
		if err != nil {
			metrics.ExtractionRequestsTotal.WithLabelValues(e.provider.Name(), "unparseable").Inc()
			return err
		}

		metrics.ExtractionRequestsTotal.WithLabelValues(e.provider.Name(), "success").Inc()
		data = parsed
		return nil
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues("extractor").Inc()
		e.logger.WarnwCtx(ctx, "Retrying tip extraction",
			"attempt", attempt,
			"max_attempts", e.policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
		)
	})
	if err != nil {
		return models.StructuredTipData{}, err
	}

	return data, nil
}

func (e *Extractor) complete(ctx context.Context, prompt string) (string, error) {
	if e.breaker == nil {
		return e.provider.Complete(ctx, prompt)
	}

	result, err := e.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
		return e.provider.Complete(ctx, prompt)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// healthImpact maps a structured judgment onto [-1, 1]. Used identically for
// provider and fallback results.
func healthImpact(data models.StructuredTipData, userReputation int) float64 {
	effectivenessImpact := float64(data.Effectiveness-5) / 5.0
	confidenceMultiplier := float64(data.Confidence) / 10.0
	reputationMultiplier := 0.5 + float64(userReputation)/100.0

	sentimentMultiplier := 1.0
	switch data.Sentiment {
	case models.SentimentPositive:
		sentimentMultiplier = 1.2
	case models.SentimentNegative:
		sentimentMultiplier = 0.8
	}

	impact := effectivenessImpact * confidenceMultiplier * reputationMultiplier * sentimentMultiplier

	if impact > 1.0 {
		return 1.0
	}
	if impact < -1.0 {
		return -1.0
	}
	return impact
}
