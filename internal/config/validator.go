package config

import (
	"fmt"
	"math"

	"dealhealth/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errors = append(errors, err)
	}

	if err := validateScoring(cfg.Scoring); err != nil {
		errors = append(errors, err)
	}

	if err := validatePipeline(cfg.Pipeline); err != nil {
		errors = append(errors, err)
	}

	if err := validateExtractor(cfg.Extractor); err != nil {
		errors = append(errors, err)
	}

	if err := validateDeduplication(cfg.Deduplication); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

// Warnings reports non-fatal configuration oddities. The weight-sum check is
// deliberately soft: operators may run unnormalized weights while tuning.
func Warnings(cfg *Config) []string {
	var warnings []string

	sum := cfg.Scoring.AutomatedTestWeight + cfg.Scoring.CommunityVerificationWeight + cfg.Scoring.CommunityTipWeight
	if math.Abs(sum-1.0) > 0.05 {
		warnings = append(warnings, fmt.Sprintf("scoring weights sum to %.3f, expected approximately 1.0", sum))
	}

	if cfg.Extractor.Provider == constants.ProviderNone {
		warnings = append(warnings, "no reasoning provider configured, community tips will use the keyword fallback only")
	}

	return warnings
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port != 0 && (cfg.Port < 1 || cfg.Port > 65535) {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.Type != "kafka" {
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type '%s', only 'kafka' is supported", cfg.Type),
		}
	}

	if len(cfg.Kafka.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one broker address is required",
		}
	}

	return nil
}

func validateScoring(cfg ScoringConfig) error {
	weights := map[string]float64{
		"scoring.automated_test_weight":         cfg.AutomatedTestWeight,
		"scoring.community_verification_weight": cfg.CommunityVerificationWeight,
		"scoring.community_tip_weight":          cfg.CommunityTipWeight,
	}

	for field, w := range weights {
		if w < 0 || w > 1 {
			return &ValidationError{
				Field:   field,
				Message: fmt.Sprintf("weight must be between 0 and 1, got %g", w),
			}
		}
	}

	if cfg.DecayRatePerDay < 0 {
		return &ValidationError{
			Field:   "scoring.decay_rate_per_day",
			Message: "decay rate must not be negative",
		}
	}

	if cfg.MaxEventAgeDays <= 0 {
		return &ValidationError{
			Field:   "scoring.max_event_age_days",
			Message: "max event age must be positive",
		}
	}

	return nil
}

func validatePipeline(cfg PipelineConfig) error {
	if cfg.BatchSize <= 0 {
		return &ValidationError{
			Field:   "pipeline.batch_size",
			Message: "batch size must be positive",
		}
	}

	if cfg.MaxConcurrentMessages <= 0 {
		return &ValidationError{
			Field:   "pipeline.max_concurrent_messages",
			Message: "max concurrent messages must be positive",
		}
	}

	if cfg.MaxDeliveryAttempts <= 0 {
		return &ValidationError{
			Field:   "pipeline.max_delivery_attempts",
			Message: "max delivery attempts must be positive",
		}
	}

	if cfg.RetryBaseDelay <= 0 || cfg.MaxRetryDelay < cfg.RetryBaseDelay {
		return &ValidationError{
			Field:   "pipeline.retry_base_delay",
			Message: "retry delays must be positive and max_retry_delay must not be below retry_base_delay",
		}
	}

	return nil
}

func validateExtractor(cfg ExtractorConfig) error {
	switch cfg.Provider {
	case constants.ProviderOpenAI, constants.ProviderAnthropic, constants.ProviderNone:
	default:
		return &ValidationError{
			Field:   "extractor.provider",
			Message: fmt.Sprintf("unknown provider '%s'", cfg.Provider),
		}
	}

	if cfg.Provider != constants.ProviderNone && cfg.MaxRetries <= 0 {
		return &ValidationError{
			Field:   "extractor.max_retries",
			Message: "max retries must be positive",
		}
	}

	return nil
}

func validateDeduplication(cfg DeduplicationConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.TTLSeconds <= 0 {
		return &ValidationError{
			Field:   "deduplication.ttl_seconds",
			Message: "ttl must be positive",
		}
	}

	switch cfg.OnRedisError {
	case constants.FallbackAllow, constants.FallbackDeny:
	default:
		return &ValidationError{
			Field:   "deduplication.on_redis_error",
			Message: fmt.Sprintf("must be '%s' or '%s', got '%s'", constants.FallbackAllow, constants.FallbackDeny, cfg.OnRedisError),
		}
	}

	return nil
}
